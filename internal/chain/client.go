// Package chain anchors metric payloads to an IPFS node and a chain RPC
// endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Config holds client configuration. IPFSURL points at an IPFS HTTP API;
// RPCURL at a JSON-RPC chain node. RPCURL may be empty, in which case anchors
// stop at the content hash.
type Config struct {
	IPFSURL string
	RPCURL  string
	Timeout time.Duration
}

// Client talks to the content store and the chain node.
type Client struct {
	ipfsURL    string
	rpcURL     string
	httpClient *http.Client
}

// NewClient creates a chain client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.IPFSURL == "" {
		return nil, fmt.Errorf("IPFS URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		ipfsURL: cfg.IPFSURL,
		rpcURL:  cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes a JSON-RPC call to the chain node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// Anchor stores the metric payload on IPFS and, when a chain node is
// configured, records the resulting content id on chain. It returns the chain
// transaction hash, or the content id when anchoring stops at IPFS.
func (c *Client) Anchor(ctx context.Context, athleteUUID, metricName string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"athlete_uuid": athleteUUID,
		"metric_name":  metricName,
		"recorded_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	cid, err := c.addToIPFS(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	if c.rpcURL == "" {
		return cid, nil
	}

	result, err := c.Call(ctx, "anchor_put", []interface{}{cid})
	if err != nil {
		return "", fmt.Errorf("chain anchor: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("unmarshal anchor result: %w", err)
	}
	return txHash, nil
}

// addToIPFS uploads content through the IPFS HTTP API and returns its hash.
func (c *Client) addToIPFS(ctx context.Context, content []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "metric.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.ipfsURL+"/api/v0/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var added struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("decode add response: %w", err)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("add response missing hash")
	}
	return added.Hash, nil
}
