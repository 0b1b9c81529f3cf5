package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/athledger/platform/pkg/logger"
)

// webhookTolerance bounds how stale a webhook timestamp may be.
const webhookTolerance = 5 * time.Minute

// WebhookVerifier checks svix-scheme signatures on identity provider
// webhooks: HMAC-SHA256 over "<id>.<timestamp>.<body>" with a shared secret.
type WebhookVerifier struct {
	secret []byte
	log    *logger.Logger
	now    func() time.Time
}

// NewWebhookVerifier creates a verifier from the provider's signing secret.
// The conventional "whsec_" prefix wraps a base64-encoded key.
func NewWebhookVerifier(secret string, log *logger.Logger) (*WebhookVerifier, error) {
	if log == nil {
		log = logger.NewDefault("webhook")
	}

	raw := strings.TrimPrefix(secret, "whsec_")
	if raw == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}

	return &WebhookVerifier{secret: key, log: log, now: time.Now}, nil
}

// Handler verifies the signature headers before the webhook handler runs. The
// request body is re-buffered so downstream handlers can read it again.
func (v *WebhookVerifier) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msgID := r.Header.Get("svix-id")
		timestamp := r.Header.Get("svix-timestamp")
		signatures := r.Header.Get("svix-signature")
		if msgID == "" || timestamp == "" || signatures == "" {
			v.reject(w, r, "missing signature headers")
			return
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			v.reject(w, r, "malformed timestamp")
			return
		}
		if age := v.now().Sub(time.Unix(ts, 0)); age > webhookTolerance || age < -webhookTolerance {
			v.reject(w, r, "timestamp outside tolerance")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			v.reject(w, r, "unreadable body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !v.verify(msgID, timestamp, body, signatures) {
			v.reject(w, r, "signature mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// verify checks the expected signature against each candidate in the
// space-separated, versioned signature header.
func (v *WebhookVerifier) verify(msgID, timestamp string, body []byte, signatures string) bool {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.%s", msgID, timestamp, body)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(signatures) {
		parts := strings.SplitN(candidate, ",", 2)
		if len(parts) != 2 || parts[0] != "v1" {
			continue
		}
		sig, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}

func (v *WebhookVerifier) reject(w http.ResponseWriter, r *http.Request, reason string) {
	v.log.LogSecurityEvent(r.Context(), "webhook_rejected", map[string]interface{}{
		"reason": reason,
		"path":   r.URL.Path,
	})
	writeErrorEnvelope(w, http.StatusUnauthorized, "webhook signature verification failed")
}
