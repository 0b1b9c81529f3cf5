package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	app "github.com/athledger/platform/internal/app"
	"github.com/athledger/platform/pkg/logger"
)

func newTestHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })

	handler, err := NewHandler(application, opts)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func marshal(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func do(t *testing.T, h http.Handler, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got error %q", env.Error)
	}
	// Empty collections are omitted from the envelope entirely.
	if dst != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
	}
}

func createTestUser(t *testing.T, h http.Handler, username string, athlete bool) map[string]interface{} {
	t.Helper()
	body := marshal(t, map[string]interface{}{
		"uuid":       "uuid-" + username,
		"username":   username,
		"email":      username + "@example.com",
		"is_athlete": athlete,
	})
	resp := do(t, h, http.MethodPost, "/api/users", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create user %s: expected 201, got %d: %s", username, resp.Code, resp.Body.String())
	}
	var u map[string]interface{}
	decodeData(t, resp, &u)
	return u
}

func createTestPerformance(t *testing.T, h http.Handler, athleteUUID, metric string, private bool) string {
	t.Helper()
	body := marshal(t, map[string]interface{}{
		"athlete_uuid": athleteUUID,
		"metric_name":  metric,
		"is_private":   private,
	})
	resp := do(t, h, http.MethodPost, "/api/performances", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create performance: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var p struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &p)
	return p.ID
}

func TestUserEndpoints(t *testing.T) {
	h := newTestHandler(t, Options{})

	created := createTestUser(t, h, "alice", true)
	if created["uuid"] != "uuid-alice" {
		t.Fatalf("unexpected uuid: %v", created["uuid"])
	}

	// Duplicate usernames are rejected.
	resp := do(t, h, http.MethodPost, "/api/users", marshal(t, map[string]interface{}{
		"uuid":     "uuid-other",
		"username": "alice",
		"email":    "other@example.com",
	}))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodGet, "/api/users?username=alice", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("lookup by username: expected 200, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodGet, "/api/users?email=ALICE@example.com", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("lookup by email should be case-insensitive, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodPatch, "/api/users/uuid-alice", marshal(t, map[string]interface{}{
		"wallet_id": "0xabc",
	}))
	if resp.Code != http.StatusOK {
		t.Fatalf("patch user: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var patched map[string]interface{}
	decodeData(t, resp, &patched)
	if patched["wallet_id"] != "0xabc" {
		t.Fatalf("expected wallet update, got %v", patched["wallet_id"])
	}

	resp = do(t, h, http.MethodDelete, "/api/users/uuid-alice", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete user: expected 200, got %d", resp.Code)
	}
	resp = do(t, h, http.MethodGet, "/api/users/uuid-alice", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	h := newTestHandler(t, Options{})

	resp := do(t, h, http.MethodPost, "/api/users", bytes.NewReader([]byte("{not json")))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodPost, "/api/users", marshal(t, map[string]interface{}{
		"uuid":     "u1",
		"username": "bob",
		"email":    "bob@example.com",
		"bogus":    true,
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}

	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if env.Success || env.Error == "" {
		t.Fatalf("expected error envelope, got %+v", env)
	}
}

// memCache is a map-backed Cache used to observe marketplace caching.
type memCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	sets    int
	deletes int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.sets++
	return nil
}

func (c *memCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	c.deletes++
	return nil
}

func TestMarketplaceCaching(t *testing.T) {
	cache := newMemCache()
	h := newTestHandler(t, Options{Cache: cache})

	createTestUser(t, h, "runner", true)
	publicID := createTestPerformance(t, h, "uuid-runner", "sprint_100m", false)
	createTestPerformance(t, h, "uuid-runner", "resting_hr", true)

	resp := do(t, h, http.MethodGet, "/api/marketplace", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("marketplace: expected 200, got %d", resp.Code)
	}
	var listed []struct {
		ID        string `json:"id"`
		IsPrivate bool   `json:"is_private"`
	}
	decodeData(t, resp, &listed)
	if len(listed) != 1 || listed[0].ID != publicID {
		t.Fatalf("expected only the public performance, got %+v", listed)
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache fill, got %d", cache.sets)
	}

	// Second read is served from cache without another fill.
	do(t, h, http.MethodGet, "/api/marketplace", nil)
	if cache.sets != 1 {
		t.Fatalf("expected cached response, got %d fills", cache.sets)
	}

	// Privacy toggles invalidate the cached listing.
	resp = do(t, h, http.MethodPost, "/api/performances/"+publicID+"/toggle-privacy", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("toggle privacy: expected 200, got %d", resp.Code)
	}
	if cache.deletes == 0 {
		t.Fatalf("expected cache invalidation after mutation")
	}

	resp = do(t, h, http.MethodGet, "/api/marketplace", nil)
	listed = nil
	decodeData(t, resp, &listed)
	if len(listed) != 0 {
		t.Fatalf("expected empty marketplace after toggle, got %+v", listed)
	}
}

func TestSharingWorkflow(t *testing.T) {
	h := newTestHandler(t, Options{})

	createTestUser(t, h, "athlete", true)
	createTestUser(t, h, "buyer", false)
	perfID := createTestPerformance(t, h, "uuid-athlete", "vo2max", true)

	resp := do(t, h, http.MethodPost, "/api/share", marshal(t, map[string]interface{}{
		"sender_username": "athlete",
		"client_username": "buyer",
		"data_name":       "vo2max readings",
		"amount":          120.5,
		"performance_ids": []string{perfID},
	}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("share: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var share struct {
		Transaction struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transaction"`
		Bundle struct {
			TransactionID  string   `json:"transaction_id"`
			PerformanceIDs []string `json:"performance_ids"`
		} `json:"bundle"`
	}
	decodeData(t, resp, &share)
	if share.Transaction.Status != "pending" {
		t.Fatalf("expected pending transaction, got %q", share.Transaction.Status)
	}
	if share.Bundle.TransactionID != share.Transaction.ID {
		t.Fatalf("bundle not linked to transaction: %+v", share)
	}

	resp = do(t, h, http.MethodPost, "/api/share/"+share.Transaction.ID+"/approve", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var approved struct {
		Status string `json:"status"`
	}
	decodeData(t, resp, &approved)
	if approved.Status != "approved" {
		t.Fatalf("expected approved, got %q", approved.Status)
	}

	// Approval credits the athlete.
	resp = do(t, h, http.MethodGet, "/api/users/uuid-athlete", nil)
	var athlete struct {
		RevenueEarned float64 `json:"revenue_earned"`
	}
	decodeData(t, resp, &athlete)
	if athlete.RevenueEarned != 120.5 {
		t.Fatalf("expected revenue 120.5, got %v", athlete.RevenueEarned)
	}

	// A settled agreement cannot be re-approved.
	resp = do(t, h, http.MethodPost, "/api/share/"+share.Transaction.ID+"/approve", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 re-approving, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodGet, "/api/share/user/uuid-buyer", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("shared data: expected 200, got %d", resp.Code)
	}
	var shared []struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
		Bundle *struct {
			PerformanceIDs []string `json:"performance_ids"`
		} `json:"bundle"`
	}
	decodeData(t, resp, &shared)
	if len(shared) != 1 || shared[0].Bundle == nil {
		t.Fatalf("expected one shared entry with bundle, got %+v", shared)
	}
	if len(shared[0].Bundle.PerformanceIDs) != 1 || shared[0].Bundle.PerformanceIDs[0] != perfID {
		t.Fatalf("unexpected bundle contents: %+v", shared[0].Bundle)
	}
}

func TestShareRevocationRemovesBundle(t *testing.T) {
	h := newTestHandler(t, Options{})

	createTestUser(t, h, "athlete", true)
	createTestUser(t, h, "buyer", false)
	perfID := createTestPerformance(t, h, "uuid-athlete", "sleep_score", true)

	resp := do(t, h, http.MethodPost, "/api/share", marshal(t, map[string]interface{}{
		"sender_username": "athlete",
		"client_username": "buyer",
		"data_name":       "sleep data",
		"amount":          10,
		"performance_ids": []string{perfID},
	}))
	var share struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	decodeData(t, resp, &share)

	resp = do(t, h, http.MethodPost, "/api/share/"+share.Transaction.ID+"/revoke", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, h, http.MethodGet, "/api/grouped-performances/"+share.Transaction.ID, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected bundle gone after revoke, got %d", resp.Code)
	}
}

func TestBundleEndpoints(t *testing.T) {
	h := newTestHandler(t, Options{})

	createTestUser(t, h, "athlete", true)
	createTestUser(t, h, "buyer", false)
	p1 := createTestPerformance(t, h, "uuid-athlete", "metric_a", true)
	p2 := createTestPerformance(t, h, "uuid-athlete", "metric_b", true)

	resp := do(t, h, http.MethodPost, "/api/transactions", marshal(t, map[string]interface{}{
		"sender_uuid": "uuid-athlete",
		"client_uuid": "uuid-buyer",
		"data_name":   "bundle data",
		"amount":      5,
	}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create transaction: expected 201, got %d", resp.Code)
	}
	var tx struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &tx)

	resp = do(t, h, http.MethodPost, "/api/grouped-performances", marshal(t, map[string]interface{}{
		"transaction_id":  tx.ID,
		"data_name":       "bundle data",
		"performance_ids": []string{p1},
	}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create bundle: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	// One bundle per transaction.
	resp = do(t, h, http.MethodPost, "/api/grouped-performances", marshal(t, map[string]interface{}{
		"transaction_id":  tx.ID,
		"data_name":       "again",
		"performance_ids": []string{p2},
	}))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second bundle, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodPost, "/api/grouped-performances/"+tx.ID+"/performances", marshal(t, map[string]interface{}{
		"performance_id": p2,
	}))
	if resp.Code != http.StatusOK {
		t.Fatalf("add performance: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var b struct {
		PerformanceIDs []string `json:"performance_ids"`
	}
	decodeData(t, resp, &b)
	if len(b.PerformanceIDs) != 2 {
		t.Fatalf("expected 2 performances, got %+v", b.PerformanceIDs)
	}

	resp = do(t, h, http.MethodDelete, "/api/grouped-performances/"+tx.ID+"/performances/"+p1, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("remove performance: expected 200, got %d", resp.Code)
	}
	b.PerformanceIDs = nil
	decodeData(t, resp, &b)
	if len(b.PerformanceIDs) != 1 || b.PerformanceIDs[0] != p2 {
		t.Fatalf("unexpected members after removal: %+v", b.PerformanceIDs)
	}
}

func TestTransactionStatusEndpoint(t *testing.T) {
	h := newTestHandler(t, Options{})

	createTestUser(t, h, "athlete", true)
	createTestUser(t, h, "buyer", false)

	resp := do(t, h, http.MethodPost, "/api/transactions", marshal(t, map[string]interface{}{
		"sender_uuid": "uuid-athlete",
		"client_uuid": "uuid-buyer",
		"data_name":   "data",
		"amount":      1,
	}))
	var tx struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &tx)

	resp = do(t, h, http.MethodPatch, "/api/transactions/"+tx.ID+"/status", marshal(t, map[string]interface{}{
		"status": "shipped",
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodPatch, "/api/transactions/"+tx.ID+"/status", marshal(t, map[string]interface{}{
		"status": "revoked",
	}))
	if resp.Code != http.StatusOK {
		t.Fatalf("revoke via status: expected 200, got %d", resp.Code)
	}

	resp = do(t, h, http.MethodPatch, "/api/transactions/"+tx.ID+"/status", marshal(t, map[string]interface{}{
		"status": "approved",
	}))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 transitioning from revoked, got %d", resp.Code)
	}
}

func TestClerkWebhook(t *testing.T) {
	h := newTestHandler(t, Options{})

	payload := `{"type":"user.created","data":{"id":"clerk-1","username":"webhooked","email_addresses":[{"email_address":"hook@example.com"}]}}`
	resp := do(t, h, http.MethodPost, "/api/webhooks/clerk", bytes.NewReader([]byte(payload)))
	if resp.Code != http.StatusCreated {
		t.Fatalf("user.created: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, h, http.MethodGet, "/api/users/clerk-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected provisioned user, got %d", resp.Code)
	}

	payload = `{"type":"user.updated","data":{"id":"clerk-1","username":"renamed","email_addresses":[{"email_address":"hook@example.com"}]}}`
	resp = do(t, h, http.MethodPost, "/api/webhooks/clerk", bytes.NewReader([]byte(payload)))
	if resp.Code != http.StatusOK {
		t.Fatalf("user.updated: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var updated struct {
		Username string `json:"username"`
	}
	decodeData(t, resp, &updated)
	if updated.Username != "renamed" {
		t.Fatalf("expected renamed user, got %q", updated.Username)
	}

	payload = `{"type":"user.deleted","data":{"id":"clerk-1","email_addresses":[{"email_address":"hook@example.com"}]}}`
	resp = do(t, h, http.MethodPost, "/api/webhooks/clerk", bytes.NewReader([]byte(payload)))
	if resp.Code != http.StatusOK {
		t.Fatalf("user.deleted: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = do(t, h, http.MethodGet, "/api/users/clerk-1", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after deletion, got %d", resp.Code)
	}

	// Unknown event types are acknowledged, not failed.
	resp = do(t, h, http.MethodPost, "/api/webhooks/clerk", bytes.NewReader([]byte(`{"type":"session.created","data":{}}`)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored event, got %d", resp.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	h := newTestHandler(t, Options{})

	createTestUser(t, h, "audited", true)

	// Anonymous requests are not recorded.
	resp := do(t, h, http.MethodGet, "/api/audit", nil)
	var entries []auditEntry
	decodeData(t, resp, &entries)
	if len(entries) != 0 {
		t.Fatalf("expected empty audit trail, got %d entries", len(entries))
	}

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/users/uuid-audited?n=%d", i), nil)
		req = req.WithContext(context.WithValue(req.Context(), logger.UserIDKey, "operator-1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("audited request: expected 200, got %d", rec.Code)
		}
	}

	resp = do(t, h, http.MethodGet, "/api/audit?limit=2", nil)
	entries = nil
	decodeData(t, resp, &entries)
	if len(entries) != 2 {
		t.Fatalf("expected limit of 2 entries, got %d", len(entries))
	}
	if entries[0].User != "operator-1" || entries[0].Method != http.MethodGet {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, Options{})

	resp := do(t, h, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.Code)
	}
	var status map[string]string
	decodeData(t, resp, &status)
	if status["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", status)
	}
}
