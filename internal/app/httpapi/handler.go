// Package httpapi exposes the gateway's REST surface.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/athledger/platform/internal/app"
	"github.com/athledger/platform/internal/app/domain/bundle"
	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/cache"
	"github.com/athledger/platform/internal/errors"
	"github.com/athledger/platform/pkg/logger"
)

const marketplaceCacheKey = "marketplace:public"

// Options carries optional handler collaborators.
type Options struct {
	// Cache backs the marketplace endpoint; nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	// Webhook wraps the webhook endpoint with signature verification; nil
	// leaves it unverified (tests only).
	Webhook func(http.Handler) http.Handler
	// AuditFile appends audit entries as JSONL when set.
	AuditFile string
	Log       *logger.Logger
}

// Handler bundles HTTP endpoints for the application services.
type Handler struct {
	app      *app.Application
	cache    cache.Cache
	cacheTTL time.Duration
	audit    *auditLog
	log      *logger.Logger
}

// NewHandler returns a router exposing the REST API.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, err
	}

	c := opts.Cache
	if c == nil {
		c = cache.Noop{}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	h := &Handler{
		app:      application,
		cache:    c,
		cacheTTL: ttl,
		audit:    newAuditLog(200, sink),
		log:      log,
	}

	r := mux.NewRouter()
	r.Use(h.auditMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/users", h.createUser).Methods(http.MethodPost)
	api.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{uuid}", h.getUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{uuid}", h.updateUser).Methods(http.MethodPatch)
	api.HandleFunc("/users/{uuid}", h.deleteUser).Methods(http.MethodDelete)
	api.HandleFunc("/users/{uuid}/performances", h.listUserPerformances).Methods(http.MethodGet)
	api.HandleFunc("/users/{uuid}/transactions", h.listUserTransactions).Methods(http.MethodGet)
	api.HandleFunc("/users/{uuid}/public-metrics", h.addPublicMetric).Methods(http.MethodPost)
	api.HandleFunc("/users/{uuid}/public-metrics/{performanceId}", h.removePublicMetric).Methods(http.MethodDelete)

	api.HandleFunc("/performances", h.createPerformance).Methods(http.MethodPost)
	api.HandleFunc("/performances/import", h.importPerformances).Methods(http.MethodPost)
	api.HandleFunc("/performances/{id}", h.getPerformance).Methods(http.MethodGet)
	api.HandleFunc("/performances/{id}", h.updatePerformance).Methods(http.MethodPatch)
	api.HandleFunc("/performances/{id}", h.deletePerformance).Methods(http.MethodDelete)
	api.HandleFunc("/performances/{id}/toggle-privacy", h.togglePrivacy).Methods(http.MethodPost)

	api.HandleFunc("/marketplace", h.marketplace).Methods(http.MethodGet)

	api.HandleFunc("/transactions", h.createTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", h.getTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", h.deleteTransaction).Methods(http.MethodDelete)
	api.HandleFunc("/transactions/{id}/status", h.updateTransactionStatus).Methods(http.MethodPatch)

	api.HandleFunc("/grouped-performances", h.createBundle).Methods(http.MethodPost)
	api.HandleFunc("/grouped-performances/{transactionId}", h.getBundle).Methods(http.MethodGet)
	api.HandleFunc("/grouped-performances/{transactionId}", h.deleteBundle).Methods(http.MethodDelete)
	api.HandleFunc("/grouped-performances/{transactionId}/performances", h.addBundlePerformance).Methods(http.MethodPost)
	api.HandleFunc("/grouped-performances/{transactionId}/performances/{performanceId}", h.removeBundlePerformance).Methods(http.MethodDelete)

	api.HandleFunc("/share", h.shareData).Methods(http.MethodPost)
	api.HandleFunc("/share/{transactionId}/approve", h.approveSharing).Methods(http.MethodPost)
	api.HandleFunc("/share/{transactionId}/revoke", h.revokeSharing).Methods(http.MethodPost)
	api.HandleFunc("/share/user/{uuid}", h.getUserSharedData).Methods(http.MethodGet)

	webhook := http.Handler(http.HandlerFunc(h.clerkWebhook))
	if opts.Webhook != nil {
		webhook = opts.Webhook(webhook)
	}
	api.Handle("/webhooks/clerk", webhook).Methods(http.MethodPost)

	api.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	return r, nil
}

// Users -----------------------------------------------------------------------

type createUserRequest struct {
	UUID      string `json:"uuid"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	WalletID  string `json:"wallet_id"`
	IsAthlete bool   `json:"is_athlete"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	created, err := h.app.Users.Create(r.Context(), user.User{
		UUID:      payload.UUID,
		Username:  payload.Username,
		Email:     payload.Email,
		WalletID:  payload.WalletID,
		IsAthlete: payload.IsAthlete,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if username := r.URL.Query().Get("username"); username != "" {
		u, err := h.app.Users.GetByUsername(r.Context(), username)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}
	if email := r.URL.Query().Get("email"); email != "" {
		u, err := h.app.Users.GetByEmail(r.Context(), email)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}

	list, err := h.app.Users.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type updateUserRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	WalletID  *string `json:"wallet_id"`
	IsAthlete *bool   `json:"is_athlete"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var payload updateUserRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	u, err := h.app.Users.Get(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	if payload.Username != nil {
		u.Username = *payload.Username
	}
	if payload.Email != nil {
		u.Email = *payload.Email
	}
	if payload.WalletID != nil {
		u.WalletID = *payload.WalletID
	}
	if payload.IsAthlete != nil {
		u.IsAthlete = *payload.IsAthlete
	}

	updated, err := h.app.Users.Update(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Users.Delete(r.Context(), mux.Vars(r)["uuid"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": mux.Vars(r)["uuid"]})
}

func (h *Handler) listUserPerformances(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if _, err := h.app.Users.Get(r.Context(), uuid); err != nil {
		writeError(w, err)
		return
	}
	list, err := h.app.Performances.ListForAthlete(r.Context(), uuid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) listUserTransactions(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if _, err := h.app.Users.Get(r.Context(), uuid); err != nil {
		writeError(w, err)
		return
	}
	list, err := h.app.Transactions.ListForUser(r.Context(), uuid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type addPublicMetricRequest struct {
	PerformanceID string `json:"performance_id"`
}

func (h *Handler) addPublicMetric(w http.ResponseWriter, r *http.Request) {
	var payload addPublicMetricRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}
	u, err := h.app.Users.AddPublicMetric(r.Context(), mux.Vars(r)["uuid"], payload.PerformanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) removePublicMetric(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	u, err := h.app.Users.RemovePublicMetric(r.Context(), vars["uuid"], vars["performanceId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Performances ----------------------------------------------------------------

type createPerformanceRequest struct {
	AthleteUUID    string `json:"athlete_uuid"`
	MetricName     string `json:"metric_name"`
	BlockchainHash string `json:"blockchain_hash"`
	IsPrivate      *bool  `json:"is_private"`
}

func (h *Handler) createPerformance(w http.ResponseWriter, r *http.Request) {
	var payload createPerformanceRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	created, err := h.app.Performances.Create(r.Context(), payload.AthleteUUID, payload.MetricName, payload.BlockchainHash, payload.IsPrivate)
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateMarketplace(r)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getPerformance(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Performances.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updatePerformanceRequest struct {
	MetricName     *string `json:"metric_name"`
	BlockchainHash *string `json:"blockchain_hash"`
}

func (h *Handler) updatePerformance(w http.ResponseWriter, r *http.Request) {
	var payload updatePerformanceRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}
	p, err := h.app.Performances.Update(r.Context(), mux.Vars(r)["id"], payload.MetricName, payload.BlockchainHash)
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateMarketplace(r)
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePerformance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.app.Performances.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.invalidateMarketplace(r)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) togglePrivacy(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Performances.TogglePrivacy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateMarketplace(r)
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) importPerformances(w http.ResponseWriter, r *http.Request) {
	athleteUUID := r.URL.Query().Get("athlete_uuid")
	created, err := h.app.Performances.ImportCSV(r.Context(), athleteUUID, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) marketplace(w http.ResponseWriter, r *http.Request) {
	if body, ok, err := h.cache.Get(r.Context(), marketplaceCacheKey); err == nil && ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	} else if err != nil {
		h.log.WithError(err).Warn("marketplace cache read failed")
	}

	list, err := h.app.Performances.ListPublic(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := json.Marshal(envelope{Success: true, Data: list})
	if err != nil {
		writeError(w, errors.Internal("encode marketplace response", err))
		return
	}
	if err := h.cache.Set(r.Context(), marketplaceCacheKey, body, h.cacheTTL); err != nil {
		h.log.WithError(err).Warn("marketplace cache write failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *Handler) invalidateMarketplace(r *http.Request) {
	if err := h.cache.Invalidate(r.Context(), marketplaceCacheKey); err != nil {
		h.log.WithError(err).Warn("marketplace cache invalidation failed")
	}
}

// Transactions ----------------------------------------------------------------

type createTransactionRequest struct {
	SenderUUID string  `json:"sender_uuid"`
	ClientUUID string  `json:"client_uuid"`
	DataName   string  `json:"data_name"`
	Amount     float64 `json:"amount"`
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var payload createTransactionRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	created, err := h.app.Transactions.Create(r.Context(), payload.SenderUUID, payload.ClientUUID, payload.DataName, payload.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Transactions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type updateTransactionStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var payload updateTransactionStatusRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	tx, err := h.app.Transactions.UpdateStatus(r.Context(), mux.Vars(r)["id"], transaction.Status(payload.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.app.Transactions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// Bundles ---------------------------------------------------------------------

type createBundleRequest struct {
	TransactionID  string   `json:"transaction_id"`
	DataName       string   `json:"data_name"`
	PerformanceIDs []string `json:"performance_ids"`
}

func (h *Handler) createBundle(w http.ResponseWriter, r *http.Request) {
	var payload createBundleRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	created, err := h.app.Bundles.Create(r.Context(), payload.TransactionID, payload.DataName, payload.PerformanceIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getBundle(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Bundles.GetByTransaction(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) deleteBundle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["transactionId"]
	if err := h.app.Bundles.DeleteByTransaction(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) addBundlePerformance(w http.ResponseWriter, r *http.Request) {
	var payload addPublicMetricRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}
	b, err := h.app.Bundles.AddPerformance(r.Context(), mux.Vars(r)["transactionId"], payload.PerformanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) removeBundlePerformance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := h.app.Bundles.RemovePerformance(r.Context(), vars["transactionId"], vars["performanceId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Sharing ---------------------------------------------------------------------

type shareDataRequest struct {
	SenderUsername string   `json:"sender_username"`
	ClientUsername string   `json:"client_username"`
	DataName       string   `json:"data_name"`
	Amount         float64  `json:"amount"`
	PerformanceIDs []string `json:"performance_ids"`
}

type shareDataResponse struct {
	Transaction transaction.Transaction `json:"transaction"`
	Bundle      bundle.Bundle           `json:"bundle"`
}

func (h *Handler) shareData(w http.ResponseWriter, r *http.Request) {
	var payload shareDataRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}

	tx, b, err := h.app.Sharing.ShareData(r.Context(), payload.SenderUsername, payload.ClientUsername, payload.DataName, payload.Amount, payload.PerformanceIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shareDataResponse{Transaction: tx, Bundle: b})
}

func (h *Handler) approveSharing(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Sharing.ApproveSharing(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) revokeSharing(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Sharing.RevokeSharing(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) getUserSharedData(w http.ResponseWriter, r *http.Request) {
	shared, err := h.app.Sharing.GetUserSharedData(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shared)
}

// System ----------------------------------------------------------------------

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// auditMiddleware records authenticated requests.
func (h *Handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		userID := logger.GetUserID(r.Context())
		if userID == "" {
			return
		}
		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			User:       userID,
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Helpers ---------------------------------------------------------------------

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError maps the structured error code onto an HTTP status and writes
// the error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	if svcErr := errors.GetServiceError(err); svcErr != nil {
		status = svcErr.HTTPStatus
		message = svcErr.Message
	} else if err != nil {
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}
