package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/errors"
)

// clerkWebhook syncs identity-provider account events into the user store.
// Signature verification happens in the wrapping middleware.
func (h *Handler) clerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.Validation("read webhook body: %v", err))
		return
	}

	event := gjson.GetBytes(body, "type").String()
	email := gjson.GetBytes(body, "data.email_addresses.0.email_address").String()
	username := gjson.GetBytes(body, "data.username").String()
	externalID := gjson.GetBytes(body, "data.id").String()

	h.log.WithFields(map[string]interface{}{
		"event": event,
		"email": email,
	}).Info("identity webhook received")

	switch event {
	case "user.created":
		if username == "" {
			// Accounts created via OAuth may have no username yet.
			username = localPart(email)
		}
		created, err := h.app.Users.Create(r.Context(), user.User{
			UUID:     externalID,
			Username: username,
			Email:    email,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case "user.updated":
		existing, err := h.app.Users.GetByEmail(r.Context(), email)
		if err != nil {
			writeError(w, err)
			return
		}
		if username != "" {
			existing.Username = username
		}
		updated, err := h.app.Users.Update(r.Context(), existing)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "user.deleted":
		existing, err := h.app.Users.GetByEmail(r.Context(), email)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.app.Users.Delete(r.Context(), existing.UUID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": existing.UUID})

	default:
		// Unhandled event types are acknowledged so the provider stops retrying.
		writeJSON(w, http.StatusOK, map[string]string{"ignored": event})
	}
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
