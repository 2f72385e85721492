package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rethoric/rethoric/internal/auth"
	"github.com/rethoric/rethoric/internal/core"
)

const maxWebhookBody = 1 << 20

type identityEvent struct {
	Type string           `json:"type"`
	Data identityUserData `json:"data"`
}

type identityUserData struct {
	ID             string `json:"id"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (d identityUserData) identityUser() core.IdentityUser {
	u := core.IdentityUser{ExternalID: d.ID, FirstName: d.FirstName, LastName: d.LastName}
	if len(d.EmailAddresses) > 0 {
		u.Email = d.EmailAddresses[0].EmailAddress
	}
	return u
}

// IdentityWebhookHandler provisions users from signed identity-provider
// events. Only user.created is acted on; other types are acknowledged.
func (h *APIHandler) IdentityWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.Webhooks == nil {
		h.logger.Error().Msg("webhook delivery rejected: secret not configured")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "webhook secret not configured", Code: "internal"})
		return
	}
	if !auth.HasSignatureHeaders(r.Header) {
		writeBadRequest(w, "missing svix headers")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	if err := h.Webhooks.Verify(payload, r.Header); err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		writeBadRequest(w, "invalid webhook signature")
		return
	}

	var evt identityEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		writeBadRequest(w, "Invalid request body: "+err.Error())
		return
	}

	switch evt.Type {
	case "user.created":
		user, created, err := h.Users.ProvisionUser(r.Context(), evt.Data.identityUser())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "userId": user.ID, "created": created})
	default:
		h.logger.Debug().Str("type", evt.Type).Msg("ignoring webhook event")
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}
