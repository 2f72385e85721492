package api

import (
	"encoding/json"
	"net/http"

	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindTransientProvider, apperr.KindPermanentProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status code. Internal errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: kind.String()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: apperr.KindInvalidArgument.String()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
