package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/rethoric/rethoric/internal/auth"
	"github.com/rethoric/rethoric/internal/core"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
)

const replyTimeout = 2 * time.Minute

type contextKey string

const userContextKey contextKey = "user"

// Services bundles the collaborators the handlers call into.
type Services struct {
	Users         *core.UserService
	Questions     *core.QuestionService
	Selector      *core.QuestionSelector
	Conversations *core.ConversationService
	Generator     *core.ResponseGenerator
	Tokens        *auth.Validator
	// Webhooks is nil when no webhook secret is configured.
	Webhooks *auth.WebhookVerifier
}

type APIHandler struct {
	Services
	logger zerolog.Logger
	now    func() time.Time
}

func NewAPIHandler(s Services, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		Services: s,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
}

func userFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(userContextKey).(*store.User)
	return u
}

// JWTAuthMiddleware resolves the bearer token to a provisioned user. The
// token may also be passed as ?access_token= for EventSource clients.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := auth.BearerToken(r.Header.Get("Authorization"))
		if tokenString == "" {
			tokenString = r.URL.Query().Get("access_token")
		}
		if tokenString == "" {
			writeError(w, h.logger, apperr.Unauthenticated("Authorization header is required"))
			return
		}

		externalUserID, err := h.Tokens.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, h.logger, apperr.Unauthenticated("Invalid token"))
			return
		}

		user, err := h.Users.ResolveUser(r.Context(), externalUserID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !userFromContext(r.Context()).IsAdmin() {
			writeError(w, h.logger, apperr.PermissionDenied("admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

func (h *APIHandler) UpdateMeHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req core.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := h.Users.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *APIHandler) IsAdminHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"isAdmin": userFromContext(r.Context()).IsAdmin()})
}

func (h *APIHandler) NextQuestionHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	sel, err := h.Selector.SelectNextQuestion(r.Context(), user.ID, h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var status *store.ConversationStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := store.ConversationStatus(s)
		status = &st
	}

	convs, err := h.Conversations.ListConversations(r.Context(), user.ID, status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

type StartConversationRequest struct {
	QuestionID string `json:"questionId"`
}

type StartConversationResponse struct {
	Conversation *store.Conversation `json:"conversation"`
	Question     *store.Question     `json:"question"`
}

func (h *APIHandler) StartConversationHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req StartConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.QuestionID == "" {
		writeBadRequest(w, "questionId is required")
		return
	}

	conv, q, err := h.Conversations.StartConversation(r.Context(), user.ID, req.QuestionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartConversationResponse{Conversation: conv, Question: q})
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	detail, err := h.Conversations.ListMessages(r.Context(), chi.URLParam(r, "conversationID"), user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type PostMessageRequest struct {
	Role    store.Role `json:"role"`
	Content string     `json:"content"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req PostMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = store.RoleUser
	}

	msg, err := h.Conversations.AddMessage(r.Context(), chi.URLParam(r, "conversationID"), user.ID, req.Role, req.Content)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type ReplyRequest struct {
	ThreadID string `json:"threadId,omitempty"`
	Message  string `json:"message"`
}

// ReplyHandler runs one generation. It is detached from the request
// context so the reply is persisted even if the client disconnects.
func (h *APIHandler) ReplyHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req ReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), replyTimeout)
	defer cancel()

	res, err := h.Generator.Generate(ctx, core.GenerateRequest{
		ConversationID: chi.URLParam(r, "conversationID"),
		RequesterID:    user.ID,
		ThreadID:       req.ThreadID,
		UserMessage:    req.Message,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type UpdateStatusRequest struct {
	Status store.ConversationStatus `json:"status"`
}

func (h *APIHandler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.Conversations.UpdateConversationStatus(r.Context(), chi.URLParam(r, "conversationID"), user.ID, req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
