package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rethoric/rethoric/internal/metrics"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/webhooks/identity", apiHandler.IdentityWebhookHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/me", apiHandler.GetMeHandler)
			r.Patch("/me", apiHandler.UpdateMeHandler)
			r.Get("/me/admin", apiHandler.IsAdminHandler)

			r.Get("/questions/next", apiHandler.NextQuestionHandler)

			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Post("/conversations", apiHandler.StartConversationHandler)
			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/messages", apiHandler.ListMessagesHandler)
				r.Post("/messages", apiHandler.PostMessageHandler)
				r.Post("/reply", apiHandler.ReplyHandler)
				r.Patch("/status", apiHandler.UpdateStatusHandler)
				r.Get("/events", apiHandler.ConversationEventsHandler)
			})

			// Admin routes
			r.Route("/admin/questions", func(r chi.Router) {
				r.Use(apiHandler.RequireAdmin)
				r.Get("/", apiHandler.ListQuestionsHandler)
				r.Post("/", apiHandler.CreateQuestionHandler)
				r.Get("/{questionID}", apiHandler.GetQuestionHandler)
				r.Put("/{questionID}", apiHandler.UpdateQuestionHandler)
				r.Delete("/{questionID}", apiHandler.DeleteQuestionHandler)
			})
		})
	})

	return r
}

// instrument records request counts and latencies by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
