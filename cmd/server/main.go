package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rethoric/rethoric/internal/api"
	"github.com/rethoric/rethoric/internal/auth"
	"github.com/rethoric/rethoric/internal/config"
	"github.com/rethoric/rethoric/internal/core"
	"github.com/rethoric/rethoric/internal/events"
	"github.com/rethoric/rethoric/internal/llm"
	"github.com/rethoric/rethoric/internal/logging"
	"github.com/rethoric/rethoric/internal/metrics"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "rethoric",
		Short:         "Socratic mentor conversation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serveCmd(), seedCmd(), tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func seedCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Import questions from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DatabaseURL = dbPath
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("failed to configure logger: %w", err)
			}

			dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer dbStore.Close()

			res, err := dbStore.ImportQuestionsFromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, reason := range res.Skipped {
				logger.Warn().Str("file", args[0]).Msg("skipped " + reason)
			}
			logger.Info().Int("imported", res.Imported).Int("skipped", len(res.Skipped)).Msg("Question seed complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DATABASE_URL)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an HS256 session token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to mint tokens")
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, args[0], cfg.JWTIssuer, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	generator, closeGenerator, err := llm.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	defer closeGenerator()

	tokens, err := auth.NewValidator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize token validator: %w", err)
	}
	defer tokens.Close()

	webhooks, err := newWebhookVerifier(cfg.WebhookSecret, logger)
	if err != nil {
		return err
	}

	hub := events.NewHub(0)
	hub.OnDrop(dropHandler(logger))

	conversations := core.NewConversationService(dbStore, hub, logger)
	handler := api.NewAPIHandler(api.Services{
		Users:         core.NewUserService(dbStore, cfg.IsAdminExternalID, logger),
		Questions:     core.NewQuestionService(dbStore, logger),
		Selector:      core.NewQuestionSelector(dbStore, logger),
		Conversations: conversations,
		Generator: core.NewResponseGenerator(conversations, dbStore, generator, core.GeneratorConfig{
			Persona:     cfg.MentorPersona,
			MaxAttempts: cfg.LLMMaxAttempts,
			BaseDelay:   cfg.LLMRetryBaseDelay,
		}, logger),
		Tokens:   tokens,
		Webhooks: webhooks,
	}, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     api.NewRouter(handler),
		ReadTimeout: 15 * time.Second,
		// Event streams stay open for the life of a conversation view.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", serverAddr).
			Str("provider", cfg.LLMProvider).
			Str("model", generator.Model()).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server exiting gracefully")
	return nil
}

// dropHandler counts and logs events a slow live subscriber missed. Missing
// a durable event means the subscriber was evicted.
func dropHandler(logger zerolog.Logger) func(events.Event) {
	return func(e events.Event) {
		metrics.HubDroppedEvents.WithLabelValues(string(e.Type)).Inc()
		logger.Warn().
			Str("event_type", string(e.Type)).
			Str("conversation_id", e.ConversationID).
			Bool("evicted", e.Type.Durable()).
			Msg("live subscriber fell behind")
	}
}

func newWebhookVerifier(secret string, logger zerolog.Logger) (*auth.WebhookVerifier, error) {
	if secret == "" {
		logger.Warn().Msg("WEBHOOK_SECRET is not set; identity webhooks will be rejected")
		return nil, nil
	}
	v, err := auth.NewWebhookVerifier(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize webhook verifier: %w", err)
	}
	return v, nil
}
