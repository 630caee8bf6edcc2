package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examrunner/internal/auth"
	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/exam"
	"github.com/pavelanni/examrunner/internal/handler"
	appI18n "github.com/pavelanni/examrunner/internal/i18n"
	"github.com/pavelanni/examrunner/internal/llm"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/runner"
	"github.com/pavelanni/examrunner/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("exams", "e", nil, "Exam definition JSON files to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("auth-session-ttl", 24*time.Hour, "Lifetime of login sessions")
	f.String("admin-password", "", "Initial admin password (or set EXAMRUNNER_ADMIN_PASSWORD)")
	f.String("jwt-secret", "", "HMAC secret for bearer tokens; empty disables /api/token")
	f.Duration("token-ttl", auth.DefaultTokenTTL, "Lifetime of bearer tokens")
	f.Duration("submit-timeout", 30*time.Second, "Upper bound for persisting one submission")
	f.Duration("session-retention", 10*time.Minute, "How long finished exam sessions stay addressable")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins; empty disables CORS headers")
	f.String("amqp-url", "", "RabbitMQ URL for attempt events; empty disables publishing")
	f.String("amqp-exchange", events.DefaultExchange, "RabbitMQ topic exchange for attempt events")
	f.String("llm-url", "", "OpenAI-compatible API base URL for grading suggestions; empty disables them")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetAuthSessionTTL(v.GetDuration("auth-session-ttl"))

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := importExams(ctx, db, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("import exams: %w", err)
	}
	if n, err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired login sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired login sessions", "count", n)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	pub, closeEvents, err := buildPublisher(v, db)
	if err != nil {
		return err
	}
	defer closeEvents()

	var tokens *auth.Tokens
	if secret := v.GetString("jwt-secret"); secret != "" {
		if tokens, err = auth.NewTokens(secret, v.GetDuration("token-ttl")); err != nil {
			return fmt.Errorf("create token signer: %w", err)
		}
	}

	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		llmClient = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("grading suggestions enabled", "url", url, "model", v.GetString("llm-model"))
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.RunnerConfig{
		BasePath:         basePath,
		SecureCookies:    v.GetBool("secure-cookies"),
		SubmitTimeout:    v.GetDuration("submit-timeout"),
		SessionRetention: v.GetDuration("session-retention"),
		CORSOrigins:      v.GetStringSlice("cors-origins"),
	}

	loader := exam.NewLoader(db)
	sessions := runner.NewManager(loader, db, runner.ManagerOptions{
		SubmitTimeout: cfg.SubmitTimeout,
		Retention:     cfg.SessionRetention,
		Events:        pub,
	})
	defer sessions.Shutdown()

	h := handler.New(handler.Deps{
		Store:    db,
		Sessions: sessions,
		Loader:   loader,
		LLM:      llmClient,
		Tokens:   tokens,
		Events:   pub,
	}, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-CSRF-Token", "Accept-Language"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware)

	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"db_driver", db.Driver(),
			"lang", lang,
			"base_path", basePath,
			"tokens", tokens != nil,
			"llm", llmClient != nil,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SubmitTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPublisher records events in the store's event log and, when configured,
// also publishes them to RabbitMQ.
func buildPublisher(v *viper.Viper, db *store.Store) (events.Publisher, func(), error) {
	logPub := events.NewLogPublisher(db)
	url := v.GetString("amqp-url")
	if url == "" {
		return logPub, func() {}, nil
	}
	amqpPub, err := events.NewAMQPPublisher(url, v.GetString("amqp-exchange"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	slog.Info("publishing attempt events", "exchange", v.GetString("amqp-exchange"))
	closeFn := func() {
		if err := amqpPub.Close(); err != nil {
			slog.Warn("close rabbitmq publisher", "error", err)
		}
	}
	return events.Multi{logPub, amqpPub}, closeFn, nil
}
