package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/projectq/projectq/backend/internal/config"
	"github.com/projectq/projectq/backend/internal/handler"
	"github.com/projectq/projectq/backend/internal/observability"
	"github.com/projectq/projectq/backend/internal/service/ai"
	"github.com/projectq/projectq/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment variables only", "reason", envErr)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, nil)

	store := chat.NewStore(chat.StoreConfig{
		MaxTurns:    cfg.Chat.MaxTurns,
		IdleTimeout: cfg.Chat.IdleTimeout,
		OnExpire: func(string, time.Duration) {
			metrics.ConversationExpired()
		},
	}, logger)
	defer store.Clear()
	metrics.TrackConversations(store.Len)

	invoker := newInvoker(ctx, cfg.LLM, logger)
	chatSvc := chat.NewService(store, invoker, chat.Options{
		UpstreamTimeout: cfg.Chat.UpstreamTimeout,
		MaxImageBytes:   cfg.Chat.MaxImageBytes,
		Metrics:         metrics,
	}, logger)

	router := handler.NewRouter(chatSvc, handler.Options{
		MaxBodyBytes: cfg.Chat.MaxBodyBytes,
		Metrics:      observability.MetricsHandler(nil),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	store.StartJanitor(gctx, cfg.Chat.SweepInterval)

	g.Go(func() error {
		logger.Info("ProjectQ backend listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down", "conversations", store.Len())
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newInvoker builds the model client. Without usable credentials the server
// still starts and every chat turn reports an invalid API key.
func newInvoker(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) chat.Invoker {
	provider := cfg.ResolvedProvider()
	if !cfg.Enabled() {
		logger.Warn("LLM credentials are not configured; chat requests will fail until an API key is set",
			"provider", provider)
		return ai.Unavailable{}
	}

	svc, err := ai.NewService(ctx, cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize AI service; chat requests will fail",
			"provider", provider, "error", err)
		return ai.Unavailable{}
	}
	logger.Info("AI service initialized", "provider", provider)
	return svc
}
