package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/projectq/projectq/backend/internal/handler/chat"
	"github.com/projectq/projectq/backend/internal/handler/health"
	middlewarePkg "github.com/projectq/projectq/backend/internal/middleware"
	chatService "github.com/projectq/projectq/backend/internal/service/chat"
)

// Options 路由的可选配置
type Options struct {
	// MaxBodyBytes 为 POST /api/chat 的请求体上限，非正数时使用默认值
	MaxBodyBytes int64
	// Metrics 非空时挂载在 /metrics
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	health.New().RegisterRoutes(r)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	chatHandler := chat.New(chatSvc, opts.MaxBodyBytes, logger)
	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	return r
}
