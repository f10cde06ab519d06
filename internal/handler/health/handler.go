package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectq/projectq/backend/pkg/utils"
)

// Version 服务版本号
const Version = "0.1.0"

// Status 健康检查响应
type Status struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// Handler 健康检查处理器
type Handler struct{}

// New 创建健康检查处理器
func New() *Handler {
	return &Handler{}
}

// RegisterRoutes 注册健康检查路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, Status{OK: true, Version: Version})
}
