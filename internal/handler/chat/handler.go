package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectq/projectq/backend/internal/model/chat"
	chatService "github.com/projectq/projectq/backend/internal/service/chat"
	"github.com/projectq/projectq/backend/pkg/utils"
)

// DefaultMaxBodyBytes 请求体上限，需容纳 5MB 图片的 Base64 编码
const DefaultMaxBodyBytes int64 = 10 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	maxBodyBytes int64
	logger       *slog.Logger
}

// New 创建聊天处理器，maxBodyBytes 非正数时使用默认值
func New(chatSvc *chatService.Service, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc:      chatSvc,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With("component", "chat_handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/{conversationId}", h.handleConversationInfo)
}

// handleChat 处理一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, chat.CodeInvalidRequest, "Request body too large")
			return
		}
		h.logger.Debug("invalid chat request body", "error", err)
		utils.RespondError(w, http.StatusBadRequest, chat.CodeInvalidRequest, "Invalid request body")
		return
	}

	resp, err := h.chatSvc.Chat(r.Context(), req)
	if err != nil {
		utils.RespondChatError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleConversationInfo 返回会话的消息数与时间戳，用于调试
func (h *Handler) handleConversationInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationId")
	info, ok := h.chatSvc.Conversation(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, chat.CodeInvalidRequest, "Conversation not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}
