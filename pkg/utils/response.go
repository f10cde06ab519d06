package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/projectq/projectq/backend/internal/model/chat"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// RespondError 以 {error: {code, message}} 结构发送错误响应
func RespondError(w http.ResponseWriter, status int, code chat.ErrorCode, message string) {
	RespondJSON(w, status, chat.ErrorResponse{Error: chat.ErrorBody{Code: code, Message: message}})
}

// RespondChatError 将任意错误归类后发送，未归类的错误按 UPSTREAM_ERROR 处理
func RespondChatError(w http.ResponseWriter, err error) {
	chatErr := chat.AsError(err)
	RespondJSON(w, StatusForCode(chatErr.Code), chatErr.Body())
}

// StatusForCode 错误码对应的 HTTP 状态码
func StatusForCode(code chat.ErrorCode) int {
	switch code {
	case chat.CodeInvalidRequest:
		return http.StatusBadRequest
	case chat.CodeBackendUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
