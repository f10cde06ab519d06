package chat

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the failure codes understood by the extension.
type ErrorCode string

const (
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	CodeBackendUnreachable ErrorCode = "BACKEND_UNREACHABLE"
)

// Response is the success shape of POST /api/chat.
type Response struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
}

// ErrorBody is the payload nested under "error" in a failure response.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the failure shape of POST /api/chat.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error is a classified chat failure. Err keeps the underlying cause for logs
// and is never sent to the caller.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewError builds a classified error without an underlying cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Body converts the error into its wire representation.
func (e *Error) Body() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: e.Code, Message: e.Message}}
}

// AsError extracts a classified error, falling back to UPSTREAM_ERROR for anything else.
func AsError(err error) *Error {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return &Error{Code: CodeUpstreamError, Message: DefaultErrorMessage, Err: err}
}

// DefaultErrorMessage is reported when no more specific detail is available.
const DefaultErrorMessage = "An error occurred while processing your request"
