package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/projectq/projectq/backend/internal/model/chat"
	"github.com/projectq/projectq/backend/internal/observability"
	"github.com/projectq/projectq/backend/internal/service/ai"
	"github.com/projectq/projectq/backend/internal/service/attachment"
)

const (
	DefaultUpstreamTimeout = 30 * time.Second

	emptyTurnMessage = "message or image is required"
	timeoutMessage   = "Request timed out. Please try again."
)

// Invoker produces the assistant reply for a conversation history. Failures
// should be *ai.UpstreamError; anything else is classified by ai.Classify.
type Invoker interface {
	Invoke(ctx context.Context, history []*schema.Message) (string, error)
}

// Options tune the chat Service.
type Options struct {
	UpstreamTimeout time.Duration
	MaxImageBytes   int
	Metrics         *observability.Metrics
}

// Service runs one chat turn end to end: validation, history bookkeeping and
// the upstream call.
type Service struct {
	store     *Store
	invoker   Invoker
	validator attachment.Validator
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService wires the orchestrator around a store and a model invoker.
func NewService(store *Store, invoker Invoker, opts Options, logger *slog.Logger) *Service {
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		invoker:   invoker,
		validator: attachment.NewValidator(opts.MaxImageBytes),
		timeout:   opts.UpstreamTimeout,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "chat"),
	}
}

// Chat handles a single turn. Errors are always *chat.Error.
func (s *Service) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	resp, err := s.chat(ctx, req)
	if err != nil {
		s.metrics.ObserveTurn(string(chat.AsError(err).Code))
		return nil, err
	}
	s.metrics.ObserveTurn(observability.OutcomeOK)
	return resp, nil
}

// Conversation reports bookkeeping details for a known conversation.
func (s *Service) Conversation(id string) (Info, bool) {
	return s.store.Info(id)
}

func (s *Service) chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	if strings.TrimSpace(req.Message) == "" && req.Image == nil {
		return nil, chat.NewError(chat.CodeInvalidRequest, emptyTurnMessage)
	}
	if req.Image != nil {
		if err := s.validator.Validate(*req.Image); err != nil {
			var vErr *attachment.ValidationError
			if errors.As(err, &vErr) {
				s.logger.Debug("attachment rejected", "reason", vErr.Reason, "mime_type", req.Image.MimeType)
			}
			return nil, &chat.Error{Code: chat.CodeInvalidRequest, Message: err.Error(), Err: err}
		}
	}

	id, release, err := s.store.Acquire(ctx, req.ConversationID)
	if err != nil {
		return nil, s.upstreamFailure("", err)
	}
	defer release()

	logger := s.logger.With("conversation_id", id)
	if req.Metadata != nil {
		logger.Debug("page context", "url", req.Metadata.URL, "title", req.Metadata.Title)
	}

	// The user turn stays in history even if the upstream call fails.
	if err := s.store.Append(id, BuildUserMessage(req.Message, req.Image)); err != nil {
		return nil, &chat.Error{Code: chat.CodeUpstreamError, Message: chat.DefaultErrorMessage, Err: err}
	}
	history, err := s.store.History(id)
	if err != nil {
		return nil, &chat.Error{Code: chat.CodeUpstreamError, Message: chat.DefaultErrorMessage, Err: err}
	}

	start := time.Now()
	reply, err := s.invoke(ctx, history)
	if err != nil {
		chatErr := s.upstreamFailure(id, err)
		s.metrics.ObserveUpstream(string(chatErr.Code), time.Since(start))
		return nil, chatErr
	}
	s.metrics.ObserveUpstream(observability.OutcomeOK, time.Since(start))

	if err := s.store.Append(id, schema.AssistantMessage(reply, nil)); err != nil {
		return nil, &chat.Error{Code: chat.CodeUpstreamError, Message: chat.DefaultErrorMessage, Err: err}
	}
	logger.Debug("chat turn completed",
		"history_len", len(history),
		"duration_ms", time.Since(start).Milliseconds())

	return &chat.Response{Reply: reply, ConversationID: id}, nil
}

type invokeResult struct {
	reply string
	err   error
}

// invoke bounds the upstream call by the configured timeout even when the
// invoker ignores its context.
func (s *Service) invoke(ctx context.Context, history []*schema.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		reply, err := s.invoker.Invoke(callCtx, history)
		done <- invokeResult{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		return res.reply, res.err
	case <-callCtx.Done():
		return "", callCtx.Err()
	}
}

// upstreamFailure maps an upstream failure onto the caller-facing taxonomy.
func (s *Service) upstreamFailure(id string, err error) *chat.Error {
	upErr := ai.Classify(err)

	chatErr := &chat.Error{Code: chat.CodeUpstreamError, Message: chat.DefaultErrorMessage, Err: err}
	switch upErr.Reason {
	case ai.ReasonTimeout:
		chatErr.Code = chat.CodeTimeout
		chatErr.Message = timeoutMessage
	case ai.ReasonAuth:
		if upErr.Detail != "" {
			chatErr.Message = upErr.Detail
		}
	}

	s.logger.Warn("chat turn failed",
		"conversation_id", id,
		"code", chatErr.Code,
		"reason", upErr.Reason,
		"error", err)
	return chatErr
}
