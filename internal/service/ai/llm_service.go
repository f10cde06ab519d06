package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/projectq/projectq/backend/internal/config"
)

// Service invokes the configured chat model with a conversation history.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	provider     string
	systemPrompt string
	logger       *slog.Logger
}

// Options tune a Service built around an existing chat model.
type Options struct {
	Provider     string
	SystemPrompt string
}

// New compiles the prompt chain around an already constructed chat model.
func New(ctx context.Context, chatModel model.BaseChatModel, opts Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// The system prompt goes in as a message, not "{system}", so braces in
	// configured text are never treated as template fields.
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system", true),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		provider:     opts.Provider,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		logger:       logger.With("component", "ai", "provider", opts.Provider),
	}, nil
}

// NewService builds the chat model for the configured provider.
func NewService(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Service, error) {
	provider := cfg.ResolvedProvider()
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return New(ctx, chatModel, Options{Provider: provider, SystemPrompt: cfg.SystemPrompt}, logger)
}

// Invoke sends the history to the model and returns the reply text.
// Failures are always *UpstreamError.
func (s *Service) Invoke(ctx context.Context, history []*schema.Message) (string, error) {
	start := time.Now()

	response, err := s.chain.Invoke(ctx, s.buildChainInput(history))
	if err != nil {
		upErr := Classify(err)
		s.logger.Warn("chat model invocation failed",
			"reason", upErr.Reason,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return "", upErr
	}
	if response == nil {
		return "", &UpstreamError{Reason: ReasonOther, Err: errors.New("chat model returned no message")}
	}

	s.logger.Debug("generated response",
		"history_len", len(history),
		"reply_len", len(response.Content),
		"duration_ms", time.Since(start).Milliseconds())
	return response.Content, nil
}

// buildChainInput fills the prompt template. The stored history is never modified.
func (s *Service) buildChainInput(history []*schema.Message) map[string]any {
	input := map[string]any{"history": history}
	if s.systemPrompt != "" {
		input["system"] = []*schema.Message{schema.SystemMessage(s.systemPrompt)}
	}
	return input
}

// Unavailable answers every invocation with a credential failure. It stands in
// for the model when no usable API key is configured.
type Unavailable struct{}

func (Unavailable) Invoke(context.Context, []*schema.Message) (string, error) {
	return "", &UpstreamError{
		Reason: ReasonAuth,
		Detail: InvalidAPIKeyDetail,
		Err:    errors.New("no language model credentials configured"),
	}
}
