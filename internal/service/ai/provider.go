package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/projectq/projectq/backend/internal/config"
)

// NewChatModel creates the chat model for cfg.ResolvedProvider().
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	switch provider := cfg.ResolvedProvider(); provider {
	case config.ProviderOpenAI:
		return newOpenAIChatModel(cfg.OpenAI)
	case config.ProviderArk:
		return newArkChatModel(ctx, cfg.Ark)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

func newOpenAIChatModel(cfg config.OpenAIConfig) (model.BaseChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("OpenAI API key required")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Transport: newStatusTransport(nil)}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}

	temperature := float32(cfg.Temperature)
	return NewLangchainChatModel(llm, &temperature), nil
}

func newArkChatModel(ctx context.Context, cfg config.ArkConfig) (model.BaseChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		temperature = &val
	}

	var topP *float32
	if cfg.TopP != nil {
		val := float32(*cfg.TopP)
		topP = &val
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark model: %w", err)
	}
	return chatModel, nil
}
