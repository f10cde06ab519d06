package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/llms"
)

// LangchainChatModel adapts a langchaingo llms.Model to eino's chat model interface.
type LangchainChatModel struct {
	llm         llms.Model
	temperature *float32
}

var _ model.BaseChatModel = (*LangchainChatModel)(nil)

// NewLangchainChatModel wraps llm; temperature is the default when no call option overrides it.
func NewLangchainChatModel(llm llms.Model, temperature *float32) *LangchainChatModel {
	return &LangchainChatModel{llm: llm, temperature: temperature}
}

// Generate converts the eino history, calls the model, and returns the first
// choice. Failures are *UpstreamError, classified from what the HTTP layer saw.
func (m *LangchainChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Temperature: m.temperature}, opts...)

	var callOpts []llms.CallOption
	if options.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*options.Temperature)))
	}
	if options.MaxTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*options.MaxTokens))
	}
	if options.Model != nil {
		callOpts = append(callOpts, llms.WithModel(*options.Model))
	}

	ctx, rec := withCallRecorder(ctx)
	response, err := m.llm.GenerateContent(ctx, toMessageContents(input), callOpts...)
	if err != nil {
		upErr := rec.classify(err)
		if ctxErr := ctx.Err(); upErr.Reason == ReasonOther && ctxErr != nil {
			upErr = Classify(fmt.Errorf("%w: %v", ctxErr, err))
		}
		return nil, upErr
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("no response choices")
	}

	return schema.AssistantMessage(response.Choices[0].Content, nil), nil
}

// Stream delivers the full reply as a single chunk.
func (m *LangchainChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func toMessageContents(messages []*schema.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		out = append(out, llms.MessageContent{
			Role:  toChatMessageType(msg.Role),
			Parts: toContentParts(msg),
		})
	}
	return out
}

func toChatMessageType(role schema.RoleType) llms.ChatMessageType {
	switch role {
	case schema.System:
		return llms.ChatMessageTypeSystem
	case schema.Assistant:
		return llms.ChatMessageTypeAI
	case schema.Tool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func toContentParts(msg *schema.Message) []llms.ContentPart {
	if len(msg.MultiContent) == 0 {
		return []llms.ContentPart{llms.TextContent{Text: msg.Content}}
	}

	parts := make([]llms.ContentPart, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			parts = append(parts, llms.TextContent{Text: part.Text})
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			parts = append(parts, llms.ImageURLContent{
				URL:    part.ImageURL.URL,
				Detail: string(part.ImageURL.Detail),
			})
		}
	}
	return parts
}
