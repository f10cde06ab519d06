package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	reply *schema.Message
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func newTestService(t *testing.T, chatModel model.BaseChatModel, opts Options) *Service {
	t.Helper()
	svc, err := New(context.Background(), chatModel, opts, nil)
	require.NoError(t, err)
	return svc
}

func TestInvokeReturnsReply(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("hello there", nil)}
	svc := newTestService(t, fake, Options{Provider: "fake"})

	history := []*schema.Message{schema.UserMessage("hi")}
	reply, err := svc.Invoke(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, history, fake.input)
}

func TestInvokePrependsSystemPromptWithoutTouchingHistory(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("ok", nil)}
	svc := newTestService(t, fake, Options{SystemPrompt: "  Be brief.  "})

	history := []*schema.Message{schema.UserMessage("hi")}
	_, err := svc.Invoke(context.Background(), history)
	require.NoError(t, err)

	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, "Be brief.", fake.input[0].Content)
	assert.Len(t, history, 1)
}

func TestInvokeKeepsBracesInSystemPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("ok", nil)}
	svc := newTestService(t, fake, Options{SystemPrompt: "Answer as JSON like {\"answer\": ...}"})

	_, err := svc.Invoke(context.Background(), []*schema.Message{schema.UserMessage("what is {x}?")})
	require.NoError(t, err)

	require.Len(t, fake.input, 2)
	assert.Equal(t, `Answer as JSON like {"answer": ...}`, fake.input[0].Content)
	assert.Equal(t, "what is {x}?", fake.input[1].Content)
}

func TestInvokeClassifiesFailures(t *testing.T) {
	fake := &fakeChatModel{err: context.DeadlineExceeded}
	svc := newTestService(t, fake, Options{})

	_, err := svc.Invoke(context.Background(), nil)
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ReasonTimeout, upErr.Reason)
}

func TestInvokeRejectsEmptyResponse(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{}, Options{})

	_, err := svc.Invoke(context.Background(), nil)
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ReasonOther, upErr.Reason)
}

func TestUnavailableReportsInvalidKey(t *testing.T) {
	_, err := Unavailable{}.Invoke(context.Background(), nil)
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ReasonAuth, upErr.Reason)
	assert.Equal(t, InvalidAPIKeyDetail, upErr.Detail)
}
