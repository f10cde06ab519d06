package chat_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/projectq/projectq/backend/internal/model/chat"
	"github.com/projectq/projectq/backend/internal/observability"
	"github.com/projectq/projectq/backend/internal/service/ai"
	chat "github.com/projectq/projectq/backend/internal/service/chat"
)

type fakeInvoker struct {
	mu        sync.Mutex
	histories [][]*schema.Message
	respond   func(ctx context.Context, history []*schema.Message) (string, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, history []*schema.Message) (string, error) {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	f.mu.Unlock()
	if f.respond == nil {
		return fmt.Sprintf("reply %d", len(history)), nil
	}
	return f.respond(ctx, history)
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.histories)
}

func newTestService(invoker chat.Invoker, opts chat.Options) (*chat.Service, *chat.Store) {
	store := chat.NewStore(chat.StoreConfig{}, nil)
	return chat.NewService(store, invoker, opts, nil), store
}

func requireChatError(t *testing.T, err error, code chatmodel.ErrorCode, message string) {
	t.Helper()
	var chatErr *chatmodel.Error
	require.True(t, errors.As(err, &chatErr), "expected *chat.Error, got %T", err)
	assert.Equal(t, code, chatErr.Code)
	assert.Equal(t, message, chatErr.Message)
}

var pngData = base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a})

func TestChatCreatesConversationAndRecordsTurn(t *testing.T) {
	invoker := &fakeInvoker{}
	svc, store := newTestService(invoker, chat.Options{})

	resp, err := svc.Chat(context.Background(), chatmodel.Request{Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "reply 1", resp.Reply)

	history, err := store.History(resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, schema.Assistant, history[1].Role)
	assert.Equal(t, "reply 1", history[1].Content)

	resp2, err := svc.Chat(context.Background(), chatmodel.Request{Message: "again", ConversationID: resp.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, resp.ConversationID, resp2.ConversationID)
	assert.Equal(t, "reply 3", resp2.Reply)
}

func TestChatRejectsEmptyTurn(t *testing.T) {
	invoker := &fakeInvoker{}
	svc, store := newTestService(invoker, chat.Options{})

	for _, msg := range []string{"", "  \t\n"} {
		_, err := svc.Chat(context.Background(), chatmodel.Request{Message: msg, ConversationID: "c1"})
		requireChatError(t, err, chatmodel.CodeInvalidRequest, "message or image is required")
	}
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, invoker.calls())
}

func TestChatRejectsInvalidImageWithoutSideEffects(t *testing.T) {
	invoker := &fakeInvoker{}
	svc, store := newTestService(invoker, chat.Options{})

	_, err := svc.Chat(context.Background(), chatmodel.Request{
		Message:        "look",
		ConversationID: "c1",
		Image:          &chatmodel.ImageAttachment{Data: pngData, MimeType: chatmodel.MIMETypeJPEG},
	})
	requireChatError(t, err, chatmodel.CodeInvalidRequest, "Image content does not match declared MIME type")
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, invoker.calls())
}

func TestChatAcceptsImageOnlyTurn(t *testing.T) {
	invoker := &fakeInvoker{}
	svc, store := newTestService(invoker, chat.Options{})

	resp, err := svc.Chat(context.Background(), chatmodel.Request{
		Message: " ",
		Image:   &chatmodel.ImageAttachment{Data: pngData, MimeType: chatmodel.MIMETypePNG},
	})
	require.NoError(t, err)

	history, err := store.History(resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, history[0].MultiContent, 1)
	assert.Equal(t, "data:image/png;base64,"+pngData, history[0].MultiContent[0].ImageURL.URL)
}

func TestChatClassifiesUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    chatmodel.ErrorCode
		message string
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), chatmodel.CodeTimeout, "Request timed out. Please try again."},
		{"typed timeout", &ai.UpstreamError{Reason: ai.ReasonTimeout}, chatmodel.CodeTimeout, "Request timed out. Please try again."},
		{"auth", &ai.UpstreamError{Reason: ai.ReasonAuth, Detail: ai.InvalidAPIKeyDetail}, chatmodel.CodeUpstreamError, "Invalid API key"},
		{"other", errors.New("model exploded"), chatmodel.CodeUpstreamError, chatmodel.DefaultErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoker := &fakeInvoker{respond: func(context.Context, []*schema.Message) (string, error) {
				return "", tt.err
			}}
			svc, store := newTestService(invoker, chat.Options{})

			_, err := svc.Chat(context.Background(), chatmodel.Request{Message: "hi", ConversationID: "c1"})
			requireChatError(t, err, tt.code, tt.message)

			history, err := store.History("c1")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, schema.User, history[0].Role)
		})
	}
}

func TestChatTimesOutSlowUpstream(t *testing.T) {
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })

	// Ignores its context on purpose.
	invoker := &fakeInvoker{respond: func(context.Context, []*schema.Message) (string, error) {
		<-unblock
		return "too late", nil
	}}
	svc, store := newTestService(invoker, chat.Options{UpstreamTimeout: 30 * time.Millisecond})

	start := time.Now()
	_, err := svc.Chat(context.Background(), chatmodel.Request{Message: "hi", ConversationID: "slow"})
	requireChatError(t, err, chatmodel.CodeTimeout, "Request timed out. Please try again.")
	assert.Less(t, time.Since(start), time.Second)

	history, err := store.History("slow")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestChatSerialisesConcurrentTurnsOnOneConversation(t *testing.T) {
	var active, overlaps atomic.Int32
	invoker := &fakeInvoker{respond: func(_ context.Context, history []*schema.Message) (string, error) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer active.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return fmt.Sprintf("reply %d", len(history)), nil
	}}
	svc, store := newTestService(invoker, chat.Options{})

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Chat(context.Background(), chatmodel.Request{Message: fmt.Sprintf("q%d", i), ConversationID: "shared"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
	history, err := store.History("shared")
	require.NoError(t, err)
	require.Len(t, history, 2*turns)
	for i, msg := range history {
		if i%2 == 0 {
			assert.Equal(t, schema.User, msg.Role)
		} else {
			assert.Equal(t, schema.Assistant, msg.Role)
		}
	}
}

func TestChatRecordsOutcomeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	invoker := &fakeInvoker{}
	svc, _ := newTestService(invoker, chat.Options{Metrics: metrics})

	_, err := svc.Chat(context.Background(), chatmodel.Request{Message: "hi"})
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), chatmodel.Request{})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChatTurns.WithLabelValues(observability.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChatTurns.WithLabelValues(string(chatmodel.CodeInvalidRequest))))
}

func TestConversationInfo(t *testing.T) {
	svc, _ := newTestService(&fakeInvoker{}, chat.Options{})

	resp, err := svc.Chat(context.Background(), chatmodel.Request{Message: "hi"})
	require.NoError(t, err)

	info, ok := svc.Conversation(resp.ConversationID)
	require.True(t, ok)
	assert.Equal(t, 2, info.MessageCount)

	_, ok = svc.Conversation("unknown")
	assert.False(t, ok)
}
