package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompletions struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	calls    atomic.Int32
	handler  func(w http.ResponseWriter, r *http.Request, call int32) bool
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := f.calls.Add(1)

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
	}

	if f.handler != nil && f.handler(w, r, call) {
		return
	}

	last := req.Messages[len(req.Messages)-1].Content
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": "reply to " + last},
		}},
	})
}

func (f *fakeCompletions) lastRequest() openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestBackend(t *testing.T, fake *fakeCompletions, maxHistory int) *OpenAIBackend {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	b := NewOpenAIBackend(&config.BackendConfig{
		BaseURL:     server.URL + "/v1/",
		APIKey:      "test-key",
		Model:       "test-model",
		MaxHistory:  maxHistory,
		SessionIdle: time.Hour,
		Timeout:     5 * time.Second,
	}, logger)
	b.retryBase = time.Millisecond
	return b
}

func TestCompleteRequiresInitialize(t *testing.T) {
	fake := &fakeCompletions{}
	b := newTestBackend(t, fake, 10)

	_, err := b.Complete(context.Background(), 1, "привет")

	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, fake.calls.Load())
}

func TestCompleteSendsSystemAndPrompt(t *testing.T) {
	fake := &fakeCompletions{}
	b := newTestBackend(t, fake, 10)
	require.NoError(t, b.Initialize(context.Background(), "Ты Ами."))

	reply, err := b.Complete(context.Background(), 1, "привет")
	require.NoError(t, err)
	assert.Equal(t, "reply to привет", reply)

	req := fake.lastRequest()
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Ты Ами.", req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
}

func TestSessionRollsOverAtCapacity(t *testing.T) {
	fake := &fakeCompletions{}
	b := newTestBackend(t, fake, 3)
	require.NoError(t, b.Initialize(context.Background(), "system"))
	ctx := context.Background()

	_, err := b.Complete(ctx, 1, "one")
	require.NoError(t, err)
	_, err = b.Complete(ctx, 1, "two")
	require.NoError(t, err)
	assert.Equal(t, []Exchange{
		{Query: "one", Reply: "reply to one"},
		{Query: "two", Reply: "reply to two"},
	}, b.History(1))

	_, err = b.Complete(ctx, 1, "three")
	require.NoError(t, err)
	assert.Len(t, fake.lastRequest().Messages, 6, "system, two exchanges and the prompt")
	assert.Empty(t, b.History(1), "history is cleared once the cap is reached")

	_, err = b.Complete(ctx, 1, "four")
	require.NoError(t, err)
	assert.Len(t, fake.lastRequest().Messages, 2)
}

func TestSessionsArePerChat(t *testing.T) {
	fake := &fakeCompletions{}
	b := newTestBackend(t, fake, 10)
	require.NoError(t, b.Initialize(context.Background(), "system"))
	ctx := context.Background()

	_, err := b.Complete(ctx, 1, "secret of chat one")
	require.NoError(t, err)
	_, err = b.Complete(ctx, 2, "hello")
	require.NoError(t, err)

	for _, m := range fake.lastRequest().Messages {
		assert.NotContains(t, m.Content, "secret")
	}
	assert.Len(t, b.History(1), 1)
	assert.Len(t, b.History(2), 1)
	assert.Equal(t, 2, b.ActiveSessions())
}

func TestInitializeClearsSessions(t *testing.T) {
	fake := &fakeCompletions{}
	b := newTestBackend(t, fake, 10)
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx, "first"))

	_, err := b.Complete(ctx, 1, "hello")
	require.NoError(t, err)

	require.NoError(t, b.Initialize(ctx, "second"))
	assert.Zero(t, b.ActiveSessions())

	_, err = b.Complete(ctx, 1, "again")
	require.NoError(t, err)
	req := fake.lastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "second", req.Messages[0].Content)
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"message":"boom","type":"test_error"}}`))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	fake := &fakeCompletions{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) bool {
		writeError(w, http.StatusBadRequest)
		return true
	}}
	b := newTestBackend(t, fake, 10)
	require.NoError(t, b.Initialize(context.Background(), "system"))

	_, err := b.Complete(context.Background(), 1, "hello")

	require.Error(t, err)
	assert.EqualValues(t, 1, fake.calls.Load())
	assert.Empty(t, b.History(1), "failed exchanges are not recorded")
}

func TestServerErrorIsRetried(t *testing.T) {
	fake := &fakeCompletions{handler: func(w http.ResponseWriter, _ *http.Request, call int32) bool {
		if call == 1 {
			writeError(w, http.StatusBadGateway)
			return true
		}
		return false
	}}
	b := newTestBackend(t, fake, 10)
	require.NoError(t, b.Initialize(context.Background(), "system"))

	reply, err := b.Complete(context.Background(), 1, "hello")

	require.NoError(t, err)
	assert.Equal(t, "reply to hello", reply)
	assert.EqualValues(t, 2, fake.calls.Load())
}

func TestCompleteTimesOut(t *testing.T) {
	fake := &fakeCompletions{handler: func(w http.ResponseWriter, r *http.Request, _ int32) bool {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		writeError(w, http.StatusGatewayTimeout)
		return true
	}}
	b := newTestBackend(t, fake, 10)
	b.cfg.Timeout = 50 * time.Millisecond
	require.NoError(t, b.Initialize(context.Background(), "system"))

	start := time.Now()
	_, err := b.Complete(context.Background(), 1, "hello")

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
