package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ErrNotInitialized is returned by Complete before Initialize succeeded
var ErrNotInitialized = errors.New("language model backend is not initialized")

// Backend is a stateful conversational language model. Each chat keeps its
// own rolling history inside the backend.
type Backend interface {
	Initialize(ctx context.Context, systemInstructions string) error
	Complete(ctx context.Context, chatID int64, prompt string) (string, error)
}

const maxAttempts = 3

// OpenAIBackend talks to any OpenAI compatible chat completions endpoint
type OpenAIBackend struct {
	client *openai.Client
	cfg    *config.BackendConfig

	mu          sync.RWMutex
	system      string
	initialized bool

	sessions  *cache.Cache
	retryBase time.Duration
	logger    *logrus.Logger
}

// NewOpenAIBackend creates a backend. Initialize must be called before use.
func NewOpenAIBackend(cfg *config.BackendConfig, logger *logrus.Logger) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	idle := cfg.SessionIdle
	if idle <= 0 {
		idle = time.Hour
	}

	logger.WithFields(logrus.Fields{
		"baseURL":    clientConfig.BaseURL,
		"model":      cfg.Model,
		"maxHistory": cfg.MaxHistory,
		"timeout":    cfg.Timeout,
	}).Info("Language model backend configured")

	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(clientConfig),
		cfg:       cfg,
		sessions:  cache.New(idle, idle/2),
		retryBase: 2 * time.Second,
		logger:    logger,
	}
}

// Initialize sets the system instructions and drops every chat session
func (b *OpenAIBackend) Initialize(ctx context.Context, systemInstructions string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.system = systemInstructions
	b.initialized = true
	b.mu.Unlock()

	b.sessions.Flush()
	b.logger.WithField("promptLength", len(systemInstructions)).Info("Backend system instructions set")
	return nil
}

// Complete sends prompt in the context of the chat's session and returns
// the reply verbatim. The session history only grows on success.
func (b *OpenAIBackend) Complete(ctx context.Context, chatID int64, prompt string) (string, error) {
	b.mu.RLock()
	system, initialized := b.system, b.initialized
	b.mu.RUnlock()
	if !initialized {
		return "", ErrNotInitialized
	}

	session := b.session(chatID)
	session.mu.Lock()
	defer session.mu.Unlock()

	messages := make([]openai.ChatCompletionMessage, 0, 2*len(session.history)+2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, ex := range session.history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Query},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Reply},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	reply, err := b.completeWithRetry(ctx, messages)
	if err != nil {
		return "", err
	}

	session.record(prompt, reply)
	return reply, nil
}

func (b *OpenAIBackend) completeWithRetry(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply, err := b.complete(ctx, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxAttempts {
			break
		}

		b.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Backend request failed, retrying...")

		// 2s, 4s
		wait := b.retryBase << uint(attempt-1)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", fmt.Errorf("backend completion failed: %w", lastErr)
}

func (b *OpenAIBackend) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.cfg.Model,
		Messages:    messages,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no response from backend")
	}
	return resp.Choices[0].Message.Content, nil
}

// Client errors (4xx) and cancellations are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}

func (b *OpenAIBackend) session(chatID int64) *Session {
	key := strconv.FormatInt(chatID, 10)
	if v, ok := b.sessions.Get(key); ok {
		s := v.(*Session)
		b.sessions.SetDefault(key, s)
		return s
	}

	s := newSession(b.cfg.MaxHistory)
	if err := b.sessions.Add(key, s, cache.DefaultExpiration); err != nil {
		// lost the race against another message of the same chat
		if v, ok := b.sessions.Get(key); ok {
			return v.(*Session)
		}
	}
	return s
}

// History returns a copy of the stored exchanges of a chat
func (b *OpenAIBackend) History(chatID int64) []Exchange {
	v, ok := b.sessions.Get(strconv.FormatInt(chatID, 10))
	if !ok {
		return nil
	}
	return v.(*Session).Exchanges()
}

// ActiveSessions returns the number of chats with a live session
func (b *OpenAIBackend) ActiveSessions() int {
	return b.sessions.ItemCount()
}
