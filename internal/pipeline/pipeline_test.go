package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/ami-tgbot-go/internal/services/ai"
	"github.com/ami-tgbot-go/internal/services/contextstore"
	"github.com/ami-tgbot-go/internal/services/search"
	"github.com/ami-tgbot-go/internal/services/sentiment"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct{ mock.Mock }

func (m *mockBackend) Initialize(ctx context.Context, system string) error {
	return m.Called(ctx, system).Error(0)
}

func (m *mockBackend) Complete(ctx context.Context, chatID int64, prompt string) (string, error) {
	args := m.Called(ctx, chatID, prompt)
	return args.String(0), args.Error(1)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) SearchAndExtract(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}

func (m *mockSearcher) SearchImages(ctx context.Context, query string, count int) ([]string, error) {
	args := m.Called(ctx, query, count)
	images, _ := args.Get(0).([]string)
	return images, args.Error(1)
}

type mockSynth struct{ mock.Mock }

func (m *mockSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	args := m.Called(ctx, text)
	audio, _ := args.Get(0).([]byte)
	return audio, args.Error(1)
}

type fixture struct {
	pipeline *Pipeline
	store    *contextstore.Store
	backend  *mockBackend
	searcher *mockSearcher
	synth    *mockSynth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Context: config.ContextConfig{TTL: time.Hour, MaxBuckets: 100, MaxEntries: 10, PromptHistory: 5},
		Triggers: config.TriggersConfig{
			SearchTrigger:    "найди",
			SearchContextMax: 1000,
		},
		Search: config.SearchConfig{ImageCount: 5},
	}

	f := &fixture{
		store:    contextstore.New(&cfg.Context, logger),
		backend:  &mockBackend{},
		searcher: &mockSearcher{},
		synth:    &mockSynth{},
	}
	f.pipeline = New(cfg, Deps{
		Store:      f.store,
		Classifier: sentiment.NewClassifier(),
		Backend:    f.backend,
		Searcher:   f.searcher,
		Synth:      f.synth,
		Logger:     logger,
	})
	return f
}

func message(text string) *models.InboundMessage {
	return &models.InboundMessage{
		Text:        text,
		UserID:      42,
		Username:    "ivan",
		DisplayName: "Иван",
		ChatID:      -100,
		ChatKind:    models.ChatSupergroup,
	}
}

func TestBuildPrompt(t *testing.T) {
	msg := message("как дела?")
	msg.ReplyTo = &models.ReplyTarget{Text: "я бот", AuthorID: 1}
	history := []models.ContextEntry{{Text: "привет"}, {Text: "как дела?"}}

	got := BuildPrompt(msg, history, sentiment.Neutral)

	want := "Previous messages:\n" +
		"- привет\n" +
		"- как дела?\n" +
		"\n" +
		"Current message: как дела?\n" +
		"[From user: Иван (@ivan)]\n" +
		"[Your Mood: нейтральное]\n" +
		"[Replying to: я бот]"
	assert.Equal(t, want, got)
}

func TestBuildPromptWithoutHistory(t *testing.T) {
	got := BuildPrompt(message("привет"), nil, sentiment.Positive)

	assert.Equal(t, "\nCurrent message: привет\n[From user: Иван (@ivan)]\n[Your Mood: позитивное]", got)
}

func TestBuildAndDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		f.store.Update(-100, 42, "старое")
	}

	f.backend.On("Complete", ctx, int64(-100), mock.MatchedBy(func(prompt string) bool {
		return strings.Count(prompt, "\n- ") == 5 &&
			strings.Contains(prompt, "- всё отлично\n") &&
			strings.Contains(prompt, "[Your Mood: восторженное]") &&
			!strings.Contains(prompt, "Search context")
	})).Return("Рада слышать!", nil).Once()

	reply, err := f.pipeline.BuildAndDispatch(ctx, message("всё отлично"))

	require.NoError(t, err)
	assert.Equal(t, "Рада слышать!", reply)
	assert.Len(t, f.store.Get(-100, 42), 7)
	f.backend.AssertExpectations(t)
	f.searcher.AssertNotCalled(t, "SearchAndExtract", mock.Anything, mock.Anything)
}

func TestBuildAndDispatchAddsSearchContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat("ж", 1500)

	f.searcher.On("SearchAndExtract", ctx, "найди погоду в москве").Return(long, nil).Once()
	f.backend.On("Complete", ctx, int64(-100), mock.MatchedBy(func(prompt string) bool {
		return strings.HasSuffix(prompt, "\n[Search context: "+strings.Repeat("ж", 1000)+"]")
	})).Return("Солнечно", nil).Once()

	reply, err := f.pipeline.BuildAndDispatch(ctx, message("Найди погоду в Москве"))

	require.NoError(t, err)
	assert.Equal(t, "Солнечно", reply)
	f.searcher.AssertExpectations(t)
	f.backend.AssertExpectations(t)
}

func TestBuildAndDispatchSwallowsSearchFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.searcher.On("SearchAndExtract", ctx, mock.Anything).Return("", search.ErrNoResults).Once()
	f.backend.On("Complete", ctx, int64(-100), mock.MatchedBy(func(prompt string) bool {
		return !strings.Contains(prompt, "Search context")
	})).Return("Не нашла, но вот что знаю", nil).Once()

	reply, err := f.pipeline.BuildAndDispatch(ctx, message("найди что-нибудь"))

	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	f.backend.AssertExpectations(t)
}

func TestBuildAndDispatchBackendFailureDropsReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	backendErr := errors.New("connection reset")

	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("", backendErr).Once()

	reply, err := f.pipeline.BuildAndDispatch(ctx, message("привет"))

	assert.Empty(t, reply)
	assert.ErrorIs(t, err, ErrNoReply)
	assert.ErrorIs(t, err, backendErr)
	assert.Len(t, f.store.Get(-100, 42), 1, "the message is still remembered")
}

func TestBuildAndDispatchNotInitialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("", ai.ErrNotInitialized).Once()

	_, err := f.pipeline.BuildAndDispatch(ctx, message("привет"))

	assert.ErrorIs(t, err, ErrNoReply)
	assert.ErrorIs(t, err, ai.ErrNotInitialized)
}

func TestBuildAndDispatchEmptyReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("  ", nil).Once()

	_, err := f.pipeline.BuildAndDispatch(ctx, message("привет"))
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestRespondText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("ответ", nil)

	for _, action := range []models.ActionCategory{models.ActionNone, models.ActionInternetSearch} {
		reply, err := f.pipeline.Respond(ctx, message("загугли новости"), action)
		require.NoError(t, err)
		assert.Equal(t, ReplyText, reply.Kind)
		assert.Equal(t, "ответ", reply.Text)
	}
}

func TestRespondVoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("слушай", nil)
	f.synth.On("Synthesize", ctx, "слушай").Return([]byte("mp3"), nil).Once()

	reply, err := f.pipeline.Respond(ctx, message("озвучь"), models.ActionVoice)

	require.NoError(t, err)
	assert.Equal(t, ReplyVoice, reply.Kind)
	assert.Equal(t, []byte("mp3"), reply.Voice)
	assert.Equal(t, "слушай", reply.Text)
}

func TestRespondVoiceFallsBackToText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("слушай", nil)
	f.synth.On("Synthesize", ctx, "слушай").Return(nil, errors.New("quota exceeded")).Once()

	reply, err := f.pipeline.Respond(ctx, message("озвучь"), models.ActionVoice)

	require.NoError(t, err)
	assert.Equal(t, ReplyText, reply.Kind)
	assert.Equal(t, "слушай", reply.Text)
	assert.Nil(t, reply.Voice)
}

func TestRespondVoiceBackendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("", errors.New("down"))

	_, err := f.pipeline.Respond(ctx, message("озвучь"), models.ActionVoice)

	assert.ErrorIs(t, err, ErrNoReply)
	f.synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestRespondImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("вот кот", nil)
	f.searcher.On("SearchImages", ctx, "Покажи фото кота", 5).
		Return([]string{"https://img.example/cat.jpg", "https://img.example/cat2.jpg"}, nil).Once()

	reply, err := f.pipeline.Respond(ctx, message("Покажи фото кота"), models.ActionImageSearch)

	require.NoError(t, err)
	assert.Equal(t, ReplyImage, reply.Kind)
	assert.Equal(t, "https://img.example/cat.jpg", reply.ImageURL)
	assert.Equal(t, "вот кот", reply.Text)
	f.searcher.AssertExpectations(t)
}

func TestRespondImageMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.On("Complete", ctx, int64(-100), mock.Anything).Return("вот кот", nil)
	f.searcher.On("SearchImages", ctx, mock.Anything, 5).Return(nil, errors.New("quota")).Once()

	reply, err := f.pipeline.Respond(ctx, message("фото кота"), models.ActionImageSearch)

	require.NoError(t, err)
	assert.Equal(t, ReplyText, reply.Kind)
	assert.True(t, reply.ImageMissing)
	assert.Equal(t, "вот кот", reply.Text)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "при", truncateRunes("привет", 3))
	assert.Equal(t, "привет", truncateRunes("привет", 10))
	assert.Equal(t, "привет", truncateRunes("привет", 0))
}
