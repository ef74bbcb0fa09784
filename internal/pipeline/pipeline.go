// Package pipeline turns one inbound message into a reply: it records the
// message in the context store, assembles the prompt and dispatches it to
// the language model, then applies the action branch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/middleware"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/ami-tgbot-go/internal/services/ai"
	"github.com/ami-tgbot-go/internal/services/search"
	"github.com/ami-tgbot-go/internal/services/sentiment"
	"github.com/ami-tgbot-go/internal/services/voice"
	"github.com/sirupsen/logrus"
)

// ErrNoReply means the backend produced nothing and the message must be
// dropped without an answer.
var ErrNoReply = errors.New("no reply from backend")

// ContextStore is the conversation memory the pipeline reads and appends to
type ContextStore interface {
	Update(chatID, userID int64, text string)
	Recent(chatID, userID int64, n int) []models.ContextEntry
}

// MoodClassifier labels the mood of a message
type MoodClassifier interface {
	Classify(text string) sentiment.Label
}

// ReplyKind is how a reply is delivered
type ReplyKind string

const (
	ReplyText  ReplyKind = "text"
	ReplyVoice ReplyKind = "voice"
	ReplyImage ReplyKind = "image"
)

// Reply is the outcome of Respond
type Reply struct {
	Kind     ReplyKind
	Text     string
	Voice    []byte
	ImageURL string
	// ImageMissing marks an image request that found no picture; the text
	// is delivered with an apology.
	ImageMissing bool
	Mood         sentiment.Label
}

// Pipeline is safe for concurrent use
type Pipeline struct {
	store      ContextStore
	classifier MoodClassifier
	backend    ai.Backend
	searcher   search.Searcher
	synth      voice.Synthesizer

	promptHistory    int
	searchTrigger    string
	searchContextMax int
	imageCount       int

	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// Deps groups the collaborators of a Pipeline
type Deps struct {
	Store      ContextStore
	Classifier MoodClassifier
	Backend    ai.Backend
	Searcher   search.Searcher
	Synth      voice.Synthesizer
	Metrics    *middleware.Metrics
	Logger     *logrus.Logger
}

// New creates a pipeline
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		store:            deps.Store,
		classifier:       deps.Classifier,
		backend:          deps.Backend,
		searcher:         deps.Searcher,
		synth:            deps.Synth,
		promptHistory:    cfg.Context.PromptHistory,
		searchTrigger:    strings.ToLower(cfg.Triggers.SearchTrigger),
		searchContextMax: cfg.Triggers.SearchContextMax,
		imageCount:       cfg.Search.ImageCount,
		metrics:          deps.Metrics,
		logger:           deps.Logger,
	}
}

// BuildAndDispatch records the message, builds the prompt and returns the
// backend reply verbatim. A backend failure yields ErrNoReply.
func (p *Pipeline) BuildAndDispatch(ctx context.Context, msg *models.InboundMessage) (string, error) {
	reply, _, err := p.dispatch(ctx, msg)
	return reply, err
}

// Respond runs BuildAndDispatch and applies the action branch
func (p *Pipeline) Respond(ctx context.Context, msg *models.InboundMessage, action models.ActionCategory) (*Reply, error) {
	switch action {
	case models.ActionVoice:
		return p.respondVoice(ctx, msg)
	case models.ActionImageSearch:
		return p.respondImage(ctx, msg)
	default:
		text, mood, err := p.dispatch(ctx, msg)
		if err != nil {
			return nil, err
		}
		return &Reply{Kind: ReplyText, Text: text, Mood: mood}, nil
	}
}

func (p *Pipeline) respondVoice(ctx context.Context, msg *models.InboundMessage) (*Reply, error) {
	text, mood, err := p.dispatch(ctx, msg)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Kind: ReplyText, Text: text, Mood: mood}
	if p.synth == nil {
		return reply, nil
	}

	audio, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		p.logger.WithError(err).WithField("chat_id", msg.ChatID).Warn("Speech synthesis failed, replying with text")
		return reply, nil
	}

	reply.Kind = ReplyVoice
	reply.Voice = audio
	return reply, nil
}

func (p *Pipeline) respondImage(ctx context.Context, msg *models.InboundMessage) (*Reply, error) {
	var (
		wg     sync.WaitGroup
		images []string
	)
	if p.searcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := p.searcher.SearchImages(ctx, msg.Text, p.imageCount)
			if err != nil {
				p.logger.WithError(err).WithField("chat_id", msg.ChatID).Warn("Image search failed")
				return
			}
			images = found
		}()
	}

	text, mood, err := p.dispatch(ctx, msg)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	if len(images) == 0 {
		return &Reply{Kind: ReplyText, Text: text, ImageMissing: true, Mood: mood}, nil
	}
	return &Reply{Kind: ReplyImage, Text: text, ImageURL: images[0], Mood: mood}, nil
}

func (p *Pipeline) dispatch(ctx context.Context, msg *models.InboundMessage) (string, sentiment.Label, error) {
	p.store.Update(msg.ChatID, msg.UserID, msg.Text)
	history := p.store.Recent(msg.ChatID, msg.UserID, p.promptHistory)

	mood := p.classifier.Classify(msg.Text)
	p.metrics.RecordMood(string(mood))

	prompt := BuildPrompt(msg, history, mood)

	lowered := strings.ToLower(msg.Text)
	if p.searcher != nil && p.searchTrigger != "" && strings.Contains(lowered, p.searchTrigger) {
		found, err := p.searcher.SearchAndExtract(ctx, lowered)
		if err != nil {
			p.logger.WithError(err).WithField("chat_id", msg.ChatID).Warn("Search failed, continuing without search context")
		} else if found != "" {
			prompt += "\n[Search context: " + truncateRunes(found, p.searchContextMax) + "]"
		}
	}

	start := time.Now()
	reply, err := p.backend.Complete(ctx, msg.ChatID, prompt)
	if err != nil {
		p.metrics.RecordBackendRequest("error", time.Since(start))
		p.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id": msg.ChatID,
			"user_id": msg.UserID,
		}).Error("Backend completion failed, dropping message")
		return "", mood, fmt.Errorf("%w: %w", ErrNoReply, err)
	}
	p.metrics.RecordBackendRequest("success", time.Since(start))

	if strings.TrimSpace(reply) == "" {
		return "", mood, ErrNoReply
	}

	p.logger.WithFields(logrus.Fields{
		"chat_id": msg.ChatID,
		"user_id": msg.UserID,
		"mood":    mood,
	}).Debug("Reply generated")
	return reply, mood, nil
}

// BuildPrompt formats the prompt sent to the backend
func BuildPrompt(msg *models.InboundMessage, history []models.ContextEntry, mood sentiment.Label) string {
	var parts []string
	if len(history) > 0 {
		parts = append(parts, "Previous messages:")
		for _, entry := range history {
			parts = append(parts, "- "+entry.Text)
		}
	}

	parts = append(parts,
		"\nCurrent message: "+msg.Text,
		fmt.Sprintf("[From user: %s (@%s)]", msg.DisplayName, msg.Username),
		fmt.Sprintf("[Your Mood: %s]", mood),
	)
	if msg.ReplyTo != nil {
		parts = append(parts, fmt.Sprintf("[Replying to: %s]", msg.ReplyTo.Text))
	}

	return strings.Join(parts, "\n")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
