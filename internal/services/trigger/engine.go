// Package trigger decides whether the bot reacts to a message and which
// response branch it takes.
package trigger

import (
	"math/rand"
	"strings"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/models"
)

// Table maps action categories to keyword substrings. Categories keep their
// registration order, which is the match order of ClassifyAction.
type Table struct {
	order    []models.ActionCategory
	keywords map[models.ActionCategory][]string
}

// NewTable returns an empty keyword table
func NewTable() *Table {
	return &Table{keywords: make(map[models.ActionCategory][]string)}
}

// TableFromConfig builds a table from the configured keyword rows
func TableFromConfig(actions []config.ActionKeyword) *Table {
	t := NewTable()
	for _, action := range actions {
		t.AddKeywords(models.ActionCategory(action.Name), action.Keywords...)
	}
	return t
}

// AddKeywords registers keywords for a category. Keywords are lowercased and
// duplicates are ignored. A new category is appended to the match order.
func (t *Table) AddKeywords(category models.ActionCategory, keywords ...string) {
	existing, known := t.keywords[category]
	if !known {
		t.order = append(t.order, category)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, kw := range existing {
		seen[kw] = struct{}{}
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		existing = append(existing, kw)
	}
	t.keywords[category] = existing
}

// Keywords returns a copy of the keywords of a category
func (t *Table) Keywords(category models.ActionCategory) []string {
	return append([]string(nil), t.keywords[category]...)
}

// Categories returns the categories in match order
func (t *Table) Categories() []models.ActionCategory {
	return append([]models.ActionCategory(nil), t.order...)
}

func (t *Table) clone() *Table {
	c := NewTable()
	for _, category := range t.order {
		c.order = append(c.order, category)
		c.keywords[category] = append([]string(nil), t.keywords[category]...)
	}
	return c
}

func (t *Table) matches(category models.ActionCategory, lowered string) bool {
	for _, kw := range t.keywords[category] {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Engine is immutable after construction and safe for concurrent use
type Engine struct {
	table       *Table
	botUserID   int64
	replyChance float64
	random      func() float64
}

// Option customises an Engine
type Option func(*Engine)

// WithRandom replaces the source of the random reply draw
func WithRandom(random func() float64) Option {
	return func(e *Engine) { e.random = random }
}

// NewEngine freezes a copy of table. Later changes to table are not seen.
func NewEngine(table *Table, botUserID int64, replyChance float64, opts ...Option) *Engine {
	e := &Engine{
		table:       table.clone(),
		botUserID:   botUserID,
		replyChance: replyChance,
		random:      rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig builds an engine from the triggers section
func NewEngineFromConfig(cfg *config.TriggersConfig, opts ...Option) *Engine {
	return NewEngine(TableFromConfig(cfg.Actions), cfg.BotUserID, cfg.RandomReplyChance, opts...)
}

// ShouldReply gates whether the message is answered at all
func (e *Engine) ShouldReply(msg *models.InboundMessage) bool {
	if msg.IsPrivate() {
		return true
	}
	if msg.ReplyTo != nil && e.botUserID != 0 && msg.ReplyTo.AuthorID == e.botUserID {
		return true
	}
	if e.table.matches(models.ActionBotMention, strings.ToLower(msg.Text)) {
		return true
	}
	return e.random() < e.replyChance
}

// ClassifyAction returns the first category, in registration order, with a
// keyword contained in the text. Bot mentions are never an action.
func (e *Engine) ClassifyAction(msg *models.InboundMessage) models.ActionCategory {
	lowered := strings.ToLower(msg.Text)
	if lowered == "" {
		return models.ActionNone
	}
	for _, category := range e.table.order {
		if category == models.ActionBotMention {
			continue
		}
		if e.table.matches(category, lowered) {
			return category
		}
	}
	return models.ActionNone
}

// Decide runs both queries; the action is only computed for messages that
// will be answered.
func (e *Engine) Decide(msg *models.InboundMessage) models.TriggerDecision {
	if !e.ShouldReply(msg) {
		return models.TriggerDecision{}
	}
	return models.TriggerDecision{ShouldReply: true, Action: e.ClassifyAction(msg)}
}
