package models

import (
	"time"
)

// ChatKind is the Telegram chat type the message arrived in
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// ReplyTarget is the message an inbound message replies to
type ReplyTarget struct {
	Text           string
	AuthorID       int64
	AuthorUsername string
	AuthorName     string
}

// InboundMessage is one chat message as seen by the response pipeline.
// It is built once by the transport and never modified afterwards.
type InboundMessage struct {
	Text        string
	UserID      int64
	Username    string
	DisplayName string
	ChatID      int64
	ChatKind    ChatKind
	MessageID   int
	ReplyTo     *ReplyTarget
	ThreadID    int
	Date        time.Time
}

// IsPrivate reports whether the message came from a one-to-one chat
func (m *InboundMessage) IsPrivate() bool {
	return m.ChatKind == ChatPrivate
}

// ContextEntry is one stored message text of a (chat, user) bucket
type ContextEntry struct {
	Text      string
	Timestamp time.Time
}

// ActionCategory selects the response branch for a message
type ActionCategory string

const (
	ActionNone           ActionCategory = ""
	ActionVoice          ActionCategory = "voice_generation"
	ActionImageSearch    ActionCategory = "image_search"
	ActionInternetSearch ActionCategory = "internet_search"
	// ActionBotMention only gates replies and is never returned as an action.
	ActionBotMention ActionCategory = "bot_mention"
)

// TriggerDecision is the outcome of the trigger engine for one message
type TriggerDecision struct {
	ShouldReply bool
	Action      ActionCategory
}

// CacheEntry represents a cached collaborator response
type CacheEntry struct {
	Query     string
	Kind      string
	Value     string
	CreatedAt time.Time
}
