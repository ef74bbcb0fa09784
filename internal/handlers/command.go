package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/i18n"
	"github.com/ami-tgbot-go/internal/middleware"
	"github.com/ami-tgbot-go/internal/services/sentiment"
	"github.com/ami-tgbot-go/internal/services/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Commands handled by CommandHandler
const (
	CmdStart = "start_ami"
	CmdStop  = "stop_ami"
	CmdSend  = "send_message"
	CmdMood  = "mood"
)

// MoodExplainer explains a mood classification
type MoodExplainer interface {
	Explain(text string) sentiment.Explanation
}

// CommandHandler handles telegram commands
type CommandHandler struct {
	bot        BotAPI
	config     *config.Config
	storage    *storage.Manager
	classifier MoodExplainer
	localizer  *i18n.Localizer
	logger     *logrus.Logger
	replier    *replier
	startedAt  int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot BotAPI,
	cfg *config.Config,
	storage *storage.Manager,
	classifier MoodExplainer,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:        bot,
		config:     cfg,
		storage:    storage,
		classifier: classifier,
		localizer:  localizer,
		logger:     logger,
		replier:    &replier{bot: bot, security: middleware.NewSecurityMiddleware(logger), logger: logger},
		startedAt:  time.Now().Unix(),
	}
}

// Handles reports whether the command is one of ours
func (h *CommandHandler) Handles(command string) bool {
	switch command {
	case CmdStart, CmdStop, CmdSend, CmdMood:
		return true
	}
	return false
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.Chat == nil || message.From == nil {
		return nil
	}
	if int64(message.Date) < h.startedAt {
		return nil
	}

	lang := h.localizer.DefaultLanguage()

	switch message.Command() {
	case CmdStart:
		return h.handleToggle(ctx, message, true, lang)
	case CmdStop:
		return h.handleToggle(ctx, message, false, lang)
	case CmdSend:
		return h.handleSendMessage(ctx, message, lang)
	case CmdMood:
		return h.handleMood(message, lang)
	}
	return nil
}

// handleToggle handles /start_ami and /stop_ami
func (h *CommandHandler) handleToggle(ctx context.Context, message *tgbotapi.Message, activate bool, lang string) error {
	chatID := message.Chat.ID

	if !isChatAdmin(h.bot, message, h.logger) {
		id := i18n.MsgStopAdminOnly
		if activate {
			id = i18n.MsgStartAdminOnly
		}
		return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, id, nil))
	}

	active, err := h.storage.IsChatActive(ctx, chatID)
	if err != nil {
		return err
	}

	var id string
	switch {
	case activate && active:
		id = i18n.MsgAlreadyActive
	case !activate && !active:
		id = i18n.MsgAlreadyInactive
	default:
		if err := h.storage.SetChatActive(ctx, chatID, activate); err != nil {
			return err
		}
		if err := h.storage.RememberChat(ctx, chatID); err != nil {
			h.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to remember chat")
		}
		id = i18n.MsgDeactivated
		if activate {
			id = i18n.MsgActivated
		}
		h.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"user_id": message.From.ID,
			"active":  activate,
		}).Info("Chat activation changed")
	}

	return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, id, nil))
}

// handleSendMessage broadcasts an announcement to every active chat
func (h *CommandHandler) handleSendMessage(ctx context.Context, message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID

	if h.config.Bot.AdminID == 0 || message.From.ID != h.config.Bot.AdminID {
		return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgAdminOnly, nil))
	}

	text := commandText(message)
	if text == "" {
		return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgSendUsage, nil))
	}

	chats, err := h.storage.ActiveChats(ctx)
	if err != nil {
		return err
	}

	announcement := h.localizer.Get(lang, i18n.MsgBroadcast, map[string]interface{}{"Text": text})
	sent, failed := 0, 0
	for _, target := range chats {
		if _, err := h.bot.Send(tgbotapi.NewMessage(target, announcement)); err != nil {
			h.logger.WithError(err).WithField("chat_id", target).Warn("Failed to deliver announcement")
			failed++
			continue
		}
		sent++
	}

	h.logger.WithFields(logrus.Fields{
		"sent":   sent,
		"failed": failed,
	}).Info("Announcement broadcast")

	return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgBroadcastResult, map[string]interface{}{
		"Sent":   sent,
		"Failed": failed,
	}))
}

// handleMood replies with the classifier's view of the text
func (h *CommandHandler) handleMood(message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID

	text := commandText(message)
	if text == "" {
		return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgMoodUsage, nil))
	}

	ex := h.classifier.Explain(text)
	return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgMoodExplain, map[string]interface{}{
		"Label":          ex.Label,
		"Positive":       ex.PositiveScore,
		"Negative":       ex.NegativeScore,
		"PositiveTokens": strings.Join(ex.PositiveTokens, ", "),
		"NegativeTokens": strings.Join(ex.NegativeTokens, ", "),
	}))
}
