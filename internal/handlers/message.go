package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/i18n"
	"github.com/ami-tgbot-go/internal/middleware"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/ami-tgbot-go/internal/pipeline"
	"github.com/ami-tgbot-go/internal/services/storage"
	"github.com/ami-tgbot-go/internal/services/trigger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Responder produces the reply for a message that passed the trigger engine
type Responder interface {
	Respond(ctx context.Context, msg *models.InboundMessage, action models.ActionCategory) (*pipeline.Reply, error)
}

// MessageHandler handles regular messages
type MessageHandler struct {
	config      *config.Config
	bot         BotAPI
	engine      *trigger.Engine
	responder   Responder
	storage     *storage.Manager
	limiter     *middleware.DailyLimiter
	rateLimiter middleware.RateLimiter
	security    *middleware.SecurityMiddleware
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	replier     *replier
	startedAt   int64
}

// NewMessageHandler creates a new message handler. Messages sent before
// this call are ignored.
func NewMessageHandler(
	cfg *config.Config,
	bot BotAPI,
	engine *trigger.Engine,
	responder Responder,
	storage *storage.Manager,
	limiter *middleware.DailyLimiter,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	security := middleware.NewSecurityMiddleware(logger)
	return &MessageHandler{
		config:      cfg,
		bot:         bot,
		engine:      engine,
		responder:   responder,
		storage:     storage,
		limiter:     limiter,
		rateLimiter: rateLimiter,
		security:    security,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
		replier:     &replier{bot: bot, security: security, logger: logger},
		startedAt:   time.Now().Unix(),
	}
}

// HandleMessage processes regular messages
func (h *MessageHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.Chat == nil || message.From == nil {
		return nil
	}
	if !h.accept(ctx, message) {
		return nil
	}
	if message.Text == "" {
		return nil
	}

	chatID := message.Chat.ID
	userID := message.From.ID
	lang := h.localizer.DefaultLanguage()

	if !h.validateChat(message) {
		return h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgSmallChat, map[string]interface{}{
			"Min": h.config.Bot.MinGroupMembers,
		}))
	}

	if err := h.storage.RememberChat(ctx, chatID); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to remember chat")
	}

	if err := h.security.ValidateInput(message.Text); err != nil {
		h.logger.WithError(err).Warn("Input validation failed")
		return nil
	}

	msg := ToInbound(message)
	decision := h.engine.Decide(msg)

	h.logger.WithFields(logrus.Fields{
		"chat_id":      chatID,
		"user_id":      userID,
		"should_reply": decision.ShouldReply,
		"action":       decision.Action,
	}).Debug("Trigger decision")

	if !decision.ShouldReply {
		return nil
	}

	if ok, err := h.checkLimits(ctx, message, lang); !ok {
		return err
	}

	h.metrics.RecordAction(string(decision.Action))

	reply, err := h.responder.Respond(ctx, msg, decision.Action)
	if errors.Is(err, pipeline.ErrNoReply) {
		return nil
	}
	if err != nil {
		h.sendError(chatID, lang)
		return err
	}

	if err := h.deliver(message, reply, lang); err != nil {
		h.sendError(chatID, lang)
		return err
	}
	return nil
}

// accept drops messages older than the process and messages in chats
// deactivated with /stop_ami
func (h *MessageHandler) accept(ctx context.Context, message *tgbotapi.Message) bool {
	if int64(message.Date) < h.startedAt {
		return false
	}

	active, err := h.storage.IsChatActive(ctx, message.Chat.ID)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", message.Chat.ID).Warn("Failed to read chat state")
		return true
	}
	return active
}

// validateChat allows private chats and supergroups with enough members
func (h *MessageHandler) validateChat(message *tgbotapi.Message) bool {
	if message.Chat.IsPrivate() {
		return true
	}
	if !message.Chat.IsSuperGroup() {
		return false
	}

	count, err := h.bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: message.Chat.ID},
	})
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", message.Chat.ID).Warn("Failed to get chat member count")
		return false
	}
	return count > h.config.Bot.MinGroupMembers
}

// checkLimits applies the daily caps and the burst limiter. It returns false
// when the message must not be answered.
func (h *MessageHandler) checkLimits(ctx context.Context, message *tgbotapi.Message, lang string) (bool, error) {
	chatID := message.Chat.ID
	userID := message.From.ID

	result, err := h.limiter.Check(ctx, userID, chatID)
	if err != nil {
		h.logger.WithError(err).Warn("Daily limit check failed, letting message through")
	}
	if !result.Allowed {
		h.metrics.RecordDailyLimitExceeded(string(result.Scope))
		hours, minutes := middleware.SplitDuration(result.RetryAfter)
		return false, h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgLimitExceeded, map[string]interface{}{
			"Hours":   hours,
			"Minutes": minutes,
			"Limit":   result.UserLimit,
		}))
	}

	if !h.rateLimiter.Allow(userID) {
		h.metrics.RecordRateLimitExceeded()
		return false, h.replier.replyPlain(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil))
	}
	return true, nil
}

func (h *MessageHandler) deliver(message *tgbotapi.Message, reply *pipeline.Reply, lang string) error {
	chatID := message.Chat.ID

	switch reply.Kind {
	case pipeline.ReplyVoice:
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "voice.mp3", Bytes: reply.Voice})
		voice.ReplyToMessageID = message.MessageID
		if _, err := h.bot.Send(voice); err != nil {
			h.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to send voice, replying with text")
			return h.replier.replyText(chatID, message.MessageID, reply.Text)
		}
		return nil

	case pipeline.ReplyImage:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(reply.ImageURL))
		photo.Caption = h.security.SanitizeCaption(reply.Text)
		photo.ReplyToMessageID = message.MessageID
		if _, err := h.bot.Send(photo); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"chat_id": chatID,
				"url":     reply.ImageURL,
			}).Warn("Failed to send image")
			return h.replier.replyPlain(chatID, 0, h.localizer.Get(lang, i18n.MsgImageSendFailed, nil))
		}
		return nil

	default:
		text := reply.Text
		if reply.ImageMissing {
			text = h.localizer.Get(lang, i18n.MsgImageMissing, nil) + text
		}
		return h.replier.replyText(chatID, message.MessageID, strings.TrimSpace(text))
	}
}

func (h *MessageHandler) sendError(chatID int64, lang string) {
	if err := h.replier.replyPlain(chatID, 0, h.localizer.Get(lang, i18n.MsgError, nil)); err != nil {
		h.logger.WithError(err).Error("Failed to send error message")
	}
}
