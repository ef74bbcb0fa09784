package handlers

import (
	"strings"
	"time"

	"github.com/ami-tgbot-go/internal/middleware"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/ami-tgbot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// BotAPI is the part of the Telegram client the handlers use
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// ToInbound converts a Telegram message into the pipeline's view of it
func ToInbound(message *tgbotapi.Message) *models.InboundMessage {
	msg := &models.InboundMessage{
		Text:      message.Text,
		ChatID:    message.Chat.ID,
		ChatKind:  models.ChatKind(message.Chat.Type),
		MessageID: message.MessageID,
		Date:      time.Unix(int64(message.Date), 0).UTC(),
	}
	if message.From != nil {
		msg.UserID = message.From.ID
		msg.Username = message.From.UserName
		msg.DisplayName = message.From.FirstName
	}

	if reply := message.ReplyToMessage; reply != nil {
		msg.ReplyTo = &models.ReplyTarget{Text: reply.Text}
		if reply.From != nil {
			msg.ReplyTo.AuthorID = reply.From.ID
			msg.ReplyTo.AuthorUsername = reply.From.UserName
			msg.ReplyTo.AuthorName = reply.From.FirstName
		}
	}
	return msg
}

// isChatAdmin reports whether the sender may toggle the bot in this chat.
// Private chats always count as admin.
func isChatAdmin(bot BotAPI, message *tgbotapi.Message, logger *logrus.Logger) bool {
	if message.Chat.IsPrivate() {
		return true
	}
	if message.From == nil {
		return false
	}

	member, err := bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: message.Chat.ID,
			UserID: message.From.ID,
		},
	})
	if err != nil {
		logger.WithError(err).WithField("chat_id", message.Chat.ID).Warn("Failed to check chat admin")
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

// replier sends replies with HTML formatting and a plain text fallback
type replier struct {
	bot      BotAPI
	security *middleware.SecurityMiddleware
	logger   *logrus.Logger
}

func (r *replier) replyText(chatID int64, replyTo int, text string) error {
	htmlText := r.security.SanitizeOutput(markdown.ToTelegramHTML(text))

	msg := tgbotapi.NewMessage(chatID, htmlText)
	msg.ReplyToMessageID = replyTo
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := r.bot.Send(msg); err != nil {
		r.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
		msg.ParseMode = ""
		msg.Text = r.security.SanitizeOutput(text)
		if _, err := r.bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *replier) replyPlain(chatID int64, replyTo int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	_, err := r.bot.Send(msg)
	return err
}

// commandText strips the leading command from a message
func commandText(message *tgbotapi.Message) string {
	return strings.TrimSpace(message.CommandArguments())
}
