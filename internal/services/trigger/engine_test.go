package trigger

import (
	"testing"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botID int64 = 777

func never() float64  { return 0.99 }
func always() float64 { return 0 }

func defaultEngine(random func() float64) *Engine {
	return NewEngineFromConfig(&config.TriggersConfig{
		BotUserID:         botID,
		RandomReplyChance: 0.03,
		Actions:           config.DefaultActions(),
	}, WithRandom(random))
}

func groupMessage(text string) *models.InboundMessage {
	return &models.InboundMessage{Text: text, ChatID: -100, UserID: 1, ChatKind: models.ChatSupergroup}
}

func TestShouldReply(t *testing.T) {
	e := defaultEngine(never)

	tests := []struct {
		name string
		msg  *models.InboundMessage
		want bool
	}{
		{"private always", &models.InboundMessage{Text: "что угодно", ChatKind: models.ChatPrivate}, true},
		{"private empty text", &models.InboundMessage{ChatKind: models.ChatPrivate}, true},
		{"reply to bot", &models.InboundMessage{
			Text: "ок", ChatKind: models.ChatSupergroup,
			ReplyTo: &models.ReplyTarget{AuthorID: botID},
		}, true},
		{"reply to someone else", &models.InboundMessage{
			Text: "ок", ChatKind: models.ChatSupergroup,
			ReplyTo: &models.ReplyTarget{AuthorID: 5},
		}, false},
		{"mention keyword", groupMessage("Ами, как дела?"), true},
		{"latin mention", groupMessage("hey AMI"), true},
		{"plain group message", groupMessage("всем привет"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ShouldReply(tt.msg))
		})
	}
}

func TestShouldReplyRandomDraw(t *testing.T) {
	msg := groupMessage("всем привет")

	assert.True(t, defaultEngine(always).ShouldReply(msg))
	assert.True(t, defaultEngine(func() float64 { return 0.029 }).ShouldReply(msg))
	assert.False(t, defaultEngine(func() float64 { return 0.03 }).ShouldReply(msg))
}

func TestClassifyAction(t *testing.T) {
	e := defaultEngine(never)

	tests := []struct {
		text string
		want models.ActionCategory
	}{
		{"", models.ActionNone},
		{"привет", models.ActionNone},
		{"Озвучь этот текст", models.ActionVoice},
		{"покажи фото кота", models.ActionImageSearch},
		{"найди картинку заката", models.ActionImageSearch},
		{"загугли погоду в Казани", models.ActionInternetSearch},
		{"расскажи и покажи фото", models.ActionVoice},
		{"ами, привет", models.ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ClassifyAction(groupMessage(tt.text)))
		})
	}
}

func TestDecide(t *testing.T) {
	e := defaultEngine(never)

	assert.Equal(t, models.TriggerDecision{}, e.Decide(groupMessage("озвучь текст")))
	assert.Equal(t,
		models.TriggerDecision{ShouldReply: true, Action: models.ActionVoice},
		e.Decide(groupMessage("ами, озвучь текст")),
	)
	assert.Equal(t,
		models.TriggerDecision{ShouldReply: true},
		e.Decide(&models.InboundMessage{Text: "привет", ChatKind: models.ChatPrivate}),
	)
}

func TestAddKeywordsDeduplicatesAndKeepsOrder(t *testing.T) {
	table := NewTable()
	table.AddKeywords("first", "Alpha", "beta")
	table.AddKeywords("second", "gamma")
	table.AddKeywords("first", "alpha", "delta", "  ")

	assert.Equal(t, []string{"alpha", "beta", "delta"}, table.Keywords("first"))
	assert.Equal(t, []models.ActionCategory{"first", "second"}, table.Categories())
}

func TestRegistrationOrderDecidesOverlaps(t *testing.T) {
	table := NewTable()
	table.AddKeywords("b", "кот")
	table.AddKeywords("a", "кот")

	e := NewEngine(table, botID, 0, WithRandom(never))
	assert.Equal(t, models.ActionCategory("b"), e.ClassifyAction(groupMessage("кот")))
}

func TestEngineIsFrozen(t *testing.T) {
	table := NewTable()
	table.AddKeywords(models.ActionVoice, "озвучь")
	e := NewEngine(table, botID, 0, WithRandom(never))

	table.AddKeywords(models.ActionImageSearch, "фото")

	require.Equal(t, models.ActionNone, e.ClassifyAction(groupMessage("фото")))
	assert.Equal(t, models.ActionVoice, e.ClassifyAction(groupMessage("озвучь")))
}
