package i18n

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a localizer from the built-in message files. Files in
// cfg.Directory named <lang>.json override built-in messages of that language.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultLanguage := cfg.DefaultLanguage
	if defaultLanguage == "" {
		defaultLanguage = "ru"
	}
	tag, err := language.Parse(defaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLanguage, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{defaultLanguage}
	}

	for _, lang := range languages {
		name := lang + ".json"
		data, err := locales.ReadFile("locales/" + name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read language file %s: %w", lang, err)
		}
		if err == nil {
			if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
				return nil, fmt.Errorf("failed to parse language file %s: %w", lang, err)
			}
		}

		if cfg.Directory == "" {
			continue
		}
		path := filepath.Join(cfg.Directory, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang, defaultLanguage)
	}
	if _, ok := localizers[defaultLanguage]; !ok {
		localizers[defaultLanguage] = i18n.NewLocalizer(bundle, defaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// DefaultLanguage returns the language used when none is requested
func (l *Localizer) DefaultLanguage() string {
	return l.defaultLanguage
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgLimitExceeded     = "limit_exceeded"
	MsgRateLimitExceeded = "rate_limit_exceeded"
	MsgSmallChat         = "small_chat"
	MsgError             = "error"
	MsgImageMissing      = "image_missing"
	MsgImageSendFailed   = "image_send_failed"
	MsgAdminOnly         = "admin_only"
	MsgStartAdminOnly    = "start_admin_only"
	MsgStopAdminOnly     = "stop_admin_only"
	MsgActivated         = "activated"
	MsgAlreadyActive     = "already_active"
	MsgDeactivated       = "deactivated"
	MsgAlreadyInactive   = "already_inactive"
	MsgSendUsage         = "send_usage"
	MsgBroadcast         = "broadcast"
	MsgBroadcastResult   = "broadcast_result"
	MsgMoodUsage         = "mood_usage"
	MsgMoodExplain       = "mood_explain"
)
