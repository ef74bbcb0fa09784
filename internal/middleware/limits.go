package middleware

import (
	"context"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// DailyCounter is the part of storage the daily limiter needs
type DailyCounter interface {
	IncrementDaily(ctx context.Context, scope storage.Scope, id int64, window time.Duration) (int64, time.Time, error)
}

// LimitResult is the outcome of one daily limit check
type LimitResult struct {
	Allowed    bool
	Scope      storage.Scope
	RetryAfter time.Duration
	UserLimit  int
}

// DailyLimiter caps messages per user and per chat within a fixed window.
// Every check counts against both caps, rejected messages included.
type DailyLimiter struct {
	counter DailyCounter
	cfg     *config.LimitsConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewDailyLimiter(counter DailyCounter, cfg *config.LimitsConfig, logger *logrus.Logger) *DailyLimiter {
	return &DailyLimiter{
		counter: counter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Check counts one message. Storage failures let the message through.
func (d *DailyLimiter) Check(ctx context.Context, userID, chatID int64) (LimitResult, error) {
	result := LimitResult{Allowed: true, UserLimit: d.cfg.UserDaily}

	userCount, userReset, err := d.counter.IncrementDaily(ctx, storage.ScopeUser, userID, d.cfg.Window)
	if err != nil {
		return result, err
	}
	chatCount, chatReset, err := d.counter.IncrementDaily(ctx, storage.ScopeChat, chatID, d.cfg.Window)
	if err != nil {
		return result, err
	}

	switch {
	case d.cfg.UserDaily > 0 && userCount > int64(d.cfg.UserDaily):
		result.Allowed = false
		result.Scope = storage.ScopeUser
		result.RetryAfter = d.until(userReset)
	case d.cfg.ChatDaily > 0 && chatCount > int64(d.cfg.ChatDaily):
		result.Allowed = false
		result.Scope = storage.ScopeChat
		result.RetryAfter = d.until(chatReset)
	}

	if !result.Allowed {
		d.logger.WithFields(logrus.Fields{
			"user_id":     userID,
			"chat_id":     chatID,
			"scope":       result.Scope,
			"retry_after": result.RetryAfter,
		}).Info("Daily limit exceeded")
	}
	return result, nil
}

func (d *DailyLimiter) until(reset time.Time) time.Duration {
	if reset.IsZero() {
		return 0
	}
	if wait := reset.Sub(d.now()); wait > 0 {
		return wait
	}
	return 0
}

// SplitDuration returns whole hours and remaining whole minutes
func SplitDuration(d time.Duration) (hours, minutes int) {
	if d < 0 {
		d = 0
	}
	hours = int(d / time.Hour)
	minutes = int((d % time.Hour) / time.Minute)
	return hours, minutes
}
