package middleware

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(userID int64) bool
	Reset(userID int64)
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter implements per-user burst limiting on top of the daily caps
type UserRateLimiter struct {
	enabled         bool
	limiters        map[int64]*userLimiter
	mu              sync.Mutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
	done            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *UserRateLimiter {
	if !cfg.Enabled {
		return &UserRateLimiter{enabled: false}
	}

	rl := &UserRateLimiter{
		enabled:         true,
		limiters:        make(map[int64]*userLimiter),
		rpm:             cfg.RequestsPerMinute,
		burst:           cfg.Burst,
		logger:          logger,
		cleanupInterval: time.Hour,
		done:            make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a user is allowed to make a request
func (r *UserRateLimiter) Allow(userID int64) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(userID).Allow()
	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"user_id": userID,
		}).Warn("Rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a user
func (r *UserRateLimiter) Reset(userID int64) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, userID)
	r.mu.Unlock()
}

// Stop ends the cleanup loop
func (r *UserRateLimiter) Stop() {
	if !r.enabled {
		return
	}
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *UserRateLimiter) getLimiter(userID int64) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.limiters[userID]
	if !exists {
		// Rate per second = RPM / 60
		rps := float64(r.rpm) / 60.0
		entry = &userLimiter{limiter: rate.NewLimiter(rate.Limit(rps), r.burst)}
		r.limiters[userID] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter
}

// cleanup drops limiters that were idle for a whole interval
func (r *UserRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for userID, entry := range r.limiters {
				if now.Sub(entry.lastSeen) > r.cleanupInterval {
					delete(r.limiters, userID)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Telegram rejects messages and captions longer than these many characters
const (
	maxMessageRunes = 4096
	maxCaptionRunes = 1024
)

// SecurityMiddleware provides input and output checks
type SecurityMiddleware struct {
	logger *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger: logger,
	}
}

// ValidateInput rejects text that is not valid UTF-8 or too long
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > maxMessageRunes {
		return fmt.Errorf("message too long: %d characters", n)
	}
	return nil
}

// SanitizeOutput cuts replies to the Telegram message size
func (s *SecurityMiddleware) SanitizeOutput(text string) string {
	return s.truncate(text, maxMessageRunes)
}

// SanitizeCaption cuts photo captions to the Telegram caption size
func (s *SecurityMiddleware) SanitizeCaption(text string) string {
	return s.truncate(text, maxCaptionRunes)
}

func (s *SecurityMiddleware) truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	s.logger.WithField("length", utf8.RuneCountInString(text)).Debug("Truncating long reply")
	runes := []rune(text)
	return string(runes[:max-1]) + "…"
}
