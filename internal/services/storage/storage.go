package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Scope names what a daily counter counts
type Scope string

const (
	ScopeUser Scope = "user"
	ScopeChat Scope = "chat"
)

// Storage interface defines storage operations
type Storage interface {
	// Daily counters
	IncrementDaily(ctx context.Context, scope Scope, id int64, window time.Duration) (int64, time.Time, error)

	// Chat state
	SetChatActive(ctx context.Context, chatID int64, active bool) error
	IsChatActive(ctx context.Context, chatID int64) (bool, error)
	RememberChat(ctx context.Context, chatID int64) error
	KnownChats(ctx context.Context) ([]int64, error)

	Close() error
}

// Manager manages different storage backends
type Manager struct {
	storage Storage
	logger  *logrus.Logger
}

// NewManager creates a new storage manager
func NewManager(cfg *config.StorageConfig, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger}

	switch cfg.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
	case "memory", "":
		manager.storage = NewMemoryStorage(&cfg.Memory, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	logger.WithField("type", cfg.Type).Info("Storage initialized")
	return manager, nil
}

// NewManagerWith wraps an existing backend
func NewManagerWith(storage Storage, logger *logrus.Logger) *Manager {
	return &Manager{storage: storage, logger: logger}
}

func (m *Manager) IncrementDaily(ctx context.Context, scope Scope, id int64, window time.Duration) (int64, time.Time, error) {
	return m.storage.IncrementDaily(ctx, scope, id, window)
}

func (m *Manager) SetChatActive(ctx context.Context, chatID int64, active bool) error {
	return m.storage.SetChatActive(ctx, chatID, active)
}

func (m *Manager) IsChatActive(ctx context.Context, chatID int64) (bool, error) {
	return m.storage.IsChatActive(ctx, chatID)
}

func (m *Manager) RememberChat(ctx context.Context, chatID int64) error {
	return m.storage.RememberChat(ctx, chatID)
}

func (m *Manager) KnownChats(ctx context.Context) ([]int64, error) {
	return m.storage.KnownChats(ctx)
}

// ActiveChats returns every known chat that was not deactivated, sorted
func (m *Manager) ActiveChats(ctx context.Context) ([]int64, error) {
	known, err := m.storage.KnownChats(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]int64, 0, len(known))
	for _, chatID := range known {
		ok, err := m.storage.IsChatActive(ctx, chatID)
		if err != nil {
			m.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to read chat state")
			continue
		}
		if ok {
			active = append(active, chatID)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active, nil
}

func (m *Manager) Close() error {
	return m.storage.Close()
}

func dailyKey(scope Scope, id int64) string {
	return fmt.Sprintf("daily:%s:%d", scope, id)
}
