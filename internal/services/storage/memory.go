package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	counters *cache.Cache
	inactive *cache.Cache
	known    *cache.Cache
	logger   *logrus.Logger
}

func NewMemoryStorage(cfg *config.MemoryConfig, logger *logrus.Logger) *MemoryStorage {
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}

	return &MemoryStorage{
		counters: cache.New(cache.NoExpiration, cleanup),
		inactive: cache.New(cache.NoExpiration, cache.NoExpiration),
		known:    cache.New(cache.NoExpiration, cache.NoExpiration),
		logger:   logger,
	}
}

func (m *MemoryStorage) IncrementDaily(ctx context.Context, scope Scope, id int64, window time.Duration) (int64, time.Time, error) {
	key := dailyKey(scope, id)

	for {
		// Add only succeeds when there is no live counter, which opens a new window
		m.counters.Add(key, int64(0), window)

		count, err := m.counters.IncrementInt64(key, 1)
		if err != nil {
			// the counter expired between Add and Increment
			continue
		}

		_, expiresAt, found := m.counters.GetWithExpiration(key)
		if !found {
			continue
		}
		return count, expiresAt, nil
	}
}

func (m *MemoryStorage) SetChatActive(ctx context.Context, chatID int64, active bool) error {
	key := strconv.FormatInt(chatID, 10)
	if active {
		m.inactive.Delete(key)
	} else {
		m.inactive.Set(key, true, cache.NoExpiration)
	}
	return nil
}

func (m *MemoryStorage) IsChatActive(ctx context.Context, chatID int64) (bool, error) {
	_, inactive := m.inactive.Get(strconv.FormatInt(chatID, 10))
	return !inactive, nil
}

func (m *MemoryStorage) RememberChat(ctx context.Context, chatID int64) error {
	m.known.Set(strconv.FormatInt(chatID, 10), chatID, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) KnownChats(ctx context.Context) ([]int64, error) {
	items := m.known.Items()
	chats := make([]int64, 0, len(items))
	for _, item := range items {
		chats = append(chats, item.Object.(int64))
	}
	return chats, nil
}

func (m *MemoryStorage) Close() error {
	m.counters.Flush()
	return nil
}
