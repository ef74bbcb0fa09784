package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	inactiveChatsKey = "chats:inactive"
	knownChatsKey    = "chats:known"
)

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

// IncrementDaily counts within a fixed window that starts at the first hit
func (r *RedisStorage) IncrementDaily(ctx context.Context, scope Scope, id int64, window time.Duration) (int64, time.Time, error) {
	key := dailyKey(scope, id)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 || ttl < 0 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}

func (r *RedisStorage) SetChatActive(ctx context.Context, chatID int64, active bool) error {
	if active {
		return r.client.SRem(ctx, inactiveChatsKey, chatID).Err()
	}
	return r.client.SAdd(ctx, inactiveChatsKey, chatID).Err()
}

func (r *RedisStorage) IsChatActive(ctx context.Context, chatID int64) (bool, error) {
	inactive, err := r.client.SIsMember(ctx, inactiveChatsKey, chatID).Result()
	if err != nil {
		return false, err
	}
	return !inactive, nil
}

func (r *RedisStorage) RememberChat(ctx context.Context, chatID int64) error {
	return r.client.SAdd(ctx, knownChatsKey, chatID).Err()
}

func (r *RedisStorage) KnownChats(ctx context.Context) ([]int64, error) {
	members, err := r.client.SMembers(ctx, knownChatsKey).Result()
	if err != nil {
		return nil, err
	}

	chats := make([]int64, 0, len(members))
	for _, member := range members {
		chatID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			r.logger.WithField("member", member).Warn("Skipping malformed chat id")
			continue
		}
		chats = append(chats, chatID)
	}
	return chats, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
