// Package contextstore keeps a short, bounded history of message texts per
// (chat, user) pair with TTL expiry, capacity eviction and a disk snapshot.
package contextstore

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultShards = 16

type shard struct {
	mu      sync.Mutex
	buckets map[string][]models.ContextEntry
}

// Store is safe for concurrent use. Keys are spread over shards; all
// mutations of one key are serialised by its shard lock.
type Store struct {
	shards []*shard

	path            string
	ttl             time.Duration
	maxBuckets      int
	maxEntries      int
	saveProbability float64

	now    func() time.Time
	random func() float64

	saveMu sync.Mutex
	logger *logrus.Logger
}

// Option customises a Store
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps and expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRandom replaces the source of the opportunistic save draw
func WithRandom(random func() float64) Option {
	return func(s *Store) { s.random = random }
}

// WithShards sets the number of lock shards
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// SweepResult reports what one sweep removed
type SweepResult struct {
	Expired   int
	Evicted   int
	Remaining int
}

// New creates a store and loads the snapshot at cfg.StoragePath, if any.
// An empty path keeps the store purely in memory.
func New(cfg *config.ContextConfig, logger *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		shards:          newShards(defaultShards),
		path:            cfg.StoragePath,
		ttl:             cfg.TTL,
		maxBuckets:      cfg.MaxBuckets,
		maxEntries:      cfg.MaxEntries,
		saveProbability: cfg.SaveProbability,
		now:             time.Now,
		random:          rand.Float64,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.load()
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[string][]models.ContextEntry)}
	}
	return shards
}

// Key builds the composite bucket key "chat_id:user_id"
func Key(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Round(time.Microsecond)
}

// Get returns a copy of the bucket for (chatID, userID), newest last.
func (s *Store) Get(chatID, userID int64) []models.ContextEntry {
	key := Key(chatID, userID)
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	bucket := sh.buckets[key]
	if len(bucket) == 0 {
		return []models.ContextEntry{}
	}
	return append([]models.ContextEntry(nil), bucket...)
}

// Recent returns at most n of the newest entries, oldest first.
func (s *Store) Recent(chatID, userID int64, n int) []models.ContextEntry {
	entries := s.Get(chatID, userID)
	if n >= 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

// Update appends text to the bucket and keeps only the newest entries.
// Roughly one call in 1/saveProbability also writes the snapshot.
func (s *Store) Update(chatID, userID int64, text string) {
	key := Key(chatID, userID)
	sh := s.shardFor(key)

	sh.mu.Lock()
	bucket := append(sh.buckets[key], models.ContextEntry{Text: text, Timestamp: s.timestamp()})
	if len(bucket) > s.maxEntries {
		bucket = append([]models.ContextEntry(nil), bucket[len(bucket)-s.maxEntries:]...)
	}
	sh.buckets[key] = bucket
	sh.mu.Unlock()

	if s.saveProbability > 0 && s.random() < s.saveProbability {
		if err := s.Save(); err != nil {
			s.logger.WithError(err).Warn("Failed to save context snapshot")
		}
	}
}

// Len returns the number of buckets currently held
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

// Sweep drops entries older than the TTL, removes empty buckets, evicts
// the least recently touched buckets above the capacity and always writes
// the snapshot.
func (s *Store) Sweep() SweepResult {
	var result SweepResult
	now := s.now()

	for _, sh := range s.shards {
		sh.mu.Lock()
	}

	type touched struct {
		key   string
		shard *shard
		last  time.Time
	}
	var all []touched

	for _, sh := range s.shards {
		for key, bucket := range sh.buckets {
			fresh := s.fresh(bucket, now)
			if len(fresh) == 0 {
				delete(sh.buckets, key)
				result.Expired++
				continue
			}
			sh.buckets[key] = fresh
			all = append(all, touched{key: key, shard: sh, last: lastTouched(fresh)})
		}
	}

	if len(all) > s.maxBuckets {
		sort.Slice(all, func(i, j int) bool {
			if all[i].last.Equal(all[j].last) {
				return all[i].key < all[j].key
			}
			return all[i].last.Before(all[j].last)
		})
		for _, victim := range all[:len(all)-s.maxBuckets] {
			delete(victim.shard.buckets, victim.key)
			result.Evicted++
		}
	}
	result.Remaining = len(all) - result.Evicted

	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.Unlock()
	}

	if err := s.Save(); err != nil {
		s.logger.WithError(err).Warn("Failed to save context snapshot after sweep")
	}

	s.logger.WithFields(logrus.Fields{
		"expired":   result.Expired,
		"evicted":   result.Evicted,
		"remaining": result.Remaining,
	}).Debug("Context sweep finished")

	return result
}

func (s *Store) fresh(bucket []models.ContextEntry, now time.Time) []models.ContextEntry {
	var kept []models.ContextEntry
	for _, entry := range bucket {
		if now.Sub(entry.Timestamp) < s.ttl {
			kept = append(kept, entry)
		}
	}
	return kept
}

func lastTouched(bucket []models.ContextEntry) time.Time {
	var last time.Time
	for _, entry := range bucket {
		if entry.Timestamp.After(last) {
			last = entry.Timestamp
		}
	}
	return last
}
