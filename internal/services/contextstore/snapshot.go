package contextstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ami-tgbot-go/internal/models"
)

// snapshotVersion 0 is the legacy bare map {key: [entries]} without an
// envelope; it is still accepted on load.
const snapshotVersion = 1

type snapshotFile struct {
	Version int                        `json:"version"`
	SavedAt float64                    `json:"saved_at"`
	Buckets map[string][]snapshotEntry `json:"buckets"`
}

type snapshotEntry struct {
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

func toSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromSeconds(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}

// Save writes the whole store to disk atomically
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	snap := snapshotFile{
		Version: snapshotVersion,
		SavedAt: toSeconds(s.now()),
		Buckets: make(map[string][]snapshotEntry),
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, bucket := range sh.buckets {
			entries := make([]snapshotEntry, len(bucket))
			for i, entry := range bucket {
				entries[i] = snapshotEntry{Text: entry.Text, Timestamp: toSeconds(entry.Timestamp)}
			}
			snap.Buckets[key] = entries
		}
		sh.mu.Unlock()
	}

	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".context-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// load never fails: any problem leaves the store empty. Stale entries are
// filtered, the bucket cap is only applied by Sweep.
func (s *Store) load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("path", s.path).Info("No context snapshot found, starting empty")
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Failed to read context snapshot")
		return
	}

	buckets, err := decodeSnapshot(data)
	if err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Failed to decode context snapshot")
		return
	}

	now := s.now()
	loaded := 0
	for key, entries := range buckets {
		bucket := make([]models.ContextEntry, 0, len(entries))
		for _, e := range entries {
			bucket = append(bucket, models.ContextEntry{Text: e.Text, Timestamp: fromSeconds(e.Timestamp)})
		}
		bucket = s.fresh(bucket, now)
		if len(bucket) == 0 {
			continue
		}
		sh := s.shardFor(key)
		sh.buckets[key] = bucket
		loaded++
	}

	s.logger.WithField("contexts", loaded).Info("Loaded conversation contexts")
}

func decodeSnapshot(data []byte) (map[string][]snapshotEntry, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	if _, versioned := probe["version"]; !versioned {
		var legacy map[string][]snapshotEntry
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("legacy snapshot: %w", err)
		}
		return legacy, nil
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Buckets, nil
}
