// Package store persists analysed features, the mood state and the
// personality snapshot so the daemon can resume where it left off.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// FeatureVersion is bumped when extraction changes enough to invalidate stored features
const FeatureVersion = 1

// Key prefixes for BadgerDB storage
const (
	featureKeyPrefix = "features:"
	moodKey          = "state:mood"
	personalityKey   = "state:personality"
)

// ErrNotFound is returned when a key has never been stored
var ErrNotFound = errors.New("not found")

// StoredFeatures contains features with metadata
type StoredFeatures struct {
	Signature  string              `json:"signature"`
	Path       string              `json:"path"`
	Features   types.AudioFeatures `json:"features"`
	Version    int                 `json:"version"`
	AnalyzedAt int64               `json:"analyzedAt"`
}

// MoodSnapshot is the persisted tracker state
type MoodSnapshot struct {
	State   mood.State       `json:"state"`
	History []mood.Detection `json:"history"`
	SavedAt int64            `json:"savedAt"`
}

// Store is a BadgerDB-backed snapshot store
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens the store at dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{db: db, log: logging.With("store")}
	s.log.Debug().Str("dir", dir).Msg("store opened")
	return s, nil
}

// Close flushes and closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreFeatures stores features for a file signature
func (s *Store) StoreFeatures(signature, path string, features types.AudioFeatures) error {
	return s.put(featureKeyPrefix+signature, StoredFeatures{
		Signature:  signature,
		Path:       path,
		Features:   features,
		Version:    FeatureVersion,
		AnalyzedAt: time.Now().Unix(),
	})
}

// GetFeatures retrieves features by signature
func (s *Store) GetFeatures(signature string) (*StoredFeatures, error) {
	var sf StoredFeatures
	if err := s.get(featureKeyPrefix+signature, &sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

// HasFeatures checks if a signature has features at or above minVersion
func (s *Store) HasFeatures(signature string, minVersion int) bool {
	sf, err := s.GetFeatures(signature)
	return err == nil && sf.Version >= minVersion
}

// AllFeatures returns every stored feature record
func (s *Store) AllFeatures() ([]StoredFeatures, error) {
	var out []StoredFeatures
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(featureKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sf StoredFeatures
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sf)
			}); err != nil {
				return err
			}
			out = append(out, sf)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return out, nil
}

// AnalyzedCount returns the number of stored feature records
func (s *Store) AnalyzedCount() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(featureKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// SaveMood persists the tracker state and history
func (s *Store) SaveMood(state mood.State, history []mood.Detection) error {
	return s.put(moodKey, MoodSnapshot{State: state, History: history, SavedAt: time.Now().Unix()})
}

// LoadMood returns the last saved tracker state, or ErrNotFound
func (s *Store) LoadMood() (MoodSnapshot, error) {
	var snap MoodSnapshot
	err := s.get(moodKey, &snap)
	return snap, err
}

// SavePersonality persists the trait snapshot
func (s *Store) SavePersonality(snap personality.Snapshot) error {
	return s.put(personalityKey, snap)
}

// LoadPersonality returns the last saved trait snapshot, or ErrNotFound
func (s *Store) LoadPersonality() (personality.Snapshot, error) {
	var snap personality.Snapshot
	err := s.get(personalityKey, &snap)
	return snap, err
}

// ClearFeatures removes every stored feature record. Mood and personality
// snapshots are kept.
func (s *Store) ClearFeatures() error {
	if err := s.db.DropPrefix([]byte(featureKeyPrefix)); err != nil {
		return fmt.Errorf("clear features: %w", err)
	}
	return nil
}

func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) get(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}
