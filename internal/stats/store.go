// Package stats persists cumulative win/loss/draw counters in a local
// BoltDB file, keyed per user.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"puzzleduel/internal/duel"
)

const (
	bucketStats = "stats"
	bucketMeta  = "meta"

	keyUserID = "user-id"

	openTimeout = 2 * time.Second
)

// Stats are the durable per-user counters. Exactly one of them moves per
// concluded match, forfeits included.
type Stats struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// Store is a BoltDB-backed stats store.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the stats database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty stats db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketStats, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// UserID returns the stable local user id the counters are keyed by,
// generating and persisting one the first time the database is used. The
// relay identity is fresh per session; this one survives restarts so the
// record does too.
func (s *Store) UserID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		if raw := b.Get([]byte(keyUserID)); raw != nil {
			id = string(raw)
			return nil
		}
		id = uuid.NewString()
		return b.Put([]byte(keyUserID), []byte(id))
	})
	return id, err
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns the user's counters, zero-valued when the user has no record.
func (s *Store) Load(userID string) (Stats, error) {
	var out Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketStats)).Get([]byte(userID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &out)
	})
	return out, err
}

// Record bumps the counter for one concluded match and returns the updated
// totals. Read-modify-write runs in a single transaction.
func (s *Store) Record(userID string, outcome duel.Outcome) (Stats, error) {
	var out Stats
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketStats))
		if raw := b.Get([]byte(userID)); raw != nil {
			if err := json.Unmarshal(raw, &out); err != nil {
				return fmt.Errorf("decode stats for %s: %w", userID, err)
			}
		}
		switch outcome {
		case duel.OutcomeWin:
			out.Wins++
		case duel.OutcomeLoss:
			out.Losses++
		case duel.OutcomeDraw:
			out.Draws++
		default:
			return fmt.Errorf("unknown outcome %q", outcome)
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return b.Put([]byte(userID), raw)
	})
	return out, err
}

// Recorder binds a store to one user so the duel machine can record outcomes
// without knowing about user keys.
type Recorder struct {
	store  *Store
	userID string
}

// NewRecorder returns a duel.Recorder for the given user.
func NewRecorder(store *Store, userID string) *Recorder {
	return &Recorder{store: store, userID: userID}
}

func (r *Recorder) Record(outcome duel.Outcome) error {
	_, err := r.store.Record(r.userID, outcome)
	return err
}
