// Package idempotency tracks processed Telegram updates so long-poll
// retries and restarts never handle the same update twice. It also
// keeps the poll checkpoint, the highest update id ever seen, which
// the ingress loop turns into its resume offset.
package idempotency

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
)

const updateKeyPrefix = "telegram:"

type processedState struct {
	Keys       map[string]int64 `json:"keys"` // Key -> Expiry (Unix Timestamp)
	Checkpoint int64            `json:"checkpoint,omitempty"`
}

type Store struct {
	path  string
	clk   clock.Clock
	state processedState
	mu    sync.RWMutex
}

func NewStore(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.System()
	}
	s := &Store{
		path: path,
		clk:  clk,
		state: processedState{
			Keys: make(map[string]int64),
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}

	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return err
	}
	if s.state.Keys == nil {
		s.state.Keys = make(map[string]int64)
	}
	return nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// CheckAndMark reports whether key was already marked and not yet
// expired, marking it with the given ttl otherwise.
func (s *Store) CheckAndMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now().Unix()

	if expiry, exists := s.state.Keys[key]; exists {
		if expiry > now {
			return true
		}
		delete(s.state.Keys, key)
	}

	s.state.Keys[key] = now + int64(ttl.Seconds())
	return false
}

// MarkUpdate is CheckAndMark for a Telegram update id. It also advances
// the poll checkpoint and persists it, so a restart resumes past this
// update even after a crash.
func (s *Store) MarkUpdate(updateID int64, ttl time.Duration) bool {
	seen := s.CheckAndMark(updateKeyPrefix+strconv.FormatInt(updateID, 10), ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if updateID > s.state.Checkpoint {
		s.state.Checkpoint = updateID
	}
	if !seen {
		if err := s.save(); err != nil {
			slog.Warn("Failed to persist processed updates", "error", err)
		}
	}
	return seen
}

// Checkpoint returns the highest update id recorded so far, zero when
// nothing has been processed yet.
func (s *Store) Checkpoint() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Checkpoint
}

// Prune drops expired keys and returns how many were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now().Unix()
	count := 0
	for k, expiry := range s.state.Keys {
		if expiry < now {
			delete(s.state.Keys, k)
			count++
		}
	}
	return count
}
