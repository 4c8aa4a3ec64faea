package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"wikichat/internal/domain"
)

// Session is one conversation: an ordered transcript of turns and the
// message memory handed to the agent runtime.
//
// Turns and memory change together under one lock. Reset clears both at
// once and bumps the epoch so a query answered across a reset cannot land
// in the fresh transcript.
type Session struct {
	mu        sync.RWMutex
	id        string
	key       string
	turns     []domain.Turn
	memory    []domain.Message
	epoch     uint64
	createdAt time.Time
	updatedAt time.Time
}

// sessionSnapshot is the persisted form of a Session.
type sessionSnapshot struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Turns     []domain.Turn    `json:"turns"`
	Memory    []domain.Message `json:"memory"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewSession creates an empty session with a generated ULID. key is the
// channel-scoped lookup key (e.g. "web:<cookie>", "tui:local").
func NewSession(key string) *Session {
	now := time.Now()
	return &Session{
		id:        generateULID(now),
		key:       key,
		createdAt: now,
		updatedAt: now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the session ULID.
func (s *Session) ID() string { return s.id }

// Key returns the lookup key the session was created under.
func (s *Session) Key() string { return s.key }

// AddTurn appends a turn and its memory messages in one step.
func (s *Session) AddTurn(turn domain.Turn, memory ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(turn, memory)
}

// addTurnAt appends the turn only if no Reset happened since epoch was read.
func (s *Session) addTurnAt(epoch uint64, turn domain.Turn, memory ...domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.appendLocked(turn, memory)
	return true
}

func (s *Session) appendLocked(turn domain.Turn, memory []domain.Message) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.turns = append(s.turns, turn)
	s.memory = append(s.memory, memory...)
	s.updatedAt = time.Now()
}

// AppendMemory adds messages to the memory without recording a turn.
func (s *Session) AppendMemory(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = append(s.memory, msgs...)
	s.updatedAt = time.Now()
}

// Turns returns a copy of the transcript in arrival order.
func (s *Session) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Turn, len(s.turns))
	copy(cp, s.turns)
	return cp
}

// TurnsNewestFirst returns a copy of the transcript, latest turn first.
func (s *Session) TurnsNewestFirst() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.turns))
	for i, t := range s.turns {
		out[len(s.turns)-1-i] = t
	}
	return out
}

// Memory returns a copy of the memory messages.
func (s *Session) Memory() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.memory))
	copy(cp, s.memory)
	return cp
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset clears transcript and memory together. Calling it on an empty
// session is a no-op apart from the epoch bump.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.memory = nil
	s.epoch++
	s.updatedAt = time.Now()
}

// Epoch changes on every Reset.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// UpdatedAt returns the time of the last change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// MarshalJSON implements json.Marshaler.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(sessionSnapshot{
		ID:        s.id,
		Key:       s.key,
		Turns:     s.turns,
		Memory:    s.memory,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = snap.ID
	s.key = snap.Key
	s.turns = snap.Turns
	s.memory = snap.Memory
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	return nil
}

// SessionManager tracks sessions by key and, when a directory is
// configured, persists them as JSON snapshots.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dataDir  string // empty = in-memory only
}

// NewSessionManager creates a session manager. dataDir may be empty.
func NewSessionManager(dataDir string) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		dataDir:  dataDir,
	}
}

// validateKey checks that a session key is safe to use as a file name.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("session key contains path separators: %q", key)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key contains parent directory reference: %q", key)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key contains null byte: %q", key)
	}
	if filepath.Clean(key) != key {
		return fmt.Errorf("session key is not a clean path: %q", key)
	}
	return nil
}

// GetOrCreate returns the session for key, loading a saved snapshot or
// starting a new session when none is in memory.
func (sm *SessionManager) GetOrCreate(key string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[key]; ok {
		return s
	}

	s, err := sm.loadFromDisk(key)
	if err != nil {
		s = NewSession(key)
	}
	sm.sessions[key] = s
	return s
}

// Get returns an existing session, in memory or saved, or
// ErrSessionNotFound. Unlike GetOrCreate it never starts a session.
func (sm *SessionManager) Get(key string) (*Session, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[key]
	sm.mu.RUnlock()
	if ok {
		return s, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[key]; ok {
		return s, nil
	}
	s, err := sm.loadFromDisk(key)
	if err != nil {
		return nil, domain.NewDomainError("SessionManager.Get", domain.ErrSessionNotFound, key)
	}
	sm.sessions[key] = s
	return s, nil
}

// Save persists a session snapshot. Without a data directory it is a no-op.
func (sm *SessionManager) Save(key string) error {
	if sm.dataDir == "" {
		return nil
	}
	if err := validateKey(key); err != nil {
		return domain.NewDomainError("SessionManager.Save", domain.ErrInvalidInput, err.Error())
	}

	sm.mu.RLock()
	s, ok := sm.sessions[key]
	sm.mu.RUnlock()
	if !ok {
		return domain.NewDomainError("SessionManager.Save", domain.ErrSessionNotFound, key)
	}

	if err := os.MkdirAll(sm.dataDir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// Write then rename so a crash never leaves a truncated snapshot.
	path := sm.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// Delete removes a session from memory and disk.
func (sm *SessionManager) Delete(key string) error {
	sm.mu.Lock()
	_, ok := sm.sessions[key]
	delete(sm.sessions, key)
	sm.mu.Unlock()

	if !ok {
		return domain.NewDomainError("SessionManager.Delete", domain.ErrSessionNotFound, key)
	}
	sm.removeFile(key)
	return nil
}

// Keys returns the keys of all sessions held in memory.
func (sm *SessionManager) Keys() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	keys := make([]string, 0, len(sm.sessions))
	for k := range sm.sessions {
		keys = append(keys, k)
	}
	return keys
}

// ReapStale deletes sessions not updated within maxAge and returns how
// many were removed. Both in-memory state and snapshots are removed.
func (sm *SessionManager) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	sm.mu.Lock()
	var stale []string
	for key, s := range sm.sessions {
		if s.UpdatedAt().Before(cutoff) {
			stale = append(stale, key)
			delete(sm.sessions, key)
		}
	}
	sm.mu.Unlock()

	for _, key := range stale {
		sm.removeFile(key)
	}
	return len(stale)
}

// RunReaper calls ReapStale every interval until ctx is done.
func (sm *SessionManager) RunReaper(ctx context.Context, interval, maxAge time.Duration, logger *slog.Logger) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sm.ReapStale(maxAge); n > 0 {
				logger.Info("reaped stale sessions", "count", n)
			}
		}
	}
}

func (sm *SessionManager) path(key string) string {
	return filepath.Join(sm.dataDir, key+".json")
}

func (sm *SessionManager) removeFile(key string) {
	if sm.dataDir == "" || validateKey(key) != nil {
		return
	}
	_ = os.Remove(sm.path(key))
}

func (sm *SessionManager) loadFromDisk(key string) (*Session, error) {
	if sm.dataDir == "" {
		return nil, os.ErrNotExist
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(sm.path(key))
	if err != nil {
		return nil, err
	}
	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.id == "" {
		s.id = generateULID(time.Now())
	}
	s.key = key
	return s, nil
}
