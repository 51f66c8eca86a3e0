// Package session persists per-chat Claude conversation state so the
// daemon can resume conversations across restarts.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Session tracks one chat's conversation with the Claude CLI. The token is
// opaque; it only travels back to the CLI on --resume.
type Session struct {
	ChatID        string    `json:"chat_id"`
	SessionToken  string    `json:"session_token"`
	ExchangeCount int       `json:"exchange_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
}

// Store is a mutex-guarded session table with write-through JSON
// persistence: every successful exchange rewrites the whole file, so a
// crash loses at most the in-flight call.
type Store struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewStore returns an empty store backed by the given file. Call Load to
// pick up previously persisted sessions.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     path,
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "sessions"),
	}
}

// Load reads the session file. A missing or unreadable file is not an
// error: the store starts empty and logs why, because losing resumability
// must never stop the daemon.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("session file unreadable, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var loaded map[string]*Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("session file corrupt, starting empty", "path", s.path, "error", err)
		return
	}

	for chatID, sess := range loaded {
		if sess == nil || sess.SessionToken == "" {
			continue
		}
		if sess.ChatID == "" {
			sess.ChatID = chatID
		}
		s.sessions[chatID] = sess
	}
	s.logger.Debug("sessions loaded", "count", len(s.sessions), "path", s.path)
}

// Save rewrites the session file in full.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating session dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Get returns a copy of the chat's session.
func (s *Store) Get(chatID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Update records a successful exchange and persists the table before
// returning. A first exchange creates the session with count zero; later
// exchanges replace the token and bump the count.
func (s *Store) Update(chatID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if sess, ok := s.sessions[chatID]; ok {
		sess.SessionToken = token
		sess.ExchangeCount++
		sess.LastUsedAt = now
	} else {
		s.sessions[chatID] = &Session{
			ChatID:       chatID,
			SessionToken: token,
			CreatedAt:    now,
			LastUsedAt:   now,
		}
	}
	return s.saveLocked()
}

// Clear drops the chat's session so the next exchange starts fresh.
// Reports whether a session existed.
func (s *Store) Clear(chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[chatID]; !ok {
		return false, nil
	}
	delete(s.sessions, chatID)
	return true, s.saveLocked()
}

// All returns copies of every session, ordered by chat id.
func (s *Store) All() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
