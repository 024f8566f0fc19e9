// Package session keeps per-conversation message history in memory, with
// optional on-disk persistence so a chat survives a process restart.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/corvid/agentkit/pkg/providers"
)

// Session holds one conversation's message history and rolling summary.
type Session struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
}

// SessionManager owns a set of Sessions keyed by an opaque string (typically
// "<channel>:<chat_id>"). All methods are safe for concurrent use.
type SessionManager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	storageDir string
}

// NewSessionManager creates a manager. If storageDir is empty, sessions live
// only in memory and Save is a no-op.
func NewSessionManager(storageDir string) *SessionManager {
	sm := &SessionManager{
		sessions:   make(map[string]*Session),
		storageDir: storageDir,
	}
	if storageDir != "" {
		sm.loadAll()
	}
	return sm
}

func (sm *SessionManager) sessionPath(key string) string {
	return filepath.Join(sm.storageDir, sessionFileName(key)+".json")
}

// sessionFileName maps an arbitrary session key to a filesystem-safe name.
func sessionFileName(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (sm *SessionManager) loadAll() {
	entries, err := os.ReadDir(sm.storageDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sm.storageDir, entry.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		if s.Key == "" {
			continue
		}
		sm.sessions[s.Key] = &s
	}
}

// GetOrCreate returns the session for key, creating an empty one if needed.
func (sm *SessionManager) GetOrCreate(key string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.getOrCreateLocked(key)
}

func (sm *SessionManager) getOrCreateLocked(key string) *Session {
	s, ok := sm.sessions[key]
	if !ok {
		s = &Session{Key: key}
		sm.sessions[key] = s
	}
	return s
}

// AddMessage appends a plain text message to the session, creating it if
// it doesn't yet exist.
func (sm *SessionManager) AddMessage(key, role, content string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.getOrCreateLocked(key)
	s.Messages = append(s.Messages, providers.Message{Role: role, Content: content})
}

// AddFullMessage appends a fully-formed message (possibly carrying tool
// calls or a tool result) to the session.
func (sm *SessionManager) AddFullMessage(key string, msg providers.Message) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.getOrCreateLocked(key)
	s.Messages = append(s.Messages, msg)
}

// GetHistory returns a deep copy of the session's message history. Mutating
// the returned slice never affects the stored session.
func (sm *SessionManager) GetHistory(key string) []providers.Message {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[key]
	if !ok {
		return []providers.Message{}
	}
	out := make([]providers.Message, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = append([]providers.ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

// GetSummary returns the session's rolling summary, or "" if unset or the
// session doesn't exist.
func (sm *SessionManager) GetSummary(key string) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[key]
	if !ok {
		return ""
	}
	return s.Summary
}

// SetSummary replaces the session's rolling summary. A nonexistent key is
// a no-op rather than an error — callers summarize opportunistically and
// shouldn't have to guard against a session expiring first.
func (sm *SessionManager) SetSummary(key, summary string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[key]
	if !ok {
		return
	}
	s.Summary = summary
}

// TruncateHistory keeps only the last keep messages, discarding older ones.
// A nonexistent key is a no-op.
func (sm *SessionManager) TruncateHistory(key string, keep int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[key]
	if !ok {
		return
	}
	if keep < 0 {
		keep = 0
	}
	if len(s.Messages) > keep {
		s.Messages = s.Messages[len(s.Messages)-keep:]
	}
}

// Clear drops a session's messages and summary, and deletes its
// persisted file. Used by the /clear slash command.
func (sm *SessionManager) Clear(key string) {
	sm.mu.Lock()
	s, ok := sm.sessions[key]
	if ok {
		s.Messages = nil
		s.Summary = ""
	}
	sm.mu.Unlock()

	if sm.storageDir != "" {
		_ = os.Remove(sm.sessionPath(key))
	}
}

// Save persists a session to disk. With no storage directory configured
// this is a no-op, since the manager is memory-only.
func (sm *SessionManager) Save(s *Session) error {
	if sm.storageDir == "" {
		return nil
	}
	if err := os.MkdirAll(sm.storageDir, 0o755); err != nil {
		return fmt.Errorf("create session storage directory: %w", err)
	}

	sm.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	sm.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.Key, err)
	}

	return os.WriteFile(sm.sessionPath(s.Key), data, 0o644)
}
