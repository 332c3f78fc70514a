// Package prefs persists small client-side values such as the auth token,
// theme and input history. Each key lives in its own namespace; a corrupt
// value is discarded and the default returned.
package prefs

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
)

const (
	KeyAuthToken      = "auth.token"
	KeyThemeVariant   = "theme.variant"
	KeyInputHistory   = "input.history"
	KeyCopilotThread  = "copilot.threadId"
	defaultHistoryCap = 50
)

var ErrNotFound = errors.New("key not found")

// Backend is the raw key/value storage.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Store exposes typed accessors on top of a Backend.
type Store struct {
	backend   Backend
	namespace string
}

func New(backend Backend, namespace string) *Store {
	if backend == nil {
		backend = NewMemory()
	}
	return &Store{backend: backend, namespace: strings.Trim(strings.TrimSpace(namespace), ".")}
}

func (s *Store) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + "." + k
}

func (s *Store) getString(k string) (string, bool) {
	v, err := s.backend.Get(s.key(k))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("prefs: read %s failed: %v", k, err)
		}
		return "", false
	}
	return v, true
}

func (s *Store) setString(k, v string) error {
	return s.backend.Set(s.key(k), v)
}

// reset drops a corrupt value so the next read starts clean.
func (s *Store) reset(k string, cause error) {
	log.Printf("prefs: discarding corrupt %s: %v", k, cause)
	if err := s.backend.Delete(s.key(k)); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("prefs: delete %s failed: %v", k, err)
	}
}

func (s *Store) Token() string {
	v, _ := s.getString(KeyAuthToken)
	return strings.TrimSpace(v)
}

func (s *Store) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.backend.Delete(s.key(KeyAuthToken))
	}
	return s.setString(KeyAuthToken, token)
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Theme returns the stored variant or fallback when missing or unknown.
func (s *Store) Theme(fallback Theme) Theme {
	v, ok := s.getString(KeyThemeVariant)
	if !ok {
		return fallback
	}
	switch Theme(v) {
	case ThemeLight, ThemeDark:
		return Theme(v)
	default:
		s.reset(KeyThemeVariant, errors.New("unknown theme "+v))
		return fallback
	}
}

func (s *Store) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return errors.New("unknown theme " + string(t))
	}
	return s.setString(KeyThemeVariant, string(t))
}

// History is the input history, oldest first.
func (s *Store) History() []string {
	v, ok := s.getString(KeyInputHistory)
	if !ok || v == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		s.reset(KeyInputHistory, err)
		return nil
	}
	return out
}

// PushHistory appends an entry, dropping a consecutive duplicate and the
// oldest entries beyond the cap.
func (s *Store) PushHistory(entry string, limit int) ([]string, error) {
	entry = strings.TrimSpace(entry)
	hist := s.History()
	if entry == "" {
		return hist, nil
	}
	if limit <= 0 {
		limit = defaultHistoryCap
	}
	if n := len(hist); n == 0 || hist[n-1] != entry {
		hist = append(hist, entry)
	}
	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	raw, err := json.Marshal(hist)
	if err != nil {
		return hist, err
	}
	return hist, s.setString(KeyInputHistory, string(raw))
}

func (s *Store) CopilotThreadID() string {
	v, _ := s.getString(KeyCopilotThread)
	return strings.TrimSpace(v)
}

func (s *Store) SetCopilotThreadID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.backend.Delete(s.key(KeyCopilotThread))
	}
	return s.setString(KeyCopilotThread, id)
}

// Memory is an in-process Backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
