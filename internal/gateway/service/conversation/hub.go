// Package conversation runs chat sessions on the gateway: it answers
// client events, persists threads and streams assistant replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"chatwire/internal/gateway/config"
	"chatwire/internal/gateway/repository/artifact"
	"chatwire/internal/gateway/repository/thread"
	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/protocol"
	"chatwire/internal/types"
)

// ActionFunc runs a call_action callback and returns the response text.
type ActionFunc func(ctx context.Context, s *Session, action types.Action) (string, error)

type Hub struct {
	threads   *thread.Store
	files     artifact.Store
	responder assistant.Responder
	features  config.FeatureConfig
	author    string

	mu       sync.Mutex
	sessions map[string]*Session
	actions  map[string]ActionFunc
	pending  map[string]map[string]types.Element
	observe  func(sessionID, event string)
}

func NewHub(threads *thread.Store, files artifact.Store, responder assistant.Responder, features config.FeatureConfig, author string) *Hub {
	if author = strings.TrimSpace(author); author == "" {
		author = "Assistant"
	}
	return &Hub{
		threads:   threads,
		files:     files,
		responder: responder,
		features:  features,
		author:    author,
		sessions:  make(map[string]*Session),
		actions:   make(map[string]ActionFunc),
		pending:   make(map[string]map[string]types.Element),
	}
}

// Observe installs fn to be told of every client event before it is
// handled. fn runs on the session's read goroutine and must not block.
func (h *Hub) Observe(fn func(sessionID, event string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observe = fn
}

func (h *Hub) observer() func(sessionID, event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.observe
}

func (h *Hub) RegisterAction(name string, fn ActionFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions[strings.TrimSpace(name)] = fn
}

func (h *Hub) action(name string) (ActionFunc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn, ok := h.actions[name]
	return fn, ok
}

// Session returns a live session by id.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Attach registers a connection for sessionID. A previous connection of the
// same session is stopped first. When threadID is set the thread is replayed
// with resume_thread, or refused with session_error.
func (h *Hub) Attach(ctx context.Context, sessionID, threadID string, send func(protocol.Envelope)) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	s := newSession(h, sessionID, send)

	h.mu.Lock()
	prev := h.sessions[sessionID]
	h.sessions[sessionID] = s
	h.mu.Unlock()
	if prev != nil {
		prev.stopGeneration()
	}

	if threadID = strings.TrimSpace(threadID); threadID != "" {
		h.resume(ctx, s, threadID)
	}
	return s, nil
}

// Detach forgets s unless it was already replaced.
func (h *Hub) Detach(s *Session) {
	s.stopGeneration()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.ID] == s {
		delete(h.sessions, s.ID)
		delete(h.pending, s.ID)
	}
}

func (h *Hub) resume(ctx context.Context, s *Session, threadID string) {
	if !h.features.ThreadResumable {
		s.emit(protocol.EventSessionError, protocol.SessionError{Message: "thread resume is disabled"})
		return
	}
	t, err := h.threads.Get(ctx, threadID)
	if err != nil {
		msg := "could not load thread"
		if errors.Is(err, thread.ErrNotFound) {
			msg = fmt.Sprintf("thread %s not found", threadID)
		}
		log.Printf("conversation: resume %s: %v", threadID, err)
		s.emit(protocol.EventSessionError, protocol.SessionError{Message: msg})
		return
	}
	s.setThread(t.ID)
	s.emit(protocol.EventResumeThread, t)
}
