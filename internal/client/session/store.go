// Package session tracks the live chat session and drives thread resumption.
package session

import (
	"fmt"
	"strings"
	"sync"

	"chatwire/internal/client/transport"

	"github.com/google/uuid"
)

// ResumePhase is the state of the thread-resume machine.
type ResumePhase int

const (
	Idle ResumePhase = iota
	Resuming
	Resumed
	ResumeFailed
)

func (p ResumePhase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Resuming:
		return "resuming"
	case Resumed:
		return "resumed"
	case ResumeFailed:
		return "resume_failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further resume transition is expected.
func (p ResumePhase) Terminal() bool {
	return p == Resumed || p == ResumeFailed
}

type ResumeState struct {
	Phase    ResumePhase
	ThreadID string
	Reason   string
}

// State is a point-in-time copy of the session store.
type State struct {
	SessionID        string
	Token            string
	Status           transport.Status
	ThreadID         string
	IDToResume       string
	FirstInteraction string
	Error            bool
	Loading          bool
	TokenCount       int
	Resume           ResumeState
}

// Store holds the identity and flags of the current session. Mutations close
// the channel returned by Changed.
type Store struct {
	mu      sync.RWMutex
	state   State
	changed chan struct{}
}

func NewStore(token string) *Store {
	return &Store{
		state:   State{SessionID: uuid.NewString(), Token: strings.TrimSpace(token)},
		changed: make(chan struct{}),
	}
}

func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.notifyLocked()
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SessionID
}

// Renew assigns a fresh session id and resets everything tied to the old
// session. The token survives.
func (s *Store) Renew() string {
	id := uuid.NewString()
	s.update(func(st *State) {
		st.SessionID = id
		st.ThreadID = ""
		st.FirstInteraction = ""
		st.Error = false
		st.Loading = false
		st.TokenCount = 0
	})
	return id
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

func (s *Store) SetToken(token string) {
	s.update(func(st *State) { st.Token = strings.TrimSpace(token) })
}

func (s *Store) SetStatus(status transport.Status) {
	s.update(func(st *State) {
		st.Status = status
		if status.Err != nil {
			st.Error = true
		} else if status.Connected {
			st.Error = false
		}
	})
}

func (s *Store) ThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ThreadID
}

func (s *Store) SetThreadID(id string) {
	s.update(func(st *State) { st.ThreadID = strings.TrimSpace(id) })
}

func (s *Store) IDToResume() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IDToResume
}

func (s *Store) SetFirstInteraction(interaction, threadID string) {
	s.update(func(st *State) {
		st.FirstInteraction = interaction
		if threadID = strings.TrimSpace(threadID); threadID != "" {
			st.ThreadID = threadID
		}
	})
}

func (s *Store) SetError(v bool) {
	s.update(func(st *State) { st.Error = v })
}

func (s *Store) SetLoading(v bool) {
	s.update(func(st *State) { st.Loading = v })
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Loading
}

func (s *Store) SetTokenCount(n int) {
	if n < 0 {
		n = 0
	}
	s.update(func(st *State) { st.TokenCount = n })
}

func (s *Store) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TokenCount
}

func (s *Store) Resume() ResumeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Resume
}

// BeginResume moves to Resuming(threadID) and records the pending id. A
// second call while a resume for the same thread is in flight is refused.
func (s *Store) BeginResume(threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Resume.Phase == Resuming && s.state.Resume.ThreadID == threadID {
		return fmt.Errorf("thread %s is already resuming", threadID)
	}
	s.state.Resume = ResumeState{Phase: Resuming, ThreadID: threadID}
	s.state.IDToResume = threadID
	s.notifyLocked()
	return nil
}

// CompleteResume ends a resume successfully. It reports false when no resume
// was in flight.
func (s *Store) CompleteResume(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Resume.Phase != Resuming {
		return false
	}
	if threadID = strings.TrimSpace(threadID); threadID == "" {
		threadID = s.state.Resume.ThreadID
	}
	s.state.Resume = ResumeState{Phase: Resumed, ThreadID: threadID}
	s.state.ThreadID = threadID
	s.state.IDToResume = ""
	s.notifyLocked()
	return true
}

// FailResume ends a resume with reason. It reports false when no resume was
// in flight.
func (s *Store) FailResume(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Resume.Phase != Resuming {
		return false
	}
	s.state.Resume = ResumeState{Phase: ResumeFailed, ThreadID: s.state.Resume.ThreadID, Reason: reason}
	s.state.IDToResume = ""
	s.notifyLocked()
	return true
}

// ResetResume returns the machine to Idle.
func (s *Store) ResetResume() {
	s.update(func(st *State) {
		st.Resume = ResumeState{}
		st.IDToResume = ""
	})
}
