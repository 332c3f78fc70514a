package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"chatwire/internal/client/api"
	"chatwire/internal/client/elements"
	"chatwire/internal/client/transport"
	"chatwire/internal/client/tree"
	"chatwire/internal/protocol"
	"chatwire/internal/types"
)

// RootPath is where the user lands when a thread cannot be shown.
const RootPath = "/"

// Transport is the part of the transport adapter the session drives.
type Transport interface {
	Connect(ctx context.Context, p transport.Params) (*transport.Handle, error)
	Disconnect()
	Emit(event string, payload any) error
	On(event string, handler transport.Handler) (off func())
	Connected() bool
	Status() transport.Status
}

// ThreadSource fetches persisted threads for read-only viewing.
type ThreadSource interface {
	GetThread(ctx context.Context, threadID string) api.Result[types.Thread]
}

type Navigator interface {
	Navigate(path string)
}

type Notifier interface {
	Error(message string)
	Info(message string)
}

// OpenMode is how OpenThread decided to show a thread.
type OpenMode int

const (
	OpenNone OpenMode = iota
	OpenResume
	OpenReadOnly
)

type Options struct {
	ClientType string
	Threads    ThreadSource
	Navigator  Navigator
	Notifier   Notifier
}

// Manager binds the session store to the transport and the content stores.
type Manager struct {
	store      *Store
	transport  Transport
	tree       *tree.Store
	elements   *elements.Store
	threads    ThreadSource
	nav        Navigator
	notify     Notifier
	clientType string

	mu   sync.Mutex
	offs []func()
}

func NewManager(store *Store, t Transport, steps *tree.Store, elems *elements.Store, opts Options) *Manager {
	m := &Manager{
		store:      store,
		transport:  t,
		tree:       steps,
		elements:   elems,
		threads:    opts.Threads,
		nav:        opts.Navigator,
		notify:     opts.Notifier,
		clientType: strings.TrimSpace(opts.ClientType),
	}
	if m.nav == nil {
		m.nav = discard{}
	}
	if m.notify == nil {
		m.notify = discard{}
	}
	return m
}

func (m *Manager) Store() *Store { return m.store }

// Bind registers the session-level event handlers. Calling it twice is a
// no-op; Unbind removes them.
func (m *Manager) Bind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.offs) > 0 {
		return
	}
	m.offs = []func(){
		m.transport.On(protocol.EventConnect, func(protocol.Envelope) { m.store.SetStatus(m.transport.Status()) }),
		m.transport.On(protocol.EventDisconnect, func(protocol.Envelope) { m.store.SetStatus(m.transport.Status()) }),
		m.transport.On(protocol.EventConnectError, m.onConnectError),
		m.transport.On(protocol.EventFirstInteraction, m.onFirstInteraction),
		m.transport.On(protocol.EventTokenUsage, m.onTokenUsage),
		m.transport.On(protocol.EventTaskStart, func(protocol.Envelope) { m.store.SetLoading(true) }),
		m.transport.On(protocol.EventTaskEnd, func(protocol.Envelope) { m.store.SetLoading(false) }),
		m.transport.On(protocol.EventResumeThread, m.onResumeThread),
		m.transport.On(protocol.EventSessionError, m.onSessionError),
	}
}

func (m *Manager) Unbind() {
	m.mu.Lock()
	offs := m.offs
	m.offs = nil
	m.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Connect opens the transport for the current session, carrying the pending
// resume id if any.
func (m *Manager) Connect(ctx context.Context) error {
	st := m.store.Snapshot()
	_, err := m.transport.Connect(ctx, transport.Params{
		SessionID:  st.SessionID,
		ThreadID:   st.IDToResume,
		Token:      st.Token,
		ClientType: m.clientType,
	})
	m.store.SetStatus(m.transport.Status())
	if err != nil {
		m.store.SetError(true)
		return err
	}
	return nil
}

// Clear starts a new chat: the server is told to drop the session, the
// connection is replaced by one for a fresh session id, and the local
// content is emptied.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.transport.Emit(protocol.EventClearSession, nil); err != nil {
		log.Printf("session: clear_session not sent: %v", err)
	}
	m.transport.Disconnect()
	m.store.Renew()
	m.store.ResetResume()
	m.reset()
	return m.Connect(ctx)
}

func (m *Manager) reset() {
	m.tree.Clear()
	m.elements.Reset()
	m.store.SetTokenCount(0)
}

// OpenThread shows a persisted thread. Resumable threads are replayed by the
// server over a new connection; otherwise, with persistence enabled, the
// thread is fetched read-only. With neither the user is sent to the root.
func (m *Manager) OpenThread(ctx context.Context, threadID string, settings types.ProjectSettings) (OpenMode, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return OpenNone, fmt.Errorf("thread id is required")
	}
	switch {
	case settings.ThreadResumable:
		return OpenResume, m.resume(ctx, threadID)
	case settings.DataPersistence:
		return OpenReadOnly, m.view(ctx, threadID)
	default:
		m.nav.Navigate(RootPath)
		return OpenNone, nil
	}
}

func (m *Manager) resume(ctx context.Context, threadID string) error {
	if err := m.store.BeginResume(threadID); err != nil {
		return err
	}
	m.transport.Disconnect()
	m.store.Renew()
	m.reset()
	if err := m.Connect(ctx); err != nil {
		m.failResume(err.Error())
		return err
	}
	return nil
}

func (m *Manager) view(ctx context.Context, threadID string) error {
	if m.threads == nil {
		m.nav.Navigate(RootPath)
		return fmt.Errorf("thread source is not configured")
	}
	thread, err := m.threads.GetThread(ctx, threadID).Unpack()
	if err != nil {
		m.notify.Error(fmt.Sprintf("Could not load thread: %v", err))
		m.nav.Navigate(RootPath)
		return err
	}
	m.reset()
	m.load(thread)
	m.store.SetThreadID(thread.ID)
	return nil
}

func (m *Manager) load(thread types.Thread) {
	loaded := m.tree.Load(thread)
	for _, el := range thread.Elements {
		m.elements.Upsert(el)
	}
	log.Printf("session: loaded thread %s (%d steps, %d elements)", thread.ID, loaded, len(thread.Elements))
}

// AwaitResume blocks until the resume machine leaves Resuming or ctx ends.
func (m *Manager) AwaitResume(ctx context.Context) (ResumeState, error) {
	for {
		changed := m.store.Changed()
		st := m.store.Resume()
		if st.Phase != Resuming {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Stop asks the server to stop the current generation and flips the local
// loading flag regardless of the outcome.
func (m *Manager) Stop() {
	if err := m.transport.Emit(protocol.EventStop, nil); err != nil {
		log.Printf("session: stop not sent: %v", err)
	}
	m.store.SetLoading(false)
}

func (m *Manager) failResume(reason string) {
	if !m.store.FailResume(reason) {
		return
	}
	m.nav.Navigate(RootPath)
	m.notify.Error("Could not resume chat: " + reason)
}

func (m *Manager) onConnectError(env protocol.Envelope) {
	m.store.SetStatus(m.transport.Status())
	m.store.SetError(true)
	var payload protocol.SessionError
	if err := env.Decode(&payload); err == nil && payload.Message != "" {
		log.Printf("session: connect error: %s", payload.Message)
	}
}

func (m *Manager) onFirstInteraction(env protocol.Envelope) {
	var payload protocol.FirstInteraction
	if err := env.Decode(&payload); err != nil {
		log.Printf("session: %v", err)
		return
	}
	m.store.SetFirstInteraction(payload.Interaction, payload.ThreadID)
}

func (m *Manager) onTokenUsage(env protocol.Envelope) {
	var payload protocol.TokenUsage
	if err := env.Decode(&payload); err != nil {
		log.Printf("session: %v", err)
		return
	}
	m.store.SetTokenCount(m.store.TokenCount() + payload.Count)
}

func (m *Manager) onResumeThread(env protocol.Envelope) {
	if m.store.Resume().Phase != Resuming {
		log.Printf("session: resume_thread without a pending resume, ignored")
		return
	}
	var thread types.Thread
	if err := env.Decode(&thread); err != nil {
		m.failResume(err.Error())
		return
	}
	m.reset()
	m.load(thread)
	m.store.CompleteResume(thread.ID)
}

func (m *Manager) onSessionError(env protocol.Envelope) {
	var payload protocol.SessionError
	if err := env.Decode(&payload); err != nil {
		payload.Message = "session error"
	}
	if m.store.Resume().Phase == Resuming {
		m.failResume(payload.Message)
		return
	}
	m.store.SetError(true)
	m.notify.Error(payload.Message)
}

type discard struct{}

func (discard) Navigate(string) {}
func (discard) Error(string)    {}
func (discard) Info(string)     {}
