package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/protocol"
	"chatwire/internal/types"

	"github.com/google/uuid"
)

const threadNameLen = 60

// Session is one connected client.
type Session struct {
	ID  string
	hub *Hub

	send func(protocol.Envelope)

	mu       sync.Mutex
	threadID string
	cancel   context.CancelFunc
	running  sync.WaitGroup
}

func newSession(h *Hub, id string, send func(protocol.Envelope)) *Session {
	return &Session{ID: id, hub: h, send: send}
}

func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Session) setThread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = id
}

// Wait blocks until the running generation, if any, has finished.
func (s *Session) Wait() {
	s.running.Wait()
}

func (s *Session) emit(event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("conversation: %v", err)
		return
	}
	s.send(env)
}

func (s *Session) stopGeneration() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Handle processes one client event.
func (s *Session) Handle(ctx context.Context, env protocol.Envelope) {
	if fn := s.hub.observer(); fn != nil {
		fn(s.ID, env.Event)
	}
	var err error
	switch env.Event {
	case protocol.EventClientMessage:
		err = s.onClientMessage(ctx, env)
	case protocol.EventStop:
		s.stopGeneration()
	case protocol.EventClearSession:
		s.stopGeneration()
		s.setThread("")
		s.hub.dropFiles(s.ID)
	case protocol.EventFileUpload:
		err = s.onFileUpload(ctx, env)
	case protocol.EventCallAction:
		err = s.onCallAction(ctx, env)
	case protocol.EventOpenSharedThread:
		err = s.onOpenSharedThread(ctx, env)
	case protocol.EventAudioChunk, protocol.EventWindowMessage:
		log.Printf("conversation: %s ignored", env.Event)
	default:
		err = fmt.Errorf("unsupported event %q", env.Event)
	}
	if err != nil {
		log.Printf("conversation: session %s: %s: %v", s.ID, env.Event, err)
		s.emit(protocol.EventSessionError, protocol.SessionError{Message: err.Error()})
	}
}

func (s *Session) onFileUpload(ctx context.Context, env protocol.Envelope) error {
	var f protocol.FileUpload
	if err := env.Decode(&f); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.hub.StoreFile(ctx, s.ID, f.ID, f.Name, f.Type, f.Data)
	return err
}

func (s *Session) onCallAction(ctx context.Context, env protocol.Envelope) error {
	var req protocol.CallAction
	if err := env.Decode(&req); err != nil {
		return err
	}
	resp := protocol.ActionResponse{ID: req.Action.ID}
	fn, ok := s.hub.action(req.Action.Name)
	if !ok {
		resp.Response = fmt.Sprintf("no action named %q", req.Action.Name)
	} else if text, err := fn(ctx, s, req.Action); err != nil {
		resp.Response = err.Error()
	} else {
		resp.Success = true
		resp.Response = text
	}
	s.emit(protocol.EventActionResponse, resp)
	return nil
}

func (s *Session) onOpenSharedThread(ctx context.Context, env protocol.Envelope) error {
	var req protocol.OpenSharedThread
	if err := env.Decode(&req); err != nil {
		return err
	}
	if !s.hub.features.DataPersistence {
		return errors.New("data persistence is disabled")
	}
	t, err := s.hub.threads.Get(ctx, req.ThreadID)
	if err != nil {
		return fmt.Errorf("shared thread %s: %w", req.ThreadID, err)
	}
	s.emit(protocol.EventResumeThread, t)
	return nil
}

func (s *Session) onClientMessage(ctx context.Context, env protocol.Envelope) error {
	var msg protocol.ClientMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	threadID, err := s.ensureThread(ctx, msg.Message.Output)
	if err != nil {
		return err
	}

	user := msg.Message
	clientID := user.ID
	user.ID = uuid.NewString()
	user.ThreadID = threadID
	user.Type = types.StepUserMessage
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Elements = s.hub.takeFiles(s.ID, msg.FileRefs, threadID, user.ID)

	if _, err := s.hub.threads.Update(ctx, threadID, func(t *types.Thread) error {
		t.Steps = append(t.Steps, user)
		t.Elements = append(t.Elements, user.Elements...)
		return nil
	}); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if clientID != "" {
		s.emit(protocol.EventMessageID, protocol.MessageID{OldID: clientID, NewID: user.ID})
	}
	for _, el := range user.Elements {
		s.emit(protocol.EventElement, el)
	}

	history, err := s.history(ctx, threadID)
	if err != nil {
		return err
	}
	s.generate(threadID, history)
	return nil
}

func (s *Session) ensureThread(ctx context.Context, firstMessage string) (string, error) {
	if id := s.ThreadID(); id != "" {
		return id, nil
	}
	t, err := s.hub.threads.Put(ctx, types.Thread{
		Name:      threadName(firstMessage),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	s.setThread(t.ID)
	s.emit(protocol.EventFirstInteraction, protocol.FirstInteraction{Interaction: firstMessage, ThreadID: t.ID})
	return t.ID, nil
}

func threadName(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if utf8.RuneCountInString(msg) <= threadNameLen {
		return msg
	}
	return string([]rune(msg)[:threadNameLen])
}

func (s *Session) history(ctx context.Context, threadID string) ([]assistant.Turn, error) {
	t, err := s.hub.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	var turns []assistant.Turn
	for _, st := range t.SortedSteps() {
		switch st.Type {
		case types.StepUserMessage:
			turns = append(turns, assistant.Turn{Role: assistant.RoleUser, Text: st.Output})
		case types.StepAssistantMessage:
			turns = append(turns, assistant.Turn{Role: assistant.RoleAssistant, Text: st.Output})
		}
	}
	return turns, nil
}
