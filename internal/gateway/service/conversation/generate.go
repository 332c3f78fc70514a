package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/protocol"
	"chatwire/internal/types"

	"github.com/google/uuid"
)

// generate streams an assistant reply for history in the background. A
// running generation of the same session is cancelled first.
func (s *Session) generate(threadID string, history []assistant.Turn) {
	s.stopGeneration()
	s.running.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer cancel()
		s.stream(ctx, threadID, history)
	}()
}

func (s *Session) stream(ctx context.Context, threadID string, history []assistant.Turn) {
	started := time.Now().UTC()
	step := types.Step{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Name:      s.hub.author,
		Type:      types.StepAssistantMessage,
		Streaming: true,
		CreatedAt: started,
		Start:     &started,
	}
	s.emit(protocol.EventTaskStart, nil)
	s.emit(protocol.EventStreamStart, step)

	var out strings.Builder
	reply, err := s.hub.responder.Stream(ctx, history, func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out.WriteString(token)
		s.emit(protocol.EventStreamToken, protocol.StreamToken{ID: step.ID, Token: token})
		return nil
	})

	step.Output = out.String()
	switch {
	case err == nil:
		if reply.Text != "" && strings.HasPrefix(reply.Text, step.Output) {
			step.Output = reply.Text
		}
	case errors.Is(err, context.Canceled):
		log.Printf("conversation: session %s: generation stopped", s.ID)
	default:
		log.Printf("conversation: session %s: %s failed: %v", s.ID, s.hub.responder.Name(), err)
		step.IsError = true
		if step.Output == "" {
			step.Output = err.Error()
		}
	}
	end := time.Now().UTC()
	step.Streaming = false
	step.End = &end
	if _, err := s.hub.threads.Update(context.Background(), threadID, func(t *types.Thread) error {
		t.Steps = append(t.Steps, step)
		return nil
	}); err != nil {
		log.Printf("conversation: save reply for %s: %v", threadID, err)
	}
	s.emit(protocol.EventUpdateMessage, step)

	if reply.Tokens > 0 {
		s.emit(protocol.EventTokenUsage, protocol.TokenUsage{Count: reply.Tokens})
	}
	s.emit(protocol.EventTaskEnd, nil)
}
