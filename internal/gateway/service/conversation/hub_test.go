package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"chatwire/internal/gateway/config"
	"chatwire/internal/gateway/repository/artifact"
	"chatwire/internal/gateway/repository/thread"
	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/protocol"
	"chatwire/internal/types"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (r *recorder) send(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, env)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Event)
	}
	return out
}

func (r *recorder) first(t *testing.T, event string, out any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f.Event == event {
			require.NoError(t, f.Decode(out))
			return
		}
	}
	t.Fatalf("no %s frame in %v", event, r.frames)
}

func envelope(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}

var allFeatures = config.FeatureConfig{
	ThreadResumable: true,
	DataPersistence: true,
	UploadEnabled:   true,
	UploadMaxSizeMB: 1,
}

func newHub(t *testing.T, responder assistant.Responder, features config.FeatureConfig) (*Hub, *thread.Store) {
	t.Helper()
	threads := thread.New(filepath.Join(t.TempDir(), "threads.json"), 8)
	return NewHub(threads, artifact.NewMemoryStore(), responder, features, "Bot"), threads
}

func TestClientMessageStreamsAndPersistsReply(t *testing.T) {
	ctx := context.Background()
	hub, threads := newHub(t, assistant.NewEcho(0), allFeatures)
	rec := &recorder{}
	s, err := hub.Attach(ctx, "sess-1", "", rec.send)
	require.NoError(t, err)

	s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{
		Message: types.Step{ID: "local-1", Output: "hello there", Type: types.StepUserMessage},
	}))
	s.Wait()

	require.Equal(t, []string{
		protocol.EventFirstInteraction,
		protocol.EventMessageID,
		protocol.EventTaskStart,
		protocol.EventStreamStart,
		protocol.EventStreamToken, protocol.EventStreamToken, protocol.EventStreamToken, protocol.EventStreamToken,
		protocol.EventUpdateMessage,
		protocol.EventTokenUsage,
		protocol.EventTaskEnd,
	}, rec.events())

	var first protocol.FirstInteraction
	rec.first(t, protocol.EventFirstInteraction, &first)
	require.Equal(t, "hello there", first.Interaction)
	require.Equal(t, first.ThreadID, s.ThreadID())

	var ids protocol.MessageID
	rec.first(t, protocol.EventMessageID, &ids)
	require.Equal(t, "local-1", ids.OldID)
	require.NotEqual(t, "local-1", ids.NewID)

	var final types.Step
	rec.first(t, protocol.EventUpdateMessage, &final)
	require.False(t, final.Streaming)
	require.NotNil(t, final.End)
	require.Equal(t, "You said: hello there", final.Output)
	require.Equal(t, "Bot", final.Name)

	saved, err := threads.Get(ctx, first.ThreadID)
	require.NoError(t, err)
	require.Equal(t, "hello there", saved.Name)
	require.Len(t, saved.Steps, 2)
	require.Equal(t, ids.NewID, saved.Steps[0].ID)
	require.Equal(t, types.StepAssistantMessage, saved.Steps[1].Type)
	require.Equal(t, final.Output, saved.Steps[1].Output)
}

func TestSecondMessageReusesThread(t *testing.T) {
	ctx := context.Background()
	hub, threads := newHub(t, assistant.NewEcho(0), allFeatures)
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)

	for _, text := range []string{"one", "two"} {
		s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{Message: types.Step{Output: text}}))
		s.Wait()
	}

	n := 0
	for _, ev := range rec.events() {
		if ev == protocol.EventFirstInteraction {
			n++
		}
	}
	require.Equal(t, 1, n)
	saved, err := threads.Get(ctx, s.ThreadID())
	require.NoError(t, err)
	require.Len(t, saved.Steps, 4)
}

type blockingResponder struct {
	started chan struct{}
}

func (b *blockingResponder) Name() string { return "blocking" }

func (b *blockingResponder) Stream(ctx context.Context, _ []assistant.Turn, onToken func(string) error) (assistant.Reply, error) {
	if err := onToken("partial"); err != nil {
		return assistant.Reply{}, err
	}
	close(b.started)
	<-ctx.Done()
	return assistant.Reply{Text: "partial"}, ctx.Err()
}

func TestStopCancelsGeneration(t *testing.T) {
	ctx := context.Background()
	resp := &blockingResponder{started: make(chan struct{})}
	hub, threads := newHub(t, resp, allFeatures)
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)

	s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{Message: types.Step{Output: "go"}}))
	<-resp.started
	s.Handle(ctx, protocol.Envelope{Event: protocol.EventStop})
	s.Wait()

	var final types.Step
	rec.first(t, protocol.EventUpdateMessage, &final)
	require.Equal(t, "partial", final.Output)
	require.False(t, final.IsError)

	saved, err := threads.Get(ctx, s.ThreadID())
	require.NoError(t, err)
	require.Len(t, saved.Steps, 2)
}

type failingResponder struct{}

func (failingResponder) Name() string { return "failing" }

func (failingResponder) Stream(context.Context, []assistant.Turn, func(string) error) (assistant.Reply, error) {
	return assistant.Reply{}, errors.New("model unavailable")
}

func TestResponderFailureMarksStepAsError(t *testing.T) {
	ctx := context.Background()
	hub, _ := newHub(t, failingResponder{}, allFeatures)
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)

	s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{Message: types.Step{Output: "hi"}}))
	s.Wait()

	var final types.Step
	rec.first(t, protocol.EventUpdateMessage, &final)
	require.True(t, final.IsError)
	require.Equal(t, "model unavailable", final.Output)
	require.Contains(t, rec.events(), protocol.EventTaskEnd)
}

func TestAttachResumesThread(t *testing.T) {
	ctx := context.Background()
	hub, threads := newHub(t, assistant.NewEcho(0), allFeatures)
	_, err := threads.Put(ctx, types.Thread{ID: "t1", Name: "old", Steps: []types.Step{{ID: "s1", Output: "hi"}}})
	require.NoError(t, err)

	rec := &recorder{}
	s, err := hub.Attach(ctx, "sess-1", "t1", rec.send)
	require.NoError(t, err)
	require.Equal(t, []string{protocol.EventResumeThread}, rec.events())
	require.Equal(t, "t1", s.ThreadID())

	var replay types.Thread
	rec.first(t, protocol.EventResumeThread, &replay)
	require.Equal(t, "old", replay.Name)
	require.Len(t, replay.Steps, 1)
}

func TestAttachRejectsUnknownOrDisabledResume(t *testing.T) {
	ctx := context.Background()
	hub, _ := newHub(t, assistant.NewEcho(0), allFeatures)
	rec := &recorder{}
	s, err := hub.Attach(ctx, "sess-1", "missing", rec.send)
	require.NoError(t, err)
	require.Equal(t, []string{protocol.EventSessionError}, rec.events())
	require.Empty(t, s.ThreadID())

	features := allFeatures
	features.ThreadResumable = false
	hub, threads := newHub(t, assistant.NewEcho(0), features)
	_, _ = threads.Put(ctx, types.Thread{ID: "t1"})
	rec = &recorder{}
	_, err = hub.Attach(ctx, "sess-2", "t1", rec.send)
	require.NoError(t, err)
	var se protocol.SessionError
	rec.first(t, protocol.EventSessionError, &se)
	require.Contains(t, se.Message, "disabled")
}

func TestUploadedFileAttachesToNextMessage(t *testing.T) {
	ctx := context.Background()
	hub, threads := newHub(t, assistant.NewEcho(0), allFeatures)
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)

	s.Handle(ctx, envelope(t, protocol.EventFileUpload, protocol.FileUpload{ID: "f1", Name: "dir/notes.txt", Type: "text/plain", Data: []byte("abc")}))
	s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{
		Message:  types.Step{ID: "local", Output: "see file"},
		FileRefs: []protocol.FileRef{{ID: "f1"}, {ID: "unknown"}},
	}))
	s.Wait()

	var el types.Element
	rec.first(t, protocol.EventElement, &el)
	require.Equal(t, "f1", el.ID)
	require.Equal(t, "notes.txt", el.Name)
	require.Equal(t, types.ElementText, el.Type)
	require.Equal(t, "/project/file/sess-1/f1/notes.txt", el.URL)

	var ids protocol.MessageID
	rec.first(t, protocol.EventMessageID, &ids)
	require.Equal(t, ids.NewID, el.ForID)

	content, err := hub.files.Get(ctx, "sess-1", "f1/notes.txt")
	require.NoError(t, err)
	require.Equal(t, "abc", string(content))

	saved, _ := threads.Get(ctx, s.ThreadID())
	require.Len(t, saved.Elements, 1)
	require.Len(t, saved.Steps[0].Elements, 1)

	// A file is consumed by the message that references it.
	require.Empty(t, hub.takeFiles("sess-1", []protocol.FileRef{{ID: "f1"}}, "", ""))
}

func TestUploadLimits(t *testing.T) {
	ctx := context.Background()
	features := allFeatures
	hub, _ := newHub(t, assistant.NewEcho(0), features)
	_, err := hub.StoreFile(ctx, "sess-1", "big", "big.bin", "", make([]byte, 2<<20))
	require.ErrorContains(t, err, "exceeds")

	features.UploadEnabled = false
	hub, _ = newHub(t, assistant.NewEcho(0), features)
	_, err = hub.StoreFile(ctx, "sess-1", "a", "a.txt", "", []byte("x"))
	require.ErrorContains(t, err, "disabled")
}

func TestCallActionRunsRegisteredCallback(t *testing.T) {
	ctx := context.Background()
	hub, _ := newHub(t, assistant.NewEcho(0), allFeatures)
	hub.RegisterAction("approve", func(_ context.Context, _ *Session, a types.Action) (string, error) {
		return "approved " + a.ForID, nil
	})
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)

	s.Handle(ctx, envelope(t, protocol.EventCallAction, protocol.CallAction{Action: types.Action{ID: "a1", Name: "approve", ForID: "m1"}}))
	s.Handle(ctx, envelope(t, protocol.EventCallAction, protocol.CallAction{Action: types.Action{ID: "a2", Name: "nope"}}))

	var frames []protocol.ActionResponse
	rec.mu.Lock()
	for _, f := range rec.frames {
		var r protocol.ActionResponse
		require.NoError(t, json.Unmarshal(f.Data, &r))
		frames = append(frames, r)
	}
	rec.mu.Unlock()
	require.Equal(t, []protocol.ActionResponse{
		{ID: "a1", Success: true, Response: "approved m1"},
		{ID: "a2", Success: false, Response: `no action named "nope"`},
	}, frames)
}

func TestClearSessionStartsNewThread(t *testing.T) {
	ctx := context.Background()
	hub, _ := newHub(t, assistant.NewEcho(0), allFeatures)
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)
	s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{Message: types.Step{Output: "one"}}))
	s.Wait()
	before := s.ThreadID()

	s.Handle(ctx, protocol.Envelope{Event: protocol.EventClearSession})
	require.Empty(t, s.ThreadID())

	s.Handle(ctx, envelope(t, protocol.EventClientMessage, protocol.ClientMessage{Message: types.Step{Output: "two"}}))
	s.Wait()
	require.NotEmpty(t, s.ThreadID())
	require.NotEqual(t, before, s.ThreadID())
}

func TestUnknownEventReportsSessionError(t *testing.T) {
	ctx := context.Background()
	hub, _ := newHub(t, assistant.NewEcho(0), allFeatures)
	rec := &recorder{}
	s, _ := hub.Attach(ctx, "sess-1", "", rec.send)

	s.Handle(ctx, protocol.Envelope{Event: protocol.EventAudioChunk})
	require.Empty(t, rec.events())

	s.Handle(ctx, protocol.Envelope{Event: "bogus"})
	require.Equal(t, []string{protocol.EventSessionError}, rec.events())
}

func TestAttachReplacesPreviousConnection(t *testing.T) {
	ctx := context.Background()
	hub, _ := newHub(t, assistant.NewEcho(0), allFeatures)
	first, _ := hub.Attach(ctx, "sess-1", "", (&recorder{}).send)
	second, _ := hub.Attach(ctx, "sess-1", "", (&recorder{}).send)

	hub.Detach(first)
	got, ok := hub.Session("sess-1")
	require.True(t, ok)
	require.Same(t, second, got)

	hub.Detach(second)
	_, ok = hub.Session("sess-1")
	require.False(t, ok)
}
