package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatwire/internal/client/api"
	"chatwire/internal/client/transport"
	"chatwire/internal/client/upload"
	"chatwire/internal/protocol"
	"chatwire/internal/types"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	emitted   []emitted
	handlers  map[string]map[int]transport.Handler
	next      int
	onEmit    func(event string, payload any)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeTransport) Connect(context.Context, transport.Params) (*transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil, nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.emitted = append(f.emitted, emitted{event, payload})
	hook := f.onEmit
	f.mu.Unlock()
	if hook != nil {
		hook(event, payload)
	}
	return nil
}

func (f *fakeTransport) On(event string, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	id := f.next
	f.next++
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Status() transport.Status {
	return transport.Status{Connected: f.Connected()}
}

func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(event, payload)
	require.NoError(t, err)
	f.mu.Lock()
	var hs []transport.Handler
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emitted))
	for _, e := range f.emitted {
		out = append(out, e.event)
	}
	return out
}

type toasts struct {
	mu     sync.Mutex
	errors []string
	infos  []string
	paths  []string
}

func (n *toasts) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *toasts) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *toasts) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func newApp(t *testing.T, apiURL string) (*App, *fakeTransport, *toasts) {
	t.Helper()
	tr := newFakeTransport()
	ui := &toasts{}
	cfg := Config{Transport: tr, Navigator: ui, Notifier: ui, ClientType: "webapp"}
	if apiURL != "" {
		cfg.API = api.New(api.Config{BaseURL: apiURL, Token: "tok"})
	}
	app := New(cfg)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(app.Close)
	return app, tr, ui
}

func TestStreamingAssistantReply(t *testing.T) {
	app, tr, _ := newApp(t, "")

	user, err := app.SendMessage(context.Background(), "  hi there ", nil)
	require.NoError(t, err)
	require.Equal(t, "hi there", user.Output)
	require.Equal(t, []string{protocol.EventClientMessage}, tr.events())
	require.True(t, app.Session.Store().Loading())

	tr.deliver(t, protocol.EventTaskStart, nil)
	tr.deliver(t, protocol.EventStreamStart, types.Step{ID: "a1", ParentID: user.ID, Type: types.StepAssistantMessage, Name: "Assistant"})
	tr.deliver(t, protocol.EventStreamToken, protocol.StreamToken{ID: "a1", Token: "Hel"})
	tr.deliver(t, protocol.EventStreamToken, protocol.StreamToken{ID: "a1", Token: "lo"})

	a1, ok := app.Tree.Get("a1")
	require.True(t, ok)
	require.True(t, a1.Streaming)
	require.Equal(t, "Hello", a1.Output)

	// A truncating replacement while streaming is refused.
	tr.deliver(t, protocol.EventStreamToken, protocol.StreamToken{ID: "a1", Token: "He", IsSequence: true})
	a1, _ = app.Tree.Get("a1")
	require.Equal(t, "Hello", a1.Output)

	tr.deliver(t, protocol.EventUpdateMessage, types.Step{ID: "a1", Type: types.StepAssistantMessage, Output: "Hello!", Streaming: false})
	tr.deliver(t, protocol.EventTaskEnd, nil)

	a1, _ = app.Tree.Get("a1")
	require.False(t, a1.Streaming)
	require.Equal(t, "Hello!", a1.Output)
	require.False(t, app.Session.Store().Loading())

	var depths []int
	for e := range app.Tree.Flatten() {
		depths = append(depths, e.Depth)
	}
	require.Equal(t, []int{0, 1}, depths)
}

func TestServerEchoOfOptimisticStepIsMerged(t *testing.T) {
	app, tr, _ := newApp(t, "")
	user, err := app.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)

	echo := user
	echo.Output = "hello"
	echo.ThreadID = "T1"
	tr.deliver(t, protocol.EventNewMessage, echo)
	require.Equal(t, 1, app.Tree.Len())

	tr.deliver(t, protocol.EventMessageID, protocol.MessageID{OldID: user.ID, NewID: "srv-1"})
	_, ok := app.Tree.Get(user.ID)
	require.False(t, ok)
	got, ok := app.Tree.Get("srv-1")
	require.True(t, ok)
	require.Equal(t, "hello", got.Output)
}

func TestElementBeforeItsStep(t *testing.T) {
	app, tr, _ := newApp(t, "")
	tr.deliver(t, protocol.EventElement, types.Element{ID: "e1", ForID: "a1", Name: "chart", Type: types.ElementImage, Display: types.DisplayInline})
	tr.deliver(t, protocol.EventNewMessage, types.Step{ID: "a1", Type: types.StepAssistantMessage, Output: "see chart"})

	a1, ok := app.Tree.Get("a1")
	require.True(t, ok)
	require.Len(t, a1.Elements, 1)

	tr.deliver(t, protocol.EventRemoveElement, protocol.RemoveElement{ID: "e1"})
	a1, _ = app.Tree.Get("a1")
	require.Empty(t, a1.Elements)
	require.Zero(t, app.Elements.Len())
}

func TestAskIsClearedByClearAsk(t *testing.T) {
	app, tr, _ := newApp(t, "")
	tr.deliver(t, protocol.EventNewMessage, types.Step{ID: "q1", Type: types.StepAssistantMessage, Output: "name?", WaitForAnswer: true})
	require.True(t, app.Asking())
	tr.deliver(t, protocol.EventClearAsk, nil)
	require.False(t, app.Asking())
}

func feedbackServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /message/feedback", func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"detail":"storage unavailable"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "feedbackId": "fb-1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSendFeedbackCommitsOnSuccess(t *testing.T) {
	srv := feedbackServer(t, http.StatusOK)
	app, tr, ui := newApp(t, srv.URL)
	tr.deliver(t, protocol.EventNewMessage, types.Step{ID: "a1", Type: types.StepAssistantMessage})

	require.NoError(t, app.SendFeedback(context.Background(), types.Feedback{ForID: "a1", Value: 1, Comment: "nice"}))
	a1, _ := app.Tree.Get("a1")
	require.NotNil(t, a1.Feedback)
	require.Equal(t, "fb-1", a1.Feedback.ID)
	require.Equal(t, 1, a1.Feedback.Value)
	require.Empty(t, ui.errors)
}

func TestSendFeedbackRollsBackOnFailure(t *testing.T) {
	srv := feedbackServer(t, http.StatusInternalServerError)
	app, tr, ui := newApp(t, srv.URL)
	prev := &types.Feedback{ID: "fb-0", Value: 1}
	tr.deliver(t, protocol.EventNewMessage, types.Step{ID: "a1", Type: types.StepAssistantMessage, Feedback: prev})

	err := app.SendFeedback(context.Background(), types.Feedback{ForID: "a1", Value: 0})
	require.Error(t, err)
	a1, _ := app.Tree.Get("a1")
	require.NotNil(t, a1.Feedback)
	require.Equal(t, 1, a1.Feedback.Value)
	require.Equal(t, "fb-0", a1.Feedback.ID)
	require.Len(t, ui.errors, 1)

	tr.deliver(t, protocol.EventNewMessage, types.Step{ID: "a2", Type: types.StepAssistantMessage})
	require.Error(t, app.SendFeedback(context.Background(), types.Feedback{ForID: "a2", Value: 1}))
	a2, _ := app.Tree.Get("a2")
	require.Nil(t, a2.Feedback)
}

func TestCallActionAwaitsMatchingResponse(t *testing.T) {
	app, tr, ui := newApp(t, "")
	tr.onEmit = func(event string, payload any) {
		if event != protocol.EventCallAction {
			return
		}
		id := payload.(protocol.CallAction).Action.ID
		go func() {
			tr.deliver(t, protocol.EventActionResponse, protocol.ActionResponse{ID: "other", Success: false})
			tr.deliver(t, protocol.EventActionResponse, protocol.ActionResponse{ID: id, Success: true, Response: "done"})
		}()
	}
	resp, err := app.CallAction(context.Background(), types.Action{Name: "approve", ForID: "a1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, []string{"done"}, ui.infos)
	require.Empty(t, ui.errors)
}

func TestCallActionFailureToasts(t *testing.T) {
	app, tr, ui := newApp(t, "")
	tr.onEmit = func(event string, payload any) {
		id := payload.(protocol.CallAction).Action.ID
		go tr.deliver(t, protocol.EventActionResponse, protocol.ActionResponse{ID: id, Success: false, Response: "denied"})
	}
	_, err := app.CallAction(context.Background(), types.Action{ID: "x1", Name: "approve"})
	require.Error(t, err)
	require.Len(t, ui.errors, 1)

	tr.onEmit = nil
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = app.CallAction(ctx, types.Action{Name: "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploadFilesReportsRejections(t *testing.T) {
	app, tr, ui := newApp(t, "")
	app.SetSettings(types.ProjectSettings{Features: types.FeatureSettings{
		SpontaneousFileUpload: types.UploadFeature{Enabled: true, MaxFiles: 5, MaxSizeMB: 1, Accept: []string{"text/plain"}},
	}})
	out := app.UploadFiles(context.Background(), []upload.File{
		upload.FromBytes("notes.txt", []byte("hello")),
		upload.FromBytes("photo.png", []byte("x")),
	}, nil)
	require.Len(t, out.Uploaded, 1)
	require.Len(t, out.Rejected, 1)
	require.Equal(t, upload.CodeInvalidType, out.Rejected[0].Code)
	require.Len(t, ui.errors, 1)
	require.Equal(t, []string{protocol.EventFileUpload}, tr.events())
}

func TestNewChatResetsEverything(t *testing.T) {
	app, tr, _ := newApp(t, "")
	_, err := app.SendMessage(context.Background(), "hi", nil)
	require.NoError(t, err)
	tr.deliver(t, protocol.EventTokenUsage, protocol.TokenUsage{Count: 7})

	require.NoError(t, app.NewChat(context.Background()))
	require.False(t, app.Tree.HasConversation())
	require.Zero(t, app.Session.Store().TokenCount())
	require.Contains(t, tr.events(), protocol.EventClearSession)
}

func TestRenderCustomAppliesIntents(t *testing.T) {
	app, tr, _ := newApp(t, "")
	tr.deliver(t, protocol.EventNewMessage, types.Step{ID: "a1", Type: types.StepAssistantMessage})
	tr.deliver(t, protocol.EventElement, types.Element{
		ID: "c1", ForID: "a1", Name: "counter", Type: types.ElementCustom,
		Content: `{{updateElement "seen" true}}count={{prop .Props "count"}}`,
		Props:   map[string]any{"count": float64(2)},
	})
	tr.deliver(t, protocol.EventElement, types.Element{ID: "c2", ForID: "a1", Name: "broken", Type: types.ElementCustom, Content: `{{end}}`})

	results := app.RenderCustom(context.Background())
	require.Len(t, results, 2)
	require.Equal(t, "count=2", results[0].Output)
	require.Error(t, results[1].Err)

	el, ok := app.Elements.Get("c1")
	require.True(t, ok)
	require.Equal(t, true, el.Props["seen"])
}

func TestUnauthorizedRedirectsToLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	app, _, ui := newApp(t, srv.URL)
	require.Error(t, app.LoadSettings(context.Background(), "en-US"))
	require.Equal(t, []string{LoginPath}, ui.paths)
	require.Empty(t, app.Session.Store().Token())
}
