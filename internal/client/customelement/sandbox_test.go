package customelement

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatwire/internal/types"

	"github.com/stretchr/testify/require"
)

func custom(id, src string, props map[string]any) types.Element {
	return types.Element{ID: id, ForID: "step-1", Name: id, Type: types.ElementCustom, Content: src, Props: props}
}

func TestRenderBindingsAndComponents(t *testing.T) {
	r := New(Limits{})
	el := custom("counter", `{{card (upper (prop .Props "title")) (default "none" (prop .Props "body"))}}{{badge (prop .Props "count")}}{{list (prop .Props "items")}}{{json .Props.count}}`,
		map[string]any{"title": "votes", "count": float64(3), "items": []any{"a", "<b>"}})
	res := r.Render(context.Background(), el)
	require.NoError(t, res.Err)
	require.Equal(t,
		`<div class="card"><h3>VOTES</h3><p>none</p></div><span class="badge">3</span><ul><li>a</li><li>&lt;b&gt;</li></ul>3`,
		res.Output)
	require.Empty(t, res.Intents)
}

func TestIntentsAreRecordedNotExecuted(t *testing.T) {
	r := New(Limits{})
	el := custom("poll", `{{updateElement "count" 4}}{{callAction "vote" "choice" "yes"}}{{sendUserMessage "voted"}}{{deleteElement}}ok`, nil)
	res := r.Render(context.Background(), el)
	require.NoError(t, res.Err)
	require.Equal(t, "ok", res.Output)
	require.Len(t, res.Intents, 4)
	require.Equal(t, IntentUpdateElement, res.Intents[0].Kind)
	require.Equal(t, map[string]any{"count": 4}, res.Intents[0].Props)
	require.Equal(t, "vote", res.Intents[1].Action.Name)
	require.Equal(t, "step-1", res.Intents[1].Action.ForID)
	require.Equal(t, "voted", res.Intents[2].Message)
	require.Equal(t, "poll", res.Intents[3].ElementID)

	host := &fakeHost{}
	require.NoError(t, Apply(host, res))
	require.Equal(t, []string{"update:poll", "action:vote", "message:voted", "delete:poll"}, host.calls)
}

func TestFailedRenderAppliesNothing(t *testing.T) {
	r := New(Limits{})
	res := r.Render(context.Background(), custom("bad", `{{deleteElement}}{{updateElement "odd"}}`, nil))
	require.Error(t, res.Err)
	require.Empty(t, res.Intents)
	host := &fakeHost{}
	require.NoError(t, Apply(host, res))
	require.Empty(t, host.calls)
}

func TestCallBuiltinIsForbidden(t *testing.T) {
	res := New(Limits{}).Render(context.Background(), custom("c", `{{call .Props.fn}}`, map[string]any{"fn": "x"}))
	require.ErrorIs(t, res.Err, ErrForbidden)
}

func TestLimits(t *testing.T) {
	r := New(Limits{MaxSource: 32, MaxOutput: 16, Timeout: 50 * time.Millisecond})

	res := r.Render(context.Background(), custom("big", strings.Repeat("x", 33), nil))
	require.ErrorIs(t, res.Err, ErrSourceTooLarge)

	res = r.Render(context.Background(), custom("loud", `{{range 100}}xx{{end}}`, nil))
	require.ErrorIs(t, res.Err, ErrOutputTooLarge)

	res = r.Render(context.Background(), types.Element{ID: "img", Type: types.ElementImage})
	require.ErrorIs(t, res.Err, ErrNotCustom)
}

func TestRenderAllIsolatesFailures(t *testing.T) {
	r := New(Limits{})
	results := r.RenderAll(context.Background(), []types.Element{
		custom("ok-1", `hello {{.Name}}`, nil),
		custom("broken", `{{if}}`, nil),
		custom("ok-2", `{{lower "DONE"}}`, nil),
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Equal(t, "hello ok-1", results[0].Output)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	require.Equal(t, "done", results[2].Output)
}

func TestRenderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(Limits{}).Render(ctx, custom("c", `{{range 10}}x{{end}}`, nil))
	require.Error(t, res.Err)
	require.True(t, errors.Is(res.Err, context.Canceled))
}

type fakeHost struct {
	calls []string
}

func (h *fakeHost) UpdateElement(id string, _ map[string]any) error {
	h.calls = append(h.calls, "update:"+id)
	return nil
}

func (h *fakeHost) DeleteElement(id string) error {
	h.calls = append(h.calls, "delete:"+id)
	return nil
}

func (h *fakeHost) CallAction(a types.Action) error {
	h.calls = append(h.calls, "action:"+a.Name)
	return nil
}

func (h *fakeHost) SendUserMessage(msg string) error {
	h.calls = append(h.calls, "message:"+msg)
	return nil
}
