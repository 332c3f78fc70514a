// Package customelement renders untrusted custom element sources. A source
// is a text/template executed with an allow-listed function set; anything
// the element wants from the host is recorded as an Intent and only applied
// once the render succeeded.
package customelement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"text/template"
	"time"

	"chatwire/internal/types"
)

var (
	ErrSourceTooLarge = errors.New("custom element source is too large")
	ErrOutputTooLarge = errors.New("custom element output is too large")
	ErrNotCustom      = errors.New("element is not a custom element")
	ErrForbidden      = errors.New("function is not available to custom elements")
)

type IntentKind string

const (
	IntentUpdateElement   IntentKind = "updateElement"
	IntentDeleteElement   IntentKind = "deleteElement"
	IntentCallAction      IntentKind = "callAction"
	IntentSendUserMessage IntentKind = "sendUserMessage"
)

// Intent is a deferred host call requested by an element.
type Intent struct {
	Kind      IntentKind
	ElementID string
	Props     map[string]any
	Action    types.Action
	Message   string
}

type Limits struct {
	MaxSource int
	MaxOutput int
	Timeout   time.Duration
}

func DefaultLimits() Limits {
	return Limits{MaxSource: 64 << 10, MaxOutput: 256 << 10, Timeout: 2 * time.Second}
}

// Result is the outcome of rendering one element. Err is set instead of
// Output when the element failed; other elements are unaffected.
type Result struct {
	ElementID string
	Output    string
	Intents   []Intent
	Err       error
}

type Renderer struct {
	limits Limits
}

func New(limits Limits) *Renderer {
	def := DefaultLimits()
	if limits.MaxSource <= 0 {
		limits.MaxSource = def.MaxSource
	}
	if limits.MaxOutput <= 0 {
		limits.MaxOutput = def.MaxOutput
	}
	if limits.Timeout <= 0 {
		limits.Timeout = def.Timeout
	}
	return &Renderer{limits: limits}
}

// view is the only data a template can reach.
type view struct {
	ID    string
	Name  string
	Props map[string]any
}

// Render executes one custom element.
func (r *Renderer) Render(ctx context.Context, el types.Element) Result {
	res := Result{ElementID: el.ID}
	if el.Type != types.ElementCustom {
		res.Err = ErrNotCustom
		return res
	}
	if len(el.Content) > r.limits.MaxSource {
		res.Err = ErrSourceTooLarge
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, r.limits.Timeout)
	defer cancel()

	type outcome struct {
		out     string
		intents []Intent
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				log.Printf("customelement: %s panicked: %v", el.ID, p)
				o = outcome{err: fmt.Errorf("render panicked: %v", p)}
			}
			done <- o
		}()
		o.out, o.intents, o.err = r.execute(ctx, el)
	}()

	select {
	case <-ctx.Done():
		res.Err = fmt.Errorf("render %s: %w", el.ID, ctx.Err())
	case o := <-done:
		if o.err != nil {
			res.Err = o.err
			return res
		}
		res.Output = o.out
		res.Intents = o.intents
	}
	return res
}

// RenderAll renders every element independently.
func (r *Renderer) RenderAll(ctx context.Context, els []types.Element) []Result {
	out := make([]Result, 0, len(els))
	for _, el := range els {
		out = append(out, r.Render(ctx, el))
	}
	return out
}

func (r *Renderer) execute(ctx context.Context, el types.Element) (string, []Intent, error) {
	rec := &recorder{elementID: el.ID, forID: el.ForID}
	tmpl, err := template.New(el.Name).Option("missingkey=zero").Funcs(funcMap(rec)).Parse(el.Content)
	if err != nil {
		return "", nil, fmt.Errorf("parse: %w", err)
	}
	props := make(map[string]any, len(el.Props))
	for k, v := range el.Props {
		props[k] = v
	}
	w := &limitedWriter{ctx: ctx, max: r.limits.MaxOutput}
	if err := tmpl.Execute(w, view{ID: el.ID, Name: el.Name, Props: props}); err != nil {
		if errors.Is(err, ErrOutputTooLarge) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("execute: %w", err)
	}
	return w.buf.String(), rec.intents, nil
}

type limitedWriter struct {
	ctx context.Context
	buf bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	if w.buf.Len()+len(p) > w.max {
		return 0, ErrOutputTooLarge
	}
	return w.buf.Write(p)
}

type recorder struct {
	elementID string
	forID     string
	intents   []Intent
}

func (r *recorder) add(in Intent) string {
	r.intents = append(r.intents, in)
	return ""
}

func pairs(kv []any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("expected key/value pairs, got %d arguments", len(kv))
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("key %v is not a string", kv[i])
		}
		out[key] = kv[i+1]
	}
	return out, nil
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func text(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func forbidden(...any) (string, error) { return "", ErrForbidden }

func funcMap(rec *recorder) template.FuncMap {
	return template.FuncMap{
		// Template builtins that could reach host values are shadowed.
		"call": forbidden,

		"prop": func(props map[string]any, key string) any { return props[key] },
		"json": func(v any) (string, error) {
			raw, err := json.Marshal(v)
			return string(raw), err
		},
		"upper": func(v any) string { return strings.ToUpper(text(v)) },
		"lower": func(v any) string { return strings.ToLower(text(v)) },
		"default": func(def, v any) any {
			if empty(v) {
				return def
			}
			return v
		},

		"button": func(label, action any) string {
			return fmt.Sprintf(`<button data-action="%s">%s</button>`,
				html.EscapeString(text(action)), html.EscapeString(text(label)))
		},
		"badge": func(v any) string {
			return `<span class="badge">` + html.EscapeString(text(v)) + `</span>`
		},
		"card": func(title, body any) string {
			return `<div class="card"><h3>` + html.EscapeString(text(title)) + `</h3><p>` +
				html.EscapeString(text(body)) + `</p></div>`
		},
		"list": func(items any) string {
			var b strings.Builder
			b.WriteString("<ul>")
			if xs, ok := items.([]any); ok {
				for _, x := range xs {
					b.WriteString("<li>" + html.EscapeString(text(x)) + "</li>")
				}
			}
			b.WriteString("</ul>")
			return b.String()
		},

		"updateElement": func(kv ...any) (string, error) {
			props, err := pairs(kv)
			if err != nil {
				return "", err
			}
			return rec.add(Intent{Kind: IntentUpdateElement, ElementID: rec.elementID, Props: props}), nil
		},
		"deleteElement": func() string {
			return rec.add(Intent{Kind: IntentDeleteElement, ElementID: rec.elementID})
		},
		"callAction": func(name string, kv ...any) (string, error) {
			payload, err := pairs(kv)
			if err != nil {
				return "", err
			}
			return rec.add(Intent{Kind: IntentCallAction, ElementID: rec.elementID, Action: types.Action{
				Name: name, ForID: rec.forID, Payload: payload,
			}}), nil
		},
		"sendUserMessage": func(msg any) string {
			return rec.add(Intent{Kind: IntentSendUserMessage, ElementID: rec.elementID, Message: text(msg)})
		},
	}
}
