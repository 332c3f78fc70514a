// Package composer holds the message input state: its text, focus and the
// persisted input history.
package composer

import (
	"net/url"
	"strings"
	"sync"
)

// PromptParam is the query parameter that pre-fills the input.
const PromptParam = "prompt"

// History persists submitted inputs.
type History interface {
	History() []string
	PushHistory(entry string, limit int) ([]string, error)
}

type Composer struct {
	mu      sync.Mutex
	text    string
	focused bool
	history History
	limit   int
	// cursor indexes the history entry being shown; len(entries) means the
	// live draft.
	cursor  int
	entries []string
	draft   string
}

func New(history History, limit int) *Composer {
	c := &Composer{history: history, limit: limit}
	if history != nil {
		c.entries = history.History()
	}
	c.cursor = len(c.entries)
	return c
}

// FromURL applies the prompt query parameter of rawURL. A present prompt
// replaces the input and focuses it; otherwise the input is left empty and
// unfocused.
func (c *Composer) FromURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	c.FromQuery(u.Query())
	return nil
}

func (c *Composer) FromQuery(q url.Values) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prompt, ok := q[PromptParam]
	if !ok || len(prompt) == 0 || prompt[0] == "" {
		c.text = ""
		c.focused = false
		return
	}
	c.text = prompt[0]
	c.focused = true
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *Composer) Focused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	c.cursor = len(c.entries)
}

func (c *Composer) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = true
}

func (c *Composer) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = false
}

// Submit returns the trimmed input, records it in history and clears the
// field. ok is false for blank input, which leaves the field untouched.
func (c *Composer) Submit() (text string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text = strings.TrimSpace(c.text)
	if text == "" {
		return "", false
	}
	if c.history != nil {
		if hist, err := c.history.PushHistory(text, c.limit); err == nil {
			c.entries = hist
		}
	} else if n := len(c.entries); n == 0 || c.entries[n-1] != text {
		c.entries = append(c.entries, text)
	}
	c.text = ""
	c.draft = ""
	c.cursor = len(c.entries)
	return text, true
}

// Prev shows the previous history entry, keeping the unsent draft.
func (c *Composer) Prev() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor == 0 {
		return c.text
	}
	if c.cursor == len(c.entries) {
		c.draft = c.text
	}
	c.cursor--
	c.text = c.entries[c.cursor]
	return c.text
}

// Next moves forward in history, ending at the saved draft.
func (c *Composer) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor >= len(c.entries) {
		return c.text
	}
	c.cursor++
	if c.cursor == len(c.entries) {
		c.text = c.draft
	} else {
		c.text = c.entries[c.cursor]
	}
	return c.text
}
