// Package assistant produces the streamed replies of the reference gateway.
package assistant

import (
	"context"
	"strings"
	"time"

	"chatwire/internal/gateway/config"
)

// Turn is one message of the conversation handed to a responder.
type Turn struct {
	Role string
	Text string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reply is the complete answer of a responder.
type Reply struct {
	Text   string
	Tokens int
}

// Responder answers the last user turn, reporting text as it is produced.
// onToken errors stop the stream.
type Responder interface {
	Name() string
	Stream(ctx context.Context, history []Turn, onToken func(string) error) (Reply, error)
}

// New returns a Gemini responder when an API key is configured and the echo
// responder otherwise. Gemini is wrapped with logging, rate limiting and
// retries.
func New(ctx context.Context, cfg config.AssistantConfig) Responder {
	if cfg.GeminiAPIKey != "" {
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err == nil {
			return Wrap(g,
				WithLogging(nil),
				RateLimit(cfg.RPS, cfg.Burst),
				Retry(cfg.MaxAttempts, 0),
			)
		}
		logf("gemini unavailable, falling back to echo: %v", err)
	}
	return NewEcho(0)
}

// Echo repeats the user's message word by word.
type Echo struct {
	delay time.Duration
}

func NewEcho(delay time.Duration) *Echo {
	return &Echo{delay: delay}
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Stream(ctx context.Context, history []Turn, onToken func(string) error) (Reply, error) {
	last := lastUserTurn(history)
	answer := "You said: " + last
	if strings.TrimSpace(last) == "" {
		answer = "Say something and I will repeat it."
	}
	var (
		b      strings.Builder
		tokens int
	)
	for i, word := range strings.Fields(answer) {
		tok := word
		if i > 0 {
			tok = " " + word
		}
		if e.delay > 0 {
			select {
			case <-ctx.Done():
				return Reply{Text: b.String(), Tokens: tokens}, ctx.Err()
			case <-time.After(e.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return Reply{Text: b.String(), Tokens: tokens}, err
		}
		if err := onToken(tok); err != nil {
			return Reply{Text: b.String(), Tokens: tokens}, err
		}
		b.WriteString(tok)
		tokens++
	}
	return Reply{Text: b.String(), Tokens: tokens}, nil
}

func lastUserTurn(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return strings.TrimSpace(history[i].Text)
		}
	}
	return ""
}
