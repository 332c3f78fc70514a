package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatwire/internal/gateway/config"
)

func TestEchoStreamsWords(t *testing.T) {
	var tokens []string
	reply, err := NewEcho(0).Stream(context.Background(), []Turn{
		{Role: RoleUser, Text: "ignored"},
		{Role: RoleAssistant, Text: "You said: ignored"},
		{Role: RoleUser, Text: " hello world "},
	}, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if reply.Text != "You said: hello world" || reply.Tokens != 4 {
		t.Fatalf("reply = %+v", reply)
	}
	want := []string{"You", " said:", " hello", " world"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %q", tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens = %q", tokens)
		}
	}
}

func TestEchoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	reply, err := NewEcho(time.Millisecond).Stream(ctx, []Turn{{Role: RoleUser, Text: "one two three four"}}, func(string) error {
		n++
		if n == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if reply.Text != "You said:" {
		t.Fatalf("partial = %q", reply.Text)
	}
}

func TestNewWithoutKeyIsEcho(t *testing.T) {
	if got := New(context.Background(), config.AssistantConfig{}).Name(); got != "echo" {
		t.Fatalf("responder = %s", got)
	}
}
