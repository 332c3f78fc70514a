package artifact

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"chatwire/internal/gateway/config"
)

func TestMemoryStoreScopesObjects(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "sess-1", "/a.txt", []byte("a"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = s.Put(ctx, "sess-1", "b.txt", []byte("b"), "")
	_ = s.Put(ctx, "sess-2", "c.txt", []byte("c"), "")

	got, err := s.Get(ctx, "sess-1", "a.txt")
	if err != nil || string(got) != "a" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	names, _ := s.List(ctx, "sess-1")
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("names = %v", names)
	}
	if _, err := s.Get(ctx, "sess-2", "a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := s.Put(ctx, "", "x", nil, ""); err == nil {
		t.Fatalf("expected scope error")
	}
}

func TestNewFromConfigFallsBackToMemory(t *testing.T) {
	var db *sql.DB
	if _, ok := NewFromConfig(config.ArtifactConfig{}, db).(*MemoryStore); !ok {
		t.Fatalf("expected memory store")
	}
	// An enabled store without credentials cannot be built.
	if _, ok := NewFromConfig(config.ArtifactConfig{Enabled: true, Endpoint: "localhost:9000"}, nil).(*MemoryStore); !ok {
		t.Fatalf("expected memory fallback")
	}
}

func TestS3StoreKeysAndDisposition(t *testing.T) {
	if _, err := NewS3Store(S3Config{Endpoint: "localhost:9000", Bucket: "b"}); err == nil {
		t.Fatalf("expected credentials error")
	}
	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b", Prefix: "/chat/"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.key("sess-1", "f1/notes.txt"); got != "chat/sess-1/f1/notes.txt" {
		t.Fatalf("key = %q", got)
	}
	if got := disposition("attachment", "f1/my notes.txt"); got != `attachment; filename="my notes.txt"` {
		t.Fatalf("disposition = %q", got)
	}
	u, err := s.GetURL(context.Background(), "sess-1", "f1/notes.txt")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u, "/b/chat/sess-1/f1/notes.txt") || !strings.Contains(u, "response-content-disposition") {
		t.Fatalf("url = %q", u)
	}
}
