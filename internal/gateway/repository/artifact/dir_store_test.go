package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chatwire/internal/gateway/config"
)

func TestDirStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Put(ctx, "sess-1", "f1/notes.txt", []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "sess-1", "/f2/a.png", []byte{1, 2}, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := s.Get(ctx, "sess-1", "f1/notes.txt")
	if err != nil || string(raw) != "hello" {
		t.Fatalf("get = %q, %v", raw, err)
	}
	names, err := s.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "f1/notes.txt" || names[1] != "f2/a.png" {
		t.Fatalf("names = %v", names)
	}
	if _, err := s.Get(ctx, "sess-2", "f1/notes.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if names, err := s.List(ctx, "sess-2"); err != nil || len(names) != 0 {
		t.Fatalf("empty scope = %v, %v", names, err)
	}
}

func TestDirStoreRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewDirStore(filepath.Join(base, "uploads"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Put(ctx, "..", "secret.txt", []byte("x"), ""); err == nil {
		t.Fatalf("expected traversal error")
	}
	if err := s.Put(ctx, "sess", "../../secret.txt", []byte("x"), ""); err == nil {
		t.Fatalf("expected traversal error")
	}

	outside := filepath.Join(base, "outside")
	if err := os.Mkdir(outside, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(s.Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := s.Put(ctx, "link", "x.txt", []byte("x"), ""); err == nil {
		t.Fatalf("expected symlink escape to be rejected")
	}
	if _, err := os.Stat(filepath.Join(outside, "x.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file written outside root: %v", err)
	}
}

func TestNewFromConfigUsesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	if _, ok := NewFromConfig(config.ArtifactConfig{Dir: dir}, nil).(*DirStore); !ok {
		t.Fatalf("expected dir store")
	}
}
