package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatwire/internal/client/tree"
	"chatwire/internal/gateway/config"
	"chatwire/internal/gateway/handler"
	"chatwire/internal/gateway/repository/artifact"
	"chatwire/internal/gateway/repository/thread"
	"chatwire/internal/gateway/server"
	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/gateway/service/conversation"
	"chatwire/internal/types"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CHATWIRE_SERVER", "CHATWIRE_TOKEN", "CHATWIRE_LANGUAGE", "CHATWIRE_PREFS", "CHATWIRE_TIMEOUT"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: http://file:1/\ntoken: from-file\ntimeout: 5s\n"), 0o600))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	require.Equal(t, "http://file:1", cfg.Server)
	require.Equal(t, "from-file", cfg.Token)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, "http://file:1/ws", cfg.SocketURL())

	t.Setenv("CHATWIRE_TOKEN", "from-env")
	t.Setenv("CHATWIRE_TIMEOUT", "9s")
	cfg, err = LoadConfig(path, true)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Token)
	require.Equal(t, 9*time.Second, cfg.Timeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := LoadConfig(missing, false)
	require.NoError(t, err)
	require.Equal(t, defaultServer, cfg.Server)

	_, err = LoadConfig(missing, true)
	require.Error(t, err)
}

func TestRenderStepsIndentsChildren(t *testing.T) {
	s := tree.New()
	s.Load(types.Thread{ID: "t1", Steps: []types.Step{
		{ID: "u1", Type: types.StepUserMessage, Output: "hi", CreatedAt: time.Unix(1, 0)},
		{ID: "r1", Type: types.StepRun, Name: "lookup", CreatedAt: time.Unix(2, 0)},
		{ID: "a1", ParentID: "r1", Type: types.StepAssistantMessage, Output: "line1\nline2", CreatedAt: time.Unix(3, 0)},
	}})
	var buf bytes.Buffer
	renderSteps(&buf, s.Flatten())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	require.Contains(t, lines[0], "You")
	require.Equal(t, "  hi", lines[1])
	require.Contains(t, lines[2], "lookup")
	require.True(t, strings.HasPrefix(lines[3], "  "), lines[3])
	require.Contains(t, lines[3], "Assistant")
	require.Equal(t, "    line1", lines[4])
	require.Equal(t, "    line2", lines[5])
}

func TestWriteThreadFormats(t *testing.T) {
	th := types.Thread{ID: "t1", Name: "demo", Steps: []types.Step{{ID: "s1", Type: types.StepUserMessage, Output: "hi"}}}

	var buf bytes.Buffer
	require.NoError(t, writeThread(&buf, th, "yaml"))
	var back map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	require.Equal(t, "demo", back["name"])

	buf.Reset()
	require.NoError(t, writeThread(&buf, th, "json"))
	require.Contains(t, buf.String(), `"name": "demo"`)

	require.Error(t, writeThread(&buf, th, "xml"))
}

func startGateway(t *testing.T) (string, *thread.Store) {
	t.Helper()
	features := config.FeatureConfig{ThreadResumable: true, DataPersistence: true, UploadEnabled: true, UploadMaxFiles: 5, UploadMaxSizeMB: 1}
	cfg := &config.Config{Name: "Bot", Features: features}
	threads := thread.New(filepath.Join(t.TempDir(), "threads.json"), 8)
	files := artifact.NewMemoryStore()
	responder := assistant.NewEcho(0)
	hub := conversation.NewHub(threads, files, responder, features, cfg.Name)
	srv := httptest.NewServer(server.NewMux(handler.New(cfg, hub, threads, files, responder), ""))
	t.Cleanup(srv.Close)
	return srv.URL, threads
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	base := []string{"--config", filepath.Join(dir, "config.yaml")}
	require.NoError(t, os.WriteFile(base[1], []byte("prefs: "+filepath.Join(dir, "prefs.db")+"\ntimeout: 10s\n"), 0o600))

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendStreamsReply(t *testing.T) {
	url, threads := startGateway(t)
	out, err := run(t, "--server", url, "send", "hello", "cli")
	require.NoError(t, err)
	require.Contains(t, out, "You said: hello cli")
	require.Contains(t, out, "thread ")

	page, err := threads.List(context.Background(), "", types.Pagination{First: 5}, types.ThreadFilter{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, "hello cli", page.Data[0].Name)
}

func TestSendWithAttachment(t *testing.T) {
	url, threads := startGateway(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("some notes"), 0o600))

	_, err := run(t, "--server", url, "send", "--file", path, "read this")
	require.NoError(t, err)

	page, _ := threads.List(context.Background(), "", types.Pagination{First: 5}, types.ThreadFilter{})
	require.Len(t, page.Data, 1)
	saved, err := threads.Get(context.Background(), page.Data[0].ID)
	require.NoError(t, err)
	require.Len(t, saved.Elements, 1)
	require.Equal(t, "notes.txt", saved.Elements[0].Name)
}

func TestThreadsCommands(t *testing.T) {
	url, threads := startGateway(t)
	ctx := context.Background()
	_, err := threads.Put(ctx, types.Thread{ID: "t1", Name: "first", CreatedAt: time.Now(), Steps: []types.Step{
		{ID: "s1", Type: types.StepUserMessage, Output: "question"},
		{ID: "s2", Type: types.StepAssistantMessage, Output: "answer"},
	}})
	require.NoError(t, err)

	out, err := run(t, "--server", url, "threads", "list")
	require.NoError(t, err)
	require.Contains(t, out, "t1")
	require.Contains(t, out, "first")

	out, err = run(t, "--server", url, "threads", "show", "t1")
	require.NoError(t, err)
	require.Contains(t, out, "question")
	require.Contains(t, out, "answer")

	out, err = run(t, "--server", url, "threads", "show", "t1", "--format", "yaml")
	require.NoError(t, err)
	require.Contains(t, out, "name: first")

	_, err = run(t, "--server", url, "threads", "rename", "t1", "new", "name")
	require.NoError(t, err)
	got, _ := threads.Get(ctx, "t1")
	require.Equal(t, "new name", got.Name)

	_, err = run(t, "--server", url, "threads", "delete", "t1")
	require.NoError(t, err)
	_, err = threads.Get(ctx, "t1")
	require.ErrorIs(t, err, thread.ErrNotFound)
}

func TestResumeContinuesThread(t *testing.T) {
	url, threads := startGateway(t)
	ctx := context.Background()
	_, err := threads.Put(ctx, types.Thread{ID: "t1", Name: "old", Steps: []types.Step{
		{ID: "s1", Type: types.StepUserMessage, Output: "earlier", CreatedAt: time.Unix(1, 0)},
	}})
	require.NoError(t, err)

	out, err := run(t, "--server", url, "resume", "t1", "again")
	require.NoError(t, err)
	require.Contains(t, out, "earlier")
	require.Contains(t, out, "You said: again")

	saved, _ := threads.Get(ctx, "t1")
	require.Len(t, saved.Steps, 3)
}

func TestResumeUnknownThreadFails(t *testing.T) {
	url, _ := startGateway(t)
	_, err := run(t, "--server", url, "resume", "missing")
	require.Error(t, err)
}

func TestSettingsPrintsYAML(t *testing.T) {
	url, _ := startGateway(t)
	out, err := run(t, "--server", url, "settings")
	require.NoError(t, err)
	require.Contains(t, out, "threadresumable: true")
}
