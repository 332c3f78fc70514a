package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"chatwire/internal/types"

	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	threadHits atomic.Int32
	lastAuth   atomic.Value
	lastBody   atomic.Value
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /project/settings", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(types.ProjectSettings{
			UI:              types.UISettings{Name: "Assistant"},
			ThreadResumable: true,
			Features: types.FeatureSettings{SpontaneousFileUpload: types.UploadFeature{
				Enabled: true, MaxFiles: 3, MaxSizeMB: 2, Accept: []string{"image/*"},
			}},
		})
	})
	mux.HandleFunc("GET /auth/config", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"credentialssignin"}`))
	})
	mux.HandleFunc("PUT /message/feedback", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]types.Feedback
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body["feedback"])
		ok := body["feedback"].Value == 1
		_ = json.NewEncoder(w).Encode(FeedbackAck{Success: ok, FeedbackID: "fb-1"})
	})
	mux.HandleFunc("GET /project/conversation/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.threadHits.Add(1)
		if r.PathValue("id") == "missing" {
			http.Error(w, "thread not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(types.Thread{ID: r.PathValue("id"), Name: "Hello"})
	})
	mux.HandleFunc("DELETE /project/conversation", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	mux.HandleFunc("POST /project/conversations", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Pagination types.Pagination `json:"pagination"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body.Pagination)
		_ = json.NewEncoder(w).Encode(types.ThreadPage{Data: []types.ThreadSummary{{ID: "t1", Name: "Hello"}}})
	})
	mux.HandleFunc("GET /project/translations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"translation": map[string]any{"lang": r.URL.Query().Get("language")}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestSettingsSendsBearerToken(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{BaseURL: srv.URL + "/", Token: "secret"})

	res := c.Settings(context.Background(), "")
	require.True(t, res.OK(), "err: %v", res.Err)
	require.Equal(t, "Assistant", res.Value.UI.Name)
	require.True(t, res.Value.ThreadResumable)
	require.Equal(t, 3, res.Value.Features.SpontaneousFileUpload.MaxFiles)
	require.Equal(t, "Bearer secret", f.lastAuth.Load())
}

func TestUnauthorizedFiresHook(t *testing.T) {
	_, srv := newFakeServer(t)
	c := New(Config{BaseURL: srv.URL})
	var fired atomic.Bool
	c.OnUnauthorized(func() { fired.Store(true) })

	res := c.AuthConfig(context.Background())
	require.False(t, res.OK())
	require.True(t, res.Err.Unauthorized())
	require.Equal(t, "credentialssignin", res.Err.Message)
	require.True(t, fired.Load())

	_, err := res.Unpack()
	require.Error(t, err)
}

func TestFeedbackNotSavedIsAnError(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{BaseURL: srv.URL})

	ok := c.SetFeedback(context.Background(), types.Feedback{ForID: "m1", Value: 1, Comment: "great"})
	require.True(t, ok.OK())
	require.Equal(t, "fb-1", ok.Value.FeedbackID)
	require.Equal(t, "great", f.lastBody.Load().(types.Feedback).Comment)

	bad := c.SetFeedback(context.Background(), types.Feedback{ForID: "m1", Value: 0})
	require.False(t, bad.OK())

	missing := c.SetFeedback(context.Background(), types.Feedback{Value: 1})
	require.Equal(t, KindRequest, missing.Err.Kind)
}

func TestGetThreadIsCachedUntilDeleted(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{BaseURL: srv.URL})

	for i := 0; i < 3; i++ {
		res := c.GetThread(context.Background(), "t1")
		require.True(t, res.OK())
		require.Equal(t, "t1", res.Value.ID)
	}
	require.EqualValues(t, 1, f.threadHits.Load())

	require.True(t, c.DeleteThread(context.Background(), "t1").OK())
	require.True(t, c.GetThread(context.Background(), "t1").OK())
	require.EqualValues(t, 2, f.threadHits.Load())

	missing := c.GetThread(context.Background(), "missing")
	require.True(t, missing.Err.NotFound())
	require.Equal(t, "thread not found", missing.Err.Message)
}

func TestListThreadsDefaultsPageSize(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{BaseURL: srv.URL})
	res := c.ListThreads(context.Background(), types.Pagination{}, types.ThreadFilter{Search: "hello"})
	require.True(t, res.OK())
	require.Len(t, res.Value.Data, 1)
	require.Equal(t, 20, f.lastBody.Load().(types.Pagination).First)
}

func TestTranslationsCachedPerLanguage(t *testing.T) {
	_, srv := newFakeServer(t)
	c := New(Config{BaseURL: srv.URL})
	res := c.Translations(context.Background(), "fr-FR")
	require.True(t, res.OK())
	require.Equal(t, "fr-FR", res.Value["lang"])
	srv.Close()
	again := c.Translations(context.Background(), "fr-FR")
	require.True(t, again.OK())
}

func TestNetworkFailureIsTyped(t *testing.T) {
	_, srv := newFakeServer(t)
	srv.Close()
	c := New(Config{BaseURL: srv.URL})
	res := c.Settings(context.Background(), "en")
	require.False(t, res.OK())
	require.Equal(t, KindNetwork, res.Err.Kind)
	require.NotEmpty(t, res.Err.Message)
}
