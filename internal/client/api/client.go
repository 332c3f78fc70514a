// Package api wraps the backend REST endpoints. Every call returns a Result;
// no raw transport error escapes the package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatwire/internal/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultCacheSize = 64
	defaultCacheTTL  = 5 * time.Minute
	maxErrorBody     = 4 << 10
)

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	http    *http.Client

	mu             sync.RWMutex
	token          string
	onUnauthorized func()

	threads      *expirable.LRU[string, types.Thread]
	translations *expirable.LRU[string, map[string]any]
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:         hc,
		token:        strings.TrimSpace(cfg.Token),
		threads:      expirable.NewLRU[string, types.Thread](size, nil, ttl),
		translations: expirable.NewLRU[string, map[string]any](8, nil, ttl),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized sets the hook fired on every 401 response.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// NewRequest builds an authenticated request against the backend.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends req and decodes a JSON body into out (skipped when out is nil).
func (c *Client) Do(req *http.Request, out any) *Error {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: KindNetwork, Message: "request cancelled", Err: err}
		}
		return &Error{Kind: KindNetwork, Message: "could not reach the server", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{Kind: KindHTTP, Status: resp.StatusCode, Message: errorMessage(resp)}
		if apiErr.Unauthorized() {
			c.mu.RLock()
			hook := c.onUnauthorized
			c.mu.RUnlock()
			if hook != nil {
				hook()
			}
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Kind: KindDecode, Status: resp.StatusCode, Message: "unexpected response from the server", Err: err}
	}
	return nil
}

func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		for _, v := range []string{body.Detail, body.Message, body.Error} {
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) Result[T] {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Fail[T](&Error{Kind: KindRequest, Message: "could not encode request", Err: err})
		}
		reader = bytes.NewReader(raw)
	}
	req, err := c.NewRequest(ctx, method, path, reader)
	if err != nil {
		return Fail[T](&Error{Kind: KindRequest, Message: "invalid request", Err: err})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	var out T
	if apiErr := c.Do(req, &out); apiErr != nil {
		log.Printf("api: %s %s failed: %v", method, path, apiErr)
		return Fail[T](apiErr)
	}
	return Ok(out)
}

func (c *Client) Settings(ctx context.Context, language string) Result[types.ProjectSettings] {
	path := "/project/settings"
	if lang := strings.TrimSpace(language); lang != "" {
		path += "?language=" + url.QueryEscape(lang)
	}
	return call[types.ProjectSettings](ctx, c, http.MethodGet, path, nil)
}

func (c *Client) Translations(ctx context.Context, language string) Result[map[string]any] {
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "en-US"
	}
	if cached, ok := c.translations.Get(lang); ok {
		return Ok(cached)
	}
	res := call[struct {
		Translation map[string]any `json:"translation"`
	}](ctx, c, http.MethodGet, "/project/translations?language="+url.QueryEscape(lang), nil)
	if !res.OK() {
		return Fail[map[string]any](res.Err)
	}
	c.translations.Add(lang, res.Value.Translation)
	return Ok(res.Value.Translation)
}

func (c *Client) AuthConfig(ctx context.Context) Result[types.AuthConfig] {
	return call[types.AuthConfig](ctx, c, http.MethodGet, "/auth/config", nil)
}

func (c *Client) Completion(ctx context.Context, req types.CompletionRequest) Result[types.CompletionResponse] {
	if strings.TrimSpace(req.Prompt) == "" {
		return Fail[types.CompletionResponse](&Error{Kind: KindRequest, Message: "prompt is required"})
	}
	return call[types.CompletionResponse](ctx, c, http.MethodPost, "/completion", req)
}

// FeedbackAck is the answer to PUT /message/feedback.
type FeedbackAck struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedbackId"`
}

func (c *Client) SetFeedback(ctx context.Context, fb types.Feedback) Result[FeedbackAck] {
	if strings.TrimSpace(fb.ForID) == "" {
		return Fail[FeedbackAck](&Error{Kind: KindRequest, Message: "feedback target is required"})
	}
	res := call[FeedbackAck](ctx, c, http.MethodPut, "/message/feedback", map[string]any{"feedback": fb})
	if res.OK() && !res.Value.Success {
		return Fail[FeedbackAck](&Error{Kind: KindHTTP, Status: http.StatusOK, Message: "feedback was not saved"})
	}
	return res
}

func (c *Client) ListThreads(ctx context.Context, page types.Pagination, filter types.ThreadFilter) Result[types.ThreadPage] {
	if page.First <= 0 {
		page.First = 20
	}
	return call[types.ThreadPage](ctx, c, http.MethodPost, "/project/conversations", map[string]any{
		"pagination": page,
		"filter":     filter,
	})
}

func (c *Client) GetThread(ctx context.Context, threadID string) Result[types.Thread] {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return Fail[types.Thread](&Error{Kind: KindRequest, Message: "thread id is required"})
	}
	if cached, ok := c.threads.Get(id); ok {
		return Ok(cached)
	}
	res := call[types.Thread](ctx, c, http.MethodGet, "/project/conversation/"+url.PathEscape(id), nil)
	if res.OK() {
		c.threads.Add(id, res.Value)
	}
	return res
}

func (c *Client) RenameThread(ctx context.Context, threadID, name string) Result[types.ThreadSummary] {
	id := strings.TrimSpace(threadID)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return Fail[types.ThreadSummary](&Error{Kind: KindRequest, Message: "thread id and name are required"})
	}
	c.threads.Remove(id)
	return call[types.ThreadSummary](ctx, c, http.MethodPost, "/project/conversation/"+url.PathEscape(id), map[string]string{"name": name})
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) Result[struct{}] {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return Fail[struct{}](&Error{Kind: KindRequest, Message: "thread id is required"})
	}
	c.threads.Remove(id)
	return call[struct{}](ctx, c, http.MethodDelete, "/project/conversation", map[string]string{"threadId": id})
}

// InvalidateThread drops a cached thread. The chat app calls it whenever the
// server reports a change to a thread.
func (c *Client) InvalidateThread(threadID string) {
	c.threads.Remove(strings.TrimSpace(threadID))
}
