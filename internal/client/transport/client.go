// Package transport owns the single websocket connection between the chat
// client and its backend.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatwire/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingEvery    = (pongWait * 9) / 10
	outboxSize   = 256
	dialTimeout  = 15 * time.Second
	maxFrameSize = 32 << 20
)

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrClosed       = errors.New("transport is closed")
)

// Error wraps a connection failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Params identify the session a connection belongs to.
type Params struct {
	SessionID  string
	ThreadID   string
	Token      string
	ClientType string
}

// Status is the connection state observed by the session store.
type Status struct {
	Connected bool
	SessionID string
	Err       error
}

// Handler receives one inbound event. Handlers run one at a time on the
// dispatch goroutine in receive order.
type Handler func(protocol.Envelope)

// Handle is one live connection.
type Handle struct {
	sessionID string
	conn      *websocket.Conn
	outbox    chan protocol.Envelope
	ctx       context.Context
	cancel    context.CancelFunc
	// closing asks the writer to flush the outbox and send the close frame.
	closing    chan struct{}
	writerDone chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func (h *Handle) SessionID() string { return h.sessionID }

// Done is closed once the connection is fully torn down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Client is the transport adapter. It is safe for concurrent use.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer

	mu       sync.Mutex
	handle   *Handle
	params   Params
	status   Status
	handlers map[string]map[uint64]Handler
	nextID   uint64
	closed   bool

	queue *eventQueue
}

// New creates a client for a websocket endpoint such as
// ws://localhost:8081/ws.
func New(endpoint string) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		handlers: make(map[string]map[uint64]Handler),
		queue:    newEventQueue(),
	}
	go c.dispatch()
	return c
}

// Connect opens the connection for p. Calling it again with the same
// session id while connected returns the existing handle. A different
// session id tears the old connection down first so events are never
// delivered twice.
func (c *Client) Connect(ctx context.Context, p Params) (*Handle, error) {
	p.SessionID = strings.TrimSpace(p.SessionID)
	if p.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	old := c.handle
	if old != nil && old.sessionID == p.SessionID {
		c.mu.Unlock()
		return old, nil
	}
	c.handle = nil
	c.mu.Unlock()
	if old != nil {
		c.teardown(old)
	}

	target, err := c.dialURL(p)
	if err != nil {
		return nil, c.fail("dial", p, err)
	}
	header := http.Header{}
	if tok := strings.TrimSpace(p.Token); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	defer cancelDial()
	conn, resp, err := c.dialer.DialContext(dialCtx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = fmt.Errorf("unauthorized: %w", err)
		}
		return nil, c.fail("dial", p, err)
	}
	conn.SetReadLimit(maxFrameSize)

	hctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		sessionID: p.SessionID,
		conn:      conn,
		outbox:    make(chan protocol.Envelope, outboxSize),
		ctx:       hctx,
		cancel:     cancel,
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil, ErrClosed
	}
	if c.handle != nil {
		// Lost a race with a concurrent Connect; keep the winner.
		winner := c.handle
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		if winner.sessionID == p.SessionID {
			return winner, nil
		}
		return nil, fmt.Errorf("another session is connected: %s", winner.sessionID)
	}
	c.handle = h
	c.params = p
	c.status = Status{Connected: true, SessionID: p.SessionID}
	c.mu.Unlock()

	go c.writeLoop(h)
	go c.readLoop(h)

	c.queue.push(protocol.Envelope{Event: protocol.EventConnect})
	return h, nil
}

func (c *Client) dialURL(p Params) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(protocol.QuerySessionID, p.SessionID)
	if v := strings.TrimSpace(p.ThreadID); v != "" {
		q.Set(protocol.QueryThreadID, v)
	}
	if v := strings.TrimSpace(p.ClientType); v != "" {
		q.Set(protocol.QueryClientType, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fail(op string, p Params, err error) error {
	wrapped := &Error{Op: op, Err: err}
	c.mu.Lock()
	c.status = Status{Connected: false, SessionID: p.SessionID, Err: wrapped}
	c.mu.Unlock()
	env, _ := protocol.NewEnvelope(protocol.EventConnectError, protocol.SessionError{Message: wrapped.Error()})
	c.queue.push(env)
	log.Printf("transport: %v", wrapped)
	return wrapped
}

// Reconnect drops the current connection and dials again with the last
// parameters.
func (c *Client) Reconnect(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	p := c.params
	c.mu.Unlock()
	c.Disconnect()
	return c.Connect(ctx, p)
}

// Disconnect closes the live connection, if any, and waits for its
// goroutines to stop.
func (c *Client) Disconnect() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	if h != nil {
		c.status = Status{Connected: false, SessionID: h.sessionID}
	}
	c.mu.Unlock()
	if h != nil {
		c.teardown(h)
	}
}

// teardown lets the writer deliver what was already emitted, then closes the
// connection. Events queued before Disconnect reach the server.
func (c *Client) teardown(h *Handle) {
	h.closeOnce.Do(func() {
		close(h.closing)
		timer := time.NewTimer(writeWait)
		select {
		case <-h.writerDone:
		case <-timer.C:
		}
		timer.Stop()
		h.cancel()
		_ = h.conn.Close()
	})
	<-h.done
}

// Close disconnects and stops the dispatcher. The client cannot be reused.
func (c *Client) Close() {
	c.Disconnect()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.queue.close()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Emit queues an event for the server without waiting for any reply. When
// the outbox is full the oldest queued event is dropped.
func (c *Client) Emit(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return ErrNotConnected
	}
	select {
	case <-h.ctx.Done():
		return ErrNotConnected
	case <-h.closing:
		return ErrNotConnected
	default:
	}
	push(h.outbox, env)
	return nil
}

func push(outbox chan protocol.Envelope, env protocol.Envelope) {
	select {
	case outbox <- env:
		return
	default:
	}
	select {
	case dropped := <-outbox:
		log.Printf("transport: outbox full, dropped %s", dropped.Event)
	default:
	}
	select {
	case outbox <- env:
	default:
	}
}

func (c *Client) writeLoop(h *Handle) {
	defer close(h.writerDone)
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	write := func(out protocol.Envelope) bool {
		if err := h.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			h.cancel()
			return false
		}
		if err := h.conn.WriteJSON(out); err != nil {
			log.Printf("transport: write %s failed: %v", out.Event, err)
			h.cancel()
			_ = h.conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.closing:
			for flushing := true; flushing; {
				select {
				case out := <-h.outbox:
					if !write(out) {
						return
					}
				default:
					flushing = false
				}
			}
			_ = h.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case out := <-h.outbox:
			if !write(out) {
				return
			}
		case <-ticker.C:
			if err := h.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.cancel()
				return
			}
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.cancel()
				_ = h.conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop(h *Handle) {
	defer func() {
		h.cancel()
		_ = h.conn.Close()
		<-h.writerDone
		close(h.done)
	}()

	_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env protocol.Envelope
		if err := h.conn.ReadJSON(&env); err != nil {
			c.lost(h, err)
			return
		}
		if strings.TrimSpace(env.Event) == "" {
			continue
		}
		c.queue.push(env)
	}
}

// lost records the end of a connection. Intentional closes report a clean
// disconnect; anything else is surfaced as a status error.
func (c *Client) lost(h *Handle, readErr error) {
	c.mu.Lock()
	current := c.handle == h
	if current {
		c.handle = nil
	}
	intentional := !current
	if current {
		var err error
		if !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = &Error{Op: "read", Err: readErr}
		}
		c.status = Status{Connected: false, SessionID: h.sessionID, Err: err}
	}
	c.mu.Unlock()

	reason := "server"
	if intentional {
		reason = "client"
	} else {
		log.Printf("transport: session %s lost: %v", h.sessionID, readErr)
	}
	env, _ := protocol.NewEnvelope(protocol.EventDisconnect, map[string]string{"reason": reason})
	c.queue.push(env)
}
