package transport

import (
	"context"
	"log"
	"slices"
	"strings"
	"sync"

	"chatwire/internal/protocol"
)

// On registers handler for event and returns the function that removes it.
func (c *Client) On(event string, handler Handler) (off func()) {
	event = strings.TrimSpace(event)
	if event == "" || handler == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.onLocked(event, handler)
	c.mu.Unlock()
	return c.offFunc(event, id)
}

func (c *Client) onLocked(event string, handler Handler) uint64 {
	c.nextID++
	id := c.nextID
	set, ok := c.handlers[event]
	if !ok {
		set = make(map[uint64]Handler)
		c.handlers[event] = set
	}
	set[id] = handler
	return id
}

func (c *Client) offFunc(event string, id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if set, ok := c.handlers[event]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(c.handlers, event)
				}
			}
		})
	}
}

// Off removes every handler registered for event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, strings.TrimSpace(event))
}

// HandlerCount reports how many handlers are registered for event.
func (c *Client) HandlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[strings.TrimSpace(event)])
}

// Await blocks until the next event with the given name arrives.
func (c *Client) Await(ctx context.Context, event string) (protocol.Envelope, error) {
	got := make(chan protocol.Envelope, 1)
	off := c.On(event, func(env protocol.Envelope) {
		select {
		case got <- env:
		default:
		}
	})
	defer off()
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case env := <-got:
		return env, nil
	}
}

func (c *Client) snapshotHandlers(event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.handlers[event]
	if len(set) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, set[id])
	}
	return out
}

func (c *Client) dispatch() {
	for {
		env, ok := c.queue.pop()
		if !ok {
			return
		}
		for _, h := range c.snapshotHandlers(env.Event) {
			c.invoke(env, h)
		}
	}
}

func (c *Client) invoke(env protocol.Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transport: handler for %s panicked: %v", env.Event, r)
		}
	}()
	h(env)
}

// Subscription ties a handler to the connection lifecycle: it is attached
// right away when connected, otherwise as soon as the next connect event
// arrives. Stop removes everything Start registered.
type Subscription struct {
	client  *Client
	event   string
	handler Handler

	mu      sync.Mutex
	started bool
	offs    []func()
}

func (c *Client) Subscribe(event string, handler Handler) *Subscription {
	return &Subscription{client: c, event: strings.TrimSpace(event), handler: handler}
}

func (s *Subscription) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	c := s.client
	c.mu.Lock()
	if c.handle != nil {
		id := c.onLocked(s.event, s.handler)
		c.mu.Unlock()
		s.offs = append(s.offs, c.offFunc(s.event, id))
		return
	}
	// Registering under the same lock that Connect takes before queueing
	// the connect event guarantees the event is observed.
	var offConnect func()
	connectID := c.onLocked(protocol.EventConnect, func(protocol.Envelope) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.started {
			return
		}
		offConnect()
		s.offs = append(s.offs, s.client.On(s.event, s.handler))
	})
	offConnect = c.offFunc(protocol.EventConnect, connectID)
	c.mu.Unlock()
	s.offs = append(s.offs, offConnect)
}

func (s *Subscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
	s.started = false
}

func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// eventQueue is an unbounded FIFO so handlers may emit or disconnect without
// blocking the dispatcher on its own queue.
type eventQueue struct {
	mu     sync.Mutex
	items  []protocol.Envelope
	wake   chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(env protocol.Envelope) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (protocol.Envelope, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = protocol.Envelope{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return env, true
		}
		if q.closed {
			q.mu.Unlock()
			return protocol.Envelope{}, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
