package assistant

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Middleware decorates a Responder.
type Middleware func(Responder) Responder

// Wrap applies mws so that the first one is the outermost.
func Wrap(inner Responder, mws ...Middleware) Responder {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// -------- Retry with exponential backoff --------

// Retry retries a stream up to maxAttempts with exponential backoff starting
// at baseDelay. Once a token has reached the caller the stream is never
// retried, otherwise the client would see the reply twice.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Responder) Responder {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next Responder
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Stream(ctx context.Context, history []Turn, onToken func(string) error) (Reply, error) {
	var (
		reply Reply
		err   error
	)
	for i := 0; i < r.max; i++ {
		streamed := false
		reply, err = r.next.Stream(ctx, history, func(tok string) error {
			streamed = true
			return onToken(tok)
		})
		if err == nil || streamed {
			return reply, err
		}
		var perm *PermanentError
		if errors.As(err, &perm) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return reply, err
		}
		if i == r.max-1 {
			break
		}
		logf("%s attempt %d failed, retrying: %v", r.next.Name(), i+1, err)
		select {
		case <-ctx.Done():
			return reply, ctx.Err()
		case <-time.After(r.base * time.Duration(1<<i)):
		}
	}
	return reply, err
}

// -------- Rate limit --------

// RateLimit caps how many streams start per second. Waiting callers give up
// when their context ends.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Responder) Responder {
		if rps <= 0 {
			return next
		}
		return &rateLimited{next: next, rl: newLimiter(rps, burst)}
	}
}

type rateLimited struct {
	next Responder
	rl   *limiter
}

func (r *rateLimited) Name() string { return r.next.Name() }

func (r *rateLimited) Stream(ctx context.Context, history []Turn, onToken func(string) error) (Reply, error) {
	if err := r.rl.acquire(ctx); err != nil {
		return Reply{}, err
	}
	return r.next.Stream(ctx, history, onToken)
}

// limiter is a token bucket refilled lazily on acquire.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	burst    int
	tokens   int
	last     time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		interval: time.Duration(float64(time.Second) / rps),
		burst:    burst,
		tokens:   burst,
		last:     time.Now(),
	}
}

func (l *limiter) acquire(ctx context.Context) error {
	for {
		wait := l.reserve(time.Now())
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long until the next
// token is due.
func (l *limiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elapsed := now.Sub(l.last); elapsed >= l.interval {
		n := int(elapsed / l.interval)
		l.tokens += n
		l.last = l.last.Add(time.Duration(n) * l.interval)
		if l.tokens >= l.burst {
			l.tokens = l.burst
			l.last = now
		}
	}
	if l.tokens > 0 {
		l.tokens--
		return 0
	}
	return l.interval - now.Sub(l.last)
}

// -------- Logging --------

// WithLogging logs the size of every request and any failure. A nil logger
// uses log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next Responder) Responder {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next Responder
	log  *log.Logger
}

func (l *logging) Name() string { return l.next.Name() }

func (l *logging) Stream(ctx context.Context, history []Turn, onToken func(string) error) (Reply, error) {
	size := 0
	for _, t := range history {
		size += len(t.Text)
	}
	start := time.Now()
	l.log.Printf("assistant request (%s): %d turns, %d bytes", l.next.Name(), len(history), size)
	reply, err := l.next.Stream(ctx, history, onToken)
	if err != nil {
		l.log.Printf("assistant error (%s) after %s: %v", l.next.Name(), time.Since(start).Round(time.Millisecond), err)
	}
	return reply, err
}
