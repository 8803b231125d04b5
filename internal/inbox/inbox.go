package inbox

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Inbox is a buffered, typed message channel with a send timeout.
// T is the message type that will be sent through the inbox.
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger
	clock   clockwork.Clock
	stats   *Stats

	// guards ch against send after close
	mu     sync.RWMutex
	closed bool
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	DroppedClosed int64
	CurrentDepth  int64
	MaxDepthSeen  int64
}

// Option configures an Inbox.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock used for send timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a new inbox with the specified buffer size and send timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger, opts ...Option) *Inbox[T] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
		clock:   o.clock,
		stats:   &Stats{},
	}
}

// Send sends a message to the inbox with timeout.
// Returns false if the timeout elapsed or the inbox is closed.
func (ib *Inbox[T]) Send(msg T) bool {
	ib.mu.RLock()
	defer ib.mu.RUnlock()

	if ib.closed {
		atomic.AddInt64(&ib.stats.DroppedClosed, 1)
		return false
	}

	// fast path avoids allocating a timer when there is room
	select {
	case ib.ch <- msg:
		ib.sent()
		return true
	default:
	}

	select {
	case ib.ch <- msg:
		ib.sent()
		return true
	case <-ib.clock.After(ib.timeout):
		atomic.AddInt64(&ib.stats.TimeoutCount, 1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	}
}

func (ib *Inbox[T]) sent() {
	atomic.AddInt64(&ib.stats.TotalSent, 1)
	ib.updateDepthStats()
}

// TryReceive attempts to receive a message without blocking
// Returns the message and true if available, zero value and false otherwise
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg, ok := <-ib.ch:
		if ok {
			atomic.AddInt64(&ib.stats.TotalReceived, 1)
		}
		return msg, ok
	default:
		var zero T
		return zero, false
	}
}

// Receive blocks until a message is available.
// Returns false once the inbox is closed and drained.
func (ib *Inbox[T]) Receive() (T, bool) {
	msg, ok := <-ib.ch
	if ok {
		atomic.AddInt64(&ib.stats.TotalReceived, 1)
	}
	return msg, ok
}

// updateDepthStats updates the current and maximum depth statistics
func (ib *Inbox[T]) updateDepthStats() {
	depth := int64(len(ib.ch))
	atomic.StoreInt64(&ib.stats.CurrentDepth, depth)
	for {
		seen := atomic.LoadInt64(&ib.stats.MaxDepthSeen)
		if depth <= seen || atomic.CompareAndSwapInt64(&ib.stats.MaxDepthSeen, seen, depth) {
			return
		}
	}
}

// GetStats returns a copy of the current inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     atomic.LoadInt64(&ib.stats.TotalSent),
		TotalReceived: atomic.LoadInt64(&ib.stats.TotalReceived),
		TimeoutCount:  atomic.LoadInt64(&ib.stats.TimeoutCount),
		DroppedClosed: atomic.LoadInt64(&ib.stats.DroppedClosed),
		CurrentDepth:  int64(len(ib.ch)),
		MaxDepthSeen:  atomic.LoadInt64(&ib.stats.MaxDepthSeen),
	}
}

// Len returns the current number of messages in the inbox
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

// Close closes the inbox channel. Buffered messages can still be received.
// Calling Close more than once is safe.
func (ib *Inbox[T]) Close() {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if ib.closed {
		return
	}
	ib.closed = true
	close(ib.ch)
}
