package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/chroniton/internal/inbox"
	"github.com/livinlefevreloca/chroniton/internal/job"
)

// EventKind identifies a notification.
type EventKind int

const (
	EventScheduled EventKind = iota
	EventSuccess
	EventJobError
	EventScheduleError
)

func (k EventKind) String() string {
	switch k {
	case EventScheduled:
		return "scheduled"
	case EventSuccess:
		return "success"
	case EventJobError:
		return "job_error"
	case EventScheduleError:
		return "schedule_error"
	default:
		return "unknown"
	}
}

// Event is one queued notification.
type Event struct {
	Kind  EventKind
	Entry job.Snapshot
	Err   error
}

// notifier delivers events to subscribers on its own goroutine, in
// registration order.
type notifier struct {
	logger     *slog.Logger
	clock      clockwork.Clock
	bufferSize int
	timeout    time.Duration

	mu            sync.RWMutex
	scheduled     []func(job.Snapshot)
	success       []func(job.Snapshot)
	jobError      []func(job.Snapshot, error)
	scheduleError []func(job.Snapshot, error)

	// nil while stopped
	queue *inbox.Inbox[Event]
	done  chan struct{}
}

func newNotifier(config SchedulerConfig, clock clockwork.Clock, logger *slog.Logger) *notifier {
	return &notifier{
		logger:     logger,
		clock:      clock,
		bufferSize: config.NotificationBufferSize,
		timeout:    config.NotificationSendTimeout,
	}
}

func (n *notifier) onScheduled(fn func(job.Snapshot)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, fn)
}

func (n *notifier) onSuccess(fn func(job.Snapshot)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = append(n.success, fn)
}

func (n *notifier) onJobError(fn func(job.Snapshot, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobError = append(n.jobError, fn)
}

func (n *notifier) onScheduleError(fn func(job.Snapshot, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduleError = append(n.scheduleError, fn)
}

func (n *notifier) start() {
	queue := inbox.New[Event](n.bufferSize, n.timeout, n.logger, inbox.WithClock(n.clock))
	done := make(chan struct{})

	n.mu.Lock()
	n.queue = queue
	n.done = done
	n.mu.Unlock()

	go n.deliver(queue, done)
}

// stop closes the queue and waits until every queued event is delivered.
func (n *notifier) stop() {
	n.mu.Lock()
	queue, done := n.queue, n.done
	n.queue = nil
	n.done = nil
	n.mu.Unlock()

	if queue == nil {
		return
	}
	queue.Close()
	<-done

	stats := queue.GetStats()
	n.logger.Debug("notifier stopped",
		"delivered", stats.TotalReceived,
		"timeouts", stats.TimeoutCount,
		"max_depth", stats.MaxDepthSeen)
}

func (n *notifier) emit(ev Event) {
	n.mu.RLock()
	queue := n.queue
	n.mu.RUnlock()

	if queue == nil {
		n.logger.Debug("notification dropped, notifier stopped", "event", ev.Kind.String(), "entry_id", ev.Entry.ID)
		return
	}
	if !queue.Send(ev) {
		n.logger.Warn("notification dropped", "event", ev.Kind.String(), "entry_id", ev.Entry.ID)
	}
}

func (n *notifier) deliver(queue *inbox.Inbox[Event], done chan struct{}) {
	defer close(done)
	for {
		ev, ok := queue.Receive()
		if !ok {
			return
		}
		n.dispatch(ev)
	}
}

func (n *notifier) dispatch(ev Event) {
	n.mu.RLock()
	var (
		plain  []func(job.Snapshot)
		failed []func(job.Snapshot, error)
	)
	switch ev.Kind {
	case EventScheduled:
		plain = append(plain, n.scheduled...)
	case EventSuccess:
		plain = append(plain, n.success...)
	case EventJobError:
		failed = append(failed, n.jobError...)
	case EventScheduleError:
		failed = append(failed, n.scheduleError...)
	}
	n.mu.RUnlock()

	for _, fn := range plain {
		n.call(ev, func() { fn(ev.Entry) })
	}
	for _, fn := range failed {
		n.call(ev, func() { fn(ev.Entry, ev.Err) })
	}
}

func (n *notifier) call(ev Event, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			n.logger.Error("notification handler panicked",
				"event", ev.Kind.String(),
				"entry_id", ev.Entry.ID,
				"panic", p)
		}
	}()
	fn()
}
