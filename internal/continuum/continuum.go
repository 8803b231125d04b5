// Package continuum holds pending scheduled entries ordered by run time.
package continuum

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/chroniton/internal/index"
	"github.com/livinlefevreloca/chroniton/internal/job"
)

// Well-known continuum names.
const (
	InMemoryName = "memory"
	SQLiteName   = "sqlite"
)

var (
	// ErrDuplicateEntry is returned by Add when the entry id is already present.
	ErrDuplicateEntry = errors.New("continuum: duplicate entry id")

	// ErrNotFound is returned by the registry for unknown continuum names.
	ErrNotFound = errors.New("continuum: not found")
)

// Continuum is a store of pending entries ordered by run time.
// Only the dispatcher extracts and re-adds entries; callers add and remove.
type Continuum interface {
	Name() string
	// Initialize runs once before the continuum is handed out.
	Initialize(ctx context.Context) error
	// Add assigns an id when the entry has none, stores it and returns the id.
	Add(e *job.Entry) (string, error)
	// Remove excises the entry from the store. The caller cancels it first.
	Remove(id string) bool
	// ExtractNextReady removes and returns the earliest entry if it is due.
	ExtractNextReady() (*job.Entry, bool)
	GetEntry(id string) (*job.Entry, bool)
	GetJob(id string) (job.Job, bool)
	Len() int
	// Entries returns a snapshot of every pending entry.
	Entries() []*job.Entry
	// CleanUp runs at shutdown.
	CleanUp(ctx context.Context) error
}

// Option configures an InMemory continuum.
type Option func(*InMemory)

// WithClock sets the clock used to decide readiness.
func WithClock(c clockwork.Clock) Option {
	return func(m *InMemory) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *InMemory) { m.logger = l }
}

// WithIDGenerator replaces uuid based ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *InMemory) { m.newID = fn }
}

// WithName overrides the continuum name.
func WithName(name string) Option {
	return func(m *InMemory) { m.name = name }
}

// InMemory is the default continuum: a min-heap plus an id index.
type InMemory struct {
	name   string
	clock  clockwork.Clock
	logger *slog.Logger
	newID  func() string

	// mu keeps heap and byID consistent with each other
	mu   sync.Mutex
	heap *index.Heap[*job.Entry]
	byID map[string]*job.Entry
}

// NewInMemory creates an empty in-memory continuum.
func NewInMemory(opts ...Option) *InMemory {
	m := &InMemory{
		name:  InMemoryName,
		clock: clockwork.NewRealClock(),
		newID: uuid.NewString,
		heap:  index.New(job.Before),
		byID:  make(map[string]*job.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("continuum", m.name)
	return m
}

func (m *InMemory) Name() string { return m.name }

func (m *InMemory) Initialize(context.Context) error { return nil }

func (m *InMemory) Add(e *job.Entry) (string, error) {
	if e == nil {
		return "", index.ErrNilItem
	}
	id := e.AssignID(m.newID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[id]; exists {
		return "", errors.Wrapf(ErrDuplicateEntry, "entry %s", id)
	}
	if err := m.heap.Push(e); err != nil {
		return "", err
	}
	m.byID[id] = e

	m.logger.Debug("entry added",
		"entry_id", id,
		"job", e.Job().Name(),
		"run_time", e.RunTime())
	return id, nil
}

func (m *InMemory) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	removed := m.heap.RemoveWhere(func(x *job.Entry) bool { return x == e })

	m.logger.Debug("entry removed", "entry_id", id)
	return removed > 0
}

func (m *InMemory) ExtractNextReady() (*job.Entry, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.heap.PopIf(func(x *job.Entry) bool {
		return !x.RunTime().After(now)
	})
	if !ok {
		return nil, false
	}
	delete(m.byID, e.ID())
	return e, true
}

func (m *InMemory) GetEntry(id string) (*job.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	return e, ok
}

func (m *InMemory) GetJob(id string) (job.Job, bool) {
	e, ok := m.GetEntry(id)
	if !ok {
		return nil, false
	}
	return e.Job(), true
}

func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *InMemory) Entries() []*job.Entry {
	return m.heap.FindAll(nil)
}

func (m *InMemory) CleanUp(context.Context) error { return nil }
