// Package core implements the memo persistence context: a first-level
// identity map with write-behind transactions over a domain.Store.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoctx/pkg/domain"
)

// Factory creates persistence contexts that share one store, one logger and
// one metrics recorder. It also owns the registry guaranteeing that an id is
// managed by at most one open context at a time.
type Factory struct {
	store   domain.Store
	logger  Logger
	metrics MetricsRecorder
	nowFn   func() time.Time

	mu     sync.Mutex
	closed bool
	owners map[int64]string
	open   int
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger handed to every context.
func WithLogger(l Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMetrics sets the recorder observing every context operation.
func WithMetrics(m MetricsRecorder) Option {
	return func(f *Factory) {
		if m != nil {
			f.metrics = m
		}
	}
}

// WithClock overrides the time source used for operation timings.
func WithClock(fn func() time.Time) Option {
	return func(f *Factory) {
		if fn != nil {
			f.nowFn = fn
		}
	}
}

// NewFactory constructs a factory over store.
func NewFactory(store domain.Store, opts ...Option) *Factory {
	f := &Factory{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		nowFn:   time.Now,
		owners:  make(map[int64]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the backing store.
func (f *Factory) Store() domain.Store { return f.store }

// NewContext opens a new persistence context.
func (f *Factory) NewContext() (*PersistenceContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, domain.ErrFactoryClosed
	}
	f.open++
	pc := &PersistenceContext{
		id:       uuid.NewString(),
		factory:  f,
		entries:  make(map[int64]*entry),
		released: make(map[*domain.Memo]struct{}),
	}
	f.logger.Debug("persistence context opened", "context", pc.id)
	return pc, nil
}

// OpenContexts reports how many contexts have not been closed yet.
func (f *Factory) OpenContexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Close rejects further NewContext calls. Contexts already open stay usable
// until their own Close.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Factory) claim(id int64, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.owners[id]; ok && current != owner {
		return fmt.Errorf("%s %d: %w", domain.EntityMemo, id, domain.ErrManagedElsewhere)
	}
	f.owners[id] = owner
	return nil
}

func (f *Factory) release(id int64, owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[id] == owner {
		delete(f.owners, id)
	}
}

func (f *Factory) contextClosed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open > 0 {
		f.open--
	}
}
