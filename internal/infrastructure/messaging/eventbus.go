// Package messaging implements the in-process event bus of the progression
// engine and relays that forward its events to other processes.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/pkg/logger"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// InMemoryEventBusConfig configures InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs each handler on its own goroutine, bounded by
	// WorkerPoolSize. Otherwise handlers run on the publisher's goroutine in
	// subscription order.
	AsyncMode      bool
	WorkerPoolSize int

	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig returns the worker defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// InMemoryEventBus implements shared.EventBus. Events are advisory:
// handlers run after the publishing write has committed, and their errors
// and panics are logged and counted but never reach the publisher.
type InMemoryEventBus struct {
	async bool
	slots chan struct{}
	log   *logger.Logger

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool
	done     chan struct{}
	pending  sync.WaitGroup

	published map[shared.EventType]*atomic.Int64
	pubMu     sync.Mutex
	runs      atomic.Int64
	failures  atomic.Int64
	busyNanos atomic.Int64
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus creates a bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		async:     cfg.AsyncMode,
		slots:     make(chan struct{}, cfg.WorkerPoolSize),
		log:       cfg.Logger.With(logger.Component("event_bus")),
		byType:    make(map[shared.EventType][]shared.EventHandler),
		done:      make(chan struct{}),
		published: make(map[shared.EventType]*atomic.Int64),
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to its type's handlers, then to the wildcard
// handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	targets = append(targets, typed...)
	targets = append(targets, b.wildcard...)
	if b.async {
		// Under the read lock so Close cannot miss these.
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.counter(event.EventType()).Add(1)

	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func(h shared.EventHandler) {
			defer b.pending.Done()
			select {
			case b.slots <- struct{}{}:
				defer func() { <-b.slots }()
			case <-b.done:
				return
			}
			b.deliver(event, h)
		}(h)
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := safeCall(event, h)
	b.runs.Add(1)
	b.busyNanos.Add(int64(time.Since(start)))

	if err != nil {
		b.failures.Add(1)
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Err(err),
		)
	}
}

func safeCall(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h(event)
}

func (b *InMemoryEventBus) counter(t shared.EventType) *atomic.Int64 {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	c, ok := b.published[t]
	if !ok {
		c = new(atomic.Int64)
		b.published[t] = c
	}
	return c
}

// Close stops accepting events and waits for running handlers. Async
// handlers still waiting for a worker slot are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.pending.Wait()
	b.log.Info("event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// BusStats is a point-in-time copy of the bus counters.
type BusStats struct {
	Published       map[shared.EventType]int64 `json:"published"`
	TotalPublished  int64                      `json:"total_published"`
	HandlerRuns     int64                      `json:"handler_runs"`
	HandlerFailures int64                      `json:"handler_failures"`
	AverageHandler  time.Duration              `json:"average_handler_ns"`
}

// Stats returns the current counters.
func (b *InMemoryEventBus) Stats() BusStats {
	s := BusStats{Published: make(map[shared.EventType]int64)}

	b.pubMu.Lock()
	for t, c := range b.published {
		n := c.Load()
		s.Published[t] = n
		s.TotalPublished += n
	}
	b.pubMu.Unlock()

	s.HandlerRuns = b.runs.Load()
	s.HandlerFailures = b.failures.Load()
	if s.HandlerRuns > 0 {
		s.AverageHandler = time.Duration(b.busyNanos.Load() / s.HandlerRuns)
	}
	return s
}
