// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventbus is an in-process publish/subscribe bus with sticky
// snapshots.
//
// Each subscriber runs its handler on its own goroutine, fed by an
// unbounded FIFO queue. Publishing never blocks and never drops: a
// slow subscriber only delays itself. Events reach every subscriber in
// the order they were published.
//
// A sticky event is also stored, keyed by its dynamic type, so a
// component that starts observing late can read the current value
// with [Sticky]. Publishing another sticky event of the same type
// replaces it.
//
// The bus has an explicit lifecycle: the process creates it at
// startup, and [Bus.Close] stops every subscriber goroutine.
package eventbus

import (
	"log/slog"
	"reflect"
	"sync"
)

// Handler receives events. It runs on the subscriber's goroutine and
// may publish to the bus.
type Handler func(event any)

// Config holds configuration for a Bus.
type Config struct {
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Bus is safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	sticky      map[reflect.Type]any
	closed      bool
}

// New creates a running Bus.
func New(config Config) *Bus {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[uint64]*subscriber),
		sticky:      make(map[reflect.Type]any),
	}
}

// Subscribe registers handler and returns a function that removes it.
// Events still queued for the handler when it is removed are
// discarded. Subscribing to a closed bus returns a no-op unsubscribe.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.subscribers[id] = sub
	go sub.run()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// Events subscribes a channel. The returned function unsubscribes and
// must be called to release the subscriber goroutine.
func (b *Bus) Events() (<-chan any, func()) {
	events := make(chan any)
	stop := make(chan struct{})
	unsubscribe := b.Subscribe(func(event any) {
		select {
		case events <- event:
		case <-stop:
		}
	})
	var once sync.Once
	return events, func() {
		once.Do(func() {
			close(stop)
			unsubscribe()
		})
	}
}

// Publish delivers event to every subscriber.
func (b *Bus) Publish(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(event)
}

// PublishSticky stores event as the current value of its type and
// delivers it.
func (b *Bus) PublishSticky(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.sticky[reflect.TypeOf(event)] = event
	b.publishLocked(event)
}

func (b *Bus) publishLocked(event any) {
	if b.closed {
		b.logger.Debug("event published on closed bus", "type", reflect.TypeOf(event).String())
		return
	}
	for _, sub := range b.subscribers {
		sub.enqueue(event)
	}
}

// Sticky returns the stored sticky event of type T.
func Sticky[T any](b *Bus) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.sticky[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return value.(T), true
}

// RemoveSticky forgets the stored sticky event of type T.
func RemoveSticky[T any](b *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sticky, reflect.TypeFor[T]())
}

// Close stops every subscriber. Later publishes are dropped. Safe to
// call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subscribers := b.subscribers
	b.subscribers = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, sub := range subscribers {
		sub.stop()
	}
}

type subscriber struct {
	handler Handler

	mu      sync.Mutex
	queue   []any
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func (s *subscriber) enqueue(event any) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.queue = nil
	close(s.done)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.stopped || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.handler(event)
		}
	}
}
