// Package stage provides Slot, the cancellable single-builder container
// every pipeline stage is made of.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/microsoft/ZooTracer/zt_errors"
)

type State int

const (
	Idle State = iota
	Building
	Ready
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Ready:
		return "ready"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Builder produces a stage value. It must return promptly once ctx is done
// and must have released everything it acquired when it returns an error.
type Builder[T any] func(ctx context.Context) (T, error)

// Status is a snapshot of a slot, also delivered to the listener on every
// state change.
type Status struct {
	Name       string
	State      State
	Generation uint64
	Key        string
	Err        error
}

type outcome[T any] struct {
	value T
	err   error
}

type build[T any] struct {
	gen    uint64
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	result chan outcome[T]
	start  time.Time
}

type Option[T any] func(*Slot[T])

// WithRelease sets the function that disposes of a value the slot no longer holds.
func WithRelease[T any](release func(T)) Option[T] {
	return func(s *Slot[T]) { s.release = release }
}

func WithListener[T any](listener func(Status)) Option[T] {
	return func(s *Slot[T]) { s.listener = listener }
}

// Slot holds at most one in-flight build and at most one Ready value.
// All methods must be called from the goroutine that drains post; builder
// completions reach the slot only through post.
type Slot[T any] struct {
	name     string
	post     func(func()) bool
	release  func(T)
	listener func(Status)

	state   State
	gen     uint64
	key     string
	value   T
	err     error
	current *build[T]
}

func New[T any](name string, post func(func()) bool, opts ...Option[T]) *Slot[T] {
	s := &Slot[T]{name: name, post: post}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slot[T]) Name() string { return s.name }
func (s *Slot[T]) State() State { return s.state }
func (s *Slot[T]) Generation() uint64 { return s.gen }
func (s *Slot[T]) Err() error { return s.err }
func (s *Slot[T]) Key() string { return s.key }
func (s *Slot[T]) Building() bool { return s.current != nil }
func (s *Slot[T]) IsReady() bool { return s.state == Ready }

func (s *Slot[T]) Status() Status {
	return Status{Name: s.name, State: s.state, Generation: s.gen, Key: s.key, Err: s.err}
}

// Result returns the Ready value.
func (s *Slot[T]) Result() (T, bool) {
	if s.state != Ready {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Start launches fn under a new generation. It is a no-op, reporting false,
// while a build with the same key is in flight. Any other in-flight build
// is cancelled and awaited first, and any Ready value is released.
func (s *Slot[T]) Start(ctx context.Context, key string, fn Builder[T]) (uint64, bool) {
	if s.current != nil && s.current.key == key {
		return s.current.gen, false
	}
	s.Stop()

	s.gen++
	bctx, cancel := context.WithCancel(ctx)
	b := &build[T]{
		gen:    s.gen,
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
		result: make(chan outcome[T], 1),
		start:  time.Now(),
	}
	s.current = b
	s.key = key
	s.set(Building, nil)

	go func() {
		v, err := fn(bctx)
		if err == nil && bctx.Err() != nil {
			// finished after cancellation, nobody will take it
			s.dispose(v)
			err = bctx.Err()
		}
		b.result <- outcome[T]{value: v, err: err}
		close(b.done)
		s.post(func() { s.collect(b) })
	}()
	return b.gen, true
}

// Ready installs v under a new generation without a background build.
func (s *Slot[T]) Ready(key string, v T) uint64 {
	s.Stop()
	s.gen++
	s.key = key
	s.value = v
	BuildCount.WithLabelValues(s.name, "ready").Inc()
	s.set(Ready, nil)
	return s.gen
}

// Fail records a synchronous failure under a new generation.
func (s *Slot[T]) Fail(key string, err error) uint64 {
	s.Stop()
	s.gen++
	s.key = key
	BuildCount.WithLabelValues(s.name, "failed").Inc()
	s.set(Failed, err)
	return s.gen
}

// Stop cancels the in-flight build and waits for the builder to return,
// then releases whatever the slot holds. It is idempotent.
func (s *Slot[T]) Stop() {
	if b := s.current; b != nil {
		s.current = nil
		b.cancel()
		<-b.done
		select {
		case o := <-b.result:
			if o.err == nil {
				s.dispose(o.value)
			}
		default:
		}
		BuildCount.WithLabelValues(s.name, "cancelled").Inc()
	}
	if s.state == Ready {
		s.dispose(s.value)
	}
	var zero T
	s.value = zero
	if s.state != Idle {
		s.set(Idle, nil)
	}
}

func (s *Slot[T]) collect(b *build[T]) {
	if s.current != b {
		return
	}
	s.current = nil
	var o outcome[T]
	select {
	case o = <-b.result:
	default:
		return
	}
	BuildDuration.WithLabelValues(s.name).Observe(time.Since(b.start).Seconds())
	switch {
	case o.err == nil:
		s.value = o.value
		BuildCount.WithLabelValues(s.name, "ready").Inc()
		s.set(Ready, nil)
	case errors.Is(o.err, context.Canceled) || errors.Is(o.err, zt_errors.ErrCancelled):
		BuildCount.WithLabelValues(s.name, "cancelled").Inc()
		s.set(Cancelled, nil)
	default:
		BuildCount.WithLabelValues(s.name, "failed").Inc()
		s.set(Failed, o.err)
	}
}

func (s *Slot[T]) dispose(v T) {
	if s.release != nil {
		s.release(v)
	}
}

func (s *Slot[T]) set(state State, err error) {
	s.state = state
	s.err = err
	Generation.WithLabelValues(s.name).Set(float64(s.gen))
	States.WithLabelValues(s.name).Set(float64(state))
	if s.listener != nil {
		s.listener(s.Status())
	}
}
