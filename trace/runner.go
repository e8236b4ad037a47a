package trace

import (
	"context"
	"errors"
	"sync"
)

// Runner recomputes the trace in the background. Requests that arrive
// during a compute collapse into a single follow-up run. Request, Close and
// the apply callback all run on the coordinator goroutine.
type Runner struct {
	src      Source
	params   Params
	post     func(func()) bool
	snapshot func() Snapshot
	apply    func(*Result, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	again   bool
	closed  bool
	runs    int
}

// NewRunner returns an idle runner. apply receives each result, or the
// error of a failed compute; cancelled computes are dropped.
func NewRunner(src Source, params Params, post func(func()) bool, snapshot func() Snapshot, apply func(*Result, error)) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		src:      src,
		params:   params,
		post:     post,
		snapshot: snapshot,
		apply:    apply,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Runner) Request() {
	if r.closed {
		return
	}
	if r.running {
		r.again = true
		return
	}
	r.running = true
	snap := r.snapshot()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := Compute(r.ctx, r.src, snap, r.params)
		r.post(func() { r.finish(res, err) })
	}()
}

func (r *Runner) finish(res *Result, err error) {
	r.running = false
	if r.closed {
		return
	}
	r.runs++
	if err == nil || !errors.Is(err, context.Canceled) {
		r.apply(res, err)
	}
	if r.again {
		r.again = false
		r.Request()
	}
}

// Running reports whether a compute is in flight.
func (r *Runner) Running() bool {
	return r.running
}

// Runs counts completed computes.
func (r *Runner) Runs() int {
	return r.runs
}

func (r *Runner) Params() Params {
	return r.params
}

// Close cancels the compute in flight and waits for it to return. Its
// result is never applied.
func (r *Runner) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.again = false
	r.cancel()
	r.wg.Wait()
}
