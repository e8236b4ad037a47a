package utils

import (
	"context"
	"sync"
)

// Mailbox is an unbounded FIFO of closures drained by one goroutine.
// Post never blocks, so producers may post while the drainer waits on them.
type Mailbox struct {
	lock   sync.Mutex
	queue  []func()
	signal chan struct{}
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{signal: make(chan struct{}, 1)}
}

// Post enqueues f. It reports false once the mailbox is closed.
func (m *Mailbox) Post(f func()) bool {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return false
	}
	m.queue = append(m.queue, f)
	m.lock.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *Mailbox) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.queue)
}

// Close rejects further posts. Run drains what is queued, then returns.
func (m *Mailbox) Close() {
	m.lock.Lock()
	m.closed = true
	m.lock.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Run executes posted closures in order until ctx is done or the mailbox
// is closed and empty.
func (m *Mailbox) Run(ctx context.Context) {
	for {
		m.lock.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.lock.Unlock()

		for _, f := range batch {
			if ctx.Err() != nil {
				return
			}
			f()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-m.signal:
		case <-ctx.Done():
			return
		}
	}
}
