package utils

import (
	"sync"
	"time"
)

// Mean is a running mean of durations, safe for concurrent writers.
// The zero value is empty.
type Mean struct {
	lock  sync.Mutex
	sum   time.Duration
	count int
}

func (m *Mean) Add(d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sum += d
	m.count++
}

func (m *Mean) Value() time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.count == 0 {
		return 0
	}
	return m.sum / time.Duration(m.count)
}

func (m *Mean) Count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.count
}

// Remaining estimates the time n more samples take on parallel workers.
// It is zero until a sample is known.
func (m *Mean) Remaining(n, parallel int) time.Duration {
	if n <= 0 {
		return 0
	}
	return m.Value() * time.Duration((n+max(1, parallel)-1)/max(1, parallel))
}
