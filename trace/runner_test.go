package trace

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/microsoft/ZooTracer/index"
	"github.com/microsoft/ZooTracer/utils"
)

// gatedSource blocks its first query until the gate is closed.
type gatedSource struct {
	*fakeSource
	gate    chan struct{}
	once    sync.Once
	queries atomic.Int32
}

func (s *gatedSource) QueryApprox(f int, desc []float32, k int, ratio float64) []index.Match {
	s.queries.Add(1)
	s.once.Do(func() { <-s.gate })
	return s.fakeSource.QueryApprox(f, desc, k, ratio)
}

func startLoop(t *testing.T) *utils.Mailbox {
	ctx, cancel := context.WithCancel(context.Background())
	box := utils.NewMailbox()
	go box.Run(ctx)
	t.Cleanup(cancel)
	return box
}

func on(box *utils.Mailbox, f func()) {
	done := make(chan struct{})
	box.Post(func() {
		f()
		close(done)
	})
	<-done
}

func TestRunner_CoalescesRequests(t *testing.T) {
	box := startLoop(t)
	src := &gatedSource{fakeSource: movingObject(4), gate: make(chan struct{})}
	var applied atomic.Int32
	var r *Runner
	on(box, func() {
		r = NewRunner(src, params(), box.Post,
			func() Snapshot { return ends(4) },
			func(res *Result, err error) {
				assert.NoError(t, err)
				assert.NotNil(t, res)
				applied.Add(1)
			})
		r.Request()
		r.Request()
		r.Request()
		assert.True(t, r.Running())
	})
	close(src.gate)

	assert.Eventually(t, func() bool {
		var idle bool
		on(box, func() { idle = !r.Running() })
		return idle && applied.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	on(box, func() {
		assert.Equal(t, 2, r.Runs())
		r.Close()
		r.Request()
		assert.False(t, r.Running())
	})
}

func TestRunner_CloseDropsResult(t *testing.T) {
	box := startLoop(t)
	src := &gatedSource{fakeSource: movingObject(4), gate: make(chan struct{})}
	var applied atomic.Int32
	var r *Runner
	on(box, func() {
		r = NewRunner(src, params(), box.Post,
			func() Snapshot { return ends(4) },
			func(*Result, error) { applied.Add(1) })
		r.Request()
	})
	assert.Eventually(t, func() bool { return src.queries.Load() > 0 }, 5*time.Second, time.Millisecond)
	close(src.gate)
	on(box, r.Close)
	// let the posted completion drain
	on(box, func() {})
	assert.Equal(t, int32(0), applied.Load())
	assert.Equal(t, 0, r.Runs())
}
