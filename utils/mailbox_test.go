package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMailbox_OrderPerProducer(t *testing.T) {
	const N = 1 << 10
	const K = 8

	box := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		box.Run(ctx)
		close(done)
	}()

	check := [K]int{}
	var wg sync.WaitGroup
	for k := 0; k < K; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for n := 0; n < N; n++ {
				n := n
				assert.True(t, box.Post(func() {
					// only the drainer touches check
					assert.Equal(t, check[k], n)
					check[k] = n + 1
				}))
			}
		}(k)
	}
	wg.Wait()
	box.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mailbox did not drain")
	}
	for k := 0; k < K; k++ {
		assert.Equal(t, N, check[k])
	}
	assert.False(t, box.Post(func() {}))
}

func TestMailbox_PostFromDrainer(t *testing.T) {
	box := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []int
	box.Post(func() {
		seen = append(seen, 1)
		box.Post(func() {
			seen = append(seen, 3)
			box.Close()
		})
		seen = append(seen, 2)
	})
	box.Run(ctx)
	assert.Equal(t, []int{1, 2, 3}, seen)
}
