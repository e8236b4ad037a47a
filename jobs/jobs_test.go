package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/microsoft/ZooTracer/zt_errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "ZOOTRACER_JOBS_HELPER"

// TestMain lets the test binary act as the child process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "ok":
		os.Stdout.WriteString("first line\nsecond line\n")
		os.Stderr.WriteString("to stderr\n")
		os.Exit(0)
	case "fail":
		os.Stderr.WriteString("giving up\n")
		os.Exit(3)
	case "hang":
		os.Stdout.WriteString("started\n")
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type lines struct {
	mu  sync.Mutex
	all []string
}

func (l *lines) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, s)
}

func (l *lines) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.all...)
}

func helper(t *testing.T, mode string) *Process {
	exe, err := os.Executable()
	require.NoError(t, err)
	return &Process{Path: exe, Args: []string{"-test.run=^$"}, Env: []string{helperEnv + "=" + mode}}
}

func TestProcess_StreamsLines(t *testing.T) {
	var l lines
	err := helper(t, "ok").Run(context.Background(), l.add)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"first line", "second line", "to stderr"}, l.get())
}

func TestProcess_NonZeroExit(t *testing.T) {
	var l lines
	err := helper(t, "fail").Run(context.Background(), l.add)
	assert.ErrorIs(t, err, zt_errors.ErrBuildFailed)
	assert.Contains(t, err.Error(), "status 3")
	assert.Equal(t, []string{"giving up"}, l.get())
}

func TestProcess_StartFailure(t *testing.T) {
	err := (&Process{Path: "/nonexistent/zootracer"}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, zt_errors.ErrBuildFailed)
}

func TestProcess_KilledOnCancel(t *testing.T) {
	var l lines
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- helper(t, "hang").Run(ctx, l.add) }()
	assert.Eventually(t, func() bool { return len(l.get()) == 1 }, 10*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, zt_errors.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("child was not killed")
	}
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	var got []string
	err := Func(func(ctx context.Context, logf func(string)) error {
		logf("working")
		return boom
	}).Run(context.Background(), func(s string) { got = append(got, s) })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"working"}, got)
}
