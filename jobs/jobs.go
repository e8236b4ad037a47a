// Package jobs runs long cancellable computations that report progress as
// text lines, either as a child process or in-process.
package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/microsoft/ZooTracer/zt_errors"
)

// Runner runs a job to completion. logf may be called from any goroutine.
// A cancelled job returns an error wrapping ctx.Err().
type Runner interface {
	Run(ctx context.Context, logf func(string)) error
}

// Func is an in-process job.
type Func func(ctx context.Context, logf func(string)) error

func (f Func) Run(ctx context.Context, logf func(string)) error {
	return f(ctx, logf)
}

// Process is a child process job. Success is exit status 0 only.
type Process struct {
	Path string
	Args []string
	Env  []string // appended to the parent environment when non-nil
	Dir  string
}

func (p *Process) Run(ctx context.Context, logf func(string)) error {
	if logf == nil {
		logf = func(string) {}
	}
	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	cmd.Dir = p.Dir
	if p.Env != nil {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", zt_errors.ErrBuildFailed, p.Path, err)
	}

	var wg sync.WaitGroup
	forward := func(r io.Reader) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			logf(sc.Text())
		}
	}
	wg.Add(2)
	go forward(stdout)
	go forward(stderr)
	// pipes must be drained before Wait closes them
	wg.Wait()
	err = cmd.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", zt_errors.ErrCancelled, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s exited with status %d", zt_errors.ErrBuildFailed, p.Path, exitErr.ExitCode())
	}
	if err != nil {
		return fmt.Errorf("%w: %v", zt_errors.ErrBuildFailed, err)
	}
	return nil
}
