// Package procpool runs a batch of external processes concurrently and waits
// for all of them by polling.
package procpool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

const DefaultPollInterval = 5 * time.Second

type Logger interface {
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

// Result is the outcome of one job.
type Result struct {
	Name     string
	Err      error
	Output   []byte
	Duration time.Duration
}

type job struct {
	name    string
	cmd     *exec.Cmd
	buf     *syncBuffer
	started time.Time
	done    chan struct{}
	result  Result
}

// Pool starts every job immediately. Wait is the join barrier.
type Pool struct {
	log  Logger
	mu   sync.Mutex
	jobs []*job
}

func New(log Logger) *Pool {
	return &Pool{log: log}
}

// Start launches cmd and tracks it under name. Stdout and stderr are captured
// unless the caller already set them.
func (p *Pool) Start(name string, cmd *exec.Cmd) error {
	j := &job{name: name, cmd: cmd, buf: &syncBuffer{}, done: make(chan struct{})}
	if cmd.Stdout == nil {
		cmd.Stdout = j.buf
	}
	if cmd.Stderr == nil {
		cmd.Stderr = j.buf
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	j.started = time.Now()

	go func() {
		err := cmd.Wait()
		j.result = Result{Name: name, Err: err, Output: j.buf.Bytes(), Duration: time.Since(j.started)}
		close(j.done)
	}()

	p.mu.Lock()
	p.jobs = append(p.jobs, j)
	p.mu.Unlock()
	return nil
}

// Len reports how many jobs were started.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Running counts jobs that have not exited yet.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, j := range p.jobs {
		select {
		case <-j.done:
		default:
			n++
		}
	}
	return n
}

// Wait polls every interval until all jobs have exited and returns their
// results in start order. The returned error joins every job failure. When
// ctx ends first the remaining processes are killed.
func (p *Pool) Wait(ctx context.Context, interval time.Duration) ([]Result, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	total := p.Len()
	for {
		running := p.Running()
		if running == 0 {
			break
		}
		if p.log != nil {
			p.log.Debugf("waiting on %d/%d jobs", running, total)
		}
		select {
		case <-ctx.Done():
			p.kill()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	results := make([]Result, len(p.jobs))
	var errs []error
	for i, j := range p.jobs {
		results[i] = j.result
		if j.result.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, j.result.Err))
		}
	}
	if p.log != nil {
		p.log.Infof("%d jobs finished, %d failed", len(results), len(errs))
	}
	return results, errors.Join(errs...)
}

func (p *Pool) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range p.jobs {
		select {
		case <-j.done:
		default:
			if j.cmd.Process != nil {
				_ = j.cmd.Process.Kill()
			}
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}
