// Package engine runs the background jobs of the daemon on their own tickers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"xswap/pkg/logger"
	"xswap/pkg/metrics"
)

// Job is one periodic unit of work. Run is never called concurrently with
// itself; a slow run delays the next tick instead of overlapping it.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Engine manages the execution of jobs
type Engine struct {
	jobs    []Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	log     *zap.SugaredLogger
}

func New(jobs ...Job) *Engine {
	return &Engine{
		jobs: jobs,
		log:  logger.Named("engine"),
	}
}

// Start runs every job once right away and then on each tick, until Stop is
// called or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}
	for _, j := range e.jobs {
		if j.Interval() <= 0 {
			return fmt.Errorf("job %s has no interval", j.Name())
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	for _, j := range e.jobs {
		e.wg.Add(1)
		go e.loop(ctx, j)
	}
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
}

// Wait blocks until every job loop has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context, j Job) {
	defer e.wg.Done()

	ticker := time.NewTicker(j.Interval())
	defer ticker.Stop()

	e.log.Infow("started job", "job", j.Name(), "interval", j.Interval())
	e.runOnce(ctx, j)
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("stopped job", "job", j.Name())
			return
		case <-ticker.C:
			e.runOnce(ctx, j)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, j Job) {
	start := time.Now()
	err := j.Run(ctx)
	metrics.JobDuration.WithLabelValues(j.Name()).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warnw("job run failed", "job", j.Name(), "error", err)
	}
}
