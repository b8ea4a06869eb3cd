package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned when work is submitted to a pool that is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// Task is a unit of CPU-bound work.
type Task func(ctx context.Context) error

// PoolConfig configures worker pool behaviour.
type PoolConfig struct {
	Workers    int
	BufferSize int
	Logger     *zap.Logger
}

type request struct {
	ctx  context.Context
	task Task
	done chan error
}

// Pool runs tasks on a fixed set of goroutines so CPU-heavy work cannot fan
// out beyond the configured worker count.
type Pool struct {
	name    string
	workers int
	logger  *zap.Logger

	tasks   chan request
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewPool builds a pool. Call Start before submitting work.
func NewPool(name string, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Pool{
		name:    name,
		workers: cfg.Workers,
		logger:  cfg.Logger,
		tasks:   make(chan request, cfg.BufferSize),
	}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. Safe to call more than once.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
	p.logger.Sugar().Infow("worker pool started", "pool", p.name, "workers", p.workers)
}

// Stop cancels the workers and waits for them to exit. Pending tasks that
// were never picked up fail with ErrPoolStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.started = false
	p.mu.Unlock()
	p.wg.Wait()

	for {
		select {
		case req := <-p.tasks:
			req.done <- ErrPoolStopped
		default:
			p.logger.Sugar().Infow("worker pool stopped", "pool", p.name)
			return
		}
	}
}

// Do runs task on a worker and waits for its result. When ctx ends first Do
// returns ctx.Err() and the task result is discarded.
func (p *Pool) Do(ctx context.Context, task Task) error {
	p.mu.Lock()
	poolCtx := p.ctx
	started := p.started
	p.mu.Unlock()

	if !started {
		return fmt.Errorf("pool %s: %w", p.name, ErrPoolStopped)
	}

	req := request{ctx: ctx, task: task, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-poolCtx.Done():
		return fmt.Errorf("pool %s: %w", p.name, ErrPoolStopped)
	case p.tasks <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.done:
		return err
	case <-poolCtx.Done():
		// A worker may still be finishing this task.
		p.wg.Wait()
		select {
		case err := <-req.done:
			return err
		default:
			return fmt.Errorf("pool %s: %w", p.name, ErrPoolStopped)
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case req := <-p.tasks:
			req.done <- p.run(req)
		}
	}
}

func (p *Pool) run(req request) (err error) {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Sugar().Errorw("task panicked", "pool", p.name, "panic", r)
			err = fmt.Errorf("pool %s: task panicked: %v", p.name, r)
		}
	}()
	return req.task(req.ctx)
}
