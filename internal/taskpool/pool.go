package taskpool

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lumen-web/lumen/config"
)

var (
	// ErrShutdown is returned by Submit after Shutdown was called.
	ErrShutdown = errors.New("taskpool: pool shutdown")
	// ErrQueueFull is returned by Submit when the task FIFO is at capacity.
	ErrQueueFull = errors.New("taskpool: queue is full")
)

// Pool runs submitted tasks on a fixed set of worker goroutines. The task
// FIFO is bounded; the config declares dynamic growth up to MaxWorkers and
// idle reaping, which this implementation doesn't exercise — the worker
// count stays at CoreWorkers.
type Pool struct {
	cfg config.Pool
	log *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	shutdown bool

	workers sync.WaitGroup
	active  atomic.Int32
}

// New spawns cfg.CoreWorkers workers ready to pick up tasks.
func New(cfg config.Pool, log *zap.Logger) *Pool {
	p := &Pool{
		cfg: cfg,
		log: log,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.CoreWorkers; i++ {
		p.workers.Add(1)
		go p.work()
	}

	return p
}

// Submit enqueues a task for execution on a worker.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return ErrShutdown
	}
	if p.cfg.QueueSize > 0 && len(p.queue) >= p.cfg.QueueSize {
		return ErrQueueFull
	}

	p.queue = append(p.queue, task)
	p.cond.Signal()

	return nil
}

// Shutdown stops the pool. Queued tasks still drain; with wait set, the call
// blocks until every worker has exited. Idempotent.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()

	if wait {
		p.workers.Wait()
	}
}

// PendingTasks returns the number of queued, not yet started tasks.
func (p *Pool) PendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// ActiveWorkers returns the number of workers currently running a task.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

func (p *Pool) work() {
	defer p.workers.Done()

	for {
		p.mu.Lock()
		for !p.shutdown && len(p.queue) == 0 {
			p.cond.Wait()
		}
		if p.shutdown && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}

		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.active.Add(1)
		p.run(task)
		p.active.Add(-1)
	}
}

// run keeps a panicking task from killing the worker.
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("taskpool: recovered panic", zap.Any("panic", r))
		}
	}()

	task()
}
