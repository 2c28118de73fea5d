package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Veraticus/qrelay/internal/metrics"
)

// Pool defaults.
const (
	// DefaultWorkers is how many agent runs execute at once.
	DefaultWorkers = 4

	// queueSizeMultiplier sizes the default queue from the worker count.
	queueSizeMultiplier = 4
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("task queue is full")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Task is a unit of work run by the pool. ctx ends when the pool is
// forced to stop.
type Task func(ctx context.Context)

type queuedTask struct {
	name string
	run  Task
}

// PoolConfig holds configuration for a Pool.
type PoolConfig struct {
	Workers      int
	QueueSize    int
	PanicHandler PanicHandler // Optional: defaults to logging with stack trace
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Pool runs tasks on a fixed set of workers fed by a bounded queue.
type Pool struct {
	config PoolConfig
	tasks  chan queuedTask
	logger *slog.Logger

	mu      sync.RWMutex // Guards started, stopped and the tasks channel close
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inflight atomic.Int32
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.Workers < 0 || config.QueueSize < 0 {
		return nil, fmt.Errorf("pool creation failed: workers and queue size cannot be negative")
	}
	if config.Workers == 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize == 0 {
		config.QueueSize = config.Workers * queueSizeMultiplier
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PanicHandler == nil {
		config.PanicHandler = NewLoggingPanicHandler(config.Logger)
	}

	return &Pool{
		config: config,
		tasks:  make(chan queuedTask, config.QueueSize),
		logger: config.Logger.With(slog.String("component", "pool")),
	}, nil
}

// Start launches the workers. Tasks run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.config.Workers {
		id := "worker-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go p.work(id)
	}

	p.logger.InfoContext(ctx, "worker pool started",
		slog.Int("workers", p.config.Workers),
		slog.Int("queue_size", p.config.QueueSize))
	return nil
}

// Submit queues a task without blocking.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped || !p.started {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- queuedTask{name: name, run: task}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new tasks and waits for queued and running tasks to finish.
// When ctx ends first, running tasks are canceled and ctx's error returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	close(p.tasks)
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.InfoContext(ctx, "worker pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool stop interrupted: %w", ctx.Err())
	}
}

// Inflight returns the number of tasks currently running.
func (p *Pool) Inflight() int {
	return int(p.inflight.Load())
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.tasks)
}

func (p *Pool) work(id string) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id string, task queuedTask) {
	p.inflight.Add(1)
	p.config.Metrics.IncInflight()
	defer func() {
		p.config.Metrics.DecInflight()
		p.inflight.Add(-1)
		if r := recover(); r != nil {
			handleRecoveredPanic(id, task.name, r, p.config.PanicHandler)
		}
	}()

	p.logger.Debug("task started", slog.String("worker_id", id), slog.String("task", task.name))
	task.run(p.ctx)
}
