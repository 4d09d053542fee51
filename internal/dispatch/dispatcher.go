package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"quote-funnel-service/internal/metrics"
)

// ErrClosed is recorded for tasks dispatched after Shutdown began
var ErrClosed = errors.New("dispatcher is shut down")

// Task is one best-effort side effect
type Task struct {
	Name string
	Run  func(ctx context.Context) error
	// MustSurviveNavigation tasks keep running after shutdown starts and are
	// drained before the process exits. Regular tasks are cancelled.
	MustSurviveNavigation bool
}

// Result is the outcome of one task in a batch
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Batch is a group of tasks dispatched together. Callers may ignore it or
// use Wait as a join point.
type Batch struct {
	done    chan struct{}
	mu      sync.Mutex
	results []Result
}

// Wait blocks until every task in the batch finished or ctx is done
func (b *Batch) Wait(ctx context.Context) ([]Result, error) {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		out := make([]Result, len(b.results))
		copy(out, b.results)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once every task in the batch finished
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

func (b *Batch) record(r Result) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

// Config tunes the dispatcher
type Config struct {
	TaskTimeout   time.Duration
	MaxConcurrent int
}

// Dispatcher runs side effects off the request path. Task errors are logged
// and counted, never returned to the code that dispatched them, and never
// retried.
type Dispatcher struct {
	logger  *logrus.Entry
	timeout time.Duration
	sem     chan struct{}

	stopCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight int
	idle     chan struct{}
}

// New creates a dispatcher
func New(cfg Config, logger *logrus.Logger) *Dispatcher {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 15 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}

	stopCtx, stop := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Dispatcher{
		logger:  logger.WithField("component", "dispatch"),
		timeout: cfg.TaskTimeout,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		stopCtx: stopCtx,
		stop:    stop,
		idle:    idle,
	}
}

// Dispatch starts tasks concurrently and returns immediately. Values on
// parent (request ids, loggers) are kept; its cancellation is not.
func (d *Dispatcher) Dispatch(parent context.Context, tasks ...Task) *Batch {
	batch := &Batch{done: make(chan struct{})}
	if len(tasks) == 0 {
		close(batch.done)
		return batch
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		for _, t := range tasks {
			d.logger.WithField("task", t.Name).Warn("Dropping task dispatched after shutdown")
			metrics.DispatchedTasks.WithLabelValues(t.Name, "dropped").Inc()
			batch.record(Result{Name: t.Name, Err: ErrClosed})
		}
		close(batch.done)
		return batch
	}
	if d.inflight == 0 {
		d.idle = make(chan struct{})
	}
	d.inflight += len(tasks)
	d.mu.Unlock()

	detached := context.WithoutCancel(parent)
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func(t Task) {
			defer wg.Done()
			defer d.finish()
			batch.record(d.run(detached, t))
		}(t)
	}
	go func() {
		wg.Wait()
		close(batch.done)
	}()

	return batch
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) run(parent context.Context, t Task) (res Result) {
	res.Name = t.Name
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()
	if !t.MustSurviveNavigation {
		unregister := context.AfterFunc(d.stopCtx, cancel)
		defer unregister()
	}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		res.Err = fmt.Errorf("waiting for a worker slot: %w", ctx.Err())
		res.Duration = time.Since(start)
		d.observe(t, res)
		return res
	}

	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	ctx, span := otel.Tracer("dispatch").Start(ctx, "task "+t.Name)
	span.SetAttributes(attribute.Bool("task.must_survive_navigation", t.MustSurviveNavigation))
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task panicked: %v", r)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		res.Duration = time.Since(start)
		d.observe(t, res)
	}()

	res.Err = t.Run(ctx)
	return res
}

func (d *Dispatcher) observe(t Task, res Result) {
	metrics.DispatchedTaskDuration.WithLabelValues(t.Name).Observe(res.Duration.Seconds())
	if res.Err != nil {
		metrics.DispatchedTasks.WithLabelValues(t.Name, "error").Inc()
		d.logger.WithError(res.Err).WithFields(logrus.Fields{
			"task":     t.Name,
			"duration": res.Duration.String(),
		}).Warn("Background task failed")
		return
	}
	metrics.DispatchedTasks.WithLabelValues(t.Name, "success").Inc()
	d.logger.WithFields(logrus.Fields{
		"task":     t.Name,
		"duration": res.Duration.String(),
	}).Debug("Background task completed")
}

// Flush waits until no task is in flight or ctx is done
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, cancels regular tasks and waits for the
// rest to finish until ctx is done
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.stop()

	if err := d.Flush(ctx); err != nil {
		d.logger.WithError(err).Warn("Shutdown deadline reached with tasks still running")
		return err
	}
	d.logger.Info("All background tasks drained")
	return nil
}
