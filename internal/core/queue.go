package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"foresight/pkg/domain"
)

// ErrQueueStopped is returned for work submitted after the queue shut down.
var ErrQueueStopped = domain.ServiceUnavailable("mutation queue stopped", nil)

// Queue is the mutation queue: a single worker drains submitted closures in
// order, so every update group and every multi-entity read observes a total
// order. Once admitted, a task runs to completion; cancelling the caller's
// context only aborts admission.
type Queue struct {
	tasks   chan task
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
	start   sync.Once
	depth   atomic.Int64

	metrics MetricsRecorder
	tracer  trace.Tracer
	logger  *slog.Logger
}

type task struct {
	name     string
	ctx      context.Context
	fn       func(context.Context) error
	done     chan error
	admitted time.Time
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithQueueMetrics records task outcomes and queue depth.
func WithQueueMetrics(m MetricsRecorder) QueueOption {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithQueueLogger sets the logger used for task failures.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue constructs a queue that buffers up to capacity admitted tasks.
func NewQueue(capacity int, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:   make(chan task, capacity),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		metrics: noopMetrics{},
		tracer:  otel.Tracer("foresight/core"),
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker. Calling Start more than once has no effect.
func (q *Queue) Start() {
	q.start.Do(func() {
		q.wg.Add(1)
		go q.loop()
	})
}

// Stop refuses new work, lets the worker finish admitted tasks, and waits
// for it to exit or for ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.cancel()
	q.Start()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) loop() {
	defer q.wg.Done()
	defer close(q.stopped)
	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case t := <-q.tasks:
			q.run(t)
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case t := <-q.tasks:
			q.run(t)
		default:
			return
		}
	}
}

func (q *Queue) run(t task) {
	q.metrics.QueueDepth(int(q.depth.Add(-1)))
	ctx, span := q.tracer.Start(t.ctx, "queue."+t.name, trace.WithAttributes(
		attribute.String("queue.task", t.name),
		attribute.Int64("queue.wait_us", time.Since(t.admitted).Microseconds()),
	))
	started := time.Now()
	err := q.invoke(ctx, t)
	q.metrics.Observe(ctx, t.name, err == nil, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	t.done <- err
}

func (q *Queue) invoke(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue_task_panic", "task", t.name, "panic", r)
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.fn(ctx)
}

// Submit admits fn and returns a channel that yields its result. The task
// context drops cancellation so admitted work always completes.
func (q *Queue) Submit(ctx context.Context, name string, fn func(context.Context) error) (<-chan error, error) {
	t := task{
		name:     name,
		ctx:      context.WithoutCancel(ctx),
		fn:       fn,
		done:     make(chan error, 1),
		admitted: time.Now(),
	}
	if q.ctx.Err() != nil {
		return nil, ErrQueueStopped
	}
	q.metrics.QueueDepth(int(q.depth.Add(1)))
	select {
	case q.tasks <- t:
		return t.done, nil
	case <-ctx.Done():
		q.metrics.QueueDepth(int(q.depth.Add(-1)))
		return nil, ctx.Err()
	case <-q.ctx.Done():
		q.metrics.QueueDepth(int(q.depth.Add(-1)))
		return nil, ErrQueueStopped
	}
}

// Do admits fn and waits for its turn and result.
func (q *Queue) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	done, err := q.Submit(ctx, name, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-q.stopped:
		select {
		case err := <-done:
			return err
		default:
			return ErrQueueStopped
		}
	}
}

// IsStopped reports whether err came from a stopped queue.
func IsStopped(err error) bool { return errors.Is(err, ErrQueueStopped) }
