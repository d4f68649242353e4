// Package queue serializes control operations onto a single goroutine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotInitialized = errors.New("queue not initialized")
	ErrClosed         = errors.New("queue closed")
)

// Op is a control operation. It receives a context that is canceled on shutdown.
// It returns an error only for real failures; idempotent no-ops should return nil.
type Op interface {
	Apply(ctx context.Context) error
}

// Func is a helper to adapt functions into Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Queue runs operations one at a time in enqueue order.
// Use Enqueue to push operations and RunSync to wait for one.
type Queue struct {
	ch        chan Op
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	logger    *zap.Logger
	drain     time.Duration
	closeOnce sync.Once
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger logs failed and panicking operations.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithDrain sets how long Close keeps applying already queued ops.
func WithDrain(d time.Duration) Option {
	return func(q *Queue) { q.drain = d }
}

// New creates a queue with a fixed buffer.
func New(buffer int, opts ...Option) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ch:     make(chan Op, buffer),
		ctx:    ctx,
		cancel: cancel,
		logger: zap.NewNop(),
		drain:  10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go q.loop()
	})
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			// drain outstanding ops best-effort with a short deadline
			drainUntil := time.After(q.drain)
			for {
				select {
				case op := <-q.ch:
					q.apply(op)
				case <-drainUntil:
					return
				default:
					return
				}
			}
		case op := <-q.ch:
			q.apply(op)
		}
	}
}

func (q *Queue) apply(op Op) {
	if op == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued operation panicked", zap.Any("panic", r))
		}
	}()
	if err := op.Apply(q.ctx); err != nil {
		q.logger.Debug("queued operation failed", zap.Error(err))
	}
}

// Enqueue adds an operation to the queue.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return ErrNotInitialized
	}
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// RunSync enqueues fn and waits for it to complete, returning its error.
// It must not be called from inside a queued operation.
func (q *Queue) RunSync(fn Func) error {
	if q == nil || q.ch == nil {
		return fn(context.Background())
	}
	done := make(chan error, 1)
	if err := q.Enqueue(Func(func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			// buffered; never blocks even if the caller gave up
			done <- err
		}()
		return fn(ctx)
	})); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-q.ctx.Done():
		// the op may still have run during the drain
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops the worker and waits for it to finish. Safe to call multiple times.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(q.cancel)
	q.wg.Wait()
}
