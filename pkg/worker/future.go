package worker

import (
	"context"
	"sync"
)

// Future is the completion handle for a task submitted with Offload. It
// resolves exactly once, with either the task's result or the error it
// returned (a *PanicError when the task panicked).
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed when the task has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is cancelled. Cancellation
// abandons the wait, not the task: the task keeps running on the pool and
// the future still resolves for other waiters.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Offload queues fn on the pool and returns its future. When the queue is
// full the call blocks until a slot frees, ctx is cancelled, or the pool
// stops; queued tasks start in submission order. A non-nil error means fn
// was never admitted and no future exists for it.
func Offload[T any](ctx context.Context, p *Pool, fn func() (T, error)) (*Future[T], error) {
	fut := newFuture[T]()
	t := task{
		run: func() error {
			val, err := fn()
			fut.resolve(val, err)
			return err
		},
		fail: func(err error) {
			var zero T
			fut.resolve(zero, err)
		},
	}
	if err := p.submit(ctx, t); err != nil {
		return nil, err
	}
	return fut, nil
}
