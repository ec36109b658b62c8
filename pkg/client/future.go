package client

import (
	"context"
	"fmt"
)

// Future is the result of an operation started with Async. It completes
// exactly once.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Async runs fn in its own goroutine and returns a Future for its result.
// A panic in fn completes the Future with an error.
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)
		defer func() {
			if rvr := recover(); rvr != nil {
				f.err = fmt.Errorf("panic: %v", rvr)
			}
		}()

		f.value, f.err = fn(ctx)
	}()

	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation has finished and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await is Wait bounded by ctx. It returns ctx.Err() if ctx ends first; the
// operation itself keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
