package flux

import (
	"context"
	"sync"
)

// Iterator provides pull-based sequential access to a stream of values.
// *Sequence[T] implements it, so sequences nest anywhere an Iterator fits.
type Iterator[T any] interface {
	// Next returns the next value. Returns (zero, false, nil) when exhausted.
	Next(ctx context.Context) (T, bool, error)
	// Close releases any resources held by the iterator.
	Close() error
}

// result carries a value or error through a channel.
type result[T any] struct {
	val T
	ok  bool
	err error
}

type sliceIter[T any] struct {
	items []T
	index int
}

func (it *sliceIter[T]) Next(_ context.Context) (T, bool, error) {
	if it.index >= len(it.items) {
		var zero T
		return zero, false, nil
	}
	val := it.items[it.index]
	it.index++
	return val, true, nil
}

func (it *sliceIter[T]) Close() error { return nil }

type failIter[T any] struct {
	err error
}

func (it *failIter[T]) Next(_ context.Context) (T, bool, error) {
	var zero T
	return zero, false, it.err
}

func (it *failIter[T]) Close() error { return nil }

// chanIter reads values from a caller-owned channel until it is closed.
type chanIter[T any] struct {
	ch <-chan T
}

func (it *chanIter[T]) Next(ctx context.Context) (T, bool, error) {
	select {
	case v, open := <-it.ch:
		return v, open, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (it *chanIter[T]) Close() error { return nil }

// funcIter runs a generator body on its own goroutine as a coroutine: the
// body only advances while a Next call is waiting for its next value.
type funcIter[T any] struct {
	body    func(ctx context.Context, yield func(T) bool) error
	onClose func() error

	out    chan result[T]
	resume chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	awaiting bool
	finished bool
}

func newFuncIter[T any](body func(ctx context.Context, yield func(T) bool) error, onClose func() error) *funcIter[T] {
	return &funcIter[T]{
		body:    body,
		onClose: onClose,
		out:     make(chan result[T]),
		resume:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (it *funcIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.finished {
		return zero, false, nil
	}
	if !it.awaiting {
		if err := it.advance(ctx); err != nil {
			return zero, false, err
		}
		it.awaiting = true
	}

	select {
	case r := <-it.out:
		it.awaiting = false
		if !r.ok {
			it.finished = true
		}
		return r.val, r.ok, r.err
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// advance starts the body on the first call and resumes it afterwards.
func (it *funcIter[T]) advance(ctx context.Context) error {
	it.mu.Lock()
	if !it.started {
		it.started = true
		var bodyCtx context.Context
		bodyCtx, it.cancel = context.WithCancel(context.WithoutCancel(ctx))
		it.mu.Unlock()
		go it.run(bodyCtx)
		return nil
	}
	it.mu.Unlock()

	select {
	case it.resume <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (it *funcIter[T]) run(ctx context.Context) {
	defer close(it.done)

	yield := func(v T) bool {
		select {
		case it.out <- result[T]{val: v, ok: true}:
		case <-ctx.Done():
			return false
		}
		select {
		case <-it.resume:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError("generator", r)
			}
		}()
		return it.body(ctx, yield)
	}()

	select {
	case it.out <- result[T]{err: err}:
	case <-ctx.Done():
	}
}

// Close cancels the body context and waits for the body to return.
func (it *funcIter[T]) Close() error {
	it.mu.Lock()
	started, cancel := it.started, it.cancel
	it.started = true
	it.mu.Unlock()

	if started && cancel != nil {
		cancel()
		<-it.done
	}
	if it.onClose != nil {
		return it.onClose()
	}
	return nil
}
