package flux

import (
	"context"
	"sync"
)

// Future is a value that settles exactly once, with a result or an error.
// Awaiting a settled future returns the same outcome every time.
type Future[V any] struct {
	run  func(ctx context.Context) (V, error)
	once sync.Once
	done chan struct{}
	val  V
	err  error
}

// newFuture returns a lazy future: run starts on the first Await or Done.
func newFuture[V any](run func(ctx context.Context) (V, error)) *Future[V] {
	return &Future[V]{run: run, done: make(chan struct{})}
}

// Go starts fn on a new goroutine and returns its future. fn receives ctx.
func Go[V any](ctx context.Context, fn func(ctx context.Context) (V, error)) *Future[V] {
	f := newFuture(fn)
	f.start(ctx)
	return f
}

// Resolved returns a future already settled with v.
func Resolved[V any](v V) *Future[V] {
	f := &Future[V]{done: make(chan struct{}), val: v}
	f.once.Do(func() { close(f.done) })
	return f
}

// Rejected returns a future already settled with err.
func Rejected[V any](err error) *Future[V] {
	f := &Future[V]{done: make(chan struct{}), err: err}
	f.once.Do(func() { close(f.done) })
	return f
}

func (f *Future[V]) start(ctx context.Context) {
	f.once.Do(func() {
		go f.settle(ctx)
	})
}

func (f *Future[V]) settle(ctx context.Context) {
	defer close(f.done)
	defer func() {
		if r := recover(); r != nil {
			f.err = panicError("future", r)
		}
	}()
	f.val, f.err = f.run(ctx)
}

// Await starts the future if it is lazy and waits for it to settle. If ctx
// is done first Await returns ctx.Err(); the future keeps running and can be
// awaited again.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	f.start(context.WithoutCancel(ctx))
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Done starts the future if it is lazy and returns a channel closed once it
// has settled.
func (f *Future[V]) Done() <-chan struct{} {
	f.start(context.Background())
	return f.done
}

// Settled reports whether the future has settled, without starting it.
func (f *Future[V]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Finally returns a future that runs fn once f settles and then settles with
// f's outcome.
func (f *Future[V]) Finally(fn func()) *Future[V] {
	return newFuture(func(ctx context.Context) (V, error) {
		defer fn()
		return f.Await(ctx)
	})
}

func (*Future[V]) shape() Shape { return ShapeFuture }
func (*Future[V]) mapped(*V)    {}

// Then returns a future of fn applied to f's value. A failure of f skips fn
// and propagates.
func Then[V, R any](f *Future[V], fn func(V) (R, error)) *Future[R] {
	return newFuture(func(ctx context.Context) (R, error) {
		v, err := f.Await(ctx)
		if err != nil {
			var zero R
			return zero, err
		}
		return fn(v)
	})
}

// Catch returns a future that recovers from a failure of f with fn. A value
// of f passes through.
func Catch[V any](f *Future[V], fn func(error) (V, error)) *Future[V] {
	return newFuture(func(ctx context.Context) (V, error) {
		v, err := f.Await(ctx)
		if err != nil {
			return fn(err)
		}
		return v, nil
	})
}
