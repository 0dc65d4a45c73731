package flux

import (
	"context"
	"sync"

	"github.com/kbukum/flux/errors"
)

// Emitter is the push side of a sequence built with Create.
type Emitter[T any] interface {
	// Push hands v to the oldest waiting pull, or buffers it. It returns
	// false once the consumer has cancelled or closed the sequence, in which
	// case v is dropped and the producer should stop. Push after Complete
	// panics with ErrPushAfterComplete.
	Push(v T) bool
	// Complete ends the sequence after the buffered values. Pending pulls
	// observe exhaustion. Extra calls are ignored.
	Complete()
	// Fail records err as the failure of the sequence and wakes every
	// pending pull with it. The failure is reported ahead of any buffered
	// values. Only the first failure is kept.
	Fail(err error)
}

// Create bridges a push-style producer into a pull sequence. producer runs
// on its own goroutine, started by the first pull, and may return before it
// finishes pushing (e.g. after registering callbacks). Its ctx is cancelled
// when the sequence is cancelled or closed. Cancelling the sequence is
// equivalent to completing it early.
func Create[T any](producer func(ctx context.Context, e Emitter[T])) *Sequence[T] {
	b := &bridge[T]{producer: producer}
	return newSource[T](b, b.cancel)
}

type bridge[T any] struct {
	producer func(ctx context.Context, e Emitter[T])

	mu        sync.Mutex
	buffer    []T
	pending   []chan result[T]
	completed bool
	cancelled bool
	err       error
	started   bool
	stop      context.CancelFunc
}

func (b *bridge[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	b.mu.Lock()
	b.startLocked(ctx)
	switch {
	case b.err != nil:
		err := b.err
		b.mu.Unlock()
		return zero, false, err
	case len(b.buffer) > 0:
		v := b.buffer[0]
		b.buffer[0] = zero
		b.buffer = b.buffer[1:]
		b.mu.Unlock()
		return v, true, nil
	case b.completed:
		b.mu.Unlock()
		return zero, false, nil
	}
	ch := make(chan result[T], 1)
	b.pending = append(b.pending, ch)
	b.mu.Unlock()

	select {
	case r := <-ch:
		return r.val, r.ok, r.err
	case <-ctx.Done():
		b.abandon(ch)
		return zero, false, ctx.Err()
	}
}

func (b *bridge[T]) startLocked(ctx context.Context) {
	if b.started {
		return
	}
	b.started = true
	var producerCtx context.Context
	producerCtx, b.stop = context.WithCancel(context.WithoutCancel(ctx))
	if b.cancelled {
		b.stop()
	}
	go b.run(producerCtx)
}

// run calls the producer. A panic, including Push after Complete, becomes
// the failure of the sequence even if it already completed.
func (b *bridge[T]) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.failLocked(producerPanic(r), true)
			b.mu.Unlock()
		}
	}()
	b.producer(ctx, b)
}

func producerPanic(r any) error {
	if err, ok := r.(error); ok {
		if appErr, ok := errors.AsAppError(err); ok {
			return appErr.WithDetail("panic", "producer")
		}
	}
	return panicError("producer", r)
}

// abandon withdraws a pending pull whose caller gave up. A value that was
// already handed to it goes back to the front of the buffer.
func (b *bridge[T]) abandon(ch chan result[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.pending {
		if p == ch {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
	if r := <-ch; r.ok {
		b.buffer = append([]T{r.val}, b.buffer...)
	}
}

func (b *bridge[T]) Push(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return false
	}
	if b.completed {
		panic(ErrPushAfterComplete)
	}
	if len(b.pending) > 0 {
		ch := b.pending[0]
		b.pending[0] = nil
		b.pending = b.pending[1:]
		ch <- result[T]{val: v, ok: true}
		return true
	}
	b.buffer = append(b.buffer, v)
	return true
}

func (b *bridge[T]) Complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeLocked()
}

func (b *bridge[T]) completeLocked() {
	if b.completed {
		return
	}
	b.completed = true
	for _, ch := range b.pending {
		ch <- result[T]{}
	}
	b.pending = nil
}

func (b *bridge[T]) Fail(err error) {
	if err == nil {
		err = errors.Internal(nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLocked(err, false)
}

// failLocked keeps the first failure. force also records it after
// cancellation.
func (b *bridge[T]) failLocked(err error, force bool) {
	if b.err != nil || (b.cancelled && !force) {
		return
	}
	b.err = err
	for _, ch := range b.pending {
		ch <- result[T]{err: err}
	}
	b.pending = nil
}

// cancel is the source cancellation hook and the close path.
func (b *bridge[T]) cancel(_ error) {
	b.mu.Lock()
	b.cancelled = true
	b.completeLocked()
	stop := b.stop
	b.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (b *bridge[T]) Close() error {
	b.cancel(nil)
	return nil
}
