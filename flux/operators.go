package flux

import (
	"context"
	"time"

	"github.com/kbukum/flux/validation"
)

// Filter keeps only values that satisfy the predicate.
func (s *Sequence[T]) Filter(pred func(T) bool) *Sequence[T] {
	return derive[T](&filterIter[T]{source: s, fn: pred}, s)
}

// Take yields at most n values. Once the n-th value is produced the upstream
// chain is cancelled.
func (s *Sequence[T]) Take(n int) *Sequence[T] {
	return derive[T](&takeIter[T]{source: s, n: n}, s)
}

// TakeUntil yields values until pred matches. The matching value is not
// yielded and ends the sequence.
func (s *Sequence[T]) TakeUntil(pred func(T) bool) *Sequence[T] {
	return derive[T](&untilIter[T]{source: s, fn: pred}, s)
}

// Tap calls fn as a side-effect for each value, then passes the value through
// unchanged. An error from fn fails the sequence.
func (s *Sequence[T]) Tap(fn func(context.Context, T) error) *Sequence[T] {
	return derive[T](&tapIter[T]{source: s, fn: fn}, s)
}

// DoAfterLast calls fn with every value once the upstream is exhausted. It
// is not called when the upstream fails or is closed early. An error from fn
// becomes the failure of the sequence.
func (s *Sequence[T]) DoAfterLast(fn func(context.Context, []T) error) *Sequence[T] {
	return derive[T](&afterLastIter[T]{source: s, fn: fn}, s)
}

// DelayElements waits d before delivering each value.
func (s *Sequence[T]) DelayElements(d time.Duration) *Sequence[T] {
	return derive[T](&delayIter[T]{source: s, d: d}, s)
}

// Map transforms each value using fn.
func Map[I, O any](s *Sequence[I], fn func(context.Context, I) (O, error)) *Sequence[O] {
	return derive[O](&mapIter[I, O]{source: s, fn: fn}, s)
}

// Transform builds a sequence from a custom generator over s. The returned
// Iterator must close s when it is closed.
func Transform[T, O any](s *Sequence[T], define func(src *Sequence[T]) Iterator[O]) *Sequence[O] {
	return derive[O](define(s), s)
}

// TransformFunc builds a sequence from a generator function that pulls from
// src and yields derived values. It follows the FromFunc contract; src is
// closed together with the new sequence.
func TransformFunc[T, O any](s *Sequence[T], fn func(ctx context.Context, src *Sequence[T], yield func(O) bool) error) *Sequence[O] {
	body := func(ctx context.Context, yield func(O) bool) error {
		return fn(ctx, s, yield)
	}
	return derive[O](newFuncIter(body, s.Close), s)
}

// Reduce folds every value into an accumulator.
func Reduce[T, R any](ctx context.Context, s *Sequence[T], init R, fn func(R, T) R) (R, error) {
	acc := init
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return acc, err
		}
		if !ok {
			return acc, nil
		}
		acc = fn(acc, v)
	}
}

// ForEach pulls every value and calls fn for each. An error from fn closes
// the sequence and is returned.
func (s *Sequence[T]) ForEach(ctx context.Context, fn func(context.Context, T) error) error {
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(ctx, v); err != nil {
			s.Return()
			return err
		}
	}
}

// Run drains the sequence, discarding values, and reports how it ended.
func (s *Sequence[T]) Run(ctx context.Context) error {
	_, err := Reduce(ctx, s, struct{}{}, func(acc struct{}, _ T) struct{} { return acc })
	return err
}

// --- Operator iterators ---

type filterIter[T any] struct {
	source *Sequence[T]
	fn     func(T) bool
}

func (it *filterIter[T]) Next(ctx context.Context) (T, bool, error) {
	for {
		val, ok, err := it.source.Next(ctx)
		if err != nil || !ok {
			return val, ok, err
		}
		if it.fn(val) {
			return val, true, nil
		}
	}
}

func (it *filterIter[T]) Close() error { return it.source.Close() }

type takeIter[T any] struct {
	source *Sequence[T]
	n      int
	count  int
}

func (it *takeIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := validation.NonNegative("n", it.n); err != nil {
		return zero, false, err
	}
	if it.count >= it.n {
		return zero, false, nil
	}
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return val, ok, err
	}
	it.count++
	if it.count == it.n {
		it.source.Cancel(nil)
	}
	return val, true, nil
}

func (it *takeIter[T]) Close() error { return it.source.Close() }

type untilIter[T any] struct {
	source *Sequence[T]
	fn     func(T) bool
}

func (it *untilIter[T]) Next(ctx context.Context) (T, bool, error) {
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return val, ok, err
	}
	if it.fn(val) {
		var zero T
		return zero, false, nil
	}
	return val, true, nil
}

func (it *untilIter[T]) Close() error { return it.source.Close() }

type tapIter[T any] struct {
	source *Sequence[T]
	fn     func(context.Context, T) error
}

func (it *tapIter[T]) Next(ctx context.Context) (T, bool, error) {
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return val, ok, err
	}
	if err := it.fn(ctx, val); err != nil {
		var zero T
		return zero, false, err
	}
	return val, true, nil
}

func (it *tapIter[T]) Close() error { return it.source.Close() }

type afterLastIter[T any] struct {
	source *Sequence[T]
	fn     func(context.Context, []T) error
	seen   []T
}

func (it *afterLastIter[T]) Next(ctx context.Context) (T, bool, error) {
	val, ok, err := it.source.Next(ctx)
	if err != nil {
		return val, false, err
	}
	if !ok {
		return val, false, it.fn(ctx, it.seen)
	}
	it.seen = append(it.seen, val)
	return val, true, nil
}

func (it *afterLastIter[T]) Close() error { return it.source.Close() }

type delayIter[T any] struct {
	source *Sequence[T]
	d      time.Duration
}

func (it *delayIter[T]) Next(ctx context.Context) (T, bool, error) {
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok || it.d <= 0 {
		return val, ok, err
	}
	timer := time.NewTimer(it.d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return val, true, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (it *delayIter[T]) Close() error { return it.source.Close() }

type mapIter[I, O any] struct {
	source *Sequence[I]
	fn     func(context.Context, I) (O, error)
}

func (it *mapIter[I, O]) Next(ctx context.Context) (O, bool, error) {
	var zero O
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	out, err := it.fn(ctx, val)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func (it *mapIter[I, O]) Close() error { return it.source.Close() }
