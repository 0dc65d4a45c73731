package flux

import (
	"context"
	"time"

	"github.com/kbukum/flux/validation"
)

// Batch groups values into slices of up to size values. The last batch may
// be shorter. When the upstream fails, the values gathered so far are
// emitted first and the failure surfaces on the following pull.
func Batch[T any](s *Sequence[T], size int) *Sequence[[]T] {
	return derive[[]T](&batchIter[T]{source: s, size: size}, s)
}

type batchIter[T any] struct {
	source  *Sequence[T]
	size    int
	pending error
	done    bool
}

func (it *batchIter[T]) Next(ctx context.Context) ([]T, bool, error) {
	if err := validation.Positive("size", it.size); err != nil {
		return nil, false, err
	}
	if it.pending != nil {
		return nil, false, it.pending
	}
	if it.done {
		return nil, false, nil
	}

	batch := make([]T, 0, it.size)
	for len(batch) < it.size {
		val, ok, err := it.source.Next(ctx)
		if err != nil {
			if len(batch) > 0 {
				it.pending = err
				return batch, true, nil
			}
			return nil, false, err
		}
		if !ok {
			it.done = true
			if len(batch) > 0 {
				return batch, true, nil
			}
			return nil, false, nil
		}
		batch = append(batch, val)
	}
	return batch, true, nil
}

func (it *batchIter[T]) Close() error { return it.source.Close() }

// Throttle drops values that arrive less than interval after the last
// emitted one. The first value is always emitted. A negative interval
// fails the first pull with INVALID_INPUT.
func (s *Sequence[T]) Throttle(interval time.Duration) *Sequence[T] {
	return derive[T](&throttleIter[T]{source: s, interval: interval}, s)
}

type throttleIter[T any] struct {
	source   *Sequence[T]
	interval time.Duration
	lastEmit time.Time
}

func (it *throttleIter[T]) Next(ctx context.Context) (T, bool, error) {
	if err := validation.New().NonNegativeDuration("interval", it.interval).Err(); err != nil {
		var zero T
		return zero, false, err
	}
	for {
		val, ok, err := it.source.Next(ctx)
		if err != nil || !ok {
			return val, ok, err
		}
		now := time.Now()
		if it.lastEmit.IsZero() || now.Sub(it.lastEmit) >= it.interval {
			it.lastEmit = now
			return val, true, nil
		}
	}
}

func (it *throttleIter[T]) Close() error { return it.source.Close() }
