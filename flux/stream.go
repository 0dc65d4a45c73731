package flux

import (
	"context"
	"sync"
)

// Reader is an external stream that values are read from one at a time.
type Reader[T any] interface {
	// Read returns the next value, or (zero, false, nil) at the end of the stream.
	Read(ctx context.Context) (T, bool, error)
	// Release frees the underlying resource.
	Release() error
}

// FromStream creates a sequence over a Reader obtained from acquire on the
// first pull. The reader is released exactly once: when the stream ends,
// when a read fails and when the sequence is closed or cancelled early. A
// release error at the natural end of the stream fails the sequence.
// OnCancel lets the stream end itself on cancellation, e.g. by making the
// next Read report the end.
func FromStream[T any](acquire func(ctx context.Context) (Reader[T], error), opts ...SourceOption) *Sequence[T] {
	cfg := newSourceConfig(opts)
	return newSource[T](&streamIter[T]{acquire: acquire}, cfg.onCancel)
}

type streamIter[T any] struct {
	acquire func(ctx context.Context) (Reader[T], error)

	mu       sync.Mutex
	reader   Reader[T]
	released bool
}

func (it *streamIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	r, err := it.current(ctx)
	if err != nil || r == nil {
		return zero, false, err
	}
	val, ok, err := r.Read(ctx)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, it.release()
	}
	return val, true, nil
}

func (it *streamIter[T]) current(ctx context.Context) (Reader[T], error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.released {
		return nil, nil
	}
	if it.reader == nil {
		r, err := it.acquire(ctx)
		if err != nil {
			return nil, err
		}
		it.reader = r
	}
	return it.reader, nil
}

func (it *streamIter[T]) release() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.released {
		return nil
	}
	it.released = true
	if it.reader == nil {
		return nil
	}
	return it.reader.Release()
}

func (it *streamIter[T]) Close() error { return it.release() }

// ReaderFunc adapts a pair of functions to a Reader.
type ReaderFunc[T any] struct {
	ReadFn    func(ctx context.Context) (T, bool, error)
	ReleaseFn func() error
}

func (r ReaderFunc[T]) Read(ctx context.Context) (T, bool, error) { return r.ReadFn(ctx) }

func (r ReaderFunc[T]) Release() error {
	if r.ReleaseFn == nil {
		return nil
	}
	return r.ReleaseFn()
}
