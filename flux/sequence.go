package flux

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/flux/errors"
	"github.com/kbukum/flux/logger"
)

// Sequence is a lazy, pull-driven stream of values backed by one generator.
//
// Values are produced only when pulled. A sequence has a single consumer, is
// not restartable and reaches exactly one terminal condition: exhaustion,
// failure or cancellation. After that it is closed; further pulls report
// exhaustion, or repeat the terminal error after a failure.
//
// Operators wrap a sequence in a new one whose upstream is the receiver, so
// cancelling any sequence of a chain reaches the source.
type Sequence[T any] struct {
	id       string
	created  time.Time
	gen      Iterator[T]
	upstream canceller
	onCancel func(reason error)

	// Sources without onCancel receive cancellation through abortCtx. Its
	// cause fails the pending or next pull.
	abortCtx context.Context
	abort    context.CancelCauseFunc

	mu        sync.Mutex
	closed    atomic.Bool
	cancelled atomic.Bool
	err       error

	futureOnce sync.Once
	future     *Future[[]T]
}

type canceller interface {
	Cancel(reason error)
	ID() string
}

const (
	outcomeExhausted = "exhausted"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeReturned  = "returned"
)

func newSource[T any](gen Iterator[T], onCancel func(reason error)) *Sequence[T] {
	s := &Sequence[T]{id: uuid.NewString(), created: time.Now(), gen: gen, onCancel: onCancel}
	if onCancel == nil {
		s.abortCtx, s.abort = context.WithCancelCause(context.Background())
	}
	return s
}

func derive[T any](gen Iterator[T], upstream canceller) *Sequence[T] {
	return &Sequence[T]{id: uuid.NewString(), created: time.Now(), gen: gen, upstream: upstream}
}

// ID returns the identifier used for this sequence in logs.
func (s *Sequence[T]) ID() string { return s.id }

// Closed reports whether the sequence reached its terminal condition.
func (s *Sequence[T]) Closed() bool { return s.closed.Load() }

// Next pulls the next value. It returns (v, true, nil) for a value,
// (zero, false, nil) on exhaustion and (zero, false, err) on failure.
func (s *Sequence[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	if s.closed.Load() {
		s.mu.Lock()
		err = s.err
		s.mu.Unlock()
		return v, false, err
	}

	if s.abortCtx != nil {
		if cause := context.Cause(s.abortCtx); cause != nil {
			s.finish(cause, outcomeCancelled)
			return v, false, cause
		}
		var stop func()
		ctx, stop = s.watchAbort(ctx)
		defer stop()
	}

	returned := false
	defer func() {
		switch {
		case !returned:
			s.finish(errors.Internal(stderrors.New("generator panicked")), outcomeFailed)
		case err != nil:
			s.finish(err, outcomeOf(err))
		case !ok:
			s.finish(nil, outcomeExhausted)
		}
	}()

	v, ok, err = s.gen.Next(ctx)
	if err != nil && s.abortCtx != nil {
		if cause := context.Cause(s.abortCtx); cause != nil {
			err = cause
		}
	}
	returned = true
	return v, ok, err
}

// watchAbort derives a pull context that is also cancelled, with the
// injected cause, when the source is cancelled mid-pull.
func (s *Sequence[T]) watchAbort(ctx context.Context) (context.Context, func()) {
	pullCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.abortCtx, func() {
		cancel(context.Cause(s.abortCtx))
	})
	return pullCtx, func() {
		stop()
		cancel(nil)
	}
}

// Cancel requests cancellation of the whole chain. The request walks the
// upstream links to the source, which runs its cancellation hook if it has
// one; otherwise its pending or next pull fails with an error matching
// ErrCancelled that wraps reason. Cancel is idempotent and ignored once the
// sequence is closed.
func (s *Sequence[T]) Cancel(reason error) {
	if s.closed.Load() || !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	switch {
	case s.upstream != nil:
		s.upstream.Cancel(reason)
	case s.onCancel != nil:
		s.onCancel(reason)
	default:
		s.abort(errors.Cancelled(reason))
	}
}

// Return terminates the sequence as if it were exhausted: the generator
// chain is closed and later pulls report exhaustion. It returns the error
// from closing the generator, if any.
func (s *Sequence[T]) Return() error {
	return s.finish(nil, outcomeReturned)
}

// Close is Return. It makes *Sequence[T] an Iterator[T].
func (s *Sequence[T]) Close() error {
	return s.Return()
}

// finish records the terminal condition once and closes the generator.
func (s *Sequence[T]) finish(err error, outcome string) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil
	}
	s.err = err
	s.closed.Store(true)
	s.mu.Unlock()

	closeErr := s.gen.Close()

	if log := logger.Get(component); log.DebugEnabled() {
		fields := logger.DurationFields("sequence", time.Since(s.created))
		fields[logger.FieldSequenceID] = s.id
		fields[logger.FieldOutcome] = outcome
		if s.upstream != nil {
			fields[logger.FieldUpstreamID] = s.upstream.ID()
		}
		if err != nil {
			fields = logger.MergeWithError(fields, err)
		}
		log.Debug("sequence closed", fields)
	}
	currentMetrics().RecordSequenceClosed(context.Background(), outcome)
	return closeErr
}

func outcomeOf(err error) string {
	if stderrors.Is(err, ErrCancelled) {
		return outcomeCancelled
	}
	return outcomeFailed
}

// Collect drains the sequence into a slice. On failure it returns the values
// gathered before the failure together with the error.
func (s *Sequence[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// Future returns the future of the collected values. The drain starts on the
// first Await or Done and runs at most once; every caller shares its result.
func (s *Sequence[T]) Future() *Future[[]T] {
	s.futureOnce.Do(func() {
		s.future = newFuture(s.Collect)
	})
	return s.future
}

// Await is shorthand for s.Future().Await(ctx).
func (s *Sequence[T]) Await(ctx context.Context) ([]T, error) {
	return s.Future().Await(ctx)
}

func (*Sequence[T]) shape() Shape { return ShapeSequence }
func (*Sequence[T]) mapped(*T)    {}

// --- Sources ---

const component = "flux"

// FromSlice creates a sequence that yields items in order.
func FromSlice[T any](items []T) *Sequence[T] {
	return newSource[T](&sliceIter[T]{items: items}, nil)
}

// Just creates a sequence of the given values.
func Just[T any](values ...T) *Sequence[T] {
	return FromSlice(values)
}

// Empty creates an already exhausted sequence.
func Empty[T any]() *Sequence[T] {
	return FromSlice[T](nil)
}

// Fail creates a sequence whose first pull fails with err.
func Fail[T any](err error) *Sequence[T] {
	return newSource[T](&failIter[T]{err: err}, nil)
}

// FromIterator wraps an existing Iterator as a source. onCancel, when not
// nil, is called instead of injecting a cancellation failure.
func FromIterator[T any](it Iterator[T], onCancel func(reason error)) *Sequence[T] {
	return newSource(it, onCancel)
}

// FromChannel yields values received from ch until it is closed.
func FromChannel[T any](ch <-chan T) *Sequence[T] {
	return newSource[T](&chanIter[T]{ch: ch}, nil)
}

// FromFunc creates a sequence from a generator function. fn runs on its own
// goroutine, started by the first pull, and advances one yield per pull.
// yield returns false once the sequence is closed; fn should then return.
// The ctx passed to fn is cancelled on close. With OnCancel the hook
// replaces the injected cancellation failure.
func FromFunc[T any](fn func(ctx context.Context, yield func(T) bool) error, opts ...SourceOption) *Sequence[T] {
	cfg := newSourceConfig(opts)
	return newSource[T](newFuncIter(fn, nil), cfg.onCancel)
}
