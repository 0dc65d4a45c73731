package flux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/flux/errors"
	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/observability"
	"github.com/kbukum/flux/resilience"
)

// Shape identifies what a FlatMap mapper returned.
type Shape int

const (
	ShapeList Shape = iota + 1
	ShapeFuture
	ShapeSequence
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeFuture:
		return "future"
	case ShapeSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Mapped is a FlatMap mapper result: a List, a *Future or a *Sequence.
// A nil Mapped counts as an empty List.
type Mapped[O any] interface {
	shape() Shape
	mapped(*O)
}

// List is a fixed list of mapped values.
type List[O any] []O

func (List[O]) shape() Shape { return ShapeList }
func (List[O]) mapped(*O)    {}

// FlatMap maps every value of s to a Mapped result and flattens the results
// in upstream order.
//
// The shape returned for the first value selects the strategy, and every
// later value must map to the same shape or the sequence fails with
// ErrMixedShape at that position.
//
//   - List: values are flattened synchronously, one upstream pull at a time.
//   - *Future and *Sequence: upstream values are pulled eagerly and mapped
//     concurrently, with at most WithConcurrency unresolved invocations.
//     Output is still emitted in upstream order; items of a nested sequence
//     are streamed as they arrive once all earlier positions are drained. A
//     failure at position n surfaces after everything from positions before n.
func FlatMap[T, O any](s *Sequence[T], mapper func(context.Context, T) (Mapped[O], error), opts ...FlatMapOption) *Sequence[O] {
	cfg := newFlatMapConfig(opts)
	it := &mergeIter[T, O]{
		source:  s,
		mapper:  mapper,
		cfg:     cfg,
		invalid: cfg.validate(),
		log:     logger.Get(component),
		stop:    make(chan struct{}),
	}
	return derive[O](it, s)
}

// FlatMapSlice flattens the slices returned by fn.
func FlatMapSlice[T, O any](s *Sequence[T], fn func(context.Context, T) ([]O, error), opts ...FlatMapOption) *Sequence[O] {
	return FlatMap(s, func(ctx context.Context, v T) (Mapped[O], error) {
		out, err := fn(ctx, v)
		if err != nil {
			return nil, err
		}
		return List[O](out), nil
	}, opts...)
}

// FlatMapAsync runs fn for each value on its own goroutine and emits the
// results in upstream order.
func FlatMapAsync[T, O any](s *Sequence[T], fn func(context.Context, T) (O, error), opts ...FlatMapOption) *Sequence[O] {
	return FlatMap(s, func(ctx context.Context, v T) (Mapped[O], error) {
		return Go(ctx, func(ctx context.Context) (O, error) {
			return fn(ctx, v)
		}), nil
	}, opts...)
}

// FlatMapSeq concatenates the sequences returned by fn, draining them
// concurrently.
func FlatMapSeq[T, O any](s *Sequence[T], fn func(context.Context, T) (*Sequence[O], error), opts ...FlatMapOption) *Sequence[O] {
	return FlatMap(s, func(ctx context.Context, v T) (Mapped[O], error) {
		seq, err := fn(ctx, v)
		if err != nil {
			return nil, err
		}
		return seq, nil
	}, opts...)
}

func shapeOf[O any](m Mapped[O]) Shape {
	if m == nil {
		return ShapeList
	}
	return m.shape()
}

type mergeIter[T, O any] struct {
	source  *Sequence[T]
	mapper  func(context.Context, T) (Mapped[O], error)
	cfg     flatMapConfig
	invalid error
	log     *logger.Logger

	branch Shape

	// list branch
	index int
	list  []O

	// future and sequence branches
	queue    *slotQueue[O]
	cur      *slot[O]
	bulkhead *resilience.Bulkhead

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group
	stop   chan struct{}
}

func (it *mergeIter[T, O]) Next(ctx context.Context) (O, bool, error) {
	var zero O
	if it.invalid != nil {
		return zero, false, it.invalid
	}
	switch it.branch {
	case 0:
		return it.first(ctx)
	case ShapeList:
		return it.nextList(ctx)
	default:
		return it.nextOrdered(ctx)
	}
}

// first maps the first upstream value and selects the branch from its shape.
func (it *mergeIter[T, O]) first(ctx context.Context) (O, bool, error) {
	var zero O
	in, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}

	// Concurrent work outlives the pull that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		cancel()
		return zero, false, nil
	}
	it.cancel = cancel
	it.group = &errgroup.Group{}
	if it.cfg.concurrency > 0 {
		it.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          it.cfg.name,
			MaxConcurrent: it.cfg.concurrency,
			MaxWait:       resilience.WaitForever,
			OnAcquire:     it.onAcquire,
		})
	}
	it.mu.Unlock()

	if err := it.acquire(runCtx); err != nil {
		return zero, false, err
	}
	callCtx, end := it.begin(runCtx, 0, true)
	mapped, err := it.call(callCtx, in)
	if err != nil {
		discard[O](mapped)
		end(err)
		return zero, false, err
	}

	it.branch = shapeOf[O](mapped)
	if it.log.DebugEnabled() {
		it.log.Debug("flatmap branch selected", logger.Fields(
			logger.FieldOperator, it.cfg.name,
			logger.FieldUpstreamID, it.source.ID(),
			logger.FieldBranch, it.branch.String(),
			logger.FieldConcurrency, it.cfg.concurrency,
		))
	}

	if it.branch == ShapeList {
		end(nil)
		cancel()
		it.list = listOf[O](mapped)
		it.index = 1
		return it.nextList(ctx)
	}

	it.queue = newSlotQueue[O]()
	it.resolve(runCtx, it.queue.add(0), mapped, end)
	it.group.Go(func() error {
		it.launch(runCtx)
		return nil
	})
	return it.nextOrdered(ctx)
}

func listOf[O any](m Mapped[O]) []O {
	if l, ok := m.(List[O]); ok {
		return l
	}
	return nil
}

func (it *mergeIter[T, O]) nextList(ctx context.Context) (O, bool, error) {
	var zero O
	for {
		if len(it.list) > 0 {
			v := it.list[0]
			it.list = it.list[1:]
			return v, true, nil
		}
		in, ok, err := it.source.Next(ctx)
		if err != nil || !ok {
			return zero, false, err
		}
		index := it.index
		it.index++

		callCtx, end := it.begin(ctx, index, false)
		mapped, err := it.call(callCtx, in)
		if err == nil {
			if got := shapeOf[O](mapped); got != ShapeList {
				err = mixedShapeError(index, ShapeList, got)
			}
		}
		if err != nil {
			discard[O](mapped)
			end(err)
			return zero, false, err
		}
		end(nil)
		it.list = listOf[O](mapped)
	}
}

// launch pulls upstream values from index 1 on and starts their mapper
// invocations, blocking while the bulkhead is full.
func (it *mergeIter[T, O]) launch(ctx context.Context) {
	for index := 1; ; index++ {
		if err := it.acquire(ctx); err != nil {
			return
		}
		in, ok, err := it.source.Next(ctx)
		if err != nil || !ok {
			it.release()
			it.queue.end(err)
			return
		}

		sl := it.queue.add(index)
		callCtx, end := it.begin(ctx, index, true)
		mapped, err := it.call(callCtx, in)
		if err == nil {
			if got := shapeOf[O](mapped); got != it.branch {
				err = mixedShapeError(index, it.branch, got)
			}
		}
		if err != nil {
			// Nothing after a failed position is ever emitted.
			discard[O](mapped)
			end(err)
			sl.finish(err)
			it.queue.end(nil)
			return
		}
		it.resolve(ctx, sl, mapped, end)
	}
}

// resolve waits for a future or drains a nested sequence into sl on a
// goroutine owned by the merge.
func (it *mergeIter[T, O]) resolve(ctx context.Context, sl *slot[O], mapped Mapped[O], end func(error)) {
	var run func() error
	switch m := mapped.(type) {
	case *Future[O]:
		run = func() error {
			if m == nil {
				return nil
			}
			v, err := m.Await(ctx)
			if err == nil {
				sl.push(v)
			}
			return err
		}
	case *Sequence[O]:
		run = func() error {
			if m == nil {
				return nil
			}
			return drainInto(ctx, m, sl)
		}
	default:
		err := errors.Internal(fmt.Errorf("unsupported mapper result %T", mapped))
		end(err)
		sl.finish(err)
		return
	}
	it.group.Go(func() error {
		err := guard(run)
		end(err)
		sl.finish(err)
		return nil
	})
}

// call runs the mapper, turning a panic into an INTERNAL failure.
func (it *mergeIter[T, O]) call(ctx context.Context, in T) (m Mapped[O], err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, panicError("mapper", r)
		}
	}()
	return it.mapper(ctx, in)
}

// guard runs fn, turning a panic into an INTERNAL failure.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("mapper", r)
		}
	}()
	return fn()
}

// discard releases a mapper result that will never be drained. A future is
// left to its context, which end cancels.
func discard[O any](m Mapped[O]) {
	if s, ok := m.(*Sequence[O]); ok && s != nil {
		_ = s.Close()
	}
}

func drainInto[O any](ctx context.Context, s *Sequence[O], sl *slot[O]) error {
	defer s.Close()
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sl.push(v)
	}
}

func (it *mergeIter[T, O]) nextOrdered(ctx context.Context) (O, bool, error) {
	var zero O
	for {
		if it.cur == nil {
			sl, ok, err := it.queue.next(ctx, it.stop)
			if err != nil || !ok {
				return zero, false, err
			}
			it.cur = sl
		}
		v, ok, err := it.cur.next(ctx, it.stop)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return v, true, nil
		}
		it.cur = nil
	}
}

func (it *mergeIter[T, O]) acquire(ctx context.Context) error {
	if it.bulkhead == nil {
		return ctx.Err()
	}
	return it.bulkhead.Acquire(ctx)
}

func (it *mergeIter[T, O]) release() {
	if it.bulkhead != nil {
		it.bulkhead.Release()
	}
}

func (it *mergeIter[T, O]) onAcquire(name string) {
	if it.bulkhead.Available() == 0 && it.log.DebugEnabled() {
		it.log.Debug("flatmap saturated", logger.Fields(
			logger.FieldOperator, name,
			logger.FieldConcurrency, it.cfg.concurrency,
		))
	}
}

// begin opens the span and metrics of one mapper invocation. The returned
// func ends them once, and releases the bulkhead slot when held is set.
func (it *mergeIter[T, O]) begin(ctx context.Context, index int, held bool) (context.Context, func(error)) {
	spanCtx, span := observability.StartSpan(ctx, observability.SpanFlatMapItem, trace.WithAttributes(
		attribute.String(observability.AttrMergeName, it.cfg.name),
		attribute.Int(observability.AttrMergeIndex, index),
	))
	callCtx, cancel := context.WithCancel(spanCtx)
	it.cfg.metrics.RecordMapperStart(ctx, it.cfg.name)
	start := time.Now()

	var once sync.Once
	return callCtx, func(err error) {
		once.Do(func() {
			cancel()
			status := "ok"
			if err != nil {
				status = "error"
				observability.SetSpanError(callCtx, err)
			}
			span.End()
			it.cfg.metrics.RecordMapperEnd(ctx, it.cfg.name, status, time.Since(start))
			if held {
				it.release()
			}
		})
	}
}

// Close stops the launcher, waits for in-flight work to unwind and closes
// the upstream.
func (it *mergeIter[T, O]) Close() error {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil
	}
	it.closed = true
	close(it.stop)
	cancel, group, bulkhead := it.cancel, it.group, it.bulkhead
	it.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
	if bulkhead != nil && it.log.DebugEnabled() {
		it.log.Debug("flatmap closed", logger.Fields(
			logger.FieldOperator, it.cfg.name,
			logger.FieldConcurrency, it.cfg.concurrency,
			"peak_in_flight", bulkhead.Peak(),
		))
	}
	return it.source.Close()
}

// --- ordered slots ---

// slot collects the output of one upstream position.
type slot[O any] struct {
	index int

	mu   sync.Mutex
	buf  []O
	done bool
	err  error
	wake chan struct{}
}

func (s *slot[O]) push(v O) {
	s.mu.Lock()
	s.buf = append(s.buf, v)
	s.mu.Unlock()
	signal(s.wake)
}

func (s *slot[O]) finish(err error) {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.err = err
	}
	s.mu.Unlock()
	signal(s.wake)
}

// next returns the next buffered value, waiting for one if the slot is not
// finished. It returns (zero, false, err) once drained and finished.
func (s *slot[O]) next(ctx context.Context, stop <-chan struct{}) (O, bool, error) {
	var zero O
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf[0] = zero
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return v, true, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			return zero, false, err
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-stop:
			return zero, false, nil
		}
	}
}

// slotQueue hands slots to the consumer in upstream order.
type slotQueue[O any] struct {
	mu    sync.Mutex
	slots []*slot[O]
	ended bool
	err   error
	wake  chan struct{}
}

func newSlotQueue[O any]() *slotQueue[O] {
	return &slotQueue[O]{wake: make(chan struct{}, 1)}
}

func (q *slotQueue[O]) add(index int) *slot[O] {
	s := &slot[O]{index: index, wake: make(chan struct{}, 1)}
	q.mu.Lock()
	q.slots = append(q.slots, s)
	q.mu.Unlock()
	signal(q.wake)
	return s
}

// end marks that no more slots follow. err, if any, surfaces after the
// existing slots are drained.
func (q *slotQueue[O]) end(err error) {
	q.mu.Lock()
	if !q.ended {
		q.ended = true
		q.err = err
	}
	q.mu.Unlock()
	signal(q.wake)
}

func (q *slotQueue[O]) next(ctx context.Context, stop <-chan struct{}) (*slot[O], bool, error) {
	for {
		q.mu.Lock()
		if len(q.slots) > 0 {
			s := q.slots[0]
			q.slots[0] = nil
			q.slots = q.slots[1:]
			q.mu.Unlock()
			return s, true, nil
		}
		if q.ended {
			err := q.err
			q.mu.Unlock()
			return nil, false, err
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-stop:
			return nil, false, nil
		}
	}
}

// signal wakes the single waiter without blocking.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
