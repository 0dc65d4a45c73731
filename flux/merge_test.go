package flux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	fluxerrors "github.com/kbukum/flux/errors"
	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/observability"
)

func TestFlatMap_ListBranch(t *testing.T) {
	out := FlatMapSlice(Just(1, 2, 3), func(_ context.Context, n int) ([]int, error) {
		return []int{n * 10, n*10 + 1}, nil
	})
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{10, 11, 20, 21, 30, 31}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlatMap_ListBranchIsLazy(t *testing.T) {
	var mapped atomic.Int32
	out := FlatMapSlice(Just(1, 2, 3), func(_ context.Context, n int) ([]int, error) {
		mapped.Add(1)
		return []int{n, n}, nil
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, _, err := out.Next(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if mapped.Load() != 1 {
		t.Errorf("expected one mapper call after two pulls, got %d", mapped.Load())
	}
	_ = out.Return()
}

func TestFlatMap_NilAndEmptyListsAreSkipped(t *testing.T) {
	out := FlatMap(Just(1, 2, 3), func(_ context.Context, n int) (Mapped[int], error) {
		switch n {
		case 1:
			return nil, nil
		case 2:
			return List[int]{}, nil
		}
		return List[int]{n}, nil
	})
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{3}) {
		t.Errorf("got %v, want [3]", got)
	}
}

func TestFlatMapAsync_PreservesUpstreamOrder(t *testing.T) {
	delays := map[int]time.Duration{1: 300 * time.Millisecond, 2: 100 * time.Millisecond, 3: 200 * time.Millisecond}
	out := FlatMapAsync(Just(1, 2, 3), func(ctx context.Context, n int) (int, error) {
		if err := sleepCtx(ctx, delays[n]); err != nil {
			return 0, err
		}
		return n * 10, nil
	})
	start := time.Now()
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{10, 20, 30}) {
		t.Errorf("got %v, want [10 20 30]", got)
	}
	// Unlimited concurrency: total time is the slowest item, not the sum.
	if elapsed := time.Since(start); elapsed > 550*time.Millisecond {
		t.Errorf("expected concurrent resolution, took %v", elapsed)
	}
}

func TestFlatMapAsync_ConcurrencyLimit(t *testing.T) {
	var g peakGauge
	out := FlatMapAsync(Just(1, 2, 3, 4, 5), func(ctx context.Context, n int) (int, error) {
		g.enter()
		defer g.leave()
		if err := sleepCtx(ctx, 20*time.Millisecond); err != nil {
			return 0, err
		}
		return n, nil
	}, WithConcurrency(2))
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{1, 2, 3, 4, 5}) {
		t.Errorf("got %v", got)
	}
	if p := g.max(); p != 2 {
		t.Errorf("expected peak concurrency 2, got %d", p)
	}
}

func TestFlatMap_CloseLogsPeakInFlight(t *testing.T) {
	var buf bytes.Buffer
	logger.Register(component, logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, component, &buf))
	defer logger.Register(component, logger.NewDefault(component))

	out := FlatMapAsync(Just(1, 2, 3), func(_ context.Context, n int) (int, error) {
		return n, nil
	}, WithConcurrency(2), WithName("peaks"))
	if _, err := out.Collect(context.Background()); err != nil {
		t.Fatal(err)
	}
	log := buf.String()
	for _, want := range []string{`"message":"flatmap closed"`, `"operator":"peaks"`, `"peak_in_flight":`} {
		if !strings.Contains(log, want) {
			t.Errorf("expected %s in %q", want, log)
		}
	}
}

func TestFlatMapSeq_ConcurrencyLimit(t *testing.T) {
	var g peakGauge
	out := FlatMapSeq(Just(1, 2, 3, 4, 5), func(_ context.Context, n int) (*Sequence[int], error) {
		return FromFunc(func(ctx context.Context, yield func(int) bool) error {
			g.enter()
			defer g.leave()
			if err := sleepCtx(ctx, 20*time.Millisecond); err != nil {
				return err
			}
			yield(n)
			yield(n * 100)
			return nil
		}), nil
	}, WithConcurrency(2))
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{1, 100, 2, 200, 3, 300, 4, 400, 5, 500}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if p := g.max(); p != 2 {
		t.Errorf("expected peak concurrency 2, got %d", p)
	}
}

func TestFlatMapSeq_StreamsInIndexOrder(t *testing.T) {
	out := FlatMapSeq(Just("slow", "fast"), func(_ context.Context, name string) (*Sequence[string], error) {
		return Create(func(ctx context.Context, e Emitter[string]) {
			d := 5 * time.Millisecond
			if name == "slow" {
				d = 40 * time.Millisecond
			}
			for i := 0; i < 2; i++ {
				if sleepCtx(ctx, d) != nil {
					return
				}
				e.Push(fmt.Sprintf("%s-%d", name, i))
			}
			e.Complete()
		}), nil
	})
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"slow-0", "slow-1", "fast-0", "fast-1"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlatMapSeq_EmitsCurrentIndexBeforeItFinishes(t *testing.T) {
	release := make(chan struct{})
	out := FlatMapSeq(Just(1), func(_ context.Context, n int) (*Sequence[int], error) {
		return FromFunc(func(ctx context.Context, yield func(int) bool) error {
			yield(1)
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
			yield(2)
			return nil
		}), nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, ok, err := out.Next(ctx)
	if err != nil || !ok || v != 1 {
		t.Fatalf("expected first item while the nested sequence is still open, got %d ok=%v err=%v", v, ok, err)
	}
	close(release)
	rest, err := out.Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(rest, []int{2}) {
		t.Errorf("got %v, want [2]", rest)
	}
}

func TestFlatMap_ProcessesNewEmissionsWhileMapperRuns(t *testing.T) {
	var rec recorder
	src := FromFunc(func(ctx context.Context, yield func(int) bool) error {
		rec.add("emit-1")
		if !yield(1) {
			return nil
		}
		if err := sleepCtx(ctx, 50*time.Millisecond); err != nil {
			return err
		}
		rec.add("emit-2")
		yield(2)
		return nil
	})
	out := FlatMapAsync(src, func(ctx context.Context, n int) (int, error) {
		rec.add(fmt.Sprintf("start-%d", n))
		if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
			return 0, err
		}
		rec.add(fmt.Sprintf("end-%d", n))
		return n, nil
	})
	got, err := out.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{1, 2}) {
		t.Errorf("got %v", got)
	}
	want := []string{"emit-1", "start-1", "emit-2", "start-2", "end-1", "end-2"}
	if events := rec.list(); !slices.Equal(events, want) {
		t.Errorf("events %v, want %v", events, want)
	}
}

func TestFlatMapAsync_FailureAtNthItem(t *testing.T) {
	boom := errors.New("item 3 failed")
	out := FlatMapAsync(Just(1, 2, 3, 4), func(ctx context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		// Earlier items resolve after the failure.
		if err := sleepCtx(ctx, 30*time.Millisecond); err != nil {
			return 0, err
		}
		return n, nil
	})
	got, err := out.Collect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected item failure, got %v", err)
	}
	if !slices.Equal(got, []int{1, 2}) {
		t.Errorf("expected items before the failure, got %v", got)
	}
}

func TestFlatMap_MapperErrorAtNthItem(t *testing.T) {
	boom := errors.New("mapper failed")
	out := FlatMap(Just(1, 2, 3), func(ctx context.Context, n int) (Mapped[int], error) {
		if n == 2 {
			return nil, boom
		}
		return Resolved(n), nil
	})
	got, err := out.Collect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected mapper failure, got %v", err)
	}
	if !slices.Equal(got, []int{1}) {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestFlatMapSeq_NestedFailure(t *testing.T) {
	boom := errors.New("nested failed")
	out := FlatMapSeq(Just(1, 2, 3), func(_ context.Context, n int) (*Sequence[int], error) {
		if n == 2 {
			return FromFunc(func(ctx context.Context, yield func(int) bool) error {
				yield(20)
				return boom
			}), nil
		}
		return Just(n * 10), nil
	})
	got, err := out.Collect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected nested failure, got %v", err)
	}
	if !slices.Equal(got, []int{10, 20}) {
		t.Errorf("got %v, want [10 20]", got)
	}
}

func TestFlatMap_UpstreamFailureAfterResolvedItems(t *testing.T) {
	boom := errors.New("upstream failed")
	src := FromFunc(func(ctx context.Context, yield func(int) bool) error {
		yield(1)
		yield(2)
		return boom
	})
	out := FlatMapAsync(src, func(ctx context.Context, n int) (int, error) {
		if err := sleepCtx(ctx, 20*time.Millisecond); err != nil {
			return 0, err
		}
		return n, nil
	})
	got, err := out.Collect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if !slices.Equal(got, []int{1, 2}) {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestFlatMap_MixedShapeFails(t *testing.T) {
	out := FlatMap(Just(1, 2, 3), func(_ context.Context, n int) (Mapped[int], error) {
		if n == 2 {
			return List[int]{n}, nil
		}
		return Resolved(n), nil
	})
	got, err := out.Collect(context.Background())
	if !errors.Is(err, ErrMixedShape) {
		t.Fatalf("expected ErrMixedShape, got %v", err)
	}
	if !slices.Equal(got, []int{1}) {
		t.Errorf("got %v, want [1]", got)
	}

	listFirst := FlatMap(Just(1, 2), func(_ context.Context, n int) (Mapped[int], error) {
		if n == 2 {
			return Just(n), nil
		}
		return List[int]{n}, nil
	})
	if _, err := listFirst.Collect(context.Background()); !errors.Is(err, ErrMixedShape) {
		t.Fatalf("expected ErrMixedShape for list branch, got %v", err)
	}
}

// foreignResult satisfies Mapped[int] without being a List, *Future or
// *Sequence.
type foreignResult struct{}

func (foreignResult) shape() Shape { return ShapeFuture }
func (foreignResult) mapped(*int)  {}

func TestFlatMap_UnsupportedResultFails(t *testing.T) {
	out := FlatMap(Just(1, 2, 3), func(_ context.Context, n int) (Mapped[int], error) {
		if n == 2 {
			return foreignResult{}, nil
		}
		return Resolved(n), nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := out.Collect(ctx)
	if !fluxerrors.HasCode(err, fluxerrors.ErrCodeInternal) {
		t.Fatalf("expected INTERNAL failure, got %v", err)
	}
	if !slices.Equal(got, []int{1}) {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestFlatMap_MapperPanicBecomesFailure(t *testing.T) {
	cases := []struct {
		name string
		out  func() *Sequence[int]
	}{
		{"list", func() *Sequence[int] {
			return FlatMapSlice(Just(1, 2, 3), func(_ context.Context, n int) ([]int, error) {
				if n == 2 {
					panic("bad item")
				}
				return []int{n}, nil
			})
		}},
		{"future", func() *Sequence[int] {
			return FlatMap(Just(1, 2, 3), func(_ context.Context, n int) (Mapped[int], error) {
				if n == 2 {
					panic("bad item")
				}
				return Resolved(n), nil
			})
		}},
		{"nested sequence", func() *Sequence[int] {
			return FlatMapSeq(Just(1, 2, 3), func(_ context.Context, n int) (*Sequence[int], error) {
				if n == 2 {
					return FromIterator[int](panickingIter{}, nil), nil
				}
				return Just(n), nil
			})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.out().Collect(context.Background())
			if !fluxerrors.HasCode(err, fluxerrors.ErrCodeInternal) {
				t.Fatalf("expected INTERNAL failure, got %v", err)
			}
			if !slices.Equal(got, []int{1}) {
				t.Errorf("got %v, want [1]", got)
			}
		})
	}
}

type panickingIter struct{}

func (panickingIter) Next(context.Context) (int, bool, error) { panic("nested pull") }
func (panickingIter) Close() error                          { return nil }

func TestFlatMap_MixedShapeClosesDiscardedSequence(t *testing.T) {
	var discarded atomic.Pointer[Sequence[int]]
	out := FlatMap(Just(1, 2), func(_ context.Context, n int) (Mapped[int], error) {
		if n == 2 {
			seq := Just(n)
			discarded.Store(seq)
			return seq, nil
		}
		return Resolved(n), nil
	})
	if _, err := out.Collect(context.Background()); !errors.Is(err, ErrMixedShape) {
		t.Fatalf("expected ErrMixedShape, got %v", err)
	}
	seq := discarded.Load()
	if seq == nil || !seq.Closed() {
		t.Error("expected the rejected sequence to be closed")
	}
}

func TestFlatMap_FailedMapperCancelsItsFuture(t *testing.T) {
	boom := errors.New("mapper failed")
	stopped := make(chan struct{})
	out := FlatMap(Just(1), func(ctx context.Context, n int) (Mapped[int], error) {
		f := Go(ctx, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			close(stopped)
			return 0, ctx.Err()
		})
		return f, boom
	})
	if _, err := out.Collect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected mapper failure, got %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("future started by the failed mapper kept running")
	}
}

func TestFlatMap_InvalidOptions(t *testing.T) {
	out := FlatMapAsync(Just(1), func(_ context.Context, n int) (int, error) { return n, nil }, WithConcurrency(-1))
	_, err := out.Collect(context.Background())
	if !fluxerrors.HasCode(err, fluxerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestFlatMap_TakeTearsDownInflightWork(t *testing.T) {
	var bodyStopped atomic.Bool
	src := FromFunc(func(ctx context.Context, yield func(int) bool) error {
		defer bodyStopped.Store(true)
		for i := 0; ; i++ {
			if !yield(i) {
				return nil
			}
		}
	})
	var running atomic.Int32
	out := FlatMapAsync(src, func(ctx context.Context, n int) (int, error) {
		if n >= 3 {
			running.Add(1)
			defer running.Add(-1)
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return n, nil
	}, WithConcurrency(3))

	got, err := out.Take(3).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("got %v, want [0 1 2]", got)
	}
	if !bodyStopped.Load() {
		t.Error("expected upstream generator stopped once the merge closed")
	}
	waitFor(t, "in-flight mappers cancelled", func() bool { return running.Load() == 0 })
}

func TestFlatMap_ReturnDuringWait(t *testing.T) {
	out := FlatMapAsync(Just(1), func(ctx context.Context, n int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = out.Next(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	if err := out.Return(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pending pull was not released by Return")
	}
}

func TestFlatMap_CancelSurfacesAfterEarlierItems(t *testing.T) {
	var produced int64
	var mu sync.Mutex
	out := FlatMapAsync(counting(&produced, &mu), func(_ context.Context, n int) (int, error) {
		return n, nil
	}, WithConcurrency(1))
	ctx := context.Background()
	if v, _, err := out.Next(ctx); err != nil || v != 0 {
		t.Fatalf("got %d err=%v", v, err)
	}
	out.Cancel(errors.New("stop"))
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		_, _, err = out.Next(ctx)
	}
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled to surface, got %v", err)
	}
}

// FlatMap over random inputs must agree with the eager list equivalent for
// every shape and concurrency.
func TestFlatMap_MatchesListFlatMap(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	ctx := context.Background()
	expand := func(n int, _ int) []int { return lo.Times(n%4, func(i int) int { return n*10 + i }) }

	for round := 0; round < 20; round++ {
		data := lo.Times(r.IntN(30), func(int) int { return r.IntN(50) })
		want := lo.FlatMap(data, expand)
		k := r.IntN(4)

		list, err := FlatMapSlice(FromSlice(data), func(_ context.Context, n int) ([]int, error) {
			return expand(n, 0), nil
		}).Collect(ctx)
		if err != nil {
			t.Fatal(err)
		}
		nested, err := FlatMapSeq(FromSlice(data), func(_ context.Context, n int) (*Sequence[int], error) {
			return FromSlice(expand(n, 0)).DelayElements(time.Duration(n%2) * time.Millisecond), nil
		}, WithConcurrency(k)).Collect(ctx)
		if err != nil {
			t.Fatal(err)
		}
		async, err := FlatMapAsync(FromSlice(data), func(_ context.Context, n int) (int, error) {
			return n * 2, nil
		}, WithConcurrency(k)).Collect(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if !slices.Equal(list, want) || !slices.Equal(nested, want) {
			t.Fatalf("round %d: list %v nested %v, want %v", round, list, nested, want)
		}
		if doubled := lo.Map(data, func(n int, _ int) int { return n * 2 }); !slices.Equal(async, doubled) {
			t.Fatalf("round %d: async %v, want %v", round, async, doubled)
		}
	}
}

func TestFlatMap_RecordsMetricsAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	metrics, err := observability.NewFluxMetrics(mp.Meter("flux-test"))
	if err != nil {
		t.Fatal(err)
	}

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	boom := errors.New("boom")
	out := FlatMapAsync(Just(1, 2, 3), func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n, nil
	}, WithName("double"), WithMetrics(metrics), WithConcurrency(2))
	if _, err := out.Collect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 mapper spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Name != observability.SpanFlatMapItem {
			t.Errorf("unexpected span %q", s.Name)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	if totals[observability.MetricMergeItems] != 3 {
		t.Errorf("expected 3 resolved invocations, got %d", totals[observability.MetricMergeItems])
	}
	if totals[observability.MetricMergeInflight] != 0 {
		t.Errorf("expected nothing in flight, got %d", totals[observability.MetricMergeInflight])
	}
}
