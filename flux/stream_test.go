package flux

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
)

type fakeReader struct {
	items    []string
	failAt   int
	failErr  error
	releases atomic.Int32
	pos      int
}

func (r *fakeReader) Read(_ context.Context) (string, bool, error) {
	if r.failErr != nil && r.pos == r.failAt {
		return "", false, r.failErr
	}
	if r.pos >= len(r.items) {
		return "", false, nil
	}
	v := r.items[r.pos]
	r.pos++
	return v, true, nil
}

func (r *fakeReader) Release() error {
	r.releases.Add(1)
	return nil
}

func streamOf(r *fakeReader, acquired *atomic.Int32) *Sequence[string] {
	return FromStream(func(context.Context) (Reader[string], error) {
		acquired.Add(1)
		return r, nil
	})
}

func TestFromStream_ReleasedAtEnd(t *testing.T) {
	r := &fakeReader{items: []string{"a", "b"}}
	var acquired atomic.Int32
	got, err := streamOf(r, &acquired).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("got %v", got)
	}
	if acquired.Load() != 1 || r.releases.Load() != 1 {
		t.Errorf("acquired %d released %d, want 1/1", acquired.Load(), r.releases.Load())
	}
}

func TestFromStream_ReleasedOnFailure(t *testing.T) {
	boom := errors.New("read failed")
	r := &fakeReader{items: []string{"a", "b"}, failAt: 1, failErr: boom}
	var acquired atomic.Int32
	got, err := streamOf(r, &acquired).Collect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected read failure, got %v", err)
	}
	if !slices.Equal(got, []string{"a"}) {
		t.Errorf("got %v", got)
	}
	if r.releases.Load() != 1 {
		t.Errorf("expected one release, got %d", r.releases.Load())
	}
}

func TestFromStream_ReleasedOnEarlyCancel(t *testing.T) {
	r := &fakeReader{items: []string{"a", "b", "c"}}
	var acquired atomic.Int32
	got, err := streamOf(r, &acquired).Take(1).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a"}) {
		t.Errorf("got %v", got)
	}
	if r.releases.Load() != 1 {
		t.Errorf("expected one release, got %d", r.releases.Load())
	}
}

func TestFromStream_NotAcquiredUntilPulled(t *testing.T) {
	r := &fakeReader{items: []string{"a"}}
	var acquired atomic.Int32
	s := streamOf(r, &acquired)
	if err := s.Return(); err != nil {
		t.Fatal(err)
	}
	if acquired.Load() != 0 || r.releases.Load() != 0 {
		t.Errorf("acquired %d released %d, want 0/0", acquired.Load(), r.releases.Load())
	}
}

func TestFromStream_AcquireError(t *testing.T) {
	boom := errors.New("no stream")
	s := FromStream(func(context.Context) (Reader[int], error) { return nil, boom })
	if _, _, err := s.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected acquire error, got %v", err)
	}
}

func TestFromStream_ReleaseErrorAtEnd(t *testing.T) {
	boom := errors.New("release failed")
	s := FromStream(func(context.Context) (Reader[int], error) {
		return ReaderFunc[int]{
			ReadFn:    func(context.Context) (int, bool, error) { return 0, false, nil },
			ReleaseFn: func() error { return boom },
		}, nil
	})
	if _, _, err := s.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected release error, got %v", err)
	}
}

func TestFromStream_OnCancelEndsStream(t *testing.T) {
	var cancelled atomic.Bool
	var releases atomic.Int32
	n := 0
	s := FromStream(func(context.Context) (Reader[int], error) {
		return ReaderFunc[int]{
			ReadFn: func(context.Context) (int, bool, error) {
				if cancelled.Load() {
					return 0, false, nil
				}
				n++
				return n, true, nil
			},
			ReleaseFn: func() error {
				releases.Add(1)
				return nil
			},
		}, nil
	}, OnCancel(func(error) { cancelled.Store(true) }))

	ctx := context.Background()
	if v, ok, err := s.Next(ctx); !ok || err != nil || v != 1 {
		t.Fatalf("expected 1, got %d ok=%v err=%v", v, ok, err)
	}
	s.Cancel(errors.New("enough"))
	if _, ok, err := s.Next(ctx); ok || err != nil {
		t.Fatalf("expected clean exhaustion after cancel, got ok=%v err=%v", ok, err)
	}
	if releases.Load() != 1 {
		t.Errorf("expected one release, got %d", releases.Load())
	}
}
