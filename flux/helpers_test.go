package flux

import (
	"context"
	"sync"
	"testing"
	"time"
)

// counting yields 0, 1, 2, ... until closed and counts the values produced.
func counting(produced *int64, mu *sync.Mutex) *Sequence[int] {
	return FromFunc(func(ctx context.Context, yield func(int) bool) error {
		for i := 0; ; i++ {
			mu.Lock()
			*produced++
			mu.Unlock()
			if !yield(i) {
				return nil
			}
		}
	})
}

// recorder is a goroutine-safe event log.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// peakGauge tracks the highest number of concurrent holders.
type peakGauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *peakGauge) enter() {
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()
}

func (g *peakGauge) leave() {
	g.mu.Lock()
	g.current--
	g.mu.Unlock()
}

func (g *peakGauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
