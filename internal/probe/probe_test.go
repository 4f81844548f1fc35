package probe

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/memory"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
)

type fakeTiles struct {
	calls atomic.Int32
	fn    func(tech string, t maptile.Tile) model.FetchOutcome[[]byte]
	// blocks fetches until closed, when set
	gate chan struct{}

	mu       sync.Mutex
	timeouts []time.Duration
}

func (f *fakeTiles) FetchTileWithin(ctx context.Context, providerID, tech string, t maptile.Tile, timeout time.Duration) model.FetchOutcome[[]byte] {
	f.calls.Add(1)
	f.mu.Lock()
	f.timeouts = append(f.timeouts, timeout)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return model.Failed[[]byte](model.Upstream("tiles", "tile", 0, ctx.Err()))
		}
	}
	return f.fn(tech, t)
}

func newProber(f *fakeTiles) (*Prober, *memory.Store) {
	c := memory.New(64)
	return New(f, c, Config{Zoom: DefaultZoom, TTL: time.Hour}, logger.Discard()), c
}

func TestSamples_EightDistinctTilesAtZoom4(t *testing.T) {
	s := Samples(4)
	if len(s) != 8 {
		t.Fatalf("samples=%d want 8: %v", len(s), s)
	}
	for _, tl := range s {
		if tl.Z != 4 {
			t.Fatalf("tile %v not at zoom 4", tl)
		}
	}
	// northeast anchor is tile 4/4/5
	if s[0] != maptile.New(4, 5, 4) {
		t.Fatalf("northeast=%v", s[0])
	}
}

func TestTechnologies_ORAcrossSamplesSortedAndCached(t *testing.T) {
	alaska := maptile.At([2]float64{-149.9, 61.2}, 4)
	f := &fakeTiles{fn: func(tech string, tl maptile.Tile) model.FetchOutcome[[]byte] {
		switch {
		case tech == "70":
			return model.Success([]byte{1})
		case tech == "50" && tl == alaska:
			return model.Success([]byte{1})
		case tech == "40":
			return model.Failed[[]byte](model.Upstream("tiles", "tile", 500, nil))
		}
		return model.Empty[[]byte]()
	}}
	p, c := newProber(f)

	got, err := p.Technologies(context.Background(), "130077")
	if err != nil {
		t.Fatalf("technologies: %v", err)
	}
	if !slices.Equal(got, []string{"50", "70"}) {
		t.Fatalf("got=%v want [50 70]", got)
	}
	if n := f.calls.Load(); n != 40 {
		t.Fatalf("calls=%d want 40 (5 codes x 8 samples)", n)
	}
	for _, d := range f.timeouts {
		if d != DefaultTimeout {
			t.Fatalf("timeout=%v want %v", d, DefaultTimeout)
		}
	}

	again, err := p.Technologies(context.Background(), "130077")
	if err != nil || !slices.Equal(again, got) {
		t.Fatalf("second call=%v err=%v", again, err)
	}
	if n := f.calls.Load(); n != 40 {
		t.Fatalf("second call hit upstream: calls=%d", n)
	}
	if _, ok, _ := c.Get(context.Background(), keys.Technologies("130077")); !ok {
		t.Fatal("non-empty result not cached under techs key")
	}
}

func TestTechnologies_ZeroHitsNotCached(t *testing.T) {
	f := &fakeTiles{fn: func(string, maptile.Tile) model.FetchOutcome[[]byte] {
		return model.Empty[[]byte]()
	}}
	p, c := newProber(f)

	got, err := p.Technologies(context.Background(), "999")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("got=%v err=%v want empty", got, err)
	}
	if _, ok, _ := c.Get(context.Background(), keys.Technologies("999")); ok {
		t.Fatal("empty result must not be cached")
	}
	_, _ = p.Technologies(context.Background(), "999")
	if n := f.calls.Load(); n != 80 {
		t.Fatalf("calls=%d want 80 (re-probed)", n)
	}
}

func TestTechnologies_AllFailedIsUpstreamError(t *testing.T) {
	f := &fakeTiles{fn: func(string, maptile.Tile) model.FetchOutcome[[]byte] {
		return model.Failed[[]byte](model.Upstream("tiles", "tile", 0, context.DeadlineExceeded))
	}}
	p, c := newProber(f)

	_, err := p.Technologies(context.Background(), "1")
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v want upstream", err)
	}
	if _, ok, _ := c.Get(context.Background(), keys.Technologies("1")); ok {
		t.Fatal("failure must not be cached")
	}
}

func TestTechnologies_ConcurrentCallsCollapsed(t *testing.T) {
	f := &fakeTiles{
		gate: make(chan struct{}),
		fn: func(tech string, _ maptile.Tile) model.FetchOutcome[[]byte] {
			if tech == "60" {
				return model.Success([]byte{1})
			}
			return model.Empty[[]byte]()
		},
	}
	p, _ := newProber(f)

	var wg sync.WaitGroup
	results := make([][]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Technologies(context.Background(), "42")
		}(i)
	}
	// let the callers pile up on the in-flight probe
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i, r := range results {
		if !slices.Equal(r, []string{"60"}) {
			t.Fatalf("caller %d got %v", i, r)
		}
	}
	if n := f.calls.Load(); n != 40 {
		t.Fatalf("calls=%d want a single probe of 40", n)
	}
}

func TestTechnologies_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	f := &fakeTiles{
		gate: make(chan struct{}),
		fn: func(tech string, _ maptile.Tile) model.FetchOutcome[[]byte] {
			if tech == "60" {
				return model.Success([]byte{1})
			}
			return model.Empty[[]byte]()
		},
	}
	p, c := newProber(f)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Technologies(ctx, "42")
		firstErr <- err
	}()
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		codes []string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		codes, err := p.Technologies(context.Background(), "42")
		second <- result{codes, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err=%v want canceled", err)
	}
	close(f.gate)

	r := <-second
	if r.err != nil || !slices.Equal(r.codes, []string{"60"}) {
		t.Fatalf("second caller codes=%v err=%v", r.codes, r.err)
	}
	if _, ok, _ := c.Get(context.Background(), keys.Technologies("42")); !ok {
		t.Fatal("shared probe result not cached")
	}
}

func TestTechnologies_EmptyProviderID(t *testing.T) {
	p, _ := newProber(&fakeTiles{})
	if _, err := p.Technologies(context.Background(), ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err=%v", err)
	}
}
