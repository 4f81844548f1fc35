// Package probe discovers which technologies a provider has hex coverage for
// by sampling a handful of low-zoom tiles per technology.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
)

const (
	DefaultZoom    = 4
	DefaultTimeout = 6 * time.Second
	DefaultLimit   = 40
)

// one point per coverage region; the sample tile is whatever contains it.
// At zoom 4 each anchor falls in a different tile.
var anchors = []struct {
	name string
	pt   orb.Point
}{
	{"northeast", orb.Point{-71.06, 42.36}},
	{"southeast", orb.Point{-84.4, 33.7}},
	{"midwest", orb.Point{-93.27, 44.98}},
	{"south_central", orb.Point{-97.7, 30.3}},
	{"mountain", orb.Point{-116.2, 43.6}},
	{"pacific", orb.Point{-118.24, 34.05}},
	{"alaska", orb.Point{-149.9, 61.2}},
	{"hawaii", orb.Point{-157.9, 21.3}},
}

// Samples returns the distinct anchor tiles at zoom, in anchor order.
func Samples(zoom maptile.Zoom) []maptile.Tile {
	out := make([]maptile.Tile, 0, len(anchors))
	seen := map[maptile.Tile]struct{}{}
	for _, a := range anchors {
		t := maptile.At(a.pt, zoom)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

type TileFetcher interface {
	FetchTileWithin(ctx context.Context, providerID, tech string, t maptile.Tile, timeout time.Duration) model.FetchOutcome[[]byte]
}

type Config struct {
	Zoom    maptile.Zoom
	Timeout time.Duration
	// max in-flight tile requests per probe
	Limit int
	TTL   time.Duration
}

type Prober struct {
	up      TileFetcher
	cache   cache.Interface
	cfg     Config
	samples []maptile.Tile
	codes   []string
	log     *slog.Logger
	group   singleflight.Group
}

func New(up TileFetcher, c cache.Interface, cfg Config, log *slog.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Prober{
		up:      up,
		cache:   c,
		cfg:     cfg,
		samples: Samples(cfg.Zoom),
		codes:   techs.ProbeCodes(),
		log:     log,
	}
}

// Technologies returns the probe codes with at least one non-empty sample
// tile, ascending. Non-empty answers are cached; an empty answer is not, so a
// provider whose data lands later is picked up on the next call. If every
// request failed the result is an upstream error rather than "none".
func (p *Prober) Technologies(ctx context.Context, providerID string) ([]string, error) {
	if providerID == "" {
		return nil, model.Invalid("empty provider id")
	}
	key := keys.Technologies(providerID)
	if codes, ok, err := cache.GetJSON[[]string](ctx, p.cache, cache.ClassTechnologies, key); err != nil {
		p.log.WarnContext(ctx, "techs cache read failed", "key", key, "err", err)
	} else if ok {
		return codes, nil
	}

	// not tied to the first caller's cancellation; each fetch carries cfg.Timeout
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan(providerID, func() (any, error) {
		codes, err := p.probe(shared, providerID)
		if err != nil {
			return nil, err
		}
		if len(codes) > 0 {
			if err := cache.SetJSON(shared, p.cache, key, codes, p.cfg.TTL); err != nil {
				p.log.WarnContext(shared, "techs cache write failed", "key", key, "err", err)
			}
		}
		return codes, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]string), nil
	}
}

func (p *Prober) probe(ctx context.Context, providerID string) ([]string, error) {
	ctx = logger.WithComponent(logger.WithProvider(ctx, providerID, ""), "probe")
	start := time.Now()

	var (
		mu       sync.Mutex
		found    = map[string]bool{}
		failed   int
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Limit)
	for _, code := range p.codes {
		for _, t := range p.samples {
			g.Go(func() error {
				out := p.up.FetchTileWithin(gctx, providerID, code, t, p.cfg.Timeout)
				observability.IncProbe(code, out.Kind.String())

				mu.Lock()
				defer mu.Unlock()
				switch {
				case out.OK() && len(out.Data) > 0:
					found[code] = true
				case out.Failed():
					failed++
					if firstErr == nil {
						firstErr = out.Err
					}
				}
				// never abort siblings
				return nil
			})
		}
	}
	_ = g.Wait()

	total := len(p.codes) * len(p.samples)
	codes := make([]string, 0, len(found))
	for c := range found {
		codes = append(codes, c)
	}
	techs.SortCodes(codes)

	p.log.DebugContext(ctx, "probe finished",
		"found", codes, "failed", failed, "requests", total, "dur", time.Since(start))

	if len(codes) == 0 && total > 0 && failed == total {
		return nil, model.Upstream("tiles", "probe", 0, firstErr)
	}
	return codes, nil
}
