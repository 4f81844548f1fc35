// Package coverage assembles a provider's coverage for one technology,
// preferring hex tiles and falling back to tabular state or county data.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/broadband-coverage/internal/aggregate/geomerge"
	"github.com/mohammed-shakir/broadband-coverage/internal/boundary"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
	"github.com/mohammed-shakir/broadband-coverage/internal/tile"
	"github.com/mohammed-shakir/broadband-coverage/internal/upstream/soql"
)

const (
	DefaultTileTimeout = 15 * time.Second
	DefaultWorkers     = 16
)

type TileFetcher interface {
	FetchTileWithin(ctx context.Context, providerID, tech string, t maptile.Tile, timeout time.Duration) model.FetchOutcome[[]byte]
}

type Tabular interface {
	Units(ctx context.Context, level soql.Level, providerID, techCode string) ([]soql.UnitRow, error)
	DataDate() string
}

type Boundaries interface {
	Get(ctx context.Context) (*boundary.Index, error)
}

type Config struct {
	Zoom        maptile.Zoom
	TileTimeout time.Duration
	Workers     int
	// try county grouping before state grouping
	County   bool
	TTL      time.Duration
	DataDate string
	// decimal places for coordinate dedupe keys
	Precision int
}

type Aggregator struct {
	tiles      TileFetcher
	tabular    Tabular
	boundaries Boundaries
	cache      cache.Interface
	merger     *geomerge.Merger
	cfg        Config
	grid       []maptile.Tile
	log        *slog.Logger
	group      singleflight.Group
}

func New(tiles TileFetcher, tab Tabular, b Boundaries, c cache.Interface, cfg Config, log *slog.Logger) *Aggregator {
	if cfg.TileTimeout <= 0 {
		cfg.TileTimeout = DefaultTileTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Aggregator{
		tiles:      tiles,
		tabular:    tab,
		boundaries: b,
		cache:      c,
		merger:     geomerge.New(cfg.Precision),
		cfg:        cfg,
		grid:       Grid(cfg.Zoom),
		log:        log,
	}
}

// GridSize is the number of tiles fetched by the hex tier.
func (a *Aggregator) GridSize() int { return len(a.grid) }

// Coverage returns the highest-fidelity coverage available. An empty result
// (Source none) is returned only when the tabular tier answered with no
// units; a tabular failure after an empty hex tier is an upstream error.
func (a *Aggregator) Coverage(ctx context.Context, providerID, techCode string) (model.CoverageResult, error) {
	techCode = techs.Normalize(techCode)
	if providerID == "" || techCode == "" {
		return model.CoverageResult{}, model.Invalid("provider id and technology code are required")
	}
	key := keys.Coverage(providerID, techCode)
	if res, ok, err := cache.GetJSON[model.CoverageResult](ctx, a.cache, cache.ClassCoverage, key); err != nil {
		a.log.WarnContext(ctx, "coverage cache read failed", "key", key, "err", err)
	} else if ok {
		return res, nil
	}

	// not tied to the first caller's cancellation; tile and tabular calls carry their own timeouts
	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		res, err := a.build(shared, providerID, techCode)
		if err != nil {
			return nil, err
		}
		if !res.Empty() {
			if err := cache.SetJSON(shared, a.cache, key, res, a.cfg.TTL); err != nil {
				a.log.WarnContext(shared, "coverage cache write failed", "key", key, "err", err)
			}
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return model.CoverageResult{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return model.CoverageResult{}, r.Err
		}
		return r.Val.(model.CoverageResult), nil
	}
}

func (a *Aggregator) build(ctx context.Context, providerID, techCode string) (model.CoverageResult, error) {
	ctx = logger.WithComponent(logger.WithProvider(ctx, providerID, techCode), "coverage")
	start := time.Now()

	hex, hexErr := a.hexTier(ctx, providerID, techCode)
	if hexErr == nil && !hex.Empty() {
		a.done(ctx, hex, start)
		return hex, nil
	}
	if hexErr != nil {
		a.log.WarnContext(ctx, "hex tier unavailable", "err", hexErr)
	}

	tab, tabErr := a.tabularTier(ctx, providerID, techCode)
	if tabErr == nil && !tab.Empty() {
		tab.Meta.TilesRequested = hex.Meta.TilesRequested
		tab.Meta.TilesFailed = hex.Meta.TilesFailed
		a.done(ctx, tab, start)
		return tab, nil
	}
	if tabErr != nil {
		a.log.WarnContext(ctx, "tabular tier unavailable", "err", tabErr)
		if hexErr != nil {
			tabErr = errors.Join(hexErr, tabErr)
		}
		return model.CoverageResult{}, fmt.Errorf("coverage %s/%s: %w", providerID, techCode,
			model.Upstream("tabular", "coverage", 0, tabErr))
	}
	res := model.EmptyCoverage(providerID, techCode, a.cfg.DataDate)
	res.Meta.TilesRequested = hex.Meta.TilesRequested
	res.Meta.TilesFailed = hex.Meta.TilesFailed
	a.done(ctx, res, start)
	return res, nil
}

func (a *Aggregator) done(ctx context.Context, res model.CoverageResult, start time.Time) {
	observability.IncCoverage(string(res.Source))
	a.log.InfoContext(ctx, "coverage built",
		"source", res.Source, "units", res.Meta.UnitCount,
		"tiles", res.Meta.TilesRequested, "tiles_failed", res.Meta.TilesFailed,
		"dur", time.Since(start))
}

type tileResult struct {
	tile    maptile.Tile
	records []model.GeometryRecord
	failed  bool
	err     error
}

// hexTier fetches the whole grid through a bounded worker pool. It errors only
// when every tile failed.
func (a *Aggregator) hexTier(ctx context.Context, providerID, techCode string) (model.CoverageResult, error) {
	res := model.CoverageResult{ProviderID: providerID, TechCode: techCode, Source: model.SourceHex}
	res.Meta.DataDate = a.cfg.DataDate
	res.Meta.TilesRequested = len(a.grid)
	if len(a.grid) == 0 {
		return res, nil
	}

	// results are slotted by grid position so the merge sees tiles in grid
	// order whatever order they finish in
	results := make([]tileResult, len(a.grid))
	jobs := make(chan int, len(a.grid))

	workerN := min(a.cfg.Workers, len(a.grid))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = a.fetch(ctx, providerID, techCode, a.grid[i])
			}
		}()
	}
	for i := range a.grid {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var (
		parts    [][]model.GeometryRecord
		firstErr error
	)
	for _, r := range results {
		if r.failed {
			res.Meta.TilesFailed++
			if firstErr == nil {
				firstErr = r.err
			}
			a.log.DebugContext(ctx, "tile failed", "z", r.tile.Z, "x", r.tile.X, "y", r.tile.Y, "err", r.err)
			continue
		}
		if len(r.records) > 0 {
			parts = append(parts, r.records)
		}
	}

	merged, diag := a.merger.Merge(parts)
	a.log.DebugContext(ctx, "hex tier merged",
		"in", diag.TotalIn, "out", diag.TotalOut,
		"dedup_id", diag.DedupByID, "dedup_coord", diag.DedupByCoord, "dropped", diag.Dropped)

	res.Meta.UnitCount = len(merged)
	res.Collection = geomerge.Collection(merged)
	if len(merged) == 0 && res.Meta.TilesFailed == res.Meta.TilesRequested {
		return res, model.Upstream("tiles", "coverage", 0, firstErr)
	}
	return res, nil
}

func (a *Aggregator) fetch(ctx context.Context, providerID, techCode string, t maptile.Tile) tileResult {
	if err := ctx.Err(); err != nil {
		return tileResult{tile: t, failed: true, err: err}
	}
	out := a.tiles.FetchTileWithin(ctx, providerID, techCode, t, a.cfg.TileTimeout)
	switch {
	case out.Failed():
		return tileResult{tile: t, failed: true, err: out.Err}
	case out.OK():
		return tileResult{tile: t, records: tile.Decode(out.Data, t)}
	default:
		return tileResult{tile: t}
	}
}

// tabularTier tries county rows first when enabled, then state rows. The
// first level with rows wins. If no level had rows and any level failed, the
// failures are returned, so an outage is never reported as "no units".
func (a *Aggregator) tabularTier(ctx context.Context, providerID, techCode string) (model.CoverageResult, error) {
	levels := []soql.Level{soql.LevelState}
	if a.cfg.County {
		levels = []soql.Level{soql.LevelCounty, soql.LevelState}
	}
	var errs []error
	for _, level := range levels {
		rows, err := a.tabular.Units(ctx, level, providerID, techCode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s units: %w", level, err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		ix, err := a.boundaries.Get(ctx)
		if err != nil {
			return model.CoverageResult{}, fmt.Errorf("boundaries for %d %s units: %w", len(rows), level, err)
		}
		return a.tabularResult(providerID, techCode, level, rows, ix), nil
	}
	if len(errs) > 0 {
		return model.CoverageResult{}, errors.Join(errs...)
	}
	return model.EmptyCoverage(providerID, techCode, a.tabular.DataDate()), nil
}

func (a *Aggregator) tabularResult(providerID, techCode string, level soql.Level, rows []soql.UnitRow, ix *boundary.Index) model.CoverageResult {
	lookup, source := ix.State, model.SourceState
	if level == soql.LevelCounty {
		lookup, source = ix.County, model.SourceCounty
	}
	fc := geojson.NewFeatureCollection()
	unmatched := 0
	for _, r := range rows {
		u, ok := lookup(r.FIPS)
		if !ok {
			unmatched++
			continue
		}
		rec := u.Record(string(level), geojson.Properties{"records": r.Records})
		fc.Append(rec.Feature())
	}
	return model.CoverageResult{
		ProviderID: providerID,
		TechCode:   techCode,
		Source:     source,
		Meta: model.CoverageMeta{
			UnitCount: len(rows),
			DataDate:  a.tabular.DataDate(),
			Unmatched: unmatched,
		},
		Collection: fc,
	}
}
