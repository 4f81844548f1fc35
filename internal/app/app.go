// Package app wires configuration into the running components shared by the
// server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/broadband-coverage/internal/api"
	"github.com/mohammed-shakir/broadband-coverage/internal/boundary"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/memory"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/config"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/health"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/httpclient"
	"github.com/mohammed-shakir/broadband-coverage/internal/coverage"
	"github.com/mohammed-shakir/broadband-coverage/internal/invalidation"
	"github.com/mohammed-shakir/broadband-coverage/internal/probe"
	"github.com/mohammed-shakir/broadband-coverage/internal/resolve"
	"github.com/mohammed-shakir/broadband-coverage/internal/service"
	"github.com/mohammed-shakir/broadband-coverage/internal/upstream/bdc"
	"github.com/mohammed-shakir/broadband-coverage/internal/upstream/soql"
)

type App struct {
	Service *service.Service
	API     *api.Handlers
	Cache   cache.Interface
	Runner  *invalidation.Runner
	Checks  []health.Check

	closers []func() error
}

// Build constructs every component from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{}

	store, err := a.openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.Cache = store
	policy := cache.DefaultPolicy().WithOverrides(cfg.Cache.TTLOvr)

	tileHTTP := httpclient.NewOutbound(httpclient.WithHeaders(httpclient.BrowserHeaders(cfg.Tile.BaseURL)))
	plainHTTP := httpclient.NewOutbound()

	up := bdc.New(bdc.Config{
		BaseURL:       cfg.Tile.BaseURL,
		ProcessID:     cfg.Tile.ProcessID,
		TileTimeout:   cfg.Tile.Timeout,
		SearchTimeout: cfg.SearchTimeout,
	}, tileHTTP, log)
	searcher := bdc.NewSearcher(up, store, policy.Providers, log)

	prober := probe.New(up, store, probe.Config{
		Zoom:    maptile.Zoom(cfg.Tile.ProbeZoom),
		Timeout: cfg.ProbeTimeout,
		TTL:     policy.Technologies,
	}, log)
	resolver := resolve.New(searcher, store, policy.Names, log)

	tabular := soql.NewCoverage(
		soql.New(cfg.Tabular.URL, cfg.Tabular.AppToken, cfg.Tabular.Timeout, plainHTTP, log),
		store, policy.Tabular, cfg.Tabular.DataDate, log)
	bounds := boundary.NewLoader(cfg.Boundary.Path, cfg.Boundary.URL, plainHTTP, log)

	agg := coverage.New(up, tabular, bounds, store, coverage.Config{
		Zoom:        maptile.Zoom(cfg.Tile.GridZoom),
		TileTimeout: cfg.Tile.Timeout,
		Workers:     cfg.Tile.Workers,
		County:      cfg.Tabular.County,
		TTL:         policy.Coverage,
		DataDate:    cfg.Tile.DataDate,
		Precision:   cfg.DedupePrecision,
	}, log)

	a.Service = service.New(service.Deps{
		Prober:   prober,
		Resolver: resolver,
		Searcher: searcher,
		Tabular:  tabular,
		Coverage: agg,
		Tiles:    up,
		Log:      log,
	})
	a.API = api.New(a.Service, log)

	runner, err := invalidation.NewRunner(store, invalidation.DefaultTrackedProviders, cfg.Tabular.DataDate, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Runner = runner

	log.Info("components ready",
		"cache", cfg.Cache.Backend, "grid_tiles", agg.GridSize(),
		"probe_zoom", cfg.Tile.ProbeZoom, "tile_base", cfg.Tile.BaseURL)
	return a, nil
}

func (a *App) openCache(ctx context.Context, cfg config.CacheCfg) (cache.Interface, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(cfg.Size), nil
	case "redis":
		rc, err := redisstore.New(ctx, cfg.RedisAddr, cfg.OpTimeout)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		a.Checks = append(a.Checks, health.Check{Name: "redis", Fn: rc.Ping})
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
