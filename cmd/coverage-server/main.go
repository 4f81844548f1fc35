package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/broadband-coverage/internal/app"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/config"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/server"
	"github.com/mohammed-shakir/broadband-coverage/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
	"github.com/mohammed-shakir/broadband-coverage/internal/metrics"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Service:   "coverage-server",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting coverage server",
		"addr", cfg.Addr,
		"version", Version,
		"tile_base", cfg.Tile.BaseURL,
		"tabular", cfg.Tabular.URL)

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build:   metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
	})
	observability.Init(prov.Registerer(), cfg.Metrics.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	opts := server.Options{Addr: cfg.Addr, Checks: a.Checks}
	if cfg.Metrics.Enabled && !prov.Standalone() {
		opts.MetricsPath = prov.Path()
		opts.Metrics = prov.Handler()
	}
	router := server.Router(opts, appLog, a.API.Mount)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg.Addr, router, appLog) })
	if prov.Standalone() {
		g.Go(func() error { return prov.Serve(gctx, appLog) })
	}
	if cfg.Invalidation.Enabled {
		cons := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID),
			appLog, a.Runner)
		g.Go(func() error { return cons.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
