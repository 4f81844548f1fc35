package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/app"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/config"
	"github.com/mohammed-shakir/broadband-coverage/internal/invalidation"
	"github.com/mohammed-shakir/broadband-coverage/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
	"github.com/mohammed-shakir/broadband-coverage/internal/service"
)

const usage = `usage: coverage-cli <command> [flags]

commands:
  search      -q NAME [-limit N]             search providers by name
  techs       -provider ID [-name NAME]      resolve a provider's technologies
  coverage    -provider ID -tech CODE        build coverage (summary, or -geojson for the collection)
  invalidate  -provider ID [-tech a,b] [-seq N] [-op refresh|delete]
                                             publish an invalidation event to Kafka
`

var errUsage = errors.New("bad usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Service:   "coverage-cli",
		Component: cmd,
	}, stderr)
	log := logger.NewSlog(&zl)

	if cmd == "invalidate" {
		return invalidate(rest, cfg, stdout, stderr)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	switch cmd {
	case "search":
		return search(ctx, a.Service, rest, stdout, stderr)
	case "techs":
		return technologies(ctx, a.Service, rest, stdout, stderr)
	case "coverage":
		return coverage(ctx, a.Service, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return errUsage
	}
}

func newFlags(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func search(ctx context.Context, svc *service.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("search", stderr)
	q := fs.String("q", "", "provider name")
	limit := fs.Int("limit", 20, "max results")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	rows, err := svc.SearchProviderByName(ctx, *q, *limit)
	if err != nil {
		return err
	}
	return writeJSON(stdout, rows)
}

func technologies(ctx context.Context, svc *service.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("techs", stderr)
	id := fs.String("provider", "", "provider id")
	name := fs.String("name", "", "provider name, used when the id has no hex coverage")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	res, err := svc.ResolveProviderTechnologies(ctx, *id, *name)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func coverage(ctx context.Context, svc *service.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("coverage", stderr)
	id := fs.String("provider", "", "provider id")
	tech := fs.String("tech", "", "technology code")
	full := fs.Bool("geojson", false, "print the feature collection instead of a summary")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	res, err := svc.GetCoverage(ctx, *id, *tech)
	if err != nil {
		return err
	}
	if *full {
		return writeJSON(stdout, res.Collection)
	}
	return writeJSON(stdout, map[string]any{
		"provider_id": res.ProviderID,
		"tech_code":   res.TechCode,
		"source":      res.Source,
		"meta":        res.Meta,
		"features":    len(res.Collection.Features),
	})
}

func invalidate(args []string, cfg config.Config, stdout, stderr io.Writer) error {
	fs := newFlags("invalidate", stderr)
	id := fs.String("provider", "", "provider id")
	codes := fs.String("tech", "", "comma-separated technology codes; empty means all")
	seq := fs.Uint64("seq", 0, "per-provider sequence number; 0 disables replay protection")
	op := fs.String("op", invalidation.OpRefresh, "refresh or delete")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	ev := invalidation.Event{
		Version:    1,
		Op:         *op,
		ProviderID: *id,
		Seq:        *seq,
		TS:         time.Now().UTC(),
		Source:     "coverage-cli",
	}
	for c := range strings.SplitSeq(*codes, ",") {
		if c = strings.TrimSpace(c); c != "" {
			ev.TechCodes = append(ev.TechCodes, c)
		}
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("event: %w", err)
	}

	kc := kafkaconsumer.NewConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID)
	pub, err := kafkaconsumer.NewPublisher(kc.Brokers, kc.Topic)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	part, off, err := pub.Publish(ev)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"topic": kc.Topic, "partition": part, "offset": off})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
