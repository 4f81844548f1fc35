package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	obs "github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
)

// DefaultTrackedProviders bounds the per-provider sequence memory.
const DefaultTrackedProviders = 4096

// Runner applies events to a cache, skipping replays of older sequences.
type Runner struct {
	cache    cache.Interface
	lastSeq  *lru.Cache[string, uint64]
	dataDate string
	log      *slog.Logger
}

// NewRunner builds a runner. dataDate selects the tabular entries to drop;
// empty skips them.
func NewRunner(c cache.Interface, tracked int, dataDate string, log *slog.Logger) (*Runner, error) {
	if tracked <= 0 {
		tracked = DefaultTrackedProviders
	}
	seen, err := lru.New[string, uint64](tracked)
	if err != nil {
		return nil, fmt.Errorf("sequence cache: %w", err)
	}
	return &Runner{cache: c, lastSeq: seen, dataDate: dataDate, log: log}, nil
}

// Apply validates ev and deletes the affected keys. It returns the number of
// keys deleted; a stale event returns 0 and no error.
func (r *Runner) Apply(ctx context.Context, ev Event) (int, error) {
	start := time.Now()
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		return 0, fmt.Errorf("invalid event: %w", err)
	}
	provider := strings.TrimSpace(ev.ProviderID)
	if ev.Seq != 0 {
		if last, ok := r.lastSeq.Get(provider); ok && ev.Seq <= last {
			obs.IncInvalidation("stale")
			r.log.DebugContext(ctx, "stale invalidation skipped", "provider", provider, "seq", ev.Seq, "last", last)
			return 0, nil
		}
	}

	del := r.Keys(provider, ev.TechCodes)
	if err := r.cache.Del(ctx, del...); err != nil {
		obs.IncInvalidation("error")
		return 0, fmt.Errorf("delete %d keys: %w", len(del), err)
	}
	// recorded only after a successful delete
	if ev.Seq != 0 {
		r.lastSeq.Add(provider, ev.Seq)
	}
	obs.IncInvalidation("applied")
	r.log.InfoContext(ctx, "invalidated provider",
		"provider", provider, "op", ev.Op, "seq", ev.Seq, "keys", len(del), "dur", time.Since(start))
	return len(del), nil
}

// Keys lists the cache entries derived from a provider's upstream data.
// No codes means every catalog code.
func (r *Runner) Keys(providerID string, codes []string) []string {
	if len(codes) == 0 {
		for _, t := range techs.All() {
			codes = append(codes, t.Code)
		}
	}
	out := []string{keys.Technologies(providerID)}
	if r.dataDate != "" {
		out = append(out, keys.Tabular("techs", providerID, r.dataDate))
	}
	seen := map[string]struct{}{}
	for _, c := range codes {
		c = techs.Normalize(c)
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, keys.Coverage(providerID, c))
		if r.dataDate != "" {
			out = append(out,
				keys.Tabular("county", providerID, c, r.dataDate),
				keys.Tabular("state", providerID, c, r.dataDate))
		}
	}
	return out
}
