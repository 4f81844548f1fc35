package bdc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
)

// MaxPages bounds how far Search walks the paged provider list.
const MaxPages = 3

type searchFunc interface {
	SearchProviders(ctx context.Context, query string, page int) ([]model.ProviderIdentity, error)
}

// Searcher caches provider list pages per (query, page).
type Searcher struct {
	up    searchFunc
	cache cache.Interface
	ttl   time.Duration
	log   *slog.Logger
}

func NewSearcher(up searchFunc, c cache.Interface, ttl time.Duration, log *slog.Logger) *Searcher {
	return &Searcher{up: up, cache: c, ttl: ttl, log: log}
}

// SearchProviders serves one page, from cache when possible. Empty pages are
// cached too; failures are not.
func (s *Searcher) SearchProviders(ctx context.Context, query string, page int) ([]model.ProviderIdentity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.ProviderIdentity{}, nil
	}
	key := keys.Search(strings.ToLower(query), page)
	if rows, ok, err := cache.GetJSON[[]model.ProviderIdentity](ctx, s.cache, cache.ClassProviders, key); err != nil {
		s.log.WarnContext(ctx, "provider cache read failed", "key", key, "err", err)
	} else if ok {
		return rows, nil
	}

	rows, err := s.up.SearchProviders(ctx, query, page)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, rows, s.ttl); err != nil {
		s.log.WarnContext(ctx, "provider cache write failed", "key", key, "err", err)
	}
	return rows, nil
}

// Search collects up to limit distinct providers across at most MaxPages pages.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]model.ProviderIdentity, error) {
	if limit <= 0 {
		limit = 20
	}
	out := make([]model.ProviderIdentity, 0, limit)
	seen := map[string]struct{}{}
	for page := range MaxPages {
		rows, err := s.SearchProviders(ctx, query, page)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("search %q: %w", query, err)
			}
			// keep what earlier pages produced
			s.log.WarnContext(ctx, "provider search page failed", "page", page, "err", err)
			break
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}
