// Package resolve maps a provider name from the tabular dataset onto a
// provider identity in the tile service's id scheme.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
)

const minTokenLen = 3

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		inc llc corp corporation company ltd holdings group
		communications communication wireless broadband services service
		telecom telecommunications telephone internet networks network
		cooperative coop technologies systems dba the and`) {
		stopWords[w] = struct{}{}
	}
}

var (
	parenRe    = regexp.MustCompile(`\([^)]*\)`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Normalize lowercases name, drops parenthesised segments and
// non-alphanumerics, and collapses whitespace.
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = parenRe.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the meaningful tokens of a name, in order.
func Tokens(name string) []string {
	fields := strings.Fields(Normalize(name))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLen {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Queries builds the search strings tried in order: the first two tokens,
// then the first token alone.
func Queries(tokens []string) []string {
	switch len(tokens) {
	case 0:
		return nil
	case 1:
		return []string{tokens[0]}
	default:
		return []string{tokens[0] + " " + tokens[1], tokens[0]}
	}
}

// Score counts how many of want appear among the hit name's tokens.
func Score(want []string, hitName string) int {
	have := map[string]struct{}{}
	for _, t := range Tokens(hitName) {
		have[t] = struct{}{}
	}
	n := 0
	for _, t := range want {
		if _, ok := have[t]; ok {
			n++
		}
	}
	return n
}

type Searcher interface {
	SearchProviders(ctx context.Context, query string, page int) ([]model.ProviderIdentity, error)
}

// decision is the cached outcome, including "no match".
type decision struct {
	Found    bool                   `json:"found"`
	Identity model.ProviderIdentity `json:"identity"`
}

type Resolver struct {
	search Searcher
	cache  cache.Interface
	ttl    time.Duration
	log    *slog.Logger
}

// New builds a resolver; ttl <= 0 keeps decisions forever.
func New(s Searcher, c cache.Interface, ttl time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{search: s, cache: c, ttl: ttl, log: log}
}

// Resolve returns the best primary-scheme identity for name. The boolean is
// false when nothing scored high enough. Decisions are cached per normalized
// name; search failures are returned and not cached.
func (r *Resolver) Resolve(ctx context.Context, name string) (model.ProviderIdentity, bool, error) {
	norm := Normalize(name)
	if norm == "" {
		return model.ProviderIdentity{}, false, nil
	}
	key := keys.Resolve(norm)
	if d, ok, err := cache.GetJSON[decision](ctx, r.cache, cache.ClassNames, key); err != nil {
		r.log.WarnContext(ctx, "resolve cache read failed", "key", key, "err", err)
	} else if ok {
		return d.Identity, d.Found, nil
	}

	d, err := r.decide(ctx, name)
	if err != nil {
		return model.ProviderIdentity{}, false, err
	}
	if err := cache.SetJSON(ctx, r.cache, key, d, r.ttl); err != nil {
		r.log.WarnContext(ctx, "resolve cache write failed", "key", key, "err", err)
	}
	r.log.DebugContext(ctx, "name resolved", "name", name, "found", d.Found, "id", d.Identity.ID)
	return d.Identity, d.Found, nil
}

func (r *Resolver) decide(ctx context.Context, name string) (decision, error) {
	tokens := Tokens(name)
	var (
		hits []model.ProviderIdentity
		errs []error
	)
	for _, q := range Queries(tokens) {
		rows, err := r.search.SearchProviders(ctx, q, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(rows) > 0 {
			hits = rows
			break
		}
	}
	if len(hits) == 0 && len(errs) > 0 {
		// a failed search is not evidence of "no match"
		return decision{}, errors.Join(errs...)
	}

	best, bestScore := -1, 0
	for i, h := range hits {
		if s := Score(tokens, h.Name); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < min(2, len(tokens)) {
		return decision{}, nil
	}
	id := hits[best]
	id.Scheme = model.SchemePrimary
	return decision{Found: true, Identity: id}, nil
}
