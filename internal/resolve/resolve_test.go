package resolve

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache/memory"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
)

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]model.ProviderIdentity
	err     error
	queries []string
}

func (f *fakeSearch) SearchProviders(_ context.Context, q string, page int) ([]model.ProviderIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func TestNormalizeAndTokens(t *testing.T) {
	if got := Normalize("  AT&T  Mobility (Legacy)  LLC "); got != "at t mobility llc" {
		t.Fatalf("normalize=%q", got)
	}
	got := Tokens("Charter Communications, Inc. (Spectrum)")
	if !slices.Equal(got, []string{"charter"}) {
		t.Fatalf("tokens=%v", got)
	}
	got = Tokens("Great Plains Rural Telephone Cooperative")
	if !slices.Equal(got, []string{"great", "plains", "rural"}) {
		t.Fatalf("tokens=%v", got)
	}
}

func TestQueries(t *testing.T) {
	if q := Queries([]string{"great", "plains", "rural"}); !slices.Equal(q, []string{"great plains", "great"}) {
		t.Fatalf("queries=%v", q)
	}
	if q := Queries([]string{"comcast"}); !slices.Equal(q, []string{"comcast"}) {
		t.Fatalf("queries=%v", q)
	}
	if q := Queries(nil); q != nil {
		t.Fatalf("queries=%v", q)
	}
}

func TestResolve_SingleTokenName(t *testing.T) {
	s := &fakeSearch{results: map[string][]model.ProviderIdentity{
		"comcast": {{ID: "130077", Name: "Comcast Cable Communications LLC"}},
	}}
	r := New(s, memory.New(16), 0, logger.Discard())

	id, ok, err := r.Resolve(context.Background(), "Comcast")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if id.ID != "130077" || id.Scheme != model.SchemePrimary {
		t.Fatalf("id=%+v", id)
	}
}

func TestResolve_ThresholdAndTies(t *testing.T) {
	s := &fakeSearch{results: map[string][]model.ProviderIdentity{
		"great plains": {
			{ID: "1", Name: "Plains Internet"},
			{ID: "2", Name: "Great Plains Communications"},
			{ID: "3", Name: "Great Plains Rural Fiber"},
			{ID: "4", Name: "Rural Great Plains Telephone"},
		},
	}}
	r := New(s, memory.New(16), 0, logger.Discard())

	id, ok, err := r.Resolve(context.Background(), "Great Plains Rural Telephone Coop")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	// ids 3 and 4 both score 3; the first wins
	if id.ID != "3" {
		t.Fatalf("id=%+v", id)
	}
}

func TestResolve_BelowThresholdCachedAsNone(t *testing.T) {
	s := &fakeSearch{results: map[string][]model.ProviderIdentity{
		"great plains": {{ID: "1", Name: "Plains Internet"}},
	}}
	r := New(s, memory.New(16), 0, logger.Discard())

	for range 2 {
		_, ok, err := r.Resolve(context.Background(), "Great Plains Rural")
		if err != nil || ok {
			t.Fatalf("ok=%v err=%v", ok, err)
		}
	}
	if len(s.queries) != 1 {
		t.Fatalf("queries=%v want a single search", s.queries)
	}
}

func TestResolve_FallsBackToFirstToken(t *testing.T) {
	s := &fakeSearch{results: map[string][]model.ProviderIdentity{
		"wabash": {{ID: "77", Name: "Wabash Mutual Telephone"}},
	}}
	r := New(s, memory.New(16), 0, logger.Discard())

	id, ok, err := r.Resolve(context.Background(), "Wabash Mutual")
	if err != nil || !ok || id.ID != "77" {
		t.Fatalf("id=%+v ok=%v err=%v", id, ok, err)
	}
	if !slices.Equal(s.queries, []string{"wabash mutual", "wabash"}) {
		t.Fatalf("queries=%v", s.queries)
	}
}

func TestResolve_DeterministicAcrossSpellings(t *testing.T) {
	s := &fakeSearch{results: map[string][]model.ProviderIdentity{
		"comcast": {{ID: "130077", Name: "Comcast Cable Communications LLC"}},
	}}
	r := New(s, memory.New(16), 0, logger.Discard())

	a, _, _ := r.Resolve(context.Background(), "COMCAST")
	b, _, _ := r.Resolve(context.Background(), " comcast (xfinity) ")
	if a != b {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
}

func TestResolve_SearchFailureNotCached(t *testing.T) {
	s := &fakeSearch{err: model.Upstream("provider_search", "list", 503, nil)}
	c := memory.New(16)
	r := New(s, c, 0, logger.Discard())

	_, _, err := r.Resolve(context.Background(), "Comcast")
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("cache len=%d want 0", c.Len())
	}

	s.err = nil
	s.results = map[string][]model.ProviderIdentity{"comcast": {{ID: "130077", Name: "Comcast"}}}
	if _, ok, err := r.Resolve(context.Background(), "Comcast"); err != nil || !ok {
		t.Fatalf("retry ok=%v err=%v", ok, err)
	}
}

func TestResolve_NoMeaningfulTokens(t *testing.T) {
	s := &fakeSearch{}
	r := New(s, memory.New(16), 0, logger.Discard())
	_, ok, err := r.Resolve(context.Background(), "The Internet Company, LLC")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if len(s.queries) != 0 {
		t.Fatalf("queries=%v", s.queries)
	}
}
