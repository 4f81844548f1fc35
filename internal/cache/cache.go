// Package cache defines the TTL key/value store shared by the coverage pipeline.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
)

// Interface is a TTL byte store. A ttl <= 0 stores without expiry.
// Get reports a miss, not an error, for absent or expired keys.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// data classes, used for TTL policy and metric labels
const (
	ClassProviders    = "providers"
	ClassTechnologies = "technologies"
	ClassCoverage     = "coverage"
	ClassNames        = "names"
	ClassTabular      = "tabular"
)

type Policy struct {
	Providers    time.Duration
	Technologies time.Duration
	Coverage     time.Duration
	Tabular      time.Duration
	// zero: resolver decisions never expire
	Names time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Providers:    time.Hour,
		Technologies: time.Hour,
		Coverage:     30 * time.Minute,
		Tabular:      30 * time.Minute,
		Names:        0,
	}
}

// WithOverrides applies per-class TTLs keyed by class name; unknown names are ignored.
func (p Policy) WithOverrides(ovr map[string]time.Duration) Policy {
	for k, d := range ovr {
		switch k {
		case ClassProviders:
			p.Providers = d
		case ClassTechnologies:
			p.Technologies = d
		case ClassCoverage:
			p.Coverage = d
		case ClassTabular:
			p.Tabular = d
		case ClassNames:
			p.Names = d
		}
	}
	return p
}

// GetJSON loads key into a T. A decode failure is treated as a miss so a
// corrupt entry is refetched rather than surfaced.
func GetJSON[T any](ctx context.Context, c Interface, class, key string) (T, bool, error) {
	var zero T
	b, ok, err := c.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if !ok {
		observability.IncCacheMiss(class)
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		observability.IncCacheMiss(class)
		return zero, false, nil
	}
	observability.IncCacheHit(class)
	return v, true, nil
}

func SetJSON(ctx context.Context, c Interface, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := c.Set(ctx, key, b, ttl); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}
