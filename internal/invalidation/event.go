// Package invalidation drops cached provider data when the upstream
// datasets are republished.
package invalidation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	OpRefresh = "refresh"
	OpDelete  = "delete"
)

// Event announces that a provider's data changed. Seq increases per provider;
// a zero Seq is never deduplicated.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	ProviderID string    `json:"provider_id"`
	TechCodes  []string  `json:"tech_codes,omitempty"`
	Seq        uint64    `json:"seq,omitempty"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpRefresh, OpDelete:
	default:
		return fmt.Errorf("op must be refresh|delete")
	}
	if strings.TrimSpace(e.ProviderID) == "" {
		return fmt.Errorf("provider_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	for _, c := range e.TechCodes {
		if n, err := strconv.Atoi(strings.TrimSpace(c)); err != nil || n < 0 {
			return fmt.Errorf("tech code %q is not numeric", c)
		}
	}
	return nil
}
