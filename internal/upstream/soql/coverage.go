package soql

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
)

// dataset column names
const (
	colProvider   = "provider_id"
	colTechnology = "technology"
	colState      = "state_fips"
	colCounty     = "county_fips"

	rowLimit = 50000
)

type Level string

const (
	LevelState  Level = "state"
	LevelCounty Level = "county"
)

func (l Level) column() string {
	if l == LevelCounty {
		return colCounty
	}
	return colState
}

func (l Level) width() int {
	if l == LevelCounty {
		return 5
	}
	return 2
}

// UnitRow is one validated grouped row: a zero-padded FIPS code and the
// number of coverage records behind it.
type UnitRow struct {
	FIPS    string `json:"fips"`
	Records int    `json:"records"`
}

// Coverage runs the grouped coverage queries and caches validated rows.
type Coverage struct {
	client   *Client
	cache    cache.Interface
	ttl      time.Duration
	dataDate string
	log      *slog.Logger
}

func NewCoverage(c *Client, store cache.Interface, ttl time.Duration, dataDate string, log *slog.Logger) *Coverage {
	return &Coverage{client: c, cache: store, ttl: ttl, dataDate: dataDate, log: log}
}

func (a *Coverage) DataDate() string { return a.dataDate }

// Units returns the distinct geography units at level that list providerID for techCode.
func (a *Coverage) Units(ctx context.Context, level Level, providerID, techCode string) ([]UnitRow, error) {
	key := keys.Tabular(string(level), providerID, techCode, a.dataDate)
	if rows, ok, err := cache.GetJSON[[]UnitRow](ctx, a.cache, cache.ClassTabular, key); err != nil {
		a.log.WarnContext(ctx, "tabular cache read failed", "key", key, "err", err)
	} else if ok {
		return rows, nil
	}

	col := level.column()
	q := Query{
		Select: col + ", count(*) AS records",
		Where:  Eq(colProvider, providerID) + " AND " + Eq(colTechnology, techCode),
		Group:  col,
		Order:  col,
		Limit:  rowLimit,
	}
	var raw []map[string]any
	if err := a.client.Rows(ctx, q, &raw); err != nil {
		return nil, fmt.Errorf("%s units: %w", level, err)
	}

	rows, rejected := validateUnits(raw, col, level.width())
	if rejected > 0 {
		a.log.DebugContext(ctx, "tabular rows rejected", "level", string(level), "rejected", rejected)
	}
	if err := cache.SetJSON(ctx, a.cache, key, rows, a.ttl); err != nil {
		a.log.WarnContext(ctx, "tabular cache write failed", "key", key, "err", err)
	}
	return rows, nil
}

// Technologies returns the distinct technology codes listed for providerID, ascending.
func (a *Coverage) Technologies(ctx context.Context, providerID string) ([]string, error) {
	key := keys.Tabular("techs", providerID, a.dataDate)
	if codes, ok, err := cache.GetJSON[[]string](ctx, a.cache, cache.ClassTabular, key); err != nil {
		a.log.WarnContext(ctx, "tabular cache read failed", "key", key, "err", err)
	} else if ok {
		return codes, nil
	}

	q := Query{
		Select: colTechnology,
		Where:  Eq(colProvider, providerID),
		Group:  colTechnology,
		Limit:  1000,
	}
	var raw []map[string]any
	if err := a.client.Rows(ctx, q, &raw); err != nil {
		return nil, fmt.Errorf("technologies: %w", err)
	}

	seen := map[string]struct{}{}
	codes := make([]string, 0, len(raw))
	for _, r := range raw {
		code, ok := numeric(r[colTechnology])
		if !ok {
			continue
		}
		code = techs.Normalize(code)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	techs.SortCodes(codes)
	if err := cache.SetJSON(ctx, a.cache, key, codes, a.ttl); err != nil {
		a.log.WarnContext(ctx, "tabular cache write failed", "key", key, "err", err)
	}
	return codes, nil
}

// validateUnits keeps rows with a numeric FIPS code, zero-padded to width.
// Duplicate codes are folded together.
func validateUnits(raw []map[string]any, col string, width int) ([]UnitRow, int) {
	out := make([]UnitRow, 0, len(raw))
	idx := map[string]int{}
	rejected := 0
	for _, r := range raw {
		code, ok := numeric(r[col])
		if !ok || len(code) > width {
			rejected++
			continue
		}
		code = strings.Repeat("0", width-len(code)) + code
		n := 1
		if s, ok := numeric(r["records"]); ok {
			if v, err := strconv.Atoi(s); err == nil && v > 0 {
				n = v
			}
		}
		if i, dup := idx[code]; dup {
			out[i].Records += n
			continue
		}
		idx[code] = len(out)
		out = append(out, UnitRow{FIPS: code, Records: n})
	}
	return out, rejected
}

// numeric accepts digit strings and whole JSON numbers.
func numeric(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		if t < 0 || t != float64(int64(t)) {
			return "", false
		}
		s = strconv.FormatInt(int64(t), 10)
	default:
		return "", false
	}
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}
