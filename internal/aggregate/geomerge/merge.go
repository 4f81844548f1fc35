// Package geomerge merges decoded tile records into one deduplicated set.
package geomerge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
)

const DefaultPrecision = 4

// property names checked, in order, for a stable feature identifier
var idProps = []string{"featureId", "feature_id", "id"}

// property names that may carry an H3 hex index
var hexProps = []string{"h3", "h3index", "hex_id"}

type Diagnostics struct {
	TotalIn      int `json:"total_in"`
	TotalOut     int `json:"total_out"`
	DedupByID    int `json:"dedup_by_id"`
	DedupByCoord int `json:"dedup_by_coord"`
	Dropped      int `json:"dropped"`
}

type Merger struct {
	Precision int
}

func New(precision int) *Merger {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Merger{Precision: precision}
}

// Merge flattens parts in order and keeps the first record seen for each
// dedupe key. Records with neither an identifier nor a coordinate are dropped.
func (m *Merger) Merge(parts [][]model.GeometryRecord) ([]model.GeometryRecord, Diagnostics) {
	var diag Diagnostics
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]model.GeometryRecord, 0, total)
	seen := make(map[string]struct{}, total)

	for _, part := range parts {
		for _, rec := range part {
			diag.TotalIn++
			key, byID := m.Key(rec)
			if key == "" {
				diag.Dropped++
				continue
			}
			if _, dup := seen[key]; dup {
				if byID {
					diag.DedupByID++
				} else {
					diag.DedupByCoord++
				}
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}
	diag.TotalOut = len(out)
	return out, diag
}

// Key returns the dedupe key for rec and whether it came from an identifier.
// An empty key means the record is malformed.
func (m *Merger) Key(rec model.GeometryRecord) (string, bool) {
	for _, p := range idProps {
		if s := propString(rec.Properties[p]); s != "" {
			return "id:" + s, true
		}
	}
	for _, p := range hexProps {
		if s, ok := canonicalHex(rec.Properties[p]); ok {
			return "h3:" + s, true
		}
	}
	if rec.ID != "" {
		return "fid:" + rec.ID, true
	}
	pt, ok := firstPoint(rec.Geometry)
	if !ok {
		return "", false
	}
	return "c:" + m.coord(pt[0]) + "," + m.coord(pt[1]), false
}

func (m *Merger) coord(v float64) string {
	f := math.Pow(10, float64(m.Precision))
	r := math.Round(v*f) / f
	if r == 0 {
		// fold -0 into 0
		r = 0
	}
	return strconv.FormatFloat(r, 'f', m.Precision, 64)
}

func propString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// canonicalHex validates an H3 index given as a hex string or integer and
// returns its lowercase string form.
func canonicalHex(v any) (string, bool) {
	var c h3.Cell
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		if err := c.UnmarshalText([]byte(s)); err != nil {
			return "", false
		}
	case uint64:
		c = h3.Cell(t)
	case int64:
		if t <= 0 {
			return "", false
		}
		c = h3.Cell(t)
	default:
		return "", false
	}
	if !c.IsValid() {
		return "", false
	}
	return c.String(), true
}

func firstPoint(g orb.Geometry) (orb.Point, bool) {
	switch t := g.(type) {
	case orb.Point:
		return t, true
	case orb.MultiPoint:
		if len(t) > 0 {
			return t[0], true
		}
	case orb.LineString:
		if len(t) > 0 {
			return t[0], true
		}
	case orb.MultiLineString:
		for _, ls := range t {
			if len(ls) > 0 {
				return ls[0], true
			}
		}
	case orb.Ring:
		if len(t) > 0 {
			return t[0], true
		}
	case orb.Polygon:
		if len(t) > 0 && len(t[0]) > 0 {
			return t[0][0], true
		}
	case orb.MultiPolygon:
		for _, p := range t {
			if len(p) > 0 && len(p[0]) > 0 {
				return p[0][0], true
			}
		}
	case orb.Collection:
		for _, sub := range t {
			if pt, ok := firstPoint(sub); ok {
				return pt, true
			}
		}
	}
	return orb.Point{}, false
}

// Collection wraps records into a FeatureCollection; never nil.
func Collection(records []model.GeometryRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(records))
	for _, r := range records {
		fc.Append(r.Feature())
	}
	return fc
}
