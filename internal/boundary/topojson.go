package boundary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type transform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

type topology struct {
	Type      string            `json:"type"`
	Transform *transform        `json:"transform"`
	Arcs      [][][]float64     `json:"arcs"`
	Objects   map[string]object `json:"objects"`
}

type object struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id"`
	Properties map[string]any  `json:"properties"`
	Arcs       json.RawMessage `json:"arcs"`
	Geometries []object        `json:"geometries"`
}

// decodeArcs resolves quantized, delta-encoded arcs into absolute lon/lat.
func (t *topology) decodeArcs() ([][]orb.Point, error) {
	out := make([][]orb.Point, len(t.Arcs))
	for i, arc := range t.Arcs {
		pts := make([]orb.Point, 0, len(arc))
		var x, y float64
		for _, p := range arc {
			if len(p) < 2 {
				return nil, fmt.Errorf("arc %d: short position", i)
			}
			if t.Transform == nil {
				pts = append(pts, orb.Point{p[0], p[1]})
				continue
			}
			x += p[0]
			y += p[1]
			pts = append(pts, orb.Point{
				x*t.Transform.Scale[0] + t.Transform.Translate[0],
				y*t.Transform.Scale[1] + t.Transform.Translate[1],
			})
		}
		out[i] = pts
	}
	return out, nil
}

// ring stitches arcs by index; a negative index ~i means arc i reversed.
// Consecutive arcs share an endpoint, so it is emitted once.
func ring(arcs [][]orb.Point, idx []int) (orb.Ring, error) {
	var r orb.Ring
	for n, i := range idx {
		rev := i < 0
		if rev {
			i = ^i
		}
		if i >= len(arcs) {
			return nil, fmt.Errorf("arc index %d out of range", i)
		}
		a := arcs[i]
		start := 0
		if n > 0 {
			start = 1
		}
		for k := start; k < len(a); k++ {
			if rev {
				r = append(r, a[len(a)-1-k])
			} else {
				r = append(r, a[k])
			}
		}
	}
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r, nil
}

func polygon(arcs [][]orb.Point, rings [][]int) (orb.Polygon, error) {
	p := make(orb.Polygon, 0, len(rings))
	for _, idx := range rings {
		r, err := ring(arcs, idx)
		if err != nil {
			return nil, err
		}
		if len(r) >= 4 {
			p = append(p, r)
		}
	}
	return p, nil
}

func (o object) geometry(arcs [][]orb.Point) (orb.Geometry, error) {
	switch o.Type {
	case "Polygon":
		var rings [][]int
		if err := json.Unmarshal(o.Arcs, &rings); err != nil {
			return nil, fmt.Errorf("polygon arcs: %w", err)
		}
		p, err := polygon(arcs, rings)
		if err != nil || len(p) == 0 {
			return nil, err
		}
		return p, nil
	case "MultiPolygon":
		var polys [][][]int
		if err := json.Unmarshal(o.Arcs, &polys); err != nil {
			return nil, fmt.Errorf("multipolygon arcs: %w", err)
		}
		mp := make(orb.MultiPolygon, 0, len(polys))
		for _, rings := range polys {
			p, err := polygon(arcs, rings)
			if err != nil {
				return nil, err
			}
			if len(p) > 0 {
				mp = append(mp, p)
			}
		}
		if len(mp) == 0 {
			return nil, nil
		}
		return mp, nil
	case "", "null":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported geometry type %q", o.Type)
}

// idString renders a string or numeric TopoJSON id.
func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}

// objectFeatures flattens a named object, descending into GeometryCollections.
func objectFeatures(o object, arcs [][]orb.Point, visit func(id string, props map[string]any, g orb.Geometry)) error {
	if o.Type == "GeometryCollection" {
		for _, child := range o.Geometries {
			if err := objectFeatures(child, arcs, visit); err != nil {
				return err
			}
		}
		return nil
	}
	g, err := o.geometry(arcs)
	if err != nil {
		return err
	}
	if g != nil {
		visit(idString(o.ID), o.Properties, g)
	}
	return nil
}

var errNotTopology = errors.New("not a topojson topology")
