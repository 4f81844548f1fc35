// Package tile decodes Mapbox Vector Tile payloads from the hex coverage service.
package tile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
)

const (
	DefaultExtent = 4096

	// upper bound on an inflated payload
	maxInflated = 64 << 20
)

// geometry types
const (
	TypeUnknown uint64 = iota
	TypePoint
	TypeLineString
	TypePolygon
)

const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

var (
	errTruncated  = errors.New("truncated geometry")
	errBadCommand = errors.New("invalid geometry command")
)

// Decode turns one tile payload into geometry records in lon/lat.
// Empty or undecodable payloads yield an empty slice; broken layers and
// features are skipped.
func Decode(data []byte, t maptile.Tile) []model.GeometryRecord {
	out := []model.GeometryRecord{}
	if len(data) == 0 {
		return out
	}
	raw, err := inflate(data)
	if err != nil {
		return out
	}

	_ = eachField(raw, func(f field) error {
		if f.num != 3 || f.typ != protowire.BytesType {
			return nil
		}
		l, err := parseLayer(f.b)
		if err != nil {
			return nil
		}
		out = append(out, l.records(t)...)
		return nil
	})
	return out
}

func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer func() { _ = zr.Close() }()
	b, err := io.ReadAll(io.LimitReader(zr, maxInflated))
	if err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return b, nil
}

type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

// walks every field of a protobuf message
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.u, b = v, b[m:]
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.u, b = uint64(v), b[m:]
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.u, b = v, b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.b, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

type layer struct {
	name     string
	extent   uint32
	keys     []string
	values   []any
	features [][]byte
}

func parseLayer(b []byte) (*layer, error) {
	l := &layer{extent: DefaultExtent}
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			l.name = string(f.b)
		case 2:
			l.features = append(l.features, f.b)
		case 3:
			l.keys = append(l.keys, string(f.b))
		case 4:
			// keep index alignment even when a value is unreadable
			v, err := parseValue(f.b)
			if err != nil {
				v = nil
			}
			l.values = append(l.values, v)
		case 5:
			if f.u > 0 {
				l.extent = uint32(f.u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("layer: %w", err)
	}
	return l, nil
}

func parseValue(b []byte) (any, error) {
	var v any
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			v = string(f.b)
		case 2:
			v = float64(math.Float32frombits(uint32(f.u)))
		case 3:
			v = math.Float64frombits(f.u)
		case 4:
			v = int64(f.u)
		case 5:
			v = f.u
		case 6:
			v = protowire.DecodeZigZag(f.u)
		case 7:
			v = f.u != 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	return v, nil
}

type rawFeature struct {
	id    uint64
	hasID bool
	gtype uint64
	tags  []uint32
	geom  []uint32
}

func parseFeature(b []byte) (rawFeature, error) {
	var rf rawFeature
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			rf.id, rf.hasID = f.u, true
		case 2:
			vals, err := uint32s(f)
			if err != nil {
				return err
			}
			rf.tags = append(rf.tags, vals...)
		case 3:
			rf.gtype = f.u
		case 4:
			vals, err := uint32s(f)
			if err != nil {
				return err
			}
			rf.geom = append(rf.geom, vals...)
		}
		return nil
	})
	if err != nil {
		return rawFeature{}, fmt.Errorf("feature: %w", err)
	}
	return rf, nil
}

// accepts packed and unpacked repeated uint32
func uint32s(f field) ([]uint32, error) {
	if f.typ == protowire.VarintType {
		return []uint32{uint32(f.u)}, nil
	}
	b := f.b
	out := make([]uint32, 0, len(b))
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, uint32(v))
		b = b[n:]
	}
	return out, nil
}

func (l *layer) records(t maptile.Tile) []model.GeometryRecord {
	out := make([]model.GeometryRecord, 0, len(l.features))
	for _, fb := range l.features {
		rf, err := parseFeature(fb)
		if err != nil {
			continue
		}
		props, err := l.properties(rf.tags)
		if err != nil {
			continue
		}
		geom, err := buildGeometry(rf.gtype, rf.geom, float64(l.extent), t)
		if err != nil || geom == nil {
			continue
		}
		rec := model.GeometryRecord{Layer: l.name, Geometry: geom, Properties: props}
		if rf.hasID {
			rec.ID = strconv.FormatUint(rf.id, 10)
		}
		out = append(out, rec)
	}
	return out
}

func (l *layer) properties(tags []uint32) (geojson.Properties, error) {
	if len(tags)%2 != 0 {
		return nil, errors.New("odd tag count")
	}
	props := make(geojson.Properties, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		k, v := int(tags[i]), int(tags[i+1])
		if k >= len(l.keys) || v >= len(l.values) {
			return nil, fmt.Errorf("tag index out of range (%d,%d)", k, v)
		}
		props[l.keys[k]] = l.values[v]
	}
	return props, nil
}

type ipoint struct{ x, y int64 }

func decodeCommands(gtype uint64, cmds []uint32) ([][]ipoint, error) {
	var (
		parts [][]ipoint
		cur   []ipoint
		x, y  int64
	)
	for i := 0; i < len(cmds); {
		id, count := cmds[i]&0x7, int(cmds[i]>>3)
		i++
		switch id {
		case cmdMoveTo, cmdLineTo:
			if count == 0 || i+2*count > len(cmds) {
				return nil, errTruncated
			}
			if id == cmdMoveTo && gtype != TypePoint {
				if count != 1 {
					return nil, errBadCommand
				}
				if len(cur) > 0 {
					if gtype == TypePolygon {
						return nil, errBadCommand
					}
					parts = append(parts, cur)
				}
				cur = nil
			}
			if id == cmdLineTo && len(cur) == 0 {
				return nil, errBadCommand
			}
			for range count {
				x += protowire.DecodeZigZag(uint64(cmds[i]))
				y += protowire.DecodeZigZag(uint64(cmds[i+1]))
				i += 2
				cur = append(cur, ipoint{x, y})
			}
		case cmdClosePath:
			if gtype != TypePolygon || count != 1 || len(cur) == 0 {
				return nil, errBadCommand
			}
			cur = append(cur, cur[0])
			parts = append(parts, cur)
			cur = nil
		default:
			return nil, errBadCommand
		}
	}
	if len(cur) > 0 {
		if gtype == TypePolygon {
			return nil, errBadCommand
		}
		parts = append(parts, cur)
	}
	return parts, nil
}

func buildGeometry(gtype uint64, cmds []uint32, extent float64, t maptile.Tile) (orb.Geometry, error) {
	parts, err := decodeCommands(gtype, cmds)
	if err != nil {
		return nil, err
	}
	proj := func(p ipoint) orb.Point { return Project(p.x, p.y, extent, t) }

	switch gtype {
	case TypePoint:
		if len(parts) == 0 {
			return nil, nil
		}
		pts := make(orb.MultiPoint, 0, len(parts[0]))
		for _, p := range parts[0] {
			pts = append(pts, proj(p))
		}
		if len(pts) == 1 {
			return pts[0], nil
		}
		return pts, nil

	case TypeLineString:
		var mls orb.MultiLineString
		for _, part := range parts {
			if len(part) < 2 {
				continue
			}
			ls := make(orb.LineString, 0, len(part))
			for _, p := range part {
				ls = append(ls, proj(p))
			}
			mls = append(mls, ls)
		}
		switch len(mls) {
		case 0:
			return nil, nil
		case 1:
			return mls[0], nil
		default:
			return mls, nil
		}

	case TypePolygon:
		var mp orb.MultiPolygon
		for _, part := range parts {
			if len(part) < 4 {
				continue
			}
			area := signedArea(part)
			if area == 0 {
				continue
			}
			ring := make(orb.Ring, 0, len(part))
			for _, p := range part {
				ring = append(ring, proj(p))
			}
			if area > 0 {
				mp = append(mp, orb.Polygon{ring})
				continue
			}
			if len(mp) == 0 {
				// hole before any exterior ring
				return nil, errBadCommand
			}
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
		}
		switch len(mp) {
		case 0:
			return nil, nil
		case 1:
			return mp[0], nil
		default:
			return mp, nil
		}
	}
	return nil, fmt.Errorf("unsupported geometry type %d", gtype)
}

// shoelace sum in tile space (y down); exterior rings are positive
func signedArea(ring []ipoint) int64 {
	var sum int64
	for i := 0; i+1 < len(ring); i++ {
		sum += ring[i].x*ring[i+1].y - ring[i+1].x*ring[i].y
	}
	return sum
}

// Project maps tile-local integer coordinates to lon/lat with the slippy-map transform.
func Project(px, py int64, extent float64, t maptile.Tile) orb.Point {
	if extent <= 0 {
		extent = DefaultExtent
	}
	n := math.Exp2(float64(t.Z))
	gx := (float64(t.X) + float64(px)/extent) / n
	gy := (float64(t.Y) + float64(py)/extent) / n
	lon := gx*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*gy))) * 180 / math.Pi
	return orb.Point{lon, lat}
}
