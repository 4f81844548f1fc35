// Package tiletest builds vector tile payloads for tests.
package tiletest

import (
	"bytes"
	"fmt"
	"math"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"
)

type Feature struct {
	ID    uint64
	HasID bool
	Type  uint64
	Geom  []uint32
	Props map[string]any
}

func command(id, count uint32) uint32 { return id | count<<3 }

func zz(v int64) uint32 { return uint32(protowire.EncodeZigZag(v)) }

// Square returns polygon commands for an axis-aligned square ring
// drawn clockwise in tile space (an exterior ring).
func Square(x, y, size int64) []uint32 {
	return Ring([][2]int64{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}})
}

// Ring encodes a single closed ring. The first point is relative to the
// origin, so rings after the first are shifted by the decoder cursor.
func Ring(pts [][2]int64) []uint32 {
	var out []uint32
	var cx, cy int64
	out = append(out, command(1, 1), zz(pts[0][0]-cx), zz(pts[0][1]-cy))
	cx, cy = pts[0][0], pts[0][1]
	out = append(out, command(2, uint32(len(pts)-1)))
	for _, p := range pts[1:] {
		out = append(out, zz(p[0]-cx), zz(p[1]-cy))
		cx, cy = p[0], p[1]
	}
	return append(out, command(7, 1))
}

func Point(x, y int64) []uint32 {
	return []uint32{command(1, 1), zz(x), zz(y)}
}

func Line(pts [][2]int64) []uint32 {
	var out []uint32
	var cx, cy int64
	out = append(out, command(1, 1), zz(pts[0][0]), zz(pts[0][1]))
	cx, cy = pts[0][0], pts[0][1]
	out = append(out, command(2, uint32(len(pts)-1)))
	for _, p := range pts[1:] {
		out = append(out, zz(p[0]-cx), zz(p[1]-cy))
		cx, cy = p[0], p[1]
	}
	return out
}

func packed(vals []uint32) []byte {
	var b []byte
	for _, v := range vals {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func encodeValue(v any) []byte {
	var b []byte
	switch t := v.(type) {
	case string:
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, t)
	case float64:
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(t))
	case int:
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t))
	case bool:
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(t))
	default:
		panic(fmt.Sprintf("tiletest: unsupported value %T", v))
	}
	return b
}

// Layer encodes one layer message. Keys are emitted in feature order.
func Layer(name string, extent uint32, feats ...Feature) []byte {
	var (
		keys   []string
		keyIdx = map[string]int{}
		values [][]byte
	)
	var body []byte
	body = protowire.AppendTag(body, 15, protowire.VarintType)
	body = protowire.AppendVarint(body, 2)
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, name)

	for _, f := range feats {
		var tags []uint32
		for k, v := range f.Props {
			ki, ok := keyIdx[k]
			if !ok {
				ki = len(keys)
				keyIdx[k] = ki
				keys = append(keys, k)
			}
			tags = append(tags, uint32(ki), uint32(len(values)))
			values = append(values, encodeValue(v))
		}
		var fb []byte
		if f.HasID {
			fb = protowire.AppendTag(fb, 1, protowire.VarintType)
			fb = protowire.AppendVarint(fb, f.ID)
		}
		if len(tags) > 0 {
			fb = protowire.AppendTag(fb, 2, protowire.BytesType)
			fb = protowire.AppendBytes(fb, packed(tags))
		}
		fb = protowire.AppendTag(fb, 3, protowire.VarintType)
		fb = protowire.AppendVarint(fb, f.Type)
		fb = protowire.AppendTag(fb, 4, protowire.BytesType)
		fb = protowire.AppendBytes(fb, packed(f.Geom))

		body = protowire.AppendTag(body, 2, protowire.BytesType)
		body = protowire.AppendBytes(body, fb)
	}
	for _, k := range keys {
		body = protowire.AppendTag(body, 3, protowire.BytesType)
		body = protowire.AppendString(body, k)
	}
	for _, v := range values {
		body = protowire.AppendTag(body, 4, protowire.BytesType)
		body = protowire.AppendBytes(body, v)
	}
	body = protowire.AppendTag(body, 5, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(extent))
	return body
}

func Tile(layers ...[]byte) []byte {
	var b []byte
	for _, l := range layers {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, l)
	}
	return b
}

func Gzip(b []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(b)
	_ = zw.Close()
	return buf.Bytes()
}
