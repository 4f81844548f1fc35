package coverage

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// DefaultZoom is the zoom of the hex coverage grid.
const DefaultZoom maptile.Zoom = 6

// Regions are the areas the tile grid covers.
var Regions = []struct {
	Name   string
	Bounds orb.Bound
}{
	{"conus", orb.Bound{Min: orb.Point{-125, 24.5}, Max: orb.Point{-66.9, 49.4}}},
	{"alaska", orb.Bound{Min: orb.Point{-180, 51}, Max: orb.Point{-129, 71.5}}},
	// Aleutians west of the antimeridian
	{"alaska_west", orb.Bound{Min: orb.Point{172, 51}, Max: orb.Point{179.99, 53}}},
	{"hawaii", orb.Bound{Min: orb.Point{-160.5, 18.9}, Max: orb.Point{-154.8, 22.3}}},
	{"pr_usvi", orb.Bound{Min: orb.Point{-67.3, 17.6}, Max: orb.Point{-64.5, 18.6}}},
}

// Grid returns every tile at zoom touching any region, without duplicates,
// in region then row-major order.
func Grid(zoom maptile.Zoom) []maptile.Tile {
	var out []maptile.Tile
	seen := map[maptile.Tile]struct{}{}
	for _, r := range Regions {
		// tile y grows southwards
		nw := maptile.At(orb.Point{r.Bounds.Min[0], r.Bounds.Max[1]}, zoom)
		se := maptile.At(orb.Point{r.Bounds.Max[0], r.Bounds.Min[1]}, zoom)
		for y := nw.Y; y <= se.Y; y++ {
			for x := nw.X; x <= se.X; x++ {
				t := maptile.New(x, y, zoom)
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}
