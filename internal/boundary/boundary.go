// Package boundary indexes reference state and county shapes by FIPS code.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
)

const maxDatasetBytes = 64 << 20

// Unit is one boundary shape.
type Unit struct {
	FIPS     string
	Name     string
	Geometry orb.Geometry
}

// Record renders the unit as a geometry record carrying extra properties.
func (u Unit) Record(layer string, props geojson.Properties) model.GeometryRecord {
	p := geojson.Properties{"fips": u.FIPS}
	if u.Name != "" {
		p["name"] = u.Name
	}
	for k, v := range props {
		p[k] = v
	}
	return model.GeometryRecord{ID: u.FIPS, Layer: layer, Geometry: u.Geometry, Properties: p}
}

type Index struct {
	states   map[string]Unit
	counties map[string]Unit
}

func (ix *Index) State(fips string) (Unit, bool) {
	u, ok := ix.states[pad(fips, 2)]
	return u, ok
}

func (ix *Index) County(fips string) (Unit, bool) {
	u, ok := ix.counties[pad(fips, 5)]
	return u, ok
}

func (ix *Index) Len() (states, counties int) {
	return len(ix.states), len(ix.counties)
}

func pad(s string, width int) string {
	s = strings.TrimSpace(s)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Parse decodes a TopoJSON topology with "states" and/or "counties" objects.
func Parse(data []byte) (*Index, error) {
	var topo topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if topo.Type != "Topology" {
		return nil, errNotTopology
	}
	arcs, err := topo.decodeArcs()
	if err != nil {
		return nil, err
	}

	ix := &Index{states: map[string]Unit{}, counties: map[string]Unit{}}
	load := func(name string, width int, dst map[string]Unit) error {
		o, ok := topo.Objects[name]
		if !ok {
			return nil
		}
		return objectFeatures(o, arcs, func(id string, props map[string]any, g orb.Geometry) {
			if id == "" {
				return
			}
			id = pad(id, width)
			label, _ := props["name"].(string)
			dst[id] = Unit{FIPS: id, Name: label, Geometry: g}
		})
	}
	if err := load("states", 2, ix.states); err != nil {
		return nil, fmt.Errorf("states: %w", err)
	}
	if err := load("counties", 5, ix.counties); err != nil {
		return nil, fmt.Errorf("counties: %w", err)
	}
	if len(ix.states) == 0 && len(ix.counties) == 0 {
		return nil, fmt.Errorf("topology has no state or county shapes")
	}
	return ix, nil
}

// Loader loads the dataset once per process. A failed load is not
// remembered, so the next Get tries again.
type Loader struct {
	path string
	url  string
	http *http.Client
	log  *slog.Logger

	mu sync.Mutex
	ix *Index
}

func NewLoader(path, url string, hc *http.Client, log *slog.Logger) *Loader {
	return &Loader{path: path, url: url, http: hc, log: log}
}

func (l *Loader) Get(ctx context.Context) (*Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ix != nil {
		return l.ix, nil
	}

	start := time.Now()
	data, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	ix, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("boundary dataset: %w", err)
	}
	st, co := ix.Len()
	l.log.InfoContext(ctx, "boundaries loaded", "states", st, "counties", co, "dur", time.Since(start))
	l.ix = ix
	return ix, nil
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if l.path != "" {
		b, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read boundary file: %w", err)
		}
		return b, nil
	}
	if l.url == "" {
		return nil, fmt.Errorf("no boundary source configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, model.Upstream("boundaries", "load", 0, err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, model.Upstream("boundaries", "load", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, model.Upstream("boundaries", "load", resp.StatusCode, nil)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDatasetBytes))
	if err != nil {
		return nil, model.Upstream("boundaries", "load", resp.StatusCode, err)
	}
	return b, nil
}
