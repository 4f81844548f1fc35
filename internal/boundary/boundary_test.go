package boundary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/httpclient"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
)

// two arcs forming a 10x10 square, quantized with scale 0.5 and offset (-100, 20)
const sampleTopo = `{
  "type": "Topology",
  "transform": {"scale": [0.5, 0.5], "translate": [-100, 20]},
  "arcs": [
    [[0, 0], [10, 0], [0, 10]],
    [[10, 10], [-10, 0], [0, -10]]
  ],
  "objects": {
    "states": {"type": "GeometryCollection", "geometries": [
      {"type": "Polygon", "id": "06", "properties": {"name": "California"}, "arcs": [[0, 1]]},
      {"type": null, "id": "72"}
    ]},
    "counties": {"type": "GeometryCollection", "geometries": [
      {"type": "MultiPolygon", "id": 6037, "properties": {"name": "Los Angeles"}, "arcs": [[[-2, -1]]]}
    ]}
  }
}`

func TestParse_StatesAndCounties(t *testing.T) {
	ix, err := Parse([]byte(sampleTopo))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st, ok := ix.State("6")
	if !ok || st.Name != "California" || st.FIPS != "06" {
		t.Fatalf("state=%+v ok=%v", st, ok)
	}
	poly, ok := st.Geometry.(orb.Polygon)
	if !ok || len(poly) != 1 {
		t.Fatalf("geometry=%T", st.Geometry)
	}
	want := orb.Ring{{-100, 20}, {-95, 20}, {-95, 25}, {-100, 25}, {-100, 20}}
	if !poly[0].Equal(want) {
		t.Fatalf("ring=%v want %v", poly[0], want)
	}

	co, ok := ix.County("06037")
	if !ok || co.Name != "Los Angeles" {
		t.Fatalf("county=%+v ok=%v", co, ok)
	}
	mp := co.Geometry.(orb.MultiPolygon)
	rev := orb.Ring{{-100, 20}, {-100, 25}, {-95, 25}, {-95, 20}, {-100, 20}}
	if !mp[0][0].Equal(rev) {
		t.Fatalf("reversed ring=%v want %v", mp[0][0], rev)
	}

	if _, ok := ix.State("72"); ok {
		t.Fatal("null geometry must not be indexed")
	}
}

func TestParse_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"not-json":  `{`,
		"not-topo":  `{"type":"FeatureCollection"}`,
		"bad-arc":   `{"type":"Topology","arcs":[],"objects":{"states":{"type":"Polygon","id":"01","arcs":[[3]]}}}`,
		"no-shapes": `{"type":"Topology","arcs":[],"objects":{"nation":{"type":"Polygon","arcs":[]}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(in)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRecord_CarriesFIPSAndProps(t *testing.T) {
	ix, _ := Parse([]byte(sampleTopo))
	u, _ := ix.State("06")
	r := u.Record("state", map[string]any{"records": 4})
	if r.ID != "06" || r.Properties["fips"] != "06" || r.Properties["name"] != "California" || r.Properties["records"] != 4 {
		t.Fatalf("record=%+v", r)
	}
}

func TestLoader_FileLoadedOnce(t *testing.T) {
	p := filepath.Join(t.TempDir(), "atlas.json")
	if err := os.WriteFile(p, []byte(sampleTopo), 0o600); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(p, "", nil, logger.Discard())
	a, err := l.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = os.Remove(p)
	b, err := l.Get(context.Background())
	if err != nil || a != b {
		t.Fatalf("second get reloaded: err=%v same=%v", err, a == b)
	}
}

func TestLoader_RetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleTopo))
	}))
	defer srv.Close()

	l := NewLoader("", srv.URL, httpclient.NewOutbound(), logger.Discard())
	if _, err := l.Get(context.Background()); err == nil {
		t.Fatal("first load should fail")
	}
	if _, err := l.Get(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	_, _ = l.Get(context.Background())
	if calls.Load() != 2 {
		t.Fatalf("calls=%d want 2", calls.Load())
	}
}
