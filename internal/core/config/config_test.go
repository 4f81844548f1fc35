package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	c := FromEnv()
	if c.Addr != ":8090" || c.Tile.GridZoom != 6 || c.Tile.ProbeZoom != 4 {
		t.Fatalf("cfg=%+v", c)
	}
	if c.ProbeTimeout != 6*time.Second || c.Tile.Timeout != 15*time.Second || c.SearchTimeout != 10*time.Second {
		t.Fatalf("timeouts: probe=%v tile=%v search=%v", c.ProbeTimeout, c.Tile.Timeout, c.SearchTimeout)
	}
	if c.Cache.Backend != "memory" || !c.Tabular.County {
		t.Fatalf("cache=%+v tabular=%+v", c.Cache, c.Tabular)
	}
	if c.Tabular.DataDate != c.Tile.DataDate {
		t.Fatalf("tabular date should default to tile date")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("GRID_ZOOM", "5")
	t.Setenv("PROBE_ZOOM", "9")
	t.Setenv("TILE_BASE_URL", "http://tiles.local/api/")
	t.Setenv("TABULAR_COUNTY", "no")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("CACHE_TTL_OVERRIDES", "technologies=2h, Coverage=10m,bogus,names=xx")
	t.Setenv("FETCH_WORKERS", "0")

	c := FromEnv()
	if c.Tile.GridZoom != 5 || c.Tile.ProbeZoom != 4 {
		t.Fatalf("zoom grid=%d probe=%d", c.Tile.GridZoom, c.Tile.ProbeZoom)
	}
	if c.Tile.BaseURL != "http://tiles.local/api" {
		t.Fatalf("base=%q", c.Tile.BaseURL)
	}
	if c.Tabular.County || c.Cache.Backend != "redis" || c.Tile.Workers != 1 {
		t.Fatalf("cfg=%+v", c)
	}
	want := map[string]time.Duration{"technologies": 2 * time.Hour, "coverage": 10 * time.Minute}
	if len(c.Cache.TTLOvr) != len(want) {
		t.Fatalf("ttl overrides=%v", c.Cache.TTLOvr)
	}
	for k, v := range want {
		if c.Cache.TTLOvr[k] != v {
			t.Fatalf("ttl[%s]=%v want %v", k, c.Cache.TTLOvr[k], v)
		}
	}
}
