// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type TileCfg struct {
	BaseURL   string
	ProcessID string
	DataDate  string
	// zoom of the coverage grid; probe samples use ProbeZoom
	GridZoom  int
	ProbeZoom int
	Timeout   time.Duration
	Workers   int
}

type TabularCfg struct {
	URL      string
	AppToken string
	County   bool
	DataDate string
	Timeout  time.Duration
}

type BoundaryCfg struct {
	Path string
	URL  string
}

type CacheCfg struct {
	Backend   string
	Size      int
	RedisAddr string
	OpTimeout time.Duration
	TTLOvr    map[string]time.Duration
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	Tile            TileCfg
	Tabular         TabularCfg
	Boundary        BoundaryCfg
	Cache           CacheCfg
	ProbeTimeout    time.Duration
	SearchTimeout   time.Duration
	DedupePrecision int
	Invalidation    InvalidationCfg
	Metrics         MetricsCfg
}

func FromEnv() Config {
	gridZoom := getint("GRID_ZOOM", 6)
	if gridZoom < 0 || gridZoom > 14 {
		gridZoom = 6
	}
	probeZoom := getint("PROBE_ZOOM", 4)
	if probeZoom < 0 || probeZoom > gridZoom {
		probeZoom = min(4, gridZoom)
	}
	dataDate := getenv("DATA_DATE", "2024-06-30")

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		Tile: TileCfg{
			BaseURL:   strings.TrimRight(getenv("TILE_BASE_URL", "https://broadbandmap.fcc.gov/nbm/map/api"), "/"),
			ProcessID: getenv("PROCESS_ID", "1"),
			DataDate:  dataDate,
			GridZoom:  gridZoom,
			ProbeZoom: probeZoom,
			Timeout:   getduration("TILE_TIMEOUT", 15*time.Second),
			Workers:   max(getint("FETCH_WORKERS", 16), 1),
		},
		Tabular: TabularCfg{
			URL:      getenv("TABULAR_URL", "https://opendata.fcc.gov/resource/hicn-aujz.json"),
			AppToken: getenv("TABULAR_APP_TOKEN", ""),
			County:   getbool("TABULAR_COUNTY", true),
			DataDate: getenv("TABULAR_DATA_DATE", dataDate),
			Timeout:  getduration("TABULAR_TIMEOUT", 15*time.Second),
		},
		Boundary: BoundaryCfg{
			Path: getenv("BOUNDARY_PATH", ""),
			URL:  getenv("BOUNDARY_URL", "https://cdn.jsdelivr.net/npm/us-atlas@3/counties-10m.json"),
		},
		Cache: CacheCfg{
			Backend:   strings.ToLower(getenv("CACHE_BACKEND", "memory")),
			Size:      max(getint("CACHE_SIZE", 4096), 1),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			TTLOvr:    parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		},
		ProbeTimeout:    getduration("PROBE_TIMEOUT", 6*time.Second),
		SearchTimeout:   getduration("SEARCH_TIMEOUT", 10*time.Second),
		DedupePrecision: getint("DEDUPE_PRECISION", 4),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "coverage-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "coverage-invalidator"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "technologies=2h,coverage=10m" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
