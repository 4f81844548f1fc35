package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestRecorders_NoopBeforeInit(t *testing.T) {
	Init(nil, false)
	ObserveHTTP("GET", "/api/technologies", 200, 0.001)
	IncProbe("50", "success")
	ObserveCacheOp("get", nil, 0.001)
}

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	t.Cleanup(func() { Init(nil, false) })

	ObserveHTTP("GET", "/api/coverage/{providerID}/{techCode}", 200, 0.001)
	ObserveUpstream("tiles", "empty", 0.02)
	IncProbe("50", "success")
	IncCoverage("hex")
	IncCacheHit("coverage")
	IncCacheMiss("technologies")
	ObserveCacheOp("set", errors.New("down"), 0.001)
	IncInvalidation("applied")

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`http_requests_total{method="GET",route="/api/coverage/{providerID}/{techCode}",status="200"} 1`,
		`upstream_latency_seconds_count{outcome="empty",upstream="tiles"} 1`,
		`probe_requests_total{outcome="success",tech="50"} 1`,
		`coverage_results_total{source="hex"} 1`,
		`cache_results_total{class="coverage",outcome="hit"} 1`,
		`cache_op_total{op="set",outcome="error"} 1`,
		`invalidations_total{outcome="applied"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
