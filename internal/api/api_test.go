package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/server"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
	"github.com/mohammed-shakir/broadband-coverage/internal/techs"
)

type fakeService struct {
	err      error
	gotLimit int
	gotName  string
	gotZXY   [3]int
}

func (f *fakeService) Technologies() []techs.Technology { return techs.All() }

func (f *fakeService) SearchProviderByName(_ context.Context, q string, limit int) ([]model.ProviderIdentity, error) {
	f.gotLimit = limit
	if q == "" {
		return nil, model.Invalid("search query is required")
	}
	return []model.ProviderIdentity{{ID: "130077", Name: "Comcast", Scheme: model.SchemePrimary}}, f.err
}

func (f *fakeService) ResolveProviderTechnologies(_ context.Context, id, name string) (model.TechnologyResolution, error) {
	f.gotName = name
	return model.TechnologyResolution{Technologies: []string{"40"}, Source: model.ResolvedByProbe, ProviderID: id}, f.err
}

func (f *fakeService) GetCoverage(_ context.Context, id, tech string) (model.CoverageResult, error) {
	if f.err != nil {
		return model.CoverageResult{}, f.err
	}
	return model.EmptyCoverage(id, tech, "2024-06-30"), nil
}

func (f *fakeService) ProxyTile(_ context.Context, _, _ string, z, x, y int) (*geojson.FeatureCollection, error) {
	f.gotZXY = [3]int{z, x, y}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 2}))
	return fc, f.err
}

func newServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	log := logger.Discard()
	r := server.Router(server.Options{}, log, New(svc, log).Mount)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestCoverage_OK(t *testing.T) {
	srv := newServer(t, &fakeService{})
	resp, body := get(t, srv.URL+"/api/coverage/130077/50")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body["source"] != "none" || body["provider_id"] != "130077" {
		t.Fatalf("body=%v", body)
	}
	geom, _ := body["geometry"].(map[string]any)
	if geom["type"] != "FeatureCollection" {
		t.Fatalf("geometry=%v", body["geometry"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestErrorMapping(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		want int
	}{
		"upstream": {model.Upstream("tiles", "coverage", 503, nil), http.StatusBadGateway},
		"invalid":  {model.Invalid("bad"), http.StatusBadRequest},
		"other":    {context.Canceled, http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, &fakeService{err: tc.err})
			resp, body := get(t, srv.URL+"/api/coverage/1/50")
			if resp.StatusCode != tc.want {
				t.Fatalf("status=%d want %d", resp.StatusCode, tc.want)
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Fatalf("body=%v", body)
			}
		})
	}
}

func TestSearchProviders_Limit(t *testing.T) {
	svc := &fakeService{}
	srv := newServer(t, svc)

	resp, body := get(t, srv.URL+"/api/providers?q=comcast&limit=5")
	if resp.StatusCode != http.StatusOK || svc.gotLimit != 5 {
		t.Fatalf("status=%d limit=%d", resp.StatusCode, svc.gotLimit)
	}
	if rows, _ := body["providers"].([]any); len(rows) != 1 {
		t.Fatalf("body=%v", body)
	}
	if resp, _ := get(t, srv.URL+"/api/providers?q=comcast&limit=abc"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/api/providers"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing q status=%d", resp.StatusCode)
	}
}

func TestProviderTechnologies_PassesName(t *testing.T) {
	svc := &fakeService{}
	srv := newServer(t, svc)
	resp, body := get(t, srv.URL+"/api/providers/999/technologies?name=Comcast%20Cable")
	if resp.StatusCode != http.StatusOK || svc.gotName != "Comcast Cable" {
		t.Fatalf("status=%d name=%q", resp.StatusCode, svc.gotName)
	}
	if body["source"] != "hex" {
		t.Fatalf("body=%v", body)
	}
}

func TestTile_ParsesCoordinates(t *testing.T) {
	svc := &fakeService{}
	srv := newServer(t, svc)
	resp, err := http.Get(srv.URL + "/api/tiles/1/50/6/12/24")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || svc.gotZXY != [3]int{6, 12, 24} {
		t.Fatalf("status=%d zxy=%v", resp.StatusCode, svc.gotZXY)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	if resp, _ := get(t, srv.URL+"/api/tiles/1/50/six/12/24"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
}

func TestTechnologies_Catalog(t *testing.T) {
	srv := newServer(t, &fakeService{})
	_, body := get(t, srv.URL+"/api/technologies")
	list, _ := body["technologies"].([]any)
	if len(list) != len(techs.All()) {
		t.Fatalf("technologies=%d", len(list))
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)
	t.Cleanup(func() { observability.Init(nil, false) })

	srv := newServer(t, &fakeService{})
	get(t, srv.URL+"/api/coverage/130077/50")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" && strings.Contains(lp.GetValue(), "{providerID}") {
					return
				}
			}
		}
	}
	t.Fatal("http_requests_total with route pattern not found")
}
