package soql

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache/memory"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/httpclient"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
)

func TestQuery_ValuesOmitEmpty(t *testing.T) {
	v := Query{Select: "a", Where: Eq("provider_id", "o'neil"), Limit: 10}.Values()
	if v.Get("$select") != "a" || v.Get("$limit") != "10" {
		t.Fatalf("values=%v", v)
	}
	if v.Get("$where") != "provider_id = 'o''neil'" {
		t.Fatalf("where=%q", v.Get("$where"))
	}
	if _, ok := v["$group"]; ok {
		t.Fatal("empty clause emitted")
	}
}

type captured struct {
	query url.Values
	token string
}

func newCoverage(t *testing.T, status int, body string, calls *atomic.Int32, seen *captured) *Coverage {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if seen != nil {
			seen.query = r.URL.Query()
			seen.token = r.Header.Get("X-App-Token")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL+"/resource/x.json", "tok", time.Second, httpclient.NewOutbound(), logger.Discard())
	return NewCoverage(c, memory.New(32), 30*time.Minute, "2024-06-30", logger.Discard())
}

func TestUnits_ValidatesPadsAndCaches(t *testing.T) {
	var calls atomic.Int32
	var got captured
	body := `[{"state_fips":"6","records":"12"},{"state_fips":"06","records":"3"},
		{"state_fips":"48","records":"2"},{"state_fips":"XX","records":"1"},{"state_fips":null}]`
	a := newCoverage(t, 200, body, &calls, &got)

	rows, err := a.Units(context.Background(), LevelState, "130077", "50")
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	want := []UnitRow{{FIPS: "06", Records: 15}, {FIPS: "48", Records: 2}}
	if !slices.Equal(rows, want) {
		t.Fatalf("rows=%+v want %+v", rows, want)
	}
	if got.query.Get("$group") != "state_fips" || got.token != "tok" {
		t.Fatalf("query=%v token=%q", got.query, got.token)
	}
	if got.query.Get("$where") != "provider_id = '130077' AND technology = '50'" {
		t.Fatalf("where=%q", got.query.Get("$where"))
	}

	if _, err := a.Units(context.Background(), LevelState, "130077", "50"); err != nil {
		t.Fatalf("cached: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", calls.Load())
	}
}

func TestUnits_CountyWidth(t *testing.T) {
	a := newCoverage(t, 200, `[{"county_fips":"6037"},{"county_fips":123456}]`, nil, nil)
	rows, err := a.Units(context.Background(), LevelCounty, "1", "50")
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if len(rows) != 1 || rows[0].FIPS != "06037" || rows[0].Records != 1 {
		t.Fatalf("rows=%+v", rows)
	}
}

func TestUnits_UpstreamFailure(t *testing.T) {
	for name, tc := range map[string]struct {
		status int
		body   string
	}{
		"500":      {500, `{"message":"boom"}`},
		"not-rows": {200, `{"error":true}`},
	} {
		t.Run(name, func(t *testing.T) {
			a := newCoverage(t, tc.status, tc.body, nil, nil)
			_, err := a.Units(context.Background(), LevelState, "1", "50")
			if !errors.Is(err, model.ErrUpstreamUnavailable) {
				t.Fatalf("err=%v want upstream", err)
			}
		})
	}
}

func TestTechnologies_DistinctSortedNumeric(t *testing.T) {
	a := newCoverage(t, 200, `[{"technology":"50"},{"technology":"10"},{"technology":"050"},{"technology":"abc"},{"technology":70}]`, nil, nil)
	got, err := a.Technologies(context.Background(), "130077")
	if err != nil {
		t.Fatalf("techs: %v", err)
	}
	if !slices.Equal(got, []string{"10", "50", "70"}) {
		t.Fatalf("got=%v", got)
	}
}
