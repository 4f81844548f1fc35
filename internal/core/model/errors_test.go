package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestUpstreamError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("probe: %w", Upstream("tiles", "fetch", 503, nil))
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("errors.Is(%v, ErrUpstreamUnavailable)=false", err)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != 503 {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestUpstreamError_TimeoutUnwraps(t *testing.T) {
	err := Upstream("tabular", "rows", 0, context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("timeout must match both sentinels: %v", err)
	}
}

func TestInvalid(t *testing.T) {
	err := Invalid("bad zoom %d", 40)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatal("invalid input must not look like an upstream failure")
	}
}

func TestFetchOutcome(t *testing.T) {
	if o := Success([]byte("x")); !o.OK() || o.Failed() || o.Kind.String() != "success" {
		t.Fatalf("success=%+v", o)
	}
	if o := Empty[[]byte](); o.OK() || o.Failed() || o.Kind.String() != "empty" {
		t.Fatalf("empty=%+v", o)
	}
	if o := Failed[[]byte](errors.New("boom")); !o.Failed() || o.Err == nil {
		t.Fatalf("failed=%+v", o)
	}
}

func TestEmptyCoverage(t *testing.T) {
	r := EmptyCoverage("130077", "50", "2024-06-30")
	if !r.Empty() || r.Source != SourceNone || r.Collection == nil || len(r.Collection.Features) != 0 {
		t.Fatalf("result=%+v", r)
	}
}
