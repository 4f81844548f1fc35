package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), nil, &out, &errOut); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(errOut.String(), "usage: coverage-cli") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memory")
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"frobnicate"}, &out, &errOut); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_InvalidateValidatesBeforeDialing(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"invalidate", "-op", "update", "-provider", "1"}, &out, &errOut)
	if err == nil || !strings.Contains(err.Error(), "op must be") {
		t.Fatalf("err=%v", err)
	}
}
