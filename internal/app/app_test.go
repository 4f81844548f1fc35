package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/broadband-coverage/internal/cache/memory"
	"github.com/mohammed-shakir/broadband-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/config"
	"github.com/mohammed-shakir/broadband-coverage/internal/logger"
)

func TestBuild_MemoryBackend(t *testing.T) {
	cfg := config.FromEnv()
	cfg.Cache.Backend = "memory"
	a, err := Build(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if _, ok := a.Cache.(*memory.Store); !ok {
		t.Fatalf("cache=%T", a.Cache)
	}
	if a.Service == nil || a.API == nil || a.Runner == nil || len(a.Checks) != 0 {
		t.Fatalf("app=%+v", a)
	}
}

func TestBuild_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.FromEnv()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = mr.Addr()

	a, err := Build(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if _, ok := a.Cache.(*redisstore.Client); !ok {
		t.Fatalf("cache=%T", a.Cache)
	}
	if len(a.Checks) != 1 || a.Checks[0].Fn(context.Background()) != nil {
		t.Fatalf("checks=%v", a.Checks)
	}
}

func TestBuild_UnknownBackend(t *testing.T) {
	cfg := config.FromEnv()
	cfg.Cache.Backend = "memcached"
	if _, err := Build(context.Background(), cfg, logger.Discard()); err == nil {
		t.Fatal("expected error")
	}
}
