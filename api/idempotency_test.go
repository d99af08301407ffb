package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisDeduper) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, NewRedisDeduper(client, ttl)
}

func TestRedisDeduperAdd(t *testing.T) {
	m, deduper := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be added")
	}
	if !m.Exists(idempotencyKeyPrefix + "k1") {
		t.Fatalf("expected redis key %q to exist", idempotencyKeyPrefix+"k1")
	}
	if ttl := m.TTL(idempotencyKeyPrefix + "k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	again, err := deduper.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if again {
		t.Fatalf("expected duplicate key to be rejected")
	}
}

func TestRedisDeduperKeyExpires(t *testing.T) {
	m, deduper := newTestDeduper(t, time.Second)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.FastForward(2 * time.Second)

	added, err := deduper.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("add after expiry: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be accepted again after ttl")
	}
}

func TestRedisDeduperUnavailable(t *testing.T) {
	m, deduper := newTestDeduper(t, time.Minute)
	m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := deduper.Add(ctx, "k1"); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}
