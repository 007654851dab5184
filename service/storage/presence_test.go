package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"telechat/tools/errs"
)

func testPresence(t *testing.T) *RedisPresence {
	t.Helper()
	addr := os.Getenv("TELECHAT_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	p, err := NewRedisPresence(RedisConfig{Addr: addr, DB: 9})
	if err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLastSeenRoundTrip(t *testing.T) {
	p := testPresence(t)
	ctx := context.Background()

	before := time.Now().Add(-2 * time.Second)
	if err := p.MarkOnline(ctx, "pat-presence-1"); err != nil {
		t.Fatalf("mark online: %v", err)
	}

	ts, err := p.LastSeen(ctx, "pat-presence-1")
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(2*time.Second)) {
		t.Fatalf("last seen %v outside expected window", ts)
	}

	// offline overwrites with a fresh stamp, same key
	if err := p.MarkOffline(ctx, "pat-presence-1"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	ts2, err := p.LastSeen(ctx, "pat-presence-1")
	if err != nil {
		t.Fatalf("last seen after offline: %v", err)
	}
	if ts2.Before(ts) {
		t.Fatalf("offline stamp %v older than online stamp %v", ts2, ts)
	}
}

func TestLastSeenUnknownIdentity(t *testing.T) {
	p := testPresence(t)

	_, err := p.LastSeen(context.Background(), "never-connected")
	if errs.Code(err) != errs.CodeNotFound {
		t.Fatalf("want not found, got %v", err)
	}
}
