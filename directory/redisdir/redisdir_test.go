package redisdir

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/objectbus/objectbus/directory"
)

// newTestClient pings a local Redis instance and skips the test if one
// isn't reachable, mirroring the teacher's redishost_test.go graceful-skip
// idiom for environments without Redis.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping redisdir tests: redis unreachable at %s: %v", addr, err)
	}

	c, err := New(Config{Client: rdb, KeyPrefix: "objectbus:test:directory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return c
}

func TestRedisRegisterUnregisterRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.Register(ctx, directory.ServiceInfo{Name: "echo", PID: 42, MachineID: "m1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { _ = c.Unregister(ctx, id) })

	info, err := c.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup(%d): %v", id, err)
	}
	if info.Name != "echo" || info.PID != 42 || info.MachineID != "m1" {
		t.Fatalf("Lookup(%d) = %+v, want Name=echo PID=42 MachineID=m1", id, info)
	}

	if err := c.ServiceReady(ctx, id); err != nil {
		t.Fatalf("ServiceReady: %v", err)
	}

	if err := c.Unregister(ctx, id); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	if _, err := c.Lookup(ctx, id); err == nil {
		t.Fatalf("Lookup(%d) succeeded after Unregister", id)
	}
}

func TestRedisUnregisterUnknownIDFails(t *testing.T) {
	c := newTestClient(t)
	if err := c.Unregister(context.Background(), 0xdeadbeef); err == nil {
		t.Fatalf("Unregister of unknown id succeeded, want error")
	}
}
