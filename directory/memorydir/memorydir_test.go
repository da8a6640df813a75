package memorydir

import (
	"context"
	"testing"

	"github.com/objectbus/objectbus/directory"
)

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	id, err := c.Register(ctx, directory.ServiceInfo{Name: "echo", PID: 1, MachineID: "m1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == 0 {
		t.Fatalf("Register returned id 0")
	}

	info, ok := c.Lookup(id)
	if !ok {
		t.Fatalf("Lookup(%d): not found", id)
	}
	if info.Name != "echo" || info.PID != 1 || info.MachineID != "m1" {
		t.Fatalf("Lookup(%d) = %+v, want Name=echo PID=1 MachineID=m1", id, info)
	}

	if err := c.ServiceReady(ctx, id); err != nil {
		t.Fatalf("ServiceReady: %v", err)
	}

	if err := c.Unregister(ctx, id); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	if _, ok := c.Lookup(id); ok {
		t.Fatalf("Lookup(%d) succeeded after Unregister", id)
	}
}

func TestUnregisterUnknownIDFails(t *testing.T) {
	c := New()
	if err := c.Unregister(context.Background(), 999); err == nil {
		t.Fatalf("Unregister of unknown id succeeded, want error")
	}
}

func TestServiceReadyUnknownIDFails(t *testing.T) {
	c := New()
	if err := c.ServiceReady(context.Background(), 999); err == nil {
		t.Fatalf("ServiceReady of unknown id succeeded, want error")
	}
}

func TestRegisterAssignsDistinctIDs(t *testing.T) {
	c := New()
	ctx := context.Background()

	first, err := c.Register(ctx, directory.ServiceInfo{Name: "a"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := c.Register(ctx, directory.ServiceInfo{Name: "b"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first == second {
		t.Fatalf("Register returned duplicate ids: %d", first)
	}
}
