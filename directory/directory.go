// Package directory defines the narrow interface the session broker
// depends on for the out-of-scope "service directory" collaborator named
// in spec.md §1 and §6: registering/unregistering a service and announcing
// readiness. Two implementations are provided: directory/memorydir for a
// single process and directory/redisdir for a fleet of brokers sharing one
// directory.
package directory

import "context"

// ServiceInfo is what a broker hands to the directory when registering a
// service, per spec.md §4.3.
type ServiceInfo struct {
	Name      string
	PID       int
	MachineID string
	Endpoints []string
}

// Client is the narrow interface spec.md §6 names for the directory
// collaborator.
type Client interface {
	// Register assigns and returns a new service id for info.
	Register(ctx context.Context, info ServiceInfo) (uint32, error)
	// Unregister removes id's registration.
	Unregister(ctx context.Context, id uint32) error
	// ServiceReady announces that id is fully wired and can start serving
	// calls; it is advisory for other processes watching the directory.
	ServiceReady(ctx context.Context, id uint32) error
}
