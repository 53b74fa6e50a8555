// Package driver declares the external resource-driver contract the
// orchestrator calls against (filesystem, volume, container, IP, sync
// drivers). Per spec.md §1's Non-goals ("no prescription of on-disk
// driver formats"), concrete drivers are out of scope here — only the
// interface and a couple of reference implementations used to drive
// orchestrator tests.
package driver

import "context"

// Driver is one resource's external lifecycle collaborator. Every call
// is synchronous from the orchestrator's perspective; long-running work
// must honor ctx cancellation.
type Driver interface {
	// Kind identifies the driver family, e.g. "ip", "container", "fs".
	Kind() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Provision(ctx context.Context) error
	Unprovision(ctx context.Context) error
}

// Error wraps a nonzero driver result, counted against the owning
// resource's restart budget per spec.md §7.
type Error struct {
	Resource string
	Action   string
	Detail   string
}

func (e *Error) Error() string {
	return "driver: " + e.Resource + " " + e.Action + ": " + e.Detail
}

// Registry maps a resource id (e.g. "ip#0") to its Driver.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Set registers a driver for resource id.
func (r *Registry) Set(resourceID string, d Driver) {
	r.drivers[resourceID] = d
}

// Get returns the driver for resourceID, if any.
func (r *Registry) Get(resourceID string) (Driver, bool) {
	d, ok := r.drivers[resourceID]
	return d, ok
}
