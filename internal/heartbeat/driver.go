// Package heartbeat implements the liveness fabric: four driver transports
// (unicast, multicast, disk, relay) sharing one contract, aggregated by a
// Supervisor into a single beating/stale verdict per peer (spec.md §4.4,
// §4.5).
package heartbeat

import (
	"context"
	"time"
)

// DefaultPeriod and DefaultTimeout are spec.md §4.4's default hb_period
// and timeout.
const (
	DefaultPeriod  = 5 * time.Second
	DefaultTimeout = 15 * time.Second
)

// PeerRecord is the per-(driver,peer) liveness record from spec.md §3.
type PeerRecord struct {
	Last     time.Time
	Beating  bool
	Gen      int64
	NeedFull bool // not set by any driver; the stale→beating full resend goes through Supervisor.OnBeating
}

// Driver is the uniform contract every heartbeat transport implements.
// Send is best-effort and fire-and-forget; Recv blocks until the next
// payload or ctx cancellation; Status reports the driver's own view of
// each peer's liveness.
type Driver interface {
	Name() string
	Send(payload []byte) error
	Recv(ctx context.Context) (peer string, payload []byte, err error)
	Status() map[string]PeerRecord
	Close() error
}

// PeerUnreachable is a transient network error contacting a peer: logged
// at debug level and retried next hb period, never surfaced to the caller.
type PeerUnreachable struct {
	Peer   string
	Detail string
}

func (e *PeerUnreachable) Error() string {
	return "heartbeat: peer " + e.Peer + " unreachable: " + e.Detail
}
