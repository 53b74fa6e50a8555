// Package orchestrator implements the per-object monitor FSM (spec.md
// §4.9, C9): converging each local object's instance state toward its
// declared global_expect, honoring placement, quorum, affinity,
// readiness, and rejoin/maintenance grace windows. Grounded on
// reconciler.Run's "read desired, read actual, diff, re-apply, log every
// action" shape and zfs.PoolHeartbeat's ticker-plus-mutex per-tick
// pattern.
package orchestrator

// State is one local instance's FSM state, per spec.md §4.9.
type State string

const (
	StateIdle           State = "idle"
	StateReady           State = "ready"
	StateStarting        State = "starting"
	StateStarted         State = "started"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"
	StateFreezing        State = "freezing"
	StateFrozen          State = "frozen"
	StateThawing         State = "thawing"
	StateProvisioning    State = "provisioning"
	StateUnprovisioning  State = "unprovisioning"
	StatePurged          State = "purged"
	StateDeleting        State = "deleting"
	StateErr             State = "err"
)

// Terminal reports whether s requires operator intervention (err) or
// represents final disposal (purged) to leave.
func (s State) Terminal() bool {
	return s == StatePurged || s == StateErr
}

// GlobalExpect is the authoritative target state for an object, set by
// whichever node last wrote it (spec.md §4.9 step 2).
type GlobalExpect string

const (
	ExpectStarted        GlobalExpect = "started"
	ExpectStopped        GlobalExpect = "stopped"
	ExpectFrozen         GlobalExpect = "frozen"
	ExpectThawed         GlobalExpect = "thawed"
	ExpectProvisioned    GlobalExpect = "provisioned"
	ExpectUnprovisioned  GlobalExpect = "unprovisioned"
	ExpectPurged         GlobalExpect = "purged"
	ExpectNone           GlobalExpect = ""
)

// MonitorAction is the escalation fired when a resource's restart budget
// is exhausted and monitor=true, per spec.md §4.9's failure semantics.
type MonitorAction string

const (
	ActionReboot     MonitorAction = "reboot"
	ActionCrash      MonitorAction = "crash"
	ActionFreezeStop MonitorAction = "freezestop"
)
