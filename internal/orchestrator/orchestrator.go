package orchestrator

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"svcorb/internal/clusterstate"
	"svcorb/internal/driver"
)

// Defaults per spec.md §4.9.
const (
	DefaultTickPeriod        = 1 * time.Second
	DefaultReadyPeriod       = 5 * time.Second
	DefaultRejoinGrace       = 90 * time.Second
	DefaultMaintenanceGrace  = 60 * time.Second
)

// Orchestrator runs the monitor tick across every locally-hosted object.
type Orchestrator struct {
	Store    *clusterstate.Store
	SelfName string

	ReadyPeriod      time.Duration
	RejoinGrace      time.Duration
	MaintenanceGrace time.Duration

	daemonStart time.Time

	// NotifyMonitorAction is invoked when a resource exhausts its restart
	// budget and declares monitor=true; delegated to an external
	// collaborator per spec.md §4.9 (reboot/crash/freezestop agents).
	NotifyMonitorAction func(objectPath string, action MonitorAction)

	mu          sync.Mutex
	objects     map[string]*Object
	maintenance map[string]time.Time // peer nodename -> maintenance-announced-until
}

// New returns an Orchestrator for selfName, anchoring rejoin_grace_period
// at daemonStart (the daemon's process start time).
func New(store *clusterstate.Store, selfName string, daemonStart time.Time) *Orchestrator {
	return &Orchestrator{
		Store:            store,
		SelfName:         selfName,
		ReadyPeriod:      DefaultReadyPeriod,
		RejoinGrace:      DefaultRejoinGrace,
		MaintenanceGrace: DefaultMaintenanceGrace,
		daemonStart:      daemonStart,
		objects:          make(map[string]*Object),
		maintenance:      make(map[string]time.Time),
	}
}

// AddObject registers obj for orchestration.
func (o *Orchestrator) AddObject(obj *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[obj.Path] = obj
}

// AnnounceMaintenance records that peer has announced maintenance until
// `until`, suppressing takeover attempts per spec.md §4.9 step 8.
func (o *Orchestrator) AnnounceMaintenance(peer string, until time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maintenance[peer] = until
}

// Tick runs one monitor pass over every registered object. quorumHeld
// must reflect the latest quorum.Evaluator result — when false, all
// state-changing transitions are skipped (spec.md §4.9 step 3).
func (o *Orchestrator) Tick(ctx context.Context, now time.Time, quorumHeld bool) {
	o.mu.Lock()
	objs := make([]*Object, 0, len(o.objects))
	for _, obj := range o.objects {
		objs = append(objs, obj)
	}
	o.mu.Unlock()

	tree := o.Store.Snapshot()
	rejoining := now.Sub(o.daemonStart) < o.RejoinGrace

	for _, obj := range objs {
		o.tickObject(ctx, obj, tree, now, quorumHeld, rejoining)
	}
}

func (o *Orchestrator) tickObject(ctx context.Context, obj *Object, tree *clusterstate.Tree, now time.Time, quorumHeld, rejoining bool) {
	expect := resolveGlobalExpect(tree, obj.Path)

	if !quorumHeld {
		return // skip all state-changing transitions, per spec.md §4.9 step 3
	}

	leader := o.placementLeader(obj, tree)
	isLeader := leader == o.SelfName

	switch expect {
	case ExpectStarted:
		if rejoining {
			return // starts suppressed entirely during rejoin grace
		}
		if obj.ClusterType == "flex" {
			if o.flexTargetSet(obj, tree)[o.SelfName] {
				o.reconcileStart(ctx, obj, now)
			} else {
				o.reconcileStop(ctx, obj)
			}
		} else if isLeader {
			o.reconcileStart(ctx, obj, now)
		} else {
			o.reconcileStop(ctx, obj)
		}
	case ExpectStopped, ExpectNone:
		o.reconcileStop(ctx, obj)
	case ExpectFrozen:
		o.reconcileFreeze(ctx, obj)
	case ExpectThawed:
		o.reconcileThaw(ctx, obj)
	case ExpectProvisioned:
		o.reconcileProvision(ctx, obj)
	case ExpectUnprovisioned:
		o.reconcileUnprovision(ctx, obj)
	case ExpectPurged:
		o.reconcilePurge(ctx, obj)
	}

	o.publishLocal(obj)
}

// resolveGlobalExpect picks the authoritative global_expect for path
// across every node's view, per spec.md §4.9 step 2: ties broken by
// (timestamp, nodename) lexicographic, highest wins.
func resolveGlobalExpect(tree *clusterstate.Tree, path string) GlobalExpect {
	var bestAt int64 = -1
	var bestName string
	var best GlobalExpect
	names := make([]string, 0, len(tree.Nodes))
	for name := range tree.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node := tree.Nodes[name]
		sn, ok := node.Services[path]
		if !ok || sn.GlobalExpect == "" {
			continue
		}
		if sn.GlobalExpectAt > bestAt || (sn.GlobalExpectAt == bestAt && name > bestName) {
			bestAt = sn.GlobalExpectAt
			bestName = name
			best = GlobalExpect(sn.GlobalExpect)
		}
	}
	return best
}

// placementCandidate is a node eligible to run obj, scored for ranking.
type placementCandidate struct {
	name  string
	score float64
}

// eligibleCandidates returns every node fit to run obj, sorted (score desc,
// nodename asc), per spec.md §4.9 steps 4 and 9: frozen nodes, nodes already
// warn/err for this object, anti-affinity violations, and nodes under an
// announced maintenance window are excluded. Shared by placementLeader
// (failover: take index 0) and flexTargetSet (flex: take the top N).
func (o *Orchestrator) eligibleCandidates(obj *Object, tree *clusterstate.Tree) []placementCandidate {
	var candidates []placementCandidate
	for name, node := range tree.Nodes {
		if !obj.eligible(name, node.Labels) {
			continue
		}
		if node.Monitor.Frozen {
			continue
		}
		if sn, ok := node.Services[obj.Path]; ok && (sn.Status == "warn" || sn.Status == "err") {
			continue
		}
		if o.violatesAntiAffinity(obj, node) {
			continue
		}
		if until, announced := o.maintenance[name]; announced && time.Now().Before(until) {
			continue
		}
		candidates = append(candidates, placementCandidate{name: name, score: node.Stats.Score()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})
	return candidates
}

// placementLeader picks the eligible node with the highest (score desc,
// nodename asc), per spec.md §4.9 step 4.
func (o *Orchestrator) placementLeader(obj *Object, tree *clusterstate.Tree) string {
	candidates := o.eligibleCandidates(obj, tree)
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].name
}

// flexTargetSet returns the set of nodes that should be running obj this
// tick, per spec.md §4.9 step 10 and the flex_min_nodes <= running_instances
// <= flex_max_nodes invariant. running_instances is scaled by at most one
// instance per tick toward [FlexMin, FlexMax]; ties among candidates of
// equal standing are broken by the same (score desc, nodename asc) order
// placementLeader uses, so the membership set is stable across nodes
// computing it from the same tree snapshot. Scaling down drops the
// worst-scored currently-running candidate; scaling up adds the
// best-scored currently-idle candidate.
func (o *Orchestrator) flexTargetSet(obj *Object, tree *clusterstate.Tree) map[string]bool {
	candidates := o.eligibleCandidates(obj, tree)

	running := make(map[string]bool, len(candidates))
	runningCount := 0
	for name, node := range tree.Nodes {
		if sn, ok := node.Services[obj.Path]; ok && sn.Status == "started" {
			running[name] = true
			runningCount++
		}
	}

	desired := runningCount
	if desired < obj.FlexMin {
		desired++
	} else if desired > obj.FlexMax {
		desired--
	}
	if desired < 0 {
		desired = 0
	}
	if desired > len(candidates) {
		desired = len(candidates)
	}

	target := make(map[string]bool, desired)
	kept := 0
	for _, c := range candidates {
		if running[c.name] && kept < desired {
			target[c.name] = true
			kept++
		}
	}
	for _, c := range candidates {
		if kept >= desired {
			break
		}
		if !target[c.name] {
			target[c.name] = true
			kept++
		}
	}
	return target
}

func (o *Orchestrator) violatesAntiAffinity(obj *Object, node *clusterstate.Node) bool {
	for _, other := range obj.AntiAffinity {
		if sn, ok := node.Services[other]; ok && sn.Status == "started" {
			return true
		}
	}
	return false
}

// reconcileStart drives idle/stopped -> ready -> starting -> started on
// the elected leader. Preemption by a peer in starting with a lower
// (timestamp, nodename) is resolved upstream: placementLeader computes
// from the same tree snapshot every node sees, so at most one node
// proceeds past ready for a given snapshot. The fencing token minted on
// ready->starting (spec.md §9's cooperative per-object lease) is
// published alongside status so a peer that recomputes a different
// leader mid-start can tell, from the token change, that the prior
// holder's start attempt has been superseded rather than assuming its
// own stale view is still authoritative.
func (o *Orchestrator) reconcileStart(ctx context.Context, obj *Object, now time.Time) {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	switch obj.local {
	case StateStopped, StateIdle:
		obj.local = StateReady
		obj.readySince = now
		log.Printf("orchestrator: %s idle/stopped -> ready", obj.Path)
	case StateReady:
		if now.Sub(obj.readySince) >= o.ReadyPeriod {
			obj.local = StateStarting
			obj.fencingToken = uuid.New().String()
			log.Printf("orchestrator: %s ready -> starting, fencing_token=%s", obj.Path, obj.fencingToken)
		}
	case StateStarting:
		obj.startedAt = now
		if err := o.callAllDrivers(ctx, obj, (driver.Driver).Start); err != nil {
			obj.local = StateErr
			log.Printf("orchestrator: %s starting -> err: %v", obj.Path, err)
			return
		}
		obj.local = StateStarted
		log.Printf("orchestrator: %s starting -> started", obj.Path)
	}
}

func (o *Orchestrator) reconcileStop(ctx context.Context, obj *Object) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	switch obj.local {
	case StateStarted, StateReady, StateStarting:
		obj.local = StateStopping
	case StateStopping:
		if err := o.callAllDrivers(ctx, obj, (driver.Driver).Stop); err != nil {
			obj.local = StateErr
			return
		}
		obj.local = StateStopped
	}
}

func (o *Orchestrator) reconcileFreeze(ctx context.Context, obj *Object) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	switch obj.local {
	case StateStarted, StateStopped, StateIdle:
		obj.local = StateFreezing
	case StateFreezing:
		obj.local = StateFrozen
	}
}

func (o *Orchestrator) reconcileThaw(ctx context.Context, obj *Object) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	switch obj.local {
	case StateFrozen:
		obj.local = StateThawing
	case StateThawing:
		obj.local = StateIdle
	}
}

func (o *Orchestrator) reconcileProvision(ctx context.Context, obj *Object) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.local == StateIdle {
		obj.local = StateProvisioning
		return
	}
	if obj.local == StateProvisioning {
		if err := o.callAllDrivers(ctx, obj, (driver.Driver).Provision); err != nil {
			obj.local = StateErr
			return
		}
		obj.local = StateIdle
	}
}

func (o *Orchestrator) reconcileUnprovision(ctx context.Context, obj *Object) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	switch obj.local {
	case StateStopped, StateIdle:
		obj.local = StateUnprovisioning
	case StateUnprovisioning:
		if err := o.callAllDrivers(ctx, obj, (driver.Driver).Unprovision); err != nil {
			obj.local = StateErr
			return
		}
		obj.local = StateIdle
	}
}

// reconcilePurge requires unprovisioned first, per spec.md §4.9 step 6.
func (o *Orchestrator) reconcilePurge(ctx context.Context, obj *Object) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.local != StateIdle {
		return // preconditions unmet: must be unprovisioned (idle) already
	}
	obj.local = StateDeleting
	obj.local = StatePurged
}

// callAllDrivers invokes fn against every resource's driver, decrementing
// RestartBudget and escalating to NotifyMonitorAction on exhaustion, per
// spec.md §4.9/§7's DriverError handling.
func (o *Orchestrator) callAllDrivers(ctx context.Context, obj *Object, fn func(driver.Driver, context.Context) error) error {
	var firstErr error
	for _, rs := range obj.Resources {
		if rs.Driver == nil {
			continue
		}
		if err := fn(rs.Driver, ctx); err != nil {
			log.Printf("orchestrator: %s resource %s driver error: %v", obj.Path, rs.ID, err)
			rs.RestartBudget--
			if firstErr == nil {
				firstErr = &driver.Error{Resource: rs.ID, Action: "call", Detail: err.Error()}
			}
			if rs.RestartBudget <= 0 && rs.Monitor && o.NotifyMonitorAction != nil {
				o.NotifyMonitorAction(obj.Path, rs.MonitorAction)
			}
		}
	}
	return firstErr
}

// publishLocal writes the object's current local state back into the
// cluster state tree's local subtree, so peers observe it via C6/C7.
func (o *Orchestrator) publishLocal(obj *Object) {
	status := string(obj.Local())
	if _, err := o.Store.UpdateLocal([]string{"services", obj.Path, "status"}, status); err != nil {
		log.Printf("orchestrator: publish %s status: %v", obj.Path, err)
	}
	if token := obj.FencingToken(); token != "" {
		if _, err := o.Store.UpdateLocal([]string{"services", obj.Path, "fencing_token"}, token); err != nil {
			log.Printf("orchestrator: publish %s fencing_token: %v", obj.Path, err)
		}
	}
}
