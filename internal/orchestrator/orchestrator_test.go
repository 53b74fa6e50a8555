package orchestrator

import (
	"context"
	"testing"
	"time"

	"svcorb/internal/clusterstate"
	"svcorb/internal/config"
	"svcorb/internal/driver"
)

func setExpect(t *testing.T, store *clusterstate.Store, path string, expect GlobalExpect, at int64) {
	t.Helper()
	if _, err := store.UpdateLocal([]string{"services", path, "global_expect"}, string(expect)); err != nil {
		t.Fatalf("set global_expect: %v", err)
	}
	if _, err := store.UpdateLocal([]string{"services", path, "global_expect_at"}, at); err != nil {
		t.Fatalf("set global_expect_at: %v", err)
	}
}

func TestSingleNodeStartReachesStarted(t *testing.T) {
	store := clusterstate.NewStore("n1")
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)

	orch := New(store, "n1", time.Now().Add(-time.Hour)) // past rejoin grace
	obj := NewObject("root/svc/web")
	obj.Resources = []*ResourceState{{ID: "app", Driver: &driver.Noop{KindName: "app"}, RestartBudget: 3}}
	orch.AddObject(obj)

	now := time.Now()
	orch.Tick(context.Background(), now, true)
	if obj.Local() != StateReady {
		t.Fatalf("expected ready after first tick, got %s", obj.Local())
	}

	orch.Tick(context.Background(), now.Add(orch.ReadyPeriod+time.Second), true)
	if obj.Local() != StateStarting {
		t.Fatalf("expected starting after ready_period elapses, got %s", obj.Local())
	}

	orch.Tick(context.Background(), now.Add(orch.ReadyPeriod+2*time.Second), true)
	if obj.Local() != StateStarted {
		t.Fatalf("expected started after driver call, got %s", obj.Local())
	}
}

func TestQuorumLostSkipsTransitions(t *testing.T) {
	store := clusterstate.NewStore("n1")
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)

	orch := New(store, "n1", time.Now().Add(-time.Hour))
	obj := NewObject("root/svc/web")
	orch.AddObject(obj)

	orch.Tick(context.Background(), time.Now(), false)
	if obj.Local() != StateIdle {
		t.Fatalf("expected idle (no transition) when quorum lost, got %s", obj.Local())
	}
}

func TestRejoinGraceSuppressesStart(t *testing.T) {
	store := clusterstate.NewStore("n1")
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)

	orch := New(store, "n1", time.Now()) // rejoin grace just started
	obj := NewObject("root/svc/web")
	orch.AddObject(obj)

	orch.Tick(context.Background(), time.Now(), true)
	if obj.Local() != StateIdle {
		t.Fatalf("expected idle during rejoin grace, got %s", obj.Local())
	}
}

func TestPurgeRequiresUnprovisionedFirst(t *testing.T) {
	store := clusterstate.NewStore("n1")
	obj := NewObject("root/svc/web")
	obj.mu.Lock()
	obj.local = StateStarted // not unprovisioned
	obj.mu.Unlock()

	orch := New(store, "n1", time.Now().Add(-time.Hour))
	orch.AddObject(obj)
	setExpect(t, store, "root/svc/web", ExpectPurged, 1)

	orch.Tick(context.Background(), time.Now(), true)
	if obj.Local() == StatePurged {
		t.Fatalf("purge must not succeed from started without unprovisioning first")
	}
}

// Node selector eligibility (spec.md §80): an object scoped to a node
// label that the only live node doesn't carry has no eligible leader and
// never leaves idle, even with quorum held and global_expect=started.
func TestNodeSelectorExcludesIneligibleNode(t *testing.T) {
	store := clusterstate.NewStore("n1")
	if _, err := store.UpdateLocal([]string{"labels", "role"}, "db"); err != nil {
		t.Fatalf("set label: %v", err)
	}
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)

	orch := New(store, "n1", time.Now().Add(-time.Hour))
	obj := NewObject("root/svc/web")
	obj.NodesSelector = config.ParseSelector("role=web")
	obj.Resources = []*ResourceState{{ID: "app", Driver: &driver.Noop{KindName: "app"}, RestartBudget: 3}}
	orch.AddObject(obj)

	orch.Tick(context.Background(), time.Now(), true)
	if obj.Local() != StateIdle {
		t.Fatalf("expected idle (no eligible node), got %s", obj.Local())
	}
}

func TestDriverFailureExhaustsRestartBudgetAndEscalates(t *testing.T) {
	store := clusterstate.NewStore("n1")
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)

	orch := New(store, "n1", time.Now().Add(-time.Hour))
	var escalated MonitorAction
	orch.NotifyMonitorAction = func(path string, action MonitorAction) { escalated = action }

	obj := NewObject("root/svc/web")
	obj.Resources = []*ResourceState{{
		ID:            "ip#0",
		Driver:        &failingDriver{},
		RestartBudget: 1,
		Monitor:       true,
		MonitorAction: ActionReboot,
	}}
	obj.mu.Lock()
	obj.local = StateStarting
	obj.mu.Unlock()
	orch.AddObject(obj)

	orch.Tick(context.Background(), time.Now(), true)
	if escalated != ActionReboot {
		t.Fatalf("expected monitor_action escalation to reboot, got %q", escalated)
	}
}

type failingDriver struct{ driver.Noop }

func (f *failingDriver) Start(ctx context.Context) error { return errBoom }

var errBoom = &driver.Error{Resource: "ip#0", Action: "start", Detail: "simulated failure"}

// TestFlexScaleUpDoesNotLivelock covers the flex_min_nodes <= running <=
// flex_max_nodes invariant (spec.md §4.9 step 10, §8): with FlexMin=2 and
// one peer already started, self must be allowed to reach started too,
// ticking Ready long enough to clear ReadyPeriod rather than being flipped
// back to Stopping every tick by the failover single-leader branch.
func TestFlexScaleUpDoesNotLivelock(t *testing.T) {
	store := clusterstate.NewStore("n1")
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)
	store.ApplyFull("n2", 1, &clusterstate.Node{
		Services: map[string]clusterstate.ServiceNode{"root/svc/web": {Status: "started"}},
		Stats:    clusterstate.NodeStats{Load15m: 1, MemAvail: 50, SwapAvail: 50},
	})

	orch := New(store, "n1", time.Now().Add(-time.Hour))
	obj := NewObject("root/svc/web")
	obj.ClusterType = "flex"
	obj.FlexMin = 2
	obj.FlexMax = 3
	obj.Resources = []*ResourceState{{ID: "app", Driver: &driver.Noop{KindName: "app"}, RestartBudget: 3}}
	orch.AddObject(obj)

	now := time.Now()
	orch.Tick(context.Background(), now, true)
	if obj.Local() != StateReady {
		t.Fatalf("expected ready after first tick, got %s", obj.Local())
	}

	// A buggy unconditional-stop branch would flip this back to Stopping
	// here instead of letting ReadyPeriod elapse.
	orch.Tick(context.Background(), now.Add(orch.ReadyPeriod/2), true)
	if obj.Local() != StateReady {
		t.Fatalf("expected still ready mid-grace-period, got %s", obj.Local())
	}

	orch.Tick(context.Background(), now.Add(orch.ReadyPeriod+time.Second), true)
	if obj.Local() != StateStarting {
		t.Fatalf("expected starting after ready_period elapses, got %s", obj.Local())
	}

	orch.Tick(context.Background(), now.Add(orch.ReadyPeriod+2*time.Second), true)
	if obj.Local() != StateStarted {
		t.Fatalf("expected started once flex scale-up completes, got %s", obj.Local())
	}
}

// TestFlexScaleDownStopsWorstScoredRunner covers the scale-down half of the
// same invariant: when running exceeds FlexMax, the worst-scored running
// node (self, here) is the one trimmed, not kept running indefinitely.
func TestFlexScaleDownStopsWorstScoredRunner(t *testing.T) {
	store := clusterstate.NewStore("n1")
	setExpect(t, store, "root/svc/web", ExpectStarted, 1)
	// n1 (self) scores worse than n2; both already running, but FlexMax=1.
	if _, err := store.UpdateLocal([]string{"stats", "load_15m"}, 10.0); err != nil {
		t.Fatalf("set local stat: %v", err)
	}
	store.ApplyFull("n2", 1, &clusterstate.Node{
		Services: map[string]clusterstate.ServiceNode{"root/svc/web": {Status: "started"}},
		Stats:    clusterstate.NodeStats{Load15m: 1, MemAvail: 50, SwapAvail: 50},
	})

	orch := New(store, "n1", time.Now().Add(-time.Hour))
	obj := NewObject("root/svc/web")
	obj.ClusterType = "flex"
	obj.FlexMin = 1
	obj.FlexMax = 1
	obj.Resources = []*ResourceState{{ID: "app", Driver: &driver.Noop{KindName: "app"}, RestartBudget: 3}}
	obj.mu.Lock()
	obj.local = StateStarted
	obj.mu.Unlock()
	orch.AddObject(obj)

	orch.Tick(context.Background(), time.Now(), true)
	if obj.Local() != StateStopping {
		t.Fatalf("expected self (worst-scored running node) to start stopping, got %s", obj.Local())
	}
}
