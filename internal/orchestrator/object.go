package orchestrator

import (
	"sync"
	"time"

	"svcorb/internal/config"
	"svcorb/internal/driver"
)

// ResourceState tracks one resource's restart budget and monitor-action
// escalation policy, per spec.md §4.9's failure semantics.
type ResourceState struct {
	ID            string
	Driver        driver.Driver
	RestartBudget int // remaining restart attempts before escalation
	Monitor       bool
	MonitorAction MonitorAction
}

// Object is one cluster object's orchestration state: its placement
// policy and local FSM state.
type Object struct {
	Path string

	ClusterType   string          // "failover" | "flex"
	FlexMin       int
	FlexMax       int
	NodesSelector config.Selector // eligible nodes; zero value matches all
	AntiAffinity  []string        // object paths this one must not colocate with

	Resources []*ResourceState

	mu           sync.Mutex
	local        State
	globalExpect GlobalExpect
	readySince   time.Time
	startedAt    time.Time // used for (timestamp, nodename) preemption tie-break
	fencingToken string    // minted fresh on each ready->starting transition
}

// FencingToken returns the current start attempt's fencing token, empty if
// none has been minted yet (object never reached StateStarting).
func (o *Object) FencingToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fencingToken
}

// NewObject returns an Object starting in StateIdle.
func NewObject(path string) *Object {
	return &Object{Path: path, local: StateIdle, ClusterType: "failover", FlexMin: 1, FlexMax: 1}
}

func (o *Object) Local() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.local
}

func (o *Object) setLocal(s State) {
	o.mu.Lock()
	o.local = s
	o.mu.Unlock()
}

// eligible reports whether nodeName, carrying labels, satisfies the
// object's node selector (spec.md §80's AND/OR/NOT/glob/label language).
// A zero-value selector (no nodes keyword configured) matches every node.
func (o *Object) eligible(nodeName string, labels map[string]string) bool {
	return o.NodesSelector.Matches(config.NodeInfo{Name: nodeName, Labels: labels})
}
