// Package clusterstate holds the merged cluster state tree: the local
// node's authoritative subtree plus read-only mirrors of every peer,
// versioned by a per-peer gen counter, and the JSON-delta patch machinery
// that keeps mirrors in sync.
package clusterstate

// Node mirrors the per-node subtree shape from spec.md §3:
// monitor.nodes.<nodename>.{monitor, services, labels, stats, arbitrators}
type Node struct {
	Monitor     NodeMonitor            `json:"monitor"`
	Services    map[string]ServiceNode `json:"services"`
	Labels      map[string]string      `json:"labels,omitempty"`
	Stats       NodeStats              `json:"stats"`
	Arbitrators []string               `json:"arbitrators,omitempty"`
}

// NodeMonitor is the per-node monitor status block.
type NodeMonitor struct {
	Status        string `json:"status"` // "", "unknown", "idle", ...
	GlobalExpect  string `json:"global_expect,omitempty"`
	LocalExpect   string `json:"local_expect,omitempty"`
	Frozen        bool   `json:"frozen"`
}

// ServiceNode is one object's config+status as seen on a given node.
// GlobalExpect/GlobalExpectAt record this node's most recent request for
// the object's target state; spec.md §4.9 step 2 resolves the
// authoritative global_expect across nodes by picking the highest
// (GlobalExpectAt, nodename) pair.
type ServiceNode struct {
	Config         map[string]string `json:"config,omitempty"`
	Status         string            `json:"status,omitempty"`
	GlobalExpect   string            `json:"global_expect,omitempty"`
	GlobalExpectAt int64             `json:"global_expect_at,omitempty"` // unix nanos

	// FencingToken is a fresh UUID minted each time this node's orchestrator
	// begins a start attempt for the object (spec.md §9's cooperative
	// per-object lease): a peer that observes a newer token for the same
	// object path knows any in-flight start it saw under an older token has
	// been superseded and must not be honored.
	FencingToken string `json:"fencing_token,omitempty"`
}

// NodeStats feeds the orchestrator's placement score (spec.md §4.9 step 4).
type NodeStats struct {
	Load15m   float64 `json:"load_15m"`
	MemAvail  float64 `json:"mem_avail"`
	SwapAvail float64 `json:"swap_avail"`
}

// Score implements spec.md §4.9 step 4's placement formula.
func (s NodeStats) Score() float64 {
	load := s.Load15m
	if load <= 0 {
		load = 0.01
	}
	return (100/load + 100 + s.MemAvail + 2*(100+s.SwapAvail)) / 7
}

// ServiceSummary is the cluster-wide view of one object: monitor.services.<path>
type ServiceSummary struct {
	Avail     string            `json:"avail"`
	Overall   string            `json:"overall"`
	Placement string            `json:"placement"`
	Nodes     map[string]string `json:"nodes"` // nodename -> per-node instance status
}

// Tree is the full cluster state document: monitor.nodes.* and
// monitor.services.*.
type Tree struct {
	Nodes    map[string]*Node           `json:"nodes"`
	Services map[string]*ServiceSummary `json:"services"`
}

// NewTree returns an empty, ready-to-populate Tree.
func NewTree() *Tree {
	return &Tree{
		Nodes:    make(map[string]*Node),
		Services: make(map[string]*ServiceSummary),
	}
}

// EnsureNode returns the Node for name, creating an empty one if absent —
// spec.md §3's invariant "exactly one entry per known peer under
// monitor.nodes" is maintained by always routing peer creation through
// this constructor.
func (t *Tree) EnsureNode(name string) *Node {
	n, ok := t.Nodes[name]
	if !ok {
		n = &Node{Services: make(map[string]ServiceNode), Labels: make(map[string]string)}
		t.Nodes[name] = n
	}
	return n
}
