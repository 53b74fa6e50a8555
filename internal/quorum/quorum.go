package quorum

import (
	"log"
	"net/http"
	"sync"
)

// QuorumLost is raised when the recomputed vote count (including any
// arbitrator votes) still fails the majority test. Per spec.md §7/§9 this
// is neither recovered nor surfaced to a caller: it triggers the suicide
// hook and suspends orchestration.
type QuorumLost struct {
	Votes      int
	TotalNodes int
}

func (e *QuorumLost) Error() string {
	return "quorum: lost, " + itoa(e.Votes) + " of " + itoa(e.TotalNodes) + " nodes reachable"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Held                 bool
	Votes                int
	ConsultedArbitrators []string
}

// Evaluator holds the arbitrator-backed majority test (spec.md §4.10).
// Enabled gates whether quorum loss is enforced at all (cluster_type
// single-node deployments run with Enabled=false).
type Evaluator struct {
	Enabled     bool
	TotalNodes  int
	Arbitrators []Arbitrator
	SuicideHook func(reason string)

	client *http.Client
	mu     sync.Mutex
	halted bool
}

// NewEvaluator returns a ready Evaluator. A nil SuicideHook is replaced
// with a hook that only logs, since a missing collaborator must not panic
// the daemon.
func NewEvaluator(enabled bool, totalNodes int, arbitrators []Arbitrator, suicideHook func(reason string)) *Evaluator {
	if suicideHook == nil {
		suicideHook = func(reason string) {
			log.Printf("quorum: suicide_hook not configured, reason=%q (orchestration suspended only)", reason)
		}
	}
	return &Evaluator{
		Enabled:     enabled,
		TotalNodes:  totalNodes,
		Arbitrators: arbitrators,
		SuicideHook: suicideHook,
		client:      defaultClient(),
	}
}

// Evaluate runs the majority test against liveVotes (self + beating peers,
// from heartbeat.Supervisor.LiveVotes). On failure it consults arbitrators
// sequentially — first success short-circuits, per spec.md §9's "specification
// preserves sequential order because partial quorum changes the decision" —
// and recomputes. If the recomputed vote count still fails the majority
// test, it invokes SuicideHook and reports Held=false.
func (q *Evaluator) Evaluate(liveVotes int) Result {
	if !q.Enabled {
		return Result{Held: true, Votes: liveVotes}
	}
	if liveVotes > q.TotalNodes/2 {
		q.mu.Lock()
		q.halted = false
		q.mu.Unlock()
		return Result{Held: true, Votes: liveVotes}
	}

	votes := liveVotes
	var consulted []string
	for _, arb := range q.Arbitrators {
		ok, err := arb.Ping(q.client)
		consulted = append(consulted, arb.Name)
		if err != nil {
			log.Printf("quorum: arbitrator %s unreachable: %v", arb.Name, err)
			continue
		}
		if ok {
			votes++
			break // first success short-circuits, per spec.md §9
		}
	}

	if votes > q.TotalNodes/2 {
		q.mu.Lock()
		q.halted = false
		q.mu.Unlock()
		return Result{Held: true, Votes: votes, ConsultedArbitrators: consulted}
	}

	q.mu.Lock()
	alreadyHalted := q.halted
	q.halted = true
	q.mu.Unlock()
	if !alreadyHalted {
		q.SuicideHook((&QuorumLost{Votes: votes, TotalNodes: q.TotalNodes}).Error())
	}
	return Result{Held: false, Votes: votes, ConsultedArbitrators: consulted}
}

// Halted reports whether the last Evaluate call left orchestration
// suspended.
func (q *Evaluator) Halted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}
