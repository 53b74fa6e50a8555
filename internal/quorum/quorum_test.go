package quorum

import "testing"

func TestEvaluateDisabledAlwaysHolds(t *testing.T) {
	q := NewEvaluator(false, 4, nil, nil)
	r := q.Evaluate(1)
	if !r.Held {
		t.Fatalf("disabled evaluator must always hold quorum")
	}
}

func TestEvaluateMajorityHoldsWithoutArbitrator(t *testing.T) {
	q := NewEvaluator(true, 3, nil, nil)
	r := q.Evaluate(2) // 2 of 3, majority
	if !r.Held {
		t.Fatalf("expected quorum held with 2/3 votes")
	}
	if len(r.ConsultedArbitrators) != 0 {
		t.Fatalf("majority already satisfied, must not consult arbitrators")
	}
}

func TestEvaluateMinorityFiresSuicideHookWithNoArbitrators(t *testing.T) {
	fired := false
	var reason string
	q := NewEvaluator(true, 4, nil, func(r string) {
		fired = true
		reason = r
	})
	result := q.Evaluate(1) // 1 of 4, no arbitrators configured
	if result.Held {
		t.Fatalf("expected quorum lost with 1/4 votes and no arbitrators")
	}
	if !fired {
		t.Fatalf("expected suicide hook to fire")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty suicide reason")
	}
}

func TestEvaluateSuicideHookFiresOnceUntilRecovered(t *testing.T) {
	calls := 0
	q := NewEvaluator(true, 4, nil, func(string) { calls++ })
	q.Evaluate(1)
	q.Evaluate(1) // still lost, must not refire
	if calls != 1 {
		t.Fatalf("expected suicide hook called once while still halted, got %d", calls)
	}
	q.Evaluate(3) // quorum regained
	if q.Halted() {
		t.Fatalf("expected halted=false after quorum regained")
	}
}
