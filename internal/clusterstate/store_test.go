package clusterstate

import (
	"math"
	"testing"
)

func TestUpdateLocalBumpsGenAndEmitsPatch(t *testing.T) {
	s := NewStore("n1")
	var got Patch
	s.OnPatch(func(peer string, p Patch) { got = p })

	patch, err := s.UpdateLocal([]string{"monitor", "status"}, "up")
	if err != nil {
		t.Fatal(err)
	}
	if len(patch) == 0 {
		t.Fatal("expected non-empty patch")
	}
	if s.LocalGen() != 1 {
		t.Errorf("expected gen=1, got %d", s.LocalGen())
	}
	if len(got) == 0 {
		t.Error("onPatch callback should have fired")
	}
	node := s.Node("n1")
	if node.Monitor.Status != "up" {
		t.Errorf("expected status=up, got %q", node.Monitor.Status)
	}
}

// Scenario 6 from spec.md §8: only in-order delivery updates stored_gen;
// out-of-order gaps require a full resend.
func TestApplyRemoteOrderingRules(t *testing.T) {
	s := NewStore("n1")

	// gen=1 applies cleanly.
	needFull, err := s.ApplyRemote("n2", 1, Patch{{Path: []string{"monitor", "status"}, Value: "idle"}})
	if err != nil || needFull {
		t.Fatalf("gen=1 should apply cleanly, needFull=%v err=%v", needFull, err)
	}
	if s.StoredGen("n2") != 1 {
		t.Fatalf("expected storedGen=1, got %d", s.StoredGen("n2"))
	}

	// Stale/duplicate gen=1 again: discarded, no change.
	needFull, err = s.ApplyRemote("n2", 1, Patch{{Path: []string{"monitor", "status"}, Value: "zzz"}})
	if err != nil || needFull {
		t.Fatalf("duplicate gen should be silently discarded, not need full resend")
	}
	if s.StoredGen("n2") != 1 {
		t.Fatal("stored gen should not change for stale patch")
	}

	// Gap: gen=5 when stored=1 -> must request full resend, discard patch.
	needFull, err = s.ApplyRemote("n2", 5, Patch{{Path: []string{"monitor", "status"}, Value: "gap"}})
	if err != nil {
		t.Fatal(err)
	}
	if !needFull {
		t.Fatal("gap in gen sequence should request full resend")
	}
	if s.StoredGen("n2") != 1 {
		t.Fatal("gap patch must not be applied")
	}

	// In-order gen=2 applies.
	needFull, err = s.ApplyRemote("n2", 2, Patch{{Path: []string{"monitor", "status"}, Value: "started"}})
	if err != nil || needFull {
		t.Fatal("gen=2 should apply in order")
	}
	if s.StoredGen("n2") != 2 {
		t.Fatalf("expected storedGen=2, got %d", s.StoredGen("n2"))
	}
}

func TestGenOverflowWrapForcesFullResend(t *testing.T) {
	s := NewStore("n1")
	s.storedGen["n2"] = math.MaxInt64

	needFull, err := s.ApplyRemote("n2", math.MinInt64, Patch{{Path: []string{"monitor", "status"}, Value: "wrapped"}})
	if err != nil {
		t.Fatal(err)
	}
	if !needFull {
		t.Fatal("gen wraparound at 2^63 must force a full resend")
	}
}

func TestForgetPeerTombstones(t *testing.T) {
	s := NewStore("n1")
	s.ApplyRemote("n2", 1, Patch{{Path: []string{"services"}, Value: map[string]interface{}{"root/svc/web": map[string]interface{}{"status": "up"}}}})

	s.ForgetPeer("n2")
	node := s.Node("n2")
	if node.Monitor.Status != "unknown" {
		t.Errorf("expected status=unknown after forget, got %q", node.Monitor.Status)
	}
	if len(node.Services) != 0 {
		t.Errorf("expected services emptied after forget, got %v", node.Services)
	}
}
