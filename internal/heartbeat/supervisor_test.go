package heartbeat

import (
	"context"
	"testing"
	"time"
)

// fakeDriver lets tests control Status() directly without real sockets.
type fakeDriver struct {
	name   string
	status map[string]PeerRecord
}

func (f *fakeDriver) Name() string                         { return f.name }
func (f *fakeDriver) Send([]byte) error                     { return nil }
func (f *fakeDriver) Recv(ctx context.Context) (string, []byte, error) {
	<-ctx.Done()
	return "", nil, ctx.Err()
}
func (f *fakeDriver) Status() map[string]PeerRecord { return f.status }
func (f *fakeDriver) Close() error                  { return nil }

func TestSupervisorAggregatesAcrossDrivers(t *testing.T) {
	now := time.Now()
	unicast := &fakeDriver{name: "unicast", status: map[string]PeerRecord{
		"n2": {Last: now.Add(-20 * time.Second), Beating: true}, // stale by timeout
	}}
	multicast := &fakeDriver{name: "multicast", status: map[string]PeerRecord{
		"n2": {Last: now, Beating: true}, // fresh
	}}
	s := NewSupervisor([]Driver{unicast, multicast}, 15*time.Second)
	s.Tick(now)
	if !s.IsBeating("n2") {
		t.Fatalf("n2 should be beating: at least one driver has a fresh record")
	}
}

func TestSupervisorStaleFiresOnStale(t *testing.T) {
	now := time.Now()
	d := &fakeDriver{name: "unicast", status: map[string]PeerRecord{
		"n2": {Last: now, Beating: true},
	}}
	s := NewSupervisor([]Driver{d}, 15*time.Second)
	s.Tick(now)
	if !s.IsBeating("n2") {
		t.Fatalf("expected n2 beating after first tick")
	}

	var staleFired string
	s.OnStale = func(peer string) { staleFired = peer }

	later := now.Add(20 * time.Second)
	d.status["n2"] = PeerRecord{Last: now, Beating: true} // record not refreshed, now stale
	s.Tick(later)
	if s.IsBeating("n2") {
		t.Fatalf("expected n2 stale after timeout elapsed")
	}
	if staleFired != "n2" {
		t.Fatalf("expected OnStale(n2), got %q", staleFired)
	}
}

func TestSupervisorBeatingEdgeFiresOnBeating(t *testing.T) {
	now := time.Now()
	d := &fakeDriver{name: "unicast", status: map[string]PeerRecord{
		"n2": {Last: now.Add(-20 * time.Second), Beating: true},
	}}
	s := NewSupervisor([]Driver{d}, 15*time.Second)
	s.Tick(now) // starts stale

	var beatingFired string
	s.OnBeating = func(peer string) { beatingFired = peer }

	d.status["n2"] = PeerRecord{Last: now, Beating: true}
	s.Tick(now)
	if beatingFired != "n2" {
		t.Fatalf("expected OnBeating(n2), got %q", beatingFired)
	}
}

func TestLiveVotesCountsSelfPlusBeatingPeers(t *testing.T) {
	now := time.Now()
	d := &fakeDriver{name: "unicast", status: map[string]PeerRecord{
		"n2": {Last: now, Beating: true},
		"n3": {Last: now.Add(-1 * time.Hour), Beating: true}, // stale, not counted
	}}
	s := NewSupervisor([]Driver{d}, 15*time.Second)
	s.Tick(now)
	if got := s.LiveVotes(); got != 2 {
		t.Fatalf("LiveVotes() = %d, want 2 (self + n2)", got)
	}
}
