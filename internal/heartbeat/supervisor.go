package heartbeat

import (
	"log"
	"sync"
	"time"
)

// Supervisor aggregates per-driver PeerRecords into one beating/stale
// verdict per peer: a peer is beating iff at least one driver marks it so
// (spec.md §4.5). Edge transitions drive clusterstate.ForgetPeer (via
// OnStale) and full-resend requests (via OnBeating).
type Supervisor struct {
	mu      sync.Mutex
	drivers []Driver
	timeout time.Duration

	aggregate map[string]bool // peer -> last known aggregate beating verdict

	OnStale   func(peer string)
	OnBeating func(peer string)
}

// NewSupervisor returns a Supervisor over drivers with the given
// stale-after timeout.
func NewSupervisor(drivers []Driver, timeout time.Duration) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{
		drivers:   drivers,
		timeout:   timeout,
		aggregate: make(map[string]bool),
	}
}

// Tick recomputes the aggregate verdict for every peer known to any driver
// and fires edge callbacks. Call this once per monitor/hb tick.
func (s *Supervisor) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	verdicts := make(map[string]bool)
	for _, d := range s.drivers {
		for peer, rec := range d.Status() {
			beating := rec.Beating && now.Sub(rec.Last) <= s.timeout
			if beating {
				verdicts[peer] = true
			} else if _, ok := verdicts[peer]; !ok {
				verdicts[peer] = false
			}
		}
	}

	for peer, beating := range verdicts {
		was, known := s.aggregate[peer]
		s.aggregate[peer] = beating
		if !known {
			if beating {
				log.Printf("heartbeat: peer %s first beat", peer)
			}
			continue
		}
		if was == beating {
			continue
		}
		if beating {
			log.Printf("heartbeat: peer %s stale => beating", peer)
			if s.OnBeating != nil {
				s.OnBeating(peer)
			}
		} else {
			log.Printf("heartbeat: peer %s beating => stale", peer)
			if s.OnStale != nil {
				s.OnStale(peer)
			}
		}
	}
}

// LiveVotes returns 1 (self) plus the count of currently-beating peers,
// feeding the quorum test in spec.md §4.10 and §8.
func (s *Supervisor) LiveVotes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	votes := 1
	for _, beating := range s.aggregate {
		if beating {
			votes++
		}
	}
	return votes
}

// IsBeating reports the current aggregate verdict for peer.
func (s *Supervisor) IsBeating(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregate[peer]
}

// BroadcastAll sends payload on every driver; per-driver send errors are
// logged but never propagated, since hb send is best-effort by contract.
func (s *Supervisor) BroadcastAll(payload []byte) {
	for _, d := range s.drivers {
		if err := d.Send(payload); err != nil {
			log.Printf("heartbeat: %s send: %v", d.Name(), err)
		}
	}
}
