package security

import (
	"sync"
	"time"
)

// SenderBlacklist tracks consecutive envelope authentication failures per
// sender and blocks a sender after threshold consecutive failures, per
// spec.md §7's AuthError handling: "the sender is added to a local sender
// blacklist after N consecutive failures." Adapted from whitelist.go's
// explicit-registry-with-lookup shape, generalized from a static allowed
// set to a dynamic failure counter.
type SenderBlacklist struct {
	threshold int
	window    time.Duration

	mu       sync.Mutex
	failures map[string]int
	blocked  map[string]time.Time
}

// NewSenderBlacklist returns a blacklist that blocks a sender after
// threshold consecutive authentication failures, for blockFor duration.
func NewSenderBlacklist(threshold int, blockFor time.Duration) *SenderBlacklist {
	if threshold <= 0 {
		threshold = 5
	}
	if blockFor <= 0 {
		blockFor = 10 * time.Minute
	}
	return &SenderBlacklist{
		threshold: threshold,
		window:    blockFor,
		failures:  make(map[string]int),
		blocked:   make(map[string]time.Time),
	}
}

// RecordFailure increments sender's consecutive failure count and returns
// true if this failure just crossed the threshold.
func (b *SenderBlacklist) RecordFailure(sender string) (justBlocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[sender]++
	if b.failures[sender] >= b.threshold {
		if _, already := b.blocked[sender]; !already {
			justBlocked = true
		}
		b.blocked[sender] = time.Now().Add(b.window)
	}
	return justBlocked
}

// RecordSuccess clears sender's failure count — a successful auth resets
// the consecutive-failure streak.
func (b *SenderBlacklist) RecordSuccess(sender string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, sender)
}

// IsBlocked reports whether sender is currently within its block window.
func (b *SenderBlacklist) IsBlocked(sender string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.blocked[sender]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.blocked, sender)
		delete(b.failures, sender)
		return false
	}
	return true
}
