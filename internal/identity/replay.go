package identity

import (
	"errors"
	"sync"
	"time"
)

// ErrProofReplayed is returned when a proof's jti has already been used.
var ErrProofReplayed = errors.New("proof already used")

// DefaultReplayEntries is the capacity used when NewReplayCache gets n <= 0.
const DefaultReplayEntries = 65536

// ReplayCache remembers the jti of every accepted proof until the proof
// expires. It holds at most max entries; when full, expired entries are
// dropped first and then the entry closest to expiry.
type ReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	max     int
	now     func() time.Time
}

// NewReplayCache creates a ReplayCache holding up to n ids.
func NewReplayCache(n int) *ReplayCache {
	if n <= 0 {
		n = DefaultReplayEntries
	}
	return &ReplayCache{
		entries: make(map[string]time.Time),
		max:     n,
		now:     time.Now,
	}
}

// Use marks p's jti as used. It returns ErrProofReplayed if the jti was
// already used and has not yet expired.
func (c *ReplayCache) Use(p *Proof) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.entries[p.ID]; ok && now.Before(exp) {
		return ErrProofReplayed
	}
	if len(c.entries) >= c.max {
		c.evict(now)
	}
	c.entries[p.ID] = p.ExpiresAt
	return nil
}

// Len returns the number of remembered ids, including expired ones.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict drops expired entries, or the one closest to expiry if none are.
// Callers hold c.mu.
func (c *ReplayCache) evict(now time.Time) {
	var (
		oldest    string
		oldestExp time.Time
	)
	for id, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, id)
			continue
		}
		if oldest == "" || exp.Before(oldestExp) {
			oldest, oldestExp = id, exp
		}
	}
	if len(c.entries) >= c.max && oldest != "" {
		delete(c.entries, oldest)
	}
}
