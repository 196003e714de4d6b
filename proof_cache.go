package beacon

import (
	"strings"
	"sync"
	"time"
)

// ProofCache stores payment proofs keyed by (user address, action key) so
// rapid repeated actions of the same type and amount do not pay twice.
// It is a pure client-side cost optimization: the server independently
// verifies every proof, so a stale entry costs one rejected retry, never
// correctness.
//
// The cache is process-local, never shared across users, and cleared for a
// user on logout via InvalidateUser.
type ProofCache struct {
	mu     sync.Mutex
	proofs map[string]PaymentProof
	expiry map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewProofCache creates a proof cache with the given reuse window.
// A zero ttl falls back to DefaultProofTTL.
func NewProofCache(ttl time.Duration) *ProofCache {
	if ttl <= 0 {
		ttl = DefaultProofTTL
	}
	return &ProofCache{
		proofs: make(map[string]PaymentProof),
		expiry: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

func proofKey(user string, action ActionKey) string {
	return user + "|" + string(action)
}

// Get returns the cached proof for (user, action) if one exists and has
// not expired. An entry at or past its TTL is deleted and reported absent
// (lazy eviction, exclusive boundary).
func (c *ProofCache) Get(user string, action ActionKey) (PaymentProof, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := proofKey(user, action)
	exp, ok := c.expiry[key]
	if !ok {
		return PaymentProof{}, false
	}
	if !c.now().Before(exp) {
		delete(c.proofs, key)
		delete(c.expiry, key)
		return PaymentProof{}, false
	}
	return c.proofs[key], true
}

// Put stores a proof for (user, action), resetting its expiry.
func (c *ProofCache) Put(user string, action ActionKey, proof PaymentProof) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := proofKey(user, action)
	c.proofs[key] = proof
	c.expiry[key] = c.now().Add(c.ttl)
}

// Delete drops the entry for (user, action), if any. Used when the server
// rejects a cached proof.
func (c *ProofCache) Delete(user string, action ActionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := proofKey(user, action)
	delete(c.proofs, key)
	delete(c.expiry, key)
}

// InvalidateUser removes every entry belonging to the given user address.
// Called on logout.
func (c *ProofCache) InvalidateUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := user + "|"
	for key := range c.expiry {
		if strings.HasPrefix(key, prefix) {
			delete(c.proofs, key)
			delete(c.expiry, key)
		}
	}
}

// Len reports the number of live entries, sweeping expired ones first.
func (c *ProofCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, exp := range c.expiry {
		if !now.Before(exp) {
			delete(c.proofs, key)
			delete(c.expiry, key)
		}
	}
	return len(c.expiry)
}
