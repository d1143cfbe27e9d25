package token

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// Cache is the live, process-local credential store consulted on every
// request. A single mutex guards the whole map; all compound operations
// are atomic with respect to concurrent access.
//
// The Cache is not a substitute for the FileStore: its contents are lost
// on restart and must be repopulated by the restore orchestrator.
type Cache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	records map[string]*Record
}

// NewCache creates a cache using the wall clock.
func NewCache() *Cache {
	return NewCacheWithClock(clockwork.NewRealClock())
}

// NewCacheWithClock creates a cache with an injected clock for tests.
func NewCacheWithClock(clock clockwork.Clock) *Cache {
	return &Cache{
		clock:   clock,
		records: make(map[string]*Record),
	}
}

// Store records a credential for an identity, overwriting any prior
// entry. Expiry is computed from the submission's expires_in (default
// one hour) at the time of the call.
func (c *Cache) Store(identity string, fields Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[identity] = newRecord(fields, c.clock.Now())
}

// Get returns a copy of the stored record, or false if absent.
func (c *Cache) Get(identity string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[identity]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// IsValid reports whether a usable credential exists for the identity.
// A credential within the safety buffer of its expiry counts as invalid
// even though it has not technically expired yet.
func (c *Cache) IsValid(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[identity]
	if !ok {
		return false
	}
	return r.usable(c.clock.Now())
}

// Remove deletes the credential for an identity, if present.
func (c *Cache) Remove(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, identity)
}

// Identities returns the identities that currently have a credential.
func (c *Cache) Identities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes all credentials.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*Record)
}
