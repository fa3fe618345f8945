package engine

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry maps idempotency keys to transaction identifiers. Concurrent
// submissions sharing a key collapse onto a single admission: exactly one
// caller runs the admit function, everyone else blocks until it publishes
// and then receives the same transaction id.
//
// Keys are retained for the lifetime of the process, so the map grows with
// the number of distinct keys accepted. The unique index on the durable
// ledger's idempotency_key column is the backstop across restarts.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]string
	group singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]string)}
}

// Lookup returns the transaction id previously published for key.
func (r *Registry) Lookup(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	return id, ok
}

// Admit runs fn for the first caller of key and publishes its transaction id.
// The returned duplicate flag is false only for the caller whose fn actually
// ran. If fn fails nothing is published and the key is free for resubmission.
func (r *Registry) Admit(key string, fn func() (string, error)) (txID string, duplicate bool, err error) {
	if id, ok := r.Lookup(key); ok {
		return id, true, nil
	}

	var fresh bool
	value, err, _ := r.group.Do(key, func() (any, error) {
		// A completed flight may have published between Lookup and Do.
		if id, ok := r.Lookup(key); ok {
			return id, nil
		}

		id, err := fn()
		if err != nil {
			return nil, err
		}

		r.Publish(key, id)
		fresh = true
		return id, nil
	})
	if err != nil {
		return "", false, err
	}

	return value.(string), !fresh, nil
}

// Publish records a key that was admitted outside of Admit, such as records
// reloaded from the durable ledger during startup recovery.
func (r *Registry) Publish(key, txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKey[key] = txID
}

// Len returns the number of published keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byKey)
}
