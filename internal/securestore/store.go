// Package securestore provides the device-local secure key/value store
// used as the fast path for conversation keys. It is a cache, never a
// source of truth: the shared conversation record always wins, and a
// missing or failing local store must only cost a lookup, not
// correctness.
package securestore

import "context"

// Store is the minimal local secure-storage surface the key store
// depends on. Values are scoped to the device and assumed confidential;
// durability across reinstall is not assumed.
type Store interface {
	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores or replaces a value.
	Set(ctx context.Context, key, value string) error
}
