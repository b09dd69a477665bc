// Package kv provides the key-value backend: JSON documents stored under
// opaque string keys, reachable through get/put/delete. Implementations
// share one interface so the storage adapter does not care whether the
// backend is the embedded SQLite store, an in-memory map, or another
// instance reached over HTTP.
package kv

import (
	"context"
	"encoding/json"
)

// Store is the key-value backend contract.
//
// Get returns ok=false when the key does not exist; a missing key is not an
// error. Put serializes value as JSON and overwrites unconditionally:
// last write wins, there is no compare-and-swap at this layer.
type Store interface {
	Get(ctx context.Context, key string) (data json.RawMessage, ok bool, err error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// marshalValue normalizes a value for storage. Raw JSON passes through
// untouched so the HTTP handler does not re-encode client payloads.
func marshalValue(value any) (json.RawMessage, error) {
	if raw, isRaw := value.(json.RawMessage); isRaw {
		return raw, nil
	}
	return json.Marshal(value)
}
