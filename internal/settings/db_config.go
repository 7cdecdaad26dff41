package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// policySnapshot holds the in-memory copy of the settings table.
type policySnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Value // stores policySnapshot

func init() {
	current.Store(policySnapshot{values: map[string]json.RawMessage{}})
}

// Store replaces the in-memory snapshot of DB-backed settings.
func Store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		next[key] = cloneRaw(v)
	}
	current.Store(policySnapshot{updatedAt: updatedAt.UTC(), values: next})
}

// UpdatedAt returns the newest update time seen in the settings table.
func UpdatedAt() time.Time {
	return load().updatedAt
}

// Value returns a copy of the raw JSON value stored for key.
func Value(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := load().values[key]
	if !ok {
		return nil, false
	}
	return cloneRaw(val), true
}

// All returns a copy of every stored value.
func All() map[string]json.RawMessage {
	snap := load()
	out := make(map[string]json.RawMessage, len(snap.values))
	for k, v := range snap.values {
		out[k] = cloneRaw(v)
	}
	return out
}

func load() policySnapshot {
	snap, ok := current.Load().(policySnapshot)
	if !ok || snap.values == nil {
		return policySnapshot{updatedAt: snap.updatedAt, values: map[string]json.RawMessage{}}
	}
	return snap
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	copied := make([]byte, len(v))
	copy(copied, v)
	return copied
}
