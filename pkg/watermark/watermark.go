// Package watermark keeps the last extracted update-column value of every
// table so polling can resume where it stopped.
//
// Two stores implement the same contract: FileStore persists the map as a
// YAML document and MemoryStore keeps it for the lifetime of the process.
// Both are written by a single goroutine (the extraction scheduler); the
// internal lock only protects concurrent readers such as health endpoints.
package watermark

import (
	"math"
	"time"
)

// LastRecordsKey is the top-level key holding the per-table checkpoints
const LastRecordsKey = "last_records"

// TimeLayout is how time checkpoints are stored: UTC wall-clock time without
// an offset. Source sessions run in UTC so the text compares correctly with
// both zoned and zone-less timestamp columns.
const TimeLayout = "2006-01-02 15:04:05.999999999"

// Map associates a table name with its checkpoint
type Map map[string]interface{}

// Clone returns a shallow copy of m
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store persists per-table checkpoints
type Store interface {
	// Load reads the persisted map, replacing any in-memory state
	Load() (Map, error)
	// Get returns the checkpoint of a table
	Get(table string) (interface{}, bool)
	// Set records a new checkpoint for a table
	Set(table string, checkpoint interface{})
	// Persist writes the whole map to durable storage
	Persist() error
	// Snapshot returns a copy of the current map
	Snapshot() Map
}

// Normalize converts a checkpoint into the canonical representation kept by
// the stores, so that a persisted and reloaded value compares equal to the
// value that was set.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return normalizeUint(uint64(val))
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return normalizeUint(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(TimeLayout)
	default:
		return v
	}
}

func normalizeUint(v uint64) interface{} {
	if v <= math.MaxInt64 {
		return int64(v)
	}
	return v
}

// Open returns a FileStore for path, or a MemoryStore when path is empty.
// The boolean reports that the returned store is not durable so callers can
// warn about it.
func Open(path string) (Store, bool, error) {
	if path == "" {
		s := NewMemoryStore()
		return s, true, nil
	}

	s := NewFileStore(path)
	if _, err := s.Load(); err != nil {
		return nil, false, err
	}
	return s, false, nil
}
