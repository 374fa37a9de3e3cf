package watermark

import "sync"

// MemoryStore keeps checkpoints in memory only
type MemoryStore struct {
	mu      sync.RWMutex
	records Map
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(Map)}
}

// Load returns the current map; nothing survives a restart
func (s *MemoryStore) Load() (Map, error) {
	return s.Snapshot(), nil
}

// Get returns the checkpoint of a table
func (s *MemoryStore) Get(table string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[table]
	return v, ok
}

// Set records a new checkpoint for a table
func (s *MemoryStore) Set(table string, checkpoint interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[table] = Normalize(checkpoint)
}

// Persist is a no-op
func (s *MemoryStore) Persist() error {
	return nil
}

// Snapshot returns a copy of the current map
func (s *MemoryStore) Snapshot() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Clone()
}
