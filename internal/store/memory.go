package store

import "sync"

// MemoryStore keeps entry timestamps in process memory. It satisfies the same
// timestamp contract as Store but forgets everything on exit; it is meant for
// embedding and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	timestamps map[string]int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{timestamps: make(map[string]int64)}
}

// GetTimestamp returns the timestamp stored for name.
func (m *MemoryStore) GetTimestamp(name string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.timestamps[name]
	return v, ok, nil
}

// SetTimestamp stores the timestamp for name.
func (m *MemoryStore) SetTimestamp(name string, modified int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timestamps[name] = modified
	return nil
}

// Delete forgets name.
func (m *MemoryStore) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timestamps, name)
}

// Len returns the number of stored timestamps.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timestamps)
}
