package store

import (
	"sync"

	"github.com/rhuidobro/renderq/pkg/models"
)

// MemoryStore is an in-memory implementation of the job record store
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[Partition]map[string]*models.JobRecord
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: map[Partition]map[string]*models.JobRecord{
			PartitionActive:   make(map[string]*models.JobRecord),
			PartitionTerminal: make(map[string]*models.JobRecord),
		},
	}
}

// Put stores a record under the given partition and id
func (s *MemoryStore) Put(partition Partition, id string, record *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.partitions[partition][id] = &copied
	return nil
}

// Get retrieves a record by partition and id
func (s *MemoryStore) Get(partition Partition, id string) (*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.partitions[partition][id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *record
	return &copied, nil
}

// Delete removes a record; deleting a missing id returns ErrJobNotFound
func (s *MemoryStore) Delete(partition Partition, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[partition][id]; !ok {
		return ErrJobNotFound
	}
	delete(s.partitions[partition], id)
	return nil
}

// Scan returns a snapshot of all records in a partition
func (s *MemoryStore) Scan(partition Partition) (map[string]*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.JobRecord, len(s.partitions[partition]))
	for id, record := range s.partitions[partition] {
		copied := *record
		out[id] = &copied
	}
	return out, nil
}

// Move relocates a record between partitions atomically
func (s *MemoryStore) Move(id string, from, to Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.partitions[from][id]
	if !ok {
		return ErrJobNotFound
	}
	s.partitions[to][id] = record
	delete(s.partitions[from], id)
	return nil
}

// Lookup searches both partitions for an id, active first
func (s *MemoryStore) Lookup(id string) (*models.JobRecord, Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, partition := range []Partition{PartitionActive, PartitionTerminal} {
		if record, ok := s.partitions[partition][id]; ok {
			copied := *record
			return &copied, partition, nil
		}
	}
	return nil, "", ErrJobNotFound
}

// Purge removes an id from both partitions
func (s *MemoryStore) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partitions[PartitionActive], id)
	delete(s.partitions[PartitionTerminal], id)
	return nil
}

// Ping reports store health; the in-memory store is always available
func (s *MemoryStore) Ping() error { return nil }

// Close releases resources
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
