package store

import (
	"sync"

	"busmap/internal/domain"
)

// DatasetStore owns the current dataset. Datasets are immutable once stored,
// so readers share the snapshot without copying.
type DatasetStore struct {
	mu      sync.RWMutex
	current *domain.Dataset
	version uint64
}

func New() *DatasetStore {
	return &DatasetStore{}
}

// Replace stores ds as the next version and returns the stored snapshot.
func (s *DatasetStore) Replace(ds *domain.Dataset) *domain.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	next := ds.WithVersion(s.version)
	s.current = next
	return next
}

// Current returns the latest dataset or nil before the first load.
func (s *DatasetStore) Current() *domain.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *DatasetStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *DatasetStore) Count() int {
	return s.Current().Len()
}
