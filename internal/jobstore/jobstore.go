// Package jobstore is the persistence contract for scan and firmware
// job records consumed by the Worker Loop. Grounded on worker/main.py's
// Scan/FirmwareJob row lifecycle (load, mark running, mark terminal);
// like internal/inventory, the actual persistence engine is out of
// scope, so this package defines the contract plus an in-memory
// reference implementation.
package jobstore

import (
	"context"
	"sync"

	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
)

// ScanStore loads and saves jobmodel.ScanJob records.
type ScanStore interface {
	Get(ctx context.Context, id string) (jobmodel.ScanJob, bool, error)
	Save(ctx context.Context, job jobmodel.ScanJob) error
}

// FirmwareStore loads and saves jobmodel.FirmwareJob records.
type FirmwareStore interface {
	Get(ctx context.Context, id string) (jobmodel.FirmwareJob, bool, error)
	Save(ctx context.Context, job jobmodel.FirmwareJob) error
}

// MemoryScanStore is an in-process reference ScanStore.
type MemoryScanStore struct {
	mu   sync.RWMutex
	jobs map[string]jobmodel.ScanJob
}

// NewMemoryScanStore constructs an empty MemoryScanStore.
func NewMemoryScanStore() *MemoryScanStore {
	return &MemoryScanStore{jobs: make(map[string]jobmodel.ScanJob)}
}

func (s *MemoryScanStore) Get(ctx context.Context, id string) (jobmodel.ScanJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryScanStore) Save(ctx context.Context, job jobmodel.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// MemoryFirmwareStore is an in-process reference FirmwareStore.
type MemoryFirmwareStore struct {
	mu   sync.RWMutex
	jobs map[string]jobmodel.FirmwareJob
}

// NewMemoryFirmwareStore constructs an empty MemoryFirmwareStore.
func NewMemoryFirmwareStore() *MemoryFirmwareStore {
	return &MemoryFirmwareStore{jobs: make(map[string]jobmodel.FirmwareJob)}
}

func (s *MemoryFirmwareStore) Get(ctx context.Context, id string) (jobmodel.FirmwareJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryFirmwareStore) Save(ctx context.Context, job jobmodel.FirmwareJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}
