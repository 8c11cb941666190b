package registry

import (
	"context"
	"sync"

	"github.com/okian/protofold/internal/domain/model"
)

// MemStore implements Store with a mutex-guarded map. Snapshots in,
// snapshots out: callers never share record memory with the store.
type MemStore struct {
	mu        sync.RWMutex
	records   map[string]model.JobRecord
	artifacts map[string][]model.RelaxedStructure
}

// NewMemStore creates an empty in-memory registry.
func NewMemStore() *MemStore {
	return &MemStore{
		records:   make(map[string]model.JobRecord),
		artifacts: make(map[string][]model.RelaxedStructure),
	}
}

// Put inserts or replaces the record snapshot.
func (s *MemStore) Put(ctx context.Context, record model.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.JobID] = cloneRecord(record)
	return nil
}

// Get returns the latest snapshot for jobID.
func (s *MemStore) Get(ctx context.Context, jobID string) (model.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jobID]
	if !ok {
		return model.JobRecord{}, ErrJobNotFound
	}
	return cloneRecord(rec), nil
}

// SetArtifacts stores the ordered artifacts of a finished job.
func (s *MemStore) SetArtifacts(ctx context.Context, jobID string, artifacts []model.RelaxedStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[jobID]; !ok {
		return ErrJobNotFound
	}
	s.artifacts[jobID] = artifacts
	return nil
}

// Artifacts returns the stored artifacts for jobID.
func (s *MemStore) Artifacts(ctx context.Context, jobID string) ([]model.RelaxedStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.records[jobID]; !ok {
		return nil, ErrJobNotFound
	}
	return s.artifacts[jobID], nil
}

// List returns snapshots of all known records.
func (s *MemStore) List(ctx context.Context) []model.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

// Count returns the number of known jobs.
func (s *MemStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// cloneRecord deep-copies the slices and map a record carries so callers
// cannot alias store memory.
func cloneRecord(r model.JobRecord) model.JobRecord {
	out := r
	if r.Timings != nil {
		out.Timings = append([]model.StageTiming(nil), r.Timings...)
	}
	if r.Failures != nil {
		out.Failures = append([]model.FailureRecord(nil), r.Failures...)
	}
	if r.Retries != nil {
		out.Retries = make(map[model.Stage]int, len(r.Retries))
		for k, v := range r.Retries {
			out.Retries[k] = v
		}
	}
	return out
}
