// Package store persists normalized record batches and serves them back
// to the analysis core. All timestamps are stored UTC; location keys are
// normalized before they reach the store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/delivery-insights/internal/model"
)

// Store is the persistence interface for normalized delivery records.
type Store interface {
	// SaveBatch persists every record in the batch.
	SaveBatch(ctx context.Context, batch *model.Batch) error

	// LoadBatch returns the full stored record set for an analysis run.
	LoadBatch(ctx context.Context) (*model.Batch, error)

	// GetOrders returns stored orders matching the filter, sorted by id.
	GetOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// MemoryStore keeps a batch in memory. It backs tests and one-shot
// analysis runs that load files directly.
type MemoryStore struct {
	mu    sync.RWMutex
	batch model.Batch
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveBatch(_ context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.Orders = append(s.batch.Orders, batch.Orders...)
	s.batch.FleetLogs = append(s.batch.FleetLogs, batch.FleetLogs...)
	s.batch.WarehouseLogs = append(s.batch.WarehouseLogs, batch.WarehouseLogs...)
	s.batch.ExternalFactors = append(s.batch.ExternalFactors, batch.ExternalFactors...)
	s.batch.Feedback = append(s.batch.Feedback, batch.Feedback...)
	return nil
}

func (s *MemoryStore) LoadBatch(_ context.Context) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := model.Batch{
		Orders:          append([]model.Order(nil), s.batch.Orders...),
		FleetLogs:       append([]model.FleetLogEntry(nil), s.batch.FleetLogs...),
		WarehouseLogs:   append([]model.WarehouseLogEntry(nil), s.batch.WarehouseLogs...),
		ExternalFactors: append([]model.ExternalFactorRecord(nil), s.batch.ExternalFactors...),
		Feedback:        append([]model.FeedbackRecord(nil), s.batch.Feedback...),
	}
	return &out, nil
}

func (s *MemoryStore) GetOrders(_ context.Context, filter model.OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Order
	for i := range s.batch.Orders {
		if filter.Matches(&s.batch.Orders[i]) {
			out = append(out, s.batch.Orders[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
