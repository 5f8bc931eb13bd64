package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure StateRepository implements optimizer.StateRepository
var _ optimizer.StateRepository = (*StateRepository)(nil)

// StateRepository is an in-memory implementation of the warm-start state store.
type StateRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStateRepository creates a new in-memory state repository.
func NewStateRepository() *StateRepository {
	return &StateRepository{data: make(map[string][]byte)}
}

// Get retrieves the state of a datacenter.
func (r *StateRepository) Get(ctx context.Context, datacenterID string) (*domain.OptimizerState, error) {
	r.mu.RLock()
	raw, ok := r.data[datacenterID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	var s domain.OptimizerState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode optimizer state: %w", err)
	}
	return &s, nil
}

// Save stores a copy of the state.
func (r *StateRepository) Save(ctx context.Context, s *domain.OptimizerState) error {
	// Stored encoded so callers never share the trail maps.
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode optimizer state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.DatacenterID] = raw
	return nil
}

// Delete removes the state of a datacenter.
func (r *StateRepository) Delete(ctx context.Context, datacenterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, datacenterID)
	return nil
}
