package coordination

import (
	"context"
	"sync"

	"caseimport/internal/ports"
)

// OwnerRegistry tracks batches owned by workers in this process.
type OwnerRegistry struct {
	mu     sync.Mutex
	owners map[string]context.CancelCauseFunc
}

var _ ports.BatchOwnership = (*OwnerRegistry)(nil)

func NewOwnerRegistry() *OwnerRegistry {
	return &OwnerRegistry{owners: make(map[string]context.CancelCauseFunc)}
}

func (r *OwnerRegistry) Claim(batchID string, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, owned := r.owners[batchID]; owned {
		return false
	}
	r.owners[batchID] = cancel
	return true
}

func (r *OwnerRegistry) Release(batchID string) {
	r.mu.Lock()
	delete(r.owners, batchID)
	r.mu.Unlock()
}

func (r *OwnerRegistry) Signal(batchID string, cause error) bool {
	r.mu.Lock()
	cancel, ok := r.owners[batchID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel(cause)
	return true
}

func (r *OwnerRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
