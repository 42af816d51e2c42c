package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"

	"caseimport/internal/domain/importing"
	"caseimport/internal/ports"
)

type fakeKV struct {
	mu      sync.Mutex
	entries map[string]fakeKVEntry
	rev     uint64
}

type fakeKVEntry struct {
	value    []byte
	revision uint64
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: make(map[string]fakeKVEntry)}
}

func (f *fakeKV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		return 0, errKVKeyExists
	}
	f.rev++
	f.entries[key] = fakeKVEntry{value: value, revision: f.rev}
	return f.rev, nil
}

func (f *fakeKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[key]
	if !ok || current.revision != revision {
		return 0, errKVWrongRev
	}
	f.rev++
	f.entries[key] = fakeKVEntry{value: value, revision: f.rev}
	return f.rev, nil
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[key]
	if !ok {
		return nil, 0, errKVKeyNotFound
	}
	return current.value, current.revision, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, revision uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[key]
	if !ok {
		return nil
	}
	if current.revision != revision {
		return errKVWrongRev
	}
	delete(f.entries, key)
	return nil
}

type stubBatches struct {
	ports.BatchRepository
	statuses map[string]importing.BatchStatus
}

func (s stubBatches) GetBatch(_ context.Context, batchID string) (importing.ImportBatch, error) {
	status, ok := s.statuses[batchID]
	if !ok {
		return importing.ImportBatch{}, ports.ErrBatchNotFound
	}
	return importing.ImportBatch{ID: batchID, Status: status}, nil
}

func TestKVGuardAcquireRelease(t *testing.T) {
	batches := stubBatches{statuses: map[string]importing.BatchStatus{"b1": importing.StatusProcessing}}
	guard := newKVGuard(newFakeKV(), batches)
	ctx := context.Background()

	if err := guard.Acquire(ctx, "sha256:abc", "b1"); err != nil {
		t.Fatalf("Acquire(b1) error = %v", err)
	}
	if err := guard.Acquire(ctx, "sha256:abc", "b2"); !errors.Is(err, importing.ErrDuplicateSubmission) {
		t.Fatalf("Acquire(b2) error = %v, want ErrDuplicateSubmission", err)
	}
	if err := guard.Acquire(ctx, "sha256:other", "b2"); err != nil {
		t.Fatalf("Acquire(other checksum) error = %v", err)
	}

	if err := guard.Release(ctx, "sha256:abc", "b1"); err != nil {
		t.Fatalf("Release(b1) error = %v", err)
	}
	if err := guard.Acquire(ctx, "sha256:abc", "b3"); err != nil {
		t.Fatalf("Acquire(b3) after release error = %v", err)
	}
}

func TestKVGuardTakesOverTerminalHolder(t *testing.T) {
	batches := stubBatches{statuses: map[string]importing.BatchStatus{"b1": importing.StatusCompleted}}
	kv := newFakeKV()
	guard := newKVGuard(kv, batches)
	ctx := context.Background()

	if err := guard.Acquire(ctx, "sum", "b1"); err != nil {
		t.Fatalf("Acquire(b1) error = %v", err)
	}
	if err := guard.Acquire(ctx, "sum", "b2"); err != nil {
		t.Fatalf("Acquire(b2) over terminal holder error = %v", err)
	}

	// b1 no longer holds the key, so its release must not free b2's guard.
	if err := guard.Release(ctx, "sum", "b1"); err != nil {
		t.Fatalf("Release(b1) error = %v", err)
	}
	batches.statuses["b2"] = importing.StatusProcessing
	if err := guard.Acquire(ctx, "sum", "b4"); !errors.Is(err, importing.ErrDuplicateSubmission) {
		t.Fatalf("Acquire(b4) error = %v, want ErrDuplicateSubmission", err)
	}
}

func TestGuardKeyIsStable(t *testing.T) {
	if guardKey("abc") != guardKey(" abc ") {
		t.Fatalf("guardKey() should ignore surrounding whitespace")
	}
	if guardKey("abc") == guardKey("abd") {
		t.Fatalf("guardKey() collision")
	}
}
