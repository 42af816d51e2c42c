package coordination

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

// kvStore is the subset of a JetStream key-value bucket the guard needs.
type kvStore interface {
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Get(ctx context.Context, key string) (value []byte, revision uint64, err error)
	Delete(ctx context.Context, key string, revision uint64) error
}

var (
	errKVKeyExists   = errors.New("kv key exists")
	errKVKeyNotFound = errors.New("kv key not found")
	errKVWrongRev    = errors.New("kv revision mismatch")
)

type guardHolder struct {
	BatchID string `json:"batchId"`
	HeldAt  string `json:"heldAt"`
}

// KVGuard keeps the checksum guard in a NATS KV bucket. kv.Create is the
// atomic check-and-set; stale holders are replaced with a revision-checked
// kv.Update.
type KVGuard struct {
	kv         kvStore
	batches    ports.BatchRepository
	staleAfter time.Duration
	now        func() time.Time
}

var _ ports.SubmissionGuard = (*KVGuard)(nil)

func NewKVGuard(kv jetstream.KeyValue, batches ports.BatchRepository) *KVGuard {
	return newKVGuard(jetstreamKV{kv: kv}, batches)
}

func newKVGuard(kv kvStore, batches ports.BatchRepository) *KVGuard {
	return &KVGuard{
		kv:         kv,
		batches:    batches,
		staleAfter: DefaultStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (g *KVGuard) Acquire(ctx context.Context, checksum string, batchID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(checksum) == "" {
		return errors.New("checksum is required")
	}

	key := guardKey(checksum)
	now := g.now()
	value, err := json.Marshal(guardHolder{BatchID: batchID, HeldAt: now.Format(time.RFC3339Nano)})
	if err != nil {
		return errs.Wrap(err, "encode guard holder")
	}

	for attempt := 0; attempt < 3; attempt++ {
		if _, err := g.kv.Create(ctx, key, value); err == nil {
			return nil
		} else if !errors.Is(err, errKVKeyExists) {
			return errs.Wrap(err, "create guard key")
		}

		raw, revision, err := g.kv.Get(ctx, key)
		if errors.Is(err, errKVKeyNotFound) {
			continue
		}
		if err != nil {
			return errs.Wrap(err, "get guard key")
		}

		var holder guardHolder
		if err := json.Unmarshal(raw, &holder); err != nil {
			return errs.Wrap(err, "decode guard holder")
		}
		if holder.BatchID == batchID {
			return nil
		}

		heldAt, _ := time.Parse(time.RFC3339Nano, holder.HeldAt)
		stale, err := holderIsStale(ctx, g.batches, holder.BatchID, now.Sub(heldAt) >= g.staleAfter)
		if err != nil {
			return err
		}
		if !stale {
			return fmt.Errorf("%w: checksum held by batch %s", importing.ErrDuplicateSubmission, holder.BatchID)
		}

		if _, err := g.kv.Update(ctx, key, value, revision); err != nil {
			if errors.Is(err, errKVWrongRev) {
				return fmt.Errorf("%w: checksum taken concurrently", importing.ErrDuplicateSubmission)
			}
			return errs.Wrap(err, "take over guard key")
		}
		return nil
	}
	return fmt.Errorf("acquire guard for %s: key kept disappearing", checksum)
}

func (g *KVGuard) Release(ctx context.Context, checksum string, batchID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(checksum) == "" {
		return nil
	}

	key := guardKey(checksum)
	raw, revision, err := g.kv.Get(ctx, key)
	if errors.Is(err, errKVKeyNotFound) {
		return nil
	}
	if err != nil {
		return errs.Wrap(err, "get guard key")
	}

	var holder guardHolder
	if err := json.Unmarshal(raw, &holder); err != nil {
		return errs.Wrap(err, "decode guard holder")
	}
	if holder.BatchID != batchID {
		return nil
	}
	if err := g.kv.Delete(ctx, key, revision); err != nil && !errors.Is(err, errKVWrongRev) {
		return errs.Wrap(err, "delete guard key")
	}
	return nil
}

// guardKey maps any checksum text onto the KV key alphabet.
func guardKey(checksum string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(checksum)))
	return "checksum." + hex.EncodeToString(sum[:])
}

type jetstreamKV struct {
	kv jetstream.KeyValue
}

func (s jetstreamKV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return 0, errKVKeyExists
	}
	return rev, err
}

func (s jetstreamKV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := s.kv.Update(ctx, key, value, revision)
	if isWrongRevision(err) {
		return 0, errKVWrongRev
	}
	return rev, err
}

func (s jetstreamKV) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, 0, errKVKeyNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (s jetstreamKV) Delete(ctx context.Context, key string, revision uint64) error {
	err := s.kv.Delete(ctx, key, jetstream.LastRevision(revision))
	if isWrongRevision(err) {
		return errKVWrongRev
	}
	return err
}

func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}
