package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// numRequestShards bounds the lock table. Requests hashing to the same shard
// share a mutex; requests on different shards never contend.
const numRequestShards = 256

// defaultLockTimeout caps how long a caller waits for its request's shard.
const defaultLockTimeout = 5 * time.Second

// KeyedMutex serializes work per request id using FNV-sharded mutexes.
type KeyedMutex struct {
	shards  [numRequestShards]sync.Mutex
	timeout time.Duration
}

// NewKeyedMutex creates a lock table. A zero timeout uses the default.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &KeyedMutex{timeout: timeout}
}

// WithLock runs fn while holding id's shard. The context is checked before
// and after acquiring the lock so a cancelled caller never mutates state.
func (m *KeyedMutex) WithLock(ctx context.Context, id domain.RequestID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lock %s aborted: %w", id, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	shard := &m.shards[shardOf(id)]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lock %s aborted: %w", id, err)
	}
	return fn(ctx)
}

func shardOf(id domain.RequestID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return h.Sum32() % numRequestShards
}
