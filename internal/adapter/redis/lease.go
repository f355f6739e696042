package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/simaogato/fundpool-backend/internal/logger"
)

// releaseScript deletes the lease only while it still carries our token, so
// a holder whose TTL lapsed cannot free a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease grants cluster-wide exclusive leases backed by SET NX PX.
type Lease struct {
	client redis.UniversalClient
	prefix string
	logger *logger.Logger
}

// NewLease creates a lease store. Keys are namespaced by prefix.
func NewLease(client redis.UniversalClient, prefix string, log *logger.Logger) *Lease {
	return &Lease{client: client, prefix: prefix, logger: logger.OrNop(log)}
}

// Acquire takes the lease on key for ttl. It reports false without error
// when another process holds it.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The caller's context may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release lease", "key", fullKey, "error", err)
		}
	}
	return release, true, nil
}
