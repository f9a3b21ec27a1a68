package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockKeyPrefix = "dcd:lock:"

// releaseScript deletes the lock only while the caller still owns it, in a
// single server-side step. A GET-then-DEL pair would race: if the TTL
// expires and another replica re-acquires between the two calls, the stale
// holder would delete the new owner's lock.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) end return 0`

// lockClient is the slice of the redis client the lock needs.
type lockClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// CycleLock serializes cycles across replicas through Redis. Without it
// the in-process guard already prevents overlap within one process; the
// lock extends that to deployments running more than one instance against
// the same destination.
type CycleLock struct {
	client lockClient
	ttl    time.Duration
	owner  string
	log    zerolog.Logger
}

func NewCycleLock(client lockClient, ttl time.Duration, log zerolog.Logger) *CycleLock {
	return &CycleLock{
		client: client,
		ttl:    ttl,
		owner:  uuid.NewString(),
		log:    log.With().Str("component", "cycle-lock").Logger(),
	}
}

// TryAcquire takes the per-source lock if free. The TTL guards against a
// crashed holder; a healthy holder releases explicitly after its cycle.
func (l *CycleLock) TryAcquire(ctx context.Context, source string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+source, l.owner, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release frees the lock, but only if this instance still owns it. A lock
// that expired and was re-taken by another replica is left alone.
func (l *CycleLock) Release(ctx context.Context, source string) {
	err := l.client.Eval(ctx, releaseScript, []string{lockKeyPrefix + source}, l.owner).Err()
	if err != nil {
		l.log.Warn().Err(err).Str("source", source).Msg("failed to release cycle lock")
	}
}
