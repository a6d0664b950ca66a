package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// Lease keeps a sweep single-writer across processes. Acquire returns
// model.ErrSweepInProgress when another holder has it.
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

var errLeaseLost = errors.New("sweep lease expired before release")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLease is a SET NX lease with a TTL so a crashed holder cannot block
// sweeps forever.
type RedisLease struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

func NewRedisLease(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = "leadvault:sweep:lease"
	}
	return &RedisLease{rdb: rdb, key: key, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !ok {
		return nil, model.ErrSweepInProgress
	}
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("release sweep lease: %w", err)
		}
		if n == 0 {
			return errLeaseLost
		}
		return nil
	}, nil
}
