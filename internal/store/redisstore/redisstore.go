package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/autoreply-agent/internal/errx"
)

const lockPrefix = "autoreply:lock:"

var ErrLockTimeout = errors.New("redisstore: lock wait cancelled")

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store holds conversation locks shared by every server and worker process.
type Store struct {
	rdb     *redis.Client
	lockTTL time.Duration
}

func New(ctx context.Context, addr, password string, db int, lockTTL time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errx.WrapRedis(err)
	}
	return NewWithClient(rdb, lockTTL), nil
}

func NewWithClient(rdb *redis.Client, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = 3 * time.Minute
	}
	return &Store{rdb: rdb, lockTTL: lockTTL}
}

func (s *Store) Ping(ctx context.Context) error {
	return errx.WrapRedis(s.rdb.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Lock acquires key with SET NX PX, polling with backoff until ctx ends. The
// TTL bounds how long a crashed holder can block the conversation.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := lockPrefix + key
	wait := 20 * time.Millisecond

	for {
		ok, err := s.rdb.SetNX(ctx, full, token, s.lockTTL).Result()
		if err != nil {
			return nil, errx.WrapRedis(err)
		}
		if ok {
			break
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
		if wait < 500*time.Millisecond {
			wait *= 2
		}
	}

	return func() {
		// release even when the caller's context is already cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, s.rdb, []string{full}, token).Err()
	}, nil
}
