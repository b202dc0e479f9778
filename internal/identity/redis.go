package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
)

const keyPrefix = "arena"

// userKey returns the storage key for an account directory key.
func userKey(key string) string {
	return fmt.Sprintf("%s:users:%s", keyPrefix, key)
}

// sessionIndexKey returns the key for the session -> directory-key index,
// which backs the equality-filtered session query.
func sessionIndexKey(session string) string {
	return fmt.Sprintf("%s:idx:session:%s", keyPrefix, session)
}

// accessCodeKey holds the single rotating registration gate value.
const accessCodeKey = keyPrefix + ":regAccessCode"

// indexable reports whether a session value belongs in the session index.
func indexable(session string) bool {
	return session != "" && session != InvalidSession
}

// RedisStore is a Redis-backed implementation of Store. Every call is bounded
// by the configured per-operation timeout and retried on transient failure.
type RedisStore struct {
	client *redis.Client
	cfg    config.IdentityConfig
	logger *zap.Logger
}

// NewRedisStore connects to the identity store and verifies the connection.
//
// Precondition: cfg.URL must be a valid Redis URL; logger must be non-nil.
// Postcondition: Returns a store with a live connection, or a non-nil error.
func NewRedisStore(cfg config.IdentityConfig, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing identity store URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging identity store: %w", err)
	}

	return &RedisStore{client: client, cfg: cfg, logger: logger}, nil
}

// NewRedisStoreWithClient wraps an existing client (for testing).
func NewRedisStoreWithClient(client *redis.Client, cfg config.IdentityConfig, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, cfg: cfg, logger: logger}
}

// Close closes the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies the store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)

// withRetry runs fn with a per-attempt timeout, retrying transient failures
// with linear backoff. A redis.Nil miss is returned immediately; exhausted
// retries wrap ErrStoreUnavailable.
func (s *RedisStore) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}
		lastErr = err
		s.logger.Warn("identity store call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%s after %d attempts: %w",
		op, s.cfg.MaxRetries+1, errors.Join(ErrStoreUnavailable, lastErr))
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*Account, error) {
	var data []byte
	err := s.withRetry(ctx, "get", func(ctx context.Context) error {
		b, err := s.client.Get(ctx, userKey(key)).Bytes()
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("decoding account %s: %w", key, err)
	}
	return &acct, nil
}

// Set implements Store. The session index is kept in step with the document:
// a replaced session token is unindexed and the new one indexed in the same
// pipeline as the document write.
func (s *RedisStore) Set(ctx context.Context, key string, acct Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encoding account %s: %w", key, err)
	}

	return s.withRetry(ctx, "set", func(ctx context.Context) error {
		oldSession, err := s.currentSession(ctx, key)
		if err != nil {
			return err
		}

		pipe := s.client.Pipeline()
		if indexable(oldSession) && oldSession != acct.Session {
			pipe.Del(ctx, sessionIndexKey(oldSession))
		}
		pipe.Set(ctx, userKey(key), data, 0)
		if indexable(acct.Session) {
			pipe.Set(ctx, sessionIndexKey(acct.Session), key, 0)
		}
		_, err = pipe.Exec(ctx)
		return err
	})
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, key string, mutate func(*Account)) error {
	acct, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	mutate(acct)
	return s.Set(ctx, key, *acct)
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.withRetry(ctx, "remove", func(ctx context.Context) error {
		oldSession, err := s.currentSession(ctx, key)
		if err != nil {
			return err
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, userKey(key))
		if indexable(oldSession) {
			pipe.Del(ctx, sessionIndexKey(oldSession))
		}
		_, err = pipe.Exec(ctx)
		return err
	})
}

// FindBySession implements Store. The index entry is verified against the
// document so a stale index can never authenticate an old token.
func (s *RedisStore) FindBySession(ctx context.Context, session string) (string, *Account, error) {
	if !indexable(session) {
		return "", nil, ErrAccountNotFound
	}

	var key string
	err := s.withRetry(ctx, "find_by_session", func(ctx context.Context) error {
		k, err := s.client.Get(ctx, sessionIndexKey(session)).Result()
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, ErrAccountNotFound
		}
		return "", nil, err
	}

	acct, err := s.Get(ctx, key)
	if err != nil {
		return "", nil, err
	}
	if acct.Session != session {
		return "", nil, ErrAccountNotFound
	}
	return key, acct, nil
}

// AccessCode implements Store. A missing code is bootstrapped with SETNX so
// concurrent bootstrappers agree on one value.
func (s *RedisStore) AccessCode(ctx context.Context) (string, error) {
	var code string
	err := s.withRetry(ctx, "access_code", func(ctx context.Context) error {
		c, err := s.client.Get(ctx, accessCodeKey).Result()
		if err == nil {
			code = c
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}

		fresh, err := NewAccessCode()
		if err != nil {
			return err
		}
		claimed, err := s.client.SetNX(ctx, accessCodeKey, fresh, 0).Result()
		if err != nil {
			return err
		}
		if claimed {
			code = fresh
			return nil
		}
		c, err = s.client.Get(ctx, accessCodeKey).Result()
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// RotateAccessCode implements Store.
func (s *RedisStore) RotateAccessCode(ctx context.Context) (string, error) {
	fresh, err := NewAccessCode()
	if err != nil {
		return "", err
	}
	err = s.withRetry(ctx, "rotate_access_code", func(ctx context.Context) error {
		return s.client.Set(ctx, accessCodeKey, fresh, 0).Err()
	})
	if err != nil {
		return "", err
	}
	return fresh, nil
}

// currentSession reads the session field of an existing document, returning
// "" when no document exists.
func (s *RedisStore) currentSession(ctx context.Context, key string) (string, error) {
	data, err := s.client.Get(ctx, userKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	var prev Account
	if err := json.Unmarshal(data, &prev); err != nil {
		return "", nil
	}
	return prev.Session, nil
}
