package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/arena/internal/config"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.IdentityConfig{
		URL:          "redis://" + mini.Addr(),
		PoolSize:     4,
		OpTimeout:    time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}
	return NewRedisStoreWithClient(client, cfg, zaptest.NewLogger(t))
}

func TestRedisStore_SetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := Account{
		Pass:    "hash",
		Email:   "a@b.com",
		Name:    "Alice",
		Session: "tok|9999999999",
	}
	key := DirectoryKey(acct.Email)
	require.NoError(t, s.Set(ctx, key, acct))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, acct, *got)
}

func TestRedisStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedisStore_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := DirectoryKey("a@b.com")
	require.NoError(t, s.Set(ctx, key, Account{Email: "a@b.com", Name: "Alice"}))

	require.NoError(t, s.Update(ctx, key, func(a *Account) {
		a.Session = InvalidSession
		a.IsBlocked = true
	}))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, InvalidSession, got.Session)
	assert.True(t, got.IsBlocked)
}

func TestRedisStore_UpdateMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), "nope", func(a *Account) {})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedisStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := DirectoryKey("a@b.com")
	require.NoError(t, s.Set(ctx, key, Account{Email: "a@b.com", Session: "tok|9999999999"}))
	require.NoError(t, s.Remove(ctx, key))

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, _, err = s.FindBySession(ctx, "tok|9999999999")
	assert.ErrorIs(t, err, ErrAccountNotFound, "index entry must die with the document")

	assert.NoError(t, s.Remove(ctx, key), "removing a missing key is not an error")
}

func TestRedisStore_FindBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := DirectoryKey("a@b.com")
	acct := Account{Email: "a@b.com", Name: "Alice", Session: "tok|9999999999"}
	require.NoError(t, s.Set(ctx, key, acct))

	gotKey, got, err := s.FindBySession(ctx, "tok|9999999999")
	require.NoError(t, err)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, "Alice", got.Name)

	_, _, err = s.FindBySession(ctx, "other|123")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedisStore_FindBySession_InvalidMarker(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.FindBySession(context.Background(), InvalidSession)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, _, err = s.FindBySession(context.Background(), "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedisStore_SessionReplacedUnindexesOldToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := DirectoryKey("a@b.com")
	require.NoError(t, s.Set(ctx, key, Account{Email: "a@b.com", Session: "old|9999999999"}))
	require.NoError(t, s.Update(ctx, key, func(a *Account) { a.Session = "new|9999999999" }))

	_, _, err := s.FindBySession(ctx, "old|9999999999")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	gotKey, _, err := s.FindBySession(ctx, "new|9999999999")
	require.NoError(t, err)
	assert.Equal(t, key, gotKey)
}

func TestRedisStore_AccessCodeBootstrapAndRotate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code, err := s.AccessCode(ctx)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	again, err := s.AccessCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, again, "bootstrap must be stable")

	rotated, err := s.RotateAccessCode(ctx)
	require.NoError(t, err)
	assert.Len(t, rotated, 6)

	current, err := s.AccessCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotated, current)
}

func TestRedisStore_UnavailableSurfaced(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	cfg := config.IdentityConfig{
		OpTimeout:    100 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}
	s := NewRedisStoreWithClient(client, cfg, zaptest.NewLogger(t))

	mini.Close()

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
