package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psiqueia/psique-chat/internal/config"
)

// runStoreSuite exercises the Store contract shared by every adapter.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrMiss)
	require.NotErrorIs(t, err, ErrUnavailable)

	require.NoError(t, s.Set(ctx, "chat:messages:a_b", `[{"id":"1"}]`))
	require.NoError(t, s.Set(ctx, "chat:conversations:a", `["a_b"]`))
	require.NoError(t, s.Set(ctx, "chat:conversations:b", `["a_b"]`))
	require.NoError(t, s.Set(ctx, "other", "x"))

	v, err := s.Get(ctx, "chat:messages:a_b")
	require.NoError(t, err)
	require.Equal(t, `[{"id":"1"}]`, v)

	// overwrite
	require.NoError(t, s.Set(ctx, "other", "y"))
	v, err = s.Get(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, "y", v)

	keys, err := s.ListKeys(ctx, "chat:conversations:")
	require.NoError(t, err)
	require.Equal(t, []string{"chat:conversations:a", "chat:conversations:b"}, keys)

	all, err := s.ListKeys(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)

	none, err := s.ListKeys(ctx, "nope:")
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, s.Remove(ctx, "other"))
	require.NoError(t, s.Remove(ctx, "other"), "removing an absent key is not an error")
	_, err = s.Get(ctx, "other")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemoryStore_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	err := m.Set(context.Background(), "k", "v")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().Get(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	runStoreSuite(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "chat:unread:a_b:a", "3"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	v, err := s.Get(ctx, "chat:unread:a_b:a")
	require.NoError(t, err)
	require.Equal(t, "3", v)
}

func TestSQLiteStore_PrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Set(ctx, "a%b", "1"))
	require.NoError(t, s.Set(ctx, "axb", "2"))
	keys, err := s.ListKeys(ctx, "a%")
	require.NoError(t, err)
	require.Equal(t, []string{"a%b"}, keys)
}

type slowStore struct {
	Memory
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, key string) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.Memory.Get(ctx, key)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestWithTimeout(t *testing.T) {
	slow := &slowStore{Memory: Memory{data: map[string]string{"k": "v"}}, delay: 200 * time.Millisecond}
	s := WithTimeout(slow, 20*time.Millisecond)

	_, err := s.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrUnavailable)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	// misses pass through untouched
	_, err = s.Get(context.Background(), "absent")
	require.Error(t, err)

	fast := WithTimeout(NewMemory(), time.Second)
	_, err = fast.Get(context.Background(), "absent")
	require.ErrorIs(t, err, ErrMiss)
	require.NotErrorIs(t, err, ErrUnavailable)
}

func TestWithTimeout_Disabled(t *testing.T) {
	m := NewMemory()
	require.Same(t, Store(m), WithTimeout(m, 0))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Driver: "memory", Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))

	s, err = Open(ctx, config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, ok := s.(*SQLite)
	require.True(t, ok, "zero timeout keeps the bare adapter")

	_, err = Open(ctx, config.StorageConfig{Driver: "cassandra"})
	require.Error(t, err)

	_, err = Open(ctx, config.StorageConfig{Driver: "redis"})
	require.Error(t, err, "redis without url")
}

func TestOpen_SQLiteFallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "missing", "dir", "chat.db"),
	})
	require.NoError(t, err)
	_, ok := s.(*Memory)
	require.True(t, ok)
}

func TestGlobEscape(t *testing.T) {
	require.Equal(t, `chat:conversations:a\*b`, globEscape("chat:conversations:a*b"))
	require.Equal(t, `x\?\[y\]`, globEscape("x?[y]"))
	require.Equal(t, "plain", globEscape("plain"))
}

func TestNormalizeDSN(t *testing.T) {
	require.Equal(t, "postgresql://u:p@h/db", normalizeDSN(" postgresql+asyncpg://u:p@h/db "))
	require.Equal(t, "postgres://u@h/db", normalizeDSN("postgres+pgx://u@h/db"))
}
