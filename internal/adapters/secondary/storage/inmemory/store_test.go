package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/cache"
	"github.com/admin/agro-bots/farm-insights/internal/repository/storetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRepos(t *testing.T) storetest.Repos {
	t.Helper()
	s := New()
	return storetest.Repos{
		Farms:        s.Farms(),
		Observations: s.Observations(),
		Ledger:       s.Ledger(),
		Insights:     s.Insights(),
		Rewards:      s.Rewards(),
	}
}

func TestStore_Compliance(t *testing.T) {
	storetest.Run(t, makeRepos)
}

func TestStore_RepairAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	user := uuid.New()

	entry, err := domain.NewCredit(user, 40, "seed", time.Now())
	require.NoError(t, err)
	_, err = s.Ledger().Append(ctx, entry)
	require.NoError(t, err)

	s.CorruptMemo(user, 7)
	accounts, err := s.Ledger().Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.False(t, accounts[0].Consistent())

	require.NoError(t, s.Ledger().RepairAccount(ctx, user))
	accounts, err = s.Ledger().Accounts(ctx)
	require.NoError(t, err)
	assert.True(t, accounts[0].Consistent())
	assert.EqualValues(t, 40, accounts[0].Memo)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := keyedMutex{locks: make(map[uuid.UUID]*keyedLock)}
	key := uuid.New()

	unlock := k.Lock(key)
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Empty(t, k.locks)
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "k2", "v2", 0))
	require.NoError(t, c.Delete(ctx, "k2"))
	_, err = c.Get(ctx, "k2")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_SetIfVersion(t *testing.T) {
	ctx := context.Background()
	c := NewCache()

	v, err := c.Version(ctx, "ver")
	require.NoError(t, err)
	assert.Zero(t, v)

	ok, err := c.SetIfVersion(ctx, "ver", v, "k", "old", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Bump(ctx, "ver", time.Hour, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)

	ok, err = c.SetIfVersion(ctx, "ver", v, "k", "stale", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)

	v, err = c.Version(ctx, "ver")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
