package persistence

import (
	"testing"
	"time"

	"tradewise-engine/internal/models"
	"tradewise-engine/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestStrategyRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	s := testutil.GoldenCrossStrategy()
	s.ID = ""
	require.NoError(t, repo.SaveStrategy(s))
	require.NotEmpty(t, s.ID)

	loaded, err := repo.LoadStrategy(s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, s.Name, loaded.Name)
	require.Len(t, loaded.Rules, 2)
	assert.Equal(t, models.CrossesAbove, loaded.Rules[0].Conditions[0].Operator)
	assert.EqualValues(t, 5, loaded.Rules[0].Conditions[0].IndicatorAParams["period"])
}

func TestLoadStrategyErrors(t *testing.T) {
	repo := newTestRepo(t)
	s := testutil.GoldenCrossStrategy()
	require.NoError(t, repo.SaveStrategy(s))

	_, err := repo.LoadStrategy("missing", "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.LoadStrategy(s.ID, "intruder")
	assert.ErrorIs(t, err, models.ErrAccessDenied)

	other := *s
	other.OwnerID = "intruder"
	assert.ErrorIs(t, repo.SaveStrategy(&other), models.ErrAccessDenied, "cannot overwrite another user's strategy")
}

func TestListStrategiesByOwner(t *testing.T) {
	repo := newTestRepo(t)
	a := testutil.Strategy("a")
	a.CreatedAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	b := testutil.Strategy("b")
	b.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := testutil.Strategy("c")
	c.OwnerID = "user-2"
	for _, s := range []*models.Strategy{a, b, c} {
		require.NoError(t, repo.SaveStrategy(s))
	}

	list, err := repo.ListStrategies("user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Name)
	assert.Equal(t, "a", list[1].Name)
}

func TestSubscriptionsAndCascadeDelete(t *testing.T) {
	repo := newTestRepo(t)
	s := testutil.GoldenCrossStrategy()
	require.NoError(t, repo.SaveStrategy(s))

	denied := &models.Subscription{UserID: "intruder", StrategyID: s.ID, Symbol: "BTCUSDT", Active: true}
	assert.ErrorIs(t, repo.SaveSubscription(denied), models.ErrAccessDenied)

	active := &models.Subscription{UserID: "user-1", StrategyID: s.ID, Symbol: "BTCUSDT", Active: true}
	paused := &models.Subscription{UserID: "user-1", StrategyID: s.ID, Symbol: "ETHUSDT", Active: false}
	require.NoError(t, repo.SaveSubscription(active))
	require.NoError(t, repo.SaveSubscription(paused))
	require.NotEmpty(t, active.ID)

	list, err := repo.ListActiveSubscriptions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	state := &models.SubscriptionState{
		SubscriptionID: active.ID,
		Position:       models.Long,
		EntryPrice:     decimal.RequireFromString("101.5"),
		PrevEntry:      true,
	}
	require.NoError(t, repo.SaveState(state))
	loaded, err := repo.LoadState(active.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.Long, loaded.Position)
	assert.True(t, loaded.EntryPrice.Equal(state.EntryPrice))

	missing, err := repo.LoadState("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, repo.DeleteStrategy(s.ID, "intruder"), models.ErrAccessDenied)
	require.NoError(t, repo.DeleteStrategy(s.ID, "user-1"))

	_, err = repo.LoadStrategy(s.ID, "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.LoadSubscription(active.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	gone, err := repo.LoadState(active.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
