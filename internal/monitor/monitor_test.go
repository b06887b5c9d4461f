package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradewise-engine/internal/models"
	"tradewise-engine/internal/persistence"
	"tradewise-engine/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockNotifier records delivered events. When release is non-nil every
// Notify call blocks until it is closed.
type mockNotifier struct {
	sync.Mutex
	events  []*models.TriggerEvent
	done    chan *models.TriggerEvent
	release chan struct{}
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{done: make(chan *models.TriggerEvent, 64)}
}

func (n *mockNotifier) Notify(_ context.Context, ev *models.TriggerEvent) error {
	if n.release != nil {
		<-n.release
	}
	n.Lock()
	n.events = append(n.events, ev)
	n.Unlock()
	n.done <- ev
	return nil
}

// mockStore is an in-memory Store that signals every SaveState call. When
// release is non-nil every SaveState call blocks until it is closed.
type mockStore struct {
	sync.Mutex
	saved        map[string]*models.SubscriptionState
	saves        int
	saveDoneChan chan bool
	release      chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{saved: make(map[string]*models.SubscriptionState), saveDoneChan: make(chan bool, 64)}
}

func (s *mockStore) LoadStrategy(string, string) (*models.Strategy, error) { return nil, models.ErrNotFound }
func (s *mockStore) ListActiveSubscriptions() ([]*models.Subscription, error) { return nil, nil }

func (s *mockStore) SaveState(state *models.SubscriptionState) error {
	if s.release != nil {
		<-s.release
	}
	s.Lock()
	s.saved[state.SubscriptionID] = state
	s.saves++
	s.Unlock()
	s.saveDoneChan <- true
	return nil
}

func (s *mockStore) LoadState(id string) (*models.SubscriptionState, error) {
	s.Lock()
	defer s.Unlock()
	return s.saved[id], nil
}

var t0 = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func tick(symbol string, sec int, price float64) models.Tick {
	return models.Tick{Symbol: symbol, Price: decimal.NewFromFloat(price), Timestamp: t0.Add(time.Duration(sec) * time.Second)}
}

func activeSub(id, symbol string) models.Subscription {
	return models.Subscription{ID: id, UserID: "user-1", StrategyID: "strat-1", Symbol: symbol, Active: true}
}

func bandStrategy(buyAbove, sellBelow string) *models.Strategy {
	return testutil.Strategy("band",
		testutil.Rule(models.Buy, testutil.ValueCondition("PRICE", nil, models.GreaterThan, buyAbove)),
		testutil.Rule(models.Sell, testutil.ValueCondition("PRICE", nil, models.LessThan, sellBelow)),
	)
}

func feed(t *testing.T, s *SubscriptionState, prices ...float64) []*models.TriggerEvent {
	t.Helper()
	out := make([]*models.TriggerEvent, len(prices))
	start := 0
	if s.hasTick {
		start = int(s.lastTick.Sub(t0)/time.Second) + 1
	}
	for i, p := range prices {
		ev, err := s.CheckTrigger(tick(s.sub.Symbol, start+i, p))
		require.NoError(t, err)
		out[i] = ev
	}
	return out
}

func TestCheckTriggerIsEdgeTriggered(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "btcusdt"), bandStrategy("100", "90"), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Capacity())

	events := feed(t, s, 99, 101, 102, 95, 89, 88, 101)
	assert.Nil(t, events[0])
	require.NotNil(t, events[1])
	assert.Equal(t, models.Buy, events[1].Action)
	assert.Equal(t, "Strategy Triggered: 'band' BUY for BTCUSDT at price $101", events[1].Message)
	assert.Equal(t, "sub-1", events[1].SubscriptionID)
	assert.Equal(t, "user-1", events[1].UserID)
	assert.NotEmpty(t, events[1].ID)
	assert.Nil(t, events[2], "still long")
	assert.Nil(t, events[3])
	require.NotNil(t, events[4])
	assert.Equal(t, models.Sell, events[4].Action)
	assert.True(t, events[4].Price.Equal(decimal.NewFromInt(89)))
	assert.Nil(t, events[5], "exit predicate still true")
	require.NotNil(t, events[6])
	assert.Equal(t, models.Buy, events[6].Action)
	assert.Equal(t, models.Long, s.Position())
}

func TestCheckTriggerDoesNotRetriggerWhilePredicateHolds(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "ETHUSDT"), testutil.Strategy("both",
		testutil.Rule(models.Buy, testutil.ValueCondition("PRICE", nil, models.GreaterThan, "100")),
		testutil.Rule(models.Sell, testutil.ValueCondition("PRICE", nil, models.GreaterThan, "105")),
	), 10)
	require.NoError(t, err)

	events := feed(t, s, 101, 106, 107, 99, 101)
	require.NotNil(t, events[0])
	assert.Equal(t, models.Buy, events[0].Action)
	require.NotNil(t, events[1])
	assert.Equal(t, models.Sell, events[1].Action)
	assert.Nil(t, events[2], "entry has been true since 101")
	assert.Nil(t, events[3])
	require.NotNil(t, events[4])
	assert.Equal(t, models.Buy, events[4].Action)
}

func TestCheckTriggerDropsOutOfOrderTicks(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90"), 10)
	require.NoError(t, err)

	ev, err := s.CheckTrigger(tick("BTCUSDT", 10, 99))
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = s.CheckTrigger(tick("BTCUSDT", 5, 101))
	require.NoError(t, err)
	assert.Nil(t, ev, "older tick is ignored")

	ev, err = s.CheckTrigger(tick("BTCUSDT", 10, 101))
	require.NoError(t, err)
	assert.Nil(t, ev, "duplicate timestamp is ignored")
	assert.Len(t, s.Snapshot().Window, 1)

	triggers := 0
	for _, sec := range []int{11, 9, 11, 12} {
		ev, err := s.CheckTrigger(tick("BTCUSDT", sec, 101))
		require.NoError(t, err)
		if ev != nil {
			triggers++
		}
	}
	assert.Equal(t, 1, triggers)
	assert.Len(t, s.Snapshot().Window, 3)
	assert.Equal(t, t0.Add(12*time.Second), s.Snapshot().LastTickTime)
}

func TestCheckTriggerDropsRepeatedZeroTimestamps(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90"), 10)
	require.NoError(t, err)

	zero := models.Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(101)}
	ev, err := s.CheckTrigger(zero)
	require.NoError(t, err)
	require.NotNil(t, ev, "the first tick is applied")

	for i := 0; i < 3; i++ {
		ev, err = s.CheckTrigger(zero)
		require.NoError(t, err)
		assert.Nil(t, ev)
	}
	snap := s.Snapshot()
	assert.Len(t, snap.Window, 1)
	assert.True(t, snap.HasTick)

	restored, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90"), 10)
	require.NoError(t, err)
	restored.Restore(snap)
	ev, err = restored.CheckTrigger(zero)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Len(t, restored.Snapshot().Window, 1, "restored state keeps dropping the repeated tick")
}

func TestCheckTriggerRejectsOtherSymbol(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90"), 10)
	require.NoError(t, err)
	_, err = s.CheckTrigger(tick("ETHUSDT", 1, 101))
	assert.Error(t, err)
}

func TestCheckTriggerMatchesBacktest(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), testutil.GoldenCrossStrategy(), 60)
	require.NoError(t, err)

	events := feed(t, s, testutil.RiseThenDropCloses()...)
	fired := map[int]models.Action{}
	for i, ev := range events {
		if ev != nil {
			fired[i] = ev.Action
		}
	}
	assert.Equal(t, map[int]models.Action{20: models.Buy, 55: models.Sell}, fired)
}

func TestWindowIsBounded(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), testutil.GoldenCrossStrategy(), 5)
	require.NoError(t, err)
	assert.Equal(t, 22, s.Capacity(), "warm-up of 20 plus two bars")

	feed(t, s, testutil.RiseThenDropCloses()[:30]...)
	snap := s.Snapshot()
	require.Len(t, snap.Window, 22)
	assert.Equal(t, t0.Add(29*time.Second), snap.Window[21].Time)
}

func TestSnapshotRestore(t *testing.T) {
	s, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90"), 3)
	require.NoError(t, err)
	feed(t, s, 99, 101)
	snap := s.Snapshot()
	assert.Equal(t, models.Long, snap.Position)
	assert.True(t, snap.PrevEntry)

	restored, err := NewSubscriptionState(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90"), 3)
	require.NoError(t, err)
	restored.Restore(snap)
	assert.Equal(t, models.Long, restored.Position())

	ev, err := restored.CheckTrigger(tick("BTCUSDT", 1, 102))
	require.NoError(t, err)
	assert.Nil(t, ev, "stale tick after restore")
	events := feed(t, restored, 102, 89)
	assert.Nil(t, events[0])
	require.NotNil(t, events[1])
	assert.Equal(t, models.Sell, events[1].Action)
}

func TestMonitorDeliversNotificationsAsync(t *testing.T) {
	store := newMockStore()
	notifier := newMockNotifier()
	m := NewMonitor(models.MonitorConfig{WindowSize: 10}, store, notifier, zap.NewNop())
	require.NoError(t, m.AddSubscription(activeSub("sub-1", "btcusdt"), bandStrategy("100", "90")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	assert.True(t, m.DispatchTick(tick("BTCUSDT", 1, 99)))
	assert.True(t, m.DispatchTick(tick("btcusdt", 2, 101)))
	assert.False(t, m.DispatchTick(tick("DOGEUSDT", 3, 1)))

	select {
	case ev := <-notifier.done:
		assert.Equal(t, models.Buy, ev.Action)
		assert.Equal(t, "BTCUSDT", ev.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	select {
	case <-store.saveDoneChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}
	saved, err := store.LoadState("sub-1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.Long, saved.Position)

	snap, ok := m.Snapshot("sub-1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Second), snap.LastTickTime)
	assert.Equal(t, []string{"BTCUSDT"}, m.Symbols())
}

func TestMonitorDropsWhenNotificationQueueFull(t *testing.T) {
	notifier := newMockNotifier()
	notifier.release = make(chan struct{})
	m := NewMonitor(models.MonitorConfig{WindowSize: 10, NotifyQueueSize: 1}, nil, notifier, zap.NewNop())
	require.NoError(t, m.AddSubscription(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "100")))
	m.Start(context.Background())

	// every tick flips the position and triggers
	for i := 0; i < 10; i++ {
		price := 101.0
		if i%2 == 1 {
			price = 99
		}
		require.True(t, m.DispatchTick(tick("BTCUSDT", i+1, price)))
	}

	assert.Eventually(t, func() bool { return m.Processed() == 10 }, 2*time.Second, 10*time.Millisecond,
		"a blocked notifier must not stall tick processing")
	assert.GreaterOrEqual(t, m.Dropped(), int64(8))

	close(notifier.release)
	m.Stop()
	notifier.Lock()
	delivered := len(notifier.events)
	notifier.Unlock()
	assert.Equal(t, int64(10), int64(delivered)+m.Dropped())
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	m := NewMonitor(models.MonitorConfig{}, nil, nil, zap.NewNop())
	require.NoError(t, m.AddSubscription(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90")))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool { return !m.DispatchTick(tick("BTCUSDT", 1, 101)) }, 2*time.Second, 10*time.Millisecond)
}

func TestStopAfterCancelFlushesQueues(t *testing.T) {
	store := newMockStore()
	store.release = make(chan struct{})
	notifier := newMockNotifier()
	notifier.release = make(chan struct{})
	m := NewMonitor(models.MonitorConfig{WindowSize: 10, NotifyQueueSize: 8}, store, notifier, zap.NewNop())
	require.NoError(t, m.AddSubscription(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "100")))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	for i, price := range []float64{101, 99, 101, 99} {
		require.True(t, m.DispatchTick(tick("BTCUSDT", i+1, price)))
	}
	require.Eventually(t, func() bool { return m.Processed() == 4 }, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, m.Dropped())

	// the context watcher starts the shutdown while both sinks are still blocked
	cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(notifier.release)
		close(store.release)
	}()
	m.Stop()

	notifier.Lock()
	delivered := len(notifier.events)
	notifier.Unlock()
	assert.Equal(t, 4, delivered, "every accepted event is delivered before Stop returns")

	store.Lock()
	defer store.Unlock()
	assert.Equal(t, 4, store.saves, "every queued snapshot is saved before Stop returns")
	assert.Equal(t, models.Flat, store.saved["sub-1"].Position)

	m.Stop() // idempotent
}

func TestDispatchTickDoesNotBlockOnFullSymbolQueue(t *testing.T) {
	m := NewMonitor(models.MonitorConfig{TickQueueSize: 2}, nil, nil, zap.NewNop())
	require.NoError(t, m.AddSubscription(activeSub("sub-1", "BTCUSDT"), bandStrategy("100", "90")))
	require.NoError(t, m.AddSubscription(activeSub("sub-2", "ETHUSDT"), bandStrategy("100", "90")))

	// not started: the BTCUSDT worker never drains its queue
	assert.True(t, m.DispatchTick(tick("BTCUSDT", 1, 99)))
	assert.True(t, m.DispatchTick(tick("BTCUSDT", 2, 99)))

	done := make(chan bool, 1)
	go func() { done <- m.DispatchTick(tick("BTCUSDT", 3, 99)) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("DispatchTick blocked on a full queue")
	}
	assert.Equal(t, int64(1), m.DroppedTicks())
	assert.True(t, m.DispatchTick(tick("ETHUSDT", 1, 99)), "other symbols are unaffected")
}

func TestStopBeforeStartReturns(t *testing.T) {
	m := NewMonitor(models.MonitorConfig{}, nil, nil, zap.NewNop())
	m.Stop()
	assert.Equal(t, int64(0), m.Processed())
}

func TestAddAndRemoveSubscription(t *testing.T) {
	m := NewMonitor(models.MonitorConfig{}, nil, nil, zap.NewNop())

	inactive := activeSub("sub-0", "BTCUSDT")
	inactive.Active = false
	assert.Error(t, m.AddSubscription(inactive, bandStrategy("100", "90")))

	bad := testutil.Strategy("bad", testutil.Rule(models.Buy, testutil.ValueCondition("NOPE", nil, models.GreaterThan, "1")))
	err := m.AddSubscription(activeSub("sub-1", "BTCUSDT"), bad)
	assert.True(t, models.IsConfigurationError(err))

	require.NoError(t, m.AddSubscription(activeSub("sub-2", "BTCUSDT"), bandStrategy("100", "90")))
	assert.Equal(t, []string{"BTCUSDT"}, m.Symbols())
	assert.True(t, m.RemoveSubscription("sub-2"))
	assert.False(t, m.RemoveSubscription("sub-2"))
	assert.Empty(t, m.Symbols())
}

func TestLoadSubscriptionsFromRepository(t *testing.T) {
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	good := bandStrategy("100", "90")
	good.ID = ""
	require.NoError(t, repo.SaveStrategy(good))
	broken := testutil.Strategy("broken", testutil.Rule(models.Buy, testutil.ValueCondition("NOPE", nil, models.GreaterThan, "1")))
	require.NoError(t, repo.SaveStrategy(broken))

	sub := &models.Subscription{UserID: "user-1", StrategyID: good.ID, Symbol: "BTCUSDT", Active: true}
	require.NoError(t, repo.SaveSubscription(sub))
	require.NoError(t, repo.SaveSubscription(&models.Subscription{UserID: "user-1", StrategyID: broken.ID, Symbol: "ETHUSDT", Active: true}))
	require.NoError(t, repo.SaveState(&models.SubscriptionState{SubscriptionID: sub.ID, Position: models.Long, PrevEntry: true}))

	m := NewMonitor(models.MonitorConfig{WindowSize: 10}, repo, nil, zap.NewNop())
	n, err := m.LoadSubscriptions()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"BTCUSDT"}, m.Symbols())

	snap, ok := m.Snapshot(sub.ID)
	require.True(t, ok)
	assert.Equal(t, models.Long, snap.Position)
}
