package monitor

import (
	"fmt"
	"strings"
	"time"

	"tradewise-engine/internal/ids"
	"tradewise-engine/internal/metrics"
	"tradewise-engine/internal/models"
	"tradewise-engine/internal/rules"

	"github.com/shopspring/decimal"
)

// DefaultWindowSize is the rolling window length used when none is configured.
const DefaultWindowSize = 250

// SubscriptionState owns the rolling window and FLAT/LONG state of one active
// (user, strategy, symbol) subscription. It is not safe for concurrent use;
// the monitor serializes ticks per symbol.
type SubscriptionState struct {
	sub      models.Subscription
	strategy models.Strategy
	prog     *rules.Program
	capacity int

	window     []models.Bar
	position   models.PositionState
	entryPrice decimal.Decimal
	prevEntry  bool
	prevExit   bool
	hasTick    bool
	lastTick   time.Time
}

// NewSubscriptionState compiles the strategy for sub. The window holds at
// least windowSize bars and always enough for the strategy's warm-up.
func NewSubscriptionState(sub models.Subscription, strategy *models.Strategy, windowSize int) (*SubscriptionState, error) {
	prog, err := rules.Compile(strategy)
	if err != nil {
		return nil, err
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	capacity := windowSize
	if need := prog.Warmup() + 2; need > capacity {
		capacity = need
	}
	sub.Symbol = strings.ToUpper(sub.Symbol)
	return &SubscriptionState{
		sub:      sub,
		strategy: prog.Strategy(),
		prog:     prog,
		capacity: capacity,
		window:   make([]models.Bar, 0, capacity),
		position: models.Flat,
	}, nil
}

// ID returns the subscription identifier.
func (s *SubscriptionState) ID() string { return s.sub.ID }

// Subscription returns the subscription this state belongs to.
func (s *SubscriptionState) Subscription() models.Subscription { return s.sub }

// Capacity is the maximum number of bars kept in the window.
func (s *SubscriptionState) Capacity() int { return s.capacity }

// Position returns the current FLAT/LONG state.
func (s *SubscriptionState) Position() models.PositionState { return s.position }

// CheckTrigger appends tick to the window and evaluates the strategy at the
// newest bar. It returns an event only when the predicate relevant to the
// current position turns from false to true. Ticks not strictly newer than
// the last applied tick are dropped.
func (s *SubscriptionState) CheckTrigger(tick models.Tick) (*models.TriggerEvent, error) {
	if !strings.EqualFold(tick.Symbol, s.sub.Symbol) {
		return nil, fmt.Errorf("tick for %s routed to subscription %s on %s", tick.Symbol, s.sub.ID, s.sub.Symbol)
	}
	if s.hasTick && !tick.Timestamp.After(s.lastTick) {
		metrics.TicksDropped.WithLabelValues(s.sub.Symbol, "stale").Inc()
		return nil, nil
	}
	s.hasTick = true
	s.lastTick = tick.Timestamp
	s.push(models.Bar{
		Time:   tick.Timestamp,
		Open:   tick.Price,
		High:   tick.Price,
		Low:    tick.Price,
		Close:  tick.Price,
		Volume: decimal.Zero,
	})

	series := &models.BarSeries{Symbol: s.sub.Symbol, Bars: s.window}
	pred, err := s.prog.Bind(series)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", s.sub.ID, err)
	}
	i := series.Len() - 1
	entry, exit := pred.Entry(i), pred.Exit(i)
	defer func() { s.prevEntry, s.prevExit = entry, exit }()

	switch s.position {
	case models.Flat:
		if entry && !s.prevEntry {
			s.position = models.Long
			s.entryPrice = tick.Price
			return s.event(models.Buy, tick), nil
		}
	case models.Long:
		if exit && !s.prevExit {
			s.position = models.Flat
			s.entryPrice = decimal.Zero
			return s.event(models.Sell, tick), nil
		}
	}
	return nil, nil
}

func (s *SubscriptionState) push(bar models.Bar) {
	if len(s.window) == s.capacity {
		copy(s.window, s.window[1:])
		s.window = s.window[:len(s.window)-1]
	}
	s.window = append(s.window, bar)
}

func (s *SubscriptionState) event(action models.Action, tick models.Tick) *models.TriggerEvent {
	return &models.TriggerEvent{
		ID:             ids.New(),
		SubscriptionID: s.sub.ID,
		UserID:         s.sub.UserID,
		StrategyID:     s.sub.StrategyID,
		StrategyName:   s.strategy.Name,
		Symbol:         s.sub.Symbol,
		Action:         action,
		Message:        TriggerMessage(s.strategy.Name, action, s.sub.Symbol, tick.Price),
		Price:          tick.Price,
		Timestamp:      tick.Timestamp,
	}
}

// TriggerMessage formats the user-facing notification text.
func TriggerMessage(strategyName string, action models.Action, symbol string, price decimal.Decimal) string {
	return fmt.Sprintf("Strategy Triggered: '%s' %s for %s at price $%s", strategyName, action, symbol, price.String())
}

// Snapshot returns a copy of the persistent part of the state.
func (s *SubscriptionState) Snapshot() *models.SubscriptionState {
	window := make([]models.Bar, len(s.window))
	copy(window, s.window)
	return &models.SubscriptionState{
		SubscriptionID: s.sub.ID,
		Position:       s.position,
		EntryPrice:     s.entryPrice,
		HasTick:        s.hasTick,
		LastTickTime:   s.lastTick,
		PrevEntry:      s.prevEntry,
		PrevExit:       s.prevExit,
		Window:         window,
		LastUpdateTime: time.Now(),
	}
}

// Restore loads a previously saved state. Bars beyond the window capacity are
// trimmed from the front.
func (s *SubscriptionState) Restore(st *models.SubscriptionState) {
	if st == nil {
		return
	}
	if st.Position == models.Long {
		s.position = models.Long
	} else {
		s.position = models.Flat
	}
	s.entryPrice = st.EntryPrice
	s.lastTick = st.LastTickTime
	// snapshots written before has_tick existed only carry the time
	s.hasTick = st.HasTick || !st.LastTickTime.IsZero()
	s.prevEntry = st.PrevEntry
	s.prevExit = st.PrevExit

	bars := st.Window
	if len(bars) > s.capacity {
		bars = bars[len(bars)-s.capacity:]
	}
	s.window = append(s.window[:0], bars...)
}
