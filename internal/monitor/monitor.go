// Package monitor evaluates active strategy subscriptions against a live tick
// stream and emits edge-triggered notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"tradewise-engine/internal/metrics"
	"tradewise-engine/internal/models"

	"go.uber.org/zap"
)

// Notifier receives trigger events off the tick path.
type Notifier interface {
	Notify(ctx context.Context, ev *models.TriggerEvent) error
}

// Store loads subscriptions and keeps their runtime state.
type Store interface {
	LoadStrategy(id, ownerID string) (*models.Strategy, error)
	ListActiveSubscriptions() ([]*models.Subscription, error)
	SaveState(state *models.SubscriptionState) error
	LoadState(subscriptionID string) (*models.SubscriptionState, error)
}

// symbolWorker serializes all ticks of one symbol.
type symbolWorker struct {
	symbol  string
	ticks   chan models.Tick
	mu      sync.Mutex
	subs    map[string]*SubscriptionState
	started bool
}

// Monitor fans ticks out to per-symbol workers. Trigger events go through a
// buffered queue to the notifier, and state snapshots through a second queue
// to the store, so neither can stall tick processing. A full per-symbol tick
// queue drops the tick rather than blocking other symbols.
type Monitor struct {
	cfg      models.MonitorConfig
	store    Store
	notifier Notifier
	logger   *zap.Logger

	mu      sync.RWMutex
	workers map[string]*symbolWorker
	ctx     context.Context
	started bool
	running bool

	notifyChan      chan *models.TriggerEvent
	persistenceChan chan *models.SubscriptionState
	stopChan        chan struct{} // workers 退出
	flushChan       chan struct{} // workers 已全部退出, 队列开始清空
	stopped         chan struct{} // 关闭完成
	workerWG        sync.WaitGroup
	wg              sync.WaitGroup

	processed    atomic.Int64
	dropped      atomic.Int64
	droppedTicks atomic.Int64
}

// NewMonitor creates a Monitor. store and notifier may be nil.
func NewMonitor(cfg models.MonitorConfig, store Store, notifier Notifier, logger *zap.Logger) *Monitor {
	if cfg.TickQueueSize <= 0 {
		cfg.TickQueueSize = 1024
	}
	if cfg.NotifyQueueSize <= 0 {
		cfg.NotifyQueueSize = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:             cfg,
		store:           store,
		notifier:        notifier,
		logger:          logger,
		workers:         make(map[string]*symbolWorker),
		ctx:             context.Background(),
		notifyChan:      make(chan *models.TriggerEvent, cfg.NotifyQueueSize),
		persistenceChan: make(chan *models.SubscriptionState, cfg.NotifyQueueSize),
		stopChan:        make(chan struct{}),
		flushChan:       make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

// Start begins the notification and persistence loops and one worker per
// subscribed symbol. A stopped Monitor cannot be started again.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.ctx = ctx
	m.started = true
	m.running = true

	m.wg.Add(2)
	go m.notifyLoop()
	go m.persistenceLoop()
	for _, w := range m.workers {
		m.startWorker(w)
	}
	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-m.stopChan:
		}
	}()
	m.logger.Sugar().Infof("Monitor started with %d symbol workers.", len(m.workers))
}

// Stop shuts down the Monitor. It returns only after every accepted
// notification has been delivered and every queued snapshot saved, whichever
// caller (Stop or context cancellation) initiated the shutdown.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	if !m.running {
		m.mu.Unlock()
		<-m.stopped
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	// no worker can enqueue after this point
	m.workerWG.Wait()
	close(m.flushChan)
	m.wg.Wait()
	close(m.stopped)
	m.logger.Sugar().Info("Monitor stopped.")
}

// AddSubscription compiles the strategy and registers the subscription with
// its symbol's worker. A previously saved state is restored from the store.
func (m *Monitor) AddSubscription(sub models.Subscription, strategy *models.Strategy) error {
	if !sub.Active {
		return fmt.Errorf("subscription %s is not active", sub.ID)
	}
	state, err := NewSubscriptionState(sub, strategy, m.cfg.WindowSize)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	if m.store != nil {
		saved, err := m.store.LoadState(sub.ID)
		if err != nil {
			return fmt.Errorf("load state for subscription %s: %w", sub.ID, err)
		}
		state.Restore(saved)
	}

	symbol := state.Subscription().Symbol
	m.mu.Lock()
	w, ok := m.workers[symbol]
	if !ok {
		w = &symbolWorker{
			symbol: symbol,
			ticks:  make(chan models.Tick, m.cfg.TickQueueSize),
			subs:   make(map[string]*SubscriptionState),
		}
		m.workers[symbol] = w
	}
	if m.running {
		m.startWorker(w)
	}
	m.mu.Unlock()

	w.mu.Lock()
	_, replaced := w.subs[sub.ID]
	w.subs[sub.ID] = state
	w.mu.Unlock()
	if !replaced {
		metrics.ActiveSubscriptions.Inc()
	}
	m.logger.Info("subscription added",
		zap.String("subscription", sub.ID),
		zap.String("strategy", state.strategy.Name),
		zap.String("symbol", symbol),
		zap.Int("window", state.Capacity()))
	return nil
}

// RemoveSubscription stops evaluating a subscription.
func (m *Monitor) RemoveSubscription(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		w.mu.Lock()
		_, ok := w.subs[id]
		delete(w.subs, id)
		w.mu.Unlock()
		if ok {
			metrics.ActiveSubscriptions.Dec()
			return true
		}
	}
	return false
}

// LoadSubscriptions registers every active subscription found in the store.
// Subscriptions whose strategy is missing or invalid are skipped and logged.
func (m *Monitor) LoadSubscriptions() (int, error) {
	if m.store == nil {
		return 0, errors.New("monitor has no store")
	}
	subs, err := m.store.ListActiveSubscriptions()
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	loaded := 0
	for _, sub := range subs {
		strategy, err := m.store.LoadStrategy(sub.StrategyID, sub.UserID)
		if err == nil {
			err = m.AddSubscription(*sub, strategy)
		}
		if err != nil {
			m.logger.Sugar().Warnf("Skipping subscription %s: %v", sub.ID, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Symbols returns the symbols with at least one registered subscription.
func (m *Monitor) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.workers))
	for s, w := range m.workers {
		w.mu.Lock()
		n := len(w.subs)
		w.mu.Unlock()
		if n > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// DispatchTick queues a tick for its symbol's worker without blocking. It
// reports false when nothing subscribes to the symbol, the symbol's queue is
// full, or the monitor is stopped.
func (m *Monitor) DispatchTick(tick models.Tick) bool {
	symbol := strings.ToUpper(tick.Symbol)
	m.mu.RLock()
	w, ok := m.workers[symbol]
	m.mu.RUnlock()
	if !ok {
		metrics.TicksDropped.WithLabelValues(symbol, "unsubscribed").Inc()
		return false
	}
	select {
	case <-m.stopChan:
		return false
	default:
	}
	select {
	case w.ticks <- tick:
		return true
	default:
		m.droppedTicks.Add(1)
		metrics.TicksDropped.WithLabelValues(symbol, "queue_full").Inc()
		m.logger.Debug("tick queue full, dropping tick", zap.String("symbol", symbol))
		return false
	}
}

// Run dispatches ticks until the channel closes or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, ticks <-chan models.Tick) {
	for {
		select {
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			m.DispatchTick(tick)
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns a copy of one subscription's state.
func (m *Monitor) Snapshot(id string) (*models.SubscriptionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		w.mu.Lock()
		s, ok := w.subs[id]
		var snap *models.SubscriptionState
		if ok {
			snap = s.Snapshot()
		}
		w.mu.Unlock()
		if ok {
			return snap, true
		}
	}
	return nil, false
}

// Processed returns the number of ticks handled by workers.
func (m *Monitor) Processed() int64 { return m.processed.Load() }

// Dropped returns the number of trigger events lost to a full notification queue.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

// DroppedTicks returns the number of ticks lost to a full symbol queue.
func (m *Monitor) DroppedTicks() int64 { return m.droppedTicks.Load() }

// startWorker must be called with m.mu held.
func (m *Monitor) startWorker(w *symbolWorker) {
	if w.started {
		return
	}
	w.started = true
	m.workerWG.Add(1)
	go m.workerLoop(w)
}

// workerLoop processes the ticks of one symbol serially.
func (m *Monitor) workerLoop(w *symbolWorker) {
	defer m.workerWG.Done()
	for {
		select {
		case tick := <-w.ticks:
			m.processTick(w, tick)
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) processTick(w *symbolWorker, tick models.Tick) {
	w.mu.Lock()
	subIDs := make([]string, 0, len(w.subs))
	for id := range w.subs {
		subIDs = append(subIDs, id)
	}
	sort.Strings(subIDs)

	var events []*models.TriggerEvent
	var snapshots []*models.SubscriptionState
	for _, id := range subIDs {
		state := w.subs[id]
		ev, err := state.CheckTrigger(tick)
		if err != nil {
			m.logger.Error("trigger check failed", zap.String("subscription", id), zap.Error(err))
			continue
		}
		if ev != nil {
			events = append(events, ev)
			snapshots = append(snapshots, state.Snapshot())
		}
	}
	w.mu.Unlock()

	m.processed.Add(1)
	metrics.TicksProcessed.WithLabelValues(w.symbol).Inc()

	for _, ev := range events {
		metrics.TriggersEmitted.WithLabelValues(ev.Symbol, string(ev.Action)).Inc()
		m.logger.Info("strategy triggered",
			zap.String("subscription", ev.SubscriptionID),
			zap.String("action", string(ev.Action)),
			zap.String("price", ev.Price.String()))
		select {
		case m.notifyChan <- ev:
		default:
			m.dropped.Add(1)
			metrics.NotificationsDropped.Inc()
			m.logger.Warn("notification queue full, dropping event", zap.String("event", ev.ID))
		}
	}
	for _, snap := range snapshots {
		select {
		case m.persistenceChan <- snap:
		default:
			m.logger.Warn("persistence queue full, skipping state snapshot", zap.String("subscription", snap.SubscriptionID))
		}
	}
}

// notifyLoop hands trigger events to the notifier.
func (m *Monitor) notifyLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.notifyChan:
			m.deliver(ev)
		case <-m.flushChan:
			// flush what was already accepted
			for {
				select {
				case ev := <-m.notifyChan:
					m.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) deliver(ev *models.TriggerEvent) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(context.WithoutCancel(m.ctx), ev); err != nil {
		m.logger.Sugar().Errorf("Failed to deliver notification %s: %v", ev.ID, err)
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (m *Monitor) persistenceLoop() {
	defer m.wg.Done()
	for {
		select {
		case snap := <-m.persistenceChan:
			m.save(snap)
		case <-m.flushChan:
			for {
				select {
				case snap := <-m.persistenceChan:
					m.save(snap)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) save(snap *models.SubscriptionState) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveState(snap); err != nil {
		m.logger.Sugar().Errorf("Failed to save state of subscription %s: %v", snap.SubscriptionID, err)
	}
}
