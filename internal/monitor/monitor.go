// Package monitor drives the periodic sweeps that execute resting orders,
// fire take-profit and stop-loss triggers, liquidate breached accounts and
// accrue loan interest.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"lv-margin/internal/apperr"
	"lv-margin/internal/loans"
	"lv-margin/internal/metrics"
	"lv-margin/internal/model"
	"lv-margin/internal/notify"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PriceSource batches mark lookups. Missing instruments are simply absent.
type PriceSource interface {
	Prices(ctx context.Context, instruments []string, fresh bool) map[string]decimal.Decimal
}

type Config struct {
	Tick             time.Duration
	LiquidationEvery int
	InterestEvery    time.Duration
	MaxParallel      int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 10 * time.Second
	}
	if c.LiquidationEvery <= 0 {
		c.LiquidationEvery = 3
	}
	if c.InterestEvery <= 0 {
		c.InterestEvery = 6 * time.Hour
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 8
	}
	return c
}

type Status struct {
	Running      bool      `json:"running"`
	Ticks        int64     `json:"ticks"`
	LastTick     time.Time `json:"last_tick,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	LastInterest time.Time `json:"last_interest,omitempty"`
	Executed     int64     `json:"orders_executed"`
	Triggered    int64     `json:"triggers_fired"`
	Liquidated   int64     `json:"accounts_liquidated"`
	Failures     int64     `json:"failures"`
}

type Monitor struct {
	orders    *orders.Service
	positions *positions.Service
	loans     *loans.Service
	prices    PriceSource
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger

	tickMu sync.Mutex

	mu     sync.RWMutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func New(orderSvc *orders.Service, positionSvc *positions.Service, loanSvc *loans.Service, prices PriceSource, cfg Config, logger *zap.Logger) *Monitor {
	return &Monitor{
		orders:    orderSvc,
		positions: positionSvc,
		loans:     loanSvc,
		prices:    prices,
		notifier:  notify.Nop{},
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		logger:    logger.Named("monitor"),
	}
}

func (m *Monitor) SetNotifier(n notify.Notifier) {
	if n != nil {
		m.notifier = n
	}
}

func (m *Monitor) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Start launches the scheduler goroutine. Calling it on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.Running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.status.Running = true
	done := m.done
	m.mu.Unlock()

	m.logger.Info("monitor started", zap.Duration("tick", m.cfg.Tick),
		zap.Int("liquidation_every", m.cfg.LiquidationEvery), zap.Duration("interest_every", m.cfg.InterestEvery))
	go m.run(ctx, done)
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.status.Running = false
		}
		m.mu.Unlock()
	}()
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Stop cancels the scheduler and waits for the in-flight tick to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.status.Running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.status.Running = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("monitor stopped")
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) record(fn func(s *Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.mu.Unlock()
}

// Tick runs one scheduling round. Every sweep is self-contained; a failing
// item is logged and the sweep moves on.
func (m *Monitor) Tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := m.now()
	m.mu.Lock()
	m.status.Ticks++
	tick := m.status.Ticks
	lastInterest := m.status.LastInterest
	m.mu.Unlock()

	m.sweepOrders(ctx)
	m.sweepTriggers(ctx)
	if tick%int64(m.cfg.LiquidationEvery) == 0 {
		m.sweepLiquidations(ctx)
	}
	if lastInterest.IsZero() || start.Sub(lastInterest) >= m.cfg.InterestEvery {
		m.sweepInterest(ctx)
		m.record(func(s *Status) { s.LastInterest = start })
	}

	m.record(func(s *Status) {
		s.LastTick = start
		s.LastDuration = m.now().Sub(start).String()
	})
}

func benign(err error) bool {
	return errors.Is(err, apperr.ErrOrderNotPending) || errors.Is(err, apperr.ErrConditionNotMet)
}

// rejected marks failures that will not resolve by waiting for another price.
func rejected(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindLeverageExceeded, apperr.KindInsufficientMargin:
		return true
	}
	return false
}

func (m *Monitor) sweepOrders(ctx context.Context) {
	start := m.now()
	pending, err := m.orders.ListAllPending(ctx)
	if err != nil {
		m.logger.Error("order sweep: list pending failed", zap.Error(err))
		m.fail(1)
		return
	}
	if len(pending) == 0 {
		return
	}
	instruments := make([]string, 0, len(pending))
	for _, o := range pending {
		instruments = append(instruments, o.Instrument)
	}
	marks := m.prices.Prices(ctx, instruments, true)

	executed, failures := 0, 0
	for _, o := range pending {
		if ctx.Err() != nil {
			break
		}
		mark, ok := marks[o.Instrument]
		if !ok {
			continue
		}
		if !orders.ConditionMet(o, mark) {
			continue
		}
		exec, err := m.orders.ExecuteAt(ctx, o.ID, mark)
		switch {
		case err == nil:
			executed++
			m.notifier.Notify(ctx, notify.Event{Type: notify.EventOrderTriggered, Account: o.AccountKey, Data: exec})
		case benign(err):
			m.logger.Debug("order sweep: order skipped", zap.String("order_id", o.ID), zap.Error(err))
		case rejected(err):
			m.logger.Info("order sweep: cancelling order that cannot execute", zap.String("order_id", o.ID), zap.Error(err))
			if _, cerr := m.orders.CancelWithReason(ctx, o.ID, err.Error()); cerr != nil && !benign(cerr) {
				m.logger.Warn("order sweep: cancel failed", zap.String("order_id", o.ID), zap.Error(cerr))
				failures++
			}
		default:
			m.logger.Warn("order sweep: execution failed", zap.String("order_id", o.ID), zap.Error(err))
			failures++
		}
	}
	m.metrics.ObserveSweep("orders", m.now().Sub(start), executed, failures)
	m.record(func(s *Status) {
		s.Executed += int64(executed)
		s.Failures += int64(failures)
	})
}

func (m *Monitor) sweepTriggers(ctx context.Context) {
	start := m.now()
	all, err := m.positions.ListAll(ctx)
	if err != nil {
		m.logger.Error("trigger sweep: list positions failed", zap.Error(err))
		m.fail(1)
		return
	}
	armed := make([]model.Position, 0)
	instruments := make([]string, 0)
	for _, p := range all {
		if p.TakeProfit == nil && p.StopLoss == nil {
			continue
		}
		armed = append(armed, p)
		instruments = append(instruments, p.Instrument)
	}
	if len(armed) == 0 {
		return
	}
	marks := m.prices.Prices(ctx, instruments, true)

	fired, failures := 0, 0
	for _, p := range armed {
		if ctx.Err() != nil {
			break
		}
		mark, ok := marks[p.Instrument]
		if !ok {
			continue
		}
		purpose, hit := positions.TriggerHit(p, mark)
		if !hit {
			continue
		}
		res, err := m.orders.Create(ctx, orders.CreateRequest{
			Key:        p.AccountKey,
			Instrument: p.Instrument,
			Side:       p.Side,
			Role:       types.RoleImmediate,
			Purpose:    purpose,
		})
		if err != nil {
			if rejected(err) {
				m.logger.Debug("trigger sweep: position already gone", zap.String("position_id", p.ID), zap.Error(err))
				continue
			}
			m.logger.Warn("trigger sweep: close failed", zap.String("position_id", p.ID), zap.String("purpose", string(purpose)), zap.Error(err))
			failures++
			continue
		}
		if _, err := m.orders.CancelCloseOrders(ctx, p.AccountKey, p.Instrument, p.Side); err != nil {
			m.logger.Warn("trigger sweep: cancelling sibling orders failed", zap.String("position_id", p.ID), zap.Error(err))
		}
		fired++
		m.logger.Info("position trigger fired", zap.String("user_id", p.UserID), zap.String("instrument", p.Instrument),
			zap.String("purpose", string(purpose)), zap.String("mark", mark.String()))
		m.notifier.Notify(ctx, notify.Event{Type: notify.EventStopTriggered, Account: p.AccountKey, Message: string(purpose), Data: res})
	}
	m.metrics.ObserveSweep("triggers", m.now().Sub(start), fired, failures)
	m.record(func(s *Status) {
		s.Triggered += int64(fired)
		s.Failures += int64(failures)
	})
}

func (m *Monitor) sweepLiquidations(ctx context.Context) {
	start := m.now()
	all, err := m.positions.ListAll(ctx)
	if err != nil {
		m.logger.Error("liquidation sweep: list positions failed", zap.Error(err))
		m.fail(1)
		return
	}
	if len(all) == 0 {
		return
	}
	keys := make([]model.AccountKey, 0)
	seen := make(map[model.AccountKey]struct{})
	instruments := make([]string, 0, len(all))
	for _, p := range all {
		instruments = append(instruments, p.Instrument)
		if _, ok := seen[p.AccountKey]; ok {
			continue
		}
		seen[p.AccountKey] = struct{}{}
		keys = append(keys, p.AccountKey)
	}
	marks := m.prices.Prices(ctx, instruments, true)

	var mu sync.Mutex
	liquidated, failures := 0, 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxParallel)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			ok, err := m.checkAccount(gctx, key, marks)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				m.logger.Warn("liquidation sweep: account check failed", zap.String("user_id", key.UserID), zap.String("venue", key.Venue), zap.Error(err))
			} else if ok {
				liquidated++
			}
			return nil
		})
	}
	_ = g.Wait()
	m.metrics.ObserveSweep("liquidations", m.now().Sub(start), liquidated, failures)
	m.record(func(s *Status) {
		s.Liquidated += int64(liquidated)
		s.Failures += int64(failures)
	})
}

func (m *Monitor) checkAccount(ctx context.Context, key model.AccountKey, marks map[string]decimal.Decimal) (bool, error) {
	exposure, err := m.positions.Snapshot(ctx, key, marks)
	if err != nil {
		return false, err
	}
	if !exposure.Breached() {
		return false, nil
	}
	res, err := m.positions.Liquidate(ctx, key, marks)
	if err != nil || !res.Liquidated {
		return false, err
	}
	m.metrics.Liquidated()
	m.notifier.Notify(ctx, notify.Event{Type: notify.EventPositionLiquidated, Account: key, Data: res})
	return true, nil
}

func (m *Monitor) sweepInterest(ctx context.Context) {
	start := m.now()
	n, err := m.loans.AccrueAll(ctx)
	failures := 0
	if err != nil {
		failures = 1
		m.logger.Warn("interest sweep failed", zap.Error(err))
		m.fail(1)
	}
	m.metrics.ObserveSweep("interest", m.now().Sub(start), n, failures)
}

func (m *Monitor) fail(n int) {
	m.record(func(s *Status) { s.Failures += int64(n) })
}
