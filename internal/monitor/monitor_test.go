package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"
	"lv-margin/internal/loans"
	"lv-margin/internal/model"
	"lv-margin/internal/notify"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var key = model.AccountKey{UserID: "u1", Venue: "g1"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (p *stubPrices) set(inst, price string) {
	p.mu.Lock()
	p.prices[inst] = dec(price)
	p.mu.Unlock()
}

func (p *stubPrices) CurrentPrice(_ context.Context, inst string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[inst]
	if !ok {
		return decimal.Zero, apperr.ErrPriceUnavailable
	}
	return v, nil
}

func (p *stubPrices) FreshPrice(ctx context.Context, inst string) (decimal.Decimal, error) {
	return p.CurrentPrice(ctx, inst)
}

func (p *stubPrices) Prices(_ context.Context, insts []string, _ bool) map[string]decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, inst := range insts {
		if v, ok := p.prices[inst]; ok {
			out[inst] = v
		}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Notify(_ context.Context, evt notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt.Type)
	r.mu.Unlock()
}

func (r *recorder) has(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == typ {
			return true
		}
	}
	return false
}

type fixture struct {
	store     *ledger.MemoryStore
	accounts  *accounts.Service
	positions *positions.Service
	orders    *orders.Service
	loans     *loans.Service
	prices    *stubPrices
	events    *recorder
	mon       *Monitor
}

func newFixture(t *testing.T, balance string) *fixture {
	params := risk.DefaultParams()
	params.StartingBalance = dec(balance)
	store := ledger.NewMemoryStore()
	logger := zaptest.NewLogger(t)
	prices := &stubPrices{prices: map[string]decimal.Decimal{"BTCUSDT": dec("100000"), "ETHUSDT": dec("3000")}}
	f := &fixture{store: store, prices: prices, events: &recorder{}}
	f.accounts = accounts.NewService(store, params, logger)
	f.positions = positions.NewService(store, f.accounts, prices, params, logger)
	f.orders = orders.NewService(store, f.accounts, f.positions, prices, params, logger)
	f.loans = loans.NewService(store, f.accounts, params, logger)
	f.orders.SetNotifier(f.events)
	f.mon = New(f.orders, f.positions, f.loans, prices, Config{Tick: 10 * time.Millisecond}, logger)
	f.mon.SetNotifier(f.events)
	return f
}

func TestTickExecutesRestingOrderOnceConditionHolds(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	limit := dec("2900")
	res, err := f.orders.Create(ctx, orders.CreateRequest{
		Key: key, Instrument: "ETHUSDT", Side: types.SideLong, Role: types.RoleResting, Purpose: types.PurposeOpen,
		Notional: dec("1000"), Price: &limit,
	})
	require.NoError(t, err)

	f.mon.Tick(ctx)
	o, err := f.orders.Get(ctx, key, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, o.Status)

	f.prices.set("ETHUSDT", "2895")
	f.mon.Tick(ctx)
	f.mon.Tick(ctx)

	o, err = f.orders.Get(ctx, key, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusExecuted, o.Status)
	assert.True(t, o.FillPrice.Equal(dec("2895")))
	assert.True(t, f.events.has(notify.EventOrderTriggered))
	assert.Equal(t, int64(1), f.mon.Status().Executed)

	trades, err := f.orders.History(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestTickCancelsRestingCloseWithoutPosition(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	price := dec("95000")
	err := f.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertOrder(ctx, model.Order{ID: "orphan", AccountKey: key, Instrument: "BTCUSDT", Side: types.SideLong,
			Role: types.RoleResting, Purpose: types.PurposeClose, Notional: dec("100"), Price: &price, Status: types.OrderStatusPending})
	})
	require.NoError(t, err)

	f.mon.Tick(ctx)
	o, err := f.store.GetOrder(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, o.Status)
	assert.NotEmpty(t, o.Reason)
}

func TestTickFiresStopLoss(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	_, err := f.orders.Create(ctx, orders.CreateRequest{
		Key: key, Instrument: "BTCUSDT", Side: types.SideLong, Role: types.RoleImmediate, Purpose: types.PurposeOpen, Notional: dec("10000"),
	})
	require.NoError(t, err)
	sl := dec("97000")
	_, err = f.positions.SetTriggers(ctx, key, "BTCUSDT", types.SideLong, nil, &sl)
	require.NoError(t, err)

	f.mon.Tick(ctx)
	_, ok, err := f.positions.Get(ctx, key, "BTCUSDT", types.SideLong)
	require.NoError(t, err)
	assert.True(t, ok)

	f.prices.set("BTCUSDT", "96900")
	f.mon.Tick(ctx)
	_, ok, err = f.positions.Get(ctx, key, "BTCUSDT", types.SideLong)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.events.has(notify.EventStopTriggered))

	trades, err := f.orders.History(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, types.TradeKindStopLoss, trades[0].Kind)
	assert.Equal(t, int64(1), f.mon.Status().Triggered)
}

func TestLiquidationRunsEveryThirdTick(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	_, err := f.positions.OpenOrAdd(ctx, key, positions.OpenRequest{Instrument: "BTCUSDT", Side: types.SideLong, Notional: dec("50000"), Price: dec("100000")})
	require.NoError(t, err)
	f.prices.set("BTCUSDT", "98000")

	f.mon.Tick(ctx)
	f.mon.Tick(ctx)
	all, err := f.positions.GetPositions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	f.mon.Tick(ctx)
	all, err = f.positions.GetPositions(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.True(t, f.events.has(notify.EventPositionLiquidated))
	assert.Equal(t, int64(1), f.mon.Status().Liquidated)

	acc, err := f.accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
}

func TestHealthyAccountSurvivesLiquidationSweep(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	_, err := f.positions.OpenOrAdd(ctx, key, positions.OpenRequest{Instrument: "BTCUSDT", Side: types.SideLong, Notional: dec("50000"), Price: dec("100000")})
	require.NoError(t, err)
	f.prices.set("BTCUSDT", "99000")

	for i := 0; i < 3; i++ {
		f.mon.Tick(ctx)
	}
	all, err := f.positions.GetPositions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Zero(t, f.mon.Status().Liquidated)
}

func TestInterestSweepCadence(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }
	f.accounts.SetClock(clock)
	f.loans.SetClock(clock)
	f.mon.SetClock(clock)

	_, err := f.loans.Borrow(ctx, key, dec("1000"))
	require.NoError(t, err)
	f.mon.Tick(ctx)
	assert.Equal(t, start, f.mon.Status().LastInterest)

	now = start.Add(6 * time.Hour)
	f.mon.Tick(ctx)
	acc, err := f.accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acc.CurrentDebt.Equal(dec("1102.2")), acc.CurrentDebt.String())

	now = now.Add(time.Hour)
	f.mon.Tick(ctx)
	assert.Equal(t, start.Add(6*time.Hour), f.mon.Status().LastInterest)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, "1000")
	f.mon.Start(context.Background())
	assert.True(t, f.mon.Status().Running)
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.Status().Ticks > 0 }, time.Second, 5*time.Millisecond)
	f.mon.Stop()
	assert.False(t, f.mon.Status().Running)
	f.mon.Stop()
}

func TestStatusClearsRunningWhenParentContextEnds(t *testing.T) {
	f := newFixture(t, "1000")
	ctx, cancel := context.WithCancel(context.Background())
	f.mon.Start(ctx)
	require.True(t, f.mon.Status().Running)

	cancel()
	require.Eventually(t, func() bool { return !f.mon.Status().Running }, time.Second, 5*time.Millisecond)
	f.mon.Stop()

	f.mon.Start(context.Background())
	assert.True(t, f.mon.Status().Running)
	f.mon.Stop()
	assert.False(t, f.mon.Status().Running)
}
