package positions

import (
	"context"
	"errors"
	"strings"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"
	"lv-margin/internal/model"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceReader is the slice of the price feed positions need.
type PriceReader interface {
	CurrentPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
	Prices(ctx context.Context, instruments []string, fresh bool) map[string]decimal.Decimal
}

type Service struct {
	store    ledger.Store
	accounts *accounts.Service
	prices   PriceReader
	params   risk.Params
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(store ledger.Store, accountSvc *accounts.Service, prices PriceReader, params risk.Params, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		accounts: accountSvc,
		prices:   prices,
		params:   params,
		now:      time.Now,
		logger:   logger.Named("positions"),
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type OpenRequest struct {
	Instrument string
	Side       types.PositionSide
	Notional   decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	OrderID    string
}

type CloseRequest struct {
	Instrument string
	Side       types.PositionSide
	// Notional at or above the position size, or zero, closes it fully.
	Notional decimal.Decimal
	Price    decimal.Decimal
	FeeRate  decimal.Decimal
	Kind     types.TradeKind
	OrderID  string
}

type CloseResult struct {
	Position    model.Position  `json:"position"`
	ClosedSize  decimal.Decimal `json:"closed_size"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	GrossPnL    decimal.Decimal `json:"gross_pnl"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Remaining   decimal.Decimal `json:"remaining"`
	Closed      bool            `json:"closed"`
	Balance     decimal.Decimal `json:"balance"`
}

func holdingsOf(positions []model.Position) []risk.Holding {
	out := make([]risk.Holding, 0, len(positions))
	for _, p := range positions {
		out = append(out, risk.Holding{Instrument: p.Instrument, Side: p.Side, Size: p.Size, Entry: p.EntryPrice})
	}
	return out
}

func instrumentsOf(positions []model.Position, extra ...string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(positions)+len(extra))
	add := func(inst string) {
		if inst == "" {
			return
		}
		if _, ok := seen[inst]; ok {
			return
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	for _, p := range positions {
		add(p.Instrument)
	}
	for _, e := range extra {
		add(e)
	}
	return out
}

// Marks prices every instrument the account holds plus extra, from the cache where possible.
func (s *Service) Marks(ctx context.Context, key model.AccountKey, extra ...string) (map[string]decimal.Decimal, error) {
	positions, err := s.store.ListPositions(ctx, key)
	if err != nil {
		return nil, apperr.Persistence("list positions", err)
	}
	return s.prices.Prices(ctx, instrumentsOf(positions, extra...), false), nil
}

func validateInstrument(instrument string, side types.PositionSide) error {
	if strings.TrimSpace(instrument) == "" {
		return apperr.Validation("instrument is required")
	}
	if !side.Valid() {
		return apperr.Validation("side must be long or short")
	}
	return nil
}

func (s *Service) GetPositions(ctx context.Context, key model.AccountKey) ([]model.Position, error) {
	positions, err := s.store.ListPositions(ctx, key)
	return positions, apperr.Persistence("list positions", err)
}

// ListAll returns every open position across accounts.
func (s *Service) ListAll(ctx context.Context) ([]model.Position, error) {
	positions, err := s.store.ListAllPositions(ctx)
	return positions, apperr.Persistence("list all positions", err)
}

func (s *Service) Get(ctx context.Context, key model.AccountKey, instrument string, side types.PositionSide) (model.Position, bool, error) {
	positions, err := s.store.ListPositions(ctx, key)
	if err != nil {
		return model.Position{}, false, apperr.Persistence("list positions", err)
	}
	for _, p := range positions {
		if p.Instrument == instrument && p.Side == side {
			return p, true, nil
		}
	}
	return model.Position{}, false, nil
}

// OpenOrAdd opens a position or grows the existing one at a volume-weighted entry.
func (s *Service) OpenOrAdd(ctx context.Context, key model.AccountKey, req OpenRequest) (model.Position, error) {
	marks, err := s.Marks(ctx, key, req.Instrument)
	if err != nil {
		return model.Position{}, err
	}
	var pos model.Position
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		pos, err = s.OpenOrAddTx(ctx, tx, key, req, marks)
		return err
	})
	return pos, apperr.Persistence("open position", err)
}

func (s *Service) OpenOrAddTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, req OpenRequest, marks map[string]decimal.Decimal) (model.Position, error) {
	if err := validateInstrument(req.Instrument, req.Side); err != nil {
		return model.Position{}, err
	}
	if !req.Notional.IsPositive() {
		return model.Position{}, apperr.Validation("notional must be positive")
	}
	if !req.Price.IsPositive() {
		return model.Position{}, apperr.Validation("price must be positive")
	}
	acc, err := s.accounts.GetOrCreateTx(ctx, tx, key)
	if err != nil {
		return model.Position{}, err
	}
	existing, err := tx.GetPositionForUpdate(ctx, key, req.Instrument, req.Side)
	found := err == nil
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return model.Position{}, apperr.Persistence("load position", err)
	}
	all, err := tx.ListPositions(ctx, key)
	if err != nil {
		return model.Position{}, apperr.Persistence("list positions", err)
	}

	exposure := s.params.Evaluate(acc.Balance, holdingsOf(all), marks)
	limit := s.params.LeverageLimit(exposure.Floating)
	if exposure.TotalNotional.Add(req.Notional).GreaterThan(limit) {
		room := decimal.Max(limit.Sub(exposure.TotalNotional), decimal.Zero)
		return model.Position{}, apperr.WithLimit(apperr.KindLeverageExceeded, "position would exceed maximum leverage", room)
	}

	now := s.now().UTC()
	kind := types.TradeKindOpen
	pos := existing
	if found {
		kind = types.TradeKindAdd
		pos.EntryPrice = risk.WeightedEntry(existing.Size, existing.EntryPrice, req.Notional, req.Price)
		pos.Size = existing.Size.Add(req.Notional)
	} else {
		pos = model.Position{
			ID:         uuid.NewString(),
			AccountKey: key,
			Instrument: req.Instrument,
			Side:       req.Side,
			Size:       req.Notional,
			EntryPrice: req.Price,
			OpenedAt:   now,
		}
	}
	pos.UpdatedAt = now
	pos.LiquidationPrice = s.params.LiquidationPrice(risk.LiquidationInput{
		Side:     pos.Side,
		Size:     pos.Size,
		Entry:    pos.EntryPrice,
		Balance:  acc.Balance,
		OtherPnL: otherPnL(exposure, pos.Instrument, pos.Side),
	})

	if found {
		err = tx.UpdatePosition(ctx, pos)
	} else {
		err = tx.InsertPosition(ctx, pos)
	}
	if err != nil {
		return model.Position{}, apperr.Persistence("save position", err)
	}
	if err := tx.InsertTrade(ctx, model.Trade{
		ID:         uuid.NewString(),
		AccountKey: key,
		OrderID:    req.OrderID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Kind:       kind,
		Notional:   req.Notional,
		Price:      req.Price,
		Fee:        req.Fee,
		CreatedAt:  now,
	}); err != nil {
		return model.Position{}, apperr.Persistence("record trade", err)
	}
	return pos, nil
}

func otherPnL(exp risk.Exposure, instrument string, side types.PositionSide) decimal.Decimal {
	sum := decimal.Zero
	for _, h := range exp.Holdings {
		if h.Instrument == instrument && h.Side == side {
			continue
		}
		sum = sum.Add(h.Unrealized)
	}
	return sum
}

// ReduceOrClose closes part or all of a position at price and settles the
// net result to the account.
func (s *Service) ReduceOrClose(ctx context.Context, key model.AccountKey, req CloseRequest) (CloseResult, error) {
	marks, err := s.Marks(ctx, key)
	if err != nil {
		return CloseResult{}, err
	}
	var res CloseResult
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		res, err = s.ReduceOrCloseTx(ctx, tx, key, req, marks)
		return err
	})
	return res, apperr.Persistence("close position", err)
}

func (s *Service) ReduceOrCloseTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, req CloseRequest, marks map[string]decimal.Decimal) (CloseResult, error) {
	if err := validateInstrument(req.Instrument, req.Side); err != nil {
		return CloseResult{}, err
	}
	if !req.Price.IsPositive() {
		return CloseResult{}, apperr.Validation("price must be positive")
	}
	if req.Notional.IsNegative() {
		return CloseResult{}, apperr.Validation("notional must not be negative")
	}
	pos, err := tx.GetPositionForUpdate(ctx, key, req.Instrument, req.Side)
	if errors.Is(err, ledger.ErrNotFound) {
		return CloseResult{}, apperr.Validation("no open %s position on %s", req.Side, req.Instrument)
	}
	if err != nil {
		return CloseResult{}, apperr.Persistence("load position", err)
	}

	full := req.Notional.IsZero() || req.Notional.GreaterThanOrEqual(pos.Size)
	closeSize := pos.Size
	if !full {
		closeSize = req.Notional
	}
	gross := risk.PnL(pos.Side, closeSize, pos.EntryPrice, req.Price)
	fee := closeSize.Mul(req.FeeRate)
	net := gross.Sub(fee)
	now := s.now().UTC()

	kind := req.Kind
	if kind == "" {
		kind = types.TradeKindReduce
		if full {
			kind = types.TradeKindClose
		}
	}

	acc, err := s.accounts.GetOrCreateTx(ctx, tx, key)
	if err != nil {
		return CloseResult{}, err
	}
	win := net.IsPositive()
	acc, err = s.accounts.UpdateBalanceTx(ctx, tx, key, accounts.BalanceUpdate{
		NewBalance: acc.Balance.Add(net),
		PnLDelta:   net,
		FeeDelta:   fee,
		IsWin:      &win,
	})
	if err != nil {
		return CloseResult{}, err
	}

	res := CloseResult{
		Position:    pos,
		ClosedSize:  closeSize,
		ExitPrice:   req.Price,
		GrossPnL:    gross,
		Fee:         fee,
		RealizedPnL: net,
		Closed:      full,
		Balance:     acc.Balance,
	}
	if full {
		if err := tx.DeletePosition(ctx, pos.ID); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return CloseResult{}, apperr.Validation("position already closed")
			}
			return CloseResult{}, apperr.Persistence("delete position", err)
		}
		if _, err := s.cancelCloseOrdersTx(ctx, tx, key, pos.Instrument, pos.Side, "position closed"); err != nil {
			return CloseResult{}, err
		}
	} else {
		pos.Size = pos.Size.Sub(closeSize)
		pos.UpdatedAt = now
		all, err := tx.ListPositions(ctx, key)
		if err != nil {
			return CloseResult{}, apperr.Persistence("list positions", err)
		}
		exposure := s.params.Evaluate(acc.Balance, holdingsOf(all), marks)
		pos.LiquidationPrice = s.params.LiquidationPrice(risk.LiquidationInput{
			Side:     pos.Side,
			Size:     pos.Size,
			Entry:    pos.EntryPrice,
			Balance:  acc.Balance,
			OtherPnL: otherPnL(exposure, pos.Instrument, pos.Side),
		})
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return CloseResult{}, apperr.Persistence("update position", err)
		}
		res.Remaining = pos.Size
	}

	if err := tx.InsertTrade(ctx, model.Trade{
		ID:          uuid.NewString(),
		AccountKey:  key,
		OrderID:     req.OrderID,
		Instrument:  pos.Instrument,
		Side:        pos.Side,
		Kind:        kind,
		Notional:    closeSize,
		Price:       req.Price,
		Fee:         fee,
		RealizedPnL: net,
		CreatedAt:   now,
	}); err != nil {
		return CloseResult{}, apperr.Persistence("record trade", err)
	}
	return res, nil
}

// CancelCloseOrdersTx cancels pending take-profit, stop-loss and close orders
// attached to one position.
func (s *Service) CancelCloseOrdersTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, instrument string, side types.PositionSide, reason string) ([]model.Order, error) {
	return s.cancelCloseOrdersTx(ctx, tx, key, instrument, side, reason)
}

func (s *Service) cancelCloseOrdersTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, instrument string, side types.PositionSide, reason string) ([]model.Order, error) {
	pending, err := tx.ListAccountOrders(ctx, key, types.OrderStatusPending)
	if err != nil {
		return nil, apperr.Persistence("list pending orders", err)
	}
	released := decimal.Zero
	cancelled := make([]model.Order, 0)
	now := s.now().UTC()
	for _, o := range pending {
		if o.Instrument != instrument || o.Side != side || !o.Purpose.Closing() {
			continue
		}
		released = released.Add(o.LockedMargin)
		o.LockedMargin = decimal.Zero
		o.Status = types.OrderStatusCancelled
		o.Reason = reason
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return nil, apperr.Persistence("cancel order", err)
		}
		cancelled = append(cancelled, o)
	}
	if released.IsPositive() {
		if _, err := s.accounts.UpdateMarginTx(ctx, tx, key, released.Neg()); err != nil {
			return nil, err
		}
	}
	return cancelled, nil
}

// LiquidationPrice prices a hypothetical or existing position against the
// account's balance and the cached marks of its other positions.
func (s *Service) LiquidationPrice(ctx context.Context, key model.AccountKey, instrument string, side types.PositionSide, size, entry decimal.Decimal) (decimal.Decimal, error) {
	if err := validateInstrument(instrument, side); err != nil {
		return decimal.Zero, err
	}
	if !size.IsPositive() || !entry.IsPositive() {
		return decimal.Zero, apperr.Validation("size and entry price must be positive")
	}
	acc, err := s.accounts.GetOrCreate(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	positions, err := s.store.ListPositions(ctx, key)
	if err != nil {
		return decimal.Zero, apperr.Persistence("list positions", err)
	}
	marks := s.prices.Prices(ctx, instrumentsOf(positions), false)
	exposure := s.params.Evaluate(acc.Balance, holdingsOf(positions), marks)
	return s.params.LiquidationPrice(risk.LiquidationInput{
		Side:     side,
		Size:     size,
		Entry:    entry,
		Balance:  acc.Balance,
		OtherPnL: otherPnL(exposure, instrument, side),
	}), nil
}

// ThresholdRatio is the maintenance ratio for a leverage ratio.
func (s *Service) ThresholdRatio(leverage decimal.Decimal) decimal.Decimal {
	return s.params.ThresholdRatio(leverage)
}

// Snapshot values the account at marks; nil marks are looked up from the cache.
func (s *Service) Snapshot(ctx context.Context, key model.AccountKey, marks map[string]decimal.Decimal) (risk.Exposure, error) {
	acc, err := s.accounts.GetOrCreate(ctx, key)
	if err != nil {
		return risk.Exposure{}, err
	}
	positions, err := s.store.ListPositions(ctx, key)
	if err != nil {
		return risk.Exposure{}, apperr.Persistence("list positions", err)
	}
	if marks == nil {
		marks = s.prices.Prices(ctx, instrumentsOf(positions), false)
	}
	return s.params.Evaluate(acc.Balance, holdingsOf(positions), marks), nil
}

type CloseFailure struct {
	Instrument string             `json:"instrument"`
	Side       types.PositionSide `json:"side"`
	Reason     string             `json:"reason"`
}

type CloseAllResult struct {
	Closed      []CloseResult   `json:"closed"`
	Failed      []CloseFailure  `json:"failed,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fees        decimal.Decimal `json:"fees"`
}

// CloseAll closes every position at fresh marks, each in its own transaction.
// A position that cannot be priced or closed is reported and skipped.
func (s *Service) CloseAll(ctx context.Context, key model.AccountKey) (CloseAllResult, error) {
	if err := accounts.ValidateKey(key); err != nil {
		return CloseAllResult{}, err
	}
	positions, err := s.store.ListPositions(ctx, key)
	if err != nil {
		return CloseAllResult{}, apperr.Persistence("list positions", err)
	}
	out := CloseAllResult{Closed: make([]CloseResult, 0, len(positions))}
	marks := s.prices.Prices(ctx, instrumentsOf(positions), true)
	for _, p := range positions {
		price, ok := marks[p.Instrument]
		if !ok {
			out.Failed = append(out.Failed, CloseFailure{Instrument: p.Instrument, Side: p.Side, Reason: "price unavailable"})
			continue
		}
		var res CloseResult
		err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			res, err = s.ReduceOrCloseTx(ctx, tx, key, CloseRequest{
				Instrument: p.Instrument,
				Side:       p.Side,
				Price:      price,
				FeeRate:    s.params.TakerFeeRate,
			}, marks)
			return err
		})
		if err != nil {
			s.logger.Warn("close position failed", zap.String("user_id", key.UserID), zap.String("instrument", p.Instrument), zap.Error(err))
			out.Failed = append(out.Failed, CloseFailure{Instrument: p.Instrument, Side: p.Side, Reason: err.Error()})
			continue
		}
		out.Closed = append(out.Closed, res)
		out.RealizedPnL = out.RealizedPnL.Add(res.RealizedPnL)
		out.Fees = out.Fees.Add(res.Fee)
	}
	return out, nil
}

// SetTriggers attaches or clears position-level take-profit and stop-loss
// prices. A nil price clears that trigger.
func (s *Service) SetTriggers(ctx context.Context, key model.AccountKey, instrument string, side types.PositionSide, takeProfit, stopLoss *decimal.Decimal) (model.Position, error) {
	if err := validateInstrument(instrument, side); err != nil {
		return model.Position{}, err
	}
	var pos model.Position
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		pos, err = tx.GetPositionForUpdate(ctx, key, instrument, side)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.Validation("no open %s position on %s", side, instrument)
		}
		if err != nil {
			return err
		}
		if err := validateTriggers(pos, takeProfit, stopLoss); err != nil {
			return err
		}
		pos.TakeProfit = takeProfit
		pos.StopLoss = stopLoss
		pos.UpdatedAt = s.now().UTC()
		return tx.UpdatePosition(ctx, pos)
	})
	return pos, apperr.Persistence("set triggers", err)
}

func validateTriggers(pos model.Position, takeProfit, stopLoss *decimal.Decimal) error {
	long := pos.Side == types.SideLong
	if takeProfit != nil {
		if !takeProfit.IsPositive() {
			return apperr.Validation("take profit must be positive")
		}
		if long && !takeProfit.GreaterThan(pos.EntryPrice) || !long && !takeProfit.LessThan(pos.EntryPrice) {
			return apperr.Validation("take profit must be on the profitable side of entry %s", pos.EntryPrice)
		}
	}
	if stopLoss != nil {
		if !stopLoss.IsPositive() {
			return apperr.Validation("stop loss must be positive")
		}
		if long && !stopLoss.LessThan(pos.EntryPrice) || !long && !stopLoss.GreaterThan(pos.EntryPrice) {
			return apperr.Validation("stop loss must be on the losing side of entry %s", pos.EntryPrice)
		}
	}
	return nil
}

// TriggerHit reports which position-level trigger, if any, mark has crossed.
func TriggerHit(pos model.Position, mark decimal.Decimal) (types.OrderPurpose, bool) {
	long := pos.Side == types.SideLong
	if pos.StopLoss != nil {
		if long && mark.LessThanOrEqual(*pos.StopLoss) || !long && mark.GreaterThanOrEqual(*pos.StopLoss) {
			return types.PurposeStopLoss, true
		}
	}
	if pos.TakeProfit != nil {
		if long && mark.GreaterThanOrEqual(*pos.TakeProfit) || !long && mark.LessThanOrEqual(*pos.TakeProfit) {
			return types.PurposeTakeProfit, true
		}
	}
	return "", false
}

type LiquidationResult struct {
	Key        model.AccountKey `json:"account"`
	Liquidated bool             `json:"liquidated"`
	Positions  []model.Trade    `json:"positions"`
	Lost       decimal.Decimal  `json:"lost"`
	Exposure   risk.Exposure    `json:"exposure"`
	Cancelled  int              `json:"cancelled_orders"`
}

// Liquidate force-closes every position of a breached account at marks. The
// breach is re-checked inside the transaction; a healthy account is left alone.
func (s *Service) Liquidate(ctx context.Context, key model.AccountKey, marks map[string]decimal.Decimal) (LiquidationResult, error) {
	res := LiquidationResult{Key: key}
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		res = LiquidationResult{Key: key}
		acc, err := tx.GetAccountForUpdate(ctx, key)
		if err != nil {
			return err
		}
		positions, err := tx.ListPositions(ctx, key)
		if err != nil {
			return err
		}
		exposure := s.params.Evaluate(acc.Balance, holdingsOf(positions), marks)
		res.Exposure = exposure
		if !exposure.Breached() {
			return nil
		}

		now := s.now().UTC()
		lost := acc.Balance
		for _, p := range positions {
			share := decimal.Zero
			if exposure.TotalNotional.IsPositive() {
				share = lost.Mul(p.Size).Div(exposure.TotalNotional)
			}
			price, ok := marks[p.Instrument]
			if !ok {
				price = p.EntryPrice
			}
			if err := tx.DeletePosition(ctx, p.ID); err != nil {
				return err
			}
			trade := model.Trade{
				ID:          uuid.NewString(),
				AccountKey:  key,
				Instrument:  p.Instrument,
				Side:        p.Side,
				Kind:        types.TradeKindLiquidation,
				Notional:    p.Size,
				Price:       price,
				Fee:         decimal.Zero,
				RealizedPnL: share.Neg(),
				CreatedAt:   now,
			}
			if err := tx.InsertTrade(ctx, trade); err != nil {
				return err
			}
			res.Positions = append(res.Positions, trade)
		}

		pending, err := tx.ListAccountOrders(ctx, key, types.OrderStatusPending)
		if err != nil {
			return err
		}
		for _, o := range pending {
			o.LockedMargin = decimal.Zero
			o.Status = types.OrderStatusCancelled
			o.Reason = "account liquidated"
			o.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			res.Cancelled++
		}
		if acc.FrozenMargin.IsPositive() {
			if _, err := s.accounts.UpdateMarginTx(ctx, tx, key, acc.FrozenMargin.Neg()); err != nil {
				return err
			}
		}
		lossFlag := false
		if _, err := s.accounts.UpdateBalanceTx(ctx, tx, key, accounts.BalanceUpdate{
			NewBalance: decimal.Zero,
			PnLDelta:   lost.Neg(),
			IsWin:      &lossFlag,
		}); err != nil {
			return err
		}
		res.Liquidated = true
		res.Lost = lost
		return nil
	})
	if err != nil {
		return LiquidationResult{Key: key}, apperr.Persistence("liquidate account", err)
	}
	if res.Liquidated {
		s.logger.Warn("account liquidated", zap.String("user_id", key.UserID), zap.String("venue", key.Venue),
			zap.Int("positions", len(res.Positions)), zap.String("lost", res.Lost.String()))
	}
	return res, nil
}
