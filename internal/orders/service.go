package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/metrics"
	"lv-margin/internal/model"
	"lv-margin/internal/notify"
	"lv-margin/internal/positions"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource is the slice of the price feed orders need.
type PriceSource interface {
	CurrentPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
	FreshPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
}

type Service struct {
	store     ledger.Store
	accounts  *accounts.Service
	positions *positions.Service
	prices    PriceSource
	params    risk.Params
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(store ledger.Store, accountSvc *accounts.Service, positionSvc *positions.Service, prices PriceSource, params risk.Params, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		accounts:  accountSvc,
		positions: positionSvc,
		prices:    prices,
		params:    params,
		notifier:  notify.Nop{},
		now:       time.Now,
		logger:    logger.Named("orders"),
	}
}

func (s *Service) SetNotifier(n notify.Notifier) {
	if n != nil {
		s.notifier = n
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type CreateRequest struct {
	Key        model.AccountKey
	Instrument string
	Side       types.PositionSide
	Role       types.OrderRole
	Purpose    types.OrderPurpose
	// Notional of zero on a closing order means the whole position.
	Notional decimal.Decimal
	Price    *decimal.Decimal
}

type Execution struct {
	Order    model.Order            `json:"order"`
	Fee      decimal.Decimal        `json:"fee"`
	Position *model.Position        `json:"position,omitempty"`
	Close    *positions.CloseResult `json:"close,omitempty"`
}

type CreateResult struct {
	Order     model.Order `json:"order"`
	Execution *Execution  `json:"execution,omitempty"`
}

func (s *Service) validate(req *CreateRequest) error {
	if err := accounts.ValidateKey(req.Key); err != nil {
		return err
	}
	req.Instrument = marketdata.Normalize(req.Instrument)
	if req.Instrument == "" {
		return apperr.Validation("instrument is required")
	}
	if !req.Side.Valid() {
		return apperr.Validation("side must be long or short")
	}
	if !req.Role.Valid() {
		return apperr.Validation("role must be immediate or resting")
	}
	if !req.Purpose.Valid() {
		return apperr.Validation("purpose must be open, take_profit, stop_loss or close")
	}
	if req.Notional.IsNegative() || (!req.Purpose.Closing() && !req.Notional.IsPositive()) {
		return apperr.Validation("notional must be positive")
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return apperr.Validation("price must be positive")
	}
	if req.Role == types.RoleResting && req.Price == nil {
		return apperr.Validation("resting orders need a price")
	}
	return nil
}

// withinBand applies to limit-style orders; stop and take-profit triggers may sit anywhere.
func (s *Service) withinBand(purpose types.OrderPurpose, price, mark decimal.Decimal) bool {
	if purpose == types.PurposeTakeProfit || purpose == types.PurposeStopLoss {
		return true
	}
	return price.Sub(mark).Abs().LessThanOrEqual(mark.Mul(s.params.PriceBand))
}

// Create validates and persists an order, locking margin for opening orders.
// Immediate orders are executed right away; if that fails the order is
// cancelled and the failure returned.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := s.validate(&req); err != nil {
		return CreateResult{}, err
	}
	if req.Role == types.RoleResting {
		mark, err := s.prices.CurrentPrice(ctx, req.Instrument)
		if err != nil {
			return CreateResult{}, err
		}
		if !s.withinBand(req.Purpose, *req.Price, mark) {
			band := mark.Mul(s.params.PriceBand)
			return CreateResult{}, apperr.Validation("price %s is more than %s away from mark %s", req.Price.String(), band.String(), mark.String())
		}
	}
	if req.Purpose.Closing() {
		pos, ok, err := s.positions.Get(ctx, req.Key, req.Instrument, req.Side)
		if err != nil {
			return CreateResult{}, err
		}
		if !ok {
			return CreateResult{}, apperr.Validation("no open %s position on %s", req.Side, req.Instrument)
		}
		if req.Notional.IsZero() || req.Notional.GreaterThan(pos.Size) {
			req.Notional = pos.Size
		}
	}

	margin := decimal.Zero
	if req.Purpose == types.PurposeOpen {
		margin = s.params.RequiredMargin(req.Notional)
	}
	now := s.now().UTC()
	order := model.Order{
		ID:           uuid.NewString(),
		AccountKey:   req.Key,
		Instrument:   req.Instrument,
		Side:         req.Side,
		Direction:    types.DirectionFor(req.Side, req.Purpose),
		Role:         req.Role,
		Purpose:      req.Purpose,
		Notional:     req.Notional,
		Price:        req.Price,
		LockedMargin: margin,
		FeeRate:      s.params.FeeRate(req.Role),
		Status:       types.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := s.accounts.GetOrCreateTx(ctx, tx, req.Key)
		if err != nil {
			return err
		}
		if margin.IsPositive() && acc.Available().LessThan(margin) {
			return apperr.WithLimit(apperr.KindInsufficientMargin, "insufficient available balance for margin", acc.Available())
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return apperr.Persistence("insert order", err)
		}
		if margin.IsPositive() {
			if _, err := s.accounts.UpdateMarginTx(ctx, tx, req.Key, margin); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, apperr.Persistence("create order", err)
	}
	s.logger.Info("order created", zap.String("order_id", order.ID), zap.String("user_id", req.Key.UserID),
		zap.String("instrument", order.Instrument), zap.String("role", string(order.Role)), zap.String("purpose", string(order.Purpose)))

	if order.Role != types.RoleImmediate {
		return CreateResult{Order: order}, nil
	}
	exec, err := s.Execute(ctx, order.ID)
	if err != nil {
		cancelled, cerr := s.cancel(ctx, order.ID, nil, "execution failed: "+err.Error())
		if cerr != nil && !errors.Is(cerr, apperr.ErrOrderNotPending) {
			s.logger.Error("failed to cancel order after execution failure", zap.String("order_id", order.ID), zap.Error(cerr))
		}
		if cerr == nil {
			order = cancelled
		}
		return CreateResult{Order: order}, err
	}
	return CreateResult{Order: exec.Order, Execution: &exec}, nil
}

// ConditionMet reports whether mark satisfies the order's price condition.
func ConditionMet(o model.Order, mark decimal.Decimal) bool {
	if o.Role == types.RoleImmediate {
		return true
	}
	if o.Price == nil {
		return false
	}
	limit := *o.Price
	long := o.Side == types.SideLong
	switch o.Purpose {
	case types.PurposeStopLoss:
		if long {
			return mark.LessThanOrEqual(limit)
		}
		return mark.GreaterThanOrEqual(limit)
	case types.PurposeTakeProfit:
		if long {
			return mark.GreaterThanOrEqual(limit)
		}
		return mark.LessThanOrEqual(limit)
	default:
		if types.DirectionFor(o.Side, o.Purpose) == types.DirectionBuy {
			return mark.LessThanOrEqual(limit)
		}
		return mark.GreaterThanOrEqual(limit)
	}
}

func (s *Service) load(ctx context.Context, id string) (model.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return o, apperr.New(apperr.KindNotFound, "order not found")
	}
	return o, apperr.Persistence("load order", err)
}

// Execute fills a pending order at a fresh price (immediate) or the cached mark (resting).
func (s *Service) Execute(ctx context.Context, id string) (Execution, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return Execution{}, err
	}
	if o.Status != types.OrderStatusPending {
		return Execution{}, apperr.ErrOrderNotPending
	}
	var mark decimal.Decimal
	if o.Role == types.RoleImmediate {
		mark, err = s.prices.FreshPrice(ctx, o.Instrument)
	} else {
		mark, err = s.prices.CurrentPrice(ctx, o.Instrument)
	}
	if err != nil {
		return Execution{}, err
	}
	return s.ExecuteAt(ctx, id, mark)
}

func tradeKindFor(p types.OrderPurpose) types.TradeKind {
	switch p {
	case types.PurposeTakeProfit:
		return types.TradeKindTakeProfit
	case types.PurposeStopLoss:
		return types.TradeKindStopLoss
	}
	return ""
}

// ExecuteAt fills a pending order at mark. The status check, margin release,
// fee, position change and trade record commit together or not at all.
func (s *Service) ExecuteAt(ctx context.Context, id string, mark decimal.Decimal) (Execution, error) {
	if !mark.IsPositive() {
		return Execution{}, apperr.ErrPriceUnavailable
	}
	o, err := s.load(ctx, id)
	if err != nil {
		return Execution{}, err
	}
	marks, err := s.positions.Marks(ctx, o.AccountKey)
	if err != nil {
		return Execution{}, err
	}
	marks[o.Instrument] = mark

	var exec Execution
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != types.OrderStatusPending {
			return apperr.ErrOrderNotPending
		}
		if !ConditionMet(o, mark) {
			return apperr.ErrConditionNotMet
		}
		if o.LockedMargin.IsPositive() {
			if _, err := s.accounts.UpdateMarginTx(ctx, tx, o.AccountKey, o.LockedMargin.Neg()); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		fill := mark
		o.Status = types.OrderStatusExecuted
		o.FillPrice = &fill
		o.ExecutedAt = &now
		o.UpdatedAt = now
		o.LockedMargin = decimal.Zero
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return apperr.Persistence("update order", err)
		}
		exec = Execution{Order: o}

		if o.Purpose == types.PurposeOpen {
			fee := o.Notional.Mul(o.FeeRate)
			pos, err := s.positions.OpenOrAddTx(ctx, tx, o.AccountKey, positions.OpenRequest{
				Instrument: o.Instrument,
				Side:       o.Side,
				Notional:   o.Notional,
				Price:      fill,
				Fee:        fee,
				OrderID:    o.ID,
			}, marks)
			if err != nil {
				return err
			}
			acc, err := s.accounts.GetOrCreateTx(ctx, tx, o.AccountKey)
			if err != nil {
				return err
			}
			if _, err := s.accounts.UpdateBalanceTx(ctx, tx, o.AccountKey, accounts.BalanceUpdate{
				NewBalance: acc.Balance.Sub(fee),
				FeeDelta:   fee,
			}); err != nil {
				return err
			}
			exec.Fee = fee
			exec.Position = &pos
		} else {
			res, err := s.positions.ReduceOrCloseTx(ctx, tx, o.AccountKey, positions.CloseRequest{
				Instrument: o.Instrument,
				Side:       o.Side,
				Notional:   o.Notional,
				Price:      fill,
				FeeRate:    o.FeeRate,
				Kind:       tradeKindFor(o.Purpose),
				OrderID:    o.ID,
			}, marks)
			if err != nil {
				return err
			}
			exec.Fee = res.Fee
			exec.Close = &res
		}
		return nil
	})
	if err != nil {
		return Execution{}, apperr.Persistence("execute order", err)
	}
	s.metrics.OrderExecuted(string(exec.Order.Role), string(exec.Order.Purpose))
	s.logger.Info("order executed", zap.String("order_id", id), zap.String("user_id", exec.Order.UserID),
		zap.String("instrument", exec.Order.Instrument), zap.String("price", mark.String()), zap.String("fee", exec.Fee.String()))
	s.notifier.Notify(ctx, notify.Event{Type: notify.EventOrderExecuted, Account: exec.Order.AccountKey, Data: exec})
	return exec, nil
}

// Cancel cancels a pending order owned by key and unlocks its margin.
func (s *Service) Cancel(ctx context.Context, key model.AccountKey, id string) (model.Order, error) {
	return s.cancel(ctx, id, &key, "cancelled by user")
}

// CancelWithReason is used by the monitor for orders that can no longer execute.
func (s *Service) CancelWithReason(ctx context.Context, id, reason string) (model.Order, error) {
	o, err := s.cancel(ctx, id, nil, reason)
	if err == nil {
		s.notifier.Notify(ctx, notify.Event{Type: notify.EventOrderCancelled, Account: o.AccountKey, Message: reason, Data: o})
	}
	return o, err
}

func (s *Service) cancel(ctx context.Context, id string, owner *model.AccountKey, reason string) (model.Order, error) {
	var out model.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && owner != nil && o.AccountKey != *owner) {
			return apperr.New(apperr.KindNotFound, "order not found")
		}
		if err != nil {
			return err
		}
		if o.Status != types.OrderStatusPending {
			return apperr.ErrOrderNotPending
		}
		if o.LockedMargin.IsPositive() {
			if _, err := s.accounts.UpdateMarginTx(ctx, tx, o.AccountKey, o.LockedMargin.Neg()); err != nil {
				return err
			}
		}
		o.LockedMargin = decimal.Zero
		o.Status = types.OrderStatusCancelled
		o.Reason = reason
		o.UpdatedAt = s.now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, apperr.Persistence("cancel order", err)
}

// CancelCloseOrders cancels pending take-profit, stop-loss and close orders for one position.
func (s *Service) CancelCloseOrders(ctx context.Context, key model.AccountKey, instrument string, side types.PositionSide) ([]model.Order, error) {
	var out []model.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = s.positions.CancelCloseOrdersTx(ctx, tx, key, instrument, side, "position closed by trigger")
		return err
	})
	return out, apperr.Persistence("cancel close orders", err)
}

func (s *Service) Get(ctx context.Context, key model.AccountKey, id string) (model.Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return o, err
	}
	if o.AccountKey != key {
		return model.Order{}, apperr.New(apperr.KindNotFound, "order not found")
	}
	return o, nil
}

func (s *Service) ListPending(ctx context.Context, key model.AccountKey) ([]model.Order, error) {
	out, err := s.store.ListAccountOrders(ctx, key, types.OrderStatusPending)
	return out, apperr.Persistence("list orders", err)
}

// ListAllPending is the monitor's view across every account.
func (s *Service) ListAllPending(ctx context.Context) ([]model.Order, error) {
	out, err := s.store.ListPendingOrders(ctx)
	return out, apperr.Persistence("list pending orders", err)
}

func (s *Service) History(ctx context.Context, key model.AccountKey, limit int) ([]model.Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out, err := s.store.ListTrades(ctx, key, limit)
	return out, apperr.Persistence("list trades", err)
}

// ParseSide accepts long/short as well as buy/sell for opening orders.
func ParseSide(raw string) types.PositionSide {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return types.SideLong
	case "short", "sell":
		return types.SideShort
	}
	return types.PositionSide(raw)
}
