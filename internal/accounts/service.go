package accounts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"
	"lv-margin/internal/model"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service owns the per-(user, venue) balance. Other services change money only through it.
type Service struct {
	store  ledger.Store
	params risk.Params
	now    func() time.Time
	logger *zap.Logger
}

func NewService(store ledger.Store, params risk.Params, logger *zap.Logger) *Service {
	return &Service{store: store, params: params, now: time.Now, logger: logger.Named("accounts")}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func ValidateKey(key model.AccountKey) error {
	if strings.TrimSpace(key.UserID) == "" {
		return apperr.Validation("user id is required")
	}
	if strings.TrimSpace(key.Venue) == "" {
		return apperr.Validation("venue is required")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, key model.AccountKey) (model.Account, error) {
	acc, err := s.store.GetAccount(ctx, key)
	if errors.Is(err, ledger.ErrNotFound) {
		return acc, apperr.New(apperr.KindNotFound, "account not found")
	}
	return acc, apperr.Persistence("load account", err)
}

// GetOrCreate is idempotent: the first call opens the account with the starting balance.
func (s *Service) GetOrCreate(ctx context.Context, key model.AccountKey) (model.Account, error) {
	if err := ValidateKey(key); err != nil {
		return model.Account{}, err
	}
	acc, err := s.store.GetAccount(ctx, key)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return acc, apperr.Persistence("load account", err)
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		acc, err = s.GetOrCreateTx(ctx, tx, key)
		return err
	})
	return acc, apperr.Persistence("create account", err)
}

func (s *Service) GetOrCreateTx(ctx context.Context, tx ledger.Tx, key model.AccountKey) (model.Account, error) {
	if err := ValidateKey(key); err != nil {
		return model.Account{}, err
	}
	now := s.now().UTC()
	acc, err := tx.EnsureAccount(ctx, model.Account{
		AccountKey: key,
		Balance:    s.params.StartingBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return acc, apperr.Persistence("ensure account", err)
	}
	return acc, nil
}

// BalanceUpdate is one settlement. IsWin is nil for events that are not a
// closed trade (fees on open, loan flows).
type BalanceUpdate struct {
	NewBalance decimal.Decimal
	PnLDelta   decimal.Decimal
	FeeDelta   decimal.Decimal
	IsWin      *bool
}

func (s *Service) UpdateBalance(ctx context.Context, key model.AccountKey, upd BalanceUpdate) (model.Account, error) {
	var acc model.Account
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		acc, err = s.UpdateBalanceTx(ctx, tx, key, upd)
		return err
	})
	return acc, apperr.Persistence("update balance", err)
}

func (s *Service) UpdateBalanceTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, upd BalanceUpdate) (model.Account, error) {
	acc, err := s.GetOrCreateTx(ctx, tx, key)
	if err != nil {
		return acc, err
	}
	balance := upd.NewBalance
	if balance.IsNegative() {
		s.logger.Info("balance floored at zero", zap.String("user_id", key.UserID), zap.String("venue", key.Venue),
			zap.String("shortfall", balance.Neg().String()))
		balance = decimal.Zero
	}
	acc.Balance = balance
	acc.RealizedPnL = acc.RealizedPnL.Add(upd.PnLDelta)
	acc.FeesPaid = acc.FeesPaid.Add(upd.FeeDelta)
	if upd.IsWin != nil {
		acc.TradeCount++
		if *upd.IsWin {
			acc.WinCount++
		} else {
			acc.LossCount++
		}
	}
	acc.UpdatedAt = s.now().UTC()
	if acc.FrozenMargin.GreaterThan(acc.Balance) {
		if acc, err = s.releaseExcessMarginTx(ctx, tx, acc); err != nil {
			return acc, err
		}
	}
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return acc, apperr.Persistence("update account", err)
	}
	return acc, nil
}

// releaseExcessMarginTx cancels pending orders, newest first, until the
// margin they lock fits inside the balance again.
func (s *Service) releaseExcessMarginTx(ctx context.Context, tx ledger.Tx, acc model.Account) (model.Account, error) {
	pending, err := tx.ListAccountOrders(ctx, acc.AccountKey, types.OrderStatusPending)
	if err != nil {
		return acc, apperr.Persistence("list pending orders", err)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.After(pending[j].CreatedAt) })
	now := s.now().UTC()
	for _, o := range pending {
		if !acc.FrozenMargin.GreaterThan(acc.Balance) {
			break
		}
		if !o.LockedMargin.IsPositive() {
			continue
		}
		acc.FrozenMargin = acc.FrozenMargin.Sub(o.LockedMargin)
		o.LockedMargin = decimal.Zero
		o.Status = types.OrderStatusCancelled
		o.Reason = "insufficient balance after settlement"
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return acc, apperr.Persistence("cancel order", err)
		}
		s.logger.Info("order cancelled to release margin", zap.String("order_id", o.ID), zap.String("user_id", acc.UserID))
	}
	if acc.FrozenMargin.IsNegative() || acc.FrozenMargin.GreaterThan(acc.Balance) {
		acc.FrozenMargin = decimal.Min(decimal.Max(acc.FrozenMargin, decimal.Zero), acc.Balance)
	}
	return acc, nil
}

// UpdateMargin moves delta into (positive) or out of (negative) frozen margin.
// Callers check available balance before locking.
func (s *Service) UpdateMargin(ctx context.Context, key model.AccountKey, delta decimal.Decimal) (model.Account, error) {
	var acc model.Account
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		acc, err = s.UpdateMarginTx(ctx, tx, key, delta)
		return err
	})
	return acc, apperr.Persistence("update margin", err)
}

func (s *Service) UpdateMarginTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, delta decimal.Decimal) (model.Account, error) {
	acc, err := s.GetOrCreateTx(ctx, tx, key)
	if err != nil {
		return acc, err
	}
	acc.FrozenMargin = acc.FrozenMargin.Add(delta)
	if acc.FrozenMargin.IsNegative() {
		acc.FrozenMargin = decimal.Zero
	}
	acc.UpdatedAt = s.now().UTC()
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return acc, apperr.Persistence("update account", err)
	}
	return acc, nil
}

func (s *Service) UpdateLoanStats(ctx context.Context, key model.AccountKey, borrowedDelta, repaidDelta, currentDebt decimal.Decimal) (model.Account, error) {
	var acc model.Account
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		acc, err = s.UpdateLoanStatsTx(ctx, tx, key, borrowedDelta, repaidDelta, currentDebt)
		return err
	})
	return acc, apperr.Persistence("update loan stats", err)
}

func (s *Service) UpdateLoanStatsTx(ctx context.Context, tx ledger.Tx, key model.AccountKey, borrowedDelta, repaidDelta, currentDebt decimal.Decimal) (model.Account, error) {
	acc, err := s.GetOrCreateTx(ctx, tx, key)
	if err != nil {
		return acc, err
	}
	acc.TotalBorrowed = acc.TotalBorrowed.Add(borrowedDelta)
	acc.TotalRepaid = acc.TotalRepaid.Add(repaidDelta)
	acc.CurrentDebt = currentDebt
	acc.UpdatedAt = s.now().UTC()
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return acc, apperr.Persistence("update account", err)
	}
	return acc, nil
}
