package loans

import (
	"context"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"
	"lv-margin/internal/model"
	"lv-margin/internal/notify"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// debtPlaces bounds the scale of compounded debt.
const debtPlaces = 8

type Service struct {
	store    ledger.Store
	accounts *accounts.Service
	params   risk.Params
	notifier notify.Notifier
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(store ledger.Store, accountSvc *accounts.Service, params risk.Params, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		accounts: accountSvc,
		params:   params,
		notifier: notify.Nop{},
		now:      time.Now,
		logger:   logger.Named("loans"),
	}
}

func (s *Service) SetNotifier(n notify.Notifier) {
	if n != nil {
		s.notifier = n
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AccrueInterest compounds whole elapsed periods into the loan's debt. The
// partial period is carried forward, so calling it twice inside one period
// changes nothing.
func AccrueInterest(loan model.Loan, period time.Duration, now time.Time) (model.Loan, bool) {
	if loan.Status != types.LoanStatusActive || period <= 0 {
		return loan, false
	}
	n := int64(now.Sub(loan.LastAccrual) / period)
	if n < 1 {
		return loan, false
	}
	factor := decimal.NewFromInt(1).Add(loan.Rate).Pow(decimal.NewFromInt(n))
	loan.Debt = loan.Debt.Mul(factor).Round(debtPlaces)
	loan.LastAccrual = loan.LastAccrual.Add(time.Duration(n) * period)
	return loan, true
}

// accrueTx refreshes every active loan of key and returns them oldest first
// with their total debt and principal.
func (s *Service) accrueTx(ctx context.Context, tx ledger.Tx, key model.AccountKey) ([]model.Loan, decimal.Decimal, decimal.Decimal, error) {
	active, err := tx.ListLoans(ctx, key, types.LoanStatusActive)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, apperr.Persistence("list loans", err)
	}
	now := s.now().UTC()
	debt, principal := decimal.Zero, decimal.Zero
	for i, l := range active {
		updated, changed := AccrueInterest(l, s.params.LoanPeriod, now)
		if changed {
			if err := tx.UpdateLoan(ctx, updated); err != nil {
				return nil, decimal.Zero, decimal.Zero, apperr.Persistence("update loan", err)
			}
			active[i] = updated
		}
		debt = debt.Add(updated.Debt)
		principal = principal.Add(updated.Principal)
	}
	return active, debt, principal, nil
}

// MaxBorrowable is the largest principal that keeps total debt within the credit line.
func (s *Service) MaxBorrowable(balance, outstandingPrincipal, currentDebt decimal.Decimal) decimal.Decimal {
	net := balance.Sub(outstandingPrincipal)
	room := net.Mul(s.params.LoanMaxDebtMultiple).Sub(currentDebt)
	if !room.IsPositive() {
		return decimal.Zero
	}
	return room.Div(decimal.NewFromInt(1).Add(s.params.LoanInitialFeeRate)).Truncate(debtPlaces)
}

// Borrow issues a new loan and credits its principal to the balance.
func (s *Service) Borrow(ctx context.Context, key model.AccountKey, principal decimal.Decimal) (model.Loan, error) {
	if err := accounts.ValidateKey(key); err != nil {
		return model.Loan{}, err
	}
	if !principal.IsPositive() {
		return model.Loan{}, apperr.Validation("amount must be positive")
	}
	var loan model.Loan
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := s.accounts.GetOrCreateTx(ctx, tx, key)
		if err != nil {
			return err
		}
		_, debt, outstanding, err := s.accrueTx(ctx, tx, key)
		if err != nil {
			return err
		}
		initialDebt := principal.Mul(decimal.NewFromInt(1).Add(s.params.LoanInitialFeeRate))
		limit := acc.Balance.Sub(outstanding).Mul(s.params.LoanMaxDebtMultiple)
		if debt.Add(initialDebt).GreaterThan(limit) {
			return apperr.WithLimit(apperr.KindCreditLimitExceeded, "loan exceeds credit limit", s.MaxBorrowable(acc.Balance, outstanding, debt))
		}
		now := s.now().UTC()
		loan = model.Loan{
			ID:          uuid.NewString(),
			AccountKey:  key,
			Principal:   principal,
			Debt:        initialDebt,
			Rate:        s.params.LoanRatePerPeriod,
			LastAccrual: now,
			Status:      types.LoanStatusActive,
			CreatedAt:   now,
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return apperr.Persistence("insert loan", err)
		}
		if _, err := s.accounts.UpdateBalanceTx(ctx, tx, key, accounts.BalanceUpdate{NewBalance: acc.Balance.Add(principal)}); err != nil {
			return err
		}
		_, err = s.accounts.UpdateLoanStatsTx(ctx, tx, key, principal, decimal.Zero, debt.Add(initialDebt))
		return err
	})
	if err != nil {
		return model.Loan{}, apperr.Persistence("borrow", err)
	}
	s.logger.Info("loan issued", zap.String("loan_id", loan.ID), zap.String("user_id", key.UserID),
		zap.String("venue", key.Venue), zap.String("principal", principal.String()), zap.String("debt", loan.Debt.String()))
	s.notifier.Notify(ctx, notify.Event{Type: notify.EventLoanBorrowed, Account: key, Data: loan})
	return loan, nil
}

type Repayment struct {
	Amount        decimal.Decimal `json:"amount"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
	Repaid        []string        `json:"repaid_loans"`
	Balance       decimal.Decimal `json:"balance"`
}

// Repay pays down active loans oldest first. A nil amount repays everything.
func (s *Service) Repay(ctx context.Context, key model.AccountKey, amount *decimal.Decimal) (Repayment, error) {
	if err := accounts.ValidateKey(key); err != nil {
		return Repayment{}, err
	}
	if amount != nil && !amount.IsPositive() {
		return Repayment{}, apperr.Validation("amount must be positive")
	}
	var out Repayment
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := s.accounts.GetOrCreateTx(ctx, tx, key)
		if err != nil {
			return err
		}
		active, debt, _, err := s.accrueTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if !debt.IsPositive() {
			return apperr.Validation("no outstanding debt")
		}
		pay := debt
		if amount != nil {
			pay = *amount
		}
		if pay.GreaterThan(debt) {
			return apperr.WithLimit(apperr.KindValidation, "amount exceeds outstanding debt", debt)
		}
		spendable := acc.Available().Sub(s.params.LoanReservedBalance)
		if pay.GreaterThan(spendable) {
			return apperr.WithLimit(apperr.KindInsufficientMargin, "insufficient balance for repayment", decimal.Max(spendable, decimal.Zero))
		}

		now := s.now().UTC()
		left := pay
		repaid := make([]string, 0)
		for _, l := range active {
			if !left.IsPositive() {
				break
			}
			applied := decimal.Min(left, l.Debt)
			l.Debt = l.Debt.Sub(applied)
			left = left.Sub(applied)
			if l.Debt.IsZero() {
				l.Status = types.LoanStatusRepaid
				l.RepaidAt = &now
				repaid = append(repaid, l.ID)
			}
			if err := tx.UpdateLoan(ctx, l); err != nil {
				return apperr.Persistence("update loan", err)
			}
		}
		acc, err = s.accounts.UpdateBalanceTx(ctx, tx, key, accounts.BalanceUpdate{NewBalance: acc.Balance.Sub(pay)})
		if err != nil {
			return err
		}
		remaining := debt.Sub(pay)
		if _, err := s.accounts.UpdateLoanStatsTx(ctx, tx, key, decimal.Zero, pay, remaining); err != nil {
			return err
		}
		out = Repayment{Amount: pay, RemainingDebt: remaining, Repaid: repaid, Balance: acc.Balance}
		return nil
	})
	if err != nil {
		return Repayment{}, apperr.Persistence("repay", err)
	}
	s.logger.Info("loan repayment", zap.String("user_id", key.UserID), zap.String("venue", key.Venue),
		zap.String("amount", out.Amount.String()), zap.String("remaining_debt", out.RemainingDebt.String()))
	s.notifier.Notify(ctx, notify.Event{Type: notify.EventLoanRepaid, Account: key, Data: out})
	return out, nil
}

type Bill struct {
	TotalDebt      decimal.Decimal `json:"total_debt"`
	TotalPrincipal decimal.Decimal `json:"total_principal"`
	MaxBorrowable  decimal.Decimal `json:"max_borrowable"`
	NextAccrual    *time.Time      `json:"next_accrual,omitempty"`
	Loans          []model.Loan    `json:"loans"`
}

// Bill accrues interest and summarizes the account's active loans.
func (s *Service) Bill(ctx context.Context, key model.AccountKey) (Bill, error) {
	if err := accounts.ValidateKey(key); err != nil {
		return Bill{}, err
	}
	var out Bill
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := s.accounts.GetOrCreateTx(ctx, tx, key)
		if err != nil {
			return err
		}
		active, debt, principal, err := s.accrueTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if !debt.Equal(acc.CurrentDebt) {
			if _, err := s.accounts.UpdateLoanStatsTx(ctx, tx, key, decimal.Zero, decimal.Zero, debt); err != nil {
				return err
			}
		}
		out = Bill{
			TotalDebt:      debt,
			TotalPrincipal: principal,
			MaxBorrowable:  s.MaxBorrowable(acc.Balance, principal, debt),
			Loans:          active,
		}
		for _, l := range active {
			next := l.LastAccrual.Add(s.params.LoanPeriod)
			if out.NextAccrual == nil || next.Before(*out.NextAccrual) {
				out.NextAccrual = &next
			}
		}
		return nil
	})
	return out, apperr.Persistence("bill", err)
}

// AccrueAll refreshes interest for every account holding an active loan and
// reports how many accounts were processed.
func (s *Service) AccrueAll(ctx context.Context) (int, error) {
	keys, err := s.store.ListLoanAccounts(ctx)
	if err != nil {
		return 0, apperr.Persistence("list loan accounts", err)
	}
	done := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			_, debt, _, err := s.accrueTx(ctx, tx, key)
			if err != nil {
				return err
			}
			_, err = s.accounts.UpdateLoanStatsTx(ctx, tx, key, decimal.Zero, decimal.Zero, debt)
			return err
		})
		if err != nil {
			s.logger.Warn("interest accrual failed", zap.String("user_id", key.UserID), zap.String("venue", key.Venue), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}
