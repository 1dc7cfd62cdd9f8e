package loans

import (
	"context"
	"errors"
	"testing"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"
	"lv-margin/internal/model"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var key = model.AccountKey{UserID: "u1", Venue: "g1"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *ledger.MemoryStore
	accounts *accounts.Service
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T, balance string) *fixture {
	params := risk.DefaultParams()
	params.StartingBalance = dec(balance)
	store := ledger.NewMemoryStore()
	logger := zaptest.NewLogger(t)
	f := &fixture{store: store, now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	f.accounts = accounts.NewService(store, params, logger)
	f.svc = NewService(store, f.accounts, params, logger)
	clock := func() time.Time { return f.now }
	f.accounts.SetClock(clock)
	f.svc.SetClock(clock)
	return f
}

func TestBorrowAccruesCompoundInterest(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()

	loan, err := f.svc.Borrow(ctx, key, dec("1000"))
	require.NoError(t, err)
	assert.True(t, loan.Debt.Equal(dec("1100")))

	acc, err := f.accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("11000")))
	assert.True(t, acc.TotalBorrowed.Equal(dec("1000")))
	assert.True(t, acc.CurrentDebt.Equal(dec("1100")))

	f.now = f.now.Add(5 * time.Hour)
	bill, err := f.svc.Bill(ctx, key)
	require.NoError(t, err)
	assert.True(t, bill.TotalDebt.Equal(dec("1100")))

	f.now = f.now.Add(time.Hour)
	bill, err = f.svc.Bill(ctx, key)
	require.NoError(t, err)
	assert.True(t, bill.TotalDebt.Equal(dec("1102.2")), bill.TotalDebt.String())

	// a second query inside the same period must not compound again
	f.now = f.now.Add(3 * time.Hour)
	bill, err = f.svc.Bill(ctx, key)
	require.NoError(t, err)
	assert.True(t, bill.TotalDebt.Equal(dec("1102.2")), bill.TotalDebt.String())

	f.now = f.now.Add(3 * time.Hour)
	bill, err = f.svc.Bill(ctx, key)
	require.NoError(t, err)
	assert.True(t, bill.TotalDebt.Equal(dec("1104.4044")), bill.TotalDebt.String())
}

func TestAccrueInterestSkipsMultiplePeriods(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	loan := model.Loan{Debt: dec("1100"), Rate: dec("0.002"), LastAccrual: start, Status: types.LoanStatusActive}

	updated, changed := AccrueInterest(loan, 6*time.Hour, start.Add(13*time.Hour))
	require.True(t, changed)
	assert.True(t, updated.Debt.Equal(dec("1104.4044")))
	assert.Equal(t, start.Add(12*time.Hour), updated.LastAccrual)

	_, changed = AccrueInterest(loan, 6*time.Hour, start.Add(time.Hour))
	assert.False(t, changed)

	loan.Status = types.LoanStatusRepaid
	_, changed = AccrueInterest(loan, 6*time.Hour, start.Add(24*time.Hour))
	assert.False(t, changed)
}

func TestRepayAllOldestFirst(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()
	first, err := f.svc.Borrow(ctx, key, dec("1000"))
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	second, err := f.svc.Borrow(ctx, key, dec("500"))
	require.NoError(t, err)

	partial := dec("1200")
	res, err := f.svc.Repay(ctx, key, &partial)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, res.Repaid)
	assert.True(t, res.RemainingDebt.Equal(dec("450")), res.RemainingDebt.String())

	res, err = f.svc.Repay(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, res.Repaid)
	assert.True(t, res.Amount.Equal(dec("450")))
	assert.True(t, res.RemainingDebt.IsZero())

	active, err := f.store.ListLoans(ctx, key, types.LoanStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	acc, err := f.accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("9850")), acc.Balance.String())
	assert.True(t, acc.TotalRepaid.Equal(dec("1650")))
	assert.True(t, acc.CurrentDebt.IsZero())
}

func TestRepayRollsBackOnWriteFailure(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()
	_, err := f.svc.Borrow(ctx, key, dec("1000"))
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, key, dec("500"))
	require.NoError(t, err)

	assertUntouched := func() {
		t.Helper()
		active, err := f.store.ListLoans(ctx, key, types.LoanStatusActive)
		require.NoError(t, err)
		require.Len(t, active, 2)
		total := decimal.Zero
		for _, l := range active {
			total = total.Add(l.Debt)
		}
		assert.True(t, total.Equal(dec("1650")), total.String())
		acc, err := f.accounts.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, acc.Balance.Equal(dec("11500")), acc.Balance.String())
		assert.True(t, acc.TotalRepaid.IsZero())
		assert.True(t, acc.CurrentDebt.Equal(dec("1650")))
	}

	// loans are written before the account, so this fails after they change
	f.store.FailNext("UpdateAccount", errors.New("disk full"))
	_, err = f.svc.Repay(ctx, key, nil)
	require.Error(t, err)
	assertUntouched()

	partial := dec("1200")
	f.store.FailNext("UpdateLoan", errors.New("disk full"))
	_, err = f.svc.Repay(ctx, key, &partial)
	require.Error(t, err)
	assertUntouched()

	res, err := f.svc.Repay(ctx, key, nil)
	require.NoError(t, err)
	assert.True(t, res.RemainingDebt.IsZero())
}

func TestRepayValidation(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	_, err := f.svc.Repay(ctx, key, nil)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Borrow(ctx, key, dec("100"))
	require.NoError(t, err)

	tooMuch := dec("111")
	_, err = f.svc.Repay(ctx, key, &tooMuch)
	require.ErrorIs(t, err, apperr.ErrValidation)
	limit, ok := apperr.LimitOf(err)
	require.True(t, ok)
	assert.True(t, limit.Equal(dec("110")))

	// spend most of the balance so the reserved floor matters
	_, err = f.accounts.UpdateBalance(ctx, key, accounts.BalanceUpdate{NewBalance: dec("50")})
	require.NoError(t, err)
	fifty := dec("50")
	_, err = f.svc.Repay(ctx, key, &fifty)
	require.ErrorIs(t, err, apperr.ErrInsufficientMargin)
	limit, ok = apperr.LimitOf(err)
	require.True(t, ok)
	assert.True(t, limit.Equal(dec("49")))
}

func TestBorrowCreditLimit(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, key, dec("2000"))
	require.ErrorIs(t, err, apperr.ErrCreditLimitExceeded)
	limit, ok := apperr.LimitOf(err)
	require.True(t, ok)
	assert.True(t, limit.Equal(dec("1818.18181818")), limit.String())

	_, err = f.svc.Borrow(ctx, key, dec("-1"))
	require.ErrorIs(t, err, apperr.ErrValidation)

	acc, err := f.accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("100")))
}

func TestAccrueAllCountsAccounts(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()
	other := model.AccountKey{UserID: "u2", Venue: "g1"}
	_, err := f.svc.Borrow(ctx, key, dec("1000"))
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, other, dec("100"))
	require.NoError(t, err)

	f.now = f.now.Add(6 * time.Hour)
	n, err := f.svc.AccrueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	acc, err := f.accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acc.CurrentDebt.Equal(dec("1102.2")))
}
