// Package ledger is the durable record of accounts, positions, orders, loans,
// trades and last known prices. Every logically atomic engine operation runs
// inside one InTx call.
package ledger

import (
	"context"
	"errors"

	"lv-margin/internal/model"
	"lv-margin/internal/types"
)

var ErrNotFound = errors.New("not found")

// Store exposes committed reads plus the transactional boundary.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error)
	ListPositions(ctx context.Context, key model.AccountKey) ([]model.Position, error)
	ListAllPositions(ctx context.Context) ([]model.Position, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	ListPendingOrders(ctx context.Context) ([]model.Order, error)
	ListAccountOrders(ctx context.Context, key model.AccountKey, status types.OrderStatus) ([]model.Order, error)
	ListLoans(ctx context.Context, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error)
	ListLoanAccounts(ctx context.Context) ([]model.AccountKey, error)
	ListTrades(ctx context.Context, key model.AccountKey, limit int) ([]model.Trade, error)

	LastPrice(ctx context.Context, instrument string) (model.PriceSnapshot, error)
	SavePrice(ctx context.Context, snap model.PriceSnapshot) error
	Ping(ctx context.Context) error
}

// Tx is a serializable unit of work. Reads inside it see the transaction's own writes.
type Tx interface {
	// EnsureAccount inserts acc if (user, venue) is unknown and returns the locked row.
	EnsureAccount(ctx context.Context, acc model.Account) (model.Account, error)
	GetAccountForUpdate(ctx context.Context, key model.AccountKey) (model.Account, error)
	UpdateAccount(ctx context.Context, acc model.Account) error

	ListPositions(ctx context.Context, key model.AccountKey) ([]model.Position, error)
	GetPositionForUpdate(ctx context.Context, key model.AccountKey, instrument string, side types.PositionSide) (model.Position, error)
	InsertPosition(ctx context.Context, p model.Position) error
	UpdatePosition(ctx context.Context, p model.Position) error
	// DeletePosition returns ErrNotFound when the row is already gone.
	DeletePosition(ctx context.Context, id string) error

	InsertOrder(ctx context.Context, o model.Order) error
	GetOrderForUpdate(ctx context.Context, id string) (model.Order, error)
	UpdateOrder(ctx context.Context, o model.Order) error
	ListAccountOrders(ctx context.Context, key model.AccountKey, status types.OrderStatus) ([]model.Order, error)

	InsertLoan(ctx context.Context, l model.Loan) error
	UpdateLoan(ctx context.Context, l model.Loan) error
	// ListLoans returns loans oldest first.
	ListLoans(ctx context.Context, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error)

	InsertTrade(ctx context.Context, t model.Trade) error
}
