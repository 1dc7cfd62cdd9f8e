package model

import (
	"time"

	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
)

// AccountKey identifies one simulated account: a user inside one venue (chat group, workspace).
type AccountKey struct {
	UserID string `json:"user_id"`
	Venue  string `json:"venue"`
}

type Account struct {
	AccountKey
	Balance       decimal.Decimal `json:"balance"`
	FrozenMargin  decimal.Decimal `json:"frozen_margin"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	FeesPaid      decimal.Decimal `json:"fees_paid"`
	TradeCount    int64           `json:"trade_count"`
	WinCount      int64           `json:"win_count"`
	LossCount     int64           `json:"loss_count"`
	TotalBorrowed decimal.Decimal `json:"total_borrowed"`
	TotalRepaid   decimal.Decimal `json:"total_repaid"`
	CurrentDebt   decimal.Decimal `json:"current_debt"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Available is the balance not locked as margin by pending orders.
func (a Account) Available() decimal.Decimal {
	return a.Balance.Sub(a.FrozenMargin)
}

type Position struct {
	ID string `json:"id"`
	AccountKey
	Instrument       string             `json:"instrument"`
	Side             types.PositionSide `json:"side"`
	Size             decimal.Decimal    `json:"size"`
	EntryPrice       decimal.Decimal    `json:"entry_price"`
	LiquidationPrice decimal.Decimal    `json:"liquidation_price"`
	TakeProfit       *decimal.Decimal   `json:"take_profit,omitempty"`
	StopLoss         *decimal.Decimal   `json:"stop_loss,omitempty"`
	OpenedAt         time.Time          `json:"opened_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type Order struct {
	ID string `json:"id"`
	AccountKey
	Instrument   string               `json:"instrument"`
	Side         types.PositionSide   `json:"side"`
	Direction    types.OrderDirection `json:"direction"`
	Role         types.OrderRole      `json:"role"`
	Purpose      types.OrderPurpose   `json:"purpose"`
	Notional     decimal.Decimal      `json:"notional"`
	Price        *decimal.Decimal     `json:"price,omitempty"`
	LockedMargin decimal.Decimal      `json:"locked_margin"`
	FeeRate      decimal.Decimal      `json:"fee_rate"`
	Status       types.OrderStatus    `json:"status"`
	FillPrice    *decimal.Decimal     `json:"fill_price,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	ExecutedAt   *time.Time           `json:"executed_at,omitempty"`
}

type Loan struct {
	ID string `json:"id"`
	AccountKey
	Principal   decimal.Decimal  `json:"principal"`
	Debt        decimal.Decimal  `json:"debt"`
	Rate        decimal.Decimal  `json:"rate"`
	LastAccrual time.Time        `json:"last_accrual"`
	Status      types.LoanStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	RepaidAt    *time.Time       `json:"repaid_at,omitempty"`
}

// Trade is one fill or forced close recorded against an account.
type Trade struct {
	ID string `json:"id"`
	AccountKey
	OrderID     string             `json:"order_id,omitempty"`
	Instrument  string             `json:"instrument"`
	Side        types.PositionSide `json:"side"`
	Kind        types.TradeKind    `json:"kind"`
	Notional    decimal.Decimal    `json:"notional"`
	Price       decimal.Decimal    `json:"price"`
	Fee         decimal.Decimal    `json:"fee"`
	RealizedPnL decimal.Decimal    `json:"realized_pnl"`
	CreatedAt   time.Time          `json:"created_at"`
}

type PriceSnapshot struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
