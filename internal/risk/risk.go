// Package risk holds the pure margin arithmetic shared by the position, order,
// loan and monitor services. Nothing here touches the store or the price feed.
package risk

import (
	"time"

	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
)

type Params struct {
	StartingBalance   decimal.Decimal
	MaxLeverage       decimal.Decimal
	MinThresholdRatio decimal.Decimal
	MaxThresholdRatio decimal.Decimal
	// ThresholdMaxLeverage is where the threshold curve reaches MaxThresholdRatio.
	ThresholdMaxLeverage decimal.Decimal
	TakerFeeRate         decimal.Decimal
	MakerFeeRate         decimal.Decimal
	PriceBand            decimal.Decimal
	LiquidationEpsilon   decimal.Decimal

	LoanInitialFeeRate  decimal.Decimal
	LoanRatePerPeriod   decimal.Decimal
	LoanPeriod          time.Duration
	LoanMaxDebtMultiple decimal.Decimal
	LoanReservedBalance decimal.Decimal
}

func DefaultParams() Params {
	return Params{
		StartingBalance:      decimal.NewFromInt(10000),
		MaxLeverage:          decimal.NewFromInt(100),
		MinThresholdRatio:    decimal.RequireFromString("0.05"),
		MaxThresholdRatio:    decimal.RequireFromString("0.20"),
		ThresholdMaxLeverage: decimal.NewFromInt(100),
		TakerFeeRate:         decimal.RequireFromString("0.0005"),
		MakerFeeRate:         decimal.RequireFromString("0.0002"),
		PriceBand:            decimal.RequireFromString("0.10"),
		LiquidationEpsilon:   decimal.RequireFromString("0.00000001"),
		LoanInitialFeeRate:   decimal.RequireFromString("0.10"),
		LoanRatePerPeriod:    decimal.RequireFromString("0.002"),
		LoanPeriod:           6 * time.Hour,
		LoanMaxDebtMultiple:  decimal.NewFromInt(20),
		LoanReservedBalance:  decimal.NewFromInt(1),
	}
}

// FeeRate picks the fee by order role: immediate orders take liquidity, resting orders make it.
func (p Params) FeeRate(role types.OrderRole) decimal.Decimal {
	if role == types.RoleImmediate {
		return p.TakerFeeRate
	}
	return p.MakerFeeRate
}

// RequiredMargin is the margin locked by an opening order.
func (p Params) RequiredMargin(notional decimal.Decimal) decimal.Decimal {
	return notional.Div(p.MaxLeverage)
}

// ThresholdRatio interpolates the maintenance ratio between MinThresholdRatio
// at 1x and MaxThresholdRatio at ThresholdMaxLeverage.
func (p Params) ThresholdRatio(leverage decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if leverage.LessThanOrEqual(one) {
		return p.MinThresholdRatio
	}
	if leverage.GreaterThanOrEqual(p.ThresholdMaxLeverage) {
		return p.MaxThresholdRatio
	}
	span := p.MaxThresholdRatio.Sub(p.MinThresholdRatio)
	return p.MinThresholdRatio.Add(span.Mul(leverage.Sub(one)).Div(p.ThresholdMaxLeverage.Sub(one)))
}

// PnL is the unrealized profit of a position of notional size opened at entry, valued at current.
func PnL(side types.PositionSide, size, entry, current decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	diff := current.Sub(entry)
	if side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(size).Div(entry)
}

// WeightedEntry merges an add into an existing position.
func WeightedEntry(oldSize, oldEntry, addSize, addPrice decimal.Decimal) decimal.Decimal {
	total := oldSize.Add(addSize)
	if total.IsZero() {
		return oldEntry
	}
	return oldSize.Mul(oldEntry).Add(addSize.Mul(addPrice)).Div(total)
}

// LiquidationInput describes the account around the position being priced.
type LiquidationInput struct {
	Side     types.PositionSide
	Size     decimal.Decimal
	Entry    decimal.Decimal
	Balance  decimal.Decimal
	OtherPnL decimal.Decimal
}

// LiquidationPrice solves balance + otherPnL + pnl(price) = balance * ThresholdRatio(leverage)
// for price, where leverage is the position notional over the floating balance.
func (p Params) LiquidationPrice(in LiquidationInput) decimal.Decimal {
	if in.Size.IsZero() {
		return p.LiquidationEpsilon
	}
	floating := in.Balance.Add(in.OtherPnL)
	leverage := p.ThresholdMaxLeverage
	if floating.IsPositive() {
		leverage = in.Size.Div(floating)
	}
	threshold := in.Balance.Mul(p.ThresholdRatio(leverage))
	target := threshold.Sub(in.Balance).Sub(in.OtherPnL)
	move := target.Div(in.Size)

	one := decimal.NewFromInt(1)
	var price decimal.Decimal
	if in.Side == types.SideLong {
		price = in.Entry.Mul(one.Add(move))
	} else {
		price = in.Entry.Mul(one.Sub(move))
	}
	if price.LessThan(p.LiquidationEpsilon) {
		return p.LiquidationEpsilon
	}
	return price
}

// Holding is the part of a position the exposure math needs.
type Holding struct {
	Instrument string
	Side       types.PositionSide
	Size       decimal.Decimal
	Entry      decimal.Decimal
}

type HoldingValue struct {
	Holding
	Mark       decimal.Decimal `json:"mark"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

// Exposure is an account valued at a set of marks.
type Exposure struct {
	Balance       decimal.Decimal `json:"balance"`
	Floating      decimal.Decimal `json:"floating"`
	TotalNotional decimal.Decimal `json:"total_notional"`
	Leverage      decimal.Decimal `json:"leverage"`
	Threshold     decimal.Decimal `json:"threshold"`
	Holdings      []HoldingValue  `json:"holdings"`
}

// Breached reports whether the account sits below its maintenance threshold.
func (e Exposure) Breached() bool {
	if len(e.Holdings) == 0 {
		return false
	}
	return !e.Floating.IsPositive() || e.Floating.LessThan(e.Threshold)
}

// Evaluate values holdings at marks. A holding without a mark is valued at its entry.
func (p Params) Evaluate(balance decimal.Decimal, holdings []Holding, marks map[string]decimal.Decimal) Exposure {
	exp := Exposure{Balance: balance, Holdings: make([]HoldingValue, 0, len(holdings))}
	sumPnL := decimal.Zero
	for _, h := range holdings {
		mark, ok := marks[h.Instrument]
		if !ok || !mark.IsPositive() {
			mark = h.Entry
		}
		pnl := PnL(h.Side, h.Size, h.Entry, mark)
		sumPnL = sumPnL.Add(pnl)
		exp.TotalNotional = exp.TotalNotional.Add(h.Size.Abs())
		exp.Holdings = append(exp.Holdings, HoldingValue{Holding: h, Mark: mark, Unrealized: pnl})
	}
	exp.Floating = balance.Add(sumPnL)
	if exp.Floating.IsPositive() {
		exp.Leverage = exp.TotalNotional.Div(exp.Floating)
	} else {
		exp.Leverage = p.ThresholdMaxLeverage
	}
	exp.Threshold = balance.Mul(p.ThresholdRatio(exp.Leverage))
	return exp
}

// LeverageLimit is the largest total notional the floating balance supports.
func (p Params) LeverageLimit(floating decimal.Decimal) decimal.Decimal {
	if !floating.IsPositive() {
		return decimal.Zero
	}
	return floating.Mul(p.MaxLeverage)
}
