package types

type PositionSide string

type OrderDirection string

type OrderRole string

type OrderPurpose string

type OrderStatus string

type LoanStatus string

type TradeKind string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

const (
	DirectionBuy  OrderDirection = "buy"
	DirectionSell OrderDirection = "sell"
)

// Immediate orders fill at the current mark (market); resting orders wait for a price condition (limit).
const (
	RoleImmediate OrderRole = "immediate"
	RoleResting   OrderRole = "resting"
)

const (
	PurposeOpen       OrderPurpose = "open"
	PurposeTakeProfit OrderPurpose = "take_profit"
	PurposeStopLoss   OrderPurpose = "stop_loss"
	PurposeClose      OrderPurpose = "close"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusRepaid LoanStatus = "repaid"
)

const (
	TradeKindOpen        TradeKind = "open"
	TradeKindAdd         TradeKind = "add"
	TradeKindReduce      TradeKind = "reduce"
	TradeKindClose       TradeKind = "close"
	TradeKindTakeProfit  TradeKind = "take_profit"
	TradeKindStopLoss    TradeKind = "stop_loss"
	TradeKindLiquidation TradeKind = "liquidation"
)

func (s PositionSide) Valid() bool {
	return s == SideLong || s == SideShort
}

func (r OrderRole) Valid() bool {
	return r == RoleImmediate || r == RoleResting
}

func (p OrderPurpose) Valid() bool {
	switch p {
	case PurposeOpen, PurposeTakeProfit, PurposeStopLoss, PurposeClose:
		return true
	}
	return false
}

// Closing reports whether the purpose reduces an existing position.
func (p OrderPurpose) Closing() bool {
	return p != PurposeOpen
}

// DirectionFor returns the trade direction that opens (or closes) a position on side.
func DirectionFor(side PositionSide, purpose OrderPurpose) OrderDirection {
	buy := side == SideLong
	if purpose.Closing() {
		buy = !buy
	}
	if buy {
		return DirectionBuy
	}
	return DirectionSell
}
