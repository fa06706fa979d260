package event

// Type discriminator for market data payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeMarkPrice
	TypeForceOrder
	TypeOrderBookDepth
	TypeOpenInterest
)

func (t Type) String() string {
	switch t {
	case TypeMarkPrice:
		return "MARK_PRICE"
	case TypeForceOrder:
		return "FORCE_ORDER"
	case TypeOrderBookDepth:
		return "ORDER_BOOK_DEPTH"
	case TypeOpenInterest:
		return "OPEN_INTEREST"
	default:
		return "UNKNOWN"
	}
}

// TriggersRiskCalc reports whether this event type should cause a
// risk recalculation for its symbol. Order book and open interest
// updates only refresh cached state.
func (t Type) TriggersRiskCalc() bool {
	return t == TypeMarkPrice || t == TypeForceOrder
}

// Side of a position or a forced order.
type Side int32

const (
	SideUnknown Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// ParseSide maps exchange side strings (BUY/SELL, LONG/SHORT) to a Side.
// A forced SELL closes a long position, a forced BUY closes a short.
func ParseSide(s string) Side {
	switch s {
	case "LONG", "SELL":
		return SideLong
	case "SHORT", "BUY":
		return SideShort
	default:
		return SideUnknown
	}
}
