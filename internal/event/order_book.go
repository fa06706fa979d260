package event

import "time"

// PriceLevel is one order book level.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

func (l PriceLevel) Notional() float64 {
	return l.Price * l.Quantity
}

// OrderBookSnapshot is a full depth snapshot for one symbol. Snapshots are
// replaced wholesale on every update; the engine never maintains an
// incremental book.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel // descending by price
	Asks      []PriceLevel // ascending by price
	Timestamp time.Time

	BestBid       float64
	BestAsk       float64
	Spread        float64
	TotalBidQty   float64
	TotalAskQty   float64
	TotalBidValue float64
	TotalAskValue float64
}

// NewOrderBookSnapshot builds a snapshot and computes the derived fields.
// Bids must already be sorted descending and asks ascending.
func NewOrderBookSnapshot(symbol string, bids, asks []PriceLevel, ts time.Time) *OrderBookSnapshot {
	s := &OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
	if len(bids) > 0 {
		s.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		s.BestAsk = asks[0].Price
	}
	if s.BestBid > 0 && s.BestAsk > 0 {
		s.Spread = s.BestAsk - s.BestBid
	}
	for _, l := range bids {
		s.TotalBidQty += l.Quantity
		s.TotalBidValue += l.Notional()
	}
	for _, l := range asks {
		s.TotalAskQty += l.Quantity
		s.TotalAskValue += l.Notional()
	}
	return s
}

// SideLevels returns the book side a position of the given direction would
// sell into on the way to liquidation: bids for longs, asks for shorts.
func (s *OrderBookSnapshot) SideLevels(side Side) []PriceLevel {
	if side == SideLong {
		return s.Bids
	}
	return s.Asks
}

// SideQty returns the total resting quantity on the side relevant to the
// given position direction.
func (s *OrderBookSnapshot) SideQty(side Side) float64 {
	if side == SideLong {
		return s.TotalBidQty
	}
	return s.TotalAskQty
}
