package event

import "time"

// MarketDataEvent is the reusable unit of work occupying one ingest ring
// slot. The producer claims a slot, fills Type/Symbol/Raw (or a pre-parsed
// payload for open interest), and publishes; the parse stage fills exactly
// one of the payload pointers. Slots are cleared and reused, never
// reallocated.
type MarketDataEvent struct {
	Type       Type
	Symbol     string
	Raw        []byte
	IngestedAt time.Time

	// Set by the parse stage. At most one is non-nil.
	MarkPrice  *MarkPriceUpdate
	ForceOrder *LiquidationEvent
	Book       *OrderBookSnapshot
	OI         *OpenInterestSnapshot

	// ParseFailed marks the slot as poisoned; downstream stages skip it.
	ParseFailed bool
}

// Clear resets the slot for reuse. Raw keeps its backing array so the
// producer can copy the next payload into it without allocating.
func (e *MarketDataEvent) Clear() {
	e.Type = TypeUnknown
	e.Symbol = ""
	e.Raw = e.Raw[:0]
	e.IngestedAt = time.Time{}
	e.MarkPrice = nil
	e.ForceOrder = nil
	e.Book = nil
	e.OI = nil
	e.ParseFailed = false
}

// SetRaw copies payload into the slot's reusable buffer.
func (e *MarketDataEvent) SetRaw(payload []byte) {
	e.Raw = append(e.Raw[:0], payload...)
}

// MarkPriceUpdate is the parsed mark price stream payload.
type MarkPriceUpdate struct {
	Symbol          string
	MarkPrice       float64
	IndexPrice      float64
	FundingRate     float64
	NextFundingTime time.Time
	EventTime       time.Time
}

// LiquidationEvent is a forced-order print: an exchange-initiated close of
// an over-leveraged position.
type LiquidationEvent struct {
	Symbol       string
	Side         Side
	Price        float64
	AveragePrice float64
	Quantity     float64
	OrderStatus  string
	Timestamp    time.Time
}

// Notional returns the filled notional of the print.
func (l *LiquidationEvent) Notional() float64 {
	price := l.AveragePrice
	if price <= 0 {
		price = l.Price
	}
	return price * l.Quantity
}

// Key returns a dedup key stable across feed redelivery.
func (l *LiquidationEvent) Key() string {
	return l.Symbol + ":" + l.Timestamp.UTC().Format(time.RFC3339Nano) + ":" + l.OrderStatus
}

// OpenInterestSnapshot carries one poll of a symbol's open interest with
// the change versus the previous poll.
type OpenInterestSnapshot struct {
	Symbol        string
	OpenInterest  float64
	PreviousOI    float64
	Change        float64
	ChangePercent float64
	Timestamp     time.Time
}

// Increasing reports whether open interest grew since the previous poll.
func (s *OpenInterestSnapshot) Increasing() bool {
	return s.Change > 0
}
