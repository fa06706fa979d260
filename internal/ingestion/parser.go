package ingestion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"riskengine/internal/event"
)

// ParseMarketData decodes the raw payload in the slot into its typed form.
// Exactly one payload pointer is set on success. Open interest snapshots
// arrive pre-parsed from the poller and pass through untouched.
func ParseMarketData(e *event.MarketDataEvent) error {
	switch e.Type {
	case event.TypeMarkPrice:
		mp, err := parseMarkPrice(e.Raw)
		if err != nil {
			return err
		}
		e.MarkPrice = mp
		e.Symbol = mp.Symbol
		return nil
	case event.TypeForceOrder:
		fo, err := parseForceOrder(e.Raw)
		if err != nil {
			return err
		}
		e.ForceOrder = fo
		e.Symbol = fo.Symbol
		return nil
	case event.TypeOrderBookDepth:
		book, err := parseDepth(e.Raw)
		if err != nil {
			return err
		}
		e.Book = book
		e.Symbol = book.Symbol
		return nil
	case event.TypeOpenInterest:
		if e.OI == nil {
			return fmt.Errorf("open interest event without payload")
		}
		return nil
	default:
		return fmt.Errorf("unknown event type: %v", e.Type)
	}
}

// --- JSON wire formats ---
// Numeric fields arrive as strings on the exchange streams.

type markPriceJSON struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func parseMarkPrice(data []byte) (*event.MarkPriceUpdate, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse markPriceUpdate: %w", err)
	}
	if j.Symbol == "" {
		return nil, fmt.Errorf("parse markPriceUpdate: missing symbol")
	}
	mark, err := parsePrice("p", j.MarkPrice)
	if err != nil {
		return nil, err
	}
	index, err := parsePrice("i", j.IndexPrice)
	if err != nil {
		return nil, err
	}
	funding := 0.0
	if j.FundingRate != "" {
		funding, err = strconv.ParseFloat(j.FundingRate, 64)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", j.FundingRate, err)
		}
	}
	return &event.MarkPriceUpdate{
		Symbol:          j.Symbol,
		MarkPrice:       mark,
		IndexPrice:      index,
		FundingRate:     funding,
		NextFundingTime: time.UnixMilli(j.NextFundingTime),
		EventTime:       time.UnixMilli(j.EventTime),
	}, nil
}

type forceOrderJSON struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol       string `json:"s"`
		Side         string `json:"S"`
		Quantity     string `json:"q"`
		Price        string `json:"p"`
		AveragePrice string `json:"ap"`
		OrderStatus  string `json:"X"`
		TradeTime    int64  `json:"T"`
	} `json:"o"`
}

func parseForceOrder(data []byte) (*event.LiquidationEvent, error) {
	var j forceOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse forceOrder: %w", err)
	}
	o := j.Order
	if o.Symbol == "" {
		return nil, fmt.Errorf("parse forceOrder: missing symbol")
	}
	price, err := parsePrice("p", o.Price)
	if err != nil {
		return nil, err
	}
	avg := 0.0
	if o.AveragePrice != "" {
		avg, err = strconv.ParseFloat(o.AveragePrice, 64)
		if err != nil {
			return nil, fmt.Errorf("parse average price %q: %w", o.AveragePrice, err)
		}
	}
	qty, err := strconv.ParseFloat(o.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quantity %q: %w", o.Quantity, err)
	}
	ts := j.EventTime
	if o.TradeTime > 0 {
		ts = o.TradeTime
	}
	return &event.LiquidationEvent{
		Symbol:       o.Symbol,
		Side:         event.ParseSide(o.Side),
		Price:        price,
		AveragePrice: avg,
		Quantity:     qty,
		OrderStatus:  o.OrderStatus,
		Timestamp:    time.UnixMilli(ts),
	}, nil
}

type depthJSON struct {
	EventType       string     `json:"e"`
	EventTime       int64      `json:"E"`
	TransactionTime int64      `json:"T"`
	Symbol          string     `json:"s"`
	Bids            [][]string `json:"b"`
	Asks            [][]string `json:"a"`
}

func parseDepth(data []byte) (*event.OrderBookSnapshot, error) {
	var j depthJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse depthUpdate: %w", err)
	}
	if j.Symbol == "" {
		return nil, fmt.Errorf("parse depthUpdate: missing symbol")
	}
	bids, err := parseLevels(j.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := parseLevels(j.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}
	sort.Slice(bids, func(a, b int) bool { return bids[a].Price > bids[b].Price })
	sort.Slice(asks, func(a, b int) bool { return asks[a].Price < asks[b].Price })
	return event.NewOrderBookSnapshot(j.Symbol, bids, asks, time.UnixMilli(j.EventTime)), nil
}

func parseLevels(raw [][]string) ([]event.PriceLevel, error) {
	levels := make([]event.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(pair))
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse level quantity %q: %w", pair[1], err)
		}
		if qty <= 0 {
			continue
		}
		levels = append(levels, event.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func parsePrice(field, s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("parse %s: empty price", field)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}
