package ingestion

import (
	"testing"

	"riskengine/internal/event"
)

func TestParseMarkPrice(t *testing.T) {
	raw := []byte(`{"e":"markPriceUpdate","E":1700000000123,"s":"BTCUSDT","p":"45123.50","i":"45100.00","P":"45110.00","r":"0.0001","T":1700028800000}`)

	e := &event.MarketDataEvent{Type: event.TypeMarkPrice}
	e.SetRaw(raw)
	if err := ParseMarketData(e); err != nil {
		t.Fatalf("ParseMarketData: %v", err)
	}

	mp := e.MarkPrice
	if mp == nil {
		t.Fatal("MarkPrice payload not set")
	}
	if mp.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", mp.Symbol)
	}
	if mp.MarkPrice != 45123.50 {
		t.Errorf("mark price = %v, want 45123.50", mp.MarkPrice)
	}
	if mp.FundingRate != 0.0001 {
		t.Errorf("funding rate = %v, want 0.0001", mp.FundingRate)
	}
	if e.Symbol != "BTCUSDT" {
		t.Errorf("slot symbol = %q, want BTCUSDT", e.Symbol)
	}
}

func TestParseMarkPriceMissingSymbol(t *testing.T) {
	e := &event.MarketDataEvent{Type: event.TypeMarkPrice}
	e.SetRaw([]byte(`{"e":"markPriceUpdate","p":"100"}`))
	if err := ParseMarketData(e); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}

func TestParseForceOrder(t *testing.T) {
	raw := []byte(`{"e":"forceOrder","E":1700000000500,"o":{"s":"ETHUSDT","S":"SELL","o":"LIMIT","q":"12.5","p":"2480.00","ap":"2481.30","X":"FILLED","T":1700000000499}}`)

	e := &event.MarketDataEvent{Type: event.TypeForceOrder}
	e.SetRaw(raw)
	if err := ParseMarketData(e); err != nil {
		t.Fatalf("ParseMarketData: %v", err)
	}

	fo := e.ForceOrder
	if fo == nil {
		t.Fatal("ForceOrder payload not set")
	}
	if fo.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q, want ETHUSDT", fo.Symbol)
	}
	// A SELL force order closes a long position.
	if fo.Side != event.SideLong {
		t.Errorf("side = %v, want long", fo.Side)
	}
	if fo.Quantity != 12.5 {
		t.Errorf("quantity = %v, want 12.5", fo.Quantity)
	}
	want := 2481.30 * 12.5
	if got := fo.Notional(); got != want {
		t.Errorf("notional = %v, want %v", got, want)
	}
	if fo.Timestamp.UnixMilli() != 1700000000499 {
		t.Errorf("timestamp = %d, want trade time", fo.Timestamp.UnixMilli())
	}
}

func TestParseForceOrderBadQuantity(t *testing.T) {
	raw := []byte(`{"e":"forceOrder","o":{"s":"BTCUSDT","S":"SELL","q":"abc","p":"100"}}`)
	e := &event.MarketDataEvent{Type: event.TypeForceOrder}
	e.SetRaw(raw)
	if err := ParseMarketData(e); err == nil {
		t.Fatal("expected error for malformed quantity")
	}
}

func TestParseDepth(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1700000001000,"s":"BTCUSDT","b":[["45000.00","2.0"],["45010.00","1.5"],["44990.00","3.0"]],"a":[["45020.00","1.0"],["45015.00","0.5"]]}`)

	e := &event.MarketDataEvent{Type: event.TypeOrderBookDepth}
	e.SetRaw(raw)
	if err := ParseMarketData(e); err != nil {
		t.Fatalf("ParseMarketData: %v", err)
	}

	book := e.Book
	if book == nil {
		t.Fatal("Book payload not set")
	}
	if book.BestBid != 45010.00 {
		t.Errorf("best bid = %v, want 45010.00 (bids resorted descending)", book.BestBid)
	}
	if book.BestAsk != 45015.00 {
		t.Errorf("best ask = %v, want 45015.00 (asks resorted ascending)", book.BestAsk)
	}
	if book.TotalBidQty != 6.5 {
		t.Errorf("total bid qty = %v, want 6.5", book.TotalBidQty)
	}
}

func TestParseDepthSkipsZeroQuantityLevels(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","s":"BTCUSDT","b":[["45000.00","0"],["44990.00","1.0"]],"a":[]}`)

	e := &event.MarketDataEvent{Type: event.TypeOrderBookDepth}
	e.SetRaw(raw)
	if err := ParseMarketData(e); err != nil {
		t.Fatalf("ParseMarketData: %v", err)
	}
	if len(e.Book.Bids) != 1 {
		t.Fatalf("bids = %d, want 1 (zero-quantity level dropped)", len(e.Book.Bids))
	}
}

func TestParseOpenInterestRequiresPayload(t *testing.T) {
	e := &event.MarketDataEvent{Type: event.TypeOpenInterest}
	if err := ParseMarketData(e); err == nil {
		t.Fatal("expected error for open interest slot without payload")
	}

	e.OI = &event.OpenInterestSnapshot{Symbol: "BTCUSDT", OpenInterest: 1000}
	if err := ParseMarketData(e); err != nil {
		t.Fatalf("pre-parsed open interest should pass through: %v", err)
	}
}

func TestParseUnknownType(t *testing.T) {
	e := &event.MarketDataEvent{Type: event.TypeUnknown}
	if err := ParseMarketData(e); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
