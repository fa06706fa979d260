package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/event"
	"riskengine/internal/margin"
)

func TestMarkPriceCacheUpdateAndGet(t *testing.T) {
	c := NewMarkPriceCache()
	now := time.Now()

	if !c.Update("btcusdt", 65000, now) {
		t.Fatal("first update rejected")
	}
	price, ok := c.Get("BTCUSDT")
	if !ok || price != 65000 {
		t.Fatalf("Get = %v, %v", price, ok)
	}
	if _, ok := c.Get("ETHUSDT"); ok {
		t.Fatal("unknown symbol should miss")
	}
}

func TestMarkPriceCacheRejectsStaleAndInvalid(t *testing.T) {
	c := NewMarkPriceCache()
	now := time.Now()

	c.Update("BTCUSDT", 65000, now)
	if c.Update("BTCUSDT", 64000, now.Add(-time.Second)) {
		t.Fatal("stale update accepted")
	}
	if price, _ := c.Get("BTCUSDT"); price != 65000 {
		t.Fatalf("price overwritten by stale update: %v", price)
	}
	if c.Update("BTCUSDT", 0, now.Add(time.Second)) {
		t.Fatal("non-positive price accepted")
	}
	// Equal timestamps win: last write at the same event time replaces.
	if !c.Update("BTCUSDT", 64900, now) {
		t.Fatal("same-timestamp update rejected")
	}
}

func TestPriceHistoryAppendAndWindow(t *testing.T) {
	b := NewPriceHistoryBuffer(16)
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 10; i++ {
		tick := event.PriceTick{Timestamp: base.Add(time.Duration(i) * time.Second), Price: 100 + float64(i)}
		if err := b.Append("btcusdt", tick); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if got := b.Len("BTCUSDT"); got != 10 {
		t.Fatalf("Len = %d, want 10", got)
	}
	last, ok := b.Last("BTCUSDT")
	if !ok || last.Price != 109 {
		t.Fatalf("Last = %v, %v", last, ok)
	}

	ticks := b.Range("BTCUSDT", base.Add(3*time.Second), base.Add(6*time.Second))
	if len(ticks) != 4 {
		t.Fatalf("Range returned %d ticks, want 4", len(ticks))
	}
	if ticks[0].Price != 103 || ticks[3].Price != 106 {
		t.Fatalf("Range bounds wrong: first=%v last=%v", ticks[0].Price, ticks[3].Price)
	}

	min, max, ok := b.MinMax("BTCUSDT", base, base.Add(time.Hour))
	if !ok || min != 100 || max != 109 {
		t.Fatalf("MinMax = %v, %v, %v", min, max, ok)
	}
}

func TestPriceHistoryRejectsNonMonotonic(t *testing.T) {
	b := NewPriceHistoryBuffer(16)
	now := time.Now()

	if err := b.Append("BTCUSDT", event.PriceTick{Timestamp: now, Price: 100}); err != nil {
		t.Fatal(err)
	}
	if err := b.Append("BTCUSDT", event.PriceTick{Timestamp: now, Price: 101}); err == nil {
		t.Fatal("equal timestamp accepted")
	}
	if err := b.Append("BTCUSDT", event.PriceTick{Timestamp: now.Add(-time.Second), Price: 101}); err == nil {
		t.Fatal("regressing timestamp accepted")
	}
	if err := b.Append("BTCUSDT", event.PriceTick{Timestamp: now.Add(time.Second), Price: 0}); err == nil {
		t.Fatal("zero price accepted")
	}
	if b.Len("BTCUSDT") != 1 {
		t.Fatalf("Len = %d after rejected appends, want 1", b.Len("BTCUSDT"))
	}
}

func TestPriceHistoryOverwritesOldestWhenFull(t *testing.T) {
	// Capacity 4 stays 4 (already a power of two).
	b := NewPriceHistoryBuffer(4)
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 6; i++ {
		tick := event.PriceTick{Timestamp: base.Add(time.Duration(i) * time.Second), Price: float64(i + 1)}
		if err := b.Append("ETHUSDT", tick); err != nil {
			t.Fatal(err)
		}
	}

	if got := b.Len("ETHUSDT"); got != 4 {
		t.Fatalf("Len = %d, want 4", got)
	}
	ticks := b.Range("ETHUSDT", base, base.Add(time.Hour))
	if len(ticks) != 4 || ticks[0].Price != 3 || ticks[3].Price != 6 {
		t.Fatalf("ring did not evict oldest: %v", ticks)
	}
}

func TestPositionRegistry(t *testing.T) {
	r := NewPositionRegistry()

	r.Register(Position{Symbol: "btcusdt", LiquidationPrice: 58000, Side: event.SideLong, Leverage: 10})
	p, ok := r.Get("BTCUSDT")
	if !ok || p.Symbol != "BTCUSDT" || p.LiquidationPrice != 58000 {
		t.Fatalf("Get = %+v, %v", p, ok)
	}
	if p.RegisteredAt.IsZero() {
		t.Fatal("RegisteredAt not defaulted")
	}

	// Re-registration replaces.
	r.Register(Position{Symbol: "BTCUSDT", LiquidationPrice: 59000, Side: event.SideLong, Leverage: 20})
	p, _ = r.Get("btcusdt")
	if p.LiquidationPrice != 59000 || p.Leverage != 20 {
		t.Fatalf("replace failed: %+v", p)
	}
	if len(r.List()) != 1 {
		t.Fatalf("List = %d entries, want 1", len(r.List()))
	}

	r.Unregister("BTCUSDT")
	if _, ok := r.Get("BTCUSDT"); ok {
		t.Fatal("position survived unregister")
	}
	r.Unregister("BTCUSDT") // idempotent
}

func TestRiskStateManagerBooksAndOI(t *testing.T) {
	m := NewRiskStateManager()

	if _, ok := m.OrderBook("BTCUSDT"); ok {
		t.Fatal("empty manager returned a book")
	}
	snap := event.NewOrderBookSnapshot("btcusdt",
		[]event.PriceLevel{{Price: 64999, Quantity: 2}},
		[]event.PriceLevel{{Price: 65001, Quantity: 3}},
		time.Now())
	m.UpdateOrderBook(snap)
	got, ok := m.OrderBook("BTCUSDT")
	if !ok || got.BestBid != 64999 || got.BestAsk != 65001 {
		t.Fatalf("OrderBook = %+v, %v", got, ok)
	}
	m.UpdateOrderBook(nil) // no-op

	m.UpdateOpenInterest(&event.OpenInterestSnapshot{Symbol: "btcusdt", OpenInterest: 80000, Change: 120})
	oi, ok := m.OpenInterest("BTCUSDT")
	if !ok || oi.OpenInterest != 80000 || !oi.Increasing() {
		t.Fatalf("OpenInterest = %+v, %v", oi, ok)
	}
}

func TestRiskStateManagerRecentLiquidations(t *testing.T) {
	m := NewRiskStateManager()
	now := time.Now()

	m.RecordLiquidation(&event.LiquidationEvent{Symbol: "BTCUSDT", Price: 64000, Quantity: 1, Timestamp: now.Add(-2 * time.Hour)})
	m.RecordLiquidation(&event.LiquidationEvent{Symbol: "BTCUSDT", Price: 64100, Quantity: 1, Timestamp: now.Add(-10 * time.Minute)})
	m.RecordLiquidation(&event.LiquidationEvent{Symbol: "BTCUSDT", Price: 64200, Quantity: 1, Timestamp: now.Add(-time.Minute)})

	recent := m.RecentLiquidations("btcusdt", time.Hour)
	if len(recent) != 2 {
		t.Fatalf("got %d prints within window, want 2", len(recent))
	}
	if recent[0].Price != 64100 || recent[1].Price != 64200 {
		t.Fatalf("prints out of order: %v %v", recent[0].Price, recent[1].Price)
	}
	if got := m.RecentLiquidations("ETHUSDT", time.Hour); got != nil {
		t.Fatalf("unknown symbol returned prints: %v", got)
	}
}

func TestLiquidationRingEvictsOldest(t *testing.T) {
	m := NewRiskStateManager()
	now := time.Now()

	for i := 0; i < maxLiquidationsPerSymbol+10; i++ {
		m.RecordLiquidation(&event.LiquidationEvent{
			Symbol:    "BTCUSDT",
			Price:     64000 + float64(i),
			Quantity:  1,
			Timestamp: now.Add(time.Duration(i-maxLiquidationsPerSymbol-10) * time.Millisecond),
		})
	}
	recent := m.RecentLiquidations("BTCUSDT", 24*time.Hour)
	if len(recent) != maxLiquidationsPerSymbol {
		t.Fatalf("ring holds %d prints, want %d", len(recent), maxLiquidationsPerSymbol)
	}
	if recent[0].Price != 64010 {
		t.Fatalf("oldest surviving print = %v, want 64010", recent[0].Price)
	}
}

// syntheticRatio gives each tier a distinct, leverage-determined distance
// so tier inference is exact in tests.
func syntheticRatio(symbol string, leverage float64, side event.Side, markPrice float64) float64 {
	if leverage <= 0 {
		return 0
	}
	return 1 / leverage
}

func syntheticTiers(symbol string) []float64 {
	return []float64{125, 100, 75, 50, 25, 20, 10, 5, 4, 3, 2}
}

func TestLeverageEstimatorPriorOnly(t *testing.T) {
	e := NewLeverageEstimator(DefaultLeverageConfig(), syntheticRatio, syntheticTiers)
	dist := e.Distribution("BTCUSDT", time.Now())

	var sum float64
	for _, w := range dist {
		if w < 0 {
			t.Fatalf("negative weight in %v", dist)
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("weights sum to %v, want 1", sum)
	}
	if dist[25] <= dist[125] {
		t.Fatalf("prior should favor mid leverage: 25x=%v 125x=%v", dist[25], dist[125])
	}
}

func TestLeverageEstimatorDrainsLiquidatedTier(t *testing.T) {
	e := NewLeverageEstimator(DefaultLeverageConfig(), syntheticRatio, syntheticTiers)
	now := time.Now()
	before := e.Distribution("BTCUSDT", now)[100]

	// Prints at 1% distance from mark imply the 100x tier. The
	// liquidated-volume signal dominates the existence signal, so heavy
	// forced selling at a tier shrinks the open interest assumed there.
	for i := 0; i < 50; i++ {
		e.ObserveLiquidation(&event.LiquidationEvent{
			Symbol:    "BTCUSDT",
			Side:      event.SideLong,
			Price:     64000 * 0.99,
			Quantity:  0.5,
			Timestamp: now,
		}, 64000, now)
	}

	after := e.Distribution("BTCUSDT", now)[100]
	if after >= before {
		t.Fatalf("100x weight did not shrink: before=%v after=%v", before, after)
	}
}

func TestLeverageEstimatorIgnoresUnmatchablePrints(t *testing.T) {
	e := NewLeverageEstimator(DefaultLeverageConfig(), syntheticRatio, syntheticTiers)
	now := time.Now()
	before := e.Distribution("BTCUSDT", now)

	// 200% away from mark matches no tier within tolerance.
	e.ObserveLiquidation(&event.LiquidationEvent{
		Symbol: "BTCUSDT", Side: event.SideShort, Price: 192000, Quantity: 1, Timestamp: now,
	}, 64000, now)
	// Nil event and bad mark price are no-ops.
	e.ObserveLiquidation(nil, 64000, now)
	e.ObserveLiquidation(&event.LiquidationEvent{Symbol: "BTCUSDT", Price: 64000, Quantity: 1}, 0, now)

	after := e.Distribution("BTCUSDT", now)
	for lev, w := range before {
		if after[lev] != w {
			t.Fatalf("tier %v moved from %v to %v on ignored prints", lev, w, after[lev])
		}
	}
}

func TestLeverageEstimatorDecay(t *testing.T) {
	cfg := DefaultLeverageConfig()
	cfg.DecayFactor = 0.5
	e := NewLeverageEstimator(cfg, syntheticRatio, syntheticTiers)
	now := time.Now()

	for i := 0; i < 20; i++ {
		e.ObserveLiquidation(&event.LiquidationEvent{
			Symbol: "BTCUSDT", Side: event.SideLong, Price: 64000 * 0.99, Quantity: 0.5, Timestamp: now,
		}, 64000, now)
	}
	// Decay fades the liquidation signal, so the drained tier recovers
	// toward its prior weight.
	fresh := e.Distribution("BTCUSDT", now)[100]
	later := e.Distribution("BTCUSDT", now.Add(30*time.Minute))[100]
	if later <= fresh {
		t.Fatalf("signal did not decay back toward prior: fresh=%v later=%v", fresh, later)
	}
}

func TestLeverageDistributionMatchesMarginSchedule(t *testing.T) {
	e := NewLeverageEstimator(DefaultLeverageConfig(), margin.DistanceRatio, margin.TierLeverages)
	now := time.Now()

	for symbol, price := range map[string]string{"BTCUSDT": "64000", "ETHUSDT": "3200"} {
		dist := e.Distribution(symbol, now)
		if len(dist) != len(margin.TierLeverages(symbol)) {
			t.Fatalf("%s: distribution covers %d tiers, schedule has %d",
				symbol, len(dist), len(margin.TierLeverages(symbol)))
		}

		// Every unit of weight must land on a bracket the schedule can
		// actually produce, so the rows built from the distribution
		// carry the full open interest between them.
		var consumed float64
		rows := margin.EstimateDistribution(decimal.RequireFromString(price), symbol, dist, 1000)
		for _, row := range rows {
			consumed += row.Weight
		}
		if consumed < 0.999 || consumed > 1.001 {
			t.Fatalf("%s: consumed weight sum = %v, want 1", symbol, consumed)
		}
	}
}

func BenchmarkPriceHistoryAppend(b *testing.B) {
	buf := NewPriceHistoryBuffer(DefaultTickCapacity)
	base := time.Now()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append("BTCUSDT", event.PriceTick{
			Timestamp: base.Add(time.Duration(i) * time.Microsecond),
			Price:     65000 + float64(i%100),
		})
	}
	_ = fmt.Sprint(buf.Len("BTCUSDT"))
}
