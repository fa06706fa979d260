package cascade

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"riskengine/internal/event"
	"riskengine/internal/margin"
	"riskengine/internal/state"
)

func newTestCalculator() (*Calculator, *state.RiskStateManager) {
	st := state.NewRiskStateManager()
	lev := state.NewLeverageEstimator(state.DefaultLeverageConfig(), margin.DistanceRatio, margin.TierLeverages)
	return NewCalculator(DefaultConfig(), st, lev, zerolog.Nop()), st
}

func longPosition(liqPrice float64) state.Position {
	return state.Position{
		Symbol:           "BTCUSDT",
		LiquidationPrice: liqPrice,
		Side:             event.SideLong,
		Leverage:         10,
	}
}

func TestAnalyzeDistance(t *testing.T) {
	calc, _ := newTestCalculator()

	r := calc.Analyze(65000, longPosition(58500))
	if r.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %s", r.Symbol)
	}
	if !r.Distance.Equal(decimal.NewFromInt(6500)) {
		t.Fatalf("distance = %s, want 6500", r.Distance)
	}
	if r.DistancePercent != 10 {
		t.Fatalf("distance pct = %v, want 10", r.DistancePercent)
	}
	if r.Direction != "DOWN" {
		t.Fatalf("direction = %s, want DOWN", r.Direction)
	}
	if !r.PriceRangeLow.Equal(decimal.NewFromInt(58500)) || !r.PriceRangeHigh.Equal(decimal.NewFromInt(65000)) {
		t.Fatalf("range = [%s, %s]", r.PriceRangeLow, r.PriceRangeHigh)
	}
}

func TestAnalyzeDirectionUp(t *testing.T) {
	calc, _ := newTestCalculator()
	pos := state.Position{Symbol: "BTCUSDT", LiquidationPrice: 71500, Side: event.SideShort, Leverage: 10}
	r := calc.Analyze(65000, pos)
	if r.Direction != "UP" {
		t.Fatalf("direction = %s, want UP", r.Direction)
	}
	if !r.PriceRangeLow.Equal(decimal.NewFromInt(65000)) {
		t.Fatalf("range low = %s, want current price", r.PriceRangeLow)
	}
}

func TestBookDensityCountsOnlyPathLevels(t *testing.T) {
	calc, st := newTestCalculator()
	// Long at liq 63000, current 65000: path sweeps bids in [63000, 65000].
	st.UpdateOrderBook(event.NewOrderBookSnapshot("BTCUSDT",
		[]event.PriceLevel{
			{Price: 64900, Quantity: 2},
			{Price: 64000, Quantity: 3},
			{Price: 62000, Quantity: 10}, // below path, excluded
		},
		[]event.PriceLevel{
			{Price: 65100, Quantity: 4},
		},
		time.Now()))

	r := calc.Analyze(65000, longPosition(63000))
	if r.LevelCount != 2 {
		t.Fatalf("level count = %d, want 2", r.LevelCount)
	}
	if !r.DepthBetween.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("depth = %s, want 5", r.DepthBetween)
	}
	wantNotional := decimal.NewFromFloat(64900*2 + 64000*3)
	if !r.NotionalBetween.Equal(wantNotional) {
		t.Fatalf("notional = %s, want %s", r.NotionalBetween, wantNotional)
	}
	// 5 of 15 total bid qty in path.
	if r.DepthRatio < 33.3 || r.DepthRatio > 33.4 {
		t.Fatalf("depth ratio = %v, want ~33.33", r.DepthRatio)
	}
}

func TestClustersInPath(t *testing.T) {
	calc, st := newTestCalculator()
	st.UpdateOpenInterest(&event.OpenInterestSnapshot{Symbol: "BTCUSDT", OpenInterest: 90000})

	// A wide path from 65000 down to 32500 covers every long tier above 2x.
	r := calc.Analyze(65000, longPosition(32500))
	if r.OverlappingTiers == 0 {
		t.Fatal("wide path should overlap leverage clusters")
	}
	for _, cl := range r.ClustersInPath {
		p, _ := cl.Price.Float64()
		if p < 32500 || p > 65000 {
			t.Fatalf("cluster at %v outside path", p)
		}
		if cl.DistanceFromCurrentPercent < 0 {
			t.Fatalf("negative cluster distance: %+v", cl)
		}
	}
	if r.EstimatedLiqVolume.IsZero() {
		t.Fatal("estimated volume should be positive with open interest")
	}
}

func TestClustersEmptyForNarrowFarPath(t *testing.T) {
	calc, _ := newTestCalculator()
	// Liquidation only 0.05% below with 1x-equivalent distance: no tier's
	// theoretical price sits in so narrow a band close to spot.
	r := calc.Analyze(65000, longPosition(64970))
	for _, cl := range r.ClustersInPath {
		p, _ := cl.Price.Float64()
		if p < 64970 || p > 65000 {
			t.Fatalf("cluster at %v outside narrow path", p)
		}
	}
}

func TestMarketPressureNeutralDefaults(t *testing.T) {
	calc, _ := newTestCalculator()
	r := calc.Analyze(65000, longPosition(58500))
	// No OI and no book: both default to the neutral midpoint 5, no
	// liquidations scores 0.
	if r.OIPressureScore != 5 {
		t.Fatalf("OI pressure = %d, want 5", r.OIPressureScore)
	}
	if r.ImbalanceScore != 5 {
		t.Fatalf("imbalance = %d, want 5", r.ImbalanceScore)
	}
	if r.LiqIntensityScore != 0 {
		t.Fatalf("liq intensity = %d, want 0", r.LiqIntensityScore)
	}
	if r.MarketPressureTotal != 10 {
		t.Fatalf("pressure total = %d, want 10", r.MarketPressureTotal)
	}
}

func TestOIPressureScoring(t *testing.T) {
	cases := []struct {
		changePct float64
		want      int
	}{
		{6.0, 20}, {3.5, 16}, {2.1, 12}, {1.5, 8}, {0.7, 4}, {0.1, 0}, {-6.0, 20},
	}
	for _, tc := range cases {
		oi := &event.OpenInterestSnapshot{ChangePercent: tc.changePct}
		if got := scoreOIPressure(oi, true); got != tc.want {
			t.Errorf("scoreOIPressure(%v) = %d, want %d", tc.changePct, got, tc.want)
		}
	}
}

func TestLiqIntensityScoring(t *testing.T) {
	mk := func(n int, notionalEach float64) []*event.LiquidationEvent {
		out := make([]*event.LiquidationEvent, n)
		for i := range out {
			out[i] = &event.LiquidationEvent{Price: notionalEach, Quantity: 1}
		}
		return out
	}
	if got := scoreLiqIntensity(nil); got != 0 {
		t.Fatalf("empty = %d, want 0", got)
	}
	// 60 prints of 1M each: count 10 + notional 10, capped at 20.
	if got := scoreLiqIntensity(mk(60, 1e6)); got != 20 {
		t.Fatalf("heavy = %d, want 20", got)
	}
	// 3 small prints: count 1, notional 0.
	if got := scoreLiqIntensity(mk(3, 1000)); got != 1 {
		t.Fatalf("light = %d, want 1", got)
	}
}

func TestImbalanceScoring(t *testing.T) {
	book := func(bid, ask float64) *event.OrderBookSnapshot {
		return &event.OrderBookSnapshot{TotalBidQty: bid, TotalAskQty: ask}
	}
	if got := scoreImbalance(nil); got != 5 {
		t.Fatalf("nil book = %d, want 5", got)
	}
	if got := scoreImbalance(book(50, 50)); got != 0 {
		t.Fatalf("balanced = %d, want 0", got)
	}
	if got := scoreImbalance(book(95, 5)); got != 20 {
		t.Fatalf("one-sided = %d, want 20", got)
	}
	if got := scoreImbalance(book(0, 0)); got != 10 {
		t.Fatalf("empty book = %d, want 10", got)
	}
}

func TestDistanceFloorForcesSeverity(t *testing.T) {
	calc, st := newTestCalculator()
	// A deep, calm book: every non-distance factor is benign.
	var bids []event.PriceLevel
	for i := 0; i < 20; i++ {
		bids = append(bids, event.PriceLevel{Price: 64990 - float64(i), Quantity: 100})
	}
	st.UpdateOrderBook(event.NewOrderBookSnapshot("BTCUSDT", bids,
		[]event.PriceLevel{{Price: 65010, Quantity: 2000}}, time.Now()))

	// 0.5% from liquidation must be CRITICAL regardless.
	r := calc.Analyze(65000, longPosition(64675))
	if r.RiskLevel != RiskCritical {
		t.Fatalf("risk at 0.5%% distance = %s, want CRITICAL", r.RiskLevel)
	}

	// 1.8% must be at least HIGH.
	r = calc.Analyze(65000, longPosition(63830))
	if r.RiskLevel != RiskHigh && r.RiskLevel != RiskCritical {
		t.Fatalf("risk at 1.8%% distance = %s, want >= HIGH", r.RiskLevel)
	}
}

func TestFarDistanceIsLowRisk(t *testing.T) {
	calc, st := newTestCalculator()
	// Deep book, no pressure, liquidation 40% away.
	var bids []event.PriceLevel
	for i := 0; i < 50; i++ {
		bids = append(bids, event.PriceLevel{Price: 64000 - float64(i)*500, Quantity: 500})
	}
	st.UpdateOrderBook(event.NewOrderBookSnapshot("BTCUSDT", bids,
		[]event.PriceLevel{{Price: 65010, Quantity: 25000}}, time.Now()))
	st.UpdateOpenInterest(&event.OpenInterestSnapshot{Symbol: "BTCUSDT", OpenInterest: 90000, ChangePercent: 0.1})

	r := calc.Analyze(65000, longPosition(39000))
	if r.RiskLevel != RiskLow {
		t.Fatalf("risk at 40%% distance = %s, want LOW (score %v)", r.RiskLevel, r.DensityScore)
	}
}

func TestReachProbabilityBounds(t *testing.T) {
	calc, _ := newTestCalculator()
	for _, liq := range []float64{64900, 60000, 40000, 10000} {
		r := calc.Analyze(65000, longPosition(liq))
		if r.CascadeReachProbability < 0 || r.CascadeReachProbability > 100 {
			t.Fatalf("reach probability %v out of range for liq %v", r.CascadeReachProbability, liq)
		}
	}
}

func TestReachProbabilityMonotonicInDistance(t *testing.T) {
	calc, _ := newTestCalculator()
	near := calc.Analyze(65000, longPosition(64500))
	far := calc.Analyze(65000, longPosition(45000))
	if near.CascadeReachProbability <= far.CascadeReachProbability {
		t.Fatalf("near %v should exceed far %v", near.CascadeReachProbability, far.CascadeReachProbability)
	}
}

func TestRiskLevelFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLow}, {24.9, RiskLow}, {25, RiskMedium}, {50, RiskHigh}, {75, RiskCritical}, {100, RiskCritical},
	}
	for _, tc := range cases {
		if got := RiskLevelFromScore(tc.score); got != tc.want {
			t.Errorf("RiskLevelFromScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestMaxRiskLevel(t *testing.T) {
	if MaxRiskLevel(RiskLow, RiskHigh) != RiskHigh {
		t.Fatal("max(LOW, HIGH) != HIGH")
	}
	if MaxRiskLevel(RiskCritical, RiskMedium) != RiskCritical {
		t.Fatal("max(CRITICAL, MEDIUM) != CRITICAL")
	}
}

func TestDensityLevelFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  DensityLevel
	}{
		{10, DensityMinimal}, {20, DensityLow}, {45, DensityMedium}, {65, DensityHigh}, {85, DensityExtreme},
	}
	for _, tc := range cases {
		if got := DensityLevelFromScore(tc.score); got != tc.want {
			t.Errorf("DensityLevelFromScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestReachProbabilityHigherForThinPath(t *testing.T) {
	c, _ := newTestCalculator()

	thin := &Report{DistancePercent: 3, DepthRatio: 5, OverlappingTiers: 1, MarketPressureTotal: 10}
	thick := &Report{DistancePercent: 3, DepthRatio: 30, OverlappingTiers: 1, MarketPressureTotal: 10}

	pThin := c.reachProbability(thin)
	pThick := c.reachProbability(thick)
	if pThin <= pThick {
		t.Errorf("thin path prob %v should exceed thick path prob %v", pThin, pThick)
	}
}
