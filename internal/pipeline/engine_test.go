package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/cascade"
	"riskengine/internal/event"
	"riskengine/internal/ingestion"
	"riskengine/internal/margin"
	"riskengine/internal/montecarlo"
	"riskengine/internal/state"
	"riskengine/internal/testutil"
)

type testHarness struct {
	engine      *Engine
	positions   *state.PositionRegistry
	markPrices  *state.MarkPriceCache
	riskState   *state.RiskStateManager
	history     *state.PriceHistoryBuffer
	publishChan chan ingestion.PublishableReport
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	log := zerolog.Nop()

	markPrices := state.NewMarkPriceCache()
	history := state.NewPriceHistoryBuffer(90000)
	riskState := state.NewRiskStateManager()
	leverage := state.NewLeverageEstimator(state.DefaultLeverageConfig(), margin.DistanceRatio, margin.TierLeverages)
	positions := state.NewPositionRegistry()
	calculator := cascade.NewCalculator(cascade.DefaultConfig(), riskState, leverage, log)

	vol := montecarlo.NewVolatilityEstimator(history, log)
	garch := montecarlo.NewGarchEstimator(montecarlo.DefaultGarchConfig(), log)
	drift := montecarlo.NewDriftEstimator(montecarlo.DefaultDriftConfig(), nil, history, log)
	tail := montecarlo.NewTailEstimator(history, log)
	mcCfg := montecarlo.DefaultConfig()
	mcCfg.PathCount = 500
	simulator := montecarlo.NewService(mcCfg, markPrices, vol, garch, drift, tail, history, log)

	publishChan := make(chan ingestion.PublishableReport, 256)

	cfg := DefaultEngineConfig()
	cfg.IngestRingSize = 1024
	cfg.OutputRingSize = 256

	engine, err := NewEngine(cfg, Deps{
		MarkPrices:  markPrices,
		History:     history,
		RiskState:   riskState,
		Leverage:    leverage,
		Positions:   positions,
		Calculator:  calculator,
		Simulator:   simulator,
		PublishChan: publishChan,
	}, testutil.Metrics(), log)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	engine.Start()
	t.Cleanup(engine.Stop)

	return &testHarness{
		engine:      engine,
		positions:   positions,
		markPrices:  markPrices,
		riskState:   riskState,
		history:     history,
		publishChan: publishChan,
	}
}

func TestEngineEndToEndCascade(t *testing.T) {
	h := newTestHarness(t)

	h.positions.Register(state.Position{
		Symbol:           "BTCUSDT",
		LiquidationPrice: 44000,
		Side:             event.SideLong,
		Leverage:         20,
	})

	base := time.Now().Add(-time.Minute).UnixMilli()
	h.engine.PublishRaw(event.TypeOrderBookDepth, "BTCUSDT", testutil.DepthPayload("BTCUSDT", 45000, 20, base))
	h.engine.PublishRaw(event.TypeMarkPrice, "BTCUSDT", testutil.MarkPricePayload("BTCUSDT", 45000, base+1000))

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := h.engine.CascadeReport("BTCUSDT")
		return ok
	})

	report, _ := h.engine.CascadeReport("BTCUSDT")
	if report.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", report.Symbol)
	}
	if report.DistancePercent <= 0 {
		t.Errorf("distance percent = %v, want > 0", report.DistancePercent)
	}
	if report.RiskLevel == "" {
		t.Error("risk level not set")
	}
	if report.CascadeReachProbability < 0 || report.CascadeReachProbability > 100 {
		t.Errorf("reach probability = %v, want [0,100]", report.CascadeReachProbability)
	}

	select {
	case published := <-h.publishChan:
		if published.ReportID == "" {
			t.Error("broadcast report carries no id")
		}
		if published.Kind != "cascade" || published.Symbol != "BTCUSDT" {
			t.Errorf("published %s/%s, want cascade/BTCUSDT", published.Kind, published.Symbol)
		}
	default:
		t.Error("no report offered to the publish channel")
	}
}

func TestEngineNotBackpressuredWhenIdle(t *testing.T) {
	h := newTestHarness(t)
	if h.engine.Backpressured() {
		t.Fatal("idle engine reports backpressure")
	}
	if u := h.engine.IngestUtilization(); u < 0 || u >= 1 {
		t.Fatalf("utilization = %v, want [0,1)", u)
	}
}

func TestEngineCachesMarketState(t *testing.T) {
	h := newTestHarness(t)

	base := time.Now().UnixMilli()
	h.engine.PublishRaw(event.TypeMarkPrice, "ETHUSDT", testutil.MarkPricePayload("ETHUSDT", 2500, base))
	h.engine.PublishRaw(event.TypeForceOrder, "ETHUSDT", testutil.ForceOrderPayload("ETHUSDT", "SELL", 2480, 10, base+100))
	h.engine.PublishOpenInterest(&event.OpenInterestSnapshot{
		Symbol:       "ETHUSDT",
		OpenInterest: 150000,
		Timestamp:    time.Now(),
	})

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, priceOK := h.markPrices.Get("ETHUSDT")
		_, oiOK := h.riskState.OpenInterest("ETHUSDT")
		liqs := h.riskState.RecentLiquidations("ETHUSDT", time.Minute)
		return priceOK && oiOK && len(liqs) == 1
	})

	price, _ := h.markPrices.Get("ETHUSDT")
	if price != 2500 {
		t.Errorf("cached mark price = %v, want 2500", price)
	}
	if h.history.Len("ETHUSDT") != 1 {
		t.Errorf("history len = %d, want 1", h.history.Len("ETHUSDT"))
	}
}

func TestEngineDeduplicatesForceOrders(t *testing.T) {
	h := newTestHarness(t)

	base := time.Now().UnixMilli()
	payload := testutil.ForceOrderPayload("BTCUSDT", "SELL", 44800, 1.5, base)
	h.engine.PublishRaw(event.TypeForceOrder, "BTCUSDT", payload)
	h.engine.PublishRaw(event.TypeForceOrder, "BTCUSDT", payload)

	testutil.Eventually(t, 2*time.Second, func() bool {
		return len(h.riskState.RecentLiquidations("BTCUSDT", time.Minute)) >= 1
	})
	// Give the duplicate time to flow through before asserting.
	time.Sleep(50 * time.Millisecond)

	if n := len(h.riskState.RecentLiquidations("BTCUSDT", time.Minute)); n != 1 {
		t.Errorf("recorded liquidations = %d, want 1 (duplicate dropped)", n)
	}
}

func TestRiskStageThrottlesMarkPrice(t *testing.T) {
	h := newTestHarness(t)

	h.positions.Register(state.Position{
		Symbol:           "BTCUSDT",
		LiquidationPrice: 44000,
		Side:             event.SideLong,
		Leverage:         20,
	})

	base := time.Now().UnixMilli()
	h.engine.PublishRaw(event.TypeMarkPrice, "BTCUSDT", testutil.MarkPricePayload("BTCUSDT", 45000, base))
	time.Sleep(50 * time.Millisecond)
	h.engine.PublishRaw(event.TypeMarkPrice, "BTCUSDT", testutil.MarkPricePayload("BTCUSDT", 45010, base+50))

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := h.engine.CascadeReport("BTCUSDT")
		return ok
	})
	time.Sleep(100 * time.Millisecond)

	// The second event arrived inside the 200ms throttle window, so the
	// report must still reflect the first calculation's price.
	report, _ := h.engine.CascadeReport("BTCUSDT")
	if got := report.CurrentPrice.InexactFloat64(); got != 45000 {
		t.Errorf("report price = %v, want 45000 (second event throttled)", got)
	}
}

func TestSymbolFromSubject(t *testing.T) {
	if got := symbolFromSubject("market.markprice.BTCUSDT"); got != "BTCUSDT" {
		t.Errorf("symbol = %q", got)
	}
	if got := symbolFromSubject("BTCUSDT"); got != "BTCUSDT" {
		t.Errorf("symbol = %q", got)
	}
}

func TestRecentKeySetEvicts(t *testing.T) {
	s := newRecentKeySet(2)
	if s.Seen("a") {
		t.Error("first insert reported seen")
	}
	if !s.Seen("a") {
		t.Error("second lookup not seen")
	}
	s.Seen("b")
	s.Seen("c") // evicts a
	if s.Seen("a") {
		t.Error("evicted key still present")
	}
}
