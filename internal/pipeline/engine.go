package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/cascade"
	"riskengine/internal/event"
	"riskengine/internal/ingestion"
	"riskengine/internal/montecarlo"
	"riskengine/internal/observability"
	"riskengine/internal/persistence"
	"riskengine/internal/ring"
	"riskengine/internal/state"
)

// EngineConfig sizes the rings and selects the wait strategy.
type EngineConfig struct {
	IngestRingSize int
	OutputRingSize int
	WaitStrategy   string

	// BackpressureThreshold is the ingest utilization above which new
	// payloads are refused instead of blocking the producer.
	BackpressureThreshold float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		IngestRingSize:        64 * 1024,
		OutputRingSize:        16 * 1024,
		WaitStrategy:          "sleeping",
		BackpressureThreshold: 0.95,
	}
}

// Deps are the services the engine wires into its stages.
type Deps struct {
	MarkPrices *state.MarkPriceCache
	History    *state.PriceHistoryBuffer
	RiskState  *state.RiskStateManager
	Leverage   *state.LeverageEstimator
	Positions  *state.PositionRegistry
	Calculator *cascade.Calculator
	Simulator  *montecarlo.Service
	Funding    FundingSink

	// Outbound sinks. PublishChan must be set; JournalChan and ReportChan
	// may be nil when persistence is disabled.
	PublishChan chan<- ingestion.PublishableReport
	JournalChan chan<- persistence.JournalBatch
	ReportChan  chan<- persistence.ReportRow
}

// Engine owns the two-ring pipeline:
//
//	ingest: Parse -> (Journal || Cache -> Risk)
//	output: Broadcast
//
// The ingest ring has a single logical producer; concurrent feed
// goroutines serialize through a mutex that preserves claim order.
type Engine struct {
	cfg     EngineConfig
	ingest  *ring.Ring[event.MarketDataEvent]
	output  *ring.Ring[RiskResult]
	metrics *observability.Metrics
	log     zerolog.Logger

	parse     *ring.Processor[event.MarketDataEvent]
	journal   *ring.Processor[event.MarketDataEvent]
	cache     *ring.Processor[event.MarketDataEvent]
	risk      *ring.Processor[event.MarketDataEvent]
	broadcast *ring.Processor[RiskResult]

	publishMu sync.Mutex

	positions *state.PositionRegistry
	simulator *montecarlo.Service
	reports   *ReportCache

	stopSample chan struct{}
	stopOnce   sync.Once
}

// NewEngine builds the rings, stages and consumer graph.
func NewEngine(cfg EngineConfig, deps Deps, metrics *observability.Metrics, log zerolog.Logger) (*Engine, error) {
	wait := ring.StrategyFor(cfg.WaitStrategy)

	ingest, err := ring.New[event.MarketDataEvent](cfg.IngestRingSize, wait)
	if err != nil {
		return nil, fmt.Errorf("ingest ring: %w", err)
	}
	output, err := ring.New[RiskResult](cfg.OutputRingSize, wait)
	if err != nil {
		return nil, fmt.Errorf("output ring: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		ingest:     ingest,
		output:     output,
		metrics:    metrics,
		log:        log.With().Str("component", "pipeline").Logger(),
		positions:  deps.Positions,
		simulator:  deps.Simulator,
		reports:    NewReportCache(),
		stopSample: make(chan struct{}),
	}

	parseStage := NewParseStage(metrics, log)
	journalStage := NewJournalStage(deps.JournalChan, metrics, log)
	cacheStage := NewCacheStage(deps.MarkPrices, deps.History, deps.RiskState,
		deps.Leverage, deps.Funding, metrics, log)
	riskStage := NewRiskStage(deps.Calculator, deps.Simulator, deps.Positions,
		deps.MarkPrices, newOutputProducer(output), metrics, log)
	broadcastStage := NewBroadcastStage(e.reports, deps.PublishChan, deps.ReportChan, metrics, log)

	e.parse = ring.NewProcessor("parse", ingest, parseStage, log)
	e.journal = ring.NewProcessor("journal", ingest, journalStage, log, e.parse.Sequence())
	e.cache = ring.NewProcessor("cache", ingest, cacheStage, log, e.parse.Sequence())
	e.risk = ring.NewProcessor("risk", ingest, riskStage, log, e.cache.Sequence())
	ingest.AddGating(e.journal.Sequence(), e.risk.Sequence())

	e.broadcast = ring.NewProcessor("broadcast", output, broadcastStage, log)
	output.AddGating(e.broadcast.Sequence())

	onDropped := func(name string) {
		metrics.EventsDropped.WithLabelValues(name).Inc()
	}
	for _, p := range []*ring.Processor[event.MarketDataEvent]{e.parse, e.journal, e.cache, e.risk} {
		p.OnDropped = onDropped
	}
	e.broadcast.OnDropped = onDropped

	return e, nil
}

// Start launches the consumer goroutines and the utilization sampler.
func (e *Engine) Start() {
	e.broadcast.Start()
	e.parse.Start()
	e.journal.Start()
	e.cache.Start()
	e.risk.Start()
	go e.sampleUtilization()
	e.log.Info().
		Int("ingest_size", e.cfg.IngestRingSize).
		Int("output_size", e.cfg.OutputRingSize).
		Str("wait", e.cfg.WaitStrategy).
		Msg("pipeline started")
}

// Stop closes the ingest ring, waits for every stage to drain, then closes
// the output ring and waits for the broadcaster.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopSample)

		e.publishMu.Lock()
		e.ingest.Close()
		e.publishMu.Unlock()

		e.parse.AwaitStopped()
		e.journal.AwaitStopped()
		e.cache.AwaitStopped()
		e.risk.AwaitStopped()

		e.output.Close()
		e.broadcast.AwaitStopped()
		e.log.Info().Msg("pipeline stopped")
	})
}

// PublishRaw places a raw payload onto the ingest ring. Returns false when
// the ring is above the backpressure threshold and the payload was refused.
func (e *Engine) PublishRaw(t event.Type, symbol string, payload []byte) bool {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	if e.ingest.Utilization() >= e.cfg.BackpressureThreshold {
		e.metrics.EventsDropped.WithLabelValues("ingress").Inc()
		return false
	}

	seq := e.ingest.Claim()
	slot := e.ingest.Get(seq)
	slot.Clear()
	slot.Type = t
	slot.Symbol = symbol
	slot.SetRaw(payload)
	slot.IngestedAt = time.Now()
	e.ingest.Publish(seq)

	e.metrics.EventsPublished.WithLabelValues(t.String()).Inc()
	return true
}

// PublishOpenInterest places a pre-parsed open interest snapshot onto the
// ingest ring, bypassing the parse step.
func (e *Engine) PublishOpenInterest(snap *event.OpenInterestSnapshot) bool {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	if e.ingest.Utilization() >= e.cfg.BackpressureThreshold {
		e.metrics.BackpressureSkip.Inc()
		return false
	}

	seq := e.ingest.Claim()
	slot := e.ingest.Get(seq)
	slot.Clear()
	slot.Type = event.TypeOpenInterest
	slot.Symbol = snap.Symbol
	slot.OI = snap
	slot.IngestedAt = time.Now()
	e.ingest.Publish(seq)

	e.metrics.EventsPublished.WithLabelValues(event.TypeOpenInterest.String()).Inc()
	return true
}

// RunNATSPump forwards raw events from a JetStream subscriber into the
// ring, acking accepted payloads and nacking refused ones for redelivery.
func (e *Engine) RunNATSPump(ctx context.Context, ch <-chan ingestion.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			if e.PublishRaw(raw.Type, symbolFromSubject(raw.Subject), raw.Data) {
				if raw.AckFunc != nil {
					_ = raw.AckFunc()
				}
			} else if raw.NakFunc != nil {
				_ = raw.NakFunc()
			}
		}
	}
}

// symbolFromSubject extracts the trailing token of a market subject,
// e.g. market.markprice.BTCUSDT.
func symbolFromSubject(subject string) string {
	for i := len(subject) - 1; i >= 0; i-- {
		if subject[i] == '.' {
			return subject[i+1:]
		}
	}
	return subject
}

// CascadeReport returns the latest cached cascade report for a symbol.
func (e *Engine) CascadeReport(symbol string) (*cascade.Report, bool) {
	return e.reports.Get(symbol)
}

// MonteCarloReport returns the latest cached simulation for a symbol.
func (e *Engine) MonteCarloReport(symbol string) (*montecarlo.Report, bool) {
	return e.simulator.Latest(symbol)
}

// Simulate runs an on-demand, unthrottled simulation for a registered
// position.
func (e *Engine) Simulate(symbol string) (*montecarlo.Report, error) {
	pos, ok := e.positions.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("no position registered for %s", symbol)
	}
	report, _ := e.reports.Get(symbol)
	return e.simulator.Simulate(symbol, pos.LiquidationPrice, pos.Side, report)
}

// IngestUtilization exposes ingest ring occupancy for readiness checks.
func (e *Engine) IngestUtilization() float64 {
	return e.ingest.Utilization()
}

// Backpressured reports whether a publish would currently be refused.
func (e *Engine) Backpressured() bool {
	return e.ingest.Utilization() >= e.cfg.BackpressureThreshold
}

func (e *Engine) sampleUtilization() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopSample:
			return
		case <-ticker.C:
			e.metrics.RingUtilization.WithLabelValues("ingest").Set(e.ingest.Utilization())
			e.metrics.RingUtilization.WithLabelValues("output").Set(e.output.Utilization())
		}
	}
}
