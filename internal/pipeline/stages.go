package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/cascade"
	"riskengine/internal/event"
	"riskengine/internal/ingestion"
	"riskengine/internal/montecarlo"
	"riskengine/internal/observability"
	"riskengine/internal/persistence"
	"riskengine/internal/state"
)

// FundingSink receives funding rates observed on the mark price stream.
type FundingSink interface {
	Set(symbol string, rate float64)
}

// ParseStage decodes raw payloads in place. A payload that fails to decode
// poisons its slot so downstream stages skip it; the ring never stalls on
// bad input.
type ParseStage struct {
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewParseStage(metrics *observability.Metrics, log zerolog.Logger) *ParseStage {
	return &ParseStage{metrics: metrics, log: log.With().Str("stage", "parse").Logger()}
}

func (s *ParseStage) OnEvent(ev *event.MarketDataEvent, seq int64, endOfBatch bool) error {
	if ev.Type == event.TypeUnknown {
		return nil
	}
	start := time.Now()
	if err := ingestion.ParseMarketData(ev); err != nil {
		ev.ParseFailed = true
		s.metrics.ParseErrors.WithLabelValues(ev.Type.String()).Inc()
		s.log.Warn().Err(err).Str("type", ev.Type.String()).Msg("payload parse failed")
		return nil
	}
	s.metrics.StageDuration.WithLabelValues("parse").Observe(time.Since(start).Seconds())
	s.metrics.EventsProcessed.WithLabelValues("parse", ev.Type.String()).Inc()
	return nil
}

// JournalStage buffers liquidation prints and depth snapshots per claimed
// batch and hands each flush to the persistence worker without blocking.
// Runs parallel to the cache stage, both gated on parse.
type JournalStage struct {
	out     chan<- persistence.JournalBatch
	metrics *observability.Metrics
	log     zerolog.Logger

	pendingLiqs  []persistence.LiquidationRow
	pendingBooks []persistence.OrderBookRow
}

func NewJournalStage(out chan<- persistence.JournalBatch, metrics *observability.Metrics, log zerolog.Logger) *JournalStage {
	return &JournalStage{
		out:     out,
		metrics: metrics,
		log:     log.With().Str("stage", "journal").Logger(),
	}
}

func (s *JournalStage) OnEvent(ev *event.MarketDataEvent, seq int64, endOfBatch bool) error {
	if !ev.ParseFailed {
		s.buffer(ev)
	}
	if endOfBatch {
		s.flush()
	}
	return nil
}

func (s *JournalStage) buffer(ev *event.MarketDataEvent) {
	switch ev.Type {
	case event.TypeForceOrder:
		liq := ev.ForceOrder
		if liq == nil {
			return
		}
		s.pendingLiqs = append(s.pendingLiqs, persistence.LiquidationRow{
			Symbol:      liq.Symbol,
			Side:        liq.Side.String(),
			Price:       liq.Price,
			AvgPrice:    liq.AveragePrice,
			Quantity:    liq.Quantity,
			Notional:    liq.Notional(),
			OrderStatus: liq.OrderStatus,
			EventTime:   liq.Timestamp,
		})
	case event.TypeOrderBookDepth:
		book := ev.Book
		if book == nil {
			return
		}
		levels, err := persistence.MarshalReport(map[string]interface{}{
			"bids": book.Bids,
			"asks": book.Asks,
		})
		if err != nil {
			return
		}
		s.pendingBooks = append(s.pendingBooks, persistence.OrderBookRow{
			Symbol:    book.Symbol,
			BestBid:   book.BestBid,
			BestAsk:   book.BestAsk,
			Spread:    book.Spread,
			BidQty:    book.TotalBidQty,
			AskQty:    book.TotalAskQty,
			Levels:    levels,
			EventTime: book.Timestamp,
		})
	}
}

func (s *JournalStage) flush() {
	if len(s.pendingLiqs) == 0 && len(s.pendingBooks) == 0 {
		return
	}
	batch := persistence.JournalBatch{
		Liquidations: append([]persistence.LiquidationRow(nil), s.pendingLiqs...),
		OrderBooks:   append([]persistence.OrderBookRow(nil), s.pendingBooks...),
	}
	select {
	case s.out <- batch:
	default:
		s.metrics.EventsDropped.WithLabelValues("journal").Inc()
		s.log.Warn().
			Int("liquidations", len(batch.Liquidations)).
			Int("orderbooks", len(batch.OrderBooks)).
			Msg("journal channel full, batch dropped")
	}
	s.pendingLiqs = s.pendingLiqs[:0]
	s.pendingBooks = s.pendingBooks[:0]
}

// CacheStage applies each event to in-memory state: the mark price cache
// and price history, the order book and open interest caches, the recent
// liquidation window, and the leverage distribution.
type CacheStage struct {
	markPrices *state.MarkPriceCache
	history    *state.PriceHistoryBuffer
	riskState  *state.RiskStateManager
	leverage   *state.LeverageEstimator
	funding    FundingSink
	dedupe     *recentKeySet
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewCacheStage(
	markPrices *state.MarkPriceCache,
	history *state.PriceHistoryBuffer,
	riskState *state.RiskStateManager,
	leverage *state.LeverageEstimator,
	funding FundingSink,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *CacheStage {
	return &CacheStage{
		markPrices: markPrices,
		history:    history,
		riskState:  riskState,
		leverage:   leverage,
		funding:    funding,
		dedupe:     newRecentKeySet(4096),
		metrics:    metrics,
		log:        log.With().Str("stage", "cache").Logger(),
	}
}

func (s *CacheStage) OnEvent(ev *event.MarketDataEvent, seq int64, endOfBatch bool) error {
	if ev.ParseFailed {
		return nil
	}
	start := time.Now()
	switch ev.Type {
	case event.TypeMarkPrice:
		s.applyMarkPrice(ev.MarkPrice)
	case event.TypeForceOrder:
		s.applyForceOrder(ev.ForceOrder)
	case event.TypeOrderBookDepth:
		if ev.Book != nil {
			s.riskState.UpdateOrderBook(ev.Book)
		}
	case event.TypeOpenInterest:
		if ev.OI != nil {
			s.riskState.UpdateOpenInterest(ev.OI)
		}
	default:
		return nil
	}
	s.metrics.StageDuration.WithLabelValues("cache").Observe(time.Since(start).Seconds())
	s.metrics.EventsProcessed.WithLabelValues("cache", ev.Type.String()).Inc()
	return nil
}

func (s *CacheStage) applyMarkPrice(mp *event.MarkPriceUpdate) {
	if mp == nil {
		return
	}
	if !s.markPrices.Update(mp.Symbol, mp.MarkPrice, mp.EventTime) {
		return
	}
	tick := event.PriceTick{Timestamp: mp.EventTime, Price: mp.MarkPrice}
	if err := s.history.Append(mp.Symbol, tick); err != nil {
		s.log.Debug().Err(err).Str("symbol", mp.Symbol).Msg("history append rejected")
	}
	if s.funding != nil {
		s.funding.Set(mp.Symbol, mp.FundingRate)
	}
}

func (s *CacheStage) applyForceOrder(liq *event.LiquidationEvent) {
	if liq == nil {
		return
	}
	if s.dedupe.Seen(liq.Key()) {
		return
	}
	s.riskState.RecordLiquidation(liq)
	s.metrics.LiquidationsSeen.WithLabelValues(liq.Symbol).Inc()

	// Leverage inference needs the mark price at print time; without it
	// the observation is skipped, not deferred.
	if price, ok := s.markPrices.Get(liq.Symbol); ok {
		s.leverage.ObserveLiquidation(liq, price, time.Now())
	}
}

// RiskStage runs the cascade analysis and Monte Carlo simulation for
// events that trigger a recalculation, publishing results onto the output
// ring. Mark price events are throttled per symbol; force orders always
// recalculate.
type RiskStage struct {
	calculator *cascade.Calculator
	simulator  *montecarlo.Service
	positions  *state.PositionRegistry
	markPrices *state.MarkPriceCache
	out        *outputProducer
	metrics    *observability.Metrics
	log        zerolog.Logger

	throttle    time.Duration
	lastCalc    map[string]time.Time
	lastCascade map[string]*cascade.Report
	now         func() time.Time
}

const defaultRiskThrottle = 200 * time.Millisecond

func NewRiskStage(
	calculator *cascade.Calculator,
	simulator *montecarlo.Service,
	positions *state.PositionRegistry,
	markPrices *state.MarkPriceCache,
	out *outputProducer,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *RiskStage {
	return &RiskStage{
		calculator:  calculator,
		simulator:   simulator,
		positions:   positions,
		markPrices:  markPrices,
		out:         out,
		metrics:     metrics,
		log:         log.With().Str("stage", "risk").Logger(),
		throttle:    defaultRiskThrottle,
		lastCalc:    make(map[string]time.Time),
		lastCascade: make(map[string]*cascade.Report),
		now:         time.Now,
	}
}

func (s *RiskStage) OnEvent(ev *event.MarketDataEvent, seq int64, endOfBatch bool) error {
	if ev.ParseFailed || !ev.Type.TriggersRiskCalc() || ev.Symbol == "" {
		return nil
	}

	symbol := ev.Symbol
	now := s.now()

	if ev.Type == event.TypeMarkPrice {
		if last, ok := s.lastCalc[symbol]; ok && now.Sub(last) < s.throttle {
			s.metrics.ThrottleSkips.WithLabelValues(symbol).Inc()
			s.tryMonteCarlo(symbol)
			return nil
		}
	}

	pos, ok := s.positions.Get(symbol)
	if !ok {
		return nil
	}
	price, ok := s.markPrices.Get(symbol)
	if !ok {
		return nil
	}

	start := time.Now()
	report := s.calculator.Analyze(price, pos)
	elapsed := time.Since(start)
	s.lastCalc[symbol] = s.now()
	s.lastCascade[symbol] = report

	s.metrics.CascadeCalcDuration.Observe(elapsed.Seconds())
	s.metrics.CascadeRiskLevel.WithLabelValues(symbol).Set(observability.RiskLevelValue(string(report.RiskLevel)))
	s.metrics.EventsProcessed.WithLabelValues("risk", ev.Type.String()).Inc()
	if !ev.IngestedAt.IsZero() {
		s.metrics.StageDuration.WithLabelValues("e2e").Observe(time.Since(ev.IngestedAt).Seconds())
	}

	s.out.PublishCascade(report, elapsed)

	s.log.Debug().
		Str("symbol", symbol).
		Str("risk_level", string(report.RiskLevel)).
		Float64("reach_prob", report.CascadeReachProbability).
		Dur("calc", elapsed).
		Msg("cascade analysis complete")

	s.tryMonteCarlo(symbol)
	return nil
}

func (s *RiskStage) tryMonteCarlo(symbol string) {
	pos, ok := s.positions.Get(symbol)
	if !ok || pos.LiquidationPrice <= 0 {
		return
	}

	start := time.Now()
	report, err := s.simulator.SimulateThrottled(symbol, pos.LiquidationPrice, pos.Side, s.lastCascade[symbol])
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("simulation unavailable")
		return
	}
	if report == nil {
		return
	}

	s.metrics.MonteCarloDuration.Observe(time.Since(start).Seconds())
	s.metrics.MonteCarloPaths.Add(float64(report.PathCount))
	s.out.PublishMonteCarlo(report)
}
