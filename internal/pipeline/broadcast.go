package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"riskengine/internal/cascade"
	"riskengine/internal/ingestion"
	"riskengine/internal/montecarlo"
	"riskengine/internal/observability"
	"riskengine/internal/persistence"
	"riskengine/internal/ring"
)

// outputProducer owns the single-producer side of the output ring. Only
// the risk stage goroutine publishes through it.
type outputProducer struct {
	ring *ring.Ring[RiskResult]
}

func newOutputProducer(r *ring.Ring[RiskResult]) *outputProducer {
	return &outputProducer{ring: r}
}

func (p *outputProducer) PublishCascade(report *cascade.Report, calc time.Duration) {
	seq := p.ring.Claim()
	slot := p.ring.Get(seq)
	slot.Clear()
	slot.Cascade = report
	slot.CalcDuration = calc
	p.ring.Publish(seq)
}

func (p *outputProducer) PublishMonteCarlo(report *montecarlo.Report) {
	seq := p.ring.Claim()
	slot := p.ring.Get(seq)
	slot.Clear()
	slot.MonteCarlo = report
	p.ring.Publish(seq)
}

// ReportCache holds the latest cascade report per symbol for the query
// API. Monte Carlo reports are cached by their own service.
type ReportCache struct {
	mu      sync.RWMutex
	reports map[string]*cascade.Report
}

func NewReportCache() *ReportCache {
	return &ReportCache{reports: make(map[string]*cascade.Report)}
}

func (c *ReportCache) Put(report *cascade.Report) {
	c.mu.Lock()
	c.reports[strings.ToUpper(report.Symbol)] = report
	c.mu.Unlock()
}

func (c *ReportCache) Get(symbol string) (*cascade.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reports[strings.ToUpper(symbol)]
	return r, ok
}

// BroadcastStage is the sole consumer of the output ring. Each report is
// cached for queries, offered to the outbound publisher, and offered to
// the persistence worker. Both hand-offs are non-blocking: a slow sink
// loses reports, never stalls the pipeline.
type BroadcastStage struct {
	cache       *ReportCache
	publishChan chan<- ingestion.PublishableReport
	reportChan  chan<- persistence.ReportRow
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func NewBroadcastStage(
	cache *ReportCache,
	publishChan chan<- ingestion.PublishableReport,
	reportChan chan<- persistence.ReportRow,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *BroadcastStage {
	return &BroadcastStage{
		cache:       cache,
		publishChan: publishChan,
		reportChan:  reportChan,
		metrics:     metrics,
		log:         log.With().Str("stage", "broadcast").Logger(),
	}
}

func (s *BroadcastStage) OnEvent(res *RiskResult, seq int64, endOfBatch bool) error {
	if res.Cascade != nil {
		s.cache.Put(res.Cascade)
		s.offer("cascade", res.Cascade.Symbol, string(res.Cascade.RiskLevel),
			res.Cascade.CascadeReachProbability, res.Cascade, res.Cascade.Timestamp)
	}
	if res.MonteCarlo != nil {
		prob := 0.0
		if len(res.MonteCarlo.Horizons) > 0 {
			prob = res.MonteCarlo.Horizons[len(res.MonteCarlo.Horizons)-1].LiquidationProbability
		}
		s.offer("montecarlo", res.MonteCarlo.Symbol, string(res.MonteCarlo.RiskLevel),
			prob, res.MonteCarlo, res.MonteCarlo.Timestamp)
	}
	return nil
}

func (s *BroadcastStage) offer(kind, symbol, riskLevel string, score float64, payload interface{}, ts time.Time) {
	// One id covers both sinks, so a broadcast and its journal row can be
	// correlated downstream.
	reportID := uuid.NewString()

	select {
	case s.publishChan <- ingestion.PublishableReport{
		ReportID:  reportID,
		Kind:      kind,
		Symbol:    strings.ToUpper(symbol),
		Payload:   payload,
		Timestamp: ts,
	}:
		s.metrics.ReportsBroadcast.WithLabelValues(kind).Inc()
	default:
		s.metrics.BroadcastErrors.Inc()
	}

	if s.reportChan == nil {
		return
	}
	body, err := persistence.MarshalReport(payload)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("report marshal failed")
		return
	}
	select {
	case s.reportChan <- persistence.ReportRow{
		ReportID:  reportID,
		Symbol:    strings.ToUpper(symbol),
		Kind:      kind,
		RiskLevel: riskLevel,
		Score:     score,
		Payload:   body,
		CreatedAt: ts,
	}:
	default:
		s.metrics.ReportPersistDrops.Inc()
	}
}
