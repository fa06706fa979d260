package state

import (
	"math"
	"strings"
	"sync"
	"time"

	"riskengine/internal/event"
	"riskengine/internal/mathx"
)

// leveragePrior is the assumed resting distribution of open interest
// across tiers before any liquidation has been observed. Mid leverages
// dominate; the extremes are rare. Leverages outside the map get
// defaultPrior.
var leveragePrior = map[float64]float64{
	125: 0.03, 100: 0.05, 75: 0.07, 50: 0.18, 25: 0.22,
	20: 0.15, 10: 0.16, 5: 0.08, 4: 0.03, 3: 0.02, 2: 0.01,
}

const defaultPrior = 0.05

func priorWeight(lev float64) float64 {
	if w, ok := leveragePrior[lev]; ok {
		return w
	}
	return defaultPrior
}

// LeverageConfig tunes the estimator. The tolerance and decay cadence are
// heuristics; keep them configurable for calibration against real prints.
type LeverageConfig struct {
	// InferenceTolerance is the max relative mismatch between the
	// observed price-distance ratio and a tier's theoretical ratio,
	// as a fraction of the observed ratio.
	InferenceTolerance float64
	// DecayFactor is applied to both accumulators once per elapsed
	// DecayInterval.
	DecayFactor   float64
	DecayInterval time.Duration
	// PriorStrength scales the prior weights against the live signal.
	PriorStrength float64
	// PruneBelow drops accumulator entries that have decayed to noise.
	PruneBelow float64
}

func DefaultLeverageConfig() LeverageConfig {
	return LeverageConfig{
		InferenceTolerance: 0.5,
		DecayFactor:        0.995,
		DecayInterval:      time.Minute,
		PriorStrength:      100,
		PruneBelow:         0.01,
	}
}

// DistanceRatioFunc returns the theoretical |liqPrice/markPrice - 1| for a
// position opened at markPrice with the given leverage and side. Supplied
// by the margin package; injected here so the estimator stays testable
// with synthetic ratios.
type DistanceRatioFunc func(symbol string, leverage float64, side event.Side, markPrice float64) float64

// TierLeveragesFunc returns the leverage brackets of a symbol's margin
// schedule, highest first. Supplied by the margin package; inference and
// normalization both run over exactly this set so the distribution covers
// every bracket the schedule can produce and nothing else.
type TierLeveragesFunc func(symbol string) []float64

// LeverageEstimator infers, per symbol, how open interest is spread
// across leverage tiers from sparse forced-liquidation prints. Each print
// is snapped to the tier whose theoretical liquidation distance best
// matches the observed one; tiers accumulate an existence signal and a
// notional-scaled liquidated-volume signal, both decaying geometrically
// so old prints fade out.
type LeverageEstimator struct {
	cfg      LeverageConfig
	ratioFor DistanceRatioFunc
	tiersFor TierLeveragesFunc

	mu       sync.Mutex
	bySymbol map[string]*leverageState
}

type leverageState struct {
	existence map[float64]float64
	removed   map[float64]float64
	lastDecay time.Time
}

func NewLeverageEstimator(cfg LeverageConfig, ratioFor DistanceRatioFunc, tiersFor TierLeveragesFunc) *LeverageEstimator {
	return &LeverageEstimator{
		cfg:      cfg,
		ratioFor: ratioFor,
		tiersFor: tiersFor,
		bySymbol: make(map[string]*leverageState),
	}
}

// ObserveLiquidation folds one forced-order print into the accumulators.
// markPrice is the mark price at print time; a print whose implied
// distance matches no tier within tolerance is ignored.
func (e *LeverageEstimator) ObserveLiquidation(ev *event.LiquidationEvent, markPrice float64, now time.Time) {
	if ev == nil || markPrice <= 0 {
		return
	}
	price := ev.AveragePrice
	if price <= 0 {
		price = ev.Price
	}
	if price <= 0 {
		return
	}
	observed := math.Abs(price/markPrice - 1)
	if observed <= 0 {
		return
	}
	tier, ok := e.inferTier(ev.Symbol, observed, ev.Side, markPrice)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(ev.Symbol, now)
	s.decay(now, e.cfg)
	s.existence[tier]++
	removed := mathx.Clamp(ev.Notional()/10000*5, 1, 200)
	s.removed[tier] += removed
}

// inferTier reverse-solves the margin formula: the tier whose theoretical
// liquidation distance is closest to the observed one wins, subject to
// the configured tolerance.
func (e *LeverageEstimator) inferTier(symbol string, observed float64, side event.Side, markPrice float64) (float64, bool) {
	best := 0.0
	bestDiff := math.MaxFloat64
	for _, lev := range e.tiersFor(symbol) {
		theoretical := e.ratioFor(symbol, lev, side, markPrice)
		if theoretical <= 0 {
			continue
		}
		diff := math.Abs(theoretical - observed)
		if diff < bestDiff {
			bestDiff = diff
			best = lev
		}
	}
	if best == 0 || bestDiff > observed*e.cfg.InferenceTolerance {
		return 0, false
	}
	return best, true
}

// Distribution returns the current normalized weight per tier of the
// symbol's margin schedule. Weights are non-negative and sum to 1.
func (e *LeverageEstimator) Distribution(symbol string, now time.Time) map[float64]float64 {
	tiers := e.tiersFor(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(symbol, now)
	s.decay(now, e.cfg)

	adjusted := make(map[float64]float64, len(tiers))
	var total float64
	for _, lev := range tiers {
		w := priorWeight(lev)*e.cfg.PriorStrength + s.existence[lev] - s.removed[lev]
		if w < 0.1 {
			w = 0.1
		}
		adjusted[lev] = w
		total += w
	}
	for lev := range adjusted {
		adjusted[lev] /= total
	}
	return adjusted
}

func (e *LeverageEstimator) stateFor(symbol string, now time.Time) *leverageState {
	key := strings.ToUpper(symbol)
	s, ok := e.bySymbol[key]
	if !ok {
		s = &leverageState{
			existence: make(map[float64]float64),
			removed:   make(map[float64]float64),
			lastDecay: now,
		}
		e.bySymbol[key] = s
	}
	return s
}

// decay applies the geometric forgetting factor once per elapsed interval
// and prunes entries that have faded to noise.
func (s *leverageState) decay(now time.Time, cfg LeverageConfig) {
	if cfg.DecayInterval <= 0 {
		return
	}
	intervals := int(now.Sub(s.lastDecay) / cfg.DecayInterval)
	if intervals <= 0 {
		return
	}
	factor := math.Pow(cfg.DecayFactor, float64(intervals))
	for _, m := range []map[float64]float64{s.existence, s.removed} {
		for lev := range m {
			m[lev] *= factor
			if m[lev] < cfg.PruneBelow {
				delete(m, lev)
			}
		}
	}
	s.lastDecay = s.lastDecay.Add(time.Duration(intervals) * cfg.DecayInterval)
}
