package montecarlo

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/state"
)

const fundingPeriodsPerDay = 3

// FundingRateSource supplies the latest funding rate per symbol. Unknown
// symbols return 0.
type FundingRateSource interface {
	Rate(symbol string) float64
}

// DriftConfig tunes the drift blend.
type DriftConfig struct {
	Enabled        bool
	FundingWeight  float64
	MomentumWeight float64
	MomentumWindow time.Duration
	MaxAnnualDrift float64
}

func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		Enabled:        true,
		FundingWeight:  0.6,
		MomentumWeight: 0.4,
		MomentumWindow: time.Hour,
		MaxAnnualDrift: 2.0,
	}
}

// DriftEstimator blends an annualized funding-rate carry term with an
// annualized log-return momentum term. Positive funding means longs pay
// shorts, a headwind for the long side, hence the negated carry.
type DriftEstimator struct {
	cfg     DriftConfig
	funding FundingRateSource
	history *state.PriceHistoryBuffer
	log     zerolog.Logger
}

func NewDriftEstimator(cfg DriftConfig, funding FundingRateSource, history *state.PriceHistoryBuffer, log zerolog.Logger) *DriftEstimator {
	return &DriftEstimator{cfg: cfg, funding: funding, history: history, log: log}
}

// Estimate returns the annualized drift for a symbol, capped at the
// configured magnitude.
func (e *DriftEstimator) Estimate(symbol string) float64 {
	if !e.cfg.Enabled {
		return 0
	}
	carry := e.fundingDrift(symbol)
	momentum := e.momentumDrift(symbol)
	mu := carry*e.cfg.FundingWeight + momentum*e.cfg.MomentumWeight
	mu = math.Max(-e.cfg.MaxAnnualDrift, math.Min(e.cfg.MaxAnnualDrift, mu))

	e.log.Debug().Str("symbol", symbol).
		Float64("carry", carry).Float64("momentum", momentum).Float64("mu", mu).
		Msg("drift estimated")
	return mu
}

func (e *DriftEstimator) fundingDrift(symbol string) float64 {
	if e.funding == nil {
		return 0
	}
	return -e.funding.Rate(symbol) * fundingPeriodsPerDay * 365
}

func (e *DriftEstimator) momentumDrift(symbol string) float64 {
	ticks := e.history.Window(symbol, e.cfg.MomentumWindow)
	if len(ticks) < 2 {
		return 0
	}
	first, last := ticks[0], ticks[len(ticks)-1]
	periodMinutes := last.Timestamp.Sub(first.Timestamp).Minutes()
	if periodMinutes <= 0 || first.Price <= 0 {
		return 0
	}
	return math.Log(last.Price/first.Price) * (minutesPerYear / periodMinutes)
}
