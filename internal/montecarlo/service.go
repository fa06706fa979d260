package montecarlo

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/cascade"
	"riskengine/internal/event"
	"riskengine/internal/mathx"
	"riskengine/internal/state"
)

// Config controls the simulation orchestrator.
type Config struct {
	Enabled          bool
	PathCount        int
	TimeStepMinutes  int
	HorizonMinutes   []int
	VolatilityWindow string
	UseGarch         bool
	UseFatTail       bool
	DegreesOfFreedom float64
	ThrottleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		PathCount:        10000,
		TimeStepMinutes:  1,
		HorizonMinutes:   append([]int(nil), DefaultHorizonMinutes...),
		VolatilityWindow: "1h",
		UseGarch:         true,
		UseFatTail:       false,
		DegreesOfFreedom: 5.0,
		ThrottleInterval: 5 * time.Second,
	}
}

// MaxHorizonMinutes returns the longest configured horizon.
func (c Config) MaxHorizonMinutes() int {
	max := 0
	for _, h := range c.HorizonMinutes {
		if h > max {
			max = h
		}
	}
	return max
}

// Service wires the estimators, the path generator and the detector into
// one simulation call, and caches the latest report per symbol.
type Service struct {
	cfg        Config
	markPrices *state.MarkPriceCache
	volatility *VolatilityEstimator
	garch      *GarchEstimator
	drift      *DriftEstimator
	tail       *TailEstimator
	history    *state.PriceHistoryBuffer
	log        zerolog.Logger

	mu      sync.RWMutex
	latest  map[string]*Report
	lastRun map[string]time.Time
}

func NewService(cfg Config, markPrices *state.MarkPriceCache, vol *VolatilityEstimator, garch *GarchEstimator, drift *DriftEstimator, tail *TailEstimator, history *state.PriceHistoryBuffer, log zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		markPrices: markPrices,
		volatility: vol,
		garch:      garch,
		drift:      drift,
		tail:       tail,
		history:    history,
		log:        log,
		latest:     make(map[string]*Report),
		lastRun:    make(map[string]time.Time),
	}
}

// Simulate runs one simulation for a position. Returns (nil, nil) when
// the engine is disabled or no mark price is known for the symbol;
// returns an error only for invalid simulation parameters.
func (s *Service) Simulate(symbol string, liquidationPrice float64, side event.Side, cascadeReport *cascade.Report) (*Report, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	key := strings.ToUpper(symbol)
	currentPrice, ok := s.markPrices.Get(key)
	if !ok {
		s.log.Warn().Str("symbol", key).Msg("no mark price, simulation skipped")
		return nil, nil
	}

	start := time.Now()

	volSnap := s.volatility.Estimate(key)
	sigma := volSnap.SigmaForWindow(s.cfg.VolatilityWindow)

	totalSteps := s.cfg.MaxHorizonMinutes() / s.cfg.TimeStepMinutes
	var sigmaSchedule []float64
	if s.cfg.UseGarch {
		if g := s.estimateGarch(key); g != nil {
			sigmaSchedule = g.ForecastSigmaSchedule(totalSteps)
			sigma = g.AnnualizedSigma
		}
	}

	mu := s.drift.Estimate(key)

	if cascadeReport != nil {
		pressureNorm := float64(cascadeReport.MarketPressureTotal) / 60.0
		boost := 1 + pressureNorm*0.3
		sigma *= boost
		for i := range sigmaSchedule {
			sigmaSchedule[i] *= boost
		}
		sign := 1.0
		if side == event.SideLong {
			sign = -1.0
		}
		mu += sign * pressureNorm * 0.5
		mu = math.Max(-2.0, math.Min(2.0, mu))
	}

	nu := s.cfg.DegreesOfFreedom
	if s.cfg.UseFatTail {
		nu = s.tail.DegreesOfFreedom(key, WindowDuration(s.cfg.VolatilityWindow))
	}

	paths, err := GeneratePaths(SimulationRequest{
		StartPrice:       currentPrice,
		Sigma:            sigma,
		Mu:               mu,
		PathCount:        s.cfg.PathCount,
		TimeStepMinutes:  s.cfg.TimeStepMinutes,
		HorizonMinutes:   s.cfg.MaxHorizonMinutes(),
		UseFatTail:       s.cfg.UseFatTail,
		DegreesOfFreedom: nu,
		SigmaSchedule:    sigmaSchedule,
	})
	if err != nil {
		return nil, err
	}

	report := Detect(key, paths, liquidationPrice, side, sigma, s.cfg.TimeStepMinutes, s.cfg.HorizonMinutes)

	s.mu.Lock()
	s.latest[key] = report
	s.lastRun[key] = start
	s.mu.Unlock()

	s.log.Info().
		Str("symbol", key).
		Str("side", side.String()).
		Float64("sigma", sigma).
		Float64("mu", mu).
		Str("risk_level", string(report.RiskLevel)).
		Int("paths", s.cfg.PathCount).
		Dur("elapsed", time.Since(start)).
		Msg("simulation complete")
	return report, nil
}

// SimulateThrottled runs Simulate unless the symbol ran within the
// throttle interval. Returns (nil, nil) when throttled.
func (s *Service) SimulateThrottled(symbol string, liquidationPrice float64, side event.Side, cascadeReport *cascade.Report) (*Report, error) {
	key := strings.ToUpper(symbol)
	s.mu.RLock()
	last, ok := s.lastRun[key]
	s.mu.RUnlock()
	if ok && time.Since(last) < s.cfg.ThrottleInterval {
		return nil, nil
	}
	return s.Simulate(symbol, liquidationPrice, side, cascadeReport)
}

// Latest returns the cached report for a symbol.
func (s *Service) Latest(symbol string) (*Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[strings.ToUpper(symbol)]
	return r, ok
}

// VolatilitySnapshot exposes the estimator's multi-window view for the
// query API.
func (s *Service) VolatilitySnapshot(symbol string) VolatilitySnapshot {
	return s.volatility.Estimate(symbol)
}

func (s *Service) estimateGarch(symbol string) *GarchResult {
	window := WindowDuration(s.cfg.VolatilityWindow)
	ticks := s.history.Window(symbol, window)
	if len(ticks) < minVolTicks {
		return nil
	}
	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}
	returns := mathx.LogReturns(prices)
	if len(returns) < 2 {
		return nil
	}
	spanSec := ticks[len(ticks)-1].Timestamp.Sub(ticks[0].Timestamp).Seconds()
	avgIntervalSec := spanSec / float64(len(ticks)-1)
	if avgIntervalSec < 0.001 {
		avgIntervalSec = 0.001
	}
	return s.garch.Estimate(returns, secondsPerYear/avgIntervalSec)
}
