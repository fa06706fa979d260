// Package montecarlo contains the stochastic side of the risk engine:
// volatility, drift and tail estimation from the tick history, GBM path
// simulation with variance reduction, first-passage detection over the
// simulated paths, and the orchestrator wiring them together.
package montecarlo

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/mathx"
	"riskengine/internal/state"
)

const (
	minVolTicks      = 60
	defaultAnnualVol = 0.80
	secondsPerYear   = 365.25 * 24 * 3600
	minutesPerYear   = 365.25 * 24 * 60
	ewmaLambda       = 0.94
)

// VolatilitySnapshot reports the EWMA annualized volatility across the
// standard windows for one symbol.
type VolatilitySnapshot struct {
	Symbol      string    `json:"symbol"`
	Sigma1m     float64   `json:"sigma1m"`
	Sigma5m     float64   `json:"sigma5m"`
	Sigma1h     float64   `json:"sigma1h"`
	Sigma24h    float64   `json:"sigma24h"`
	Method      string    `json:"method"`
	SampleCount int       `json:"sampleCount"`
	Timestamp   time.Time `json:"timestamp"`
}

// SigmaForWindow returns the snapshot sigma for a window label,
// defaulting to the 1h estimate.
func (s VolatilitySnapshot) SigmaForWindow(label string) float64 {
	switch label {
	case "1m":
		return s.Sigma1m
	case "5m":
		return s.Sigma5m
	case "24h":
		return s.Sigma24h
	default:
		return s.Sigma1h
	}
}

// WindowDuration maps a volatility window label to a duration.
func WindowDuration(label string) time.Duration {
	switch label {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "24h":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// VolatilityEstimator computes EWMA volatility from the tick history.
// Falls back to a fixed default when fewer than 60 ticks exist in the
// window, annualizes by the average observed tick interval.
type VolatilityEstimator struct {
	history *state.PriceHistoryBuffer
	log     zerolog.Logger
}

func NewVolatilityEstimator(history *state.PriceHistoryBuffer, log zerolog.Logger) *VolatilityEstimator {
	return &VolatilityEstimator{history: history, log: log}
}

// Estimate builds the multi-window snapshot for a symbol.
func (e *VolatilityEstimator) Estimate(symbol string) VolatilitySnapshot {
	key := strings.ToUpper(symbol)
	return VolatilitySnapshot{
		Symbol:      key,
		Sigma1m:     e.EstimateWindow(key, time.Minute),
		Sigma5m:     e.EstimateWindow(key, 5*time.Minute),
		Sigma1h:     e.EstimateWindow(key, time.Hour),
		Sigma24h:    e.EstimateWindow(key, 24*time.Hour),
		Method:      "EWMA",
		SampleCount: e.history.Len(key),
		Timestamp:   time.Now(),
	}
}

// EstimateWindow returns the annualized EWMA volatility over one trailing
// window.
func (e *VolatilityEstimator) EstimateWindow(symbol string, window time.Duration) float64 {
	ticks := e.history.Window(symbol, window)
	if len(ticks) < minVolTicks {
		e.log.Debug().Str("symbol", symbol).Dur("window", window).Int("ticks", len(ticks)).
			Msg("insufficient ticks, default volatility")
		return defaultAnnualVol
	}

	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}
	returns := mathx.LogReturns(prices)
	if len(returns) == 0 {
		return defaultAnnualVol
	}

	spanSec := ticks[len(ticks)-1].Timestamp.Sub(ticks[0].Timestamp).Seconds()
	avgIntervalSec := spanSec / float64(len(ticks)-1)
	if avgIntervalSec < 0.001 {
		avgIntervalSec = 0.001
	}
	periodsPerYear := secondsPerYear / avgIntervalSec

	variance := ewmaVariance(returns)
	return math.Sqrt(variance * periodsPerYear)
}

// ewmaVariance runs the recursion var_t = lambda*var_{t-1} + (1-lambda)*r^2
// seeded with the first squared return.
func ewmaVariance(returns []float64) float64 {
	variance := returns[0] * returns[0]
	for _, r := range returns[1:] {
		variance = ewmaLambda*variance + (1-ewmaLambda)*r*r
	}
	return variance
}
