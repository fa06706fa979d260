package montecarlo

import (
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/mathx"
	"riskengine/internal/state"
)

const (
	nuFloor     = 3.0
	nuCeiling   = 30.0
	minTailTick = 30
)

// TailEstimator maps the excess kurtosis of recent log returns to
// Student-t degrees of freedom: nu = 6/kurtosis + 4, clamped to [3,30].
// Thin or non-leptokurtic samples fall back to the near-Gaussian ceiling.
type TailEstimator struct {
	history *state.PriceHistoryBuffer
	log     zerolog.Logger
}

func NewTailEstimator(history *state.PriceHistoryBuffer, log zerolog.Logger) *TailEstimator {
	return &TailEstimator{history: history, log: log}
}

func (e *TailEstimator) DegreesOfFreedom(symbol string, window time.Duration) float64 {
	prices := e.history.Prices(symbol, window)
	if len(prices) < minTailTick {
		return nuCeiling
	}
	returns := mathx.LogReturns(prices)
	if len(returns) < minTailTick-1 {
		return nuCeiling
	}

	kurtosis := mathx.ExcessKurtosis(returns)
	nu := nuCeiling
	if kurtosis > 0 {
		nu = 6/kurtosis + 4
	}
	nu = mathx.Clamp(nu, nuFloor, nuCeiling)

	e.log.Debug().Str("symbol", symbol).
		Float64("kurtosis", kurtosis).Float64("nu", nu).
		Msg("tail estimated")
	return nu
}
