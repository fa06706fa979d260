package montecarlo

import (
	"math"

	"github.com/rs/zerolog"

	"riskengine/internal/mathx"
)

// GarchConfig controls the GARCH(1,1) fit. With AutoFit the (alpha, beta)
// pair is chosen by a coarse grid search maximizing the Gaussian
// quasi-log-likelihood; otherwise the fixed parameters are used.
type GarchConfig struct {
	AutoFit bool
	Alpha   float64
	Beta    float64
}

func DefaultGarchConfig() GarchConfig {
	return GarchConfig{AutoFit: true, Alpha: 0.05, Beta: 0.90}
}

// GarchResult is one fitted GARCH(1,1) state: the filtered current
// variance plus the parameters needed to forecast forward.
type GarchResult struct {
	CurrentVariance       float64
	Omega                 float64
	Alpha                 float64
	Beta                  float64
	UnconditionalVariance float64
	AnnualizedSigma       float64
	PeriodsPerYear        float64
}

// ForecastVarianceSchedule returns the h-step-ahead per-period variance
// forecasts: each step decays geometrically from the current variance
// toward the unconditional variance at rate alpha+beta.
func (g *GarchResult) ForecastVarianceSchedule(steps int) []float64 {
	schedule := make([]float64, steps)
	persistence := g.Alpha + g.Beta
	diff := g.CurrentVariance - g.UnconditionalVariance
	pow := 1.0
	for h := 0; h < steps; h++ {
		schedule[h] = g.UnconditionalVariance + pow*diff
		if schedule[h] <= 0 {
			schedule[h] = g.UnconditionalVariance
		}
		pow *= persistence
	}
	return schedule
}

// ForecastSigmaSchedule annualizes the variance schedule.
func (g *GarchResult) ForecastSigmaSchedule(steps int) []float64 {
	vars := g.ForecastVarianceSchedule(steps)
	out := make([]float64, steps)
	for i, v := range vars {
		out[i] = math.Sqrt(v * g.PeriodsPerYear)
	}
	return out
}

// GarchEstimator fits GARCH(1,1) to a log-return series.
type GarchEstimator struct {
	cfg GarchConfig
	log zerolog.Logger
}

func NewGarchEstimator(cfg GarchConfig, log zerolog.Logger) *GarchEstimator {
	return &GarchEstimator{cfg: cfg, log: log}
}

// Estimate fits the model. Returns nil when fewer than two returns are
// available.
func (e *GarchEstimator) Estimate(logReturns []float64, periodsPerYear float64) *GarchResult {
	if len(logReturns) < 2 {
		return nil
	}

	alpha, beta := e.cfg.Alpha, e.cfg.Beta
	if e.cfg.AutoFit {
		alpha, beta = fitQuasiMLE(logReturns, alpha, beta)
	}

	sampleVar := mathx.SampleVariance(logReturns)
	persistence := alpha + beta
	omega := sampleVar * 0.05
	if persistence < 1 {
		omega = sampleVar * (1 - persistence)
	}

	current := filterVariance(logReturns, omega, alpha, beta)

	res := &GarchResult{
		CurrentVariance: current,
		Omega:           omega,
		Alpha:           alpha,
		Beta:            beta,
		PeriodsPerYear:  periodsPerYear,
		AnnualizedSigma: math.Sqrt(current * periodsPerYear),
	}
	res.UnconditionalVariance = current
	if persistence < 1 {
		res.UnconditionalVariance = omega / (1 - persistence)
	}

	e.log.Debug().
		Float64("alpha", alpha).
		Float64("beta", beta).
		Float64("omega", omega).
		Float64("sigma_ann", res.AnnualizedSigma).
		Msg("garch fitted")
	return res
}

// filterVariance runs the recursion forward to the current conditional
// variance, seeded with the first squared return.
func filterVariance(returns []float64, omega, alpha, beta float64) float64 {
	variance := returns[0] * returns[0]
	for i := 1; i < len(returns); i++ {
		r := returns[i-1]
		variance = omega + alpha*r*r + beta*variance
	}
	return math.Max(variance, 1e-20)
}

// fitQuasiMLE grid-searches alpha in [0.01,0.20] and beta in [0.70,0.98]
// under the stationarity constraint alpha+beta < 1.
func fitQuasiMLE(returns []float64, fallbackAlpha, fallbackBeta float64) (float64, float64) {
	sampleVar := mathx.SampleVariance(returns)
	bestAlpha, bestBeta := fallbackAlpha, fallbackBeta
	bestLL := math.Inf(-1)

	for a := 0.01; a <= 0.20+1e-9; a += 0.01 {
		for b := 0.70; b <= 0.98+1e-9; b += 0.01 {
			if a+b >= 1 {
				continue
			}
			omega := sampleVar * (1 - a - b)
			ll := logLikelihood(returns, omega, a, b)
			if ll > bestLL {
				bestLL = ll
				bestAlpha, bestBeta = a, b
			}
		}
	}
	return bestAlpha, bestBeta
}

func logLikelihood(returns []float64, omega, alpha, beta float64) float64 {
	variance := returns[0] * returns[0]
	ll := 0.0
	for i := 1; i < len(returns); i++ {
		r := returns[i]
		prev := returns[i-1]
		variance = omega + alpha*prev*prev + beta*variance
		if variance <= 0 {
			return math.Inf(-1)
		}
		ll += -0.5 * (math.Log(variance) + r*r/variance)
	}
	return ll
}
