package montecarlo

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// SimulationRequest parameterizes one batch of GBM paths.
type SimulationRequest struct {
	StartPrice      float64
	Sigma           float64 // annualized; ignored per-step when SigmaSchedule set
	Mu              float64 // annualized drift
	PathCount       int
	TimeStepMinutes int
	HorizonMinutes  int

	UseFatTail       bool
	DegreesOfFreedom float64

	// SigmaSchedule, when set, supplies the annualized volatility per
	// simulation step (a GARCH forecast). Must cover every step.
	SigmaSchedule []float64

	// Rand lets tests inject a seeded source. Nil uses a time-seeded one.
	Rand *rand.Rand
}

// TotalSteps returns the number of simulation steps.
func (r *SimulationRequest) TotalSteps() int {
	return r.HorizonMinutes / r.TimeStepMinutes
}

// Validate rejects parameters the simulation cannot run with. Violations
// surface to the caller; nothing is silently corrected.
func (r *SimulationRequest) Validate() error {
	if r.StartPrice <= 0 {
		return fmt.Errorf("simulation: start price must be positive, got %v", r.StartPrice)
	}
	if r.Sigma <= 0 {
		return fmt.Errorf("simulation: sigma must be positive, got %v", r.Sigma)
	}
	if r.PathCount <= 0 {
		return fmt.Errorf("simulation: path count must be positive, got %d", r.PathCount)
	}
	if r.TimeStepMinutes <= 0 {
		return fmt.Errorf("simulation: time step must be positive, got %d", r.TimeStepMinutes)
	}
	if r.HorizonMinutes <= 0 {
		return fmt.Errorf("simulation: horizon must be positive, got %d", r.HorizonMinutes)
	}
	if r.UseFatTail && r.DegreesOfFreedom <= 2 {
		return fmt.Errorf("simulation: degrees of freedom must exceed 2 for finite variance, got %v", r.DegreesOfFreedom)
	}
	if r.SigmaSchedule != nil && len(r.SigmaSchedule) < r.TotalSteps() {
		return fmt.Errorf("simulation: sigma schedule covers %d of %d steps", len(r.SigmaSchedule), r.TotalSteps())
	}
	return nil
}

// GeneratePaths simulates GBM price paths with antithetic variates: paths
// are produced in pairs where the twin reuses each innovation negated,
// cancelling first-order sampling error for the same path budget. With an
// odd path count the last path runs unpaired. Fat-tail innovations pass
// the Gaussian draw through a Student-t transform before pairing, so the
// antithetic symmetry holds for the transformed innovation too.
func GeneratePaths(req SimulationRequest) ([][]float64, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rng := req.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}

	totalSteps := req.TotalSteps()
	dt := float64(req.TimeStepMinutes) / minutesPerYear
	sqrtDt := math.Sqrt(dt)

	// Per-step drift and diffusion, constant unless a schedule is set.
	drift := make([]float64, totalSteps)
	diffusion := make([]float64, totalSteps)
	for t := 0; t < totalSteps; t++ {
		sigma := req.Sigma
		if req.SigmaSchedule != nil {
			sigma = req.SigmaSchedule[t]
		}
		drift[t] = (req.Mu - 0.5*sigma*sigma) * dt
		diffusion[t] = sigma * sqrtDt
	}

	paths := make([][]float64, req.PathCount)
	for i := range paths {
		paths[i] = make([]float64, totalSteps+1)
		paths[i][0] = req.StartPrice
	}

	for i := 0; i < req.PathCount; i += 2 {
		paired := i+1 < req.PathCount
		for t := 1; t <= totalSteps; t++ {
			z := rng.NormFloat64()
			if req.UseFatTail {
				z = studentT(z, req.DegreesOfFreedom, rng)
			}
			step := diffusion[t-1] * z
			paths[i][t] = paths[i][t-1] * math.Exp(drift[t-1]+step)
			if paired {
				paths[i+1][t] = paths[i+1][t-1] * math.Exp(drift[t-1]-step)
			}
		}
	}
	return paths, nil
}

// studentT scales a Gaussian draw into a Student-t variate using a
// chi-squared variate built from uniforms: nu/2 pairs contribute
// -2 ln(U) each, an odd nu adds one squared Gaussian.
func studentT(z, nu float64, rng *rand.Rand) float64 {
	intNu := int(nu)
	chiSq := 0.0
	if pairs := intNu / 2; pairs > 0 {
		product := 1.0
		for i := 0; i < pairs; i++ {
			product *= rng.Float64()
		}
		chiSq = -2 * math.Log(product)
	}
	if intNu%2 == 1 {
		n := rng.NormFloat64()
		chiSq += n * n
	}
	t := z * math.Sqrt(nu/chiSq)
	if math.IsInf(t, 0) || math.IsNaN(t) {
		return z
	}
	return t
}
