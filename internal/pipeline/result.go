package pipeline

import (
	"time"

	"riskengine/internal/cascade"
	"riskengine/internal/montecarlo"
)

// RiskResult is the reusable output ring slot. At most one of Cascade and
// MonteCarlo is set per published slot.
type RiskResult struct {
	Cascade      *cascade.Report
	MonteCarlo   *montecarlo.Report
	CalcDuration time.Duration
}

// Clear resets the slot for reuse.
func (r *RiskResult) Clear() {
	r.Cascade = nil
	r.MonteCarlo = nil
	r.CalcDuration = 0
}
