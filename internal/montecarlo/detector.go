package montecarlo

import (
	"math"
	"sort"
	"time"

	"riskengine/internal/event"
	"riskengine/internal/mathx"
)

// DefaultHorizonMinutes are the horizons reported per simulation.
var DefaultHorizonMinutes = []int{10, 60, 240, 1440}

// riskLevelHorizon is the horizon whose probability drives the overall
// risk classification.
const riskLevelHorizon = 1440

// RiskLevel is the four-level Monte Carlo classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelFromProbability maps a liquidation probability to a level.
func RiskLevelFromProbability(p float64) RiskLevel {
	switch {
	case p >= 0.50:
		return RiskCritical
	case p >= 0.25:
		return RiskHigh
	case p >= 0.10:
		return RiskMedium
	default:
		return RiskLow
	}
}

// HorizonResult aggregates one horizon: the fraction of paths liquidated
// within it and the price distribution at its step.
type HorizonResult struct {
	Minutes                int     `json:"minutes"`
	LiquidationProbability float64 `json:"liquidationProbability"`
	PricePercentile5       float64 `json:"pricePercentile5"`
	PricePercentile25      float64 `json:"pricePercentile25"`
	PriceMedian            float64 `json:"priceMedian"`
	PricePercentile75      float64 `json:"pricePercentile75"`
	PricePercentile95      float64 `json:"pricePercentile95"`
}

// Report is the result of one Monte Carlo simulation.
type Report struct {
	Symbol           string          `json:"symbol"`
	CurrentPrice     float64         `json:"currentPrice"`
	LiquidationPrice float64         `json:"liquidationPrice"`
	PositionSide     event.Side      `json:"-"`
	PositionSideName string          `json:"positionSide"`
	Sigma            float64         `json:"sigma"`
	PathCount        int             `json:"pathCount"`
	Horizons         []HorizonResult `json:"horizons"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
	Timestamp        time.Time       `json:"timestamp"`
	CalcDuration     time.Duration   `json:"calcDurationMicros"`
}

// Detect scans every path for its first passage through the liquidation
// price (at or below for longs, at or above for shorts) and aggregates
// each requested horizon into a probability and price percentiles.
func Detect(symbol string, paths [][]float64, liquidationPrice float64, side event.Side, sigma float64, timeStepMinutes int, horizonMinutes []int) *Report {
	start := time.Now()
	pathCount := len(paths)
	totalSteps := len(paths[0]) - 1
	isLong := side != event.SideShort

	firstPassage := make([]int, pathCount)
	for i, path := range paths {
		firstPassage[i] = math.MaxInt
		for t := 1; t <= totalSteps; t++ {
			liquidated := path[t] <= liquidationPrice
			if !isLong {
				liquidated = path[t] >= liquidationPrice
			}
			if liquidated {
				firstPassage[i] = t
				break
			}
		}
	}

	horizons := make([]HorizonResult, 0, len(horizonMinutes))
	for _, minutes := range horizonMinutes {
		step := minutes / timeStepMinutes
		if step > totalSteps {
			step = totalSteps
		}
		horizons = append(horizons, aggregateHorizon(paths, firstPassage, step, minutes))
	}

	return &Report{
		Symbol:           symbol,
		CurrentPrice:     paths[0][0],
		LiquidationPrice: liquidationPrice,
		PositionSide:     side,
		PositionSideName: side.String(),
		Sigma:            sigma,
		PathCount:        pathCount,
		Horizons:         horizons,
		RiskLevel:        deriveRiskLevel(horizons),
		Timestamp:        time.Now(),
		CalcDuration:     time.Since(start),
	}
}

func aggregateHorizon(paths [][]float64, firstPassage []int, step, minutes int) HorizonResult {
	liquidated := 0
	prices := make([]float64, len(paths))
	for i, path := range paths {
		if firstPassage[i] <= step {
			liquidated++
		}
		prices[i] = path[step]
	}
	sort.Float64s(prices)

	return HorizonResult{
		Minutes:                minutes,
		LiquidationProbability: float64(liquidated) / float64(len(paths)),
		PricePercentile5:       mathx.PercentileSorted(prices, 5),
		PricePercentile25:      mathx.PercentileSorted(prices, 25),
		PriceMedian:            mathx.PercentileSorted(prices, 50),
		PricePercentile75:      mathx.PercentileSorted(prices, 75),
		PricePercentile95:      mathx.PercentileSorted(prices, 95),
	}
}

// deriveRiskLevel classifies by the terminal horizon, falling back to the
// last configured horizon when 1440m is not among them.
func deriveRiskLevel(horizons []HorizonResult) RiskLevel {
	for _, h := range horizons {
		if h.Minutes == riskLevelHorizon {
			return RiskLevelFromProbability(h.LiquidationProbability)
		}
	}
	return RiskLevelFromProbability(horizons[len(horizons)-1].LiquidationProbability)
}
