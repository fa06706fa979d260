package cascade

import (
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/event"
)

// RiskLevel is the synthesized four-level classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskRank orders levels for max() comparisons with the distance floor.
func riskRank(l RiskLevel) int {
	switch l {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MaxRiskLevel returns the more severe of two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if riskRank(b) > riskRank(a) {
		return b
	}
	return a
}

// RiskLevelFromScore maps a combined 0..100 score to a level.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 75:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DensityLevel classifies the order-book density score alone.
type DensityLevel string

const (
	DensityMinimal DensityLevel = "MINIMAL"
	DensityLow     DensityLevel = "LOW"
	DensityMedium  DensityLevel = "MEDIUM"
	DensityHigh    DensityLevel = "HIGH"
	DensityExtreme DensityLevel = "EXTREME"
)

func DensityLevelFromScore(score float64) DensityLevel {
	switch {
	case score >= 80:
		return DensityExtreme
	case score >= 60:
		return DensityHigh
	case score >= 40:
		return DensityMedium
	case score >= 20:
		return DensityLow
	default:
		return DensityMinimal
	}
}

// Cluster is one leverage tier whose theoretical liquidation price falls
// inside the path between current price and the user's liquidation price.
type Cluster struct {
	Leverage                   int             `json:"leverage"`
	Price                      decimal.Decimal `json:"price"`
	Weight                     float64         `json:"weight"`
	EstimatedVolume            decimal.Decimal `json:"estimatedVolume"`
	EstimatedNotional          decimal.Decimal `json:"estimatedNotional"`
	DistanceFromCurrentPercent float64         `json:"distanceFromCurrentPercent"`
}

// Report is the immutable result of one cascade analysis. Built once,
// published, never mutated afterwards.
type Report struct {
	Symbol               string          `json:"symbol"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	UserLiquidationPrice decimal.Decimal `json:"userLiquidationPrice"`
	PositionSide         event.Side      `json:"-"`
	PositionSideName     string          `json:"positionSide"`

	Distance        decimal.Decimal `json:"distance"`
	DistancePercent float64         `json:"distancePercent"`
	Direction       string          `json:"direction"`
	PriceRangeLow   decimal.Decimal `json:"priceRangeLow"`
	PriceRangeHigh  decimal.Decimal `json:"priceRangeHigh"`

	DepthBetween    decimal.Decimal `json:"depthBetween"`
	NotionalBetween decimal.Decimal `json:"notionalBetween"`
	LevelCount      int             `json:"levelCount"`
	DepthRatio      float64         `json:"depthRatio"`

	ClustersInPath     []Cluster       `json:"clustersInPath"`
	OverlappingTiers   int             `json:"overlappingTierCount"`
	EstimatedLiqVolume decimal.Decimal `json:"estimatedLiqVolume"`

	OIPressureScore     int `json:"oiPressureScore"`
	LiqIntensityScore   int `json:"liqIntensityScore"`
	ImbalanceScore      int `json:"imbalanceScore"`
	MarketPressureTotal int `json:"marketPressureTotal"`

	DensityScore            float64      `json:"densityScore"`
	DensityLevel            DensityLevel `json:"densityLevel"`
	CascadeReachProbability float64      `json:"cascadeReachProbability"`
	RiskLevel               RiskLevel    `json:"riskLevel"`

	Timestamp time.Time `json:"timestamp"`
}
