package query

import (
	"time"

	"riskengine/internal/cascade"
	"riskengine/internal/montecarlo"
)

// RiskSummaryResponse bundles the latest reports for one symbol.
type RiskSummaryResponse struct {
	Symbol     string             `json:"symbol"`
	Cascade    *cascade.Report    `json:"cascade,omitempty"`
	MonteCarlo *montecarlo.Report `json:"monteCarlo,omitempty"`
	AsOf       time.Time          `json:"asOf"`
}

// LeverageBucket is one tier of the estimated leverage distribution.
type LeverageBucket struct {
	Leverage float64 `json:"leverage"`
	Weight   float64 `json:"weight"`
}

// LeverageDistributionResponse is the per-symbol leverage estimate.
type LeverageDistributionResponse struct {
	Symbol  string           `json:"symbol"`
	Buckets []LeverageBucket `json:"buckets"`
	AsOf    time.Time        `json:"asOf"`
}

// PositionResponse describes a registered position.
type PositionResponse struct {
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"`
	Leverage         float64   `json:"leverage"`
	LiquidationPrice float64   `json:"liquidationPrice"`
	MarkPrice        float64   `json:"markPrice,omitempty"`
	DistancePercent  float64   `json:"distancePercent,omitempty"`
	RegisteredAt     time.Time `json:"registeredAt"`
}

// LiquidationHistoryEntry is one persisted forced-order print.
type LiquidationHistoryEntry struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Notional    float64   `json:"notional"`
	OrderStatus string    `json:"orderStatus"`
	EventTime   time.Time `json:"eventTime"`
}

// ReportHistoryEntry is one persisted risk report.
type ReportHistoryEntry struct {
	Symbol    string    `json:"symbol"`
	Kind      string    `json:"kind"`
	RiskLevel string    `json:"riskLevel"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}
