// Package cascade implements the deterministic multi-factor liquidation
// risk score: price distance, order-book density along the path,
// theoretical liquidation clusters, market pressure, and their synthesis
// into a risk level and reach probability.
package cascade

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"riskengine/internal/event"
	"riskengine/internal/margin"
	"riskengine/internal/mathx"
	"riskengine/internal/state"
)

// Config tunes the calculator. Weights apply to the five density
// sub-scores; the synthesis weights combine density with normalized
// market pressure; the floors force a minimum risk level at extreme
// proximity regardless of every other factor.
type Config struct {
	ThrottleInterval time.Duration
	RecentLiqWindow  time.Duration

	DistanceWeight float64
	DepthWeight    float64
	LevelWeight    float64
	ClusterWeight  float64
	NotionalWeight float64

	DensityWeight  float64
	PressureWeight float64

	ProximityThresholdPct float64

	CriticalDistancePct float64
	HighDistancePct     float64
	MediumDistancePct   float64
}

func DefaultConfig() Config {
	return Config{
		ThrottleInterval:      200 * time.Millisecond,
		RecentLiqWindow:       30 * time.Minute,
		DistanceWeight:        0.40,
		DepthWeight:           0.20,
		LevelWeight:           0.15,
		ClusterWeight:         0.15,
		NotionalWeight:        0.10,
		DensityWeight:         0.6,
		PressureWeight:        0.4,
		ProximityThresholdPct: 10.0,
		CriticalDistancePct:   1.0,
		HighDistancePct:       2.0,
		MediumDistancePct:     5.0,
	}
}

// Calculator computes cascade risk reports. Stateless between calls given
// its collaborators; safe for concurrent use.
type Calculator struct {
	cfg      Config
	state    *state.RiskStateManager
	leverage *state.LeverageEstimator
	log      zerolog.Logger
}

func NewCalculator(cfg Config, st *state.RiskStateManager, lev *state.LeverageEstimator, log zerolog.Logger) *Calculator {
	return &Calculator{cfg: cfg, state: st, leverage: lev, log: log}
}

// Analyze runs the full pipeline for one position at the current mark
// price. The density, cluster and pressure sub-analyses read disjoint
// inputs and run concurrently; synthesis joins them.
func (c *Calculator) Analyze(currentPrice float64, pos state.Position) *Report {
	r := c.analyzeDistance(currentPrice, pos)

	book, _ := c.state.OrderBook(pos.Symbol)
	oi, hasOI := c.state.OpenInterest(pos.Symbol)
	recent := c.state.RecentLiquidations(pos.Symbol, c.cfg.RecentLiqWindow)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.analyzeBookDensity(r, book)
	}()
	go func() {
		defer wg.Done()
		totalOI := 0.0
		if hasOI {
			totalOI = oi.OpenInterest
		}
		c.mapClusters(r, totalOI)
	}()
	go func() {
		defer wg.Done()
		c.analyzePressure(r, oi, hasOI, recent, book)
	}()
	wg.Wait()

	c.synthesize(r)
	return r
}

func (c *Calculator) analyzeDistance(currentPrice float64, pos state.Position) *Report {
	cur := decimal.NewFromFloat(currentPrice)
	liq := decimal.NewFromFloat(pos.LiquidationPrice)
	distance := cur.Sub(liq).Abs()
	distPct := math.Abs(currentPrice-pos.LiquidationPrice) / currentPrice * 100

	direction := "UNKNOWN"
	switch pos.Side {
	case event.SideLong:
		direction = "DOWN"
	case event.SideShort:
		direction = "UP"
	}

	low, high := cur, liq
	if liq.LessThan(cur) {
		low, high = liq, cur
	}

	return &Report{
		Symbol:               strings.ToUpper(pos.Symbol),
		CurrentPrice:         cur,
		UserLiquidationPrice: liq,
		PositionSide:         pos.Side,
		PositionSideName:     pos.Side.String(),
		Distance:             distance,
		DistancePercent:      distPct,
		Direction:            direction,
		PriceRangeLow:        low,
		PriceRangeHigh:       high,
		Timestamp:            time.Now(),
	}
}

// analyzeBookDensity sums quantity and notional of the book levels lying
// inside the path to liquidation, on the side a forced close would sweep.
func (c *Calculator) analyzeBookDensity(r *Report, book *event.OrderBookSnapshot) {
	if book == nil {
		return
	}
	low, _ := r.PriceRangeLow.Float64()
	high, _ := r.PriceRangeHigh.Float64()

	var depth, notional float64
	levels := 0
	for _, l := range book.SideLevels(r.PositionSide) {
		if l.Price >= low && l.Price <= high {
			depth += l.Quantity
			notional += l.Notional()
			levels++
		}
	}

	ratio := 0.0
	if total := book.SideQty(r.PositionSide); total > 0 {
		ratio = depth / total * 100
	}

	r.DepthBetween = decimal.NewFromFloat(depth)
	r.NotionalBetween = decimal.NewFromFloat(notional).Round(2)
	r.LevelCount = levels
	r.DepthRatio = ratio
}

// mapClusters marks every leverage tier whose theoretical liquidation
// price sits inside the path, with its share of open interest.
func (c *Calculator) mapClusters(r *Report, totalOI float64) {
	weights := c.leverage.Distribution(r.Symbol, time.Now())
	dist := margin.EstimateDistribution(r.CurrentPrice, r.Symbol, weights, totalOI)

	cur, _ := r.CurrentPrice.Float64()
	low, _ := r.PriceRangeLow.Float64()
	high, _ := r.PriceRangeHigh.Float64()

	volume := decimal.Zero
	var clusters []Cluster
	for _, est := range dist {
		price := est.LongLiqPrice
		if r.PositionSide == event.SideShort {
			price = est.ShortLiqPrice
		}
		p, _ := price.Float64()
		if p < low || p > high {
			continue
		}
		clusters = append(clusters, Cluster{
			Leverage:                   est.Leverage,
			Price:                      price,
			Weight:                     est.Weight,
			EstimatedVolume:            est.EstimatedVolume,
			EstimatedNotional:          est.EstimatedNotional,
			DistanceFromCurrentPercent: math.Abs(cur-p) / cur * 100,
		})
		volume = volume.Add(est.EstimatedVolume)
	}

	r.ClustersInPath = clusters
	r.OverlappingTiers = len(clusters)
	r.EstimatedLiqVolume = volume.Round(4)
}

func (c *Calculator) analyzePressure(r *Report, oi *event.OpenInterestSnapshot, hasOI bool, recent []*event.LiquidationEvent, book *event.OrderBookSnapshot) {
	r.OIPressureScore = scoreOIPressure(oi, hasOI)
	r.LiqIntensityScore = scoreLiqIntensity(recent)
	r.ImbalanceScore = scoreImbalance(book)
	r.MarketPressureTotal = r.OIPressureScore + r.LiqIntensityScore + r.ImbalanceScore
}

func scoreOIPressure(oi *event.OpenInterestSnapshot, hasOI bool) int {
	if !hasOI {
		return 5
	}
	change := math.Abs(oi.ChangePercent)
	switch {
	case change >= 5.0:
		return 20
	case change >= 3.0:
		return 16
	case change >= 2.0:
		return 12
	case change >= 1.0:
		return 8
	case change >= 0.5:
		return 4
	default:
		return 0
	}
}

func scoreLiqIntensity(recent []*event.LiquidationEvent) int {
	if len(recent) == 0 {
		return 0
	}
	count := len(recent)
	var totalNotional float64
	for _, l := range recent {
		totalNotional += l.Notional()
	}

	var countScore int
	switch {
	case count >= 50:
		countScore = 10
	case count >= 30:
		countScore = 8
	case count >= 15:
		countScore = 6
	case count >= 5:
		countScore = 3
	default:
		countScore = 1
	}

	notionalM := totalNotional / 1e6
	var notionalScore int
	switch {
	case notionalM >= 50:
		notionalScore = 10
	case notionalM >= 20:
		notionalScore = 8
	case notionalM >= 10:
		notionalScore = 6
	case notionalM >= 5:
		notionalScore = 4
	case notionalM >= 1:
		notionalScore = 2
	}

	if s := countScore + notionalScore; s < 20 {
		return s
	}
	return 20
}

func scoreImbalance(book *event.OrderBookSnapshot) int {
	if book == nil {
		return 5
	}
	total := book.TotalBidQty + book.TotalAskQty
	if total == 0 {
		return 10
	}
	imbalance := math.Abs(book.TotalBidQty/total-0.5) * 2
	switch {
	case imbalance >= 0.7:
		return 20
	case imbalance >= 0.5:
		return 15
	case imbalance >= 0.3:
		return 10
	case imbalance >= 0.15:
		return 5
	default:
		return 0
	}
}

// synthesize folds the sub-scores into the density score, reach
// probability and final risk level.
func (c *Calculator) synthesize(r *Report) {
	density := c.densityScore(r)
	reach := c.reachProbability(r)

	combined := density*c.cfg.DensityWeight +
		float64(r.MarketPressureTotal)*(100.0/60.0)*c.cfg.PressureWeight
	combined = mathx.Clamp(combined, 0, 100)

	level := MaxRiskLevel(RiskLevelFromScore(combined), c.distanceFloor(r.DistancePercent))

	r.DensityScore = math.Round(density*10) / 10
	r.DensityLevel = DensityLevelFromScore(density)
	r.CascadeReachProbability = math.Round(reach*10) / 10
	r.RiskLevel = level

	c.log.Debug().
		Str("symbol", r.Symbol).
		Float64("density_score", r.DensityScore).
		Float64("reach_prob", r.CascadeReachProbability).
		Str("risk_level", string(r.RiskLevel)).
		Msg("cascade synthesized")
}

// densityScore blends the five sub-scores. The proximity factor fades the
// non-distance sub-scores toward their calmest value as distance grows
// past the threshold, so a thin book far from liquidation cannot inflate
// the score, and lets them count fully near liquidation where the
// distance floor already guarantees severity.
func (c *Calculator) densityScore(r *Report) float64 {
	proximity := mathx.Clamp(1-r.DistancePercent/c.cfg.ProximityThresholdPct, 0, 1)
	blend := func(score, calm float64) float64 {
		return proximity*score + (1-proximity)*calm
	}
	return scoreDistance(r.DistancePercent)*c.cfg.DistanceWeight +
		blend(scoreDepthRatio(r.DepthRatio), 5)*c.cfg.DepthWeight +
		blend(scoreLevelCount(r.LevelCount), 10)*c.cfg.LevelWeight +
		blend(scoreClusterOverlap(r.OverlappingTiers), 0)*c.cfg.ClusterWeight +
		blend(scoreNotional(r.NotionalBetween), 5)*c.cfg.NotionalWeight
}

func (c *Calculator) distanceFloor(distPct float64) RiskLevel {
	switch {
	case distPct <= c.cfg.CriticalDistancePct:
		return RiskCritical
	case distPct <= c.cfg.HighDistancePct:
		return RiskHigh
	case distPct <= c.cfg.MediumDistancePct:
		return RiskMedium
	default:
		return RiskLow
	}
}

func scoreDistance(distPct float64) float64 {
	switch {
	case distPct <= 1:
		return 100
	case distPct <= 2:
		return 85
	case distPct <= 3:
		return 70
	case distPct <= 5:
		return 50
	case distPct <= 8:
		return 30
	case distPct <= 15:
		return 15
	default:
		return 5
	}
}

func scoreDepthRatio(ratio float64) float64 {
	switch {
	case ratio < 3:
		return 100
	case ratio < 8:
		return 80
	case ratio < 15:
		return 60
	case ratio < 30:
		return 40
	case ratio < 50:
		return 20
	default:
		return 5
	}
}

func scoreLevelCount(levels int) float64 {
	switch {
	case levels <= 1:
		return 100
	case levels <= 3:
		return 75
	case levels <= 5:
		return 50
	case levels <= 10:
		return 30
	default:
		return 10
	}
}

func scoreClusterOverlap(tiers int) float64 {
	switch {
	case tiers >= 5:
		return 100
	case tiers >= 3:
		return 75
	case tiers >= 2:
		return 50
	case tiers >= 1:
		return 30
	default:
		return 0
	}
}

func scoreNotional(notional decimal.Decimal) float64 {
	million, _ := notional.Float64()
	million /= 1e6
	switch {
	case million < 0.5:
		return 100
	case million < 2:
		return 75
	case million < 5:
		return 50
	case million < 20:
		return 25
	default:
		return 5
	}
}

// reachProbability is the deterministic estimate that price traverses the
// path to the user's liquidation level: near distance, a thin path and
// overlapping clusters raise it, market pressure boosts it.
func (c *Calculator) reachProbability(r *Report) float64 {
	distFactor := math.Max(0, 100-r.DistancePercent*15)
	depthFactor := math.Max(0, 100-r.DepthRatio*3)
	clusterFactor := math.Min(100, float64(r.OverlappingTiers)*25)
	pressureBoost := float64(r.MarketPressureTotal) * (100.0 / 60.0) * 0.15

	prob := distFactor*0.40 + depthFactor*0.35 + clusterFactor*0.25 + pressureBoost
	return mathx.Clamp(prob, 0, 100)
}
