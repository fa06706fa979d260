package margin

import (
	"math"

	"github.com/shopspring/decimal"

	"riskengine/internal/event"
)

var one = decimal.NewFromInt(1)

// LongLiquidationPrice returns the price at which a long position opened
// at entryPrice with the given leverage gets force-closed:
// entry x (1 - 1/leverage + mmr). Rounded to 2 decimal places.
func LongLiquidationPrice(entryPrice decimal.Decimal, leverage int, quantity decimal.Decimal, symbol string) decimal.Decimal {
	t := FindTier(entryPrice.Mul(quantity), symbol)
	imr := one.Div(decimal.NewFromInt(int64(leverage)))
	factor := one.Sub(imr).Add(t.MaintenanceRate)
	return entryPrice.Mul(factor).Round(2)
}

// ShortLiquidationPrice is the mirror: entry x (1 + 1/leverage - mmr).
func ShortLiquidationPrice(entryPrice decimal.Decimal, leverage int, quantity decimal.Decimal, symbol string) decimal.Decimal {
	t := FindTier(entryPrice.Mul(quantity), symbol)
	imr := one.Div(decimal.NewFromInt(int64(leverage)))
	factor := one.Add(imr).Sub(t.MaintenanceRate)
	return entryPrice.Mul(factor).Round(2)
}

// LiquidationPrice dispatches on side.
func LiquidationPrice(entryPrice decimal.Decimal, leverage int, quantity decimal.Decimal, symbol string, side event.Side) decimal.Decimal {
	if side == event.SideShort {
		return ShortLiquidationPrice(entryPrice, leverage, quantity, symbol)
	}
	return LongLiquidationPrice(entryPrice, leverage, quantity, symbol)
}

// DistanceRatio returns the theoretical relative distance between entry
// and liquidation price, |liq/entry - 1| = |1/leverage - mmr|, for a
// minimal-notional position at the given mark price. Used to reverse-map
// an observed liquidation print back to a leverage tier.
func DistanceRatio(symbol string, leverage float64, side event.Side, markPrice float64) float64 {
	if leverage <= 0 || markPrice <= 0 {
		return 0
	}
	entry := decimal.NewFromFloat(markPrice)
	// Quantity of one unit keeps the notional in the tightest bracket
	// for realistic mark prices.
	liq := LiquidationPrice(entry, int(leverage), one, symbol, side)
	ratio, _ := liq.Div(entry).Sub(one).Abs().Float64()
	return ratio
}

// EstimatedLiquidation is one row of the per-tier liquidation-price
// distribution at the current mark price.
type EstimatedLiquidation struct {
	Leverage          int
	LongLiqPrice      decimal.Decimal
	ShortLiqPrice     decimal.Decimal
	Weight            float64
	EstimatedVolume   decimal.Decimal
	EstimatedNotional decimal.Decimal
	Tier              Tier
}

// EstimateDistribution computes, for every leverage bracket in the
// symbol's schedule, the theoretical long and short liquidation prices at
// the current price, weighted by the estimated leverage distribution and
// scaled by total open interest (zero volume when totalOI <= 0).
func EstimateDistribution(currentPrice decimal.Decimal, symbol string, weights map[float64]float64, totalOI float64) []EstimatedLiquidation {
	tiers := TiersForSymbol(symbol)
	out := make([]EstimatedLiquidation, 0, len(tiers))
	for _, t := range tiers {
		lev := t.MaxLeverage
		if lev <= 1 {
			continue
		}
		imr := one.Div(decimal.NewFromInt(int64(lev)))
		longLiq := currentPrice.Mul(one.Sub(imr).Add(t.MaintenanceRate)).Round(2)
		shortLiq := currentPrice.Mul(one.Add(imr).Sub(t.MaintenanceRate)).Round(2)

		weight := weights[float64(lev)]
		est := EstimatedLiquidation{
			Leverage:      lev,
			LongLiqPrice:  longLiq,
			ShortLiqPrice: shortLiq,
			Weight:        weight,
			Tier:          t,
		}
		if totalOI > 0 && weight > 0 && !math.IsNaN(weight) {
			est.EstimatedVolume = decimal.NewFromFloat(totalOI * weight).Round(8)
			est.EstimatedNotional = est.EstimatedVolume.Mul(currentPrice).Round(2)
		}
		out = append(out, est)
	}
	return out
}
