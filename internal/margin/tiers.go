// Package margin implements the tiered maintenance-margin schedule and
// the liquidation price arithmetic built on it. Prices are computed in
// decimal so bracket boundaries and margin rates stay exact; callers at
// the analytics boundary convert to float64.
package margin

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is one maintenance-margin bracket: positions whose notional falls
// at or below MaxNotional (and above the previous tier's) use this tier's
// rate and leverage cap.
type Tier struct {
	Index             int
	MaxNotional       decimal.Decimal
	MaxLeverage       int
	MaintenanceRate   decimal.Decimal
	MaintenanceAmount decimal.Decimal
}

func tier(idx int, maxNotional string, maxLev int, rate, amount string) Tier {
	return Tier{
		Index:             idx,
		MaxNotional:       decimal.RequireFromString(maxNotional),
		MaxLeverage:       maxLev,
		MaintenanceRate:   decimal.RequireFromString(rate),
		MaintenanceAmount: decimal.RequireFromString(amount),
	}
}

var btcusdtTiers = []Tier{
	tier(1, "50000", 125, "0.0040", "0"),
	tier(2, "250000", 100, "0.0050", "50"),
	tier(3, "1000000", 50, "0.0100", "1300"),
	tier(4, "5000000", 20, "0.0250", "16300"),
	tier(5, "10000000", 10, "0.0500", "141300"),
	tier(6, "20000000", 5, "0.1000", "641300"),
	tier(7, "50000000", 4, "0.1250", "1141300"),
	tier(8, "100000000", 3, "0.1500", "2391300"),
	tier(9, "200000000", 2, "0.2500", "12391300"),
	tier(10, "300000000", 1, "0.5000", "62391300"),
}

var ethusdtTiers = []Tier{
	tier(1, "10000", 100, "0.0050", "0"),
	tier(2, "100000", 75, "0.0065", "15"),
	tier(3, "500000", 50, "0.0100", "190"),
	tier(4, "1000000", 25, "0.0200", "5190"),
	tier(5, "2000000", 10, "0.0500", "35190"),
	tier(6, "5000000", 5, "0.1000", "135190"),
	tier(7, "10000000", 3, "0.1250", "260190"),
	tier(8, "20000000", 2, "0.2500", "1510190"),
	tier(9, "40000000", 1, "0.5000", "6510190"),
}

func init() {
	mustBeOrdered("BTCUSDT", btcusdtTiers)
	mustBeOrdered("ETHUSDT", ethusdtTiers)
}

// mustBeOrdered enforces the table invariant: strictly increasing
// notional ceilings, non-decreasing rates.
func mustBeOrdered(symbol string, tiers []Tier) {
	for i := 1; i < len(tiers); i++ {
		if !tiers[i].MaxNotional.GreaterThan(tiers[i-1].MaxNotional) {
			panic(fmt.Sprintf("margin: %s tier %d ceiling not increasing", symbol, tiers[i].Index))
		}
		if tiers[i].MaintenanceRate.LessThan(tiers[i-1].MaintenanceRate) {
			panic(fmt.Sprintf("margin: %s tier %d rate decreasing", symbol, tiers[i].Index))
		}
	}
}

// TiersForSymbol returns the schedule for a symbol. Unknown symbols use
// the BTCUSDT schedule.
func TiersForSymbol(symbol string) []Tier {
	if strings.ToUpper(symbol) == "ETHUSDT" {
		return ethusdtTiers
	}
	return btcusdtTiers
}

// TierLeverages returns the leverage caps of the symbol's schedule above
// 1x, highest first. This is the tier set leverage inference and weight
// normalization run over, so per-symbol distributions cover exactly the
// leverages the schedule can produce.
func TierLeverages(symbol string) []float64 {
	tiers := TiersForSymbol(symbol)
	out := make([]float64, 0, len(tiers))
	for _, t := range tiers {
		if t.MaxLeverage > 1 {
			out = append(out, float64(t.MaxLeverage))
		}
	}
	return out
}

// FindTier returns the bracket for a position notional: the first tier
// whose ceiling is at or above it, or the last tier when the notional
// exceeds every ceiling.
func FindTier(notional decimal.Decimal, symbol string) Tier {
	tiers := TiersForSymbol(symbol)
	for _, t := range tiers {
		if notional.LessThanOrEqual(t.MaxNotional) {
			return t
		}
	}
	return tiers[len(tiers)-1]
}
