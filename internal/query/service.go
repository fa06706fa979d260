package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/cascade"
	"riskengine/internal/event"
	"riskengine/internal/margin"
	"riskengine/internal/montecarlo"
	"riskengine/internal/state"
)

// ReportSource is the pipeline's view of the latest computed reports.
type ReportSource interface {
	CascadeReport(symbol string) (*cascade.Report, bool)
	MonteCarloReport(symbol string) (*montecarlo.Report, bool)
	Simulate(symbol string) (*montecarlo.Report, error)
}

// Service answers read queries from the in-memory caches, falling back to
// Postgres only for history endpoints. db may be nil when persistence is
// disabled; history queries then fail with ErrHistoryUnavailable.
type Service struct {
	reports    ReportSource
	simulator  *montecarlo.Service
	positions  *state.PositionRegistry
	markPrices *state.MarkPriceCache
	leverage   *state.LeverageEstimator
	db         *sql.DB
}

// ErrHistoryUnavailable is returned when a history endpoint is hit
// without a configured database.
var ErrHistoryUnavailable = fmt.Errorf("history queries require postgres")

func NewService(
	reports ReportSource,
	simulator *montecarlo.Service,
	positions *state.PositionRegistry,
	markPrices *state.MarkPriceCache,
	leverage *state.LeverageEstimator,
	db *sql.DB,
) *Service {
	return &Service{
		reports:    reports,
		simulator:  simulator,
		positions:  positions,
		markPrices: markPrices,
		leverage:   leverage,
		db:         db,
	}
}

// RiskSummary returns the latest cascade and Monte Carlo reports.
func (s *Service) RiskSummary(symbol string) (*RiskSummaryResponse, error) {
	symbol = strings.ToUpper(symbol)
	resp := &RiskSummaryResponse{Symbol: symbol, AsOf: time.Now()}
	if r, ok := s.reports.CascadeReport(symbol); ok {
		resp.Cascade = r
	}
	if r, ok := s.reports.MonteCarloReport(symbol); ok {
		resp.MonteCarlo = r
	}
	if resp.Cascade == nil && resp.MonteCarlo == nil {
		return nil, fmt.Errorf("no reports for %s", symbol)
	}
	return resp, nil
}

// MonteCarlo returns the cached simulation, or runs one on demand when
// refresh is set.
func (s *Service) MonteCarlo(symbol string, refresh bool) (*montecarlo.Report, error) {
	symbol = strings.ToUpper(symbol)
	if refresh {
		return s.reports.Simulate(symbol)
	}
	if r, ok := s.reports.MonteCarloReport(symbol); ok {
		return r, nil
	}
	return s.reports.Simulate(symbol)
}

// Volatility returns the multi-window sigma estimate.
func (s *Service) Volatility(symbol string) montecarlo.VolatilitySnapshot {
	return s.simulator.VolatilitySnapshot(strings.ToUpper(symbol))
}

// LeverageDistribution returns the estimated market leverage mix, highest
// tier first.
func (s *Service) LeverageDistribution(symbol string) *LeverageDistributionResponse {
	symbol = strings.ToUpper(symbol)
	dist := s.leverage.Distribution(symbol, time.Now())

	buckets := make([]LeverageBucket, 0, len(dist))
	for lev, weight := range dist {
		buckets = append(buckets, LeverageBucket{Leverage: lev, Weight: weight})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Leverage > buckets[j].Leverage })

	return &LeverageDistributionResponse{
		Symbol:  symbol,
		Buckets: buckets,
		AsOf:    time.Now(),
	}
}

// Positions lists registered positions with their live distance to
// liquidation.
func (s *Service) Positions() []PositionResponse {
	positions := s.positions.List()
	out := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		resp := PositionResponse{
			Symbol:           p.Symbol,
			Side:             p.Side.String(),
			Leverage:         p.Leverage,
			LiquidationPrice: p.LiquidationPrice,
			RegisteredAt:     p.RegisteredAt,
		}
		if price, ok := s.markPrices.Get(p.Symbol); ok && price > 0 {
			resp.MarkPrice = price
			dist := price - p.LiquidationPrice
			if p.Side == event.SideShort {
				dist = p.LiquidationPrice - price
			}
			resp.DistancePercent = dist / price * 100
		}
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RegisterPosition validates and registers a position, deriving the
// liquidation price from the margin tier tables when it is not supplied.
func (s *Service) RegisterPosition(symbol, side string, entryPrice, quantity, leverage, liquidationPrice float64) (*PositionResponse, error) {
	symbol = strings.ToUpper(symbol)
	posSide := event.ParseSide(strings.ToUpper(side))
	if posSide == event.SideUnknown {
		return nil, fmt.Errorf("invalid side %q", side)
	}
	if leverage < 1 {
		return nil, fmt.Errorf("leverage must be >= 1, got %v", leverage)
	}

	if liquidationPrice <= 0 {
		if entryPrice <= 0 || quantity <= 0 {
			return nil, fmt.Errorf("entry price and quantity required to derive liquidation price")
		}
		lp := margin.LiquidationPrice(
			decimal.NewFromFloat(entryPrice), int(leverage),
			decimal.NewFromFloat(quantity), symbol, posSide)
		if lp.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("derived liquidation price is not positive for %s", symbol)
		}
		liquidationPrice = lp.InexactFloat64()
	}

	p := state.Position{
		Symbol:           symbol,
		LiquidationPrice: liquidationPrice,
		Side:             posSide,
		Leverage:         leverage,
		RegisteredAt:     time.Now(),
	}
	s.positions.Register(p)

	return &PositionResponse{
		Symbol:           p.Symbol,
		Side:             p.Side.String(),
		Leverage:         p.Leverage,
		LiquidationPrice: p.LiquidationPrice,
		RegisteredAt:     p.RegisteredAt,
	}, nil
}

// UnregisterPosition removes a symbol's position.
func (s *Service) UnregisterPosition(symbol string) {
	s.positions.Unregister(strings.ToUpper(symbol))
}

// LiquidationHistory reads persisted forced-order prints, newest first.
func (s *Service) LiquidationHistory(ctx context.Context, symbol string, limit int) ([]LiquidationHistoryEntry, error) {
	if s.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, price, quantity, notional, order_status, event_time
		FROM risk.liquidation_events
		WHERE symbol = $1
		ORDER BY event_time DESC
		LIMIT $2`, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("query liquidation history: %w", err)
	}
	defer rows.Close()

	var out []LiquidationHistoryEntry
	for rows.Next() {
		var e LiquidationHistoryEntry
		if err := rows.Scan(&e.Symbol, &e.Side, &e.Price, &e.Quantity, &e.Notional, &e.OrderStatus, &e.EventTime); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReportHistory reads persisted risk reports, newest first.
func (s *Service) ReportHistory(ctx context.Context, symbol, kind string, limit int) ([]ReportHistoryEntry, error) {
	if s.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if kind == "" {
		kind = "cascade"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, kind, risk_level, score, created_at
		FROM risk.reports
		WHERE symbol = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT $3`, strings.ToUpper(symbol), kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query report history: %w", err)
	}
	defer rows.Close()

	var out []ReportHistoryEntry
	for rows.Next() {
		var e ReportHistoryEntry
		if err := rows.Scan(&e.Symbol, &e.Kind, &e.RiskLevel, &e.Score, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
