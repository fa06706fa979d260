package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JournalWriter writes market data journals and risk reports to Postgres
// using multi-row INSERT. Writes are idempotent: conflicting rows are
// skipped so feed redelivery never duplicates history.
type JournalWriter struct {
	db *sql.DB
}

// LiquidationRow is a row in risk.liquidation_events.
type LiquidationRow struct {
	Symbol      string
	Side        string
	Price       float64
	AvgPrice    float64
	Quantity    float64
	Notional    float64
	OrderStatus string
	EventTime   time.Time
}

// OrderBookRow is a row in risk.orderbook_snapshots. Levels holds the full
// bid/ask ladder as JSON.
type OrderBookRow struct {
	Symbol    string
	BestBid   float64
	BestAsk   float64
	Spread    float64
	BidQty    float64
	AskQty    float64
	Levels    []byte
	EventTime time.Time
}

// ReportRow is a row in risk.reports. Kind is "cascade" or "montecarlo";
// Payload holds the serialized report. ReportID is the uuid minted at
// broadcast time and doubles as the redelivery dedupe key.
type ReportRow struct {
	ReportID  string
	Symbol    string
	Kind      string
	RiskLevel string
	Score     float64
	Payload   []byte
	CreatedAt time.Time
}

func NewJournalWriter(db *sql.DB) *JournalWriter {
	return &JournalWriter{db: db}
}

// WriteLiquidationBatch inserts forced-order prints.
func (w *JournalWriter) WriteLiquidationBatch(ctx context.Context, rows []LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO risk.liquidation_events
		(symbol, side, price, avg_price, quantity, notional, order_status, event_time)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)
	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Symbol, r.Side, r.Price, r.AvgPrice,
			r.Quantity, r.Notional, r.OrderStatus, r.EventTime,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (symbol, event_time, order_status) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// WriteOrderBookBatch inserts depth snapshots.
func (w *JournalWriter) WriteOrderBookBatch(ctx context.Context, rows []OrderBookRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO risk.orderbook_snapshots
		(symbol, best_bid, best_ask, spread, bid_qty, ask_qty, levels, event_time)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)
	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Symbol, r.BestBid, r.BestAsk, r.Spread,
			r.BidQty, r.AskQty, r.Levels, r.EventTime,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (symbol, event_time) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// WriteReportBatch inserts computed risk reports.
func (w *JournalWriter) WriteReportBatch(ctx context.Context, rows []ReportRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO risk.reports
		(report_id, symbol, kind, risk_level, score, payload, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)
	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args, r.ReportID, r.Symbol, r.Kind, r.RiskLevel, r.Score, r.Payload, r.CreatedAt)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (report_id) DO NOTHING`

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// MarshalReport serializes a report payload for storage.
func MarshalReport(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
