package state

import (
	"strings"
	"sync"
	"time"

	"riskengine/internal/event"
)

// maxLiquidationsPerSymbol bounds the recent-liquidation ring. Oldest
// prints are evicted on overflow.
const maxLiquidationsPerSymbol = 500

// RiskStateManager holds the per-symbol market state the cascade
// calculator reads: latest order book, latest open interest and a bounded
// ring of recent forced-liquidation prints. Mutated by the cache-update
// stage, read concurrently by risk calculation; each concern carries its
// own lock so book updates never contend with liquidation recording.
type RiskStateManager struct {
	bookMu sync.RWMutex
	books  map[string]*event.OrderBookSnapshot

	oiMu sync.RWMutex
	oi   map[string]*event.OpenInterestSnapshot

	liqMu sync.RWMutex
	liqs  map[string]*liquidationRing
}

func NewRiskStateManager() *RiskStateManager {
	return &RiskStateManager{
		books: make(map[string]*event.OrderBookSnapshot),
		oi:    make(map[string]*event.OpenInterestSnapshot),
		liqs:  make(map[string]*liquidationRing),
	}
}

// UpdateOrderBook replaces the symbol's book snapshot wholesale.
func (m *RiskStateManager) UpdateOrderBook(snap *event.OrderBookSnapshot) {
	if snap == nil {
		return
	}
	key := strings.ToUpper(snap.Symbol)
	m.bookMu.Lock()
	m.books[key] = snap
	m.bookMu.Unlock()
}

// OrderBook returns the latest book snapshot for a symbol.
func (m *RiskStateManager) OrderBook(symbol string) (*event.OrderBookSnapshot, bool) {
	m.bookMu.RLock()
	defer m.bookMu.RUnlock()
	s, ok := m.books[strings.ToUpper(symbol)]
	return s, ok
}

// UpdateOpenInterest replaces the symbol's open interest snapshot.
func (m *RiskStateManager) UpdateOpenInterest(snap *event.OpenInterestSnapshot) {
	if snap == nil {
		return
	}
	key := strings.ToUpper(snap.Symbol)
	m.oiMu.Lock()
	m.oi[key] = snap
	m.oiMu.Unlock()
}

// OpenInterest returns the latest open interest snapshot for a symbol.
func (m *RiskStateManager) OpenInterest(symbol string) (*event.OpenInterestSnapshot, bool) {
	m.oiMu.RLock()
	defer m.oiMu.RUnlock()
	s, ok := m.oi[strings.ToUpper(symbol)]
	return s, ok
}

// RecordLiquidation appends a forced-order print to the symbol's bounded
// ring.
func (m *RiskStateManager) RecordLiquidation(ev *event.LiquidationEvent) {
	if ev == nil {
		return
	}
	key := strings.ToUpper(ev.Symbol)
	m.liqMu.Lock()
	ring, ok := m.liqs[key]
	if !ok {
		ring = newLiquidationRing(maxLiquidationsPerSymbol)
		m.liqs[key] = ring
	}
	ring.add(ev)
	m.liqMu.Unlock()
}

// RecentLiquidations returns prints for the symbol not older than window,
// newest last.
func (m *RiskStateManager) RecentLiquidations(symbol string, window time.Duration) []*event.LiquidationEvent {
	cutoff := time.Now().Add(-window)
	m.liqMu.RLock()
	defer m.liqMu.RUnlock()
	ring, ok := m.liqs[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	return ring.since(cutoff)
}

// liquidationRing is a fixed-capacity FIFO of liquidation prints.
type liquidationRing struct {
	buf   []*event.LiquidationEvent
	start int
	count int
}

func newLiquidationRing(capacity int) *liquidationRing {
	return &liquidationRing{buf: make([]*event.LiquidationEvent, capacity)}
}

func (r *liquidationRing) add(ev *event.LiquidationEvent) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = ev
		r.count++
		return
	}
	// Full: overwrite oldest.
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *liquidationRing) since(cutoff time.Time) []*event.LiquidationEvent {
	var out []*event.LiquidationEvent
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}
