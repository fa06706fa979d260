package state

import (
	"strings"
	"sync"
	"time"

	"riskengine/internal/event"
)

// Position is a monitored position: the engine computes risk against its
// liquidation price. One position per symbol; re-registration replaces.
type Position struct {
	Symbol           string
	LiquidationPrice float64
	Side             event.Side
	Leverage         float64
	RegisteredAt     time.Time
}

// PositionRegistry is the set of positions under risk monitoring.
// Register and Unregister are idempotent; lookups on unknown symbols
// report absence, never error.
type PositionRegistry struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewPositionRegistry() *PositionRegistry {
	return &PositionRegistry{positions: make(map[string]Position)}
}

// Register adds or replaces the monitored position for a symbol.
func (r *PositionRegistry) Register(p Position) {
	key := strings.ToUpper(p.Symbol)
	p.Symbol = key
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now()
	}
	r.mu.Lock()
	r.positions[key] = p
	r.mu.Unlock()
}

// Unregister removes a symbol's position. Removing an absent symbol is a
// no-op.
func (r *PositionRegistry) Unregister(symbol string) {
	r.mu.Lock()
	delete(r.positions, strings.ToUpper(symbol))
	r.mu.Unlock()
}

// Get returns the monitored position for a symbol.
func (r *PositionRegistry) Get(symbol string) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[strings.ToUpper(symbol)]
	return p, ok
}

// List returns all monitored positions.
func (r *PositionRegistry) List() []Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return out
}
