package state

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"riskengine/internal/event"
)

// DefaultTickCapacity holds one day of 1s ticks. Must be a power of two
// so ring arithmetic is a mask.
const DefaultTickCapacity = 86400 // rounded up to 131072 internally

// PriceHistoryBuffer stores a bounded tick series per symbol: a
// fixed-capacity circular buffer overwriting oldest on overflow, with
// range queries by binary search over the monotonic timestamps.
type PriceHistoryBuffer struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*tickSeries
}

type tickSeries struct {
	mu    sync.RWMutex
	ticks []event.PriceTick
	mask  int
	start int
	count int
}

// NewPriceHistoryBuffer sizes each symbol's ring to at least capacity,
// rounded up to a power of two.
func NewPriceHistoryBuffer(capacity int) *PriceHistoryBuffer {
	if capacity <= 0 {
		capacity = DefaultTickCapacity
	}
	return &PriceHistoryBuffer{capacity: nextPow2(capacity), series: make(map[string]*tickSeries)}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Append records a tick. Invalid ticks and ticks not strictly after the
// newest stored tick are rejected.
func (b *PriceHistoryBuffer) Append(symbol string, tick event.PriceTick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	s := b.seriesFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		last := s.at(s.count - 1)
		if !tick.Timestamp.After(last.Timestamp) {
			return fmt.Errorf("price history %s: non-monotonic tick %v <= %v",
				symbol, tick.Timestamp, last.Timestamp)
		}
	}
	if s.count < len(s.ticks) {
		s.ticks[(s.start+s.count)&s.mask] = tick
		s.count++
	} else {
		s.ticks[s.start] = tick
		s.start = (s.start + 1) & s.mask
	}
	return nil
}

func (b *PriceHistoryBuffer) seriesFor(symbol string) *tickSeries {
	key := strings.ToUpper(symbol)
	b.mu.RLock()
	s, ok := b.series[key]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.series[key]; ok {
		return s
	}
	s = &tickSeries{ticks: make([]event.PriceTick, b.capacity), mask: b.capacity - 1}
	b.series[key] = s
	return s
}

// at returns the tick at logical index i (0 = oldest). Caller holds the
// series lock.
func (s *tickSeries) at(i int) event.PriceTick {
	return s.ticks[(s.start+i)&s.mask]
}

// Window returns ticks for the symbol within the trailing duration,
// oldest first.
func (b *PriceHistoryBuffer) Window(symbol string, window time.Duration) []event.PriceTick {
	now := time.Now()
	return b.Range(symbol, now.Add(-window), now)
}

// Range returns ticks with from <= timestamp <= to, oldest first.
func (b *PriceHistoryBuffer) Range(symbol string, from, to time.Time) []event.PriceTick {
	s := b.seriesFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 || to.Before(from) {
		return nil
	}
	lo := sort.Search(s.count, func(i int) bool {
		return !s.at(i).Timestamp.Before(from)
	})
	out := make([]event.PriceTick, 0, s.count-lo)
	for i := lo; i < s.count; i++ {
		t := s.at(i)
		if t.Timestamp.After(to) {
			break
		}
		out = append(out, t)
	}
	return out
}

// Prices returns just the prices of the trailing window, oldest first.
func (b *PriceHistoryBuffer) Prices(symbol string, window time.Duration) []float64 {
	ticks := b.Window(symbol, window)
	out := make([]float64, len(ticks))
	for i, t := range ticks {
		out[i] = t.Price
	}
	return out
}

// Last returns the newest tick for the symbol.
func (b *PriceHistoryBuffer) Last(symbol string) (event.PriceTick, bool) {
	s := b.seriesFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return event.PriceTick{}, false
	}
	return s.at(s.count - 1), true
}

// MinMax returns the lowest and highest price in [from, to].
func (b *PriceHistoryBuffer) MinMax(symbol string, from, to time.Time) (min, max float64, ok bool) {
	ticks := b.Range(symbol, from, to)
	if len(ticks) == 0 {
		return 0, 0, false
	}
	min, max = ticks[0].Price, ticks[0].Price
	for _, t := range ticks[1:] {
		if t.Price < min {
			min = t.Price
		}
		if t.Price > max {
			max = t.Price
		}
	}
	return min, max, true
}

// Len returns the number of stored ticks for a symbol.
func (b *PriceHistoryBuffer) Len(symbol string) int {
	s := b.seriesFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
