package feed

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"riskengine/internal/event"
)

// OIPoller polls open interest per symbol on a fixed delay and publishes
// snapshots with the change versus the previous poll.
type OIPoller struct {
	rest      *RESTClient
	publisher Publisher
	symbols   []string
	interval  time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	previous map[string]float64
}

func NewOIPoller(rest *RESTClient, publisher Publisher, cfg Config, log zerolog.Logger) *OIPoller {
	return &OIPoller{
		rest:      rest,
		publisher: publisher,
		symbols:   cfg.Symbols,
		interval:  cfg.OpenInterestInterval,
		log:       log.With().Str("component", "oi_poller").Logger(),
		previous:  make(map[string]float64),
	}
}

// Run polls until ctx is cancelled. The delay restarts after each round so
// slow responses never stack polls.
func (p *OIPoller) Run(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			p.pollOnce(ctx)
			timer.Reset(p.interval)
		}
	}
}

func (p *OIPoller) pollOnce(ctx context.Context) {
	if p.publisher.Backpressured() {
		p.log.Debug().Msg("ingest ring backpressured, skipping poll round")
		return
	}
	for _, symbol := range p.symbols {
		resp, err := p.rest.OpenInterest(ctx, symbol)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn().Err(err).Str("symbol", symbol).Msg("open interest poll failed")
			}
			continue
		}
		oi, err := strconv.ParseFloat(resp.OpenInterest, 64)
		if err != nil {
			p.log.Warn().Str("symbol", symbol).Str("value", resp.OpenInterest).Msg("unparseable open interest")
			continue
		}
		p.publish(strings.ToUpper(symbol), oi)
	}
}

func (p *OIPoller) publish(symbol string, oi float64) {
	p.mu.Lock()
	prev, seen := p.previous[symbol]
	p.previous[symbol] = oi
	p.mu.Unlock()

	snap := &event.OpenInterestSnapshot{
		Symbol:       symbol,
		OpenInterest: oi,
		Timestamp:    time.Now(),
	}
	if seen && prev > 0 {
		snap.PreviousOI = prev
		snap.Change = oi - prev
		snap.ChangePercent = snap.Change / prev * 100
	}
	if !p.publisher.PublishOpenInterest(snap) {
		p.log.Debug().Str("symbol", symbol).Msg("open interest snapshot dropped")
	}
}
