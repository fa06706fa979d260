package feed

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FundingService caches the latest settled funding rate per symbol,
// refreshing every funding epoch. Rate returns 0 for unknown symbols so
// drift estimation degrades to momentum-only.
type FundingService struct {
	rest     *RESTClient
	symbols  []string
	interval time.Duration
	log      zerolog.Logger

	mu    sync.RWMutex
	rates map[string]float64
}

func NewFundingService(rest *RESTClient, cfg Config, log zerolog.Logger) *FundingService {
	return &FundingService{
		rest:     rest,
		symbols:  cfg.Symbols,
		interval: cfg.FundingRateInterval,
		log:      log.With().Str("component", "funding_rate").Logger(),
		rates:    make(map[string]float64),
	}
}

// Run refreshes immediately, then on every interval until ctx is cancelled.
func (s *FundingService) Run(ctx context.Context) error {
	s.refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *FundingService) refresh(ctx context.Context) {
	for _, symbol := range s.symbols {
		resp, err := s.rest.LatestFundingRate(ctx, symbol)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Str("symbol", symbol).Msg("funding rate poll failed")
			}
			continue
		}
		rate, err := strconv.ParseFloat(resp.FundingRate, 64)
		if err != nil {
			s.log.Warn().Str("symbol", symbol).Str("value", resp.FundingRate).Msg("unparseable funding rate")
			continue
		}
		s.Set(strings.ToUpper(symbol), rate)
		s.log.Info().Str("symbol", strings.ToUpper(symbol)).Float64("rate", rate).Msg("funding rate updated")
	}
}

// Set stores a rate directly. Mark price stream updates also flow through
// here so the cache stays fresh between epochs.
func (s *FundingService) Set(symbol string, rate float64) {
	s.mu.Lock()
	s.rates[strings.ToUpper(symbol)] = rate
	s.mu.Unlock()
}

// Rate returns the cached funding rate for a symbol, 0 when unknown.
func (s *FundingService) Rate(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates[strings.ToUpper(symbol)]
}
