package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"riskengine/internal/event"
)

func TestCombinedStreamURL(t *testing.T) {
	cfg := Config{
		WSBaseURL:      "wss://fstream.binance.com",
		Symbols:        []string{"btcusdt", "ethusdt"},
		Streams:        []string{"markPrice", "forceOrder"},
		MarkPriceSpeed: 1000,
	}
	got := cfg.CombinedStreamURL()
	want := "wss://fstream.binance.com/stream?streams=btcusdt@markPrice@1s/btcusdt@forceOrder/ethusdt@markPrice@1s/ethusdt@forceOrder"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
}

func TestCombinedStreamURLSlowMarkPrice(t *testing.T) {
	cfg := Config{
		WSBaseURL: "wss://x",
		Symbols:   []string{"btcusdt"},
		Streams:   []string{"markPrice"},
	}
	if got := cfg.CombinedStreamURL(); got != "wss://x/stream?streams=btcusdt@markPrice" {
		t.Errorf("url = %q", got)
	}
}

func TestEventTypeForStream(t *testing.T) {
	cases := []struct {
		stream string
		want   event.Type
	}{
		{"btcusdt@markPrice@1s", event.TypeMarkPrice},
		{"ethusdt@forceOrder", event.TypeForceOrder},
		{"btcusdt@depth20@100ms", event.TypeOrderBookDepth},
		{"btcusdt@aggTrade", event.TypeUnknown},
		{"noatsign", event.TypeUnknown},
	}
	for _, c := range cases {
		if got := eventTypeFor(streamSuffix(c.stream)); got != c.want {
			t.Errorf("eventTypeFor(%q) = %v, want %v", c.stream, got, c.want)
		}
	}
}

func TestSymbolOfStream(t *testing.T) {
	if got := symbolOfStream("btcusdt@markPrice@1s"); got != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", got)
	}
}

type capturePublisher struct {
	backpressured bool
	snapshots     []*event.OpenInterestSnapshot
}

func (p *capturePublisher) PublishRaw(t event.Type, symbol string, payload []byte) bool {
	return !p.backpressured
}

func (p *capturePublisher) PublishOpenInterest(snap *event.OpenInterestSnapshot) bool {
	if p.backpressured {
		return false
	}
	p.snapshots = append(p.snapshots, snap)
	return true
}

func (p *capturePublisher) Backpressured() bool { return p.backpressured }

func TestOIPollerSkipsFetchUnderBackpressure(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"symbol":"BTCUSDT","openInterest":"75000.5","time":1}`)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	cfg := DefaultConfig()
	cfg.Symbols = []string{"btcusdt"}
	poller := NewOIPoller(NewRESTClient(srv.URL), pub, cfg, zerolog.Nop())

	ctx := context.Background()
	poller.pollOnce(ctx)
	if got := requests.Load(); got != 1 {
		t.Fatalf("unpressured round made %d requests, want 1", got)
	}
	if len(pub.snapshots) != 1 || pub.snapshots[0].OpenInterest != 75000.5 {
		t.Fatalf("snapshots = %+v, want one with OI 75000.5", pub.snapshots)
	}

	// Under backpressure the round is skipped before any REST call.
	pub.backpressured = true
	poller.pollOnce(ctx)
	if got := requests.Load(); got != 1 {
		t.Fatalf("backpressured round made %d extra requests, want 0", got-1)
	}
}
