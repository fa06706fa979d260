package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"riskengine/internal/event"
)

// Publisher receives raw market data from the feed. Implementations must
// not block; a false return means the payload was dropped under load.
type Publisher interface {
	PublishRaw(t event.Type, symbol string, payload []byte) bool
	PublishOpenInterest(snap *event.OpenInterestSnapshot) bool
	// Backpressured reports whether the ingest ring is above its
	// refusal threshold. Pollers check it before spending a REST round
	// the pipeline would only drop.
	Backpressured() bool
}

type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// WSClient maintains a combined stream connection to the futures
// WebSocket API and routes messages into the pipeline.
type WSClient struct {
	cfg       Config
	publisher Publisher
	log       zerolog.Logger

	connected atomic.Bool
	dropped   atomic.Int64
}

func NewWSClient(cfg Config, publisher Publisher, log zerolog.Logger) *WSClient {
	return &WSClient{
		cfg:       cfg,
		publisher: publisher,
		log:       log.With().Str("component", "binance_ws").Logger(),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with linear
// backoff capped at 60s. Returns nil on cancellation.
func (c *WSClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := c.readLoop(ctx); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Msg("connection lost")
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		if max := c.cfg.MaxReconnectAttempts; max > 0 && attempt > max {
			c.log.Error().Int("attempts", max).Msg("reconnect limit reached, giving up")
			return context.Cause(ctx)
		}
		delay := time.Duration(attempt) * c.cfg.ReconnectInterval
		if delay > time.Minute {
			delay = time.Minute
		}
		c.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *WSClient) readLoop(ctx context.Context) error {
	url := c.cfg.CombinedStreamURL()
	c.log.Info().Str("url", url).Msg("connecting")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info().Msg("connected")

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.route(payload)
	}
}

func (c *WSClient) route(payload []byte) {
	var msg combinedStreamMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Stream == "" {
		c.log.Debug().Msg("unrecognized message shape")
		return
	}

	eventType := eventTypeFor(streamSuffix(msg.Stream))
	if eventType == event.TypeUnknown {
		c.log.Debug().Str("stream", msg.Stream).Msg("unsupported stream")
		return
	}

	symbol := symbolOfStream(msg.Stream)
	if !c.publisher.PublishRaw(eventType, symbol, msg.Data) {
		c.dropped.Add(1)
	}
}

func eventTypeFor(suffix string) event.Type {
	switch {
	case strings.HasPrefix(suffix, "markPrice"):
		return event.TypeMarkPrice
	case suffix == "forceOrder":
		return event.TypeForceOrder
	case strings.HasPrefix(suffix, "depth"):
		return event.TypeOrderBookDepth
	default:
		return event.TypeUnknown
	}
}

// Connected reports whether the stream connection is live.
func (c *WSClient) Connected() bool {
	return c.connected.Load()
}

// Dropped returns the count of payloads rejected by the pipeline.
func (c *WSClient) Dropped() int64 {
	return c.dropped.Load()
}
