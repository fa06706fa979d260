package feed

import (
	"strings"
	"time"
)

// Config holds the exchange endpoints and subscription set.
type Config struct {
	WSBaseURL   string
	RESTBaseURL string

	// Symbols to subscribe, lowercase on the wire (btcusdt).
	Symbols []string

	// Streams per symbol: markPrice, forceOrder, depth20@100ms.
	Streams []string

	// MarkPriceSpeed selects the 1s mark price stream when set to 1000.
	MarkPriceSpeed int

	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	OpenInterestInterval time.Duration
	FundingRateInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		WSBaseURL:            "wss://fstream.binance.com",
		RESTBaseURL:          "https://fapi.binance.com",
		Symbols:              []string{"btcusdt", "ethusdt"},
		Streams:              []string{"markPrice", "forceOrder", "depth20@100ms"},
		MarkPriceSpeed:       1000,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 0,
		OpenInterestInterval: 3 * time.Second,
		FundingRateInterval:  8 * time.Hour,
	}
}

// CombinedStreamURL builds the combined stream endpoint for all
// symbol/stream pairs: wss://.../stream?streams=btcusdt@markPrice@1s/...
func (c Config) CombinedStreamURL() string {
	var sb strings.Builder
	sb.WriteString(c.WSBaseURL)
	sb.WriteString("/stream?streams=")
	first := true
	for _, symbol := range c.Symbols {
		for _, stream := range c.Streams {
			if !first {
				sb.WriteByte('/')
			}
			first = false
			sb.WriteString(c.streamName(symbol, stream))
		}
	}
	return sb.String()
}

func (c Config) streamName(symbol, stream string) string {
	symbol = strings.ToLower(symbol)
	if stream == "markPrice" && c.MarkPriceSpeed == 1000 {
		return symbol + "@markPrice@1s"
	}
	return symbol + "@" + stream
}

// eventTypeForStream maps the stream suffix after the first '@' to an
// engine event type. Unknown streams are skipped.
func streamSuffix(streamName string) string {
	if i := strings.IndexByte(streamName, '@'); i >= 0 {
		return streamName[i+1:]
	}
	return ""
}

// symbolOfStream extracts the uppercase symbol from a combined stream name.
func symbolOfStream(streamName string) string {
	if i := strings.IndexByte(streamName, '@'); i > 0 {
		return strings.ToUpper(streamName[:i])
	}
	return strings.ToUpper(streamName)
}
