package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"riskengine/internal/event"
)

// RawEvent is a market data payload pulled off NATS before parsing.
type RawEvent struct {
	Subject   string
	Type      event.Type
	Data      []byte
	Timestamp time.Time
	AckFunc   func() error
	NakFunc   func() error
}

// SubjectConfig maps a NATS subject filter to an event type and durable consumer.
type SubjectConfig struct {
	Subject      string
	EventType    event.Type
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the market data subjects the engine consumes.
// Subjects carry the symbol as the last token: market.markprice.BTCUSDT.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "market.markprice.>", EventType: event.TypeMarkPrice, ConsumerName: "risk-markprice", StreamName: "MARKET"},
		{Subject: "market.forceorder.>", EventType: event.TypeForceOrder, ConsumerName: "risk-forceorder", StreamName: "MARKET"},
		{Subject: "market.depth.>", EventType: event.TypeOrderBookDepth, ConsumerName: "risk-depth", StreamName: "MARKET"},
	}
}

// NATSSubscriber consumes market data from JetStream and forwards raw
// payloads to the pipeline producer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates durable consumers for each subject and starts consuming.
func (s *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Name:          cfg.ConsumerName,
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Type:      eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   msg.Ack,
				NakFunc:   msg.Nak,
			}
			select {
			case s.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.Subject, err)
		}
		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Stop drains all consumers.
func (s *NATSSubscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.consumers = nil
}

// EnsureStreams creates the MARKET stream if it does not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARKET",
		Subjects:  []string{"market.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create MARKET stream: %w", err)
	}
	log.Info().Str("stream", "MARKET").Msg("ensured stream")
	return nil
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}
