package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PublishableReport is a computed risk report ready for outbound publishing.
// Kind selects the subject: risk.{kind}.{symbol}.
type PublishableReport struct {
	ReportID  string      `json:"reportId"`
	Kind      string      `json:"kind"`
	Symbol    string      `json:"symbol"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// OutboundPublisher publishes risk reports to NATS for downstream consumers.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableReport
	log       zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableReport, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log.With().Str("component", "outbound_publisher").Logger(),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rep, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, rep); err != nil {
				// Non-fatal: consumers can query the HTTP API directly.
				op.log.Warn().Err(err).Str("kind", rep.Kind).Str("symbol", rep.Symbol).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, rep PublishableReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	subject := fmt.Sprintf("risk.%s.%s", rep.Kind, rep.Symbol)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound risk reports stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "RISK_REPORTS",
		Subjects:  []string{"risk.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "RISK_REPORTS").Msg("ensured outbound stream")
	return nil
}
