package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes processed actions to NATS for downstream
// consumers. Actions are published after persistence confirmed them.
// Subjects follow the pattern perp.engine.events.{action_type}[.{curve_id}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableAction
	logger    zerolog.Logger
}

// PublishableAction is a processed action ready for outbound publishing.
type PublishableAction struct {
	Sequence       int64       `json:"sequence"`
	ActionType     string      `json:"action_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	CurveID        *string     `json:"curve_id,omitempty"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	BlockTime      int64       `json:"block_time"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableAction, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run drains the publish channel until ctx is cancelled or the channel
// closes. A failed publish is non-fatal: downstream consumers can read
// the action log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case act, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, act); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", act.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, act PublishableAction) error {
	data, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	subject := fmt.Sprintf("perp.engine.events.%s", act.ActionType)
	if act.CurveID != nil {
		subject = fmt.Sprintf("%s.%s", subject, *act.CurveID)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_ENGINE_EVENTS",
		Subjects:  []string{"perp.engine.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "PERP_ENGINE_EVENTS").Msg("ensured outbound stream")
	return nil
}
