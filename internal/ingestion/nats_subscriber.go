package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw actions
// into the core via the action channel. Each subject maps to one action
// type so producers scale independently.
type NATSSubscriber struct {
	js         jetstream.JetStream
	actionChan chan<- RawAction
	consumers  []jetstream.ConsumeContext
	logger     zerolog.Logger
}

// RawAction is the undecoded message from NATS, ready for the shell to
// parse into a typed action before applying.
type RawAction struct {
	Subject    string
	ActionType string
	Data       []byte
	Timestamp  time.Time
	AckFunc    func() // ACK after the core accepted the action
	NakFunc    func() // NAK on failure for redelivery
}

// SubjectConfig maps a NATS subject to an action type.
type SubjectConfig struct {
	Subject      string
	ActionType   string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "perp.trades.open.>", ActionType: "OpenPosition", ConsumerName: "engine-trades-open", StreamName: "PERP_TRADES"},
		{Subject: "perp.trades.close.>", ActionType: "ClosePosition", ConsumerName: "engine-trades-close", StreamName: "PERP_TRADES"},
		{Subject: "perp.margin.deposit.>", ActionType: "DepositMargin", ConsumerName: "engine-margin-deposit", StreamName: "PERP_MARGIN"},
		{Subject: "perp.margin.withdraw.>", ActionType: "WithdrawMargin", ConsumerName: "engine-margin-withdraw", StreamName: "PERP_MARGIN"},
		{Subject: "perp.liquidation.>", ActionType: "Liquidate", ConsumerName: "engine-liquidation", StreamName: "PERP_LIQUIDATION"},
		{Subject: "perp.funding.settle.>", ActionType: "PayFunding", ConsumerName: "engine-funding-settle", StreamName: "PERP_FUNDING"},
		{Subject: "perp.prices.>", ActionType: "OraclePrice", ConsumerName: "engine-prices", StreamName: "PERP_PRICES"},
		{Subject: "perp.admin.risk.>", ActionType: "RiskParamUpdate", ConsumerName: "engine-admin-risk", StreamName: "PERP_ADMIN"},
		{Subject: "perp.admin.pause.>", ActionType: "SetPause", ConsumerName: "engine-admin-pause", StreamName: "PERP_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, actionChan chan<- RawAction, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:         js,
		actionChan: actionChan,
		logger:     logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
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

		actionType := cfg.ActionType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawAction{
				Subject:    msg.Subject(),
				ActionType: actionType,
				Data:       msg.Data(),
				Timestamp:  time.Now(),
				AckFunc:    func() { msg.Ack() },
				NakFunc:    func() { msg.Nak() },
			}

			select {
			case ns.actionChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use file storage with limits retention and 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PERP_TRADES",
			Subjects:  []string{"perp.trades.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_MARGIN",
			Subjects:  []string{"perp.margin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_LIQUIDATION",
			Subjects:  []string{"perp.liquidation.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_FUNDING",
			Subjects:  []string{"perp.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_PRICES",
			Subjects:  []string{"perp.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_ADMIN",
			Subjects:  []string{"perp.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream
// context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
