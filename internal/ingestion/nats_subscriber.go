package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds
// operations into the deterministic core via the eventChan. JetStream
// is the primary high-throughput ingestion surface; each subject maps
// to one event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types. Each event type has
// its own subject so producers scale independently.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "stable.prices.>", EventType: "PriceUpdate", ConsumerName: "core-prices", StreamName: "STABLE_PRICES"},
		{Subject: "stable.params.>", EventType: "AssetParamUpdate", ConsumerName: "core-params", StreamName: "STABLE_PARAMS"},
		{Subject: "stable.troves.open.>", EventType: "TroveOpen", ConsumerName: "core-trove-open", StreamName: "STABLE_TROVES"},
		{Subject: "stable.troves.adjust.>", EventType: "TroveAdjust", ConsumerName: "core-trove-adjust", StreamName: "STABLE_TROVES"},
		{Subject: "stable.troves.close.>", EventType: "TroveClose", ConsumerName: "core-trove-close", StreamName: "STABLE_TROVES"},
		{Subject: "stable.liquidations.batch.>", EventType: "Liquidate", ConsumerName: "core-liq-batch", StreamName: "STABLE_LIQUIDATIONS"},
		{Subject: "stable.liquidations.riskiest.>", EventType: "LiquidateRiskiest", ConsumerName: "core-liq-riskiest", StreamName: "STABLE_LIQUIDATIONS"},
		{Subject: "stable.redemptions.>", EventType: "Redeem", ConsumerName: "core-redemptions", StreamName: "STABLE_REDEMPTIONS"},
		{Subject: "stable.pool.provide.>", EventType: "StabilityProvide", ConsumerName: "core-pool-provide", StreamName: "STABLE_POOL"},
		{Subject: "stable.pool.withdraw.>", EventType: "StabilityWithdraw", ConsumerName: "core-pool-withdraw", StreamName: "STABLE_POOL"},
		{Subject: "stable.claims.surplus.>", EventType: "SurplusClaim", ConsumerName: "core-claim-surplus", StreamName: "STABLE_CLAIMS"},
		{Subject: "stable.claims.reward.>", EventType: "RewardClaim", ConsumerName: "core-claim-reward", StreamName: "STABLE_CLAIMS"},
		{Subject: "stable.flash.>", EventType: "FlashMint", ConsumerName: "core-flash", StreamName: "STABLE_FLASH"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
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

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "STABLE_PRICES",
			Subjects:  []string{"stable.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_PARAMS",
			Subjects:  []string{"stable.params.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_TROVES",
			Subjects:  []string{"stable.troves.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_LIQUIDATIONS",
			Subjects:  []string{"stable.liquidations.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_REDEMPTIONS",
			Subjects:  []string{"stable.redemptions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_POOL",
			Subjects:  []string{"stable.pool.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_CLAIMS",
			Subjects:  []string{"stable.claims.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STABLE_FLASH",
			Subjects:  []string{"stable.flash.>"},
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
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
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
