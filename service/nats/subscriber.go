package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SubscribeOptions selects which events a subscription receives.
type SubscribeOptions struct {
	// Wallet limits the subscription to one wallet; empty means all wallets.
	Wallet string
	// Durable, when set, names a consumer that survives restarts.
	Durable string
}

func (o SubscribeOptions) filterSubject() string {
	if o.Wallet == "" {
		return StreamSubjects
	}
	return SubjectPrefix + o.Wallet
}

// Subscribe streams trade events to handle until ctx is done. Messages that
// fail to decode are logged and acknowledged.
func Subscribe(ctx context.Context, natsURL string, opts SubscribeOptions, logger *slog.Logger, handle func(*TradeEvent)) error {
	nc, err := nats.Connect(natsURL, nats.Name("tradeterm-subscriber"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg := jetstream.ConsumerConfig{
		FilterSubject: opts.filterSubject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.Name = opts.Durable
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer func() { _ = msg.Ack() }()

		var event TradeEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("failed to decode trade event", "subject", msg.Subject(), "error", err)
			return
		}
		handle(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}
