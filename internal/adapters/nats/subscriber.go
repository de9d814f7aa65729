package natsadapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/mapoverlay/internal/adapters/snapshot"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Subscriber implements ports.BatchSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStream(js); err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

type ackAction int

const (
	ack ackAction = iota
	nak
	term
)

// handleBatch decodes one message and runs handler on it. Messages that do
// not decode are terminated so they are never redelivered.
func handleBatch(ctx context.Context, layer string, data []byte, handler func(ctx context.Context, batch domain.Batch) error) ackAction {
	batch, err := snapshot.DecodeBatch(data)
	if err != nil {
		slog.Warn("dropping undecodable batch", "layer", layer, "error", err)
		return term
	}
	if batch.Layer != layer {
		slog.Warn("dropping batch for another layer", "layer", layer, "batch_layer", batch.Layer)
		return term
	}
	if err := handler(ctx, batch); err != nil {
		slog.Warn("batch handler failed", "layer", layer, "error", err)
		return nak
	}
	return ack
}

// SubscribeBatches delivers the batches published for layer to handler with
// a durable consumer, so batches published while the service was down are
// applied on the next start. A message is acked once handler returns nil, so
// handler must not return before the batch is applied.
func (s *Subscriber) SubscribeBatches(ctx context.Context, layer string, handler func(ctx context.Context, batch domain.Batch) error) error {
	sub, err := s.js.Subscribe(BatchSubject(layer), func(msg *nats.Msg) {
		switch handleBatch(ctx, layer, msg.Data, handler) {
		case ack:
			_ = msg.Ack()
		case nak:
			_ = msg.NakWithDelay(2 * time.Second)
		case term:
			_ = msg.Term()
		}
	},
		nats.Durable("overlay-"+layer),
		nats.ManualAck(),
		nats.MaxDeliver(5),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
