package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/mapoverlay/internal/adapters/snapshot"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

const (
	batchStream   = "OVERLAY_BATCHES"
	batchSubjects = "overlay.batch.>"
	// EventSubjects matches every layer's insert events.
	EventSubjects = "overlay.events.>"
)

// BatchSubject is the JetStream subject carrying batches for layer.
func BatchSubject(layer string) string { return "overlay.batch." + layer }

// EventSubject is the core NATS subject carrying insert events for layer.
func EventSubject(layer string) string { return "overlay.events." + layer }

// Publisher implements ports.BatchSink over JetStream and
// ports.EventPublisher over core NATS.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the batch stream exists.
func NewPublisher(url string) (*Publisher, error) {
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
	return &Publisher{conn: conn, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	cfg := &nats.StreamConfig{
		Name:      batchStream,
		Subjects:  []string{batchSubjects},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Submit publishes a batch for the process owning batch.Layer.
func (p *Publisher) Submit(ctx context.Context, batch domain.Batch) error {
	data, err := snapshot.EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	_, err = p.js.Publish(BatchSubject(batch.Layer), data, nats.Context(ctx))
	return err
}

// PublishInsertEvent broadcasts an insert event to live clients.
func (p *Publisher) PublishInsertEvent(ctx context.Context, ev domain.InsertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(EventSubject(ev.Layer), data)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("mapoverlay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
