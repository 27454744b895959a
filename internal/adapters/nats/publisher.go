package natsadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// Subjects carried on the trail streams.
const (
	SubjectPointAccepted = "trail.points.accepted"
	SubjectSamplesImport = "trail.samples.import"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      "TRAIL_POINTS",
			Subjects:  []string{"trail.points.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "TRAIL_SAMPLES",
			Subjects:  []string{"trail.samples.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				conn.Close()
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishPoint announces a point that was appended to the log.
func (p *Publisher) PublishPoint(ctx context.Context, pt *domain.Point) error {
	data, err := json.Marshal(pt)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectPointAccepted, data, nats.Context(ctx))
	return err
}

// PublishSamples queues a batch of raw samples for the api process to ingest.
func (p *Publisher) PublishSamples(ctx context.Context, samples []domain.Sample) error {
	data, err := json.Marshal(samples)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectSamplesImport, data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection for plain subscriptions.
func (p *Publisher) Conn() *nats.Conn { return p.conn }

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("trailkeep"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
