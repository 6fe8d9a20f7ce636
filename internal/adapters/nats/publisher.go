package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/geoaugment/internal/core/domain"
)

// Subjects published and consumed by the engine.
const (
	SubjectFrame      = "augment.frame"
	SubjectGeneration = "augment.generation"
	SubjectAnimation  = "augment.animation"
	SubjectDuplicate  = "augment.duplicate"
	SubjectLink       = "augment.link"
	SubjectLocation   = "augment.location"
	SubjectRefresh    = "augment.refresh"
	SubjectInput      = "augment.input"
	SubjectAll        = "augment.>"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
// Frames go over core NATS; they are superseded every tick and never replayed.
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
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      "AUGMENT_GENERATIONS",
			Subjects:  []string{SubjectGeneration},
			Retention: nats.LimitsPolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "AUGMENT_EVENTS",
			Subjects:  []string{SubjectAnimation + ".>", SubjectDuplicate, SubjectLink},
			Retention: nats.InterestPolicy,
			MaxAge:    10 * time.Minute,
			Storage:   nats.MemoryStorage,
		},
		{
			Name:      "AUGMENT_CONTROL",
			Subjects:  []string{SubjectRefresh},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Minute,
			Storage:   nats.MemoryStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

func (p *Publisher) PublishFrame(ctx context.Context, frame *domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectFrame, data)
}

func (p *Publisher) PublishGeneration(ctx context.Context, summary *domain.GenerationSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectGeneration, data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishAnimationEvent(ctx context.Context, event *domain.AnimationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	subject := SubjectAnimation + "." + strconv.FormatInt(event.ObjectID, 10)
	_, err = p.js.Publish(subject, data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishDuplicates(ctx context.Context, objects []domain.AugmentObject) error {
	if len(objects) == 0 {
		return nil
	}
	data, err := json.Marshal(objects)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectDuplicate, data, nats.Context(ctx))
	return err
}

// OpenLink implements ports.LinkOpener by handing the url to the presentation layer.
func (p *Publisher) OpenLink(ctx context.Context, url string) error {
	_, err := p.js.Publish(SubjectLink, []byte(url), nats.Context(ctx))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
