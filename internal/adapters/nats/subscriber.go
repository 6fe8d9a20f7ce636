package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/geoaugment/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS.
// Refresh requests go through JetStream; location and input samples are
// high-rate and use core subscriptions.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu   sync.Mutex
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
	return &Subscriber{conn: conn, js: js}, nil
}

func (s *Subscriber) SubscribeLocation(ctx context.Context, handler func(ctx context.Context, sample *domain.LocationSample) error) error {
	sub, err := s.conn.Subscribe(SubjectLocation, func(msg *nats.Msg) {
		var sample domain.LocationSample
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			return
		}
		_ = handler(ctx, &sample)
	})
	if err != nil {
		return err
	}
	s.track(sub)
	return nil
}

func (s *Subscriber) SubscribeRefresh(ctx context.Context, handler func(ctx context.Context, req *domain.RefreshRequest) error) error {
	sub, err := s.js.Subscribe(SubjectRefresh, func(msg *nats.Msg) {
		var req domain.RefreshRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &req); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("refresh-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.track(sub)
	return nil
}

func (s *Subscriber) SubscribeInput(ctx context.Context, handler func(ctx context.Context, input *domain.TickInput) error) error {
	sub, err := s.conn.Subscribe(SubjectInput, func(msg *nats.Msg) {
		var input domain.TickInput
		if err := json.Unmarshal(msg.Data, &input); err != nil {
			return
		}
		_ = handler(ctx, &input)
	})
	if err != nil {
		return err
	}
	s.track(sub)
	return nil
}

func (s *Subscriber) track(sub *nats.Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	s.mu.Lock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.mu.Unlock()
	_ = s.conn.Drain()
}

// ---------------------------------------------------------------------------
// LocationSource
// ---------------------------------------------------------------------------

// LocationStream implements ports.LocationSource on top of the location subject.
type LocationStream struct {
	sub    *Subscriber
	buffer int
}

// NewLocationStream creates a location source reading from sub.
func NewLocationStream(sub *Subscriber) *LocationStream {
	return &LocationStream{sub: sub, buffer: 16}
}

// Start subscribes and returns a channel closed when ctx ends.
// Samples are dropped while the consumer lags behind.
func (l *LocationStream) Start(ctx context.Context) (<-chan domain.LocationSample, error) {
	if l.sub.conn.IsClosed() {
		return nil, domain.NewError(domain.KindLocationServiceDisabled, nats.ErrConnectionClosed, "location stream unavailable")
	}
	out := make(chan domain.LocationSample, l.buffer)

	var mu sync.Mutex
	closed := false
	err := l.sub.SubscribeLocation(ctx, func(ctx context.Context, sample *domain.LocationSample) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case out <- *sample:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe location: %w", err)
	}

	go func() {
		<-ctx.Done()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}
