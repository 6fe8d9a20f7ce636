package ports

import (
	"context"

	"github.com/samirrijal/geoaugment/internal/core/domain"
)

// EventPublisher publishes engine output to a message broker.
type EventPublisher interface {
	PublishFrame(ctx context.Context, frame *domain.Frame) error
	PublishGeneration(ctx context.Context, summary *domain.GenerationSummary) error
	PublishAnimationEvent(ctx context.Context, event *domain.AnimationEvent) error
	PublishDuplicates(ctx context.Context, objects []domain.AugmentObject) error
}

// EventSubscriber delivers device and user input from a message broker.
type EventSubscriber interface {
	SubscribeLocation(ctx context.Context, handler func(ctx context.Context, sample *domain.LocationSample) error) error
	SubscribeRefresh(ctx context.Context, handler func(ctx context.Context, req *domain.RefreshRequest) error) error
	SubscribeInput(ctx context.Context, handler func(ctx context.Context, input *domain.TickInput) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// LinkOpener hands external links to the presentation layer.
type LinkOpener interface {
	OpenLink(ctx context.Context, url string) error
}

// LocationSource streams raw device locations.
// Start fails with domain.ErrLocationServiceDisabled when the user disabled location.
type LocationSource interface {
	Start(ctx context.Context) (<-chan domain.LocationSample, error)
}
