package usecases

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/pkg/metrics"
	"github.com/samirrijal/geoaugment/internal/pkg/telemetry"
)

// BundleResolver downloads and keeps the asset bundles referenced by layers.
type BundleResolver struct {
	repo    ports.BundleRepository
	decoder ports.BundleDecoder
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.RWMutex
	bundles map[string]ports.Bundle
}

// NewBundleResolver creates a new BundleResolver.
func NewBundleResolver(repo ports.BundleRepository, decoder ports.BundleDecoder, timeout time.Duration) *BundleResolver {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BundleResolver{
		repo:    repo,
		decoder: decoder,
		timeout: timeout,
		logger:  slog.Default().With("component", "bundle-resolver"),
		tracer:  telemetry.Tracer(),
		bundles: make(map[string]ports.Bundle),
	}
}

// CleanBundleURL strips the backslashes some layer services escape urls with.
func CleanBundleURL(raw string) string {
	return strings.ReplaceAll(raw, `\`, "")
}

// BundleURLs returns the distinct bundle urls referenced by the given pages.
func BundleURLs(pages ...[]domain.Layer) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, group := range pages {
		for i := range group {
			for j := range group[i].Hotspots {
				u := group[i].Hotspots[j].BaseURL()
				if u == "" || seen[u] {
					continue
				}
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	return urls
}

// Resolve downloads every url not loaded yet. Bundles are keyed by the url as given.
func (r *BundleResolver) Resolve(ctx context.Context, urls []string) error {
	for _, raw := range urls {
		if _, ok := r.Lookup(raw); ok {
			continue
		}
		bundle, err := r.download(ctx, raw)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.bundles[raw] = bundle
		r.mu.Unlock()
	}
	return nil
}

// Lookup returns a loaded bundle.
func (r *BundleResolver) Lookup(raw string) (ports.Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[raw]
	return b, ok
}

// Len returns the number of loaded bundles.
func (r *BundleResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bundles)
}

func (r *BundleResolver) download(ctx context.Context, raw string) (ports.Bundle, error) {
	u := CleanBundleURL(raw)
	ctx, span := r.tracer.Start(ctx, telemetry.SpanBundle, trace.WithAttributes(telemetry.AttrURL.String(u)))
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.repo.FetchBundle(fetchCtx, u)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() != nil):
		err = domain.NewError(domain.KindBundleTimeout, err, "Bundle '%s' download timeout.", u)
	case err != nil:
		err = domain.NewError(domain.KindBundleTransport, err, "Bundle '%s' download error", u)
	}
	if err != nil {
		return nil, r.fail(span, err)
	}

	bundle, err := r.decoder.Decode(u, data)
	if err != nil {
		return nil, r.fail(span, domain.NewError(domain.KindBundleDecode, err, "Bundle '%s' exception", u))
	}
	if bundle == nil {
		return nil, r.fail(span, domain.NewError(domain.KindBundleDecode, nil, "Bundle '%s' download is null.", u))
	}

	metrics.BundleDownloads.Inc()
	r.logger.Info("bundle loaded", "url", u)
	return bundle, nil
}

func (r *BundleResolver) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(telemetry.AttrErrorKind.String(domain.KindOf(err).String()))
	r.logger.Warn("bundle download failed", "error", err)
	return err
}
