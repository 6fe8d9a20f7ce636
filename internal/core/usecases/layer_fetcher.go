package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
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

// FetchOptions are the client identity and limits sent with every page request.
type FetchOptions struct {
	Language     string
	DeviceID     string
	Client       string
	Version      string
	Bundle       string
	OS           string
	Build        string
	Radius       int
	Accuracy     int
	PageTimeout  time.Duration
	MaxRedirects int
	PageCacheTTL int
}

// FetchTarget is the service url and layer a fetch cycle queries.
type FetchTarget struct {
	URL   string `json:"url"`
	Layer string `json:"layer"`
}

// FetchQuery is the input of one fetch cycle.
type FetchQuery struct {
	Target FetchTarget
	// Used is the position layers are queried around, Device the filtered device position.
	Used   domain.GeoPoint
	Device domain.GeoPoint
	Count  int64
}

// FetchResult is the outcome of a top-level fetch.
type FetchResult struct {
	// Target is the final target after redirects. It persists into later cycles.
	Target    FetchTarget
	Pages     []domain.Layer
	Redirects int
}

// FetchState names the steps of the page protocol.
type FetchState int

const (
	StateRequesting FetchState = iota
	StateParsing
	StateRedirecting
	StatePageContinuing
	StateDone
)

func (s FetchState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateParsing:
		return "parsing"
	case StateRedirecting:
		return "redirecting"
	case StatePageContinuing:
		return "page_continuing"
	default:
		return "done"
	}
}

// LayerFetcher runs the paginated, redirect-following layer protocol.
type LayerFetcher struct {
	repo   ports.LayerRepository
	cache  ports.CacheService
	opts   FetchOptions
	inner  *InnerLayerCache
	logger *slog.Logger
	tracer trace.Tracer
}

// NewLayerFetcher creates a new LayerFetcher. cache may be nil.
func NewLayerFetcher(repo ports.LayerRepository, cache ports.CacheService, opts FetchOptions) *LayerFetcher {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	return &LayerFetcher{
		repo:   repo,
		cache:  cache,
		opts:   opts,
		inner:  NewInnerLayerCache(),
		logger: slog.Default().With("component", "layer-fetcher"),
		tracer: telemetry.Tracer(),
	}
}

// InnerLayers returns the cache of nested layers.
func (f *LayerFetcher) InnerLayers() *InnerLayerCache { return f.inner }

// Fetch collects all pages of the target layer, following redirects.
func (f *LayerFetcher) Fetch(ctx context.Context, q FetchQuery) (*FetchResult, error) {
	ctx, span := f.tracer.Start(ctx, telemetry.SpanFetchCycle, trace.WithAttributes(
		telemetry.AttrLayer.String(q.Target.Layer),
		telemetry.AttrURL.String(q.Target.URL),
	))
	defer span.End()

	res := &FetchResult{Target: q.Target}
	var (
		pageKey string
		body    []byte
		page    *domain.Layer
		err     error
	)

	state := StateRequesting
	for state != StateDone {
		switch state {
		case StateRequesting:
			u, buildErr := f.BuildURL(q, res.Target, pageKey, false)
			if buildErr != nil {
				err = domain.NewError(domain.KindFetchTransport, buildErr, "Layer contents download error")
				break
			}
			body, err = f.fetchPage(ctx, u, "")
			state = StateParsing

		case StateParsing:
			page, err = f.parsePage(body, "")
			if err != nil {
				break
			}
			metrics.FetchPages.WithLabelValues("top").Inc()
			switch {
			case page.Redirects():
				state = StateRedirecting
			case page.HasNextPage():
				res.Pages = append(res.Pages, *page)
				state = StatePageContinuing
			default:
				res.Pages = append(res.Pages, *page)
				state = StateDone
			}

		case StateRedirecting:
			res.Redirects++
			if res.Redirects > f.opts.MaxRedirects {
				err = domain.NewError(domain.KindFetchTransport, nil, "Layer contents download error: too many redirects")
				break
			}
			if u := strings.TrimSpace(page.RedirectionURL); u != "" {
				res.Target.URL = u
			}
			if l := strings.TrimSpace(page.RedirectionLayer); l != "" {
				res.Target.Layer = l
			}
			res.Pages = nil
			pageKey = ""
			metrics.FetchRedirects.Inc()
			f.logger.Debug("following redirect", "url", res.Target.URL, "layer", res.Target.Layer, "redirects", res.Redirects)
			state = StateRequesting

		case StatePageContinuing:
			pageKey = page.NextPageKey
			state = StateRequesting
		}

		if err != nil {
			f.fail(span, err, state)
			return nil, err
		}
	}

	span.SetAttributes(
		telemetry.AttrPages.Int(len(res.Pages)),
		telemetry.AttrRedirects.Int(res.Redirects),
	)
	return res, nil
}

// ResolveInnerLayers fetches every layer referenced by the POIs of pages
// that is not cached yet. A reference to layerName reuses pages.
func (f *LayerFetcher) ResolveInnerLayers(ctx context.Context, q FetchQuery, layerName string, pages []domain.Layer) error {
	for _, name := range InnerLayerNames(pages) {
		if f.inner.Has(name) {
			continue
		}
		if name == layerName {
			f.inner.Put(name, pages)
			continue
		}

		innerPages, err := f.fetchInner(ctx, q, name)
		if err != nil {
			return err
		}
		f.inner.Put(name, innerPages)
	}
	return nil
}

func (f *LayerFetcher) fetchInner(ctx context.Context, q FetchQuery, name string) ([]domain.Layer, error) {
	ctx, span := f.tracer.Start(ctx, telemetry.SpanInnerLayer, trace.WithAttributes(
		telemetry.AttrLayer.String(name),
	))
	defer span.End()

	target := FetchTarget{URL: q.Target.URL, Layer: name}
	var pages []domain.Layer
	pageKey := ""
	for {
		u, err := f.BuildURL(q, target, pageKey, true)
		if err != nil {
			err = domain.NewError(domain.KindFetchTransport, err, "Layer %s contents download error", name)
			f.fail(span, err, StateRequesting)
			return nil, err
		}
		body, err := f.fetchPage(ctx, u, name)
		if err != nil {
			f.fail(span, err, StateRequesting)
			return nil, err
		}
		page, err := f.parsePage(body, name)
		if err != nil {
			f.fail(span, err, StateParsing)
			return nil, err
		}
		metrics.FetchPages.WithLabelValues("inner").Inc()
		pages = append(pages, *page)
		if !page.HasNextPage() {
			break
		}
		pageKey = page.NextPageKey
	}

	span.SetAttributes(telemetry.AttrPages.Int(len(pages)))
	return pages, nil
}

// fetchPage downloads one page, classifying failures. inner names the
// nested layer being fetched, empty for the top-level layer.
func (f *LayerFetcher) fetchPage(ctx context.Context, pageURL, inner string) ([]byte, error) {
	ctx, span := f.tracer.Start(ctx, telemetry.SpanFetchPage, trace.WithAttributes(
		telemetry.AttrURL.String(pageURL),
	))
	defer span.End()

	key := pageCacheKey(pageURL)
	if f.cacheable() {
		if data, err := f.cache.Get(ctx, key); err == nil && len(data) > 0 {
			metrics.CacheHits.WithLabelValues("layer_page").Inc()
			return data, nil
		}
		metrics.CacheMisses.WithLabelValues("layer_page").Inc()
	}

	pageCtx, cancel := context.WithTimeout(ctx, f.opts.PageTimeout)
	defer cancel()

	body, err := f.repo.FetchPage(pageCtx, pageURL)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || pageCtx.Err() != nil):
		return nil, domain.NewError(domain.KindFetchTimeout, err,
			"%s contents didn't download in %d seconds.", layerLabel(inner), int(f.opts.PageTimeout.Seconds()))
	case err != nil:
		return nil, domain.NewError(domain.KindFetchTransport, err, "%s contents download error", layerLabel(inner))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, domain.NewError(domain.KindFetchEmptyBody, nil, "%s contents download received empty text.", layerLabel(inner))
	}

	if f.cacheable() {
		if err := f.cache.Set(ctx, key, body, f.opts.PageCacheTTL); err != nil {
			f.logger.Warn("page cache write failed", "key", key, "error", err)
		}
	}
	return body, nil
}

func (f *LayerFetcher) parsePage(body []byte, inner string) (*domain.Layer, error) {
	var page domain.Layer
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, domain.NewError(domain.KindFetchParse, err, "%s parse exception", layerLabel(inner))
	}
	return &page, nil
}

func (f *LayerFetcher) cacheable() bool {
	return f.cache != nil && f.opts.PageCacheTTL > 0
}

func (f *LayerFetcher) fail(span trace.Span, err error, state FetchState) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, context.Canceled) {
		return
	}
	span.SetAttributes(telemetry.AttrErrorKind.String(domain.KindOf(err).String()))
	f.logger.Warn("layer fetch failed", "state", state.String(), "error", err)
}

// BuildURL composes the request url of one page.
func (f *LayerFetcher) BuildURL(q FetchQuery, target FetchTarget, pageKey string, inner bool) (string, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return "", fmt.Errorf("parse layer url %q: %w", target.URL, err)
	}

	params := u.Query()
	params.Set("lang", f.opts.Language)
	params.Set("lat", formatCoord(q.Used.Lat))
	params.Set("lon", formatCoord(q.Used.Lon))
	if q.Device.Lat != q.Used.Lat {
		params.Set("latOfDevice", formatCoord(q.Device.Lat))
	}
	if q.Device.Lon != q.Used.Lon {
		params.Set("lonOfDevice", formatCoord(q.Device.Lon))
	}
	params.Set("layerName", target.Layer)
	if pageKey != "" {
		params.Set("pageKey", pageKey)
	}
	params.Set("userId", f.opts.DeviceID)
	params.Set("client", f.opts.Client)
	params.Set("version", f.opts.Version)
	params.Set("radius", strconv.Itoa(f.opts.Radius))
	params.Set("accuracy", strconv.Itoa(f.opts.Accuracy))
	params.Set("bundle", f.opts.Bundle)
	params.Set("os", f.opts.OS)
	if inner {
		params.Set("innerLayer", "true")
	} else {
		params.Set("count", strconv.FormatInt(q.Count, 10))
	}
	params.Set("build", f.opts.Build)

	u.RawQuery = params.Encode()
	return u.String(), nil
}

// pageCacheKey drops the per-request counter and device id so repeated
// queries at the same position share an entry.
func pageCacheKey(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "layer:page:" + pageURL
	}
	params := u.Query()
	params.Del("count")
	params.Del("userId")
	u.RawQuery = params.Encode()
	return "layer:page:" + u.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func layerLabel(inner string) string {
	if inner == "" {
		return "Layer"
	}
	return "Layer " + inner
}

// InnerLayerNames returns the distinct inner layer names referenced by the POIs of pages.
func InnerLayerNames(pages []domain.Layer) []string {
	seen := make(map[string]bool)
	var names []string
	for i := range pages {
		for j := range pages[i].Hotspots {
			name := pages[i].Hotspots[j].InnerLayerName()
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// InnerLayerCache holds the pages of nested layers by name.
type InnerLayerCache struct {
	mu     sync.RWMutex
	layers map[string][]domain.Layer
}

// NewInnerLayerCache creates an empty cache.
func NewInnerLayerCache() *InnerLayerCache {
	return &InnerLayerCache{layers: make(map[string][]domain.Layer)}
}

// Get returns the pages of the named layer.
func (c *InnerLayerCache) Get(name string) ([]domain.Layer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pages, ok := c.layers[name]
	return pages, ok
}

// Has reports whether the named layer is cached.
func (c *InnerLayerCache) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Put stores the pages of the named layer.
func (c *InnerLayerCache) Put(name string, pages []domain.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers[name] = pages
}

// Len returns the number of cached layers.
func (c *InnerLayerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layers)
}

// Pages returns the pages of every cached layer.
func (c *InnerLayerCache) Pages() []domain.Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var all []domain.Layer
	for _, pages := range c.layers {
		all = append(all, pages...)
	}
	return all
}
