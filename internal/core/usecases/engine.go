package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/pkg/metrics"
	"github.com/samirrijal/geoaugment/internal/pkg/telemetry"
)

// Info texts shown while the engine has nothing to place yet.
const (
	SelectLayerText = "Please select a layer."
	LoadingText     = "Loading data, please wait"
)

// ErrRefreshThrottled is returned when refresh requests arrive too fast.
var ErrRefreshThrottled = errors.New("refresh requests are throttled")

var errRefreshRequested = errors.New("refresh requested")

// EngineState is the coarse state of the engine.
type EngineState string

const (
	EngineLocating  EngineState = "locating"
	EngineLoading   EngineState = "loading"
	EngineSelecting EngineState = "selecting"
	EngineRunning   EngineState = "running"
	EngineFailed    EngineState = "failed"
)

// EngineOptions configure an Engine.
type EngineOptions struct {
	Target              FetchTarget
	DirectoryLayer      string
	IconBundleURL       string
	DeviceAngle         float64
	HeadingWarmup       time.Duration
	LocationInitTimeout time.Duration
	RefreshPerMinute    int
}

// EngineStatus is a point-in-time view of the engine.
type EngineStatus struct {
	State           EngineState     `json:"state"`
	Error           string          `json:"error,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	Target          FetchTarget     `json:"target"`
	LayerTitle      string          `json:"layer_title,omitempty"`
	Generation      uint64          `json:"generation"`
	Objects         int             `json:"objects"`
	FPS             int             `json:"fps"`
	Position        domain.GeoPoint `json:"position"`
	Fixed           bool            `json:"fixed"`
	KalmanEnabled   bool            `json:"kalman_enabled"`
	RefreshInterval float64         `json:"refresh_interval"`
}

// Engine ties the fetch cycle, the object store and the foreground tick together.
// Run drives the background cycle; Tick is called once per rendered frame.
type Engine struct {
	opts       EngineOptions
	fetcher    *LayerFetcher
	bundles    *BundleResolver
	filter     *LocationFilter
	store      *ObjectStore
	builder    *ObjectBuilder
	placement  *PlacementEngine
	animations *AnimationEngine
	heading    *HeadingTracker
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *slog.Logger

	refreshCh   chan domain.RefreshRequest
	located     chan struct{}
	locatedOnce sync.Once

	mu              sync.RWMutex
	err             error
	target          FetchTarget
	items           []domain.LayerItem
	waiting         bool
	title           string
	refreshInterval float64
	cancelCycle     context.CancelCauseFunc
	loadingSince    time.Time

	seq  atomic.Uint64
	fps  atomic.Int64
	last atomic.Pointer[domain.Frame]
}

// NewEngine creates a new Engine.
func NewEngine(
	opts EngineOptions,
	fetcher *LayerFetcher,
	bundles *BundleResolver,
	filter *LocationFilter,
	store *ObjectStore,
	builder *ObjectBuilder,
	animations *AnimationEngine,
) *Engine {
	if opts.LocationInitTimeout <= 0 {
		opts.LocationInitTimeout = 30 * time.Second
	}
	if opts.DeviceAngle == 0 {
		opts.DeviceAngle = 360
	}
	limit := rate.Inf
	if opts.RefreshPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RefreshPerMinute))
	}
	return &Engine{
		opts:         opts,
		fetcher:      fetcher,
		bundles:      bundles,
		filter:       filter,
		store:        store,
		builder:      builder,
		placement:    NewPlacementEngine(),
		animations:   animations,
		heading:      NewHeadingTracker(opts.HeadingWarmup),
		limiter:      rate.NewLimiter(limit, 1),
		tracer:       telemetry.Tracer(),
		logger:       slog.Default().With("component", "engine"),
		refreshCh:    make(chan domain.RefreshRequest, 1),
		located:      make(chan struct{}),
		target:       opts.Target,
		loadingSince: time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Location
// ---------------------------------------------------------------------------

// UpdateLocation feeds one raw device location.
func (e *Engine) UpdateLocation(sample domain.LocationSample) domain.FilteredPosition {
	pos := e.filter.Update(sample.Lat, sample.Lon, sample.Accuracy, sample.TimestampMs)
	e.locatedOnce.Do(func() { close(e.located) })
	return pos
}

// TrackLocation feeds samples from src until ctx ends or src stops.
// Failing to start, or src closing before the first sample, is terminal.
func (e *Engine) TrackLocation(ctx context.Context, src ports.LocationSource) error {
	samples, err := src.Start(ctx)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			err = domain.NewError(domain.KindLocationServiceDisabled, err, "Please enable the location service of your device.")
		}
		e.fail(err)
		return err
	}

	got := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				if !got {
					err := domain.NewError(domain.KindLocationUnavailable, nil, "Unable to determine the device location.")
					e.fail(err)
					return err
				}
				return nil
			}
			got = true
			e.UpdateLocation(sample)
		}
	}
}

func (e *Engine) awaitLocation(ctx context.Context) error {
	select {
	case <-e.located:
		return nil
	default:
	}

	timer := time.NewTimer(e.opts.LocationInitTimeout)
	defer timer.Stop()
	select {
	case <-e.located:
		return nil
	case <-timer.C:
		return domain.NewError(domain.KindLocationInitTimeout, nil,
			"Location service didn't initialize in %d seconds.", int(e.opts.LocationInitTimeout.Seconds()))
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// ---------------------------------------------------------------------------
// Background cycle
// ---------------------------------------------------------------------------

// Run drives fetch cycles until ctx ends. After a terminal error it waits
// for a refresh request before starting over.
func (e *Engine) Run(ctx context.Context) error {
	var count int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.Err() != nil {
			req, err := e.waitRefresh(ctx, 0)
			if err != nil {
				return err
			}
			e.applyRefresh(*req)
			count = 0
			continue
		}

		count++
		cycleCtx, cancel := context.WithCancelCause(ctx)
		e.setCycleCancel(cancel)
		directory, err := e.cycle(cycleCtx, count)
		cause := context.Cause(cycleCtx)
		e.setCycleCancel(nil)
		cancel(nil)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(cause, errRefreshRequested):
			select {
			case req := <-e.refreshCh:
				e.applyRefresh(req)
			default:
			}
			count = 0
			continue
		case err != nil:
			e.fail(err)
			continue
		}

		interval := time.Duration(0)
		if !directory {
			interval = time.Duration(e.RefreshInterval() * float64(time.Second))
		}
		req, err := e.waitRefresh(ctx, interval)
		if err != nil {
			return err
		}
		if req != nil {
			e.applyRefresh(*req)
			count = 0
		}
	}
}

// cycle runs one fetch cycle. It reports whether a directory is awaiting selection.
func (e *Engine) cycle(ctx context.Context, count int64) (bool, error) {
	start := time.Now()
	defer func() { metrics.FetchCycleDuration.Observe(time.Since(start).Seconds()) }()

	if err := e.awaitLocation(ctx); err != nil {
		return false, err
	}

	gen := e.store.BeginGeneration()
	device, _ := e.filter.Filtered()
	q := FetchQuery{
		Target: e.Target(),
		Used:   e.filter.Used(),
		Device: device.Point(),
		Count:  count,
	}

	res, err := e.fetcher.Fetch(ctx, q)
	if err != nil {
		return false, err
	}
	q.Target = res.Target
	e.setTarget(res.Target)

	if e.opts.IconBundleURL != "" {
		if err := e.bundles.Resolve(ctx, []string{e.opts.IconBundleURL}); err != nil {
			return false, err
		}
	}
	if items := e.directoryItems(res.Pages); len(items) > 0 {
		e.mu.Lock()
		e.items = items
		e.waiting = true
		e.mu.Unlock()
		e.logger.Info("waiting for layer selection", "items", len(items))
		return true, nil
	}

	if err := e.fetcher.ResolveInnerLayers(ctx, q, res.Target.Layer, res.Pages); err != nil {
		return false, err
	}
	if err := e.bundles.Resolve(ctx, BundleURLs(res.Pages, e.fetcher.InnerLayers().Pages())); err != nil {
		return false, err
	}

	_, span := e.tracer.Start(ctx, telemetry.SpanReconcile, trace.WithAttributes(
		telemetry.AttrGeneration.Int64(int64(gen)),
	))
	r := Reconcile(e.store.Snapshot(), res.Pages, q.Used)
	span.End()

	e.filter.SetEnabled(r.Settings.ApplyKalman)
	e.mu.Lock()
	if r.Settings.Title != "" {
		e.title = r.Settings.Title
	}
	if r.Settings.RefreshInterval >= 1 {
		e.refreshInterval = r.Settings.RefreshInterval
	}
	e.mu.Unlock()

	if !e.store.Stage(gen, r) {
		e.logger.Debug("dropped stale reconciliation", "generation", gen)
		return false, nil
	}
	e.logger.Info("reconciliation staged",
		"generation", gen,
		"layer", res.Target.Layer,
		"pages", len(res.Pages),
		"create", len(r.ToCreate),
		"delete", len(r.ToDelete),
		"update", len(r.Updates),
	)
	return false, nil
}

func (e *Engine) directoryItems(pages []domain.Layer) []domain.LayerItem {
	var icons ports.Bundle
	if e.opts.IconBundleURL != "" {
		icons, _ = e.bundles.Lookup(e.opts.IconBundleURL)
	}
	return DirectoryItems(pages, e.opts.DirectoryLayer, icons)
}

// DirectoryItems lists the POIs of the directory layer pages as selectable
// layers. icons may be nil.
func DirectoryItems(pages []domain.Layer, directoryLayer string, icons ports.Bundle) []domain.LayerItem {
	var items []domain.LayerItem
	for i := range pages {
		if pages[i].Name != directoryLayer {
			continue
		}
		for _, poi := range pages[i].Hotspots {
			item := domain.LayerItem{
				LayerName: poi.Title,
				ItemName:  poi.Line1,
				Line2:     poi.Line2,
				Line3:     poi.Line3,
				URL:       poi.BaseURL(),
				Distance:  poi.Distance,
			}
			if poi.Line4 != "" && icons != nil && icons.Has(poi.Line4) {
				item.Icon = poi.Line4
			}
			items = append(items, item)
		}
	}
	return items
}

// waitRefresh blocks for a refresh request. With d > 0 it gives up after d
// and returns nil.
func (e *Engine) waitRefresh(ctx context.Context, d time.Duration) (*domain.RefreshRequest, error) {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case req := <-e.refreshCh:
		return &req, nil
	case <-timeout:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestRefresh restarts the fetch cycle with the given target.
func (e *Engine) RequestRefresh(req domain.RefreshRequest) error {
	if !e.limiter.Allow() {
		metrics.RefreshRequests.WithLabelValues("throttled").Inc()
		return ErrRefreshThrottled
	}
	metrics.RefreshRequests.WithLabelValues("accepted").Inc()
	e.enqueueRefresh(req)
	return nil
}

func (e *Engine) enqueueRefresh(req domain.RefreshRequest) {
	// Only the latest request matters.
	for {
		select {
		case e.refreshCh <- req:
			e.mu.RLock()
			cancel := e.cancelCycle
			e.mu.RUnlock()
			if cancel != nil {
				cancel(errRefreshRequested)
			}
			return
		default:
			select {
			case <-e.refreshCh:
			default:
			}
		}
	}
}

func (e *Engine) applyRefresh(req domain.RefreshRequest) {
	e.mu.Lock()
	failed := e.err != nil
	e.err = nil
	e.items = nil
	e.waiting = false
	if !strings.EqualFold(strings.TrimSpace(req.LayerName), domain.ReloadLayerData) {
		if u := strings.TrimSpace(req.URL); u != "" {
			e.target.URL = u
		}
		if l := strings.TrimSpace(req.LayerName); l != "" {
			e.target.Layer = l
		}
		if req.Lat != nil && req.Lon != nil {
			e.filter.SetFixed(&domain.GeoPoint{Lat: *req.Lat, Lon: *req.Lon})
		} else {
			e.filter.SetFixed(nil)
		}
	}
	target := e.target
	e.mu.Unlock()

	if failed {
		e.store.Reset()
		e.placement.Invalidate()
		e.mu.Lock()
		e.loadingSince = time.Now()
		e.mu.Unlock()
	}
	e.logger.Info("refresh", "url", target.URL, "layer", target.Layer, "recovered", failed)
}

// fail records err unless an error is already set. The first error wins.
func (e *Engine) fail(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	e.mu.Lock()
	if e.err != nil {
		e.mu.Unlock()
		return
	}
	e.err = err
	cancel := e.cancelCycle
	e.mu.Unlock()

	metrics.FetchErrors.WithLabelValues(domain.KindOf(err).String()).Inc()
	e.logger.Error("engine failed", "kind", domain.KindOf(err).String(), "error", err)
	if cancel != nil {
		cancel(err)
	}
}

// errorText renders the recorded error, falling back to err when none is set.
func (e *Engine) errorText(err error) string {
	if recorded := e.Err(); recorded != nil {
		return domain.UserMessage(recorded)
	}
	return domain.UserMessage(err)
}

func (e *Engine) setCycleCancel(cancel context.CancelCauseFunc) {
	e.mu.Lock()
	e.cancelCycle = cancel
	e.mu.Unlock()
}

func (e *Engine) setTarget(t FetchTarget) {
	e.mu.Lock()
	e.target = t
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Foreground tick
// ---------------------------------------------------------------------------

// Tick applies staged reconciliations, advances animations and placement and
// returns the frame to render.
func (e *Engine) Tick(ctx context.Context, input domain.TickInput, now time.Time) domain.Frame {
	frame := e.tick(ctx, input, now)
	e.last.Store(&frame)
	return frame
}

func (e *Engine) tick(ctx context.Context, input domain.TickInput, now time.Time) domain.Frame {
	frame := domain.Frame{Sequence: e.seq.Add(1)}
	fps := e.placement.CountFrame(now)
	e.fps.Store(int64(fps))
	metrics.FramesPerSecond.Set(float64(fps))
	frame.FPS = fps

	if err := e.Err(); err != nil {
		frame.ErrorText = domain.UserMessage(err)
		frame.InfoText = frame.ErrorText
		return frame
	}
	if e.Waiting() {
		frame.InfoText = SelectLayerText
		return frame
	}

	used := e.filter.Used()
	if e.store.IsDirty() {
		res, err := e.store.Apply(e.builder, used)
		if err != nil {
			e.fail(err)
			frame.ErrorText = e.errorText(err)
			frame.InfoText = frame.ErrorText
			return frame
		}
		if res != nil {
			if res.First {
				if res.Live == 0 {
					err := domain.NewError(domain.KindNoAugmentsAtLocation, nil, "%s", res.Settings.NoPoisMessage)
					e.fail(err)
					frame.ErrorText = e.errorText(err)
					frame.InfoText = frame.ErrorText
					return frame
				}
				e.heading.Start(now, input.Heading)
			}
			frame.Generation = &domain.GenerationSummary{
				Generation: res.Generation,
				Created:    res.Created,
				Deleted:    res.Deleted,
				Updated:    res.Updated,
				Live:       res.Live,
				LayerTitle: res.Settings.Title,
			}
		}
	}

	if !e.store.Applied() {
		e.mu.RLock()
		since := e.loadingSince
		e.mu.RUnlock()
		frame.InfoText = LoadingText + strings.Repeat(".", int(now.Sub(since).Seconds())%4)
		return frame
	}

	e.heading.Update(now, input.Heading)
	frame.SceneYaw = e.heading.SceneYaw(e.opts.DeviceAngle)

	var anim AnimationResult
	objects := 0
	e.store.Do(func(live Live) {
		anim = e.animations.Tick(ctx, live, input, now)
		e.placement.UpdateTargets(live, used)
		frame.Placements = e.placement.Render(live, fps)
		frame.Duplicates = e.animations.CollectDuplicates(live)
		objects = live.Len()
	})
	frame.Hit, frame.Click = anim.Hit, anim.Click
	frame.Events = anim.Events

	if anim.Reload {
		e.enqueueRefresh(domain.RefreshRequest{LayerName: domain.ReloadLayerData})
	}

	frame.InfoText = e.infoText(used, fps, objects, anim)
	return frame
}

func (e *Engine) infoText(used domain.GeoPoint, fps, objects int, anim AnimationResult) string {
	settings := e.store.Settings()
	if !settings.ShowInfo {
		return ""
	}
	if settings.InfoMessage != "" {
		return settings.InfoMessage
	}
	text := fmt.Sprintf(" LA %.6f LO %.6f F %d H %d N %d",
		used.Lat, used.Lon, fps, int(e.heading.Shown()), objects)
	if anim.Hit {
		text += " h "
	}
	if anim.Click {
		text += " c "
	}
	return text
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Err returns the terminal error, if any.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Waiting reports whether the engine waits for a layer selection.
func (e *Engine) Waiting() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.waiting
}

// Target returns the url and layer the next cycle queries.
func (e *Engine) Target() FetchTarget {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.target
}

// RefreshInterval returns the refresh interval in seconds, 0 when none is set.
func (e *Engine) RefreshInterval() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.refreshInterval
}

// LayerItems returns the directory entries offered for selection.
func (e *Engine) LayerItems() []domain.LayerItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.LayerItem(nil), e.items...)
}

// Objects returns copies of all live objects.
func (e *Engine) Objects() []domain.AugmentObject {
	return e.store.Objects()
}

// LastFrame returns the most recent frame produced by Tick.
func (e *Engine) LastFrame() (domain.Frame, bool) {
	f := e.last.Load()
	if f == nil {
		return domain.Frame{}, false
	}
	return *f, true
}

// Object returns a copy of one live object.
func (e *Engine) Object(id int64) (domain.AugmentObject, bool) {
	return e.store.Get(id)
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() EngineStatus {
	_, total := e.store.Count()
	e.mu.RLock()
	st := EngineStatus{
		Target:          e.target,
		LayerTitle:      e.title,
		RefreshInterval: e.refreshInterval,
	}
	err, waiting := e.err, e.waiting
	e.mu.RUnlock()

	st.Generation = e.store.Generation()
	st.Objects = total
	st.FPS = int(e.fps.Load())
	st.Position = e.filter.Used()
	st.Fixed = e.filter.Fixed() != nil
	st.KalmanEnabled = e.filter.Enabled()

	_, located := e.filter.Filtered()
	switch {
	case err != nil:
		st.State = EngineFailed
		st.Error = domain.UserMessage(err)
		st.ErrorKind = domain.KindOf(err).String()
	case waiting:
		st.State = EngineSelecting
	case !located:
		st.State = EngineLocating
	case !e.store.Applied():
		st.State = EngineLoading
	default:
		st.State = EngineRunning
	}
	return st
}
