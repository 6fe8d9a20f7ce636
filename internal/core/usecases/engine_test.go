package usecases_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
)

// --- Mock BundleRepository and BundleDecoder ---

type mockBundleRepo struct {
	fetchBundleFn func(ctx context.Context, url string) ([]byte, error)
}

func (m *mockBundleRepo) FetchBundle(ctx context.Context, url string) ([]byte, error) {
	if m.fetchBundleFn != nil {
		return m.fetchBundleFn(ctx, url)
	}
	return []byte("cube,sphere"), nil
}

type mockDecoder struct {
	decodeFn func(url string, data []byte) (ports.Bundle, error)
}

func (m *mockDecoder) Decode(url string, data []byte) (ports.Bundle, error) {
	if m.decodeFn != nil {
		return m.decodeFn(url, data)
	}
	b := mockBundle{}
	for _, ref := range strings.Split(string(data), ",") {
		b[ref] = true
	}
	return b, nil
}

// --- Mock LocationSource ---

type mockLocationSource struct {
	startFn func(ctx context.Context) (<-chan domain.LocationSample, error)
}

func (m *mockLocationSource) Start(ctx context.Context) (<-chan domain.LocationSample, error) {
	return m.startFn(ctx)
}

// --- helpers ---

func newTestEngine(repo *mockLayerRepo, mutate func(*usecases.EngineOptions)) *usecases.Engine {
	fetcher := usecases.NewLayerFetcher(repo, nil, testFetchOptions())
	bundles := usecases.NewBundleResolver(&mockBundleRepo{}, &mockDecoder{}, time.Second)
	filter := usecases.NewLocationFilter(3)
	store := usecases.NewObjectStore()
	builder := usecases.NewObjectBuilder(bundles, fetcher.InnerLayers(), false)

	opts := usecases.EngineOptions{
		Target:              usecases.FetchTarget{URL: "http://layers.test/svc", Layer: "Tamiko"},
		DirectoryLayer:      "Arpoise-Directory",
		DeviceAngle:         360,
		HeadingWarmup:       2 * time.Second,
		LocationInitTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return usecases.NewEngine(opts, fetcher, bundles, filter, store, builder, usecases.NewAnimationEngine(nil))
}

func runEngine(t *testing.T, e *usecases.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func locate(e *usecases.Engine) {
	e.UpdateLocation(domain.LocationSample{Lat: here.Lat, Lon: here.Lon, Accuracy: 5, TimestampMs: 1})
}

func tickUntil(t *testing.T, e *usecases.Engine, cond func(domain.Frame) bool) domain.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last domain.Frame
	for time.Now().Before(deadline) {
		last = e.Tick(context.Background(), domain.TickInput{Heading: 90}, time.Now())
		if cond(last) {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached, last frame: %+v", last)
	return last
}

func layerWith(name string, pois ...domain.Poi) domain.Layer {
	for i := range pois {
		pois[i].Object.BaseURL = "http://bundles.test/b.ace"
	}
	return domain.Layer{Name: name, Hotspots: pois}
}

func TestEngine_FirstGenerationPlacesObjects(t *testing.T) {
	repo := &mockLayerRepo{
		fetchPageFn: func(ctx context.Context, rawURL string) ([]byte, error) {
			l := layerWith("Tamiko", poiAt(1, "cube", "", here.Lat+0.0001, here.Lon))
			l.Title = "Garden"
			return mustJSON(t, l), nil
		},
	}
	e := newTestEngine(repo, nil)
	locate(e)
	runEngine(t, e)

	f := tickUntil(t, e, func(f domain.Frame) bool { return f.Generation != nil })
	if f.Generation.Live != 1 || f.Generation.Created != 1 {
		t.Errorf("unexpected generation summary %+v", f.Generation)
	}
	if len(f.Placements) != 1 || f.Placements[0].ObjectID != 1 {
		t.Errorf("expected object 1 placed, got %+v", f.Placements)
	}
	if f.SceneYaw != 360-90 {
		t.Errorf("expected scene yaw from the initial heading, got %f", f.SceneYaw)
	}
	if f.InfoText != "" {
		t.Errorf("expected no info text, got %q", f.InfoText)
	}

	st := e.Status()
	if st.State != usecases.EngineRunning || st.LayerTitle != "Garden" || st.Objects != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestEngine_NoAugmentsIsTerminal(t *testing.T) {
	repo := &mockLayerRepo{
		fetchPageFn: func(ctx context.Context, rawURL string) ([]byte, error) {
			return mustJSON(t, domain.Layer{Name: "Tamiko", NoPoisMessage: "Nothing here"}), nil
		},
	}
	e := newTestEngine(repo, nil)
	locate(e)
	runEngine(t, e)

	f := tickUntil(t, e, func(f domain.Frame) bool { return f.ErrorText != "" })
	if f.ErrorText != "Nothing here" {
		t.Errorf("expected layer message, got %q", f.ErrorText)
	}
	if !errors.Is(e.Err(), domain.ErrNoAugmentsAtLocation) {
		t.Errorf("expected no-augments error, got %v", e.Err())
	}
	if st := e.Status(); st.State != usecases.EngineFailed || st.ErrorKind != "no_augments_at_location" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestEngine_FetchErrorWaitsForRefresh(t *testing.T) {
	fail := true
	repo := &mockLayerRepo{}
	repo.fetchPageFn = func(ctx context.Context, rawURL string) ([]byte, error) {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		if fail {
			return []byte(""), nil
		}
		return mustJSON(t, layerWith("Tamiko", poiAt(1, "cube", "", here.Lat, here.Lon))), nil
	}
	e := newTestEngine(repo, nil)
	locate(e)
	runEngine(t, e)

	f := tickUntil(t, e, func(f domain.Frame) bool { return f.ErrorText != "" })
	if !strings.Contains(f.ErrorText, "empty text") {
		t.Errorf("unexpected error text %q", f.ErrorText)
	}

	repo.mu.Lock()
	fail = false
	repo.mu.Unlock()
	if err := e.RequestRefresh(domain.RefreshRequest{}); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	tickUntil(t, e, func(f domain.Frame) bool { return len(f.Placements) == 1 })
}

func TestEngine_DirectorySelection(t *testing.T) {
	repo := &mockLayerRepo{
		fetchPageFn: func(ctx context.Context, rawURL string) ([]byte, error) {
			if params(t, rawURL).Get("layerName") == "Arpoise-Directory" {
				return mustJSON(t, domain.Layer{Name: "Arpoise-Directory", Hotspots: []domain.Poi{{
					ID:       9,
					Title:    "Tamiko",
					Line1:    "Tamiko's garden",
					Distance: 12,
					Object:   domain.PoiObject{BaseURL: "http://layers.test/tamiko"},
				}}}), nil
			}
			if !strings.HasPrefix(rawURL, "http://layers.test/tamiko") {
				t.Errorf("expected selected service url, got %s", rawURL)
			}
			return mustJSON(t, layerWith("Tamiko", poiAt(1, "cube", "", 1.0, 2.0))), nil
		},
	}
	e := newTestEngine(repo, func(o *usecases.EngineOptions) {
		o.Target = usecases.FetchTarget{URL: "http://layers.test/svc", Layer: "Arpoise-Directory"}
	})
	locate(e)
	runEngine(t, e)

	tickUntil(t, e, func(f domain.Frame) bool { return f.InfoText == usecases.SelectLayerText })
	items := e.LayerItems()
	if len(items) != 1 || items[0].LayerName != "Tamiko" || items[0].ItemName != "Tamiko's garden" {
		t.Fatalf("unexpected items %+v", items)
	}
	if st := e.Status(); st.State != usecases.EngineSelecting {
		t.Errorf("expected selecting state, got %s", st.State)
	}

	lat, lon := 1.0, 2.0
	err := e.RequestRefresh(domain.RefreshRequest{URL: items[0].URL, LayerName: items[0].LayerName, Lat: &lat, Lon: &lon})
	if err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}

	tickUntil(t, e, func(f domain.Frame) bool { return len(f.Placements) == 1 })
	st := e.Status()
	if !st.Fixed || st.Position.Lat != 1 || st.Target.Layer != "Tamiko" {
		t.Errorf("expected fixed position and selected layer, got %+v", st)
	}
}

func TestEngine_InfoTextDiagnostics(t *testing.T) {
	repo := &mockLayerRepo{
		fetchPageFn: func(ctx context.Context, rawURL string) ([]byte, error) {
			poi := poiAt(1, "cube", "", here.Lat, here.Lon)
			poi.Animations.OnClick = []domain.AnimationSpec{{Name: "tap", Type: "scale", Length: 1}}
			l := layerWith("Tamiko", poi)
			l.Actions = []domain.Action{{ShowActivity: true}}
			return mustJSON(t, l), nil
		},
	}
	e := newTestEngine(repo, nil)
	locate(e)
	runEngine(t, e)

	f := tickUntil(t, e, func(f domain.Frame) bool { return len(f.Placements) == 1 })
	if !strings.HasPrefix(f.InfoText, " LA 48.158464 LO 11.578708 F ") || !strings.HasSuffix(f.InfoText, " N 1") {
		t.Errorf("unexpected info text %q", f.InfoText)
	}

	f = e.Tick(context.Background(), domain.TickInput{ClickHit: ptr(1), Heading: 90}, time.Now())
	if !f.Click || !strings.HasSuffix(f.InfoText, " c ") {
		t.Errorf("expected click marker, got %q", f.InfoText)
	}
}

func TestEngine_LocationInitTimeout(t *testing.T) {
	e := newTestEngine(&mockLayerRepo{}, func(o *usecases.EngineOptions) {
		o.LocationInitTimeout = 20 * time.Millisecond
	})
	runEngine(t, e)

	tickUntil(t, e, func(f domain.Frame) bool { return f.ErrorText != "" })
	if !errors.Is(e.Err(), domain.ErrLocationInitTimeout) {
		t.Errorf("expected location init timeout, got %v", e.Err())
	}
}

func TestEngine_TrackLocation(t *testing.T) {
	e := newTestEngine(&mockLayerRepo{}, nil)
	src := &mockLocationSource{startFn: func(ctx context.Context) (<-chan domain.LocationSample, error) {
		ch := make(chan domain.LocationSample, 1)
		ch <- domain.LocationSample{Lat: 1, Lon: 2, Accuracy: 5}
		close(ch)
		return ch, nil
	}}
	if err := e.TrackLocation(context.Background(), src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := e.Status(); st.Position.Lat != 1 || st.Position.Lon != 2 {
		t.Errorf("expected tracked position, got %+v", st.Position)
	}

	e = newTestEngine(&mockLayerRepo{}, nil)
	src.startFn = func(ctx context.Context) (<-chan domain.LocationSample, error) {
		return nil, errors.New("permission denied")
	}
	if err := e.TrackLocation(context.Background(), src); !errors.Is(err, domain.ErrLocationServiceDisabled) {
		t.Errorf("expected location service disabled, got %v", err)
	}

	e = newTestEngine(&mockLayerRepo{}, nil)
	src.startFn = func(ctx context.Context) (<-chan domain.LocationSample, error) {
		ch := make(chan domain.LocationSample)
		close(ch)
		return ch, nil
	}
	if err := e.TrackLocation(context.Background(), src); !errors.Is(err, domain.ErrLocationUnavailable) {
		t.Errorf("expected location unavailable, got %v", err)
	}
}

func TestEngine_RefreshThrottled(t *testing.T) {
	e := newTestEngine(&mockLayerRepo{}, func(o *usecases.EngineOptions) {
		o.RefreshPerMinute = 1
	})
	if err := e.RequestRefresh(domain.RefreshRequest{}); err != nil {
		t.Fatalf("first refresh must pass: %v", err)
	}
	if err := e.RequestRefresh(domain.RefreshRequest{}); !errors.Is(err, usecases.ErrRefreshThrottled) {
		t.Errorf("expected throttled, got %v", err)
	}
}

func TestEngine_RefreshIntervalRefetches(t *testing.T) {
	repo := &mockLayerRepo{
		fetchPageFn: func(ctx context.Context, rawURL string) ([]byte, error) {
			l := layerWith("Tamiko", poiAt(1, "cube", "", here.Lat, here.Lon))
			l.RefreshInterval = 1
			return mustJSON(t, l), nil
		},
	}
	e := newTestEngine(repo, nil)
	locate(e)
	runEngine(t, e)

	tickUntil(t, e, func(f domain.Frame) bool { return f.Generation != nil })
	if got := e.RefreshInterval(); got != 1 {
		t.Errorf("expected refresh interval 1, got %f", got)
	}
	tickUntil(t, e, func(domain.Frame) bool { return len(repo.Calls()) >= 2 })
}

func TestEngine_ConstructionErrorMatchesStatus(t *testing.T) {
	repo := &mockLayerRepo{
		fetchPageFn: func(ctx context.Context, rawURL string) ([]byte, error) {
			return mustJSON(t, layerWith("Tamiko", poiAt(1, "missing", "", here.Lat, here.Lon))), nil
		},
	}
	e := newTestEngine(repo, nil)
	locate(e)
	runEngine(t, e)

	f := tickUntil(t, e, func(f domain.Frame) bool { return f.ErrorText != "" })
	if !errors.Is(e.Err(), domain.ErrObjectConstruction) {
		t.Fatalf("expected construction error, got %v", e.Err())
	}
	if f.ErrorText != domain.UserMessage(e.Err()) {
		t.Errorf("frame error %q differs from recorded error %q", f.ErrorText, domain.UserMessage(e.Err()))
	}
}
