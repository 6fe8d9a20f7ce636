package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/geoaugment/internal/adapters/http"
	"github.com/samirrijal/geoaugment/internal/adapters/remote"
	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
)

// ---- Mock repositories ----

type mockLayerRepo struct {
	fetchPageFn func(ctx context.Context, url string) ([]byte, error)
}

func (m *mockLayerRepo) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if m.fetchPageFn != nil {
		return m.fetchPageFn(ctx, url)
	}
	return []byte(`{"layer":"Empty","hotspots":[]}`), nil
}

type mockBundleRepo struct{}

func (m *mockBundleRepo) FetchBundle(ctx context.Context, url string) ([]byte, error) {
	return []byte(`{"name":"garden","objects":["cube","sphere"]}`), nil
}

// ---- Test helpers ----

var here = domain.GeoPoint{Lat: 48.158464, Lon: 11.578708}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func newEngine(repo *mockLayerRepo, refreshPerMinute int) *usecases.Engine {
	fetcher := usecases.NewLayerFetcher(repo, nil, usecases.FetchOptions{
		Language:     "en",
		Client:       "Arpoise",
		Radius:       1500,
		PageTimeout:  time.Second,
		MaxRedirects: 10,
	})
	bundles := usecases.NewBundleResolver(&mockBundleRepo{}, remote.NewManifestDecoder(), time.Second)
	builder := usecases.NewObjectBuilder(bundles, fetcher.InnerLayers(), false)
	return usecases.NewEngine(usecases.EngineOptions{
		Target:              usecases.FetchTarget{URL: "http://layers.test/svc", Layer: "Tamiko"},
		DirectoryLayer:      "Arpoise-Directory",
		LocationInitTimeout: time.Second,
		RefreshPerMinute:    refreshPerMinute,
	}, fetcher, bundles, usecases.NewLocationFilter(3), usecases.NewObjectStore(), builder, usecases.NewAnimationEngine(nil))
}

func makeDeps(opts ...func(*handler.Dependencies)) *handler.Dependencies {
	d := &handler.Dependencies{
		Engine:  newEngine(&mockLayerRepo{}, 0),
		Version: "test",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func poi(id int64, ref string, lat, lon float64) domain.Poi {
	return domain.Poi{
		ID:        id,
		Title:     ref,
		Lat:       lat,
		Lon:       lon,
		Object:    domain.PoiObject{BaseURL: "http://bundles.test/garden", Full: ref},
		Transform: &domain.Transform{Scale: 1},
	}
}

// runningEngine starts an engine serving one layer and ticks until the
// first generation is applied.
func runningEngine(t *testing.T, pois ...domain.Poi) *usecases.Engine {
	t.Helper()
	data, err := json.Marshal(domain.Layer{Name: "Tamiko", Title: "Garden", Hotspots: pois})
	if err != nil {
		t.Fatal(err)
	}
	e := newEngine(&mockLayerRepo{
		fetchPageFn: func(ctx context.Context, url string) ([]byte, error) { return data, nil },
	}, 0)
	e.UpdateLocation(domain.LocationSample{Lat: here.Lat, Lon: here.Lon, Accuracy: 5, TimestampMs: 1})

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

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f := e.Tick(context.Background(), domain.TickInput{}, time.Now()); f.Generation != nil {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine did not apply a generation, status %+v", e.Status())
	return nil
}

// ---- Health handler tests ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", result["status"])
	}
	if result["version"] != "test" {
		t.Errorf("expected version test, got %v", result["version"])
	}
}

func TestReady_NoEngine(t *testing.T) {
	app := setupApp(makeDeps(func(d *handler.Dependencies) { d.Engine = nil }))

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReady_EngineWithoutBrokers(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Checks["engine"] != string(usecases.EngineLocating) {
		t.Errorf("expected locating engine, got %q", result.Checks["engine"])
	}
	if result.Checks["nats"] != "not configured" {
		t.Errorf("expected nats not configured, got %q", result.Checks["nats"])
	}
}

// ---- Engine handler tests ----

func TestStatus_Locating(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/status", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var st usecases.EngineStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.State != usecases.EngineLocating {
		t.Errorf("expected locating, got %s", st.State)
	}
	if st.Target.Layer != "Tamiko" {
		t.Errorf("expected configured layer, got %q", st.Target.Layer)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %q", cc)
	}
}

func TestFrame_NotRenderedYet(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/frame", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var apiErr handler.APIError
	json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Code != "not_found" {
		t.Errorf("expected not_found code, got %q", apiErr.Code)
	}
	if apiErr.RequestID == "" {
		t.Error("expected request id in error body")
	}
}

func TestFrame_ReturnsLastTick(t *testing.T) {
	deps := makeDeps()
	deps.Engine.Tick(context.Background(), domain.TickInput{}, time.Now())
	deps.Engine.Tick(context.Background(), domain.TickInput{}, time.Now())
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/frame", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var f domain.Frame
	json.NewDecoder(resp.Body).Decode(&f)
	if f.Sequence != 2 {
		t.Errorf("expected frame 2, got %d", f.Sequence)
	}
	if resp.Header.Get("ETag") != "" {
		t.Error("no-store responses must not carry an ETag")
	}
}

func TestObjects_ListAndGet(t *testing.T) {
	e := runningEngine(t,
		poi(1, "cube", here.Lat+0.0001, here.Lon),
		poi(2, "sphere", here.Lat, here.Lon+0.0001),
		poi(3, "cube", here.Lat-0.0001, here.Lon),
	)
	app := setupApp(makeDeps(func(d *handler.Dependencies) { d.Engine = e }))

	req := httptest.NewRequest("GET", "/v1/objects?offset=1&limit=1", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.AugmentObject `json:"data"`
		Pagination handler.Pagination     `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Pagination.Total != 3 || len(result.Data) != 1 {
		t.Errorf("expected 1 of 3 objects, got %d of %d", len(result.Data), result.Pagination.Total)
	}
	link := resp.Header.Get("Link")
	if !strings.Contains(link, `rel="prev"`) || !strings.Contains(link, `rel="next"`) {
		t.Errorf("expected prev and next links, got %s", link)
	}

	req = httptest.NewRequest("GET", "/v1/objects/2", nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var obj domain.AugmentObject
	json.NewDecoder(resp.Body).Decode(&obj)
	if obj.ID != 2 || obj.ObjectRef != "sphere" {
		t.Errorf("unexpected object %+v", obj)
	}
}

func TestGetObject_NotFound(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/objects/99", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetObject_BadID(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/objects/cube", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLayers_EmptyDirectory(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/layers", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := readBody(t, resp.Body)
	if !strings.Contains(string(body), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", body)
	}
}

func TestRefresh_Accepted(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("POST", "/v1/refresh", strings.NewReader(`{"layer_name":"Garden"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestRefresh_Throttled(t *testing.T) {
	deps := makeDeps(func(d *handler.Dependencies) { d.Engine = newEngine(&mockLayerRepo{}, 1) })
	app := setupApp(deps)

	var resp *http.Response
	for i, want := range []int{202, 429} {
		req := httptest.NewRequest("POST", "/v1/refresh", nil)
		resp, _ = app.Test(req, -1)
		if resp.StatusCode != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}

	var apiErr handler.APIError
	if err := json.Unmarshal(readBody(t, resp.Body), &apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Status != 429 || apiErr.Code != "rate_limited" {
		t.Errorf("unexpected error body %+v", apiErr)
	}
}

func TestRefresh_PartialPosition(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("POST", "/v1/refresh", strings.NewReader(`{"lat":48.1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLocation_UpdatesPosition(t *testing.T) {
	deps := makeDeps()
	app := setupApp(deps)

	req := httptest.NewRequest("POST", "/v1/location", strings.NewReader(`{"lat":48.158464,"lon":11.578708,"accuracy":8}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var pos domain.FilteredPosition
	json.NewDecoder(resp.Body).Decode(&pos)
	if pos.Lat != here.Lat || pos.Lon != here.Lon {
		t.Errorf("first sample must pass through, got %+v", pos)
	}
	if st := deps.Engine.Status(); st.State == usecases.EngineLocating {
		t.Error("engine still locating after a sample")
	}
}

func TestLocation_OutOfRange(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("POST", "/v1/location", strings.NewReader(`{"lat":120,"lon":0}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- GraphQL ----

func graphqlRequest(t *testing.T, app *fiber.App, query string) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"query": query})
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if errs, ok := result["errors"]; ok {
		t.Fatalf("unexpected graphql errors: %v", errs)
	}
	return result["data"].(map[string]interface{})
}

func TestGraphQL_StatusAndObjects(t *testing.T) {
	e := runningEngine(t, poi(7, "cube", here.Lat+0.0001, here.Lon))
	app := setupApp(makeDeps(func(d *handler.Dependencies) { d.Engine = e }))

	data := graphqlRequest(t, app, `{ status { state layer_title target { layer } } objects { id object_ref geo { lat } } }`)

	status := data["status"].(map[string]interface{})
	if status["state"] != string(usecases.EngineRunning) {
		t.Errorf("expected running, got %v", status["state"])
	}
	if status["layer_title"] != "Garden" {
		t.Errorf("expected layer title Garden, got %v", status["layer_title"])
	}

	objects := data["objects"].([]interface{})
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}
	obj := objects[0].(map[string]interface{})
	if obj["id"] != "7" || obj["object_ref"] != "cube" {
		t.Errorf("unexpected object %v", obj)
	}
}

func TestGraphQL_RefreshMutation(t *testing.T) {
	app := setupApp(makeDeps())

	data := graphqlRequest(t, app, `mutation { refresh(layer: "Garden") { url layer } }`)
	if data["refresh"] == nil {
		t.Fatal("expected refresh result")
	}
}

// ---- Middleware ----

func TestAPIVersionHeader(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if v := resp.Header.Get("X-API-Version"); v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

func TestETag_NotModified(t *testing.T) {
	app := setupApp(makeDeps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/layers", nil), -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest("GET", "/v1/layers", nil)
	req.Header.Set("If-None-Match", etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}
}

func TestRequestIDLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "req-42")
		return c.Next()
	})
	app.Use(handler.RequestIDLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString(handler.RequestIDFromCtx(c.UserContext()))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, resp.Body); string(body) != "req-42" {
		t.Errorf("expected request id in context, got %q", body)
	}
}

// TestAccessLogMiddleware verifies structured access logging is emitted.
func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(handler.AccessLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-req-123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp.Body); !strings.Contains(string(body), "ok") {
		t.Errorf("expected response body to contain 'ok', got %s", body)
	}
}
