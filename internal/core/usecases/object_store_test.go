package usecases_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
)

// --- Mock bundles and inner layers ---

type mockBundle map[string]bool

func (b mockBundle) Has(ref string) bool { return b[ref] }

type mockBundles map[string]ports.Bundle

func (m mockBundles) Lookup(url string) (ports.Bundle, bool) {
	b, ok := m[url]
	return b, ok
}

type mockInner map[string][]domain.Layer

func (m mockInner) Get(name string) ([]domain.Layer, bool) {
	pages, ok := m[name]
	return pages, ok
}

func testBundles() mockBundles {
	return mockBundles{"b": mockBundle{"cube": true, "sphere": true}}
}

func stageAndApply(t *testing.T, store *usecases.ObjectStore, builder *usecases.ObjectBuilder, pages []domain.Layer) (*usecases.ApplyResult, error) {
	t.Helper()
	gen := store.BeginGeneration()
	r := usecases.Reconcile(store.Snapshot(), pages, here)
	if !store.Stage(gen, r) {
		t.Fatal("stage rejected current generation")
	}
	return store.Apply(builder, here)
}

func TestObjectStore_StaleGenerationDropped(t *testing.T) {
	store := usecases.NewObjectStore()
	old := store.BeginGeneration()
	store.BeginGeneration()

	if store.Stage(old, usecases.Reconciliation{}) {
		t.Error("expected stale batch to be rejected")
	}
	if store.IsDirty() {
		t.Error("stale batch must not mark the store dirty")
	}
}

func TestObjectStore_ApplyCreatesChildren(t *testing.T) {
	parent := poiAt(7, "cube", "b", here.Lat, here.Lon)
	parent.Object.InnerLayer = "Inner"
	child := poiAt(3, "sphere", "b", 0, 0)
	child.RelativeAlt = 1
	child.Object.RelativeLocation = "1.5, 2, nope"
	child.Animations.OnClick = []domain.AnimationSpec{{Name: "spin", Type: "rotate", Length: 1}}

	inner := mockInner{"Inner": {{Name: "Inner", Hotspots: []domain.Poi{child}}}}
	builder := usecases.NewObjectBuilder(testBundles(), inner, false)
	store := usecases.NewObjectStore()

	res, err := stageAndApply(t, store, builder, []domain.Layer{{Hotspots: []domain.Poi{parent}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.First || res.Created != 1 || res.Live != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if top, total := store.Count(); top != 1 || total != 2 {
		t.Fatalf("expected 1 top-level and 2 total objects, got %d/%d", top, total)
	}

	childID := domain.ChildID(7, 3)
	if childID != -7000003 {
		t.Fatalf("unexpected child id %d", childID)
	}
	obj, ok := store.Get(childID)
	if !ok {
		t.Fatal("child not stored")
	}
	if obj.ParentID == nil || *obj.ParentID != 7 || !obj.IsRelative {
		t.Errorf("child not linked: %+v", obj)
	}
	want := domain.Vec3{X: 1.5, Y: 3, Z: 0}
	if obj.Target != want || obj.Position != want {
		t.Errorf("expected relative target %+v, got %+v", want, obj.Target)
	}

	objects := store.Objects()
	if objects[0].ID != 7 || objects[1].ID != childID {
		t.Errorf("expected parent before child, got %d, %d", objects[0].ID, objects[1].ID)
	}
}

func TestObjectStore_ConstructionIsAllOrNothing(t *testing.T) {
	pages := []domain.Layer{{Hotspots: []domain.Poi{
		poiAt(1, "cube", "b", here.Lat, here.Lon),
		poiAt(2, "pyramid", "b", here.Lat, here.Lon),
	}}}

	store := usecases.NewObjectStore()
	_, err := stageAndApply(t, store, usecases.NewObjectBuilder(testBundles(), nil, false), pages)
	if !errors.Is(err, domain.ErrObjectConstruction) {
		t.Fatalf("expected construction error, got %v", err)
	}
	if !strings.Contains(err.Error(), "pyramid") {
		t.Errorf("expected the unknown object named, got %v", err)
	}
	if top, _ := store.Count(); top != 0 {
		t.Errorf("expected no objects after failed batch, got %d", top)
	}

	store = usecases.NewObjectStore()
	res, err := stageAndApply(t, store, usecases.NewObjectBuilder(testBundles(), nil, true), pages)
	if err != nil {
		t.Fatalf("skip mode must not fail: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("expected the valid poi built, got %d", res.Created)
	}
}

func TestObjectBuilder_Errors(t *testing.T) {
	noScale := poiAt(1, "cube", "b", here.Lat, here.Lon)
	noScale.Transform.Scale = 0

	tests := []struct {
		name string
		poi  domain.Poi
		want string
	}{
		{"empty bundle url", poiAt(1, "cube", "", here.Lat, here.Lon), "empty asset bundle url"},
		{"bundle not loaded", poiAt(1, "cube", "missing", here.Lat, here.Lon), "not loaded"},
		{"unknown object", poiAt(1, "cone", "b", here.Lat, here.Lon), "unknown game object"},
		{"zero scale", noScale, "Could not set scale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := usecases.NewObjectBuilder(testBundles(), nil, false)
			_, err := b.Build([]usecases.Candidate{{Poi: tt.poi}}, usecases.BuildContext{Used: here, Bleaching: -1})
			if !errors.Is(err, domain.ErrObjectConstruction) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q construction error, got %v", tt.want, err)
			}
		})
	}
}

func TestObjectBuilder_OutOfRangeSkipped(t *testing.T) {
	far := poiAt(1, "cube", "b", here.Lat+0.1, here.Lon)
	b := usecases.NewObjectBuilder(testBundles(), nil, false)

	batch, err := b.Build([]usecases.Candidate{{Poi: far}}, usecases.BuildContext{Used: here, Bleaching: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Objects) != 0 {
		t.Errorf("expected poi beyond the default range skipped, got %d objects", len(batch.Objects))
	}
}

func TestParseRelativeLocation(t *testing.T) {
	tests := []struct {
		in      string
		x, y, z float64
	}{
		{"1,2,3", 1, 2, 3},
		{" 1.5 , -2 , 0.25 ", 1.5, -2, 0.25},
		{"a,2,b", 0, 2, 0},
		{"4", 4, 0, 0},
		{"", 0, 0, 0},
	}
	for _, tt := range tests {
		x, y, z := usecases.ParseRelativeLocation(tt.in)
		if x != tt.x || y != tt.y || z != tt.z {
			t.Errorf("ParseRelativeLocation(%q) = %v,%v,%v want %v,%v,%v", tt.in, x, y, z, tt.x, tt.y, tt.z)
		}
	}
}

func TestObjectStore_DestroyRemovesDescendants(t *testing.T) {
	parent := poiAt(7, "cube", "b", here.Lat, here.Lon)
	parent.Object.InnerLayer = "Inner"
	parent.Animations.OnCreate = []domain.AnimationSpec{{Type: "rotate", Length: 1}}
	child := poiAt(3, "sphere", "b", 0, 0)
	child.Animations.OnClick = []domain.AnimationSpec{{Type: "rotate", Length: 1}}

	inner := mockInner{"Inner": {{Hotspots: []domain.Poi{child}}}}
	store := usecases.NewObjectStore()
	if _, err := stageAndApply(t, store, usecases.NewObjectBuilder(testBundles(), inner, false), []domain.Layer{{Hotspots: []domain.Poi{parent}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.Destroy(7) {
		t.Fatal("expected destroy to find the object")
	}
	if _, total := store.Count(); total != 0 {
		t.Errorf("expected every object removed, got %d", total)
	}
	store.Do(func(live usecases.Live) {
		if n := live.Animations().Len(); n != 0 {
			t.Errorf("expected animations removed, got %d", n)
		}
	})
	if store.Destroy(7) {
		t.Error("second destroy must report a missing object")
	}
}

func TestObjectStore_UpdatesAndBleaching(t *testing.T) {
	builder := usecases.NewObjectBuilder(testBundles(), nil, false)
	store := usecases.NewObjectStore()

	pages := []domain.Layer{{Hotspots: []domain.Poi{poiAt(1, "cube", "b", here.Lat, here.Lon)}}}
	if _, err := stageAndApply(t, store, builder, pages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	moved := pages[0].Hotspots[0]
	moved.Lat += 0.0001
	pages = []domain.Layer{{BleachingValue: 40, Hotspots: []domain.Poi{moved}}}
	res, err := stageAndApply(t, store, builder, pages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.First || res.Created != 0 || res.Deleted != 0 || res.Updated != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	obj, _ := store.Get(1)
	if obj.Geo.Lat != moved.Lat {
		t.Errorf("expected updated latitude, got %f", obj.Geo.Lat)
	}
	if !obj.Dirty {
		t.Error("moved object must be dirty")
	}
	if obj.Bleaching != 40 {
		t.Errorf("expected bleaching 40 propagated, got %d", obj.Bleaching)
	}
}
