package usecases

import (
	"sync"
	"sync/atomic"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/pkg/geospatial"
	"github.com/samirrijal/geoaugment/internal/pkg/metrics"
)

// ApplyResult summarizes one applied reconciliation.
type ApplyResult struct {
	Generation uint64
	Created    int
	Deleted    int
	Updated    int
	Live       int
	Settings   LayerSettings
	// First is set for the first generation applied since the store was created or reset.
	First bool
}

// ObjectStore owns the live augment objects and their animations.
// Background fetch cycles stage reconciliations; the foreground applies them.
type ObjectStore struct {
	mu         sync.Mutex
	objects    map[int64]*domain.AugmentObject
	order      []int64 // top-level ids in creation order
	placeable  []int64 // top-level ids with absolute placement
	animations *AnimationSet
	settings   LayerSettings
	bleaching  int
	applied    bool

	generation atomic.Uint64
	dirty      atomic.Bool
	staged     *stagedBatch
}

type stagedBatch struct {
	generation uint64
	Reconciliation
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects:    make(map[int64]*domain.AugmentObject),
		animations: NewAnimationSet(),
		bleaching:  -1,
	}
}

// BeginGeneration starts a new generation and returns its number.
// Batches staged for older generations are dropped.
func (s *ObjectStore) BeginGeneration() uint64 {
	return s.generation.Add(1)
}

// Generation returns the current generation number.
func (s *ObjectStore) Generation() uint64 {
	return s.generation.Load()
}

// IsDirty reports whether a staged batch awaits Apply.
func (s *ObjectStore) IsDirty() bool {
	return s.dirty.Load()
}

// Applied reports whether any generation has been applied.
func (s *ObjectStore) Applied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Stage queues a reconciliation computed for generation gen.
// It returns false when gen is stale.
func (s *ObjectStore) Stage(gen uint64, r Reconciliation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation.Load() {
		metrics.StaleBatches.Inc()
		return false
	}

	if s.staged != nil {
		// The pending creations are recomputed by r. Deletions stay valid.
		r.ToDelete = append(s.staged.ToDelete, r.ToDelete...)
		r.Updates = append(s.staged.Updates, r.Updates...)
	}
	s.staged = &stagedBatch{generation: gen, Reconciliation: r}
	s.dirty.Store(true)
	return true
}

// Snapshot returns the identity of all live top-level objects.
func (s *ObjectStore) Snapshot() []ObjectSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ObjectSnapshot, 0, len(s.order))
	for _, id := range s.order {
		obj := s.objects[id]
		out = append(out, ObjectSnapshot{ID: obj.ID, ObjectRef: obj.ObjectRef, BaseURL: obj.BaseURL, Geo: obj.Geo})
	}
	return out
}

// Apply performs the staged deletions, constructions and updates in that order.
// A construction failure leaves the store as it was before the constructions.
func (s *ObjectStore) Apply(builder *ObjectBuilder, used domain.GeoPoint) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.staged
	s.staged = nil
	s.dirty.Store(false)
	if staged == nil {
		return nil, nil
	}

	res := &ApplyResult{Generation: staged.generation, Settings: staged.Settings, First: !s.applied}
	s.settings = staged.Settings

	for _, id := range staged.ToDelete {
		if _, ok := s.objects[id]; ok {
			s.destroyLocked(id)
			res.Deleted++
		}
	}

	batch, err := builder.Build(staged.ToCreate, BuildContext{
		Used:       used,
		Bleaching:  staged.Settings.Bleaching,
		Generation: staged.generation,
	})
	if err != nil {
		s.recomputePlaceable()
		return nil, err
	}
	for _, obj := range batch.Objects {
		if _, exists := s.objects[obj.ID]; exists {
			continue
		}
		s.objects[obj.ID] = obj
		if obj.ParentID == nil {
			s.order = append(s.order, obj.ID)
			res.Created++
		}
	}
	s.animations.Add(batch.Animations...)

	for _, u := range staged.Updates {
		obj, ok := s.objects[u.ID]
		if !ok {
			continue
		}
		if obj.Geo != u.Geo {
			obj.Geo = u.Geo
			obj.Dirty = true
			res.Updated++
		}
	}

	if b := staged.Settings.Bleaching; b != s.bleaching {
		s.bleaching = b
		for _, obj := range s.objects {
			obj.Bleaching = b
		}
	}

	s.recomputePlaceable()
	s.applied = true
	res.Live = len(s.order)

	metrics.ReconciledObjects.WithLabelValues("create").Add(float64(res.Created))
	metrics.ReconciledObjects.WithLabelValues("delete").Add(float64(res.Deleted))
	metrics.ReconciledObjects.WithLabelValues("update").Add(float64(res.Updated))
	metrics.LiveObjects.Set(float64(res.Live))
	return res, nil
}

// Reset drops every object and staged batch.
func (s *ObjectStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[int64]*domain.AugmentObject)
	s.order = nil
	s.placeable = nil
	s.animations = NewAnimationSet()
	s.staged = nil
	s.dirty.Store(false)
	s.applied = false
	s.bleaching = -1
	metrics.LiveObjects.Set(0)
}

// Destroy removes an object, its descendants and their animations.
func (s *ObjectStore) Destroy(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return false
	}
	s.destroyLocked(id)
	s.recomputePlaceable()
	return true
}

func (s *ObjectStore) destroyLocked(id int64) {
	doomed := make(map[int64]bool)
	s.collect(id, doomed)
	s.animations.RemoveObjects(doomed)

	obj := s.objects[id]
	if obj.ParentID != nil {
		if parent, ok := s.objects[*obj.ParentID]; ok {
			parent.ChildIDs = removeID(parent.ChildIDs, id)
		}
	}
	for d := range doomed {
		delete(s.objects, d)
	}
	s.order = removeID(s.order, id)
}

func (s *ObjectStore) collect(id int64, into map[int64]bool) {
	obj, ok := s.objects[id]
	if !ok || into[id] {
		return
	}
	into[id] = true
	for _, child := range obj.ChildIDs {
		s.collect(child, into)
	}
}

func (s *ObjectStore) recomputePlaceable() {
	s.placeable = s.placeable[:0]
	for _, id := range s.order {
		if !s.objects[id].IsRelative {
			s.placeable = append(s.placeable, id)
		}
	}
}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Objects returns copies of all live objects, parents before children.
func (s *ObjectStore) Objects() []domain.AugmentObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AugmentObject, 0, len(s.objects))
	for _, id := range s.order {
		out = s.appendTree(out, id)
	}
	return out
}

func (s *ObjectStore) appendTree(out []domain.AugmentObject, id int64) []domain.AugmentObject {
	obj := s.objects[id]
	cp := *obj
	cp.ChildIDs = append([]int64(nil), obj.ChildIDs...)
	out = append(out, cp)
	for _, child := range obj.ChildIDs {
		if _, ok := s.objects[child]; ok {
			out = s.appendTree(out, child)
		}
	}
	return out
}

// Get returns a copy of one object.
func (s *ObjectStore) Get(id int64) (domain.AugmentObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return domain.AugmentObject{}, false
	}
	return *obj, true
}

// Count returns the number of live top-level objects and of all objects.
func (s *ObjectStore) Count() (topLevel, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order), len(s.objects)
}

// Settings returns the settings of the last applied generation.
func (s *ObjectStore) Settings() LayerSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Do runs fn with exclusive access to the live objects.
func (s *ObjectStore) Do(fn func(live Live)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(Live{s: s})
}

// Live is the locked view of the store handed to foreground work.
type Live struct {
	s *ObjectStore
}

// Placeable returns the top-level objects with absolute placement.
func (l Live) Placeable() []*domain.AugmentObject {
	out := make([]*domain.AugmentObject, 0, len(l.s.placeable))
	for _, id := range l.s.placeable {
		out = append(out, l.s.objects[id])
	}
	return out
}

// Walk visits every object, parents before children.
func (l Live) Walk(fn func(obj *domain.AugmentObject)) {
	var visit func(id int64)
	visit = func(id int64) {
		obj, ok := l.s.objects[id]
		if !ok {
			return
		}
		fn(obj)
		for _, child := range obj.ChildIDs {
			visit(child)
		}
	}
	for _, id := range l.s.order {
		visit(id)
	}
}

// Object returns a live object.
func (l Live) Object(id int64) (*domain.AugmentObject, bool) {
	obj, ok := l.s.objects[id]
	return obj, ok
}

// Len returns the number of live objects, children included.
func (l Live) Len() int { return len(l.s.objects) }

// Animations returns the animation instances.
func (l Live) Animations() *AnimationSet { return l.s.animations }

// Area returns the wrap area of the last applied generation.
func (l Live) Area() geospatial.Area { return l.s.settings.Area }

// Destroy removes an object and its descendants.
func (l Live) Destroy(id int64) bool {
	if _, ok := l.s.objects[id]; !ok {
		return false
	}
	l.s.destroyLocked(id)
	l.s.recomputePlaceable()
	return true
}
