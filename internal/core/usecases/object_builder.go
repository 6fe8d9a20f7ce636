package usecases

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/pkg/geospatial"
)

// BundleLookup finds loaded asset bundles by url.
type BundleLookup interface {
	Lookup(url string) (ports.Bundle, bool)
}

// InnerLayerLookup finds cached inner layer pages by name.
type InnerLayerLookup interface {
	Get(name string) ([]domain.Layer, bool)
}

// BuildContext carries the per-generation inputs of object construction.
type BuildContext struct {
	Used       domain.GeoPoint
	Bleaching  int
	Generation uint64
}

// Batch is the output of one construction run. Children follow their parent.
type Batch struct {
	Objects    []*domain.AugmentObject
	Animations []*Animation
}

// ObjectBuilder turns candidate POIs into augment objects and their animations.
type ObjectBuilder struct {
	bundles     BundleLookup
	inner       InnerLayerLookup
	skipInvalid bool
	logger      *slog.Logger
}

// NewObjectBuilder creates a new ObjectBuilder. With skipInvalid, POIs that
// cannot be built are logged and skipped instead of failing the batch.
func NewObjectBuilder(bundles BundleLookup, inner InnerLayerLookup, skipInvalid bool) *ObjectBuilder {
	return &ObjectBuilder{
		bundles:     bundles,
		inner:       inner,
		skipInvalid: skipInvalid,
		logger:      slog.Default().With("component", "object-builder"),
	}
}

// Build constructs all candidates. Without skipInvalid the first failure
// aborts the batch and nothing is returned.
func (b *ObjectBuilder) Build(candidates []Candidate, bc BuildContext) (*Batch, error) {
	batch := &Batch{}
	for _, c := range candidates {
		objects, anims := len(batch.Objects), len(batch.Animations)
		if err := b.build(batch, nil, c.Poi, c.VisibilityRange, bc); err != nil {
			if !b.skipInvalid {
				return nil, err
			}
			batch.Objects = batch.Objects[:objects]
			batch.Animations = batch.Animations[:anims]
			b.logger.Warn("skipping poi", "poi_id", c.Poi.ID, "error", err)
		}
	}
	return batch, nil
}

func (b *ObjectBuilder) build(batch *Batch, parent *domain.AugmentObject, poi domain.Poi, visibilityRange float64, bc BuildContext) error {
	id := poi.ID
	if parent != nil {
		id = domain.ChildID(parent.ID, poi.ID)
	}

	baseURL := poi.BaseURL()
	if baseURL == "" {
		return constructionError("Poi with id %d, empty asset bundle url", id)
	}
	bundle, ok := b.bundles.Lookup(baseURL)
	if !ok {
		return constructionError("Poi with id %d, asset bundle '%s' is not loaded", id, CleanBundleURL(baseURL))
	}
	ref := poi.ObjectRef()
	if !bundle.Has(ref) {
		return constructionError("Poi with id %d, unknown game object: '%s'", id, ref)
	}
	if poi.Transform == nil || poi.Transform.Scale == 0 {
		return constructionError("Poi with id %d, Could not set scale", id)
	}

	obj := &domain.AugmentObject{
		ID:          id,
		Title:       poi.Title,
		ObjectRef:   ref,
		BaseURL:     baseURL,
		Geo:         domain.GeoPoint{Lat: poi.Lat, Lon: poi.Lon},
		RelativeAlt: poi.RelativeAlt,
		TargetScale: 1,
		Scale:       1,
		BaseScale:   poi.Transform.Scale,
		Angle:       poi.Transform.Angle,
		Billboard:   poi.Transform.Billboard,
		Bleaching:   -1,
		Generation:  bc.Generation,
	}
	if bc.Bleaching >= 0 {
		obj.Bleaching = bc.Bleaching
	}

	rel := strings.TrimSpace(poi.Object.RelativeLocation)
	if parent != nil || rel != "" {
		x, y, z := ParseRelativeLocation(rel)
		obj.IsRelative = true
		obj.RelativeAlt += y
		obj.Target = domain.Vec3{X: x, Y: obj.RelativeAlt, Z: z}
		obj.Position = obj.Target
	} else {
		if visibilityRange <= 0 {
			visibilityRange = domain.DefaultVisibilityRange
		}
		if geospatial.Haversine(bc.Used.Lat, bc.Used.Lon, poi.Lat, poi.Lon) > visibilityRange {
			return nil
		}
		// Placed on the first UpdateTargets of the generation.
		obj.Dirty = true
	}

	if parent != nil {
		pid := parent.ID
		obj.ParentID = &pid
		parent.ChildIDs = append(parent.ChildIDs, id)
	}

	batch.Objects = append(batch.Objects, obj)
	batch.Animations = append(batch.Animations, animationsFor(id, &poi)...)

	if parent != nil {
		return nil
	}

	name := poi.InnerLayerName()
	if name == "" || b.inner == nil {
		return nil
	}
	pages, ok := b.inner.Get(name)
	if !ok {
		return nil
	}
	for i := range pages {
		for _, child := range pages[i].Hotspots {
			if !child.IsVisible() || child.ObjectRef() == "" {
				continue
			}
			if err := b.build(batch, obj, child, pages[i].Range(), bc); err != nil {
				return err
			}
		}
	}
	return nil
}

func animationsFor(id int64, poi *domain.Poi) []*Animation {
	var out []*Animation
	if poi.Transform != nil && poi.Transform.Billboard {
		out = append(out, NewBillboard(id))
	}
	groups := []struct {
		kind  domain.AnimationKind
		specs []domain.AnimationSpec
	}{
		{domain.OnCreate, poi.Animations.OnCreate},
		{domain.OnFocus, poi.Animations.OnFocus},
		{domain.InFocus, poi.Animations.InFocus},
		{domain.OnClick, poi.Animations.OnClick},
		{domain.OnFollow, poi.Animations.OnFollow},
	}
	for _, g := range groups {
		for _, spec := range g.specs {
			out = append(out, NewAnimation(id, g.kind, spec))
		}
	}
	return out
}

// ParseRelativeLocation parses "x,y,z". Missing or malformed parts are 0.
func ParseRelativeLocation(s string) (x, y, z float64) {
	var v [3]float64
	for i, part := range strings.SplitN(s, ",", 3) {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err == nil {
			v[i] = f
		}
	}
	return v[0], v[1], v[2]
}

func constructionError(format string, args ...any) error {
	return domain.NewError(domain.KindObjectConstruction, nil, "%s", fmt.Sprintf(format, args...))
}
