package usecases

import (
	"math"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/pkg/geospatial"
)

// DefaultNoPoisMessage is shown when the first generation yields no objects.
const DefaultNoPoisMessage = "Sorry, there are no augments at your location!"

// MaxBleaching is the upper bound of the bleaching value.
const MaxBleaching = 100

// LayerSettings is the aggregation of display settings over all pages of a layer.
type LayerSettings struct {
	ApplyKalman bool
	// Bleaching is -1 when no page sets it.
	Bleaching int
	Area      geospatial.Area
	// RefreshInterval is in seconds, 0 when no page sets one.
	RefreshInterval float64
	ShowInfo        bool
	InfoMessage     string
	Title           string
	NoPoisMessage   string
	ShowMenu        bool
}

// AggregateSettings folds the settings of all pages into one.
func AggregateSettings(pages []domain.Layer) LayerSettings {
	s := LayerSettings{
		ApplyKalman: true,
		Bleaching:   -1,
		Area:        geospatial.Area{Size: -1, Width: -1},
		ShowMenu:    len(pages) > 0,
	}

	for i := range pages {
		p := &pages[i]
		s.ApplyKalman = s.ApplyKalman && p.KalmanEnabled()
		s.ShowMenu = s.ShowMenu && p.ShowMenuButton
		if p.BleachingValue > s.Bleaching {
			s.Bleaching = p.BleachingValue
		}
		// Area dimensions are whole meters; sub-meter sizes disable wrapping.
		if size := math.Trunc(p.AreaSize); size > s.Area.Size {
			s.Area.Size = size
		}
		if width := math.Trunc(p.AreaWidth); width > s.Area.Width {
			s.Area.Width = width
		}
		if s.RefreshInterval < 1 && p.RefreshInterval >= 1 {
			s.RefreshInterval = p.RefreshInterval
		}
		if s.Title == "" && p.Title != "" {
			s.Title = p.Title
		}
		if s.NoPoisMessage == "" && p.NoPoisMessage != "" {
			s.NoPoisMessage = p.NoPoisMessage
		}
		for _, a := range p.Actions {
			if a.ShowActivity {
				s.ShowInfo = true
			}
			if s.InfoMessage == "" && a.ActivityMessage != "" {
				s.InfoMessage = a.ActivityMessage
			}
		}
	}

	if s.Bleaching > MaxBleaching {
		s.Bleaching = MaxBleaching
	}
	if s.NoPoisMessage == "" {
		s.NoPoisMessage = DefaultNoPoisMessage
	}
	s.Area = s.Area.Normalize()
	return s
}

// ObjectSnapshot identifies a live top-level object for diffing.
type ObjectSnapshot struct {
	ID        int64
	ObjectRef string
	BaseURL   string
	Geo       domain.GeoPoint
}

// Candidate is a POI that passed filtering, with the layer it came from.
type Candidate struct {
	Poi             domain.Poi
	VisibilityRange float64
}

// FieldUpdate moves a surviving object to a new geo position.
type FieldUpdate struct {
	ID  int64
	Geo domain.GeoPoint
}

// Reconciliation is the diff between live objects and freshly fetched layers.
type Reconciliation struct {
	Settings LayerSettings
	ToDelete []int64
	ToCreate []Candidate
	Updates  []FieldUpdate
}

// Reconcile diffs previous against the visible POIs of pages around used.
func Reconcile(previous []ObjectSnapshot, pages []domain.Layer, used domain.GeoPoint) Reconciliation {
	r := Reconciliation{Settings: AggregateSettings(pages)}
	candidates := VisibleCandidates(pages, used)

	for _, obj := range previous {
		idx := -1
		for i := range candidates {
			if sameObject(obj, &candidates[i].Poi) {
				idx = i
				break
			}
		}
		if idx < 0 {
			r.ToDelete = append(r.ToDelete, obj.ID)
			continue
		}
		poi := &candidates[idx].Poi
		if poi.Lat != obj.Geo.Lat || poi.Lon != obj.Geo.Lon {
			r.Updates = append(r.Updates, FieldUpdate{ID: obj.ID, Geo: domain.GeoPoint{Lat: poi.Lat, Lon: poi.Lon}})
		}
	}

	for _, c := range candidates {
		if alreadyLive(previous, &c.Poi) {
			continue
		}
		r.ToCreate = append(r.ToCreate, c)
	}
	return r
}

// VisibleCandidates returns the visible POIs with an object reference that
// are within their layer's visibility range of used.
func VisibleCandidates(pages []domain.Layer, used domain.GeoPoint) []Candidate {
	var out []Candidate
	for i := range pages {
		page := &pages[i]
		limit := page.Range()
		for _, poi := range page.Hotspots {
			if !poi.IsVisible() || poi.ObjectRef() == "" {
				continue
			}
			if geospatial.Haversine(used.Lat, used.Lon, poi.Lat, poi.Lon) > limit {
				continue
			}
			out = append(out, Candidate{Poi: poi, VisibilityRange: limit})
		}
	}
	return out
}

// sameObject reports whether a POI still describes a live object.
// An empty POI bundle url matches any live url.
func sameObject(obj ObjectSnapshot, poi *domain.Poi) bool {
	if obj.ID != poi.ID || obj.ObjectRef != poi.ObjectRef() {
		return false
	}
	return poi.BaseURL() == "" || CleanBundleURL(obj.BaseURL) == CleanBundleURL(poi.BaseURL())
}

func alreadyLive(previous []ObjectSnapshot, poi *domain.Poi) bool {
	u := CleanBundleURL(poi.BaseURL())
	for _, obj := range previous {
		if obj.ID == poi.ID && obj.ObjectRef == poi.ObjectRef() && CleanBundleURL(obj.BaseURL) == u {
			return true
		}
	}
	return false
}
