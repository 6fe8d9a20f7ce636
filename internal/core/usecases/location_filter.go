package usecases

import (
	"sync"

	"github.com/samirrijal/geoaugment/internal/core/domain"
)

// DefaultProcessNoise is the assumed device speed uncertainty in meters per second.
const DefaultProcessNoise = 3.0

// LocationFilter smooths raw device locations with a scalar Kalman filter.
// It also holds an optional fixed position that overrides the device position
// for layer queries and placement.
type LocationFilter struct {
	mu          sync.RWMutex
	q           float64
	enabled     bool
	initialized bool
	located     bool
	pos         domain.FilteredPosition
	fixed       *domain.GeoPoint
}

// NewLocationFilter creates an enabled filter with process noise q in m/s.
func NewLocationFilter(q float64) *LocationFilter {
	if q <= 0 {
		q = DefaultProcessNoise
	}
	return &LocationFilter{q: q, enabled: true}
}

// SetEnabled switches filtering on or off. Disabling drops the filter state.
func (f *LocationFilter) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !enabled {
		f.initialized = false
	}
	f.enabled = enabled
}

// Enabled reports whether filtering is on.
func (f *LocationFilter) Enabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled
}

// Update feeds one raw sample and returns the new estimate.
func (f *LocationFilter) Update(lat, lon, accuracy float64, timestampMs int64) domain.FilteredPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.located = true

	if !f.enabled {
		f.pos = domain.FilteredPosition{Lat: lat, Lon: lon, TimestampMs: timestampMs}
		return f.pos
	}

	if accuracy < 1 {
		accuracy = 1
	}
	measurement := accuracy * accuracy

	if !f.initialized {
		f.initialized = true
		f.pos = domain.FilteredPosition{Lat: lat, Lon: lon, Variance: measurement, TimestampMs: timestampMs}
		return f.pos
	}

	if elapsed := timestampMs - f.pos.TimestampMs; elapsed > 0 {
		f.pos.Variance += float64(elapsed) * f.q * f.q / 1000
		f.pos.TimestampMs = timestampMs
	}

	k := f.pos.Variance / (f.pos.Variance + measurement)
	f.pos.Lat += k * (lat - f.pos.Lat)
	f.pos.Lon += k * (lon - f.pos.Lon)
	f.pos.Variance *= 1 - k
	return f.pos
}

// Filtered returns the current estimate and whether any sample was seen.
func (f *LocationFilter) Filtered() (domain.FilteredPosition, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pos, f.located
}

// SetFixed overrides the used position. nil restores the device position.
func (f *LocationFilter) SetFixed(p *domain.GeoPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p == nil {
		f.fixed = nil
		return
	}
	fixed := *p
	f.fixed = &fixed
}

// Fixed returns the override position, if any.
func (f *LocationFilter) Fixed() *domain.GeoPoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fixed == nil {
		return nil
	}
	fixed := *f.fixed
	return &fixed
}

// Used returns the position layers are queried and placed around.
func (f *LocationFilter) Used() domain.GeoPoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fixed != nil {
		return *f.fixed
	}
	return f.pos.Point()
}
