package domain

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Vec3 is a position in the local render space in meters.
// X points east, Y up and Z north of the device.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Lerp moves v towards to by factor t.
func (v Vec3) Lerp(to Vec3, t float64) Vec3 {
	return Vec3{
		X: v.X + (to.X-v.X)*t,
		Y: v.Y + (to.Y-v.Y)*t,
		Z: v.Z + (to.Z-v.Z)*t,
	}
}

// FilteredPosition is the smoothed device position.
type FilteredPosition struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Variance    float64 `json:"variance"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Point returns the position as a GeoPoint.
func (p FilteredPosition) Point() GeoPoint {
	return GeoPoint{Lat: p.Lat, Lon: p.Lon}
}

// LocationSample is one raw reading from the device location provider.
type LocationSample struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Accuracy    float64 `json:"accuracy"`
	TimestampMs int64   `json:"timestamp_ms"`
	Heading     float64 `json:"heading"`
}
