package geospatial

import "math"

// Area is the toroidal region augments are tiled in.
// Size spans the north-south axis, Width the east-west axis.
type Area struct {
	Size  float64
	Width float64
}

// Normalize lets a missing dimension default to the other one.
func (a Area) Normalize() Area {
	if a.Size <= 0 && a.Width > 0 {
		a.Size = a.Width
	}
	if a.Size > 0 && a.Width <= 0 {
		a.Width = a.Size
	}
	return a
}

// Enabled reports whether wrapping applies.
func (a Area) Enabled() bool {
	return a.Size > 0 && a.Width > 0
}

// Wrap folds a local offset into the area and returns the edge fade scale.
// Objects within one meter of the border scale down linearly towards zero.
func (a Area) Wrap(x, z float64) (wx, wz, scale float64) {
	if !a.Enabled() {
		return x, z, 1
	}
	wx = FoldAxis(x, a.Width)
	wz = FoldAxis(z, a.Size)
	return wx, wz, EdgeScale(wx, wz, a.Width/2, a.Size/2)
}

// FoldAxis folds v into [-size/2, size/2] by adding or subtracting whole
// multiples of size. Values past +size/2 land in (-size/2, size/2], values
// past -size/2 in [-size/2, size/2).
func FoldAxis(v, size float64) float64 {
	if !(size > 0) || math.IsInf(size, 0) || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	half := size / 2
	switch {
	case v > half:
		v -= math.Ceil((v-half)/size) * size
	case v < -half:
		v += math.Ceil((-half-v)/size) * size
	}
	return v
}

// EdgeScale returns the distance to the nearest area border when it is below one meter, else 1.
func EdgeScale(x, z, halfWidth, halfSize float64) float64 {
	d := math.Min(math.Abs(math.Abs(z)-halfSize), math.Abs(math.Abs(x)-halfWidth))
	if d < 1 {
		return d
	}
	return 1
}
