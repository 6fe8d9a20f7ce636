package usecases

import (
	"math"
	"time"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/pkg/geospatial"
)

// DefaultFramesPerSecond is reported until the first whole second has been counted.
const DefaultFramesPerSecond = 30

// jumpFraction of the area size beyond which an object snaps instead of gliding.
const jumpFraction = 0.75

// FrameCounter counts frames per wall-clock second.
type FrameCounter struct {
	second int64
	frames int
	fps    int
}

// NewFrameCounter creates a counter reporting DefaultFramesPerSecond.
func NewFrameCounter() *FrameCounter {
	return &FrameCounter{fps: DefaultFramesPerSecond}
}

// Tick counts one frame at now and returns the current rate.
// The rate is the frame count of the previous second, or 1 when that
// second was not observed.
func (c *FrameCounter) Tick(now time.Time) int {
	sec := now.Unix()
	if sec == c.second {
		c.frames++
		return c.fps
	}
	if c.second == sec-1 {
		c.fps = c.frames
	} else {
		c.fps = 1
	}
	if c.fps < 1 {
		c.fps = 1
	}
	c.second = sec
	c.frames = 1
	return c.fps
}

// FPS returns the current rate.
func (c *FrameCounter) FPS() int { return c.fps }

// PlacementEngine maps geo positions of live objects into the local render
// space and moves them smoothly towards their targets.
type PlacementEngine struct {
	last    domain.GeoPoint
	hasLast bool
	area    geospatial.Area
	counter *FrameCounter
}

// NewPlacementEngine creates a new PlacementEngine.
func NewPlacementEngine() *PlacementEngine {
	return &PlacementEngine{counter: NewFrameCounter()}
}

// FPS returns the current frame rate.
func (p *PlacementEngine) FPS() int { return p.counter.FPS() }

// CountFrame records one frame.
func (p *PlacementEngine) CountFrame(now time.Time) int { return p.counter.Tick(now) }

// Invalidate forces the next UpdateTargets to recompute every target.
func (p *PlacementEngine) Invalidate() { p.hasLast = false }

// UpdateTargets recomputes the targets of placeable objects when any of them
// is dirty or the used position or area changed. It reports whether it did.
func (p *PlacementEngine) UpdateTargets(live Live, used domain.GeoPoint) bool {
	objects := live.Placeable()
	area := live.Area()

	dirty := !p.hasLast || p.last != used || p.area != area
	for _, obj := range objects {
		if obj.Dirty {
			dirty = true
			break
		}
	}
	if !dirty {
		return false
	}
	p.last, p.hasLast, p.area = used, true, area

	for _, obj := range objects {
		obj.Dirty = false
		x, z := geospatial.LocalOffset(used.Lat, used.Lon, obj.Geo.Lat, obj.Geo.Lon)
		x, z, scale := area.Wrap(x, z)
		obj.TargetScale = scale
		obj.Target = domain.Vec3{X: x, Y: obj.RelativeAlt, Z: z}
	}
	return true
}

// Render moves placeable objects one step towards their targets and returns
// the placements of every live object.
func (p *PlacementEngine) Render(live Live, fps int) []domain.Placement {
	if fps < 1 {
		fps = 1
	}
	area := live.Area()

	for _, obj := range live.Placeable() {
		jump := area.Enabled() &&
			(math.Abs(obj.Position.X-obj.Target.X) > area.Width*jumpFraction ||
				math.Abs(obj.Position.Z-obj.Target.Z) > area.Size*jumpFraction)

		if jump {
			obj.Position = obj.Target
		} else {
			obj.Position = obj.Position.Lerp(obj.Target, 0.5/float64(fps))
		}

		if area.Size > 0 {
			scale := obj.TargetScale
			if scale < 0 {
				scale = 1
			}
			switch {
			case jump && scale < 1:
				obj.Scale = 0.01
			case jump:
				obj.Scale = scale
			default:
				obj.Scale += (scale - obj.Scale) / float64(fps)
			}
		}
	}

	billboards := live.Animations().Billboards()
	out := make([]domain.Placement, 0, live.Len())
	live.Walk(func(obj *domain.AugmentObject) {
		out = append(out, domain.Placement{
			ObjectID:  obj.ID,
			ObjectRef: obj.ObjectRef,
			ParentID:  obj.ParentID,
			Position:  obj.Position,
			Scale:     obj.Scale * obj.BaseScale,
			Rotation:  obj.Angle,
			Billboard: billboards[obj.ID],
		})
	})
	return out
}

// HeadingTracker smooths the compass heading and tracks the heading the
// scene was initialized with.
type HeadingTracker struct {
	warmup       time.Duration
	start        time.Time
	shown        float64
	initial      float64
	initializing bool
}

// NewHeadingTracker creates a tracker whose initial heading follows the
// device during warmup after Start.
func NewHeadingTracker(warmup time.Duration) *HeadingTracker {
	return &HeadingTracker{warmup: warmup}
}

// Start captures heading as the initial heading at now.
func (h *HeadingTracker) Start(now time.Time, heading float64) {
	h.start = now
	h.shown = heading
	h.initial = heading
	h.initializing = true
}

// Update moves the shown heading a tenth of the way towards heading,
// taking the shorter way around the circle.
func (h *HeadingTracker) Update(now time.Time, heading float64) float64 {
	diff := heading - h.shown
	switch {
	case diff > 180:
		diff -= 360
	case diff < -180:
		diff += 360
	}
	h.shown = math.Mod(h.shown+diff/10+360, 360)

	if h.initializing && !h.start.IsZero() && now.Sub(h.start) > h.warmup {
		h.initializing = false
	}
	if h.initializing {
		h.initial = h.shown
	}
	return h.shown
}

// Shown returns the smoothed heading.
func (h *HeadingTracker) Shown() float64 { return h.shown }

// Initial returns the heading the scene is aligned to.
func (h *HeadingTracker) Initial() float64 { return h.initial }

// SceneYaw returns the rotation of the scene for a device angle.
func (h *HeadingTracker) SceneYaw(deviceAngle float64) float64 {
	return deviceAngle - h.initial
}
