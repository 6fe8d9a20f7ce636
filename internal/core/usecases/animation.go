package usecases

import (
	"math"
	"strings"
	"time"

	"github.com/samirrijal/geoaugment/internal/core/domain"
)

// AnimationType is what an animation changes.
type AnimationType string

const (
	AnimRotate    AnimationType = "rotate"
	AnimScale     AnimationType = "scale"
	AnimTransform AnimationType = "transform"
	AnimFade      AnimationType = "fade"
	AnimDestroy   AnimationType = "destroy"
	AnimDuplicate AnimationType = "duplicate"
)

// Interpolation shapes the progress curve of an animation.
type Interpolation string

const (
	InterpLinear   Interpolation = "linear"
	InterpCyclic   Interpolation = "cyclic"
	InterpHalfSine Interpolation = "halfsine"
	InterpSine     Interpolation = "sine"
)

// Animation is one running instance of an AnimationSpec bound to an object.
type Animation struct {
	ObjectID      int64
	Kind          domain.AnimationKind
	Name          string
	Type          AnimationType
	Interpolation Interpolation
	Length        time.Duration
	Delay         time.Duration
	Persist       bool
	Repeat        bool
	From          float64
	To            float64
	Follow        []domain.FollowAction

	// Value is the current interpolated value.
	Value float64

	ToBeDestroyed  bool
	ToBeDuplicated bool

	active        bool
	startedAt     time.Time
	justActivated bool
	justStopped   bool
}

// NewAnimation binds spec to objectID. OnCreate animations start active.
func NewAnimation(objectID int64, kind domain.AnimationKind, spec domain.AnimationSpec) *Animation {
	interp := Interpolation(strings.ToLower(spec.Interpolation))
	if interp == "" {
		interp = InterpLinear
	}
	a := &Animation{
		ObjectID:      objectID,
		Kind:          kind,
		Name:          strings.TrimSpace(spec.Name),
		Type:          AnimationType(strings.ToLower(spec.Type)),
		Interpolation: interp,
		Length:        seconds(spec.Length),
		Delay:         seconds(spec.Delay),
		Persist:       spec.Persist,
		Repeat:        spec.Repeat,
		From:          spec.From,
		To:            spec.To,
		Follow:        domain.ParseFollowedBy(spec.FollowedBy),
		Value:         spec.From,
	}
	a.active = kind == domain.OnCreate || kind == domain.Billboard
	return a
}

// NewBillboard creates the always-active instance that turns an object towards the camera.
func NewBillboard(objectID int64) *Animation {
	return &Animation{ObjectID: objectID, Kind: domain.Billboard, Type: AnimRotate, active: true, Repeat: true}
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// IsActive reports whether the animation is running.
func (a *Animation) IsActive() bool { return a.active }

// JustActivated reports whether the animation was activated this tick.
func (a *Animation) JustActivated() bool { return a.justActivated }

// JustStopped reports whether the animation stopped this tick.
func (a *Animation) JustStopped() bool { return a.justStopped }

// ResetEdges clears the per-tick flags.
func (a *Animation) ResetEdges() {
	a.justActivated = false
	a.justStopped = false
}

// Activate starts the animation at now.
func (a *Animation) Activate(now time.Time) {
	a.active = true
	a.startedAt = now
	a.justActivated = true
	a.Value = a.From
}

// Stop ends the animation. A persistent animation keeps its value.
func (a *Animation) Stop() {
	if !a.active {
		return
	}
	a.active = false
	a.justStopped = true
	if !a.Persist {
		a.Value = a.From
	}
}

// Animate advances the animation to now.
func (a *Animation) Animate(now time.Time) {
	if !a.active {
		return
	}
	if a.startedAt.IsZero() {
		a.startedAt = now
	}

	elapsed := now.Sub(a.startedAt) - a.Delay
	if elapsed < 0 {
		return
	}

	if a.Length <= 0 || elapsed >= a.Length {
		if a.Repeat && a.Length > 0 {
			elapsed %= a.Length
		} else {
			a.Value = a.To
			a.complete()
			return
		}
	}

	p := float64(elapsed) / float64(a.Length)
	a.Value = a.From + (a.To-a.From)*a.curve(p)
}

func (a *Animation) complete() {
	switch a.Type {
	case AnimDestroy:
		a.ToBeDestroyed = true
	case AnimDuplicate:
		a.ToBeDuplicated = true
	}
	a.Stop()
}

func (a *Animation) curve(p float64) float64 {
	switch a.Interpolation {
	case InterpCyclic:
		if p < 0.5 {
			return 2 * p
		}
		return 2 - 2*p
	case InterpHalfSine:
		return math.Sin(math.Pi * p)
	case InterpSine:
		return 0.5 - 0.5*math.Cos(2*math.Pi*p)
	default:
		return p
	}
}

// Event returns the edge of this tick, if any.
func (a *Animation) Event() (domain.AnimationEvent, bool) {
	if !a.justActivated && !a.justStopped {
		return domain.AnimationEvent{}, false
	}
	return domain.AnimationEvent{
		ObjectID: a.ObjectID,
		Kind:     a.Kind,
		Name:     a.Name,
		Started:  a.justActivated,
		Stopped:  a.justStopped,
	}, true
}

// AnimationSet holds the animation instances of all live objects, grouped by trigger.
type AnimationSet struct {
	byKind map[domain.AnimationKind][]*Animation
	all    []*Animation
}

// NewAnimationSet creates an empty set.
func NewAnimationSet() *AnimationSet {
	return &AnimationSet{byKind: make(map[domain.AnimationKind][]*Animation)}
}

// triggerOrder is the order animations are advanced in.
var triggerOrder = []domain.AnimationKind{domain.OnCreate, domain.OnFollow, domain.OnFocus, domain.InFocus, domain.OnClick}

// Add registers animations.
func (s *AnimationSet) Add(anims ...*Animation) {
	for _, a := range anims {
		s.byKind[a.Kind] = append(s.byKind[a.Kind], a)
	}
	s.all = nil
}

// Kind returns the instances of one trigger.
func (s *AnimationSet) Kind(k domain.AnimationKind) []*Animation {
	return s.byKind[k]
}

// All returns every triggered instance in advance order. Billboards are excluded.
func (s *AnimationSet) All() []*Animation {
	if s.all == nil {
		for _, k := range triggerOrder {
			s.all = append(s.all, s.byKind[k]...)
		}
	}
	return s.all
}

// RemoveObjects drops every instance bound to one of ids.
func (s *AnimationSet) RemoveObjects(ids map[int64]bool) {
	for k, list := range s.byKind {
		kept := list[:0]
		for _, a := range list {
			if !ids[a.ObjectID] {
				kept = append(kept, a)
			}
		}
		for i := len(kept); i < len(list); i++ {
			list[i] = nil
		}
		s.byKind[k] = kept
	}
	s.all = nil
}

// Billboards returns the ids of objects with an active billboard instance.
func (s *AnimationSet) Billboards() map[int64]bool {
	out := make(map[int64]bool, len(s.byKind[domain.Billboard]))
	for _, a := range s.byKind[domain.Billboard] {
		if a.active {
			out[a.ObjectID] = true
		}
	}
	return out
}

// ResetEdges clears the per-tick flags of every instance.
func (s *AnimationSet) ResetEdges() {
	for _, list := range s.byKind {
		for _, a := range list {
			a.ResetEdges()
		}
	}
}

// ActiveCount returns the number of active triggered instances.
func (s *AnimationSet) ActiveCount() int {
	n := 0
	for _, a := range s.All() {
		if a.active {
			n++
		}
	}
	return n
}

// Len returns the number of instances, billboards included.
func (s *AnimationSet) Len() int {
	n := 0
	for _, list := range s.byKind {
		n += len(list)
	}
	return n
}
