package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/pkg/metrics"
)

// AnimationResult is the outcome of one animation tick.
type AnimationResult struct {
	Hit       bool
	Click     bool
	Reload    bool
	Events    []domain.AnimationEvent
	Destroyed []int64
}

// AnimationEngine drives animation triggers, follow-up chains and deferred destruction.
type AnimationEngine struct {
	links  ports.LinkOpener
	logger *slog.Logger
}

// NewAnimationEngine creates a new AnimationEngine. links may be nil.
func NewAnimationEngine(links ports.LinkOpener) *AnimationEngine {
	return &AnimationEngine{
		links:  links,
		logger: slog.Default().With("component", "animation-engine"),
	}
}

// Tick advances every animation by one frame.
func (e *AnimationEngine) Tick(ctx context.Context, live Live, input domain.TickInput, now time.Time) AnimationResult {
	var res AnimationResult
	set := live.Animations()
	set.ResetEdges()

	stopped := make(map[*Animation]bool)

	onFocus, inFocus := set.Kind(domain.OnFocus), set.Kind(domain.InFocus)
	if len(onFocus) > 0 || len(inFocus) > 0 {
		hit := int64(0)
		hasHit := input.FocusHit != nil
		if hasHit {
			hit = *input.FocusHit
		}

		// In-focus animations that lost focus stop before any (re)activation.
		for _, a := range inFocus {
			if a.IsActive() && !(hasHit && a.ObjectID == hit) {
				a.Stop()
				stopped[a] = true
			}
		}

		if hasHit {
			for _, a := range onFocus {
				if a.ObjectID != hit {
					continue
				}
				res.Hit = true
				if !a.IsActive() {
					a.Activate(now)
				}
			}
			for _, a := range inFocus {
				if a.ObjectID != hit {
					continue
				}
				res.Hit = true
				if !a.IsActive() {
					a.Activate(now)
				}
			}
		}
	}

	if input.ClickHit != nil {
		for _, a := range set.Kind(domain.OnClick) {
			if a.ObjectID != *input.ClickHit {
				continue
			}
			res.Click = true
			if !a.IsActive() {
				a.Activate(now)
			}
		}
	}

	all := set.All()
	for _, a := range all {
		if !stopped[a] {
			a.Animate(now)
		}
		if !a.JustStopped() || len(a.Follow) == 0 {
			continue
		}
		for _, action := range a.Follow {
			switch action.Type {
			case domain.ReloadData:
				res.Reload = true
			case domain.OpenExternalLink:
				e.openLink(ctx, action.Name)
			case domain.ActivateByName:
				for _, b := range all {
					if b.Name == action.Name && !b.IsActive() {
						b.Activate(now)
					}
				}
			}
		}
	}

	for _, a := range all {
		if ev, ok := a.Event(); ok {
			res.Events = append(res.Events, ev)
		}
	}

	var doomed []int64
	seen := make(map[int64]bool)
	for _, a := range all {
		if a.ToBeDestroyed && !seen[a.ObjectID] {
			seen[a.ObjectID] = true
			doomed = append(doomed, a.ObjectID)
		}
	}
	for _, id := range doomed {
		if live.Destroy(id) {
			res.Destroyed = append(res.Destroyed, id)
		}
	}

	metrics.ActiveAnimations.Set(float64(set.ActiveCount()))
	return res
}

// CollectDuplicates clears pending duplicate requests and returns copies of
// the distinct objects that asked for one.
func (e *AnimationEngine) CollectDuplicates(live Live) []domain.AugmentObject {
	var out []domain.AugmentObject
	seen := make(map[int64]bool)
	for _, a := range live.Animations().All() {
		if !a.ToBeDuplicated {
			continue
		}
		a.ToBeDuplicated = false
		if seen[a.ObjectID] {
			continue
		}
		seen[a.ObjectID] = true
		if obj, ok := live.Object(a.ObjectID); ok {
			out = append(out, *obj)
		}
	}
	return out
}

func (e *AnimationEngine) openLink(ctx context.Context, url string) {
	if e.links == nil {
		e.logger.Debug("no link opener, dropping link", "url", url)
		return
	}
	if err := e.links.OpenLink(ctx, url); err != nil {
		e.logger.Warn("open link failed", "url", url, "error", err)
	}
}
