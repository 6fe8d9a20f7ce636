package domain

import "strings"

// AnimationKind is the trigger that starts an animation.
type AnimationKind int

const (
	OnCreate AnimationKind = iota
	OnFollow
	OnFocus
	InFocus
	OnClick
	Billboard
)

func (k AnimationKind) String() string {
	switch k {
	case OnCreate:
		return "on_create"
	case OnFollow:
		return "on_follow"
	case OnFocus:
		return "on_focus"
	case InFocus:
		return "in_focus"
	case OnClick:
		return "on_click"
	case Billboard:
		return "billboard"
	default:
		return "unknown"
	}
}

// ReloadLayerData is the reserved follow name requesting a full data reload.
const ReloadLayerData = "ReloadLayerData"

// FollowActionType tags a FollowAction.
type FollowActionType int

const (
	ActivateByName FollowActionType = iota
	ReloadData
	OpenExternalLink
)

// FollowAction is one parsed entry of an animation's followedBy chain.
type FollowAction struct {
	Type FollowActionType
	// Name is the animation name for ActivateByName, the url for OpenExternalLink.
	Name string
}

// ParseFollowedBy splits a comma separated chain into actions.
// Empty entries are skipped.
func ParseFollowedBy(chain string) []FollowAction {
	if strings.TrimSpace(chain) == "" {
		return nil
	}
	var actions []FollowAction
	for _, part := range strings.Split(chain, ",") {
		name := strings.TrimSpace(part)
		switch {
		case name == "":
			continue
		case strings.EqualFold(name, ReloadLayerData):
			actions = append(actions, FollowAction{Type: ReloadData})
		case isExternalLink(name):
			actions = append(actions, FollowAction{Type: OpenExternalLink, Name: name})
		default:
			actions = append(actions, FollowAction{Type: ActivateByName, Name: name})
		}
	}
	return actions
}

func isExternalLink(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// AnimationEvent reports an edge of an animation instance during one tick.
type AnimationEvent struct {
	ObjectID int64         `json:"object_id"`
	Kind     AnimationKind `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Started  bool          `json:"started"`
	Stopped  bool          `json:"stopped"`
}
