package domain

// Placement is the local transform of one object for the current frame.
type Placement struct {
	ObjectID  int64   `json:"object_id"`
	ObjectRef string  `json:"object_ref"`
	ParentID  *int64  `json:"parent_id,omitempty"`
	Position  Vec3    `json:"position"`
	Scale     float64 `json:"scale"`
	Rotation  float64 `json:"rotation"`
	Billboard bool    `json:"billboard,omitempty"`
}

// TickInput is what the presentation layer reports for one frame.
// FocusHit and ClickHit are the ids of objects hit by the center ray and by a click.
type TickInput struct {
	FocusHit *int64  `json:"focus_hit,omitempty"`
	ClickHit *int64  `json:"click_hit,omitempty"`
	Heading  float64 `json:"heading"`
}

// Frame is the engine output of one foreground tick.
type Frame struct {
	Sequence   uint64             `json:"sequence"`
	Placements []Placement        `json:"placements"`
	SceneYaw   float64            `json:"scene_yaw"`
	InfoText   string             `json:"info_text"`
	ErrorText  string             `json:"error_text,omitempty"`
	Events     []AnimationEvent   `json:"events,omitempty"`
	Duplicates []AugmentObject    `json:"duplicates,omitempty"`
	Generation *GenerationSummary `json:"generation,omitempty"`
	Hit        bool               `json:"hit"`
	Click      bool               `json:"click"`
	FPS        int                `json:"fps"`
}

// GenerationSummary describes one applied reconciliation.
type GenerationSummary struct {
	Generation uint64 `json:"generation"`
	Created    int    `json:"created"`
	Deleted    int    `json:"deleted"`
	Updated    int    `json:"updated"`
	Live       int    `json:"live"`
	LayerTitle string `json:"layer_title,omitempty"`
}
