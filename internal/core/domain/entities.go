package domain

import "strings"

// DefaultVisibilityRange is used when a layer does not declare a positive range.
const DefaultVisibilityRange = 1500.0

// Layer is one page of a remote layer description.
// Several pages compose one logical layer.
type Layer struct {
	Name             string   `json:"layer"`
	Title            string   `json:"layerTitle,omitempty"`
	RefreshInterval  float64  `json:"refreshInterval,omitempty"`
	VisibilityRange  float64  `json:"visibilityRange,omitempty"`
	BleachingValue   int      `json:"bleachingValue,omitempty"`
	AreaSize         float64  `json:"areaSize,omitempty"`
	AreaWidth        float64  `json:"areaWidth,omitempty"`
	ApplyKalman      *bool    `json:"applyKalmanFilter,omitempty"`
	RedirectionURL   string   `json:"redirectionUrl,omitempty"`
	RedirectionLayer string   `json:"redirectionLayer,omitempty"`
	NextPageKey      string   `json:"nextPageKey,omitempty"`
	MorePages        bool     `json:"morePages"`
	NoPoisMessage    string   `json:"noPoisMessage,omitempty"`
	ShowMenuButton   bool     `json:"showMenuButton"`
	Actions          []Action `json:"actions,omitempty"`
	Hotspots         []Poi    `json:"hotspots,omitempty"`
}

// KalmanEnabled reports whether the layer allows location filtering. Unset means true.
func (l *Layer) KalmanEnabled() bool {
	return l.ApplyKalman == nil || *l.ApplyKalman
}

// Range returns the visibility range in meters.
func (l *Layer) Range() float64 {
	if l.VisibilityRange <= 0 {
		return DefaultVisibilityRange
	}
	return l.VisibilityRange
}

// Redirects reports whether the page asks the client to query elsewhere.
func (l *Layer) Redirects() bool {
	return strings.TrimSpace(l.RedirectionURL) != "" || strings.TrimSpace(l.RedirectionLayer) != ""
}

// HasNextPage reports whether another page follows this one.
func (l *Layer) HasNextPage() bool {
	return l.MorePages && l.NextPageKey != ""
}

// Action carries informational display settings of a layer.
type Action struct {
	ShowActivity    bool   `json:"showActivity"`
	ActivityMessage string `json:"activityMessage,omitempty"`
}

// Poi is a point of interest from which augment objects are built.
type Poi struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Lat         float64       `json:"lat"`
	Lon         float64       `json:"lon"`
	RelativeAlt float64       `json:"relativeAlt,omitempty"`
	Distance    float64       `json:"distance,omitempty"`
	Visible     *bool         `json:"isVisible,omitempty"`
	Line1       string        `json:"line1,omitempty"`
	Line2       string        `json:"line2,omitempty"`
	Line3       string        `json:"line3,omitempty"`
	Line4       string        `json:"line4,omitempty"`
	Object      PoiObject     `json:"poiObject"`
	Transform   *Transform    `json:"transform,omitempty"`
	Animations  PoiAnimations `json:"animations"`
}

// IsVisible reports whether the POI should be shown. Unset means true.
func (p *Poi) IsVisible() bool {
	return p.Visible == nil || *p.Visible
}

// BaseURL returns the asset bundle url of the POI.
func (p *Poi) BaseURL() string { return p.Object.BaseURL }

// ObjectRef returns the name of the object inside the asset bundle.
func (p *Poi) ObjectRef() string { return p.Object.Full }

// InnerLayerName returns the name of the layer nested below this POI.
func (p *Poi) InnerLayerName() string { return p.Object.InnerLayer }

// PoiObject references the renderable asset of a POI.
type PoiObject struct {
	BaseURL          string `json:"baseURL,omitempty"`
	Full             string `json:"full,omitempty"`
	RelativeLocation string `json:"relativeLocation,omitempty"`
	InnerLayer       string `json:"innerLayer,omitempty"`
}

// Transform is the static transform of a POI.
type Transform struct {
	Billboard bool    `json:"rel"`
	Angle     float64 `json:"angle"`
	Scale     float64 `json:"scale"`
}

// PoiAnimations groups the animations of a POI by trigger.
type PoiAnimations struct {
	OnCreate []AnimationSpec `json:"onCreate,omitempty"`
	OnFocus  []AnimationSpec `json:"onFocus,omitempty"`
	InFocus  []AnimationSpec `json:"inFocus,omitempty"`
	OnClick  []AnimationSpec `json:"onClick,omitempty"`
	OnFollow []AnimationSpec `json:"onFollow,omitempty"`
}

// AnimationSpec describes one animation as delivered by the layer service.
type AnimationSpec struct {
	Name          string  `json:"name,omitempty"`
	Type          string  `json:"type"`
	Length        float64 `json:"length"`
	Delay         float64 `json:"delay,omitempty"`
	Interpolation string  `json:"interpolation,omitempty"`
	Persist       bool    `json:"persist,omitempty"`
	Repeat        bool    `json:"repeat,omitempty"`
	From          float64 `json:"from"`
	To            float64 `json:"to"`
	FollowedBy    string  `json:"followedBy,omitempty"`
}

// AugmentObject is a live placed entity.
// Negative ids are derived ids of children placed below a parent.
type AugmentObject struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	ObjectRef   string   `json:"object_ref"`
	BaseURL     string   `json:"base_url"`
	Geo         GeoPoint `json:"geo"`
	RelativeAlt float64  `json:"relative_alt"`
	IsRelative  bool     `json:"is_relative"`
	Target      Vec3     `json:"target"`
	Position    Vec3     `json:"position"`
	TargetScale float64  `json:"target_scale"`
	Scale       float64  `json:"scale"`
	BaseScale   float64  `json:"base_scale"`
	Angle       float64  `json:"angle"`
	Billboard   bool     `json:"billboard"`
	Bleaching   int      `json:"bleaching"`
	Dirty       bool     `json:"-"`
	ParentID    *int64   `json:"parent_id,omitempty"`
	ChildIDs    []int64  `json:"child_ids,omitempty"`
	Generation  uint64   `json:"generation"`
}

// ChildID derives the id of a POI nested below parentID.
func ChildID(parentID, poiID int64) int64 {
	return -1_000_000*parentID - poiID
}

// LayerItem is an entry of the layer directory offered for selection.
type LayerItem struct {
	LayerName string  `json:"layer_name"`
	ItemName  string  `json:"item_name"`
	Line2     string  `json:"line2,omitempty"`
	Line3     string  `json:"line3,omitempty"`
	Icon      string  `json:"icon,omitempty"`
	URL       string  `json:"url"`
	Distance  float64 `json:"distance"`
}

// RefreshRequest asks the engine to restart its fetch cycle.
// A nil Lat/Lon clears any fixed override position.
type RefreshRequest struct {
	URL       string   `json:"url,omitempty"`
	LayerName string   `json:"layer_name,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
}
