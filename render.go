package main

import "fmt"

// Category is the temperature band of a mobile node.
type Category string

const (
	CategoryCold    Category = "cold"
	CategoryWarm    Category = "warm"
	CategoryHot     Category = "hot"
	CategoryDefault Category = "default"
)

// Thresholds splits temperatures: below ColdBelow is cold, below HotFrom is
// warm, anything else is hot.
type Thresholds struct {
	ColdBelow float64
	HotFrom   float64
}

func (t Thresholds) Categorize(temp *Number) Category {
	v, ok := num(temp)
	switch {
	case !ok:
		return CategoryDefault
	case v < t.ColdBelow:
		return CategoryCold
	case v < t.HotFrom:
		return CategoryWarm
	default:
		return CategoryHot
	}
}

// Palette maps categories to CSS colors.
type Palette struct {
	Cold    string
	Warm    string
	Hot     string
	Default string
}

func (p Palette) Color(c Category) string {
	switch c {
	case CategoryCold:
		return p.Cold
	case CategoryWarm:
		return p.Warm
	case CategoryHot:
		return p.Hot
	default:
		return p.Default
	}
}

// RenderOptions holds everything a cycle needs besides the envelope.
type RenderOptions struct {
	MobileRadius  float64
	BoundaryColor string
	BeaconColor   string
	Recenter      bool
	Thresholds    Thresholds
	Palette       Palette
	Origin        Origin
}

// CircleKind tells the page how to style a circle.
type CircleKind string

const (
	KindMobile   CircleKind = "mobile"
	KindBoundary CircleKind = "boundary"
	KindBeacon   CircleKind = "beacon"
)

type Marker struct {
	Position LatLng `json:"position"`
	Label    string `json:"label"`
}

type Circle struct {
	Kind        CircleKind `json:"kind"`
	Center      LatLng     `json:"center"`
	Radius      float64    `json:"radius"`
	Color       string     `json:"color"`
	FillOpacity float64    `json:"fillOpacity"`
	BeaconID    string     `json:"beaconId,omitempty"`
	Category    Category   `json:"category,omitempty"`
}

// RenderState is the scene currently drawn. Zero value means nothing has
// been drawn yet.
type RenderState struct {
	Seq            uint64   `json:"seq"`
	MobileMarker   *Marker  `json:"mobileMarker,omitempty"`
	MobileCircle   *Circle  `json:"mobileCircle,omitempty"`
	MobileBoundary *Circle  `json:"mobileBoundary,omitempty"`
	BeaconCircles  []Circle `json:"beaconCircles"`
	Center         *LatLng  `json:"center,omitempty"`
}

// OverlayCount is the number of mobile and per-beacon overlays in the scene.
func (s RenderState) OverlayCount() int {
	n := len(s.BeaconCircles)
	if s.MobileMarker != nil {
		n++
	}
	if s.MobileCircle != nil {
		n++
	}
	if s.MobileBoundary != nil {
		n++
	}
	return n
}

// Outcome is the result of one render cycle.
type Outcome string

const (
	OutcomeDrawn             Outcome = "drawn"
	OutcomeSkippedError      Outcome = "skipped_error"
	OutcomeSkippedEmpty      Outcome = "skipped_empty"
	OutcomeSkippedNoPosition Outcome = "skipped_no_position"
	OutcomeStale             Outcome = "stale"
)

// Renderer turns envelopes into scenes. It holds no mutable state; the
// caller owns the RenderState.
type Renderer struct {
	beacons []Beacon
	index   map[string]int
	opts    RenderOptions
}

func NewRenderer(beacons []Beacon, opts RenderOptions) *Renderer {
	index := make(map[string]int, len(beacons))
	for i, b := range beacons {
		index[b.ID] = i
	}
	return &Renderer{beacons: beacons, index: index, opts: opts}
}

// Beacons returns the configured beacons in order.
func (r *Renderer) Beacons() []Beacon {
	return r.beacons
}

// Cycle applies one fetch result to prev. A nil envelope means the fetch
// failed. Anything but OutcomeDrawn returns prev unchanged.
func (r *Renderer) Cycle(prev RenderState, seq uint64, env *Envelope) (RenderState, Outcome) {
	if seq <= prev.Seq {
		return prev, OutcomeStale
	}
	if env == nil || env.Error != "" {
		return prev, OutcomeSkippedError
	}
	if len(env.Proximidad) == 0 {
		return prev, OutcomeSkippedEmpty
	}

	sel, pos, ok := r.selectReading(env.Proximidad)
	if !ok {
		return prev, OutcomeSkippedNoPosition
	}

	cat := r.opts.Thresholds.Categorize(sel.Temperature)
	next := RenderState{
		Seq: seq,
		MobileMarker: &Marker{
			Position: pos,
			Label:    fmt.Sprintf("%s (%.5f, %.5f)", sel.MobileID, pos.Lat, pos.Lng),
		},
		MobileCircle: &Circle{
			Kind:        KindMobile,
			Center:      pos,
			Radius:      r.opts.MobileRadius,
			Color:       r.opts.Palette.Color(cat),
			FillOpacity: 0.5,
			Category:    cat,
		},
		BeaconCircles: r.beaconCircles(sel, env.Proximidad),
	}

	if radius, ok := num(sel.BoundaryRadius); ok && radius >= 0 {
		next.MobileBoundary = &Circle{
			Kind:   KindBoundary,
			Center: pos,
			Radius: radius,
			Color:  r.opts.BoundaryColor,
		}
	}
	if r.opts.Recenter {
		center := pos
		next.Center = &center
	}
	return next, OutcomeDrawn
}

func (r *Renderer) selectReading(readings []ProximityReading) (ProximityReading, LatLng, bool) {
	for _, rd := range readings {
		if pos, ok := rd.Position(r.opts.Origin); ok {
			return rd, pos, true
		}
	}
	return ProximityReading{}, LatLng{}, false
}

// beaconCircles draws one circle per beacon. distancias is matched by
// index and must be complete; without it, single-distance readings are
// matched by beacon id.
func (r *Renderer) beaconCircles(sel ProximityReading, readings []ProximityReading) []Circle {
	circles := []Circle{}
	if sel.Distances != nil {
		if len(sel.Distances) != len(r.beacons) {
			return circles
		}
		for _, d := range sel.Distances {
			if !validRadius(d) {
				return circles
			}
		}
		for i, b := range r.beacons {
			circles = append(circles, r.beaconCircle(b, float64(sel.Distances[i])))
		}
		return circles
	}

	found := make([]*Number, len(r.beacons))
	for _, rd := range readings {
		i, known := r.index[rd.BeaconID]
		if !known || found[i] != nil || rd.Distance == nil || !validRadius(*rd.Distance) {
			continue
		}
		found[i] = rd.Distance
	}
	for i, d := range found {
		if d != nil {
			circles = append(circles, r.beaconCircle(r.beacons[i], float64(*d)))
		}
	}
	return circles
}

func (r *Renderer) beaconCircle(b Beacon, radius float64) Circle {
	return Circle{
		Kind:        KindBeacon,
		Center:      LatLng{Lat: b.Lat, Lng: b.Lng},
		Radius:      radius,
		Color:       r.opts.BeaconColor,
		FillOpacity: 0.15,
		BeaconID:    b.ID,
	}
}

func validRadius(n Number) bool {
	return n.Valid() && float64(n) >= 0
}
