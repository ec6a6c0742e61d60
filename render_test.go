package main

import (
	"math"
	"reflect"
	"testing"
)

var testBeacons = []Beacon{
	{ID: "BEACON_01", Lat: -16.503, Lng: -68.119},
	{ID: "BEACON_02", Lat: -16.504, Lng: -68.120},
	{ID: "BEACON_03", Lat: -16.505, Lng: -68.118},
}

func testRenderOptions() RenderOptions {
	return RenderOptions{
		MobileRadius:  4,
		BoundaryColor: "purple",
		BeaconColor:   "blue",
		Recenter:      true,
		Thresholds:    Thresholds{ColdBelow: 20, HotFrom: 30},
		Palette:       Palette{Cold: "blue", Warm: "orange", Hot: "red", Default: "gray"},
		Origin:        Origin{Lat: -16.5019, Lng: -68.13293, MetersToLat: 0.000009, MetersToLng: 0.000011},
	}
}

func newTestRenderer() *Renderer {
	return NewRenderer(testBeacons, testRenderOptions())
}

func mustDecode(t *testing.T, body string) *Envelope {
	t.Helper()
	env, err := decodeEnvelope([]byte(body))
	if err != nil {
		t.Fatalf("decodeEnvelope(%s): %v", body, err)
	}
	return env
}

func TestCategorize(t *testing.T) {
	th := Thresholds{ColdBelow: 20, HotFrom: 30}
	tests := []struct {
		name string
		temp *Number
		want Category
	}{
		{"absent", nil, CategoryDefault},
		{"NaN", func() *Number { n := Number(math.NaN()); return &n }(), CategoryDefault},
		{"19.9", ptr(19.9), CategoryCold},
		{"20.0", ptr(20.0), CategoryWarm},
		{"29.9", ptr(29.9), CategoryWarm},
		{"30.0", ptr(30.0), CategoryHot},
		{"-5", ptr(-5), CategoryCold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Categorize(tt.temp); got != tt.want {
				t.Errorf("Categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCycle_FullReading(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.504,"lng":-68.119,"distancias":[1.2,3.4,2.1],"Temperatura":25}]}`)

	state, outcome := r.Cycle(RenderState{}, 1, env)
	if outcome != OutcomeDrawn {
		t.Fatalf("outcome = %q, want drawn", outcome)
	}
	if state.MobileMarker == nil {
		t.Fatal("no mobile marker")
	}
	if want := "M1 (-16.50400, -68.11900)"; state.MobileMarker.Label != want {
		t.Errorf("label = %q, want %q", state.MobileMarker.Label, want)
	}
	mc := state.MobileCircle
	if mc == nil || mc.Radius != 4 || mc.Color != "orange" || mc.FillOpacity != 0.5 || mc.Category != CategoryWarm {
		t.Errorf("mobile circle = %+v", mc)
	}
	if state.MobileBoundary != nil {
		t.Errorf("unexpected boundary %+v", state.MobileBoundary)
	}
	if len(state.BeaconCircles) != 3 {
		t.Fatalf("beacon circles = %d, want 3", len(state.BeaconCircles))
	}
	wantRadii := []float64{1.2, 3.4, 2.1}
	for i, c := range state.BeaconCircles {
		if c.BeaconID != testBeacons[i].ID || c.Radius != wantRadii[i] || c.Color != "blue" || c.FillOpacity != 0.15 {
			t.Errorf("circle %d = %+v", i, c)
		}
		if c.Center != (LatLng{Lat: testBeacons[i].Lat, Lng: testBeacons[i].Lng}) {
			t.Errorf("circle %d center = %v", i, c.Center)
		}
	}
	if state.Center == nil || *state.Center != (LatLng{Lat: -16.504, Lng: -68.119}) {
		t.Errorf("center = %v", state.Center)
	}
	if state.OverlayCount() != 5 {
		t.Errorf("OverlayCount() = %d, want 5", state.OverlayCount())
	}
}

func TestCycle_StringDistances(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.504,"lng":-68.119,"distancias":["1.20","3.40","2.10"]}]}`)
	state, outcome := r.Cycle(RenderState{}, 1, env)
	if outcome != OutcomeDrawn || len(state.BeaconCircles) != 3 {
		t.Fatalf("outcome = %q, circles = %d", outcome, len(state.BeaconCircles))
	}
	if state.BeaconCircles[1].Radius != 3.4 {
		t.Errorf("radius = %v, want 3.4", state.BeaconCircles[1].Radius)
	}
	if state.MobileCircle.Color != "gray" {
		t.Errorf("color without temperature = %q, want gray", state.MobileCircle.Color)
	}
}

func TestCycle_Skips(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		want Outcome
	}{
		{"fetch failed", nil, OutcomeSkippedError},
		{"error envelope", &Envelope{Proximidad: []ProximityReading{}, Error: "timeout"}, OutcomeSkippedError},
		{"empty list", &Envelope{Proximidad: []ProximityReading{}}, OutcomeSkippedEmpty},
		{"no position", &Envelope{Proximidad: []ProximityReading{{MobileID: "M1"}}}, OutcomeSkippedNoPosition},
	}

	r := newTestRenderer()
	prev, _ := r.Cycle(RenderState{}, 1, &Envelope{Proximidad: []ProximityReading{{MobileID: "M0", Lat: ptr(-16.5), Lng: ptr(-68.1)}}})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := r.Cycle(prev, 2, tt.env)
			if outcome != tt.want {
				t.Errorf("outcome = %q, want %q", outcome, tt.want)
			}
			if !reflect.DeepEqual(got, prev) {
				t.Errorf("state changed on skip: %+v", got)
			}
		})
	}
}

func TestCycle_DistancesLengthMismatch(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.504,"lng":-68.119,"distancias":[1.2,3.4]}]}`)
	state, outcome := r.Cycle(RenderState{}, 1, env)
	if outcome != OutcomeDrawn {
		t.Fatalf("outcome = %q", outcome)
	}
	if state.MobileMarker == nil || state.MobileCircle == nil {
		t.Error("mobile overlays missing")
	}
	if len(state.BeaconCircles) != 0 {
		t.Errorf("beacon circles = %d, want 0", len(state.BeaconCircles))
	}
}

func TestCycle_InvalidDistance(t *testing.T) {
	r := newTestRenderer()
	for _, body := range []string{
		`{"proximidad":[{"ID_Movil":"M1","lat":1,"lng":1,"distancias":[1.2,-1,2.1]}]}`,
		`{"proximidad":[{"ID_Movil":"M1","lat":1,"lng":1,"distancias":[1.2,"x",2.1]}]}`,
		`{"proximidad":[{"ID_Movil":"M1","lat":1,"lng":1,"distancias":[1.2,null,2.1]}]}`,
	} {
		state, outcome := r.Cycle(RenderState{}, 1, mustDecode(t, body))
		if outcome != OutcomeDrawn || len(state.BeaconCircles) != 0 {
			t.Errorf("%s: outcome = %q, circles = %d", body, outcome, len(state.BeaconCircles))
		}
	}
}

func TestCycle_ReplacesPreviousOverlays(t *testing.T) {
	r := newTestRenderer()
	first := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.504,"lng":-68.119,"distancias":[1,2,3],"radioLimite":10}]}`)
	second := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.505,"lng":-68.118}]}`)

	s1, _ := r.Cycle(RenderState{}, 1, first)
	if s1.MobileBoundary == nil || len(s1.BeaconCircles) != 3 {
		t.Fatalf("first scene = %+v", s1)
	}
	s2, outcome := r.Cycle(s1, 2, second)
	if outcome != OutcomeDrawn {
		t.Fatalf("outcome = %q", outcome)
	}
	if s2.MobileBoundary != nil || len(s2.BeaconCircles) != 0 {
		t.Errorf("stale overlays survived: %+v", s2)
	}
	if s2.OverlayCount() != 2 {
		t.Errorf("OverlayCount() = %d, want 2", s2.OverlayCount())
	}
}

func TestCycle_Idempotent(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.504,"lng":-68.119,"distancias":[1.2,3.4,2.1],"Temperatura":25}]}`)
	s1, _ := r.Cycle(RenderState{}, 1, env)
	s2, _ := r.Cycle(s1, 2, env)
	s1.Seq, s2.Seq = 0, 0
	if !reflect.DeepEqual(s1, s2) {
		t.Errorf("same envelope produced different scenes:\n%+v\n%+v", s1, s2)
	}
}

func TestCycle_Boundary(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":-16.504,"lng":-68.119,"radioLimite":"12.5"}]}`)
	state, _ := r.Cycle(RenderState{}, 1, env)
	b := state.MobileBoundary
	if b == nil {
		t.Fatal("no boundary")
	}
	if b.Radius != 12.5 || b.Color != "purple" || b.FillOpacity != 0 || b.Kind != KindBoundary {
		t.Errorf("boundary = %+v", b)
	}
	if b.Center != state.MobileMarker.Position {
		t.Errorf("boundary center %v != mobile %v", b.Center, state.MobileMarker.Position)
	}
}

func TestCycle_SelectsFirstPositionedReading(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"A"},{"ID_Movil":"B","x":10,"y":20},{"ID_Movil":"C","lat":1,"lng":1}]}`)
	state, outcome := r.Cycle(RenderState{}, 1, env)
	if outcome != OutcomeDrawn {
		t.Fatalf("outcome = %q", outcome)
	}
	want := LatLng{Lat: -16.5019 + 20*0.000009, Lng: -68.13293 + 10*0.000011}
	got := state.MobileMarker.Position
	if math.Abs(got.Lat-want.Lat) > 1e-12 || math.Abs(got.Lng-want.Lng) > 1e-12 {
		t.Errorf("position = %v, want %v", got, want)
	}
	if state.MobileMarker.Label[:1] != "B" {
		t.Errorf("label = %q, want reading B", state.MobileMarker.Label)
	}
}

func TestCycle_SingleDistanceReadings(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[
		{"ID_Movil":"M1","ID_Beacon":"BEACON_03","distancia":"2.10","x":1,"y":1},
		{"ID_Movil":"M1","ID_Beacon":"BEACON_01","distancia":"1.20","x":1,"y":1},
		{"ID_Movil":"M1","ID_Beacon":"BEACON_01","distancia":"9.00","x":1,"y":1},
		{"ID_Movil":"M1","ID_Beacon":"UNKNOWN","distancia":"4.00","x":1,"y":1}
	]}`)
	state, outcome := r.Cycle(RenderState{}, 1, env)
	if outcome != OutcomeDrawn {
		t.Fatalf("outcome = %q", outcome)
	}
	if len(state.BeaconCircles) != 2 {
		t.Fatalf("circles = %+v", state.BeaconCircles)
	}
	if c := state.BeaconCircles[0]; c.BeaconID != "BEACON_01" || c.Radius != 1.2 {
		t.Errorf("circle 0 = %+v", c)
	}
	if c := state.BeaconCircles[1]; c.BeaconID != "BEACON_03" || c.Radius != 2.1 {
		t.Errorf("circle 1 = %+v", c)
	}
}

func TestCycle_Stale(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":1,"lng":1}]}`)
	state, _ := r.Cycle(RenderState{}, 5, env)

	for _, seq := range []uint64{5, 4, 1} {
		got, outcome := r.Cycle(state, seq, env)
		if outcome != OutcomeStale {
			t.Errorf("seq %d: outcome = %q, want stale", seq, outcome)
		}
		if got.Seq != 5 {
			t.Errorf("seq %d: state seq = %d", seq, got.Seq)
		}
	}
}

func TestCycle_SkipKeepsSequence(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":1,"lng":1}]}`)
	state, _ := r.Cycle(RenderState{}, 1, env)

	state, outcome := r.Cycle(state, 3, nil)
	if outcome != OutcomeSkippedError || state.Seq != 1 {
		t.Fatalf("outcome = %q, seq = %d", outcome, state.Seq)
	}
	// seq 2 was issued before 3 but is still newer than what is drawn.
	if _, outcome := r.Cycle(state, 2, env); outcome != OutcomeDrawn {
		t.Errorf("outcome = %q, want drawn", outcome)
	}
}

func TestCycle_NoRecenter(t *testing.T) {
	opts := testRenderOptions()
	opts.Recenter = false
	r := NewRenderer(testBeacons, opts)
	state, _ := r.Cycle(RenderState{}, 1, &Envelope{Proximidad: []ProximityReading{{MobileID: "M1", Lat: ptr(1), Lng: ptr(2)}}})
	if state.Center != nil {
		t.Errorf("center = %v, want nil", state.Center)
	}
}

func TestCycle_MalformedRowDoesNotAbortCycle(t *testing.T) {
	valid := `{"ID_Movil":"N1","lat":-16.5019,"lng":-68.13293,"Temperatura":22,"distancias":[1.2,3.4,2.1]}`
	for name, bad := range map[string]string{
		"distancias not a list": `{"ID_Movil":"N2","distancias":"1.2,3.4,2.1"}`,
		"numeric mobile id":     `{"ID_Movil":7}`,
		"numeric beacon id":     `{"ID_Movil":"N2","ID_Beacon":3}`,
		"row not an object":     `"oops"`,
	} {
		t.Run(name, func(t *testing.T) {
			for _, body := range []string{
				`{"proximidad":[` + valid + `,` + bad + `]}`,
				`{"proximidad":[` + bad + `,` + valid + `]}`,
			} {
				state, outcome := newTestRenderer().Cycle(RenderState{}, 1, mustDecode(t, body))
				if outcome != OutcomeDrawn {
					t.Fatalf("%s: outcome = %q, want drawn", body, outcome)
				}
				if len(state.BeaconCircles) != 3 {
					t.Errorf("%s: beacon circles = %d, want 3", body, len(state.BeaconCircles))
				}
			}
		})
	}
}

func TestCycle_DistancesNotAList(t *testing.T) {
	r := newTestRenderer()
	env := mustDecode(t, `{"proximidad":[{"ID_Movil":"M1","lat":1,"lng":1,"distancias":"1.2,3.4,2.1"}]}`)
	state, outcome := r.Cycle(RenderState{}, 1, env)
	if outcome != OutcomeDrawn {
		t.Fatalf("outcome = %q, want drawn", outcome)
	}
	if state.MobileMarker == nil || len(state.BeaconCircles) != 0 {
		t.Errorf("scene = %+v", state)
	}
}

func TestRenderer_Beacons(t *testing.T) {
	if got := newTestRenderer().Beacons(); !reflect.DeepEqual(got, testBeacons) {
		t.Errorf("Beacons() = %v, want %v", got, testBeacons)
	}
}
