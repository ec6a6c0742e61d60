package main

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Beacon is a fixed reference point drawn once on the map.
type Beacon struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LatLng is a geographic position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Number is a float that also accepts numeric strings ("1.20"), which the
// sensor API emits for distances. null and unparseable values decode to NaN
// so one bad field never fails the whole envelope.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if strings.HasPrefix(s, `"`) {
		if unq, err := strconv.Unquote(s); err == nil {
			s = strings.TrimSpace(unq)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f = math.NaN()
	}
	*n = Number(f)
	return nil
}

// Valid reports whether n is a finite number.
func (n Number) Valid() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Distances is the per-beacon distance list. Anything that is not a JSON
// array decodes to nil, the same as an absent key.
type Distances []Number

func (d *Distances) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '[' {
		*d = nil
		return nil
	}
	var list []Number
	if err := json.Unmarshal(b, &list); err != nil {
		*d = nil
		return nil
	}
	*d = list
	return nil
}

// num returns the value of an optional field and whether it is usable.
func num(n *Number) (float64, bool) {
	if n == nil || !n.Valid() {
		return 0, false
	}
	return float64(*n), true
}

func ptr(f float64) *Number {
	n := Number(f)
	return &n
}

// ProximityReading is one upstream observation. It is the union of every
// field the sensor API variants send; all but ID_Movil are optional.
type ProximityReading struct {
	MobileID       string    `json:"ID_Movil"`
	BeaconID       string    `json:"ID_Beacon,omitempty"`
	Lat            *Number   `json:"lat,omitempty"`
	Lng            *Number   `json:"lng,omitempty"`
	X              *Number   `json:"x,omitempty"`
	Y              *Number   `json:"y,omitempty"`
	Distance       *Number   `json:"distancia,omitempty"`
	Distances      Distances `json:"distancias,omitempty"`
	Temperature    *Number   `json:"Temperatura,omitempty"`
	BoundaryRadius *Number   `json:"radioLimite,omitempty"`
}

// Origin anchors local x/y offsets in meters to geographic coordinates.
type Origin struct {
	Lat         float64
	Lng         float64
	MetersToLat float64
	MetersToLng float64
}

// Position resolves where the mobile node is: lat/lng when both are usable,
// otherwise the x/y offset around origin.
func (r ProximityReading) Position(o Origin) (LatLng, bool) {
	lat, okLat := num(r.Lat)
	lng, okLng := num(r.Lng)
	if okLat && okLng {
		return LatLng{Lat: lat, Lng: lng}, true
	}
	x, okX := num(r.X)
	y, okY := num(r.Y)
	if okX && okY {
		return LatLng{
			Lat: o.Lat + y*o.MetersToLat,
			Lng: o.Lng + x*o.MetersToLng,
		}, true
	}
	return LatLng{}, false
}

// Envelope is the wire contract between the relay and the renderer.
type Envelope struct {
	Proximidad []ProximityReading `json:"proximidad"`
	Error      string             `json:"error,omitempty"`

	// Dropped counts rows that could not be decoded.
	Dropped int `json:"-"`
}

// decodeEnvelope parses a relay response body. Rows are decoded one by one
// and a row that does not fit ProximityReading is dropped on its own.
func decodeEnvelope(body []byte) (*Envelope, error) {
	var raw struct {
		Proximidad []json.RawMessage `json:"proximidad"`
		Error      string            `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	env := &Envelope{
		Proximidad: make([]ProximityReading, 0, len(raw.Proximidad)),
		Error:      raw.Error,
	}
	for _, row := range raw.Proximidad {
		var rd ProximityReading
		if err := json.Unmarshal(row, &rd); err != nil {
			env.Dropped++
			continue
		}
		env.Proximidad = append(env.Proximidad, rd)
	}
	return env, nil
}

// fallbackEnvelope is what the relay returns when the upstream cannot be used.
func fallbackEnvelope(err error) []byte {
	msg := "upstream error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	b, mErr := json.Marshal(Envelope{Proximidad: []ProximityReading{}, Error: msg})
	if mErr != nil {
		return []byte(`{"error":"upstream error","proximidad":[]}`)
	}
	return b
}
