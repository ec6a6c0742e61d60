package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/goccy/go-json"
	"google.golang.org/protobuf/proto"
)

// GtfsRtProximitySource reads a GTFS-Realtime VehiclePositions feed and turns
// every positioned vehicle into a reading, so trackers that publish GTFS-RT
// can drive the map without a translating service in between.
type GtfsRtProximitySource struct {
	url        string
	httpClient *http.Client
}

func NewGtfsRtProximitySource(url string, timeout time.Duration) *GtfsRtProximitySource {
	return &GtfsRtProximitySource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *GtfsRtProximitySource) Fetch(ctx context.Context) ([]byte, error) {
	body, err := httpGet(ctx, s.httpClient, s.url, "application/x-protobuf")
	if err != nil {
		return nil, err
	}
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: gtfs-rt: %v", ErrMalformedPayload, err)
	}
	out, err := json.Marshal(Envelope{Proximidad: readingsFromFeed(&feed)})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %v", ErrMalformedPayload, err)
	}
	return out, nil
}

// readingsFromFeed keeps entities that carry a vehicle id and a position.
func readingsFromFeed(feed *gtfs.FeedMessage) []ProximityReading {
	readings := make([]ProximityReading, 0, len(feed.GetEntity()))
	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		id := vp.GetVehicle().GetId()
		if id == "" {
			id = ent.GetId()
		}
		if id == "" {
			continue
		}
		pos := vp.GetPosition()
		if pos.Latitude == nil || pos.Longitude == nil {
			continue
		}
		readings = append(readings, ProximityReading{
			MobileID: id,
			Lat:      ptr(float64(pos.GetLatitude())),
			Lng:      ptr(float64(pos.GetLongitude())),
		})
	}
	return readings
}
