// Package config loads proximity-map settings.
//
// Sources are layered, highest priority last:
//
//  1. built-in defaults (defaultConfig)
//  2. YAML file (-config flag, CONFIG_PATH, or one of DefaultConfigPaths)
//  3. environment variables (see envMappings)
//
// The upstream URL has no default. Load fails when it is missing so a
// deployment never silently points at someone else's sensor API.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Render   RenderConfig   `koanf:"render"`
	Map      MapConfig      `koanf:"map"`
	Beacons  []Beacon       `koanf:"beacons" validate:"required,min=1,dive"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// UpstreamConfig describes the sensor API the relay reads from.
type UpstreamConfig struct {
	URL     string        `koanf:"url" validate:"required,url"`
	Format  string        `koanf:"format" validate:"oneof=json gtfsrt"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0,lte=10s"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the upstream.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// RenderConfig drives the render cycle.
type RenderConfig struct {
	PollInterval  time.Duration     `koanf:"poll_interval" validate:"gte=500ms,lte=60s"`
	MobileRadius  float64           `koanf:"mobile_radius" validate:"gt=0"`
	BoundaryColor string            `koanf:"boundary_color" validate:"required"`
	BeaconColor   string            `koanf:"beacon_color" validate:"required"`
	Recenter      bool              `koanf:"recenter"`
	Thresholds    TemperatureConfig `koanf:"thresholds"`
	Colors        ColorConfig       `koanf:"colors"`
	Origin        OriginConfig      `koanf:"origin"`
}

// TemperatureConfig splits temperatures into cold, warm and hot.
type TemperatureConfig struct {
	ColdBelow float64 `koanf:"cold_below"`
	HotFrom   float64 `koanf:"hot_from" validate:"gtfield=ColdBelow"`
}

// ColorConfig maps temperature categories to CSS colors.
type ColorConfig struct {
	Cold    string `koanf:"cold" validate:"required"`
	Warm    string `koanf:"warm" validate:"required"`
	Hot     string `koanf:"hot" validate:"required"`
	Default string `koanf:"default" validate:"required"`
}

// OriginConfig anchors local x/y offsets (meters) to geographic coordinates.
type OriginConfig struct {
	Lat         float64 `koanf:"lat" validate:"min=-90,max=90"`
	Lng         float64 `koanf:"lng" validate:"min=-180,max=180"`
	MetersToLat float64 `koanf:"meters_to_lat" validate:"gt=0"`
	MetersToLng float64 `koanf:"meters_to_lng" validate:"gt=0"`
}

// MapConfig is sent to the page for the initial view.
type MapConfig struct {
	CenterLat float64 `koanf:"center_lat" validate:"min=-90,max=90"`
	CenterLng float64 `koanf:"center_lng" validate:"min=-180,max=180"`
	Zoom      int     `koanf:"zoom" validate:"min=1,max=22"`
	TileURL   string  `koanf:"tile_url" validate:"required"`
}

// Beacon is a fixed reference point.
type Beacon struct {
	ID  string  `koanf:"id" validate:"required"`
	Lat float64 `koanf:"lat" validate:"min=-90,max=90"`
	Lng float64 `koanf:"lng" validate:"min=-180,max=180"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Addr is the listen address for http.Server.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}
