package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/proximity-map/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{},
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Upstream: UpstreamConfig{
			URL:     "",
			Format:  "json",
			Timeout: 3 * time.Second,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      15 * time.Second,
			},
		},
		Render: RenderConfig{
			PollInterval:  2 * time.Second,
			MobileRadius:  4,
			BoundaryColor: "purple",
			BeaconColor:   "blue",
			Recenter:      true,
			Thresholds: TemperatureConfig{
				ColdBelow: 20,
				HotFrom:   30,
			},
			Colors: ColorConfig{
				Cold:    "blue",
				Warm:    "orange",
				Hot:     "red",
				Default: "gray",
			},
			Origin: OriginConfig{
				Lat:         -16.5019,
				Lng:         -68.13293,
				MetersToLat: 0.000009,
				MetersToLng: 0.000011,
			},
		},
		Map: MapConfig{
			CenterLat: -16.504,
			CenterLng: -68.119,
			Zoom:      18,
			TileURL:   "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		},
		Beacons: []Beacon{
			{ID: "BEACON_01", Lat: -16.503, Lng: -68.119},
			{ID: "BEACON_02", Lat: -16.504, Lng: -68.120},
			{ID: "BEACON_03", Lat: -16.505, Lng: -68.118},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the config file at path (or
// the first file found when path is empty) and the environment, then
// validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValueFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}
	if err := processBeacons(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"http_host":            "server.host",
	"http_port":            "server.port",
	"shutdown_timeout":     "server.shutdown_timeout",
	"cors_origins":         "server.cors_origins",
	"rate_limit_requests":  "server.rate_limit_requests",
	"rate_limit_window":    "server.rate_limit_window",
	"upstream_url":         "upstream.url",
	"upstream_format":      "upstream.format",
	"upstream_timeout":     "upstream.timeout",
	"breaker_enabled":      "upstream.breaker.enabled",
	"breaker_failures":     "upstream.breaker.failure_threshold",
	"breaker_open_timeout": "upstream.breaker.open_timeout",
	"poll_interval":        "render.poll_interval",
	"mobile_radius":        "render.mobile_radius",
	"boundary_color":       "render.boundary_color",
	"recenter":             "render.recenter",
	"temp_cold_below":      "render.thresholds.cold_below",
	"temp_hot_from":        "render.thresholds.hot_from",
	"origin_lat":           "render.origin.lat",
	"origin_lng":           "render.origin.lng",
	"origin_meters_to_lat": "render.origin.meters_to_lat",
	"origin_meters_to_lng": "render.origin.meters_to_lng",
	"map_center_lat":       "map.center_lat",
	"map_center_lng":       "map.center_lng",
	"map_zoom":             "map.zoom",
	"map_tile_url":         "map.tile_url",
	"beacons":              "beacons",
	"log_level":            "logging.level",
	"log_format":           "logging.format",
	"log_caller":           "logging.caller",
}

// envValueFunc treats an empty variable as unset.
func envValueFunc(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	return envTransformFunc(key), value
}

// envTransformFunc maps known environment variables to config keys and
// drops everything else.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values into string slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := splitList(strVal, ",")
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processBeacons accepts BEACONS="ID:lat:lng,ID:lat:lng" as an alternative
// to the YAML list.
func processBeacons(k *koanf.Koanf) error {
	strVal, ok := k.Get("beacons").(string)
	if !ok {
		return nil
	}
	beacons, err := ParseBeacons(strVal)
	if err != nil {
		return err
	}
	list := make([]interface{}, 0, len(beacons))
	for _, b := range beacons {
		list = append(list, map[string]interface{}{"id": b.ID, "lat": b.Lat, "lng": b.Lng})
	}
	if err := k.Set("beacons", list); err != nil {
		return fmt.Errorf("failed to set beacons: %w", err)
	}
	return nil
}

// ParseBeacons parses "ID:lat:lng" entries separated by commas.
func ParseBeacons(s string) ([]Beacon, error) {
	entries := splitList(s, ",")
	beacons := make([]Beacon, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("BEACONS entry %q: want ID:lat:lng", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("BEACONS entry %q: bad latitude: %w", entry, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("BEACONS entry %q: bad longitude: %w", entry, err)
		}
		beacons = append(beacons, Beacon{ID: strings.TrimSpace(fields[0]), Lat: lat, Lng: lng})
	}
	return beacons, nil
}

func splitList(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
