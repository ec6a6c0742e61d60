package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proximity-map/internal/config"
	"proximity-map/internal/logging"
	"proximity-map/internal/supervisor"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file")
	httpHost   = flag.String("host", "", "HTTP listen host (overrides config)")
	httpPort   = flag.Int("port", 0, "HTTP port (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("loading configuration")
	}
	if *httpHost != "" {
		cfg.Server.Host = *httpHost
	}
	if *httpPort != 0 {
		cfg.Server.Port = *httpPort
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})

	source := selectSource(cfg.Upstream)
	relay := NewRelay(source, BreakerSettings{
		Enabled:          cfg.Upstream.Breaker.Enabled,
		FailureThreshold: cfg.Upstream.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Upstream.Breaker.OpenTimeout,
	})

	beacons := beaconsFromConfig(cfg.Beacons)
	renderer := NewRenderer(beacons, renderOptions(cfg.Render))
	hub := newHub()
	poll := newPoller(relay, renderer, hub, cfg.Render.PollInterval, cfg.Upstream.Timeout)

	setup := MapSetup{
		Center:         LatLng{Lat: cfg.Map.CenterLat, Lng: cfg.Map.CenterLng},
		Zoom:           cfg.Map.Zoom,
		TileURL:        cfg.Map.TileURL,
		PollIntervalMs: cfg.Render.PollInterval.Milliseconds(),
		Beacons:        renderer.Beacons(),
	}
	router := newRouter(relay, poll, hub, setup, serverOptions{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddRenderService(poll)
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", srv.Addr).
		Str("upstream", cfg.Upstream.URL).
		Str("format", cfg.Upstream.Format).
		Int("beacons", len(beacons)).
		Dur("poll_interval", cfg.Render.PollInterval).
		Msg("server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
		os.Exit(1)
	}
	logging.Info().Msg("shut down")
}

func selectSource(up config.UpstreamConfig) ProximitySource {
	if up.Format == "gtfsrt" {
		return NewGtfsRtProximitySource(up.URL, up.Timeout)
	}
	return NewJSONProximitySource(up.URL, up.Timeout)
}

func beaconsFromConfig(in []config.Beacon) []Beacon {
	out := make([]Beacon, len(in))
	for i, b := range in {
		out[i] = Beacon{ID: b.ID, Lat: b.Lat, Lng: b.Lng}
	}
	return out
}

func renderOptions(rc config.RenderConfig) RenderOptions {
	return RenderOptions{
		MobileRadius:  rc.MobileRadius,
		BoundaryColor: rc.BoundaryColor,
		BeaconColor:   rc.BeaconColor,
		Recenter:      rc.Recenter,
		Thresholds: Thresholds{
			ColdBelow: rc.Thresholds.ColdBelow,
			HotFrom:   rc.Thresholds.HotFrom,
		},
		Palette: Palette{
			Cold:    rc.Colors.Cold,
			Warm:    rc.Colors.Warm,
			Hot:     rc.Colors.Hot,
			Default: rc.Colors.Default,
		},
		Origin: Origin{
			Lat:         rc.Origin.Lat,
			Lng:         rc.Origin.Lng,
			MetersToLat: rc.Origin.MetersToLat,
			MetersToLng: rc.Origin.MetersToLng,
		},
	}
}
