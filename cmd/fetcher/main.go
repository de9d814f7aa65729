package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samirrijal/mapoverlay/internal/adapters/mapillary"
	natsadapter "github.com/samirrijal/mapoverlay/internal/adapters/nats"
	"github.com/samirrijal/mapoverlay/internal/adapters/valkey"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
	"github.com/samirrijal/mapoverlay/internal/pkg/config"
	"github.com/samirrijal/mapoverlay/internal/pkg/logging"
	"github.com/samirrijal/mapoverlay/internal/pkg/telemetry"
)

// The fetcher polls the configured areas for remote image sequences and
// publishes them to the remote features layer.
func main() {
	cfg, err := config.Load("overlay-fetcher")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	areas := make([]domain.BoundingBox, 0, len(cfg.Mapillary.Areas))
	for _, a := range cfg.Mapillary.Areas {
		box, err := domain.ParseBBox(a)
		if err != nil {
			log.Fatalf("area %q: %v", a, err)
		}
		areas = append(areas, box)
	}
	if len(areas) == 0 {
		log.Fatal("no areas configured (mapillary.areas)")
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	var cache ports.CacheService
	if c, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer c.Close()
		cache = c
	}

	source := mapillary.NewClient(cfg.Mapillary.URL, cfg.Mapillary.ClientID, time.Duration(cfg.Mapillary.Timeout)*time.Second)
	svc := usecases.NewFeatureService(source, cache, pub)

	slog.Info("fetcher starting", "areas", len(areas), "interval_s", cfg.Mapillary.PollInterval)

	poll := func() {
		for _, box := range areas {
			n, err := svc.Fetch(ctx, box)
			if err != nil {
				slog.Warn("fetch failed", "bbox", box.String(), "error", err)
				continue
			}
			slog.Info("features published", "bbox", box.String(), "features", n)
		}
	}

	poll()
	if cfg.Mapillary.PollInterval <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(cfg.Mapillary.PollInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("fetcher stopped")
			return
		case <-ticker.C:
			poll()
		}
	}
}
