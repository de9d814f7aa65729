package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/afero"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/samirrijal/mapoverlay/internal/adapters/exif"
	"github.com/samirrijal/mapoverlay/internal/adapters/http"
	"github.com/samirrijal/mapoverlay/internal/adapters/mapillary"
	natsadapter "github.com/samirrijal/mapoverlay/internal/adapters/nats"
	"github.com/samirrijal/mapoverlay/internal/adapters/postgres"
	"github.com/samirrijal/mapoverlay/internal/adapters/snapshot"
	"github.com/samirrijal/mapoverlay/internal/adapters/valkey"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
	"github.com/samirrijal/mapoverlay/internal/pkg/config"
	"github.com/samirrijal/mapoverlay/internal/pkg/logging"
	"github.com/samirrijal/mapoverlay/internal/pkg/telemetry"
	"github.com/samirrijal/mapoverlay/internal/workflows"
)

func main() {
	cfg, err := config.Load("overlay-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Layer state files
	codec, err := snapshot.NewCodec(cfg.Persistence.Compress)
	if err != nil {
		log.Fatalf("snapshot codec: %v", err)
	}
	defer codec.Close()

	store, err := snapshot.NewStore(afero.NewOsFs(), cfg.Persistence.Dir, codec)
	if err != nil {
		log.Fatalf("snapshot store: %v", err)
	}

	// Database holds the photo seed store; without it the photos layer is
	// served from its state file only.
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Warn("database unavailable, photo indexing disabled", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	// Cache
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	// NATS
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
		pub = nil
	} else {
		defer pub.Close()
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
		natsConn = nil
	}

	// Temporal runs the rebuild workflow for layers whose state is unusable.
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		slog.Warn("temporal unavailable, unusable layers will start empty", "error", err)
		tc = nil
	} else {
		defer tc.Close()
	}

	// Layers
	opts := usecases.LayerOptions{
		MinFanout: cfg.Index.MinFanout,
		MaxFanout: cfg.Index.MaxFanout,
		InboxSize: cfg.Layers.InboxSize,
		Store:     store,
	}
	if tc != nil {
		opts.Rebuilder = workflows.NewRebuilder(tc, cfg.Temporal.TaskQueue)
	}
	if pub != nil {
		opts.Events = pub
	}

	layers := make([]*usecases.Layer, 0, len(cfg.Layers.Enabled))
	for _, name := range cfg.Layers.Enabled {
		l, err := usecases.NewLayer(name, opts)
		if err != nil {
			log.Fatalf("layer %s: %v", name, err)
		}
		layers = append(layers, l)
	}
	overlay := usecases.NewOverlay(layers...)

	deps := &http.Dependencies{
		Overlay: overlay,
		NATS:    natsConn,
		DB:      db,
		Cache:   cache,
	}

	// Use cases
	if l, err := overlay.Layer(domain.LayerPhotos); err == nil && db != nil {
		// Waiting for each batch keeps rebuild fills ordered with resets.
		sink := ports.BatchSinkFunc(l.Apply)
		deps.Photos = usecases.NewPhotoIndexer(
			afero.NewOsFs(), cfg.Scan.Mounts,
			postgres.NewPhotoRepo(db), postgres.NewDirectoryRepo(db),
			exif.NewReader(), sink,
		)
	}
	if l, err := overlay.Layer(domain.LayerMapillary); err == nil {
		var featureCache ports.CacheService
		if cache != nil {
			featureCache = cache
		}
		source := mapillary.NewClient(cfg.Mapillary.URL, cfg.Mapillary.ClientID, time.Duration(cfg.Mapillary.Timeout)*time.Second)
		deps.Features = usecases.NewFeatureService(source, featureCache, l)
	}
	if l, err := overlay.Layer(domain.LayerTasks); err == nil {
		deps.Tasks = usecases.NewTaskService(l)
	}

	// Layer owners must be running before restore: a rebuild submits batches.
	ownersDone := make(chan struct{})
	go func() {
		overlay.Run(ctx)
		close(ownersDone)
	}()

	if tc != nil {
		w := workflows.NewWorker(tc, cfg.Temporal.TaskQueue, &workflows.RebuildActivities{
			Overlay: overlay,
			Photos:  deps.Photos,
		})
		if err := w.Start(); err != nil {
			slog.Warn("rebuild worker failed to start", "error", err)
		} else {
			defer w.Stop()
		}
	}

	overlay.RestoreAll(ctx)

	// Batches published by the indexer and fetcher processes
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats subscriber unavailable, batches from other processes are not applied", "error", err)
	} else {
		defer sub.Close()
		for _, l := range overlay.Layers() {
			// Messages are acked only once applied, so nothing acked is lost on shutdown.
			if err := sub.SubscribeBatches(ctx, l.Name(), l.Apply); err != nil {
				slog.Warn("subscribe failed", "layer", l.Name(), "error", err)
			}
		}
	}

	go overlay.AutoSave(ctx, time.Duration(cfg.Persistence.SaveInterval)*time.Second)

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Map Overlay API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "layers", cfg.Layers.Enabled)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	if deps.Features != nil {
		deps.Features.Wait()
	}
	cancel()
	<-ownersDone

	// Final save of every dirty layer
	overlay.SaveAll(shutdownCtx)

	slog.Info("server stopped")
}
