package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/samirrijal/mapoverlay/internal/adapters/exif"
	natsadapter "github.com/samirrijal/mapoverlay/internal/adapters/nats"
	"github.com/samirrijal/mapoverlay/internal/adapters/postgres"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
	"github.com/samirrijal/mapoverlay/internal/pkg/config"
	"github.com/samirrijal/mapoverlay/internal/pkg/logging"
	"github.com/samirrijal/mapoverlay/internal/pkg/telemetry"
)

// The indexer keeps the photo seed store in step with the mounted volumes
// and publishes the resulting batches for the API process.
//
//	indexer            scan once, or every scan.interval seconds
//	indexer add <dir>  register a directory for scanning
func main() {
	cfg, err := config.Load("overlay-indexer")
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

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	indexer := usecases.NewPhotoIndexer(
		afero.NewOsFs(), cfg.Scan.Mounts,
		postgres.NewPhotoRepo(db), postgres.NewDirectoryRepo(db),
		exif.NewReader(), pub,
	)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "add":
			if len(os.Args) < 3 {
				log.Fatal("usage: indexer add <dir>")
			}
			if err := indexer.AddDirectory(ctx, os.Args[2]); err != nil {
				log.Fatalf("add %s: %v", os.Args[2], err)
			}
			slog.Info("directory registered", "dir", os.Args[2])
			return
		default:
			log.Fatalf("unknown command: %s", os.Args[1])
		}
	}

	if _, err := indexer.Scan(ctx); err != nil {
		slog.Error("scan failed", "error", err)
	}
	if cfg.Scan.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(cfg.Scan.Interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("indexer stopped")
			return
		case <-ticker.C:
			if _, err := indexer.Scan(ctx); err != nil {
				slog.Error("scan failed", "error", err)
			}
		}
	}
}
