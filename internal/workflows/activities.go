package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
)

// errLayerBusy is returned while a save or restore holds the layer, so the
// activity is retried.
var errLayerBusy = errors.New("layer busy")

// RebuildActivities holds the activity implementations for the rebuild
// workflow. They run in the process that owns the layers.
type RebuildActivities struct {
	Overlay *usecases.Overlay
	// Photos fills the photos layer from the seed store. Nil when the
	// process has no seed store.
	Photos *usecases.PhotoIndexer
}

// withHeartbeat turns the progress reports of a photo fill or scan into
// activity heartbeats. The SDK throttles them.
func withHeartbeat(ctx context.Context) context.Context {
	return usecases.WithProgress(ctx, func(done int) { activity.RecordHeartbeat(ctx, done) })
}

// ResetLayer empties a layer and removes its saved state.
func (a *RebuildActivities) ResetLayer(ctx context.Context, layer string) error {
	l, err := a.Overlay.Layer(layer)
	if err != nil {
		return err
	}
	ok, err := l.Discard(ctx)
	if !ok {
		return errLayerBusy
	}
	return err
}

// FillLayer repopulates a layer from its source and returns the number of
// objects submitted. Remote features are fetched again on demand and task
// markers have no source, so only photos are filled.
func (a *RebuildActivities) FillLayer(ctx context.Context, layer string) (int, error) {
	if _, err := a.Overlay.Layer(layer); err != nil {
		return 0, err
	}
	switch layer {
	case domain.LayerPhotos:
		if a.Photos == nil {
			slog.Warn("no seed store, photos layer left empty")
			return 0, nil
		}
		activity.RecordHeartbeat(ctx)
		n, err := a.Photos.Fill(withHeartbeat(ctx))
		if err != nil {
			return n, fmt.Errorf("fill photos: %w", err)
		}
		return n, nil
	default:
		slog.Info("layer has no seed source, left empty", "layer", layer)
		return 0, nil
	}
}

// ScanPhotos applies changes made on disk since the last scan.
func (a *RebuildActivities) ScanPhotos(ctx context.Context) (usecases.ScanStats, error) {
	if a.Photos == nil {
		return usecases.ScanStats{}, nil
	}
	activity.RecordHeartbeat(ctx)
	return a.Photos.Scan(withHeartbeat(ctx))
}

// SaveLayer writes the rebuilt layer so the unusable state is replaced.
func (a *RebuildActivities) SaveLayer(ctx context.Context, layer string) (string, error) {
	l, err := a.Overlay.Layer(layer)
	if err != nil {
		return "", err
	}
	res, err := l.Save(ctx)
	if err != nil {
		return res.String(), err
	}
	if res == domain.SaveSkippedLocked {
		return res.String(), errLayerBusy
	}
	return res.String(), nil
}
