package ports

import (
	"context"
	"io"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/spatial"
)

// SnapshotStore persists whole-layer snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, layer string, snap spatial.Snapshot[domain.Object]) error
	// Load returns domain.ErrNoSnapshot when nothing was saved,
	// domain.ErrIncompatibleVersion or domain.ErrCorruptSnapshot when the
	// saved state cannot be used.
	Load(ctx context.Context, layer string) (spatial.Snapshot[domain.Object], error)
	Delete(ctx context.Context, layer string) error
}

// BatchSink accepts batches of layer changes.
type BatchSink interface {
	Submit(ctx context.Context, batch domain.Batch) error
}

// BatchSinkFunc adapts a function to BatchSink.
type BatchSinkFunc func(ctx context.Context, batch domain.Batch) error

func (f BatchSinkFunc) Submit(ctx context.Context, batch domain.Batch) error { return f(ctx, batch) }

// EventPublisher broadcasts layer changes to live clients.
type EventPublisher interface {
	PublishInsertEvent(ctx context.Context, ev domain.InsertEvent) error
}

// BatchSubscriber delivers object batches for a layer.
type BatchSubscriber interface {
	SubscribeBatches(ctx context.Context, layer string, handler func(ctx context.Context, batch domain.Batch) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// FeatureSource fetches a GeoJSON FeatureCollection covering box.
type FeatureSource interface {
	FetchFeatures(ctx context.Context, box domain.BoundingBox) ([]byte, error)
}

// PhotoLocation is the position data extracted from an image.
type PhotoLocation struct {
	Lon, Lat     int32
	Direction    int32
	HasDirection bool
}

// MetadataReader extracts the location embedded in an image.
type MetadataReader interface {
	ReadLocation(r io.Reader) (PhotoLocation, error)
}

// Rebuilder repopulates a layer from its sources after its snapshot was
// found unusable.
type Rebuilder interface {
	Rebuild(ctx context.Context, layer string) error
}
