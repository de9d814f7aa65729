package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
	"github.com/samirrijal/mapoverlay/internal/pkg/metrics"
	"github.com/samirrijal/mapoverlay/internal/pkg/telemetry"
)

const (
	featureCacheTTL    = 600
	downloadTimeout    = 30 * time.Second
	featureSourceLabel = "mapillary"
)

// FeatureService loads remote image-sequence features for an area and
// hands them to the remote features layer.
type FeatureService struct {
	source ports.FeatureSource
	cache  ports.CacheService
	sink   ports.BatchSink
	wg     sync.WaitGroup
}

// NewFeatureService creates a new FeatureService. cache may be nil.
func NewFeatureService(source ports.FeatureSource, cache ports.CacheService, sink ports.BatchSink) *FeatureService {
	return &FeatureService{source: source, cache: cache, sink: sink}
}

// Fetch retrieves the features covering box and submits them, replacing
// features with the same key. It returns the number of features submitted.
func (s *FeatureService) Fetch(ctx context.Context, box domain.BoundingBox) (int, error) {
	box, err := box.ClampToValidRange()
	if err != nil {
		return 0, err
	}

	ctx, span := tracer.Start(ctx, "features.fetch", trace.WithAttributes(telemetry.AttrBBox.String(box.String())))
	defer span.End()

	data, err := s.load(ctx, box)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return 0, err
	}

	objs, err := ParseFeatures(data)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(featureSourceLabel).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return 0, err
	}
	if len(objs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		if k := o.Key(); k != "" {
			keys = append(keys, k)
		}
	}
	batch := domain.Batch{Layer: domain.LayerMapillary, Objects: objs, Removed: keys}
	if err := s.sink.Submit(ctx, batch); err != nil {
		return 0, fmt.Errorf("submit features: %w", err)
	}
	span.SetAttributes(telemetry.AttrObjects.Int(len(objs)))
	return len(objs), nil
}

func (s *FeatureService) load(ctx context.Context, box domain.BoundingBox) ([]byte, error) {
	cacheKey := "features:" + box.String()
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			metrics.CacheHits.WithLabelValues("features").Inc()
			return data, nil
		}
		metrics.CacheMisses.WithLabelValues("features").Inc()
	}

	start := time.Now()
	data, err := s.source.FetchFeatures(ctx, box)
	metrics.FetchDuration.WithLabelValues(featureSourceLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchErrors.WithLabelValues(featureSourceLabel).Inc()
		return nil, fmt.Errorf("fetch features: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, data, featureCacheTTL)
	}
	return data, nil
}

// Download fetches box in the background. onSuccess, when set, runs after
// the features were submitted; failures are only logged.
func (s *FeatureService) Download(ctx context.Context, box domain.BoundingBox, onSuccess func(n int)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		n, err := s.Fetch(ctx, box)
		if err != nil {
			slog.Warn("feature download failed", "bbox", box.String(), "error", err)
			return
		}
		slog.Debug("features downloaded", "bbox", box.String(), "features", n)
		if onSuccess != nil {
			onSuccess(n)
		}
	}()
}

// Wait blocks until background downloads have finished.
func (s *FeatureService) Wait() {
	s.wg.Wait()
}

// ParseFeatures turns a GeoJSON FeatureCollection into layer objects.
// Features without geometry are skipped.
func ParseFeatures(data []byte) ([]domain.Object, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}
	objs := make([]domain.Object, 0, len(fc.Features))
	for _, f := range fc.Features {
		rf, err := domain.NewRemoteFeature(f)
		if err != nil {
			continue
		}
		objs = append(objs, rf)
	}
	return objs, nil
}

// ExportFeatures collects the remote features among objs into a
// FeatureCollection.
func ExportFeatures(objs []domain.Object) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, o := range objs {
		if rf, ok := o.(*domain.RemoteFeature); ok {
			fc.Append(rf.Feature)
		}
	}
	return fc
}
