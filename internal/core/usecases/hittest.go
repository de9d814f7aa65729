package usecases

import (
	"sort"
	"time"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/pkg/geospatial"
)

// Hit is an object found near a point.
type Hit struct {
	Object         domain.Object
	DistanceMeters float64
	// ImageKeys lists the images of the sequence vertices within range.
	ImageKeys []string
}

// HitTest returns the objects with a vertex within radiusMeters of the point,
// nearest first. Objects across the antimeridian are found as well.
func (l *Layer) HitTest(lon, lat int32, radiusMeters float64, limit int) []Hit {
	defer observe(l.name, "hit_test", time.Now())

	latDeg, lonDeg := domain.FromE7(lat), domain.FromE7(lon)

	var hits []Hit
	seen := make(map[domain.Object]bool)
	for _, b := range geospatial.BoundingBoxes(latDeg, lonDeg, radiusMeters) {
		box := domain.BoxFromDegrees(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
		for _, obj := range l.Query(box, 0) {
			if seen[obj] {
				continue
			}
			seen[obj] = true
			if h, ok := hitObject(obj, latDeg, lonDeg, radiusMeters); ok {
				hits = append(hits, h)
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].DistanceMeters < hits[j].DistanceMeters
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func hitObject(obj domain.Object, lat, lon, radius float64) (Hit, bool) {
	switch o := obj.(type) {
	case *domain.Photo:
		d := geospatial.Haversine(lat, lon, domain.FromE7(o.Lat), domain.FromE7(o.Lon))
		return Hit{Object: o, DistanceMeters: d}, d <= radius
	case *domain.TaskMarker:
		d := geospatial.Haversine(lat, lon, domain.FromE7(o.Lat), domain.FromE7(o.Lon))
		return Hit{Object: o, DistanceMeters: d}, d <= radius
	case *domain.RemoteFeature:
		keys := o.ImageKeys()
		h := Hit{Object: o, DistanceMeters: -1}
		for i, v := range o.Vertices() {
			d := geospatial.Haversine(lat, lon, v.Lat(), v.Lon())
			if d > radius {
				continue
			}
			if h.DistanceMeters < 0 || d < h.DistanceMeters {
				h.DistanceMeters = d
			}
			if i < len(keys) && keys[i] != "" {
				h.ImageKeys = append(h.ImageKeys, keys[i])
			}
		}
		return h, h.DistanceMeters >= 0
	default:
		return Hit{}, false
	}
}
