package domain

import (
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ObjectKind identifies the concrete variant of an Object.
type ObjectKind uint8

const (
	KindPhoto ObjectKind = iota + 1
	KindRemoteFeature
	KindTaskMarker
)

func (k ObjectKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindRemoteFeature:
		return "remote_feature"
	case KindTaskMarker:
		return "task_marker"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Object is an overlay element stored in a layer. The set of variants is
// closed: Photo, RemoteFeature and TaskMarker. Objects are immutable once
// constructed, so their bounds never change while indexed.
type Object interface {
	Bounded
	Kind() ObjectKind
	// Key identifies the object within its layer.
	Key() string
	object()
}

// Photo is a geotagged image found on local storage.
type Photo struct {
	Lon, Lat     int32
	Direction    int32 // degrees, valid only when HasDirection
	HasDirection bool
	Dir          string
	Name         string
}

func (p *Photo) Bounds() BoundingBox { return PointBox(p.Lon, p.Lat) }
func (p *Photo) Kind() ObjectKind    { return KindPhoto }
func (p *Photo) Key() string         { return path.Join(p.Dir, p.Name) }
func (*Photo) object()               {}

// RemoteFeature is a GeoJSON feature fetched from a remote sequence service.
type RemoteFeature struct {
	Feature *geojson.Feature

	once sync.Once
	box  BoundingBox
}

// NewRemoteFeature wraps f. Features without geometry, or with coordinates
// outside the lon/lat domain, cannot be indexed.
func NewRemoteFeature(f *geojson.Feature) (*RemoteFeature, error) {
	if f == nil || f.Geometry == nil {
		return nil, errors.New("feature has no geometry")
	}
	r := &RemoteFeature{Feature: f}
	if err := r.Bounds().Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Bounds is computed from the geometry on first use.
func (r *RemoteFeature) Bounds() BoundingBox {
	r.once.Do(func() {
		b := r.Feature.Geometry.Bound()
		r.box = BoxFromDegrees(b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
	})
	return r.box
}

func (r *RemoteFeature) Kind() ObjectKind { return KindRemoteFeature }
func (*RemoteFeature) object()            {}

// Key returns the "key" property, falling back to the feature id.
func (r *RemoteFeature) Key() string {
	if k, ok := r.Feature.Properties["key"].(string); ok && k != "" {
		return k
	}
	if r.Feature.ID != nil {
		return fmt.Sprint(r.Feature.ID)
	}
	return ""
}

// Vertices returns the geometry's points in order.
func (r *RemoteFeature) Vertices() []orb.Point {
	switch g := r.Feature.Geometry.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return g
	case orb.LineString:
		return g
	case orb.MultiLineString:
		var pts []orb.Point
		for _, ls := range g {
			pts = append(pts, ls...)
		}
		return pts
	default:
		b := g.Bound()
		return []orb.Point{b.Center()}
	}
}

// ImageKeys returns the per-vertex image keys of a sequence feature, or nil
// when the feature carries none.
func (r *RemoteFeature) ImageKeys() []string {
	cp, ok := r.Feature.Properties["coordinateProperties"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := cp["image_keys"].([]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, len(raw))
	for i, v := range raw {
		keys[i], _ = v.(string)
	}
	return keys
}

// TaskMarker is a user task pinned to a location.
type TaskMarker struct {
	ID       uuid.UUID
	Lon, Lat int32
	Category string
	Title    string
	Closed   bool
}

// NewTaskMarker creates an open marker with a fresh id.
func NewTaskMarker(lon, lat int32, category, title string) *TaskMarker {
	return &TaskMarker{ID: uuid.New(), Lon: lon, Lat: lat, Category: category, Title: title}
}

func (t *TaskMarker) Bounds() BoundingBox { return PointBox(t.Lon, t.Lat) }
func (t *TaskMarker) Kind() ObjectKind    { return KindTaskMarker }
func (t *TaskMarker) Key() string         { return t.ID.String() }
func (*TaskMarker) object()               {}
