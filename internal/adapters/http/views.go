package http

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
)

// ObjectView is the JSON form of a layer object. Fields that do not apply
// to the object's kind are omitted.
type ObjectView struct {
	Kind   string        `json:"kind"`
	Key    string        `json:"key"`
	Bounds domain.Bounds `json:"bounds"`

	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	Direction *int32   `json:"direction,omitempty"`
	Dir       string   `json:"dir,omitempty"`
	Name      string   `json:"name,omitempty"`

	Category string `json:"category,omitempty"`
	Title    string `json:"title,omitempty"`
	Closed   *bool  `json:"closed,omitempty"`

	Feature *geojson.Feature `json:"feature,omitempty"`
}

// HitView is one hit-test result.
type HitView struct {
	Object    ObjectView `json:"object"`
	Distance  float64    `json:"distance_m"`
	ImageKeys []string   `json:"image_keys,omitempty"`
}

func toView(o domain.Object) (ObjectView, error) {
	v := ObjectView{Kind: o.Kind().String(), Key: o.Key(), Bounds: o.Bounds().Degrees()}
	switch obj := o.(type) {
	case *domain.Photo:
		v.Lat, v.Lon = point(obj.Lon, obj.Lat)
		if obj.HasDirection {
			d := obj.Direction
			v.Direction = &d
		}
		v.Dir, v.Name = obj.Dir, obj.Name
	case *domain.TaskMarker:
		v.Lat, v.Lon = point(obj.Lon, obj.Lat)
		v.Category, v.Title = obj.Category, obj.Title
		closed := obj.Closed
		v.Closed = &closed
	case *domain.RemoteFeature:
		v.Feature = obj.Feature
	default:
		return ObjectView{}, fmt.Errorf("%w: %T", domain.ErrUnknownObject, o)
	}
	return v, nil
}

func point(lon, lat int32) (*float64, *float64) {
	la, lo := domain.FromE7(lat), domain.FromE7(lon)
	return &la, &lo
}

func toViews(objs []domain.Object) ([]ObjectView, error) {
	out := make([]ObjectView, 0, len(objs))
	for _, o := range objs {
		v, err := toView(o)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func toHitViews(hits []usecases.Hit) ([]HitView, error) {
	out := make([]HitView, 0, len(hits))
	for _, h := range hits {
		v, err := toView(h.Object)
		if err != nil {
			return nil, err
		}
		out = append(out, HitView{Object: v, Distance: h.DistanceMeters, ImageKeys: h.ImageKeys})
	}
	return out, nil
}
