package domain_test

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

func TestBoundingBoxIntersects(t *testing.T) {
	a := domain.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 10}
	tests := []struct {
		name string
		b    domain.BoundingBox
		want bool
	}{
		{"overlap", domain.BoundingBox{MinLon: 5, MinLat: 5, MaxLon: 15, MaxLat: 15}, true},
		{"touching edge", domain.BoundingBox{MinLon: 10, MinLat: 0, MaxLon: 20, MaxLat: 10}, true},
		{"touching corner", domain.PointBox(10, 10), true},
		{"disjoint", domain.BoundingBox{MinLon: 11, MinLat: 0, MaxLon: 20, MaxLat: 10}, false},
		{"contained", domain.BoundingBox{MinLon: 2, MinLat: 2, MaxLon: 3, MaxLat: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Intersects(tt.b); got != tt.want {
				t.Errorf("Intersects = %v, want %v", got, tt.want)
			}
			if got := tt.b.Intersects(a); got != tt.want {
				t.Errorf("reverse Intersects = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoundingBoxUnionAndContains(t *testing.T) {
	a := domain.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 10}
	c := domain.BoundingBox{MinLon: 100, MinLat: 100, MaxLon: 110, MaxLat: 110}
	u := a.Union(c)
	if u != (domain.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 110, MaxLat: 110}) {
		t.Fatalf("unexpected union %v", u)
	}
	if !u.Contains(110, 0) || !u.Contains(0, 0) {
		t.Error("edges must be inclusive")
	}
	if u.Contains(111, 5) {
		t.Error("point outside reported as contained")
	}
	if !u.ContainsBox(a) || !u.ContainsBox(c) {
		t.Error("union must contain its inputs")
	}
}

func TestValidate(t *testing.T) {
	if err := domain.PointBox(0, 0).Validate(); err != nil {
		t.Errorf("degenerate box should be valid: %v", err)
	}
	inverted := domain.BoundingBox{MinLon: 10, MaxLon: 0}
	if err := inverted.Validate(); !errors.Is(err, domain.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
	outside := domain.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: domain.MaxLonE7 + 1, MaxLat: 0}
	if err := outside.Validate(); !errors.Is(err, domain.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
	if _, err := domain.NewBoundingBox(0, 5, 1, 4); err == nil {
		t.Error("expected NewBoundingBox to reject inverted latitude")
	}
}

func TestClampToValidRange(t *testing.T) {
	b := domain.BoundingBox{MinLon: -2_000_000_000, MinLat: -1_000_000_000, MaxLon: 2_000_000_000, MaxLat: 1_000_000_000}
	c, err := b.ClampToValidRange()
	if err != nil {
		t.Fatal(err)
	}
	want := domain.BoundingBox{MinLon: domain.MinLonE7, MinLat: domain.MinLatE7, MaxLon: domain.MaxLonE7, MaxLat: domain.MaxLatE7}
	if c != want {
		t.Errorf("got %v, want %v", c, want)
	}

	inverted := domain.BoundingBox{MinLon: 10, MinLat: 0, MaxLon: 0, MaxLat: 0}
	if _, err := inverted.ClampToValidRange(); !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestBoxFromDegreesCovers(t *testing.T) {
	b := domain.BoxFromDegrees(-3.00000001, 43.1, 2.5, 43.20000001)
	if b.MinLon != -30000001 || b.MaxLat != 432000001 {
		t.Errorf("unexpected rounding: %v", b)
	}
	if domain.ToE7(43.2634) != 432634000 {
		t.Errorf("unexpected ToE7: %d", domain.ToE7(43.2634))
	}
}

func TestDegreesOutsideInt32Saturate(t *testing.T) {
	b := domain.BoxFromDegrees(-500, math.NaN(), 1e12, 10)
	if b.MinLon != math.MinInt32 || b.MinLat != math.MaxInt32 || b.MaxLon != math.MaxInt32 {
		t.Errorf("expected saturated edges, got %v", b)
	}
	if err := b.Validate(); !errors.Is(err, domain.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
	if domain.ToE7(-1e10) != math.MinInt32 {
		t.Errorf("unexpected ToE7: %d", domain.ToE7(-1e10))
	}
}

func TestNewRemoteFeatureRejectsOutOfRange(t *testing.T) {
	f := geojson.NewFeature(orb.LineString{{-2.9, 43.2}, {300, 43.2}})
	if _, err := domain.NewRemoteFeature(f); !errors.Is(err, domain.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
}

func TestParseBBox(t *testing.T) {
	b, err := domain.ParseBBox("-2.5, 43.25,-2,43.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.MinLon != -25000000 || b.MaxLat != 435000000 {
		t.Errorf("unexpected box: %v", b)
	}

	for _, in := range []string{"", "1,2,3", "a,b,c,d", "-181,0,0,1", "0,0,1,91"} {
		if _, err := domain.ParseBBox(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
	if _, err := domain.ParseBBox("1,1,0,0"); !errors.Is(err, domain.ErrInvalidBounds) {
		t.Errorf("inverted box: expected ErrInvalidBounds, got %v", err)
	}
}

func TestExpandSaturates(t *testing.T) {
	b := domain.PointBox(2_147_483_000, 0).Expand(10_000)
	if b.MaxLon != 2_147_483_647 {
		t.Errorf("expected saturation, got %d", b.MaxLon)
	}
	if b.MinLat != -10_000 {
		t.Errorf("expected -10000, got %d", b.MinLat)
	}
}

func TestRemoteFeatureBoundsAndKeys(t *testing.T) {
	f := geojson.NewFeature(orb.LineString{{-2.93, 43.25}, {-2.92, 43.26}})
	f.Properties["key"] = "seq-1"
	f.Properties["coordinateProperties"] = map[string]interface{}{
		"image_keys": []interface{}{"img-a", "img-b"},
	}
	rf, err := domain.NewRemoteFeature(f)
	if err != nil {
		t.Fatal(err)
	}
	b := rf.Bounds()
	if !b.Contains(domain.ToE7(-2.93), domain.ToE7(43.25)) || !b.Contains(domain.ToE7(-2.92), domain.ToE7(43.26)) {
		t.Errorf("bounds %v do not cover the geometry", b)
	}
	if rf.Bounds() != b {
		t.Error("bounds must be stable")
	}
	if rf.Key() != "seq-1" {
		t.Errorf("expected key seq-1, got %q", rf.Key())
	}
	if keys := rf.ImageKeys(); len(keys) != 2 || keys[1] != "img-b" {
		t.Errorf("unexpected image keys %v", keys)
	}
	if len(rf.Vertices()) != 2 {
		t.Errorf("expected 2 vertices, got %d", len(rf.Vertices()))
	}

	if _, err := domain.NewRemoteFeature(&geojson.Feature{}); err == nil {
		t.Error("expected feature without geometry to be rejected")
	}
}

func TestObjectKinds(t *testing.T) {
	p := &domain.Photo{Lon: 1, Lat: 2, Dir: "/sdcard/DCIM", Name: "a.jpg"}
	if p.Kind() != domain.KindPhoto || p.Key() != "/sdcard/DCIM/a.jpg" {
		t.Errorf("unexpected photo kind/key: %v %q", p.Kind(), p.Key())
	}
	tm := domain.NewTaskMarker(1, 2, "note", "check sign")
	if tm.Kind() != domain.KindTaskMarker || tm.Key() == "" {
		t.Errorf("unexpected task marker kind/key: %v %q", tm.Kind(), tm.Key())
	}
	if tm.Bounds() != domain.PointBox(1, 2) {
		t.Errorf("unexpected task marker bounds %v", tm.Bounds())
	}
	if domain.KindRemoteFeature.String() != "remote_feature" {
		t.Errorf("unexpected kind string %q", domain.KindRemoteFeature.String())
	}
}
