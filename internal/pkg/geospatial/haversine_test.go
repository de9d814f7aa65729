package geospatial

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	// Two points in central Bilbao, roughly 630 m apart.
	d := Haversine(43.2614, -2.9275, 43.2630, -2.9350)
	if d < 600 || d > 650 {
		t.Errorf("unexpected distance %.1f m", d)
	}
	if Haversine(10, 10, 10, 10) != 0 {
		t.Error("distance to self must be zero")
	}
}

func TestBoundingBoxesCoverRadius(t *testing.T) {
	boxes := BoundingBoxes(43.26, -2.93, 100)
	if len(boxes) != 1 {
		t.Fatalf("expected one box, got %v", boxes)
	}
	b := boxes[0]
	if d := Haversine(43.26, -2.93, b.MaxLat, -2.93); math.Abs(d-100) > 1 {
		t.Errorf("north edge at %.2f m, want 100", d)
	}
	if d := Haversine(43.26, -2.93, 43.26, b.MinLon); math.Abs(d-100) > 1 {
		t.Errorf("west edge at %.2f m, want 100", d)
	}
	if b.MinLat >= 43.26 || b.MaxLon <= -2.93 {
		t.Error("box does not surround the point")
	}
}

func TestBoundingBoxesSplitAtAntimeridian(t *testing.T) {
	for _, lon := range []float64{179.9999, -179.9999} {
		boxes := BoundingBoxes(0, lon, 100)
		if len(boxes) != 2 {
			t.Fatalf("lon %v: expected two boxes, got %v", lon, boxes)
		}
		for _, b := range boxes {
			if b.MinLon < -180 || b.MaxLon > 180 || b.MinLon > b.MaxLon {
				t.Errorf("lon %v: box out of range: %+v", lon, b)
			}
		}
		toEdge := boxes[0].MaxLon == 180 && boxes[1].MinLon == -180
		fromEdge := boxes[0].MinLon == -180 && boxes[1].MaxLon == 180
		if !toEdge && !fromEdge {
			t.Errorf("lon %v: expected the boxes to meet at the antimeridian: %v", lon, boxes)
		}
	}

	polar := BoundingBoxes(90, 10, 100)
	if len(polar) != 1 || polar[0].MinLon != -180 || polar[0].MaxLon != 180 {
		t.Errorf("expected a single full-width box at the pole, got %v", polar)
	}
}

func TestBoundingBoxClamps(t *testing.T) {
	minLat, minLon, maxLat, maxLon := BoundingBox(90, 0, 5000)
	if maxLat != 90 || minLon != -180 || maxLon != 180 {
		t.Errorf("expected polar box to span all longitudes, got %v %v %v %v", minLat, minLon, maxLat, maxLon)
	}
	_, minLon, _, _ = BoundingBox(0, -179.9999, 1000)
	if minLon != -180 {
		t.Errorf("expected longitude clamp, got %v", minLon)
	}
}
