package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// E7 is the fixed-point scale used for coordinates: degrees * 1e7.
const E7 = 1e7

// Coordinate limits in fixed-point units.
const (
	MaxLonE7 int32 = 180 * E7
	MinLonE7 int32 = -MaxLonE7
	MaxLatE7 int32 = 90 * E7
	MinLatE7 int32 = -MaxLatE7
)

// Bounds represents a geographic bounding box in degrees.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// BoundingBox is an axis-aligned rectangle in fixed-point 1e7 degrees.
// X is longitude and Y is latitude. A valid box has Min <= Max on both axes;
// a degenerate box (a point) is valid.
type BoundingBox struct {
	MinLon int32 `json:"min_lon"`
	MinLat int32 `json:"min_lat"`
	MaxLon int32 `json:"max_lon"`
	MaxLat int32 `json:"max_lat"`
}

// Bounded is anything that can be placed in the spatial index.
type Bounded interface {
	Bounds() BoundingBox
}

// NewBoundingBox returns a validated box.
func NewBoundingBox(minLon, minLat, maxLon, maxLat int32) (BoundingBox, error) {
	b := BoundingBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// PointBox returns the degenerate box covering a single point.
func PointBox(lon, lat int32) BoundingBox {
	return BoundingBox{MinLon: lon, MinLat: lat, MaxLon: lon, MaxLat: lat}
}

// BoxFromDegrees converts a box in degrees to fixed point. Minimum edges are
// rounded down and maximum edges up so the result always covers the input.
func BoxFromDegrees(minLon, minLat, maxLon, maxLat float64) BoundingBox {
	return BoundingBox{
		MinLon: floorE7(minLon),
		MinLat: floorE7(minLat),
		MaxLon: ceilE7(maxLon),
		MaxLat: ceilE7(maxLat),
	}
}

// ToE7 converts degrees to fixed point, rounding to nearest. Values beyond
// the int32 range saturate, so they fail Validate instead of wrapping.
func ToE7(deg float64) int32 {
	return e7(math.Round(deg * E7))
}

// FromE7 converts fixed point to degrees.
func FromE7(v int32) float64 {
	return float64(v) / E7
}

func floorE7(deg float64) int32 { return e7(math.Floor(deg * E7)) }
func ceilE7(deg float64) int32  { return e7(math.Ceil(deg * E7)) }

// e7 narrows an integral value to int32, saturating at the range ends. NaN
// maps to the maximum so it is rejected as out of domain.
func e7(v float64) int32 {
	switch {
	case math.IsNaN(v) || v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// Validate reports ErrInvalidBounds when the box is inverted or outside the
// coordinate domain.
func (b BoundingBox) Validate() error {
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return fmt.Errorf("%w: min > max in %s", ErrInvalidBounds, b)
	}
	if b.MinLon < MinLonE7 || b.MaxLon > MaxLonE7 || b.MinLat < MinLatE7 || b.MaxLat > MaxLatE7 {
		return fmt.Errorf("%w: %s outside coordinate domain", ErrInvalidBounds, b)
	}
	return nil
}

// Union returns the smallest box containing both b and o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		MinLon: min(b.MinLon, o.MinLon),
		MinLat: min(b.MinLat, o.MinLat),
		MaxLon: max(b.MaxLon, o.MaxLon),
		MaxLat: max(b.MaxLat, o.MaxLat),
	}
}

// Intersects reports whether the boxes overlap. Touching edges count.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Contains reports whether the point lies inside b, edges included.
func (b BoundingBox) Contains(lon, lat int32) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// ContainsBox reports whether o lies entirely inside b.
func (b BoundingBox) ContainsBox(o BoundingBox) bool {
	return o.MinLon >= b.MinLon && o.MaxLon <= b.MaxLon &&
		o.MinLat >= b.MinLat && o.MaxLat <= b.MaxLat
}

// Width and Height are computed in int64 since a world-wide box overflows int32.
func (b BoundingBox) Width() int64  { return int64(b.MaxLon) - int64(b.MinLon) }
func (b BoundingBox) Height() int64 { return int64(b.MaxLat) - int64(b.MinLat) }

// Area is float64 because sums of two world-sized areas overflow int64.
func (b BoundingBox) Area() float64 {
	return float64(b.Width()) * float64(b.Height())
}

// Expand grows the box by d on every side, saturating at the int32 range.
func (b BoundingBox) Expand(d int32) BoundingBox {
	return BoundingBox{
		MinLon: satAdd(b.MinLon, -int64(d)),
		MinLat: satAdd(b.MinLat, -int64(d)),
		MaxLon: satAdd(b.MaxLon, int64(d)),
		MaxLat: satAdd(b.MaxLat, int64(d)),
	}
}

func satAdd(v int32, d int64) int32 {
	s := int64(v) + d
	switch {
	case s > math.MaxInt32:
		return math.MaxInt32
	case s < math.MinInt32:
		return math.MinInt32
	}
	return int32(s)
}

// ClampToValidRange clamps the box into the legal coordinate domain, as
// required before handing it to a remote API. It fails with ErrInvalidRange
// when nothing of the box survives clamping.
func (b BoundingBox) ClampToValidRange() (BoundingBox, error) {
	c := BoundingBox{
		MinLon: clamp(b.MinLon, MinLonE7, MaxLonE7),
		MinLat: clamp(b.MinLat, MinLatE7, MaxLatE7),
		MaxLon: clamp(b.MaxLon, MinLonE7, MaxLonE7),
		MaxLat: clamp(b.MaxLat, MinLatE7, MaxLatE7),
	}
	if c.MinLon > c.MaxLon || c.MinLat > c.MaxLat {
		return BoundingBox{}, fmt.Errorf("%w: %s", ErrInvalidRange, b)
	}
	return c, nil
}

func clamp(v, lo, hi int32) int32 {
	return max(lo, min(v, hi))
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lon, lat int32) {
	return int32((int64(b.MinLon) + int64(b.MaxLon)) / 2), int32((int64(b.MinLat) + int64(b.MaxLat)) / 2)
}

// Degrees converts the box to floating point degrees.
func (b BoundingBox) Degrees() Bounds {
	return Bounds{
		MinLat: FromE7(b.MinLat),
		MinLon: FromE7(b.MinLon),
		MaxLat: FromE7(b.MaxLat),
		MaxLon: FromE7(b.MaxLon),
	}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat" in degrees. The box is
// widened outward to whole E7 units so no covered point is lost.
func ParseBBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("bbox: %q is not a number", p)
		}
		v[i] = f
	}
	if v[0] < -180 || v[2] > 180 || v[1] < -90 || v[3] > 90 {
		return BoundingBox{}, fmt.Errorf("%w: bbox outside coordinate domain", ErrInvalidBounds)
	}
	box := BoxFromDegrees(v[0], v[1], v[2], v[3])
	if err := box.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return box, nil
}
