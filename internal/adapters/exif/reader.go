package exif

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
)

// ErrNoLocation is returned for images without GPS coordinates.
var ErrNoLocation = errors.New("image has no GPS position")

// Reader implements ports.MetadataReader with goexif.
type Reader struct{}

// NewReader creates a new Reader.
func NewReader() *Reader { return &Reader{} }

// ReadLocation extracts the GPS position and, when present, the image
// direction in whole degrees.
func (Reader) ReadLocation(r io.Reader) (ports.PhotoLocation, error) {
	x, err := exif.Decode(r)
	if err != nil {
		return ports.PhotoLocation{}, fmt.Errorf("decode exif: %w", err)
	}
	lat, lon, err := x.LatLong()
	if err != nil {
		return ports.PhotoLocation{}, fmt.Errorf("%w: %v", ErrNoLocation, err)
	}
	loc := ports.PhotoLocation{Lon: domain.ToE7(lon), Lat: domain.ToE7(lat)}
	if err := domain.PointBox(loc.Lon, loc.Lat).Validate(); err != nil {
		return ports.PhotoLocation{}, err
	}
	loc.Direction, loc.HasDirection = direction(x)
	return loc, nil
}

func direction(x *exif.Exif) (int32, bool) {
	tag, err := x.Get(exif.GPSImgDirection)
	if err != nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	deg := int32(math.Round(float64(num)/float64(den))) % 360
	if deg < 0 {
		deg += 360
	}
	return deg, true
}
