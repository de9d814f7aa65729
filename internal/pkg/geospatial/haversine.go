package geospatial

import "math"

const (
	earthRadiusM     = 6371000.0
	metersPerDegree  = 111320.0
	latLimit         = 90.0
	lonLimit         = 180.0
	minCosForLonSpan = 1e-9
)

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Box is a latitude/longitude box in degrees.
type Box struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// BoundingBoxes returns the boxes around a point covering radiusMeters in
// every direction. A box crossing the antimeridian is split into one box on
// each side of it. Near the poles a single box spans all longitudes.
func BoundingBoxes(lat, lon, radiusMeters float64) []Box {
	latDelta := radiusMeters / metersPerDegree
	minLat := math.Max(lat-latDelta, -latLimit)
	maxLat := math.Min(lat+latDelta, latLimit)
	all := []Box{{MinLat: minLat, MinLon: -lonLimit, MaxLat: maxLat, MaxLon: lonLimit}}

	cos := math.Cos(toRad(lat))
	if cos < minCosForLonSpan {
		return all
	}
	lonDelta := radiusMeters / (metersPerDegree * cos)
	if lonDelta >= lonLimit {
		return all
	}
	minLon, maxLon := lon-lonDelta, lon+lonDelta
	switch {
	case minLon < -lonLimit:
		return []Box{
			{MinLat: minLat, MinLon: -lonLimit, MaxLat: maxLat, MaxLon: maxLon},
			{MinLat: minLat, MinLon: minLon + 2*lonLimit, MaxLat: maxLat, MaxLon: lonLimit},
		}
	case maxLon > lonLimit:
		return []Box{
			{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: lonLimit},
			{MinLat: minLat, MinLon: -lonLimit, MaxLat: maxLat, MaxLon: maxLon - 2*lonLimit},
		}
	}
	return []Box{{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
