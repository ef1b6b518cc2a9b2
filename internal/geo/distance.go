// Package geo provides great-circle distance helpers for caterer service areas.
package geo

import "math"

// EarthRadiusMiles is the mean Earth radius used for haversine distances.
const EarthRadiusMiles = 3959.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

// DistanceMiles returns the haversine distance between two points in miles.
func DistanceMiles(a, b Point) float64 {
	return Distance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Distance returns the haversine distance in miles between (lat1, lng1) and (lat2, lng2).
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
