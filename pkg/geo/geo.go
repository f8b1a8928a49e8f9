// Package geo provides great-circle distance and radius helpers.
package geo

import (
	"math"
	"sort"

	"SafeHaven/pkg/errors"
)

// EarthRadiusMeters mean earth radius
const EarthRadiusMeters = 6371000.0

// Point a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Locatable anything that can report its coordinate
type Locatable interface {
	Coordinate() Point
}

func (p Point) Coordinate() Point { return p }

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// DistanceMeters haversine distance between two coordinates
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLng*sinLng
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance distance between two points
func Distance(a, b Point) float64 {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Within keeps the points whose distance to center is <= radius, in input order
func Within[T Locatable](radiusMeters float64, center Point, points []T) []T {
	out := make([]T, 0, len(points))
	for _, p := range points {
		if Distance(center, p.Coordinate()) <= radiusMeters {
			out = append(out, p)
		}
	}
	return out
}

// NearestFirst returns a copy sorted by ascending distance; equal distances keep input order
func NearestFirst[T Locatable](center Point, points []T) []T {
	type ranked struct {
		item T
		dist float64
	}
	rs := make([]ranked, len(points))
	for i, p := range points {
		rs[i] = ranked{item: p, dist: Distance(center, p.Coordinate())}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].dist < rs[j].dist })

	out := make([]T, len(rs))
	for i, r := range rs {
		out[i] = r.item
	}
	return out
}

// ValidateCoordinate rejects NaN and out-of-range values
func ValidateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return errors.Validation("latitude must be within [-90, 90]").WithContext("field", "latitude")
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return errors.Validation("longitude must be within [-180, 180]").WithContext("field", "longitude")
	}
	return nil
}
