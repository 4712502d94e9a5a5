// Package geo provides coordinate validation, great-circle distance, and a
// strict textual codec for stored locations.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used to scale angular distances.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate checks that both components are finite and within range.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return fmt.Errorf("latitude %v is not finite", p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("longitude %v is not finite", p.Lng)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", p.Lng)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters.
// s2.LatLng.Distance is the haversine angle, scaled here by the mean Earth
// radius. Symmetric, zero for identical points.
func Distance(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Within reports whether a and b are at most radius meters apart. The
// boundary is inclusive.
func Within(a, b Point, radius float64) bool {
	return Distance(a, b) <= radius
}
