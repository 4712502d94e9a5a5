package geo

import (
	"math"
	"testing"
)

// pointAtNorth returns a point roughly meters north of p. Good to well under
// a meter of error for the offsets used in these tests.
func pointAtNorth(p Point, meters float64) Point {
	return Point{Lat: p.Lat + meters/EarthRadiusMeters*180/math.Pi, Lng: p.Lng}
}

func TestDistance_ZeroForIdenticalPoints(t *testing.T) {
	t.Parallel()

	p := Point{Lat: 37.7749, Lng: -122.4194}
	if d := Distance(p, p); d != 0 {
		t.Errorf("Distance(p, p) = %v, want 0", d)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	t.Parallel()

	a := Point{Lat: 40.7128, Lng: -74.0060}
	b := Point{Lat: 34.0522, Lng: -118.2437}

	if d1, d2 := Distance(a, b), Distance(b, a); d1 != d2 {
		t.Errorf("Distance(a, b) = %v, Distance(b, a) = %v, want equal", d1, d2)
	}
}

func TestDistance_KnownValues(t *testing.T) {
	t.Parallel()

	oneDegree := EarthRadiusMeters * math.Pi / 180

	tests := []struct {
		name string
		a, b Point
		want float64
	}{
		{"one degree latitude at equator", Point{0, 0}, Point{1, 0}, oneDegree},
		{"one degree longitude at equator", Point{0, 0}, Point{0, 1}, oneDegree},
		{"equator to pole", Point{0, 0}, Point{90, 0}, EarthRadiusMeters * math.Pi / 2},
		{"antipodes", Point{0, 0}, Point{0, 180}, EarthRadiusMeters * math.Pi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1 {
				t.Errorf("Distance = %v, want %v (within 1m)", got, tt.want)
			}
		})
	}
}

func TestWithin_InclusiveBoundary(t *testing.T) {
	t.Parallel()

	a := Point{Lat: 51.5074, Lng: -0.1278}
	b := pointAtNorth(a, 500)

	// A radius of exactly the measured separation must match.
	if !Within(a, b, Distance(a, b)) {
		t.Error("Within(a, b, Distance(a, b)) = false, want true (boundary is inclusive)")
	}
}

func TestWithin(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 48.8566, Lng: 2.3522}

	tests := []struct {
		name   string
		meters float64
		want   bool
	}{
		{"same point", 0, true},
		{"well inside", 120, true},
		{"just inside", 499, true},
		{"just outside", 501, false},
		{"far outside", 5000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			other := pointAtNorth(origin, tt.meters)
			if got := Within(origin, other, 500); got != tt.want {
				t.Errorf("Within(origin, %+v, 500) = %v, want %v", other, got, tt.want)
			}
		})
	}
}

func TestPointValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       Point
		wantErr bool
	}{
		{"valid", Point{Lat: 37.77, Lng: -122.41}, false},
		{"lat boundary north", Point{Lat: 90, Lng: 0}, false},
		{"lat boundary south", Point{Lat: -90, Lng: 0}, false},
		{"lng boundary east", Point{Lat: 0, Lng: 180}, false},
		{"lng boundary west", Point{Lat: 0, Lng: -180}, false},
		{"lat too big", Point{Lat: 90.0001, Lng: 0}, true},
		{"lat too small", Point{Lat: -90.0001, Lng: 0}, true},
		{"lng too big", Point{Lat: 0, Lng: 180.0001}, true},
		{"lng too small", Point{Lat: 0, Lng: -180.0001}, true},
		{"lat NaN", Point{Lat: math.NaN(), Lng: 0}, true},
		{"lng infinite", Point{Lat: 0, Lng: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
