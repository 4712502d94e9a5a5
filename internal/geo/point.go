package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePoint parses the stored "(lat,lng)" form. It accepts exactly two
// numeric literals inside parentheses and nothing else; malformed input is
// an error, never a default point. Parsed points are range-checked.
func ParsePoint(s string) (Point, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return Point{}, fmt.Errorf("location %q: not a parenthesized pair", s)
	}
	inner := s[1 : len(s)-1]

	latStr, lngStr, ok := strings.Cut(inner, ",")
	if !ok || strings.Contains(lngStr, ",") {
		return Point{}, fmt.Errorf("location %q: want exactly two comma-separated values", s)
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Point{}, fmt.Errorf("location %q: bad latitude: %w", s, err)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return Point{}, fmt.Errorf("location %q: bad longitude: %w", s, err)
	}

	p := Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return Point{}, fmt.Errorf("location %q: %w", s, err)
	}
	return p, nil
}

// String formats the point as "(lat,lng)" using the shortest representation
// that round-trips exactly through ParsePoint.
func (p Point) String() string {
	return "(" + strconv.FormatFloat(p.Lat, 'g', -1, 64) +
		"," + strconv.FormatFloat(p.Lng, 'g', -1, 64) + ")"
}
