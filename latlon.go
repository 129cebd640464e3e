package heightmap

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	geo "github.com/kellydunn/golang-geo"
)

// A LatLon is a latitude and longitude in decimal degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// A BoundingBox is a rectangle described by its upper left and lower right
// corners. The upper left latitude is expected to be greater than the lower
// right latitude, and the upper left longitude less than the lower right
// longitude.
type BoundingBox struct {
	UpperLeft  LatLon
	LowerRight LatLon
}

// ParseLatLon parses a string of the form "lat,lon".
func ParseLatLon(s string) (LatLon, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return LatLon{}, fmt.Errorf("%q: expected lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return LatLon{}, fmt.Errorf("%q: latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return LatLon{}, fmt.Errorf("%q: longitude: %w", s, err)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || 90 < lat || lon < -180 || 180 < lon {
		return LatLon{}, fmt.Errorf("%q: out of range", s)
	}
	return LatLon{Lat: lat, Lon: lon}, nil
}

// String returns c formatted as "lat,lon".
func (c LatLon) String() string {
	return formatDegrees(c.Lat) + "," + formatDegrees(c.Lon)
}

// Distance returns the great circle distance between a and b in whole meters,
// using the haversine formula on a sphere of radius 6371km.
func Distance(a, b LatLon) int {
	km := geo.NewPoint(a.Lat, a.Lon).GreatCircleDistance(geo.NewPoint(b.Lat, b.Lon))
	return int(math.Round(1000 * km))
}

// Width returns the distance along b's top edge in meters.
func (b BoundingBox) Width() int {
	return Distance(b.UpperLeft, LatLon{Lat: b.UpperLeft.Lat, Lon: b.LowerRight.Lon})
}

// Height returns the distance along b's left edge in meters.
func (b BoundingBox) Height() int {
	return Distance(b.UpperLeft, LatLon{Lat: b.LowerRight.Lat, Lon: b.UpperLeft.Lon})
}

func formatDegrees(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
