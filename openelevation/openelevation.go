// Package openelevation implements the Open-Elevation lookup protocol, both
// as a client and as a server.
//
// See https://github.com/Jorl17/open-elevation/blob/master/docs/api.md.
package openelevation

import (
	"math"

	"github.com/twpayne/go-heightmap"
)

const lookupPath = "/api/v1/lookup"

// A Location is a point in a lookup request.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// A LookupRequest is the body of a POST lookup request.
type LookupRequest struct {
	Locations []Location `json:"locations"`
}

// A Result is the elevation of a single location. Elevation is nil if the
// elevation is unknown.
type Result struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float64 `json:"elevation"`
}

// A LookupResponse is the body of a successful lookup response.
type LookupResponse struct {
	Results []Result `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newLookupRequest(coords []heightmap.LatLon) *LookupRequest {
	locations := make([]Location, len(coords))
	for i, coord := range coords {
		locations[i] = Location{
			Latitude:  coord.Lat,
			Longitude: coord.Lon,
		}
	}
	return &LookupRequest{
		Locations: locations,
	}
}

func (r *LookupRequest) coords() []heightmap.LatLon {
	coords := make([]heightmap.LatLon, len(r.Locations))
	for i, location := range r.Locations {
		coords[i] = heightmap.LatLon{
			Lat: location.Latitude,
			Lon: location.Longitude,
		}
	}
	return coords
}

func newLookupResponse(coords []heightmap.LatLon, elevations []float64) *LookupResponse {
	results := make([]Result, len(coords))
	for i, coord := range coords {
		results[i] = Result{
			Latitude:  coord.Lat,
			Longitude: coord.Lon,
		}
		if elevation := elevations[i]; !math.IsNaN(elevation) {
			results[i].Elevation = &elevation
		}
	}
	return &LookupResponse{
		Results: results,
	}
}

func (r *LookupResponse) elevations() []float64 {
	elevations := make([]float64, len(r.Results))
	for i, result := range r.Results {
		if result.Elevation == nil {
			elevations[i] = math.NaN()
		} else {
			elevations[i] = *result.Elevation
		}
	}
	return elevations
}
