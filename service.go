package heightmap

import (
	"context"
	"fmt"
)

// An ElevationService returns the elevations in meters of coords, in the same
// order. Missing elevations are represented by NaNs.
type ElevationService interface {
	Elevations(ctx context.Context, coords []LatLon) ([]float64, error)
}

// An ElevationServiceFunc is a function that implements ElevationService.
type ElevationServiceFunc func(context.Context, []LatLon) ([]float64, error)

// Elevations implements ElevationService.
func (f ElevationServiceFunc) Elevations(ctx context.Context, coords []LatLon) ([]float64, error) {
	return f(ctx, coords)
}

// A ServiceError is returned when a remote elevation service responds with a
// non-success status.
type ServiceError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("elevation service: %s", e.Status)
	}
	return fmt.Sprintf("elevation service: %s: %s", e.Status, e.Body)
}
