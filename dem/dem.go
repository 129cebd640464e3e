// Package dem provides elevations from local digital elevation models stored
// as tiled GeoTIFFs.
package dem

import "context"

// A Point is a position in a raster's projected coordinate system, in whole
// units of the projection (typically meters).
type Point struct {
	X int
	Y int
}

// A TileIndex identifies a tile within a tiled raster.
type TileIndex struct {
	Col int
	Row int
}

// A Raster returns samples at points. Missing samples are NaN.
type Raster interface {
	Samples(ctx context.Context, points []Point) ([]float64, error)
	// Scale returns the size of a single sample in projected units.
	Scale() (int, int)
}
