package heightmap

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidScale   = errors.New("scale must be positive")
	ErrDegenerateGrid = errors.New("degenerate grid")
	ErrOversize       = errors.New("too many points")
)

// A Grid is a row-major sequence of coordinates, top to bottom and left to
// right.
type Grid struct {
	Width  int
	Height int
	Coords []LatLon
}

// NewGrid returns the grid covering bbox with one point every scale meters.
// If maxPoints is positive and the grid would contain more than maxPoints
// points then it returns an error wrapping ErrOversize.
func NewGrid(bbox BoundingBox, scale, maxPoints int) (*Grid, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("%d: %w", scale, ErrInvalidScale)
	}
	width := bbox.Width() / scale
	height := bbox.Height() / scale
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: scale %dm exceeds the %dm by %dm bounding box", ErrDegenerateGrid, scale, bbox.Width(), bbox.Height())
	}
	if points := width * height; maxPoints > 0 && points > maxPoints {
		return nil, fmt.Errorf("%w: %dx%d grid has %d points, maximum is %d", ErrOversize, width, height, points, maxPoints)
	}
	return NewGridWithSize(bbox, width, height)
}

// NewGridWithSize returns a width by height grid whose first point is bbox's
// upper left corner.
func NewGridWithSize(bbox BoundingBox, width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrDegenerateGrid, width, height)
	}
	ul, lr := bbox.UpperLeft, bbox.LowerRight
	latStep := (ul.Lat - lr.Lat) / float64(height)
	lonStep := math.Abs(ul.Lon-lr.Lon) / float64(width)
	coords := make([]LatLon, 0, width*height)
	for y := range height {
		for x := range width {
			coords = append(coords, LatLon{
				Lat: ul.Lat - latStep*float64(y),
				Lon: ul.Lon + lonStep*float64(x),
			})
		}
	}
	return &Grid{
		Width:  width,
		Height: height,
		Coords: coords,
	}, nil
}

// Len returns the number of points in g.
func (g *Grid) Len() int {
	return len(g.Coords)
}
