package dem

import (
	"context"
	"math"
)

// InterpolateBilinear returns the bilinear interpolation of raster's samples
// at each of xys, which are X,Y pairs in raster's projected coordinate system.
// The result is NaN wherever any of the four surrounding samples is missing.
func InterpolateBilinear(ctx context.Context, raster Raster, xys [][2]float64) ([]float64, error) {
	scaleX, scaleY := raster.Scale()
	points := make([]Point, 0, 4*len(xys))
	for _, xy := range xys {
		x0 := scaleX * floorDiv(int(math.Floor(xy[0])), scaleX)
		y0 := scaleY * floorDiv(int(math.Floor(xy[1])), scaleY)
		points = append(points,
			Point{X: x0, Y: y0},
			Point{X: x0 + scaleX, Y: y0},
			Point{X: x0, Y: y0 + scaleY},
			Point{X: x0 + scaleX, Y: y0 + scaleY},
		)
	}

	samples, err := raster.Samples(ctx, points)
	if err != nil {
		return nil, err
	}

	result := make([]float64, len(xys))
	for i, xy := range xys {
		x0, y0 := points[4*i].X, points[4*i].Y
		dx := (xy[0] - float64(x0)) / float64(scaleX)
		dy := (xy[1] - float64(y0)) / float64(scaleY)
		s := samples[4*i : 4*i+4]
		result[i] = s[0]*(1-dx)*(1-dy) + s[1]*dx*(1-dy) + s[2]*(1-dx)*dy + s[3]*dx*dy
	}
	return result, nil
}
