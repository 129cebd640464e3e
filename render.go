package heightmap

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

var ErrNoElevationData = errors.New("no elevation data")

// Normalize linearly maps elevations onto the range 0-255, with the lowest
// elevation mapping to 0 and the highest to 255. NaNs are ignored when
// computing the range and map to 0. If all elevations are equal then every
// intensity is 0.
func Normalize(elevations []float64) (intensities []uint8, minElevation, maxElevation float64, err error) {
	minElevation, maxElevation = math.Inf(1), math.Inf(-1)
	for _, elevation := range elevations {
		if math.IsNaN(elevation) {
			continue
		}
		minElevation = min(minElevation, elevation)
		maxElevation = max(maxElevation, elevation)
	}
	if minElevation > maxElevation {
		return nil, 0, 0, ErrNoElevationData
	}

	intensities = make([]uint8, len(elevations))
	elevationRange := maxElevation - minElevation
	if elevationRange == 0 {
		return intensities, minElevation, maxElevation, nil
	}
	for i, elevation := range elevations {
		switch {
		case math.IsNaN(elevation):
			intensities[i] = 0
		case elevation == maxElevation:
			intensities[i] = math.MaxUint8
		default:
			intensity := math.Floor((elevation - minElevation) * math.MaxUint8 / elevationRange)
			intensities[i] = uint8(min(max(intensity, 0), math.MaxUint8))
		}
	}
	return intensities, minElevation, maxElevation, nil
}

// Render returns a width by height greyscale image from row-major
// intensities.
func Render(width, height int, intensities []uint8) (*image.Gray, error) {
	if len(intensities) != width*height {
		return nil, fmt.Errorf("got %d intensities, expected %dx%d", len(intensities), width, height)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, intensities)
	return img, nil
}

// Filename returns the filename of a heightmap with upper left corner ul at
// scale meters per pixel.
func Filename(ul LatLon, scale int) string {
	return formatDegrees(ul.Lat) + "," + formatDegrees(ul.Lon) + "," + strconv.Itoa(scale) + ".png"
}

// SavePNG writes img to dir as a PNG named by Filename and returns its path.
func SavePNG(img image.Image, dir string, ul LatLon, scale int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, Filename(ul, scale))
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return path, nil
}
