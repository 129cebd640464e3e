package dem

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
)

// newTestTile returns a 4x4 tile split into 2x2 tiles with a scale of 10 and
// its top left corner at 0,40. The sample at column c and row r is 10*r+c,
// except that the bottom right tile has no data.
func newTestTile(t *testing.T) *Tile {
	t.Helper()
	layout := tileLayout{
		width:      4,
		height:     4,
		tileWidth:  2,
		tileHeight: 2,
		scaleX:     10,
		scaleY:     10,
		originX:    0,
		originY:    40,
	}
	var data bytes.Buffer
	for tileRow := range 2 {
		for tileCol := range 2 {
			var samples []float32
			for r := 2 * tileRow; r < 2*tileRow+2; r++ {
				for c := 2 * tileCol; c < 2*tileCol+2; c++ {
					if tileRow == 1 && tileCol == 1 {
						samples = append(samples, noData)
					} else {
						samples = append(samples, float32(10*r+c))
					}
				}
			}
			compressed := compressSamples(t, samples)
			layout.tileOffsets = append(layout.tileOffsets, uint64(data.Len()))
			layout.tileByteCounts = append(layout.tileByteCounts, uint64(len(compressed)))
			data.Write(compressed)
		}
	}
	tile, err := newTile(bytes.NewReader(data.Bytes()), nil, layout)
	assert.NoError(t, err)
	return tile
}

// compressSamples LZW-compresses samples. Tiles this small never need codes
// wider than 9 bits, where compress/lzw and TIFF's variant of LZW agree.
func compressSamples(t *testing.T, samples []float32) []byte {
	t.Helper()
	var buffer bytes.Buffer
	w := lzw.NewWriter(&buffer, lzw.MSB, 8)
	for _, sample := range samples {
		assert.NoError(t, binary.Write(w, binary.LittleEndian, math.Float32bits(sample)))
	}
	assert.NoError(t, w.Close())
	return buffer.Bytes()
}

// center returns the center of the pixel at column c and row r of the test
// tile.
func center(c, r int) Point {
	return Point{X: 10*c + 5, Y: 40 - 10*r - 5}
}

func TestTileSamples(t *testing.T) {
	tile := newTestTile(t)
	defer func() {
		assert.NoError(t, tile.Close())
	}()

	var points []Point
	var expected []float64
	for r := range 4 {
		for c := range 4 {
			points = append(points, center(c, r))
			if r >= 2 && c >= 2 {
				expected = append(expected, math.NaN())
			} else {
				expected = append(expected, float64(10*r+c))
			}
		}
	}
	points = append(points,
		Point{X: -1, Y: 35},
		Point{X: 40, Y: 35},
		Point{X: 5, Y: 41},
		Point{X: 5, Y: 0},
	)
	expected = append(expected, math.NaN(), math.NaN(), math.NaN(), math.NaN())

	// Sample twice so that the second pass is served from the cache.
	for range 2 {
		actual, err := tile.Samples(t.Context(), points)
		assert.NoError(t, err)
		assert.Equal(t, len(expected), len(actual))
		for i := range expected {
			if math.IsNaN(expected[i]) {
				assert.True(t, math.IsNaN(actual[i]), "point %v", points[i])
			} else {
				assert.Equal(t, expected[i], actual[i], "point %v", points[i])
			}
		}
	}

	for i, point := range points {
		actual, err := tile.Sample(t.Context(), point)
		assert.NoError(t, err)
		if math.IsNaN(expected[i]) {
			assert.True(t, math.IsNaN(actual))
		} else {
			assert.Equal(t, expected[i], actual)
		}
	}
}

func TestTilePixelEdges(t *testing.T) {
	tile := newTestTile(t)
	for _, tc := range []struct {
		point    Point
		expected Point
	}{
		{point: Point{X: 0, Y: 40}, expected: Point{X: 0, Y: 0}},
		{point: Point{X: 9, Y: 31}, expected: Point{X: 0, Y: 0}},
		{point: Point{X: 10, Y: 30}, expected: Point{X: 1, Y: 1}},
		{point: Point{X: -1, Y: 41}, expected: Point{X: -1, Y: -1}},
	} {
		assert.Equal(t, tc.expected, tile.pixel(tc.point))
	}
}

func TestNewTileLayoutMismatch(t *testing.T) {
	_, err := newTile(bytes.NewReader(nil), nil, tileLayout{
		width:          4,
		height:         4,
		tileWidth:      2,
		tileHeight:     2,
		scaleX:         10,
		scaleY:         10,
		tileOffsets:    []uint64{0},
		tileByteCounts: []uint64{0},
	})
	assert.EqualError(t, err, "got 1 tile offsets and 1 tile byte counts, expected 4")
}

func TestGeoTIFFIFDLayout(t *testing.T) {
	newIFD := func() *geoTIFFIFD {
		return &geoTIFFIFD{
			ImageWidth:                4000,
			ImageLength:               4000,
			BitsPerSample:             32,
			Compression:               5,
			PhotometricInterpretation: 1,
			SamplesPerPixel:           1,
			PlanarConfiguration:       1,
			Predictor:                 1,
			TileWidth:                 128,
			TileLength:                128,
			SampleFormat:              3,
			ModelPixelScaleTag:        []float64{25, 25, 0},
			ModelTiepointTag:          []float64{0, 0, 0, 1000000, 3000000, 0},
			GeoKeyDirectoryTag:        []uint16{1, 1, 0, 2, 1024, 0, 1, 1, 1025, 0, 1, 1},
			GDALNoData:                gdalNoData,
		}
	}

	layout, err := newIFD().layout()
	assert.NoError(t, err)
	assert.Equal(t, tileLayout{
		width:      4000,
		height:     4000,
		tileWidth:  128,
		tileHeight: 128,
		scaleX:     25,
		scaleY:     25,
		originX:    1000000,
		originY:    3000000,
	}, layout)

	for _, tc := range []struct {
		name           string
		modify         func(*geoTIFFIFD)
		errUnsupported bool
	}{
		{
			name:           "bits_per_sample",
			modify:         func(ifd *geoTIFFIFD) { ifd.BitsPerSample = 16 },
			errUnsupported: true,
		},
		{
			name:           "compression",
			modify:         func(ifd *geoTIFFIFD) { ifd.Compression = 8 },
			errUnsupported: true,
		},
		{
			name:           "predictor",
			modify:         func(ifd *geoTIFFIFD) { ifd.Predictor = 3 },
			errUnsupported: true,
		},
		{
			name:           "no_data",
			modify:         func(ifd *geoTIFFIFD) { ifd.GDALNoData = "0" },
			errUnsupported: true,
		},
		{
			name:           "strips",
			modify:         func(ifd *geoTIFFIFD) { ifd.TileWidth = 0 },
			errUnsupported: true,
		},
		{
			name:           "geographic",
			modify:         func(ifd *geoTIFFIFD) { ifd.GeoKeyDirectoryTag[7] = ModelTypeGeographic },
			errUnsupported: true,
		},
		{
			name:           "pixel_is_point",
			modify:         func(ifd *geoTIFFIFD) { ifd.GeoKeyDirectoryTag[11] = RasterPixelIsPoint },
			errUnsupported: true,
		},
		{
			name:           "fractional_scale",
			modify:         func(ifd *geoTIFFIFD) { ifd.ModelPixelScaleTag[0] = 0.5 },
			errUnsupported: true,
		},
		{
			name:           "tiepoint",
			modify:         func(ifd *geoTIFFIFD) { ifd.ModelTiepointTag[0] = 1 },
			errUnsupported: true,
		},
		{
			name:   "missing_geokeys",
			modify: func(ifd *geoTIFFIFD) { ifd.GeoKeyDirectoryTag = nil },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ifd := newIFD()
			tc.modify(ifd)
			_, err := ifd.layout()
			assert.Error(t, err)
			assert.Equal(t, tc.errUnsupported, errors.Is(err, errors.ErrUnsupported))
		})
	}
}
