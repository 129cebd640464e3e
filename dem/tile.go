package dem

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"sync/atomic"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff" // Register BigTIFF support.
	_ "github.com/google/tiff/geotiff" // Register the GeoTIFF tag space.
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

const (
	noDataBits     = 0xff7fffff
	gdalNoData     = "-3.4028234663852886e+038"
	bytesPerSample = 4
)

var (
	errShortRead = errors.New("short read")
	noData       = math.Float32frombits(noDataBits)
)

// A Tile is an open GeoTIFF file containing a single band of LZW-compressed
// float32 samples, arranged in tiles.
type Tile struct {
	r                 io.ReaderAt
	closer            io.Closer
	layout            tileLayout
	cols              int
	rows              int
	samplesPerTile    int
	uncompressedSize  int
	smallestByteCount uint64
	emptyTileData     atomic.Pointer[[]byte]
	sampleCacheBytes  int
	sampleCache       *otter.Cache[TileIndex, []float32]
}

// A tileLayout describes where a Tile's samples are, both in the file and in
// the projected coordinate system.
type tileLayout struct {
	width          int // Image width in samples.
	height         int // Image height in samples.
	tileWidth      int
	tileHeight     int
	tileOffsets    []uint64
	tileByteCounts []uint64
	scaleX         int // Projected units per sample.
	scaleY         int
	originX        int // Projected coordinates of the top left corner.
	originY        int
}

// A TileOption sets an option on a Tile.
type TileOption func(*Tile)

// WithSampleCacheBytes sets the approximate size of a Tile's decompressed
// sample cache.
func WithSampleCacheBytes(sampleCacheBytes int) TileOption {
	return func(t *Tile) {
		t.sampleCacheBytes = sampleCacheBytes
	}
}

// geoTIFFIFD is unmarshaled from a GeoTIFF's first IFD by
// github.com/google/tiff.
type geoTIFFIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint16    `tiff:"field,tag=322"`
	TileLength                uint16    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// layout checks that ifd describes a supported raster and returns its
// layout.
func (ifd *geoTIFFIFD) layout() (tileLayout, error) {
	switch {
	case ifd.BitsPerSample != 8*bytesPerSample:
		return tileLayout{}, fmt.Errorf("%d bits per sample: %w", ifd.BitsPerSample, errors.ErrUnsupported)
	case ifd.SampleFormat != 3:
		return tileLayout{}, fmt.Errorf("sample format %d: %w", ifd.SampleFormat, errors.ErrUnsupported)
	case ifd.Compression != 5:
		return tileLayout{}, fmt.Errorf("compression %d: %w", ifd.Compression, errors.ErrUnsupported)
	case ifd.Predictor != 1:
		return tileLayout{}, fmt.Errorf("predictor %d: %w", ifd.Predictor, errors.ErrUnsupported)
	case ifd.PhotometricInterpretation != 1 || ifd.SamplesPerPixel != 1 || ifd.PlanarConfiguration != 1:
		return tileLayout{}, fmt.Errorf("multiple bands: %w", errors.ErrUnsupported)
	case ifd.GDALNoData != gdalNoData:
		return tileLayout{}, fmt.Errorf("no data value %q: %w", ifd.GDALNoData, errors.ErrUnsupported)
	case ifd.TileWidth == 0 || ifd.TileLength == 0:
		return tileLayout{}, fmt.Errorf("not tiled: %w", errors.ErrUnsupported)
	}

	geoKeys, err := ParseGeoKeyDirectory(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
	if err != nil {
		return tileLayout{}, err
	}
	if modelType := geoKeys.Shorts[GeoKeyGTModelType]; modelType != ModelTypeProjected {
		return tileLayout{}, fmt.Errorf("model type %d: %w", modelType, errors.ErrUnsupported)
	}
	if rasterType, ok := geoKeys.Shorts[GeoKeyGTRasterType]; ok && rasterType != RasterPixelIsArea {
		return tileLayout{}, fmt.Errorf("raster type %d: %w", rasterType, errors.ErrUnsupported)
	}

	// Only integral scales and a single tiepoint at the origin are supported.
	scale, tiepoint := ifd.ModelPixelScaleTag, ifd.ModelTiepointTag
	if len(scale) != 3 || !isInt(scale[0]) || !isInt(scale[1]) || scale[2] != 0 {
		return tileLayout{}, fmt.Errorf("pixel scale %v: %w", scale, errors.ErrUnsupported)
	}
	if len(tiepoint) != 6 || tiepoint[0] != 0 || tiepoint[1] != 0 || tiepoint[2] != 0 ||
		!isInt(tiepoint[3]) || !isInt(tiepoint[4]) || tiepoint[5] != 0 {
		return tileLayout{}, fmt.Errorf("tiepoint %v: %w", tiepoint, errors.ErrUnsupported)
	}

	return tileLayout{
		width:          int(ifd.ImageWidth),
		height:         int(ifd.ImageLength),
		tileWidth:      int(ifd.TileWidth),
		tileHeight:     int(ifd.TileLength),
		tileOffsets:    ifd.TileOffsets,
		tileByteCounts: ifd.TileByteCounts,
		scaleX:         int(scale[0]),
		scaleY:         int(scale[1]),
		originX:        int(tiepoint[3]),
		originY:        int(tiepoint[4]),
	}, nil
}

// OpenTile opens the GeoTIFF name in fsys.
func OpenTile(fsys fs.FS, name string, options ...TileOption) (_ *Tile, err error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = file.Close()
		}
	}()

	r, ok := file.(tiff.ReadAtReadSeeker)
	if !ok {
		return nil, fmt.Errorf("%s: random access: %w", name, errors.ErrUnsupported)
	}
	parsed, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if n := len(parsed.IFDs()); n != 1 {
		return nil, fmt.Errorf("%s: found %d IFDs, expected 1", name, n)
	}
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(parsed.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	layout, err := ifd.layout()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return newTile(r, file, layout, options...)
}

func newTile(r io.ReaderAt, closer io.Closer, layout tileLayout, options ...TileOption) (*Tile, error) {
	t := &Tile{
		r:                r,
		closer:           closer,
		layout:           layout,
		cols:             (layout.width + layout.tileWidth - 1) / layout.tileWidth,
		rows:             (layout.height + layout.tileHeight - 1) / layout.tileHeight,
		samplesPerTile:   layout.tileWidth * layout.tileHeight,
		sampleCacheBytes: 128 << 20,
	}
	for _, option := range options {
		option(t)
	}
	t.uncompressedSize = t.samplesPerTile * bytesPerSample

	if n := t.cols * t.rows; len(layout.tileOffsets) != n || len(layout.tileByteCounts) != n {
		return nil, fmt.Errorf("got %d tile offsets and %d tile byte counts, expected %d",
			len(layout.tileOffsets), len(layout.tileByteCounts), n)
	}
	t.smallestByteCount = layout.tileByteCounts[0]
	for _, byteCount := range layout.tileByteCounts[1:] {
		t.smallestByteCount = min(t.smallestByteCount, byteCount)
	}

	var err error
	t.sampleCache, err = otter.New(&otter.Options[TileIndex, []float32]{
		MaximumSize: max(t.sampleCacheBytes/t.uncompressedSize, 1),
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Close closes t.
func (t *Tile) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// Scale implements Raster.
func (t *Tile) Scale() (int, int) {
	return t.layout.scaleX, t.layout.scaleY
}

// Sample returns the sample at point.
func (t *Tile) Sample(ctx context.Context, point Point) (float64, error) {
	samples, err := t.Samples(ctx, []Point{point})
	if err != nil {
		return 0, err
	}
	return samples[0], nil
}

// Samples implements Raster. Samples are read one tile at a time.
func (t *Tile) Samples(ctx context.Context, points []Point) ([]float64, error) {
	samples := make([]float64, len(points))
	pixels := make([]Point, len(points))
	indexesByTile := make(map[TileIndex][]int)
	for i, point := range points {
		pixels[i] = t.pixel(point)
		tileIndex, ok := t.tileIndex(pixels[i])
		if !ok {
			samples[i] = math.NaN()
			continue
		}
		indexesByTile[tileIndex] = append(indexesByTile[tileIndex], i)
	}

	for tileIndex, indexes := range indexesByTile {
		tileSamples, err := t.sampleCache.Get(ctx, tileIndex, otter.LoaderFunc[TileIndex, []float32](t.loadTileSamples))
		switch {
		case errors.Is(err, otter.ErrNotFound):
			for _, i := range indexes {
				samples[i] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, i := range indexes {
				samples[i] = t.tileSample(tileSamples, pixels[i])
			}
		}
	}
	return samples, nil
}

// pixel returns the pixel containing point. Y increases downwards.
func (t *Tile) pixel(point Point) Point {
	return Point{
		X: floorDiv(point.X-t.layout.originX, t.layout.scaleX),
		Y: floorDiv(t.layout.originY-point.Y, t.layout.scaleY),
	}
}

// tileIndex returns the index of the tile containing pixel.
func (t *Tile) tileIndex(pixel Point) (TileIndex, bool) {
	if pixel.X < 0 || t.layout.width <= pixel.X || pixel.Y < 0 || t.layout.height <= pixel.Y {
		return TileIndex{}, false
	}
	return TileIndex{
		Col: pixel.X / t.layout.tileWidth,
		Row: pixel.Y / t.layout.tileHeight,
	}, true
}

func (t *Tile) tileSample(tileSamples []float32, pixel Point) float64 {
	sample := tileSamples[pixel.X%t.layout.tileWidth+(pixel.Y%t.layout.tileHeight)*t.layout.tileWidth]
	if sample == noData {
		return math.NaN()
	}
	return float64(sample)
}

// loadTileSamples reads, decompresses, and decodes the tile at tileIndex. It
// returns otter.ErrNotFound if the tile contains no data.
func (t *Tile) loadTileSamples(ctx context.Context, tileIndex TileIndex) ([]float32, error) {
	i := tileIndex.Col + t.cols*tileIndex.Row
	compressed := make([]byte, t.layout.tileByteCounts[i])
	n, err := t.r.ReadAt(compressed, int64(t.layout.tileOffsets[i]))
	switch {
	case n == len(compressed):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}
	if emptyTileData := t.emptyTileData.Load(); emptyTileData != nil && bytes.Equal(compressed, *emptyTileData) {
		return nil, otter.ErrNotFound
	}

	data := make([]byte, t.uncompressedSize)
	if _, err := io.ReadFull(lzw.NewReader(bytes.NewReader(compressed), lzw.MSB, 8), data); err != nil {
		return nil, fmt.Errorf("tile %d,%d: %w", tileIndex.Col, tileIndex.Row, err)
	}
	samples := make([]float32, t.samplesPerTile)
	for j := range samples {
		samples[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[bytesPerSample*j:]))
	}

	// Tiles without data all compress to the same bytes, which are assumed to
	// be the smallest. Remember them so that later empty tiles are detected
	// without decompressing them.
	if uint64(len(compressed)) == t.smallestByteCount && allNoData(samples) {
		t.emptyTileData.CompareAndSwap(nil, &compressed)
		return nil, otter.ErrNotFound
	}
	return samples, nil
}

func allNoData(samples []float32) bool {
	for _, sample := range samples {
		if sample != noData {
			return false
		}
	}
	return true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isInt(f float64) bool {
	return f == math.Trunc(f)
}
