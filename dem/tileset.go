package dem

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/multierr"
)

var (
	missingTileHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_dem_missing_tile_hits_total",
		Help: "The total number of lookups of tiles known to be missing",
	})
	openTileHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_dem_open_tile_hits_total",
		Help: "The total number of hits on the open tile cache",
	})
	openTileMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_dem_open_tile_misses_total",
		Help: "The total number of misses on the open tile cache",
	})
	openTileEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_dem_open_tile_evictions_total",
		Help: "The total number of tiles closed after eviction from the open tile cache",
	})
)

// A TileIndexFunc returns the index of the tile containing point.
type TileIndexFunc func(point Point) (TileIndex, bool)

// A TileFilenameFunc returns the filename of the tile at an index.
type TileFilenameFunc func(tileIndex TileIndex) string

// A TileSet is a Raster composed of GeoTIFF tiles in a filesystem. Tiles are
// opened lazily and kept open in an LRU cache. A tile evicted from the cache
// is closed once no Samples call is still reading it.
type TileSet struct {
	mutex            sync.Mutex
	fsys             fs.FS
	srid             int
	scaleX           int
	scaleY           int
	tileIndexFunc    TileIndexFunc
	tileFilenameFunc TileFilenameFunc
	tileOptions      []TileOption
	cacheSize        int
	tiles            *lru.Cache[TileIndex, *openTile]
	missingTiles     sync.Map
	closeErrs        error
}

// An openTile is a cached Tile and the number of readers using it. All fields
// are guarded by the TileSet's mutex.
type openTile struct {
	tile    *Tile
	readers int
	evicted bool
}

// A TileSetOption sets an option on a TileSet.
type TileSetOption func(*TileSet)

// WithCacheSize sets the maximum number of open tiles.
func WithCacheSize(cacheSize int) TileSetOption {
	return func(s *TileSet) {
		s.cacheSize = cacheSize
	}
}

func WithFS(fsys fs.FS) TileSetOption {
	return func(s *TileSet) {
		s.fsys = fsys
	}
}

func WithSRID(srid int) TileSetOption {
	return func(s *TileSet) {
		s.srid = srid
	}
}

func WithScale(scaleX, scaleY int) TileSetOption {
	return func(s *TileSet) {
		s.scaleX = scaleX
		s.scaleY = scaleY
	}
}

func WithTileIndexFunc(tileIndexFunc TileIndexFunc) TileSetOption {
	return func(s *TileSet) {
		s.tileIndexFunc = tileIndexFunc
	}
}

func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) TileSetOption {
	return func(s *TileSet) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

// WithTileOptions sets the options used when opening each tile.
func WithTileOptions(tileOptions ...TileOption) TileSetOption {
	return func(s *TileSet) {
		s.tileOptions = tileOptions
	}
}

// NewTileSet returns a new TileSet with the given options.
func NewTileSet(options ...TileSetOption) (*TileSet, error) {
	s := &TileSet{
		cacheSize: 32,
	}
	for _, option := range options {
		option(s)
	}
	switch {
	case s.fsys == nil:
		return nil, errors.New("no filesystem")
	case s.tileIndexFunc == nil || s.tileFilenameFunc == nil:
		return nil, errors.New("no tile layout")
	case s.scaleX <= 0 || s.scaleY <= 0:
		return nil, errors.New("invalid scale")
	}

	var err error
	s.tiles, err = lru.NewWithEvict(s.cacheSize, func(_ TileIndex, ot *openTile) {
		ot.evicted = true
		if ot.readers == 0 {
			s.closeErrs = multierr.Append(s.closeErrs, ot.tile.Close())
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SRID returns the SRID of s's projected coordinate system.
func (s *TileSet) SRID() int {
	return s.srid
}

// Scale implements Raster.
func (s *TileSet) Scale() (int, int) {
	return s.scaleX, s.scaleY
}

// Samples implements Raster.
func (s *TileSet) Samples(ctx context.Context, points []Point) ([]float64, error) {
	samples := make([]float64, len(points))

	type group struct {
		points  []Point
		indexes []int
	}
	groups := make(map[TileIndex]*group)
	for i, point := range points {
		tileIndex, ok := s.tileIndexFunc(point)
		if !ok {
			samples[i] = math.NaN()
			continue
		}
		g, ok := groups[tileIndex]
		if !ok {
			g = &group{}
			groups[tileIndex] = g
		}
		g.points = append(g.points, point)
		g.indexes = append(g.indexes, i)
	}

	for tileIndex, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.tileSamples(ctx, tileIndex, g.points, g.indexes, samples); err != nil {
			return nil, err
		}
	}
	return samples, nil
}

// Close closes all open tiles. Tiles still being read are closed when their
// readers finish.
func (s *TileSet) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tiles.Purge()
	err := s.closeErrs
	s.closeErrs = nil
	return err
}

// tileSamples sets samples[indexes[j]] to the sample at points[j] in the tile
// at tileIndex.
func (s *TileSet) tileSamples(ctx context.Context, tileIndex TileIndex, points []Point, indexes []int, samples []float64) error {
	ot, err := s.acquire(tileIndex)
	if err != nil {
		return err
	}
	if ot == nil {
		for _, i := range indexes {
			samples[i] = math.NaN()
		}
		return nil
	}
	defer s.release(ot)

	tileSamples, err := ot.tile.Samples(ctx, points)
	if err != nil {
		return err
	}
	for j, i := range indexes {
		samples[i] = tileSamples[j]
	}
	return nil
}

// acquire returns the open tile at tileIndex, or nil if it does not exist. The
// caller must release a non-nil result.
func (s *TileSet) acquire(tileIndex TileIndex) (*openTile, error) {
	if _, ok := s.missingTiles.Load(tileIndex); ok {
		missingTileHits.Inc()
		return nil, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ot, ok := s.tiles.Get(tileIndex); ok {
		openTileHits.Inc()
		ot.readers++
		return ot, nil
	}
	openTileMisses.Inc()

	switch tile, err := OpenTile(s.fsys, s.tileFilenameFunc(tileIndex), s.tileOptions...); {
	case errors.Is(err, fs.ErrNotExist):
		s.missingTiles.Store(tileIndex, struct{}{})
		return nil, nil
	case err != nil:
		return nil, err
	default:
		ot := s.add(tileIndex, tile)
		ot.readers++
		return ot, nil
	}
}

// add adds tile to the cache. s.mutex must be held.
func (s *TileSet) add(tileIndex TileIndex, tile *Tile) *openTile {
	ot := &openTile{
		tile: tile,
	}
	if s.tiles.Add(tileIndex, ot) {
		openTileEvictions.Inc()
	}
	return ot
}

// release releases ot, closing it if it was evicted while in use.
func (s *TileSet) release(ot *openTile) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ot.readers--
	if ot.evicted && ot.readers == 0 {
		s.closeErrs = multierr.Append(s.closeErrs, ot.tile.Close())
	}
}
