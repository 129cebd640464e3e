package dem

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/twpayne/go-proj/v10"

	"github.com/twpayne/go-heightmap"
)

// A Service is a heightmap.ElevationService backed by a local TileSet.
type Service struct {
	tileSet *TileSet
	mutex   sync.Mutex
	pj      *proj.PJ
}

var _ heightmap.ElevationService = (*Service)(nil)

// NewService returns a new Service that returns interpolated elevations from
// tileSet.
func NewService(tileSet *TileSet) (*Service, error) {
	pj, err := proj.NewCRSToCRS("EPSG:4326", fmt.Sprintf("EPSG:%d", tileSet.SRID()), nil)
	if err != nil {
		return nil, err
	}
	return &Service{
		tileSet: tileSet,
		pj:      pj,
	}, nil
}

// NewEUDEMService returns a new Service for the EU-DEM v1.1 tiles in fsys.
func NewEUDEMService(fsys fs.FS, options ...TileSetOption) (*Service, error) {
	tileSet, err := NewEUDEM(fsys, options...)
	if err != nil {
		return nil, err
	}
	return NewService(tileSet)
}

// Elevations implements heightmap.ElevationService. Coordinates outside the
// tile set have NaN elevations.
func (s *Service) Elevations(ctx context.Context, coords []heightmap.LatLon) ([]float64, error) {
	xys, err := s.project(coords)
	if err != nil {
		return nil, err
	}
	return InterpolateBilinear(ctx, s.tileSet, xys)
}

// Close closes s's tiles.
func (s *Service) Close() error {
	return s.tileSet.Close()
}

// project converts coords to X,Y pairs in s's projected coordinate system.
// EPSG:4326 is latitude first and projected systems like EPSG:3035 are
// northing first, so the result is swapped.
func (s *Service) project(coords []heightmap.LatLon) ([][2]float64, error) {
	flat := make([]float64, 2*len(coords))
	latLons := make([][]float64, len(coords))
	for i, coord := range coords {
		flat[2*i], flat[2*i+1] = coord.Lat, coord.Lon
		latLons[i] = flat[2*i : 2*i+2 : 2*i+2]
	}

	s.mutex.Lock()
	err := s.pj.ForwardFloat64Slices(latLons)
	s.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	xys := make([][2]float64, len(coords))
	for i, yx := range latLons {
		xys[i] = [2]float64{yx[1], yx[0]}
	}
	return xys, nil
}
