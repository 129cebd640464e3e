package heightmap

import (
	"context"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// A Store stores elevations by coordinate.
type Store interface {
	// GetMany returns the stored elevations of coords. Coordinates without a
	// stored elevation are absent from the result.
	GetMany(ctx context.Context, coords []LatLon) (map[LatLon]float64, error)
	// PutMany stores elevations.
	PutMany(ctx context.Context, elevations map[LatLon]float64) error
}

// A CachedService is an ElevationService that consults a Store before
// calling an underlying ElevationService.
type CachedService struct {
	service ElevationService
	store   Store
	logger  *zap.Logger
}

type CachedServiceOption func(*CachedService)

func WithCacheLogger(logger *zap.Logger) CachedServiceOption {
	return func(s *CachedService) {
		s.logger = logger
	}
}

// NewCachedService returns a new CachedService.
func NewCachedService(service ElevationService, store Store, options ...CachedServiceOption) *CachedService {
	s := &CachedService{
		service: service,
		store:   store,
		logger:  zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Elevations implements ElevationService. Failing to write fresh elevations
// to the store is logged and otherwise ignored.
func (s *CachedService) Elevations(ctx context.Context, coords []LatLon) ([]float64, error) {
	hits, err := s.store.GetMany(ctx, coords)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	seen := make(map[LatLon]struct{})
	var misses []LatLon
	for _, coord := range coords {
		if _, ok := hits[coord]; ok {
			continue
		}
		if _, ok := seen[coord]; ok {
			continue
		}
		seen[coord] = struct{}{}
		misses = append(misses, coord)
	}

	fresh := make(map[LatLon]float64, len(misses))
	if len(misses) > 0 {
		missElevations, err := s.service.Elevations(ctx, misses)
		if err != nil {
			return nil, err
		}
		if len(missElevations) != len(misses) {
			return nil, fmt.Errorf("got %d elevations, expected %d", len(missElevations), len(misses))
		}
		for i, coord := range misses {
			fresh[coord] = missElevations[i]
		}
	}

	s.logger.Debug("cache lookup",
		zap.Int("coords", len(coords)),
		zap.Int("hits", len(coords)-len(misses)),
		zap.Int("misses", len(misses)),
	)

	if len(fresh) > 0 {
		cacheable := make(map[LatLon]float64, len(fresh))
		for coord, elevation := range fresh {
			if !math.IsNaN(elevation) {
				cacheable[coord] = elevation
			}
		}
		if err := s.store.PutMany(ctx, cacheable); err != nil {
			s.logger.Warn("cache write failed", zap.Error(err))
		}
	}

	elevations := make([]float64, len(coords))
	for i, coord := range coords {
		if elevation, ok := hits[coord]; ok {
			elevations[i] = elevation
		} else {
			elevations[i] = fresh[coord]
		}
	}
	return elevations, nil
}

// A MemoryStore is a Store that keeps a bounded number of elevations in
// memory, evicting the least recently used.
type MemoryStore struct {
	cache *lru.Cache[LatLon, float64]
}

// NewMemoryStore returns a new MemoryStore holding at most size elevations.
func NewMemoryStore(size int) (*MemoryStore, error) {
	cache, err := lru.New[LatLon, float64](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		cache: cache,
	}, nil
}

// GetMany implements Store.
func (s *MemoryStore) GetMany(ctx context.Context, coords []LatLon) (map[LatLon]float64, error) {
	elevations := make(map[LatLon]float64)
	for _, coord := range coords {
		if elevation, ok := s.cache.Get(coord); ok {
			elevations[coord] = elevation
		}
	}
	return elevations, nil
}

// PutMany implements Store.
func (s *MemoryStore) PutMany(ctx context.Context, elevations map[LatLon]float64) error {
	for coord, elevation := range elevations {
		s.cache.Add(coord, elevation)
	}
	return nil
}

// Len returns the number of elevations in s.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
