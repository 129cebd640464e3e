package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.OpenSQLite(t.Context(), ":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestStoreGetPut(t *testing.T) {
	store := newTestStore(t)

	fuji := heightmap.LatLon{Lat: 35.3606, Lon: 138.7274}
	deadSea := heightmap.LatLon{Lat: 31.5590, Lon: 35.4732}
	missing := heightmap.LatLon{Lat: 0, Lon: 0}

	actual, err := store.GetMany(t.Context(), []heightmap.LatLon{fuji, deadSea})
	assert.NoError(t, err)
	assert.Equal(t, map[heightmap.LatLon]float64{}, actual)

	assert.NoError(t, store.PutMany(t.Context(), map[heightmap.LatLon]float64{
		fuji:    3776,
		deadSea: -430.5,
	}))

	actual, err = store.GetMany(t.Context(), []heightmap.LatLon{fuji, missing, deadSea, fuji})
	assert.NoError(t, err)
	assert.Equal(t, map[heightmap.LatLon]float64{
		fuji:    3776,
		deadSea: -430.5,
	}, actual)

	// Puts replace existing values.
	assert.NoError(t, store.PutMany(t.Context(), map[heightmap.LatLon]float64{fuji: 3775}))
	actual, err = store.GetMany(t.Context(), []heightmap.LatLon{fuji})
	assert.NoError(t, err)
	assert.Equal(t, map[heightmap.LatLon]float64{fuji: 3775}, actual)
}

func TestStoreKeyPrecision(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.PutMany(t.Context(), map[heightmap.LatLon]float64{
		{Lat: 1.00000001, Lon: 2}: 10,
	}))
	actual, err := store.GetMany(t.Context(), []heightmap.LatLon{{Lat: 1, Lon: 2}, {Lat: 1.0000002, Lon: 2}})
	assert.NoError(t, err)
	assert.Equal(t, map[heightmap.LatLon]float64{{Lat: 1, Lon: 2}: 10}, actual)
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elevations.db")
	coord := heightmap.LatLon{Lat: 47.9, Lon: 7.9}

	store, err := sqlstore.OpenSQLite(t.Context(), path)
	assert.NoError(t, err)
	assert.NoError(t, store.PutMany(t.Context(), map[heightmap.LatLon]float64{coord: 1493}))
	assert.NoError(t, store.Close())

	store, err = sqlstore.OpenSQLite(t.Context(), path)
	assert.NoError(t, err)
	defer store.Close()
	actual, err := store.GetMany(t.Context(), []heightmap.LatLon{coord})
	assert.NoError(t, err)
	assert.Equal(t, map[heightmap.LatLon]float64{coord: 1493}, actual)
}

func TestStoreAsCache(t *testing.T) {
	store := newTestStore(t)
	calls := 0
	service := heightmap.ElevationServiceFunc(func(ctx context.Context, coords []heightmap.LatLon) ([]float64, error) {
		calls++
		elevations := make([]float64, len(coords))
		for i, coord := range coords {
			elevations[i] = coord.Lat * 100
		}
		return elevations, nil
	})
	cachedService := heightmap.NewCachedService(service, store)
	coords := []heightmap.LatLon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}
	for range 3 {
		actual, err := cachedService.Elevations(t.Context(), coords)
		assert.NoError(t, err)
		assert.Equal(t, []float64{100, 200}, actual)
	}
	assert.Equal(t, 1, calls)
}
