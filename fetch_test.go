package heightmap_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/twpayne/go-heightmap"
)

// A testService returns an elevation derived from each coordinate and
// records the size of each request.
type testService struct {
	batchSizes []int
	callTimes  []time.Time
	failAt     int // 1-based index of the request to fail, or zero.
	err        error
}

func (s *testService) Elevations(ctx context.Context, coords []heightmap.LatLon) ([]float64, error) {
	s.batchSizes = append(s.batchSizes, len(coords))
	s.callTimes = append(s.callTimes, time.Now())
	if s.failAt != 0 && len(s.batchSizes) == s.failAt {
		return nil, s.err
	}
	elevations := make([]float64, len(coords))
	for i, coord := range coords {
		elevations[i] = testElevation(coord)
	}
	return elevations, nil
}

func (s *testService) calls() int {
	return len(s.batchSizes)
}

func testElevation(coord heightmap.LatLon) float64 {
	return 1000*coord.Lat + coord.Lon
}

func testCoords(n int) []heightmap.LatLon {
	coords := make([]heightmap.LatLon, n)
	for i := range coords {
		coords[i] = heightmap.LatLon{Lat: float64(i / 10), Lon: float64(i % 10)}
	}
	return coords
}

func TestFetcherFetch(t *testing.T) {
	for _, tc := range []struct {
		points             int
		batchSize          int
		expectedBatchSizes []int
	}{
		{points: 0, batchSize: 10, expectedBatchSizes: nil},
		{points: 1, batchSize: 10, expectedBatchSizes: []int{1}},
		{points: 10, batchSize: 10, expectedBatchSizes: []int{10}},
		{points: 25, batchSize: 10, expectedBatchSizes: []int{10, 10, 5}},
		{points: 25, batchSize: 1, expectedBatchSizes: []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{points: 25, batchSize: 800, expectedBatchSizes: []int{25}},
		{points: 1600, batchSize: 800, expectedBatchSizes: []int{800, 800}},
	} {
		t.Run(strconv.Itoa(tc.points)+"_"+strconv.Itoa(tc.batchSize), func(t *testing.T) {
			coords := testCoords(tc.points)
			service := &testService{}
			var progress []heightmap.Progress
			fetcher := heightmap.NewFetcher(service,
				heightmap.WithBatchSize(tc.batchSize),
				heightmap.WithBatchDelay(0),
				heightmap.WithFetchProgress(func(p heightmap.Progress) {
					progress = append(progress, p)
				}),
			)

			actual, err := fetcher.Fetch(t.Context(), coords)
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedBatchSizes, service.batchSizes)
			assert.Equal(t, len(coords), len(actual))
			for i, coord := range coords {
				assert.Equal(t, testElevation(coord), actual[i])
			}

			assert.Equal(t, len(tc.expectedBatchSizes), len(progress))
			if len(progress) > 0 {
				assert.Equal(t, heightmap.Progress{
					Batch:       len(tc.expectedBatchSizes),
					Batches:     len(tc.expectedBatchSizes),
					Points:      tc.points,
					TotalPoints: tc.points,
				}, progress[len(progress)-1])
			}
		})
	}
}

func TestFetcherFetchBatchDelay(t *testing.T) {
	const batchDelay = 50 * time.Millisecond
	service := &testService{}
	fetcher := heightmap.NewFetcher(service,
		heightmap.WithBatchSize(1),
		heightmap.WithBatchDelay(batchDelay),
	)

	start := time.Now()
	actual, err := fetcher.Fetch(t.Context(), testCoords(3))
	assert.NoError(t, err)
	assert.Equal(t, 3, len(actual))
	assert.Equal(t, []int{1, 1, 1}, service.batchSizes)

	// The first batch is not delayed, each later batch waits for the delay.
	assert.True(t, service.callTimes[0].Sub(start) < batchDelay, "first batch delayed by %s", service.callTimes[0].Sub(start))
	for i, callTime := range service.callTimes {
		assert.True(t, callTime.Sub(start) >= time.Duration(i)*batchDelay, "batch %d sent after %s", i+1, callTime.Sub(start))
	}
}

func TestFetcherFetchFailure(t *testing.T) {
	errUnavailable := &heightmap.ServiceError{StatusCode: 503, Status: "503 Service Unavailable"}
	service := &testService{failAt: 2, err: errUnavailable}
	fetcher := heightmap.NewFetcher(service, heightmap.WithBatchSize(10), heightmap.WithBatchDelay(0))

	failuresBefore := testutil.ToFloat64(heightmap.BatchFailuresTotal)
	actual, err := fetcher.Fetch(t.Context(), testCoords(35))
	assert.Error(t, err)
	assert.Zero(t, actual)
	assert.Equal(t, 2, service.calls())

	var serviceErr *heightmap.ServiceError
	assert.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, 503, serviceErr.StatusCode)
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(heightmap.BatchFailuresTotal))
}

func TestFetcherFetchShortResponse(t *testing.T) {
	service := heightmap.ElevationServiceFunc(func(ctx context.Context, coords []heightmap.LatLon) ([]float64, error) {
		return make([]float64, len(coords)-1), nil
	})
	fetcher := heightmap.NewFetcher(service, heightmap.WithBatchDelay(0))
	_, err := fetcher.Fetch(t.Context(), testCoords(3))
	assert.EqualError(t, err, "batch 1/1: got 2 elevations, expected 3")
}

func TestFetcherFetchCanceled(t *testing.T) {
	service := &testService{}
	fetcher := heightmap.NewFetcher(service, heightmap.WithBatchSize(1))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := fetcher.Fetch(ctx, testCoords(2))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, service.calls())
}
