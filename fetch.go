package heightmap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize  = 800
	DefaultBatchDelay = time.Second
)

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_batches_total",
		Help: "The total number of elevation batches fetched",
	})
	pointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_points_total",
		Help: "The total number of elevations fetched",
	})
	batchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_batch_failures_total",
		Help: "The total number of elevation batches that failed",
	})
)

// Progress describes how far a fetch has got.
type Progress struct {
	Batch       int // Number of batches completed.
	Batches     int
	Points      int // Number of points completed.
	TotalPoints int
}

// A ProgressFunc is called after each batch is fetched.
type ProgressFunc func(Progress)

// A Fetcher fetches elevations from an ElevationService in batches.
type Fetcher struct {
	service    ElevationService
	batchSize  int
	batchDelay time.Duration
	progress   ProgressFunc
	logger     *zap.Logger
}

// A FetcherOption sets an option on a Fetcher.
type FetcherOption func(*Fetcher)

// WithBatchSize sets the maximum number of points per request.
func WithBatchSize(batchSize int) FetcherOption {
	return func(f *Fetcher) {
		f.batchSize = batchSize
	}
}

// WithBatchDelay sets the minimum interval between requests.
func WithBatchDelay(batchDelay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.batchDelay = batchDelay
	}
}

func WithFetchProgress(progress ProgressFunc) FetcherOption {
	return func(f *Fetcher) {
		f.progress = progress
	}
}

func WithFetcherLogger(logger *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher returns a new Fetcher that fetches elevations from service.
func NewFetcher(service ElevationService, options ...FetcherOption) *Fetcher {
	f := &Fetcher{
		service:    service,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(f)
	}
	if f.batchSize <= 0 {
		f.batchSize = DefaultBatchSize
	}
	return f
}

// Fetch returns the elevations of coords in order. Batches are fetched one at
// a time. If any batch fails then Fetch returns the error and no elevations.
func (f *Fetcher) Fetch(ctx context.Context, coords []LatLon) ([]float64, error) {
	batches := (len(coords) + f.batchSize - 1) / f.batchSize
	limit := rate.Inf
	if f.batchDelay > 0 {
		limit = rate.Every(f.batchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	elevations := make([]float64, 0, len(coords))
	for batch := range batches {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := batch * f.batchSize
		end := min(start+f.batchSize, len(coords))
		batchElevations, err := f.service.Elevations(ctx, coords[start:end])
		if err == nil && len(batchElevations) != end-start {
			err = fmt.Errorf("got %d elevations, expected %d", len(batchElevations), end-start)
		}
		if err != nil {
			batchFailuresTotal.Inc()
			f.logger.Error("batch failed",
				zap.Int("batch", batch+1),
				zap.Int("batches", batches),
				zap.Error(err),
			)
			return nil, fmt.Errorf("batch %d/%d: %w", batch+1, batches, err)
		}
		elevations = append(elevations, batchElevations...)

		batchesTotal.Inc()
		pointsTotal.Add(float64(end - start))
		f.logger.Debug("batch fetched",
			zap.Int("batch", batch+1),
			zap.Int("batches", batches),
			zap.Int("points", end-start),
		)
		if f.progress != nil {
			f.progress(Progress{
				Batch:       batch + 1,
				Batches:     batches,
				Points:      end,
				TotalPoints: len(coords),
			})
		}
	}
	return elevations, nil
}
