// Package heightmap renders greyscale heightmaps of geographic bounding
// boxes by sampling elevations on a regular latitude/longitude grid.
package heightmap

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"
)

const DefaultMaxPoints = 1000000

var ErrDeclined = errors.New("declined")

// A Request describes a heightmap.
type Request struct {
	BoundingBox BoundingBox
	Scale       int // Meters per pixel.
}

// A Heightmap is a rendered heightmap.
type Heightmap struct {
	Request    Request
	Grid       *Grid
	Elevations []float64
	Min        float64
	Max        float64
	Image      *image.Gray
	Path       string // Empty if the image was not saved.
}

// A ConfirmFunc is called with the grid before any elevations are fetched.
// If it returns false then Make returns ErrDeclined.
type ConfirmFunc func(grid *Grid) (bool, error)

// A DisplayFunc displays an image.
type DisplayFunc func(image.Image) error

// A Maker makes heightmaps.
type Maker struct {
	service        ElevationService
	maxPoints      int
	fetcherOptions []FetcherOption
	confirm        ConfirmFunc
	display        DisplayFunc
	outputDir      string
	logger         *zap.Logger
}

// A MakerOption sets an option on a Maker.
type MakerOption func(*Maker)

// WithMaxPoints sets the maximum number of points in a grid. Zero means no
// limit.
func WithMaxPoints(maxPoints int) MakerOption {
	return func(m *Maker) {
		m.maxPoints = maxPoints
	}
}

func WithFetcherOptions(fetcherOptions ...FetcherOption) MakerOption {
	return func(m *Maker) {
		m.fetcherOptions = append(m.fetcherOptions, fetcherOptions...)
	}
}

func WithConfirm(confirm ConfirmFunc) MakerOption {
	return func(m *Maker) {
		m.confirm = confirm
	}
}

func WithDisplay(display DisplayFunc) MakerOption {
	return func(m *Maker) {
		m.display = display
	}
}

// WithOutputDir sets the directory that heightmaps are saved to. If empty,
// heightmaps are not saved.
func WithOutputDir(outputDir string) MakerOption {
	return func(m *Maker) {
		m.outputDir = outputDir
	}
}

func WithLogger(logger *zap.Logger) MakerOption {
	return func(m *Maker) {
		m.logger = logger
	}
}

// NewMaker returns a new Maker that fetches elevations from service.
func NewMaker(service ElevationService, options ...MakerOption) *Maker {
	m := &Maker{
		service:   service,
		maxPoints: DefaultMaxPoints,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Make makes the heightmap described by request.
func (m *Maker) Make(ctx context.Context, request Request) (*Heightmap, error) {
	grid, err := NewGrid(request.BoundingBox, request.Scale, m.maxPoints)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With(
		zap.Stringer("upperLeft", request.BoundingBox.UpperLeft),
		zap.Stringer("lowerRight", request.BoundingBox.LowerRight),
		zap.Int("scale", request.Scale),
	)
	logger.Info("grid", zap.Int("width", grid.Width), zap.Int("height", grid.Height))

	if m.confirm != nil {
		switch ok, err := m.confirm(grid); {
		case err != nil:
			return nil, err
		case !ok:
			return nil, ErrDeclined
		}
	}

	fetcherOptions := append([]FetcherOption{WithFetcherLogger(logger)}, m.fetcherOptions...)
	elevations, err := NewFetcher(m.service, fetcherOptions...).Fetch(ctx, grid.Coords)
	if err != nil {
		return nil, err
	}

	intensities, minElevation, maxElevation, err := Normalize(elevations)
	if err != nil {
		return nil, err
	}
	logger.Info("elevations", zap.Float64("min", minElevation), zap.Float64("max", maxElevation))

	img, err := Render(grid.Width, grid.Height, intensities)
	if err != nil {
		return nil, err
	}

	heightmap := &Heightmap{
		Request:    request,
		Grid:       grid,
		Elevations: elevations,
		Min:        minElevation,
		Max:        maxElevation,
		Image:      img,
	}

	if m.display != nil {
		if err := m.display(img); err != nil {
			return nil, err
		}
	}

	if m.outputDir != "" {
		heightmap.Path, err = SavePNG(img, m.outputDir, request.BoundingBox.UpperLeft, request.Scale)
		if err != nil {
			return nil, err
		}
		logger.Info("saved", zap.String("path", heightmap.Path))
	}

	return heightmap, nil
}
