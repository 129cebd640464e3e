package main

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/openelevation"
)

// Flag names.
const (
	flagUpperLeft       = "upper-left"
	flagLowerRight      = "lower-right"
	flagScale           = "scale"
	flagOutputDir       = "output-dir"
	flagMaxPoints       = "max-points"
	flagBatchSize       = "batch-size"
	flagBatchDelay      = "batch-delay"
	flagAPIURL          = "api-url"
	flagEUDEMPath       = "eu-dem-path"
	flagCacheSize       = "cache-size"
	flagCacheSQLite     = "cache-sqlite"
	flagCachePostgres   = "cache-postgres"
	flagYes             = "yes"
	flagNoPreview       = "no-preview"
	flagMetricsTextfile = "metrics-textfile"
	flagLogLevel        = "log-level"
	flagLogFormat       = "log-format"
	flagAddr            = "addr"
	flagMaxLocations    = "max-locations"
	flagRPS             = "rps"
)

const (
	logFormatConsole = "console"
	logFormatJSON    = "json"
)

// sourceConfig selects and configures the elevation source and its caches.
type sourceConfig struct {
	apiURL        string
	euDEMPath     string
	cacheSize     int
	cacheSQLite   string
	cachePostgres string
}

// makeConfig is the configuration of the make command.
type makeConfig struct {
	source          sourceConfig
	request         heightmap.Request
	outputDir       string
	maxPoints       int
	batchSize       int
	batchDelay      time.Duration
	yes             bool
	noPreview       bool
	metricsTextfile string
}

// serveConfig is the configuration of the serve command.
type serveConfig struct {
	source       sourceConfig
	addr         string
	maxLocations int
	rps          float64
}

func newSourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagAPIURL,
			Usage:   "Open-Elevation compatible API base URL",
			EnvVars: []string{"OPEN_ELEVATION_URL"},
			Value:   openelevation.DefaultBaseURL,
		},
		&cli.StringFlag{
			Name:    flagEUDEMPath,
			Usage:   "directory containing EU-DEM v1.1 tiles, used instead of the API",
			EnvVars: []string{"EU_DEM_PATH"},
		},
		&cli.IntFlag{
			Name:    flagCacheSize,
			Usage:   "number of elevations to cache in memory",
			EnvVars: []string{"HEIGHTMAP_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    flagCacheSQLite,
			Usage:   "SQLite database file to cache elevations in",
			EnvVars: []string{"HEIGHTMAP_CACHE_SQLITE"},
		},
		&cli.StringFlag{
			Name:    flagCachePostgres,
			Usage:   "PostgreSQL URL of a database to cache elevations in",
			EnvVars: []string{"DATABASE_URL"},
		},
	}
}

func newLoggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagLogLevel,
			Usage:   "log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "info",
		},
		&cli.StringFlag{
			Name:    flagLogFormat,
			Usage:   "log format (console, json)",
			EnvVars: []string{"LOG_FORMAT"},
			Value:   logFormatConsole,
		},
	}
}

func newMakeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     flagUpperLeft,
			Usage:    "upper left corner as lat,lon",
			EnvVars:  []string{"HEIGHTMAP_UPPER_LEFT"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagLowerRight,
			Usage:    "lower right corner as lat,lon",
			EnvVars:  []string{"HEIGHTMAP_LOWER_RIGHT"},
			Required: true,
		},
		&cli.IntFlag{
			Name:    flagScale,
			Usage:   "meters per pixel",
			EnvVars: []string{"HEIGHTMAP_SCALE"},
			Value:   100,
		},
		&cli.StringFlag{
			Name:    flagOutputDir,
			Usage:   "directory to save the PNG in, not saved if empty",
			EnvVars: []string{"HEIGHTMAP_OUTPUT_DIR"},
		},
		&cli.IntFlag{
			Name:    flagMaxPoints,
			Usage:   "maximum number of pixels",
			EnvVars: []string{"HEIGHTMAP_MAX_POINTS"},
			Value:   heightmap.DefaultMaxPoints,
		},
		&cli.IntFlag{
			Name:    flagBatchSize,
			Usage:   "maximum number of points per request",
			EnvVars: []string{"HEIGHTMAP_BATCH_SIZE"},
			Value:   heightmap.DefaultBatchSize,
		},
		&cli.DurationFlag{
			Name:    flagBatchDelay,
			Usage:   "minimum interval between requests",
			EnvVars: []string{"HEIGHTMAP_BATCH_DELAY"},
			Value:   heightmap.DefaultBatchDelay,
		},
		&cli.BoolFlag{
			Name:    flagYes,
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
		&cli.BoolFlag{
			Name:  flagNoPreview,
			Usage: "do not preview the heightmap in the terminal",
		},
		&cli.StringFlag{
			Name:    flagMetricsTextfile,
			Usage:   "write Prometheus metrics to this file on exit",
			EnvVars: []string{"HEIGHTMAP_METRICS_TEXTFILE"},
		},
	}
}

func newServeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagAddr,
			Usage:   "listen address",
			EnvVars: []string{"HEIGHTMAP_ADDR"},
			Value:   ":8080",
		},
		&cli.IntFlag{
			Name:    flagMaxLocations,
			Usage:   "maximum number of locations per request",
			EnvVars: []string{"HEIGHTMAP_MAX_LOCATIONS"},
			Value:   1000,
		},
		&cli.Float64Flag{
			Name:    flagRPS,
			Usage:   "maximum requests per second, unlimited if zero",
			EnvVars: []string{"HEIGHTMAP_RPS"},
		},
	}
}

// newMakeCommandFlags returns a fresh set of the make command's flags. Flags
// hold their parsed values, so they are not shared between apps.
func newMakeCommandFlags() []cli.Flag {
	return slices.Concat(newMakeFlags(), newSourceFlags())
}

func newServeCommandFlags() []cli.Flag {
	return slices.Concat(newServeFlags(), newSourceFlags())
}

func newSourceConfig(c *cli.Context) (sourceConfig, error) {
	cfg := sourceConfig{
		apiURL:        c.String(flagAPIURL),
		euDEMPath:     c.String(flagEUDEMPath),
		cacheSize:     c.Int(flagCacheSize),
		cacheSQLite:   c.String(flagCacheSQLite),
		cachePostgres: c.String(flagCachePostgres),
	}
	return cfg, cfg.validate()
}

func (cfg sourceConfig) validate() error {
	switch {
	case cfg.euDEMPath == "" && cfg.apiURL == "":
		return fmt.Errorf("one of --%s or --%s is required", flagAPIURL, flagEUDEMPath)
	case cfg.cacheSize < 0:
		return fmt.Errorf("--%s: must not be negative", flagCacheSize)
	case cfg.cacheSQLite != "" && cfg.cachePostgres != "":
		return fmt.Errorf("--%s and --%s are mutually exclusive", flagCacheSQLite, flagCachePostgres)
	}
	return nil
}

func newMakeConfig(c *cli.Context) (*makeConfig, error) {
	source, err := newSourceConfig(c)
	if err != nil {
		return nil, err
	}
	upperLeft, err := heightmap.ParseLatLon(c.String(flagUpperLeft))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flagUpperLeft, err)
	}
	lowerRight, err := heightmap.ParseLatLon(c.String(flagLowerRight))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flagLowerRight, err)
	}
	cfg := &makeConfig{
		source: source,
		request: heightmap.Request{
			BoundingBox: heightmap.BoundingBox{
				UpperLeft:  upperLeft,
				LowerRight: lowerRight,
			},
			Scale: c.Int(flagScale),
		},
		outputDir:       c.String(flagOutputDir),
		maxPoints:       c.Int(flagMaxPoints),
		batchSize:       c.Int(flagBatchSize),
		batchDelay:      c.Duration(flagBatchDelay),
		yes:             c.Bool(flagYes),
		noPreview:       c.Bool(flagNoPreview),
		metricsTextfile: c.String(flagMetricsTextfile),
	}
	return cfg, cfg.validate()
}

func (cfg *makeConfig) validate() error {
	switch {
	case cfg.request.Scale <= 0:
		return fmt.Errorf("--%s: %w", flagScale, heightmap.ErrInvalidScale)
	case cfg.maxPoints < 0:
		return fmt.Errorf("--%s: must not be negative", flagMaxPoints)
	case cfg.batchSize <= 0:
		return fmt.Errorf("--%s: must be positive", flagBatchSize)
	case cfg.batchDelay < 0:
		return fmt.Errorf("--%s: must not be negative", flagBatchDelay)
	}
	return nil
}

func newServeConfig(c *cli.Context) (*serveConfig, error) {
	source, err := newSourceConfig(c)
	if err != nil {
		return nil, err
	}
	cfg := &serveConfig{
		source:       source,
		addr:         c.String(flagAddr),
		maxLocations: c.Int(flagMaxLocations),
		rps:          c.Float64(flagRPS),
	}
	switch {
	case cfg.maxLocations <= 0:
		return nil, fmt.Errorf("--%s: must be positive", flagMaxLocations)
	case cfg.rps < 0:
		return nil, fmt.Errorf("--%s: must not be negative", flagRPS)
	}
	return cfg, nil
}

var errLogFormat = errors.New("unknown log format")

// newLogger returns a logger with the given level and format.
func newLogger(level, format string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var zapConfig zap.Config
	switch format {
	case logFormatConsole:
		zapConfig = zap.NewDevelopmentConfig()
	case logFormatJSON:
		zapConfig = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("%w: %q", errLogFormat, format)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	return zapConfig.Build()
}
