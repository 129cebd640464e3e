// Command heightmapper renders greyscale heightmaps of geographic bounding
// boxes and serves elevations over the Open-Elevation protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/dem"
	"github.com/twpayne/go-heightmap/openelevation"
	"github.com/twpayne/go-heightmap/sqlstore"
	"github.com/twpayne/go-heightmap/termview"
)

const shutdownTimeout = 10 * time.Second

// version is set at link time.
var version = "dev"

func newApp() *cli.App {
	return &cli.App{
		Name:    "heightmapper",
		Usage:   "render heightmaps from elevation data",
		Version: version,
		Flags:   newLoggingFlags(),
		Commands: []*cli.Command{
			{
				Name:   "make",
				Usage:  "render a heightmap of a bounding box",
				Flags:  newMakeCommandFlags(),
				Action: makeAction,
			},
			{
				Name:   "serve",
				Usage:  "serve elevations over the Open-Elevation lookup API",
				Flags:  newServeCommandFlags(),
				Action: serveAction,
			},
		},
	}
}

func makeAction(c *cli.Context) (err error) {
	cfg, err := newMakeConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c.String(flagLogLevel), c.String(flagLogFormat))
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	service, closeService, err := newService(c.Context, cfg.source, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeService())
	}()

	if cfg.metricsTextfile != "" {
		defer func() {
			err = multierr.Append(err, writeMetrics(cfg.metricsTextfile, err))
		}()
	}

	progress := newProgressBar()
	defer progress.stop()

	makerOptions := []heightmap.MakerOption{
		heightmap.WithMaxPoints(cfg.maxPoints),
		heightmap.WithFetcherOptions(
			heightmap.WithBatchSize(cfg.batchSize),
			heightmap.WithBatchDelay(cfg.batchDelay),
			heightmap.WithFetchProgress(progress.update),
		),
		heightmap.WithOutputDir(cfg.outputDir),
		heightmap.WithLogger(logger),
	}
	if !cfg.yes {
		makerOptions = append(makerOptions, heightmap.WithConfirm(heightmap.PromptConfirm(os.Stdin, os.Stdout)))
	}
	if !cfg.noPreview {
		makerOptions = append(makerOptions, heightmap.WithDisplay(termview.New(os.Stdout).DisplayFunc()))
	}

	hm, err := heightmap.NewMaker(service, makerOptions...).Make(c.Context, cfg.request)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%d*%d pixels, elevations %g to %g", hm.Grid.Width, hm.Grid.Height, hm.Min, hm.Max)
	if hm.Path != "" {
		pterm.Info.Printfln("saved %s", hm.Path)
	}
	return nil
}

func serveAction(c *cli.Context) (err error) {
	cfg, err := newServeConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c.String(flagLogLevel), c.String(flagLogFormat))
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	service, closeService, err := newService(c.Context, cfg.source, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeService())
	}()

	server := &http.Server{
		Addr: cfg.addr,
		Handler: openelevation.NewHandler(service,
			openelevation.WithMaxLocations(cfg.maxLocations),
			openelevation.WithRateLimit(cfg.rps),
			openelevation.WithLogger(logger),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-c.Context.Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// writeMetrics writes the default registry's metrics to path, unless runErr
// shows that the run was abandoned before fetching anything.
func writeMetrics(path string, runErr error) error {
	if errors.Is(runErr, heightmap.ErrDeclined) || errors.Is(runErr, heightmap.ErrOversize) {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// newService returns the elevation service described by cfg, wrapped in any
// configured caches, and a function that releases its resources.
func newService(ctx context.Context, cfg sourceConfig, logger *zap.Logger) (heightmap.ElevationService, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var err error
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
		return err
	}

	var service heightmap.ElevationService
	if cfg.euDEMPath != "" {
		demService, err := dem.NewEUDEMService(os.DirFS(cfg.euDEMPath))
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, demService.Close)
		service = demService
		logger.Debug("using EU-DEM", zap.String("path", cfg.euDEMPath))
	} else {
		service = openelevation.NewClient(
			openelevation.WithBaseURL(cfg.apiURL),
			openelevation.WithUserAgent("heightmapper/"+version),
		)
		logger.Debug("using Open-Elevation", zap.String("url", cfg.apiURL))
	}

	var store *sqlstore.Store
	var err error
	switch {
	case cfg.cacheSQLite != "":
		store, err = sqlstore.OpenSQLite(ctx, cfg.cacheSQLite)
	case cfg.cachePostgres != "":
		store, err = sqlstore.OpenPostgres(ctx, cfg.cachePostgres)
	}
	if err != nil {
		return nil, nil, multierr.Append(err, closeAll())
	}
	if store != nil {
		closers = append(closers, store.Close)
		service = heightmap.NewCachedService(service, store, heightmap.WithCacheLogger(logger))
	}

	if cfg.cacheSize > 0 {
		memoryStore, err := heightmap.NewMemoryStore(cfg.cacheSize)
		if err != nil {
			return nil, nil, multierr.Append(err, closeAll())
		}
		service = heightmap.NewCachedService(service, memoryStore, heightmap.WithCacheLogger(logger))
	}

	return service, closeAll, nil
}

// A progressBar shows fetch progress.
type progressBar struct {
	bar    *pterm.ProgressbarPrinter
	points int
}

func newProgressBar() *progressBar {
	return &progressBar{}
}

func (p *progressBar) update(progress heightmap.Progress) {
	if p.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithTotal(progress.TotalPoints).
			WithTitle("Fetching elevations").
			Start()
		if err != nil {
			return
		}
		p.bar = bar
	}
	p.bar.Add(progress.Points - p.points)
	p.points = progress.Points
	if progress.Batch == progress.Batches {
		p.stop()
	}
}

func (p *progressBar) stop() {
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newApp().RunContext(ctx, os.Args)
}

func main() {
	switch err := run(); {
	case errors.Is(err, heightmap.ErrDeclined):
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
