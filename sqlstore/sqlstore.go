// Package sqlstore implements a persistent heightmap.Store in SQLite or
// PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	_ "github.com/jackc/pgx/v5/stdlib" // Register the pgx driver.
	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // Register the sqlite driver.

	"github.com/twpayne/go-heightmap"
)

// Coordinates are stored as integers in units of 1e-7 degrees, roughly 1cm.
const coordScale = 1e7

type dialect struct {
	driverName  string
	schema      string
	selectQuery string
	upsertQuery string
}

var sqliteDialect = dialect{
	driverName: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS elevations (
			lat_e7 INTEGER NOT NULL,
			lon_e7 INTEGER NOT NULL,
			elevation REAL NOT NULL,
			PRIMARY KEY (lat_e7, lon_e7)
		);
	`,
	selectQuery: `SELECT elevation FROM elevations WHERE lat_e7 = ? AND lon_e7 = ?`,
	upsertQuery: `INSERT OR REPLACE INTO elevations (lat_e7, lon_e7, elevation) VALUES (?, ?, ?)`,
}

var postgresDialect = dialect{
	driverName: "pgx",
	schema: `
		CREATE TABLE IF NOT EXISTS elevations (
			lat_e7 BIGINT NOT NULL,
			lon_e7 BIGINT NOT NULL,
			elevation DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (lat_e7, lon_e7)
		);
	`,
	selectQuery: `SELECT elevation FROM elevations WHERE lat_e7 = $1 AND lon_e7 = $2`,
	upsertQuery: `
		INSERT INTO elevations (lat_e7, lon_e7, elevation) VALUES ($1, $2, $3)
		ON CONFLICT (lat_e7, lon_e7) DO UPDATE SET elevation = EXCLUDED.elevation
	`,
}

// A Store is a heightmap.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens the SQLite database at path, creating it if needed.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	return open(ctx, sqliteDialect, path)
}

// OpenPostgres opens the PostgreSQL database at databaseURL.
func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	return open(ctx, postgresDialect, databaseURL)
}

func open(ctx context.Context, dialect dialect, dataSourceName string) (*Store, error) {
	db, err := sql.Open(dialect.driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.driverName, err)
	}
	if dialect.driverName == "sqlite" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
	}
	if err := s.migrate(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate %s database: %w", dialect.driverName, err), db.Close())
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.dialect.schema)
	return err
}

// Close closes s.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetMany implements heightmap.Store.
func (s *Store) GetMany(ctx context.Context, coords []heightmap.LatLon) (map[heightmap.LatLon]float64, error) {
	elevations := make(map[heightmap.LatLon]float64)
	if len(coords) == 0 {
		return elevations, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get elevations: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.selectQuery)
	if err != nil {
		return nil, fmt.Errorf("get elevations: prepare: %w", err)
	}
	defer stmt.Close()

	for _, coord := range coords {
		if _, ok := elevations[coord]; ok {
			continue
		}
		latE7, lonE7 := key(coord)
		var elevation float64
		switch err := stmt.QueryRowContext(ctx, latE7, lonE7).Scan(&elevation); {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("get elevation %s: %w", coord, err)
		default:
			elevations[coord] = elevation
		}
	}
	return elevations, nil
}

// PutMany implements heightmap.Store.
func (s *Store) PutMany(ctx context.Context, elevations map[heightmap.LatLon]float64) error {
	if len(elevations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put elevations: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.upsertQuery)
	if err != nil {
		return fmt.Errorf("put elevations: prepare: %w", err)
	}
	defer stmt.Close()

	for coord, elevation := range elevations {
		latE7, lonE7 := key(coord)
		if _, err := stmt.ExecContext(ctx, latE7, lonE7, elevation); err != nil {
			return fmt.Errorf("put elevation %s: %w", coord, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put elevations: commit: %w", err)
	}
	return nil
}

func key(coord heightmap.LatLon) (int64, int64) {
	return int64(math.Round(coord.Lat * coordScale)), int64(math.Round(coord.Lon * coordScale))
}
