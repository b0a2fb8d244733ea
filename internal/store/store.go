// internal/store/store.go
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github-geo-collector/internal/config"
	"github-geo-collector/internal/model"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Store persists commits and the location cache.
type Store interface {
	// KnownSHAs returns the commit hashes already stored for repo.
	KnownSHAs(ctx context.Context, repo string) (map[string]struct{}, error)
	// SaveCommits writes the batch in one transaction, ignoring hashes already present.
	SaveCommits(ctx context.Context, commits []model.Commit) (int64, error)
	// CountCommits counts stored commits; an empty repo counts all of them.
	CountCommits(ctx context.Context, repo string) (int64, error)
	ListCommits(ctx context.Context, repo string, limit, offset int) ([]model.Commit, error)
	TopCommitters(ctx context.Context, repo string, limit int) ([]model.AuthorStats, error)
	// RawLocations returns the distinct non-blank author locations, optionally only those not cached yet.
	RawLocations(ctx context.Context, onlyUncached bool) ([]string, error)
	// GetGeo returns errors.ErrNotFound when input is not cached.
	GetGeo(ctx context.Context, input string) (*model.GeoRecord, error)
	UpsertGeo(ctx context.Context, rec model.GeoRecord) error
	ListGeo(ctx context.Context) ([]model.GeoRecord, error)
	Close() error
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.DBURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func runMigrations(dir, databaseURL string) error {
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
