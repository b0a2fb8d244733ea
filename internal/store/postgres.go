// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "github-geo-collector/internal/errors"
	"github-geo-collector/internal/model"
)

// Postgres is the server-backed store used when several collectors share one database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres migrates the database at dbURL and opens a connection pool.
func OpenPostgres(ctx context.Context, dbURL string) (*Postgres, error) {
	if err := runMigrations("migrations/postgres", dbURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) KnownSHAs(ctx context.Context, repo string) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, `SELECT sha FROM commits WHERE repo = $1`, repo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			return nil, err
		}
		known[sha] = struct{}{}
	}
	return known, rows.Err()
}

func (p *Postgres) SaveCommits(ctx context.Context, commits []model.Commit) (int64, error) {
	if len(commits) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	batch := &pgx.Batch{}
	for _, c := range commits {
		if !c.Valid() {
			continue
		}
		batch.Queue(`
			INSERT INTO commits (sha, repo, author_login, author_name, author_email, raw_location, message, ts_unix, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (sha) DO NOTHING`,
			c.SHA, c.Repo, c.AuthorLogin, c.AuthorName, c.AuthorEmail, c.RawLocation, c.Message, c.Unix(), c.CollectedAt.Unix())
	}

	br := tx.SendBatch(ctx, batch)
	var inserted int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("insert commit batch: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (p *Postgres) CountCommits(ctx context.Context, repo string) (int64, error) {
	var n int64
	var err error
	if repo == "" {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commits`).Scan(&n)
	} else {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commits WHERE repo = $1`, repo).Scan(&n)
	}
	return n, err
}

func (p *Postgres) ListCommits(ctx context.Context, repo string, limit, offset int) ([]model.Commit, error) {
	var rows pgx.Rows
	var err error
	if repo == "" {
		rows, err = p.pool.Query(ctx, `SELECT `+commitColumns+` FROM commits ORDER BY ts_unix DESC, sha LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT `+commitColumns+` FROM commits WHERE repo = $1 ORDER BY ts_unix DESC, sha LIMIT $2 OFFSET $3`, repo, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommits(rows)
}

func (p *Postgres) TopCommitters(ctx context.Context, repo string, limit int) ([]model.AuthorStats, error) {
	rows, err := p.pool.Query(ctx, topCommittersQuery("$1", "$2"), repo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.AuthorStats
	for rows.Next() {
		var a model.AuthorStats
		if err := rows.Scan(&a.Login, &a.Name, &a.Email, &a.Commits); err != nil {
			return nil, err
		}
		stats = append(stats, a)
	}
	return stats, rows.Err()
}

func (p *Postgres) RawLocations(ctx context.Context, onlyUncached bool) ([]string, error) {
	rows, err := p.pool.Query(ctx, rawLocationsQuery(onlyUncached))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (p *Postgres) GetGeo(ctx context.Context, input string) (*model.GeoRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+geoColumns+` FROM geo_cache WHERE input = $1`, input)
	rec, err := scanGeo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custom_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) UpsertGeo(ctx context.Context, rec model.GeoRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO geo_cache (input, city, region, country_code, confidence, rationale, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (input) DO UPDATE SET
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			country_code = EXCLUDED.country_code,
			confidence = EXCLUDED.confidence,
			rationale = EXCLUDED.rationale,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at`,
		rec.Input, rec.City, rec.Region, rec.CountryCode, rec.Confidence, rec.Rationale, rec.Source, rec.UpdatedAt.Unix())
	return err
}

func (p *Postgres) ListGeo(ctx context.Context) ([]model.GeoRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+geoColumns+` FROM geo_cache ORDER BY input`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GeoRecord
	for rows.Next() {
		rec, err := scanGeo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
