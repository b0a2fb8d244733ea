// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"

	custom_errors "github-geo-collector/internal/errors"
	"github-geo-collector/internal/model"
)

// SQLite is the embedded single-writer store.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite migrates and opens the database file at path in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := runMigrations("migrations/sqlite", "sqlite3://"+path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; SQLite serializes anyway and this avoids SQLITE_BUSY between our own connections
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) KnownSHAs(ctx context.Context, repo string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sha FROM commits WHERE repo = ?`, repo)
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

func (s *SQLite) SaveCommits(ctx context.Context, commits []model.Commit) (int64, error) {
	if len(commits) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // Rollback is a no-op if the transaction is committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commits (sha, repo, author_login, author_name, author_email, raw_location, message, ts_unix, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sha) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, c := range commits {
		if !c.Valid() {
			continue
		}
		res, err := stmt.ExecContext(ctx, c.SHA, c.Repo, c.AuthorLogin, c.AuthorName, c.AuthorEmail,
			c.RawLocation, c.Message, c.Unix(), c.CollectedAt.Unix())
		if err != nil {
			return 0, fmt.Errorf("insert commit %s: %w", c.SHA, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLite) CountCommits(ctx context.Context, repo string) (int64, error) {
	var n int64
	var err error
	if repo == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE repo = ?`, repo).Scan(&n)
	}
	return n, err
}

func (s *SQLite) ListCommits(ctx context.Context, repo string, limit, offset int) ([]model.Commit, error) {
	var rows *sql.Rows
	var err error
	if repo == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+commitColumns+` FROM commits ORDER BY ts_unix DESC, sha LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE repo = ? ORDER BY ts_unix DESC, sha LIMIT ? OFFSET ?`, repo, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommits(rows)
}

func (s *SQLite) TopCommitters(ctx context.Context, repo string, limit int) ([]model.AuthorStats, error) {
	rows, err := s.db.QueryContext(ctx, topCommittersQuery("?", "?"), repo, limit)
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

func (s *SQLite) RawLocations(ctx context.Context, onlyUncached bool) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, rawLocationsQuery(onlyUncached))
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

func (s *SQLite) GetGeo(ctx context.Context, input string) (*model.GeoRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+geoColumns+` FROM geo_cache WHERE input = ?`, input)
	rec, err := scanGeo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLite) UpsertGeo(ctx context.Context, rec model.GeoRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geo_cache (input, city, region, country_code, confidence, rationale, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (input) DO UPDATE SET
			city = excluded.city,
			region = excluded.region,
			country_code = excluded.country_code,
			confidence = excluded.confidence,
			rationale = excluded.rationale,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		rec.Input, rec.City, rec.Region, rec.CountryCode, rec.Confidence, rec.Rationale, rec.Source, rec.UpdatedAt.Unix())
	return err
}

func (s *SQLite) ListGeo(ctx context.Context) ([]model.GeoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+geoColumns+` FROM geo_cache ORDER BY input`)
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
