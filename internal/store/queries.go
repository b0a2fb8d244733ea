// internal/store/queries.go
package store

import (
	"fmt"
	"time"

	"github-geo-collector/internal/model"
)

const commitColumns = `sha, repo, author_login, author_name, author_email, raw_location, message, ts_unix, collected_at`

const geoColumns = `input, city, region, country_code, confidence, rationale, source, updated_at`

// topCommittersQuery groups by login, falling back to e-mail for commits without a linked account.
func topCommittersQuery(repoParam, limitParam string) string {
	return fmt.Sprintf(`
		SELECT MAX(author_login), MAX(author_name), MAX(author_email), COUNT(*) AS commit_count
		FROM commits
		WHERE repo = %s
		GROUP BY CASE WHEN author_login <> '' THEN author_login ELSE author_email END
		ORDER BY commit_count DESC, MAX(author_login), MAX(author_email)
		LIMIT %s`, repoParam, limitParam)
}

func rawLocationsQuery(onlyUncached bool) string {
	q := `SELECT DISTINCT raw_location FROM commits WHERE TRIM(raw_location) <> ''`
	if onlyUncached {
		q += ` AND raw_location NOT IN (SELECT input FROM geo_cache)`
	}
	return q + ` ORDER BY raw_location`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommit(s scanner) (model.Commit, error) {
	var c model.Commit
	var ts, collected int64
	err := s.Scan(&c.SHA, &c.Repo, &c.AuthorLogin, &c.AuthorName, &c.AuthorEmail, &c.RawLocation, &c.Message, &ts, &collected)
	if err != nil {
		return model.Commit{}, err
	}
	c.Timestamp = time.Unix(ts, 0).UTC()
	c.CollectedAt = time.Unix(collected, 0).UTC()
	return c, nil
}

type rowIterator interface {
	scanner
	Next() bool
	Err() error
}

func scanCommits(rows rowIterator) ([]model.Commit, error) {
	var out []model.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanGeo(s scanner) (*model.GeoRecord, error) {
	var rec model.GeoRecord
	var updated int64
	err := s.Scan(&rec.Input, &rec.City, &rec.Region, &rec.CountryCode, &rec.Confidence, &rec.Rationale, &rec.Source, &updated)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return &rec, nil
}
