// internal/export/export.go
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github-geo-collector/internal/model"
)

// PendingLocation marks a raw location that has not been normalized yet.
const PendingLocation = "NEED_LLM_CLEANING"

const pageSize = 1000

// Source is the part of the store an export reads.
type Source interface {
	ListCommits(ctx context.Context, repo string, limit, offset int) ([]model.Commit, error)
	ListGeo(ctx context.Context) ([]model.GeoRecord, error)
}

// Record is one exported commit.
type Record struct {
	TimestampUnix int64  `json:"timestamp_unix"`
	RawLocation   string `json:"raw_location"`
	LocationISO3  string `json:"location_iso3"`
	ContributorID string `json:"contributor_id"`
}

// Dataset holds the commits to export with the geo cache used to fill location_iso3.
type Dataset struct {
	Commits []model.Commit
	Geo     map[string]model.GeoRecord
}

// Load reads every stored commit of repos, or of all repositories when repos is empty,
// together with the geo cache.
func Load(ctx context.Context, src Source, repos []string) (*Dataset, error) {
	if len(repos) == 0 {
		repos = []string{""}
	}
	ds := &Dataset{Geo: make(map[string]model.GeoRecord)}
	for _, repo := range repos {
		for offset := 0; ; offset += pageSize {
			page, err := src.ListCommits(ctx, repo, pageSize, offset)
			if err != nil {
				return nil, fmt.Errorf("list commits: %w", err)
			}
			ds.Commits = append(ds.Commits, page...)
			if len(page) < pageSize {
				break
			}
		}
	}

	recs, err := src.ListGeo(ctx)
	if err != nil {
		return nil, fmt.Errorf("list geo cache: %w", err)
	}
	for _, rec := range recs {
		ds.Geo[rec.Input] = rec
	}
	return ds, nil
}

// ISO3 returns the country code for a raw location: UNK when blank, the cached code when
// normalized and PendingLocation otherwise.
func (d *Dataset) ISO3(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return model.UnknownCountry
	}
	if rec, ok := d.Geo[raw]; ok && rec.CountryCode != "" {
		return rec.CountryCode
	}
	return PendingLocation
}

// JSON writes {repo: [record, ...]}. Commits without an author login are omitted.
func JSON(w io.Writer, d *Dataset) error {
	out := make(map[string][]Record)
	for _, c := range d.Commits {
		if c.AuthorLogin == "" {
			continue
		}
		out[c.Repo] = append(out[c.Repo], Record{
			TimestampUnix: c.Unix(),
			RawLocation:   c.RawLocation,
			LocationISO3:  d.ISO3(c.RawLocation),
			ContributorID: c.AuthorLogin,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

var csvHeader = []string{
	"repo", "sha", "author_login", "author_name", "author_email",
	"raw_location", "location_iso3", "timestamp_unix", "message",
}

// CSV writes a header row and one line per commit.
func CSV(w io.Writer, d *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range d.Commits {
		err := cw.Write([]string{
			c.Repo, c.SHA, c.AuthorLogin, c.AuthorName, c.AuthorEmail,
			c.RawLocation, d.ISO3(c.RawLocation), strconv.FormatInt(c.Unix(), 10), c.Message,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ToFile writes d to path, choosing the format by extension (.json or .csv).
func ToFile(path string, d *Dataset) error {
	var write func(io.Writer, *Dataset) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		write = JSON
	case ".csv":
		write = CSV
	default:
		return fmt.Errorf("unsupported export format %q (use .json or .csv)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, d); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
