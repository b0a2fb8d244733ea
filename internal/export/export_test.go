// internal/export/export_test.go
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-geo-collector/internal/model"
)

type fakeSource struct {
	commits []model.Commit
	geo     []model.GeoRecord
	calls   int
}

func (f *fakeSource) ListCommits(_ context.Context, repo string, limit, offset int) ([]model.Commit, error) {
	f.calls++
	var matched []model.Commit
	for _, c := range f.commits {
		if repo == "" || c.Repo == repo {
			matched = append(matched, c)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	return matched[offset:min(offset+limit, len(matched))], nil
}

func (f *fakeSource) ListGeo(context.Context) ([]model.GeoRecord, error) {
	return f.geo, nil
}

func sampleDataset() *Dataset {
	ts := time.Unix(1700000000, 0).UTC()
	return &Dataset{
		Commits: []model.Commit{
			{Repo: "a/x", SHA: "1", AuthorLogin: "alice", RawLocation: "Berlin", Timestamp: ts, Message: "fix: a, b\nmore"},
			{Repo: "a/x", SHA: "2", AuthorLogin: "bob", RawLocation: "Atlantis", Timestamp: ts.Add(time.Hour)},
			{Repo: "b/y", SHA: "3", AuthorLogin: "carol", Timestamp: ts},
			{Repo: "b/y", SHA: "4", AuthorName: "no login", RawLocation: "Berlin", Timestamp: ts},
		},
		Geo: map[string]model.GeoRecord{"Berlin": {Input: "Berlin", CountryCode: "DEU"}},
	}
}

func TestDataset_ISO3(t *testing.T) {
	d := sampleDataset()
	assert.Equal(t, "DEU", d.ISO3("Berlin"))
	assert.Equal(t, PendingLocation, d.ISO3("Atlantis"))
	assert.Equal(t, model.UnknownCountry, d.ISO3("  "))
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sampleDataset()))

	var got map[string][]Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, []Record{
		{TimestampUnix: 1700000000, RawLocation: "Berlin", LocationISO3: "DEU", ContributorID: "alice"},
		{TimestampUnix: 1700003600, RawLocation: "Atlantis", LocationISO3: PendingLocation, ContributorID: "bob"},
	}, got["a/x"])
	assert.Equal(t, []Record{
		{TimestampUnix: 1700000000, LocationISO3: model.UnknownCountry, ContributorID: "carol"},
	}, got["b/y"])
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, sampleDataset()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "fix: a, b\nmore", records[1][8])
	assert.Equal(t, "DEU", records[4][6])
	assert.Equal(t, "1700000000", records[4][7])
}

func TestLoad(t *testing.T) {
	src := &fakeSource{geo: []model.GeoRecord{{Input: "Oslo", CountryCode: "NOR"}}}
	for i := range pageSize + 5 {
		src.commits = append(src.commits, model.Commit{Repo: "a/x", SHA: string(rune('a' + i%26))})
	}
	src.commits = append(src.commits, model.Commit{Repo: "b/y", SHA: "z"})

	ds, err := Load(context.Background(), src, []string{"a/x"})
	require.NoError(t, err)
	assert.Len(t, ds.Commits, pageSize+5)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, "NOR", ds.Geo["Oslo"].CountryCode)

	ds, err = Load(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Len(t, ds.Commits, pageSize+6)
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, ToFile(filepath.Join(dir, "out.json"), sampleDataset()))
	require.NoError(t, ToFile(filepath.Join(dir, "out.CSV"), sampleDataset()))
	assert.Error(t, ToFile(filepath.Join(dir, "out.parquet"), sampleDataset()))

	data, err := os.ReadFile(filepath.Join(dir, "out.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"contributor_id": "alice"`)
}
