// cmd/geonorm/csv_test.go
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-geo-collector/internal/geo"
	"github-geo-collector/internal/model"
)

type fakeNormalizer struct {
	inputs []string
	force  bool
}

func (f *fakeNormalizer) NormalizeAll(_ context.Context, inputs []string, force bool) ([]model.GeoRecord, geo.Stats, error) {
	f.inputs = inputs
	f.force = force
	out := make([]model.GeoRecord, len(inputs))
	for i, in := range inputs {
		switch in {
		case "Berlin":
			out[i] = model.GeoRecord{Input: in, City: "Berlin", Region: "Berlin", CountryCode: "DEU", Confidence: 0.95}
		case "":
			out[i] = model.GeoRecord{Input: in, CountryCode: model.UnknownCountry}
		}
	}
	return out, geo.Stats{Total: int64(len(inputs))}, nil
}

func TestNormalizeCSV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "authors.csv")
	out := filepath.Join(dir, "authors.geo.csv")
	require.NoError(t, os.WriteFile(in, []byte("login,Location\nalice,Berlin\nbob,\ncarol,Berlin\ndave,Narnia\neve\n"), 0o644))

	n := &fakeNormalizer{}
	logger, _ := test.NewNullLogger()
	require.NoError(t, normalizeCSV(context.Background(), n, in, out, "location", true, logger))

	assert.Equal(t, []string{"Berlin", "", "Narnia"}, n.inputs)
	assert.True(t, n.force)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 6)
	assert.Equal(t, []string{"login", "Location", "city", "region", "country_code", "confidence"}, rows[0])
	assert.Equal(t, []string{"alice", "Berlin", "Berlin", "Berlin", "DEU", "0.95"}, rows[1])
	assert.Equal(t, []string{"bob", "", "", "", "UNK", "0.00"}, rows[2])
	assert.Equal(t, "DEU", rows[3][4])
	assert.Equal(t, []string{"dave", "Narnia", "", "", "", ""}, rows[4])
	assert.Equal(t, []string{"eve", "", "", "", "UNK", "0.00"}, rows[5])
}

func TestNormalizeCSV_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "authors.csv")
	require.NoError(t, os.WriteFile(in, []byte("login,city\nalice,Berlin\n"), 0o644))

	logger, _ := test.NewNullLogger()
	err := normalizeCSV(context.Background(), &fakeNormalizer{}, in, filepath.Join(dir, "out.csv"), "location", false, logger)
	assert.ErrorContains(t, err, "location")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSV_PropagatesWriteErrors(t *testing.T) {
	rows := [][]string{{"login", "location"}, {"alice", "Berlin"}}
	records := []model.GeoRecord{{Input: "Berlin", City: "Berlin", CountryCode: "DEU", Confidence: 0.9}}

	err := writeCSV(failingWriter{}, rows, 1, map[string]int{"Berlin": 0}, records)
	assert.ErrorContains(t, err, "disk full")
}
