// cmd/geonorm/csv.go
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github-geo-collector/internal/geo"
	"github-geo-collector/internal/model"
)

type normalizer interface {
	NormalizeAll(ctx context.Context, inputs []string, force bool) ([]model.GeoRecord, geo.Stats, error)
}

var geoColumns = []string{"city", "region", "country_code", "confidence"}

// normalizeCSV resolves every distinct value of column in the input file and writes a copy with
// the normalized columns appended. Rows whose location failed to resolve get empty columns.
func normalizeCSV(ctx context.Context, n normalizer, in, out, column string, force bool, logger logrus.FieldLogger) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s is empty", in)
	}

	col := -1
	for i, name := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(name), column) {
			col = i
			break
		}
	}
	if col < 0 {
		return fmt.Errorf("column %q not found in %s", column, in)
	}

	seen := make(map[string]int)
	var inputs []string
	for _, row := range rows[1:] {
		v := cell(row, col)
		if _, ok := seen[v]; !ok {
			seen[v] = len(inputs)
			inputs = append(inputs, v)
		}
	}
	logger.WithFields(logrus.Fields{"rows": len(rows) - 1, "distinct": len(inputs)}).Info("Normalizing CSV locations")

	records, _, err := n.NormalizeAll(ctx, inputs, force)
	if err != nil {
		return err
	}

	w, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := writeCSV(w, rows, col, seen, records); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	return w.Close()
}

func writeCSV(w io.Writer, rows [][]string, col int, seen map[string]int, records []model.GeoRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, rows[0]...), geoColumns...)); err != nil {
		return err
	}
	for _, row := range rows[1:] {
		rec := records[seen[cell(row, col)]]
		extra := []string{rec.City, rec.Region, rec.CountryCode, ""}
		if rec.CountryCode != "" {
			extra[3] = strconv.FormatFloat(rec.Confidence, 'f', 2, 64)
		}
		padded := make([]string, max(len(row), len(rows[0])))
		copy(padded, row)
		if err := cw.Write(append(padded, extra...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
