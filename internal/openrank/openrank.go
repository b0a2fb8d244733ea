// internal/openrank/openrank.go
package openrank

import (
	"bytes"
	"encoding/json"
	"io"
	"slices"

	"github-geo-collector/internal/model"
)

// MonthLayout formats pivot columns.
const MonthLayout = "2006-01"

// Table is a repository × month grid. A missing cell means no value for that month.
type Table struct {
	Repos  []string
	Months []string
	Values map[string]map[string]float64
}

// Pivot arranges rows into a Table with repositories and months sorted ascending.
// Several rows for the same cell are averaged.
func Pivot(rows []model.MonthlyOpenRank) Table {
	sums := make(map[string]map[string]float64)
	counts := make(map[string]map[string]int)
	var months []string
	for _, r := range rows {
		month := r.Month.UTC().Format(MonthLayout)
		if sums[r.Repo] == nil {
			sums[r.Repo] = make(map[string]float64)
			counts[r.Repo] = make(map[string]int)
		}
		sums[r.Repo][month] += r.Value
		counts[r.Repo][month]++
		if !slices.Contains(months, month) {
			months = append(months, month)
		}
	}

	t := Table{Values: make(map[string]map[string]float64, len(sums))}
	for repo, byMonth := range sums {
		t.Repos = append(t.Repos, repo)
		t.Values[repo] = make(map[string]float64, len(byMonth))
		for month, sum := range byMonth {
			t.Values[repo][month] = sum / float64(counts[repo][month])
		}
	}
	slices.Sort(t.Repos)
	slices.Sort(months)
	t.Months = months
	return t
}

// Series returns repo's values in month order, nil where missing.
func (t Table) Series(repo string) []*float64 {
	out := make([]*float64, len(t.Months))
	for i, m := range t.Months {
		if v, ok := t.Values[repo][m]; ok {
			out[i] = &v
		}
	}
	return out
}

// GrowthRates returns the period-over-period change (r[i]-r[i-1])/r[i-1].
// The first entry is always nil; an entry is nil when either side is missing or the previous value is zero.
func GrowthRates(ranks []*float64) []*float64 {
	out := make([]*float64, len(ranks))
	for i := 1; i < len(ranks); i++ {
		prev, cur := ranks[i-1], ranks[i]
		if prev == nil || cur == nil || *prev == 0 {
			continue
		}
		g := (*cur - *prev) / *prev
		out[i] = &g
	}
	return out
}

// Growth returns a table of month-over-month growth rates with the same shape as t.
func (t Table) Growth() Table {
	g := Table{
		Repos:  slices.Clone(t.Repos),
		Months: slices.Clone(t.Months),
		Values: make(map[string]map[string]float64, len(t.Repos)),
	}
	for _, repo := range t.Repos {
		g.Values[repo] = make(map[string]float64)
		for i, v := range GrowthRates(t.Series(repo)) {
			if v != nil {
				g.Values[repo][t.Months[i]] = *v
			}
		}
	}
	return g
}

// Recent keeps only repositories with a value in at least one of the last n months.
func (t Table) Recent(n int) Table {
	if n <= 0 || n > len(t.Months) {
		n = len(t.Months)
	}
	last := t.Months[len(t.Months)-n:]
	out := Table{Months: t.Months, Values: make(map[string]map[string]float64)}
	for _, repo := range t.Repos {
		for _, m := range last {
			if _, ok := t.Values[repo][m]; ok {
				out.Repos = append(out.Repos, repo)
				out.Values[repo] = t.Values[repo]
				break
			}
		}
	}
	return out
}

// Grid returns a header row and one row per repository for spreadsheet output.
func (t Table) Grid() ([]string, [][]any) {
	header := append([]string{"repo_name"}, t.Months...)
	rows := make([][]any, 0, len(t.Repos))
	for _, repo := range t.Repos {
		row := make([]any, 0, len(t.Months)+1)
		row = append(row, repo)
		for _, v := range t.Series(repo) {
			if v == nil {
				row = append(row, nil)
				continue
			}
			row = append(row, *v)
		}
		rows = append(rows, row)
	}
	return header, rows
}

// WriteJSON writes chart data as {"Month": [...], "<repo>": [v|null, ...]} with keys in table order.
func (t Table) WriteJSON(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	write := func(key string, val any, last bool) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.WriteString("  ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
		if !last {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
		return nil
	}

	months := t.Months
	if months == nil {
		months = []string{}
	}
	if err := write("Month", months, len(t.Repos) == 0); err != nil {
		return err
	}
	for i, repo := range t.Repos {
		if err := write(repo, t.Series(repo), i == len(t.Repos)-1); err != nil {
			return err
		}
	}
	buf.WriteString("}\n")
	_, err := w.Write(buf.Bytes())
	return err
}
