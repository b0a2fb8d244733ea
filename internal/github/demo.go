// internal/github/demo.go
package github

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github-geo-collector/internal/model"
)

var (
	demoLogins    = []string{"alice", "bob", "chen-wei", "dmitri", "esther", "farah", "giulia", "hiro"}
	demoLocations = []string{"Berlin, Germany", "San Francisco, CA", "Beijing", "Moscow", "", "Lagos, Nigeria", "Milano", "東京"}
)

// DemoSource synthesizes deterministic commit history for offline runs.
type DemoSource struct {
	Pages   int
	PerPage int
	Latency time.Duration

	now func() time.Time
}

var _ HistorySource = (*DemoSource)(nil)

// NewDemoSource returns a source that yields pages*perPage commits per repository.
func NewDemoSource(pages, perPage int) *DemoSource {
	return &DemoSource{Pages: pages, PerPage: perPage, now: time.Now}
}

func (d *DemoSource) wait(ctx context.Context) error {
	if d.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *DemoSource) CommitHistory(ctx context.Context, repo model.Repo, since, until time.Time, cursor string) (Page, error) {
	if err := d.wait(ctx); err != nil {
		return Page{}, err
	}

	pageNo := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Page{}, fmt.Errorf("invalid demo cursor %q", cursor)
		}
		pageNo = n
	}
	if pageNo >= d.Pages {
		return Page{}, nil
	}

	total := d.Pages * d.PerPage
	step := until.Sub(since) / time.Duration(total+1)
	collectedAt := d.now().UTC()

	page := Page{
		Commits:   make([]model.Commit, 0, d.PerPage),
		EndCursor: strconv.Itoa(pageNo + 1),
		HasNext:   pageNo+1 < d.Pages,
	}
	for i := 0; i < d.PerPage; i++ {
		idx := pageNo*d.PerPage + i
		login := demoLogins[idx%len(demoLogins)]
		sum := sha1.Sum([]byte(fmt.Sprintf("%s#%d", repo.FullName(), idx)))
		page.Commits = append(page.Commits, model.Commit{
			Repo:        repo.FullName(),
			SHA:         hex.EncodeToString(sum[:]),
			AuthorLogin: login,
			AuthorName:  login,
			AuthorEmail: login + "@example.com",
			Message:     fmt.Sprintf("demo commit %d", idx),
			Timestamp:   until.Add(-step * time.Duration(idx+1)).UTC(),
			CollectedAt: collectedAt,
		})
	}
	return page, nil
}

func (d *DemoSource) UserLocation(ctx context.Context, login string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(login))
	return demoLocations[h.Sum32()%uint32(len(demoLocations))], nil
}
