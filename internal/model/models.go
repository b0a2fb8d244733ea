// internal/model/models.go
package model

import (
	"strings"
	"time"

	custom_errors "github-geo-collector/internal/errors"
)

// UnknownCountry marks a location that could not be resolved.
const UnknownCountry = "UNK"

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

// FullName returns the 'owner/name' form.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo parses an 'owner/name' string.
func ParseRepo(s string) (Repo, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, &custom_errors.ErrInvalidRepoFormat{Repo: s}
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

// Commit is a single collected commit. Values are never mutated after construction.
type Commit struct {
	Repo        string    `json:"repo"`
	SHA         string    `json:"sha"`
	AuthorLogin string    `json:"author_login"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	RawLocation string    `json:"raw_location"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	CollectedAt time.Time `json:"collected_at"`
}

// Unix returns the commit timestamp in seconds.
func (c Commit) Unix() int64 {
	return c.Timestamp.Unix()
}

// Valid reports whether the commit carries its natural key.
func (c Commit) Valid() bool {
	return c.Repo != "" && c.SHA != ""
}

// WithLocation returns a copy of c with the raw location set.
func (c Commit) WithLocation(loc string) Commit {
	c.RawLocation = loc
	return c
}

// GeoRecord is a cached normalization of a free-text location.
type GeoRecord struct {
	Input       string    `json:"input"`
	City        string    `json:"city"`
	Region      string    `json:"region"`
	CountryCode string    `json:"country_code"`
	Confidence  float64   `json:"confidence"`
	Rationale   string    `json:"rationale"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Resolved reports whether the record names a real country.
func (g GeoRecord) Resolved() bool {
	n := len(g.CountryCode)
	return (n == 2 || n == 3) && g.CountryCode != UnknownCountry
}

// AuthorStats aggregates commits per author.
type AuthorStats struct {
	Login   string `json:"login"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Commits int64  `json:"commits"`
}

// RepoInfo is the warehouse metadata written into a workbook row.
type RepoInfo struct {
	Name        string
	Description string
	Language    string
	License     string
	Topics      string
}

// Values returns the fields in workbook column order.
func (r RepoInfo) Values() []string {
	return []string{r.Description, r.Language, r.License, r.Topics}
}

// MonthlyOpenRank is one repository's average OpenRank for a month.
type MonthlyOpenRank struct {
	Repo  string
	Month time.Time
	Value float64
}
