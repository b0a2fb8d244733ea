// internal/warehouse/clickhouse.go
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github-geo-collector/internal/config"
	"github-geo-collector/internal/model"
)

const repoInfoQuery = `
SELECT
    ifNull(toString(t2.description), ''),
    ifNull(toString(t2.primary_language), ''),
    ifNull(toString(t2.license), ''),
    ifNull(toString(t2.topics), '')
FROM events AS t1
LEFT JOIN gh_repo_info AS t2 ON t1.repo_id = t2.id
WHERE t1.repo_name = ?
LIMIT 1`

// DefaultOpenRankTable is the OpenDigger export table read when none is configured.
const DefaultOpenRankTable = "global_openrank"

// monthlyOpenRankQuery is formatted with the OpenRank table name.
const monthlyOpenRankQuery = `
SELECT
    repo_name,
    toStartOfMonth(created_at) AS month,
    avg(openrank) AS monthly_avg_openrank
FROM %s
WHERE has(?, repo_name) AND created_at >= ? AND created_at < ?
GROUP BY repo_name, month
ORDER BY repo_name, month`

// querier is the subset of driver.Conn the client uses.
type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Close() error
}

// Client reads repository metadata and OpenRank values from the analytics warehouse.
type Client struct {
	conn          querier
	openRankTable string
}

// Open connects to ClickHouse over the native protocol and pings it.
func Open(ctx context.Context, cfg config.Warehouse) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		ReadTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn, openRankTable: cfg.OpenRankTable}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RepoInfo looks up description, language, license and topics for an 'owner/name' repository.
// It returns nil, nil when the warehouse has no event for the repository.
func (c *Client) RepoInfo(ctx context.Context, name string) (*model.RepoInfo, error) {
	name = strings.TrimSpace(name)
	info := &model.RepoInfo{Name: name}
	err := c.conn.QueryRow(ctx, repoInfoQuery, name).Scan(&info.Description, &info.Language, &info.License, &info.Topics)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("query repo info for %s: %w", name, err)
	}
	return info, nil
}

func (c *Client) openRankQuery() string {
	table := c.openRankTable
	if table == "" {
		table = DefaultOpenRankTable
	}
	return fmt.Sprintf(monthlyOpenRankQuery, table)
}

// MonthlyOpenRank returns the average OpenRank per repository and month in [from, to).
func (c *Client) MonthlyOpenRank(ctx context.Context, repos []string, from, to time.Time) ([]model.MonthlyOpenRank, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	rows, err := c.conn.Query(ctx, c.openRankQuery(), repos, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query monthly openrank: %w", err)
	}
	defer rows.Close()

	var out []model.MonthlyOpenRank
	for rows.Next() {
		var r model.MonthlyOpenRank
		if err := rows.Scan(&r.Repo, &r.Month, &r.Value); err != nil {
			return nil, fmt.Errorf("scan monthly openrank: %w", err)
		}
		r.Month = r.Month.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read monthly openrank: %w", err)
	}
	return out, nil
}
