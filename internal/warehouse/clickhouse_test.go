// internal/warehouse/clickhouse_test.go
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConn struct {
	mock.Mock
}

func (m *MockConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return m.Called(ctx, query, args).Get(0).(driver.Row)
}

func (m *MockConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	ret := m.Called(ctx, query, args)
	rows, _ := ret.Get(0).(driver.Rows)
	return rows, ret.Error(1)
}

func (m *MockConn) Close() error {
	return m.Called().Error(0)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("expected %d destinations, got %d", len(values), len(dest))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = values[i].(string)
		case *float64:
			*d = values[i].(float64)
		case *time.Time:
			*d = values[i].(time.Time)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

type fakeRow struct {
	driver.Row
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	driver.Rows
	data   [][]any
	i      int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assign(r.data[r.i-1], dest) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close() error           { r.closed = true; return nil }

func TestClient_RepoInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		conn := new(MockConn)
		conn.On("QueryRow", ctx, repoInfoQuery, []any{"apache/kafka"}).
			Return(&fakeRow{values: []any{"Streaming platform", "Java", "Apache-2.0", "['kafka']"}})
		c := &Client{conn: conn}

		info, err := c.RepoInfo(ctx, " apache/kafka ")

		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "apache/kafka", info.Name)
		assert.Equal(t, []string{"Streaming platform", "Java", "Apache-2.0", "['kafka']"}, info.Values())
		conn.AssertExpectations(t)
	})

	t.Run("no rows", func(t *testing.T) {
		conn := new(MockConn)
		conn.On("QueryRow", ctx, repoInfoQuery, []any{"nobody/nothing"}).Return(&fakeRow{err: sql.ErrNoRows})
		c := &Client{conn: conn}

		info, err := c.RepoInfo(ctx, "nobody/nothing")

		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("query error", func(t *testing.T) {
		conn := new(MockConn)
		conn.On("QueryRow", ctx, repoInfoQuery, []any{"a/b"}).Return(&fakeRow{err: errors.New("code: 60, table does not exist")})
		c := &Client{conn: conn}

		_, err := c.RepoInfo(ctx, "a/b")

		assert.ErrorContains(t, err, "table does not exist")
	})
}

func TestClient_MonthlyOpenRank(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	repos := []string{"a/x", "b/y"}

	rows := &fakeRows{data: [][]any{
		{"a/x", from, 1.5},
		{"a/x", from.AddDate(0, 1, 0), 2.0},
		{"b/y", from, 0.25},
	}}
	conn := new(MockConn)
	conn.On("Query", ctx, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "FROM global_openrank\n")
	}), []any{repos, from, to}).Return(rows, nil)
	c := &Client{conn: conn}

	got, err := c.MonthlyOpenRank(ctx, repos, from, to)

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a/x", got[1].Repo)
	assert.Equal(t, from.AddDate(0, 1, 0), got[1].Month)
	assert.Equal(t, 0.25, got[2].Value)
	assert.True(t, rows.closed)

	t.Run("configured table is queried", func(t *testing.T) {
		rows := &fakeRows{data: [][]any{{"a/x", from, 3.0}}}
		conn := new(MockConn)
		conn.On("Query", ctx, mock.MatchedBy(func(q string) bool {
			return strings.Contains(q, "FROM opendigger.openrank_monthly\n")
		}), []any{repos, from, to}).Return(rows, nil)
		c := &Client{conn: conn, openRankTable: "opendigger.openrank_monthly"}

		got, err := c.MonthlyOpenRank(ctx, repos, from, to)

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 3.0, got[0].Value)
		conn.AssertExpectations(t)
	})

	t.Run("no repositories skips the query", func(t *testing.T) {
		c := &Client{conn: new(MockConn)}
		got, err := c.MonthlyOpenRank(ctx, nil, from, to)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
