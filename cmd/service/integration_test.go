//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github-geo-collector/internal/api"
	"github-geo-collector/internal/collector"
	"github-geo-collector/internal/config"
	"github-geo-collector/internal/github"
	"github-geo-collector/internal/model"
	"github-geo-collector/internal/store"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (store.Store, func()) {
	// Start a postgres container
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Migrations run on open
	st, err := store.Open(ctx, config.Store{Driver: config.DriverPostgres, DBURL: connStr})
	require.NoError(t, err)

	teardown := func() {
		st.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	}
	return st, teardown
}

func TestCollectAndServe_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	st, teardown := setupTestDatabase(ctx, t)
	defer teardown()

	logger, _ := test.NewNullLogger()
	until := time.Now().UTC()
	cfg := config.Collector{
		Since:            until.AddDate(0, 0, -7),
		Until:            until,
		Concurrency:      2,
		QueueCapacity:    4,
		BatchSize:        25,
		FlushInterval:    50 * time.Millisecond,
		ShutdownGrace:    5 * time.Second,
		ResolveLocations: true,
	}
	repos := []string{"test-owner/test-repo", "test-owner/other"}

	// --- ACT ---
	engine := collector.New(cfg, github.NewDemoSource(2, 30), st, logger)
	stats, err := engine.Run(ctx, repos)
	require.NoError(t, err)

	// a second identical run must not add rows
	again, err := engine.Run(ctx, repos)
	require.NoError(t, err)

	// --- ASSERT ---
	assert.Equal(t, int64(120), stats.Saved)
	assert.Zero(t, again.Saved)
	n, err := st.CountCommits(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)

	server := httptest.NewServer(api.NewRouter(st, logger))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/repos/test-owner/test-repo/commits?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var commits []model.Commit
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&commits))
	require.Len(t, commits, 10)
	assert.Equal(t, "test-owner/test-repo", commits[0].Repo)
	assert.False(t, commits[0].Timestamp.Before(commits[9].Timestamp)) // Order is by date DESC

	resp2, err := http.Get(server.URL + "/v1/repos/test-owner/missing/stats/top-committers")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
