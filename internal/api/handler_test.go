// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-geo-collector/internal/model"
)

type MockReader struct {
	mock.Mock
}

func (m *MockReader) CountCommits(ctx context.Context, repo string) (int64, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockReader) ListCommits(ctx context.Context, repo string, limit, offset int) ([]model.Commit, error) {
	args := m.Called(ctx, repo, limit, offset)
	commits, _ := args.Get(0).([]model.Commit)
	return commits, args.Error(1)
}

func (m *MockReader) TopCommitters(ctx context.Context, repo string, limit int) ([]model.AuthorStats, error) {
	args := m.Called(ctx, repo, limit)
	stats, _ := args.Get(0).([]model.AuthorStats)
	return stats, args.Error(1)
}

func (m *MockReader) ListGeo(ctx context.Context) ([]model.GeoRecord, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]model.GeoRecord)
	return recs, args.Error(1)
}

func serve(t *testing.T, db Reader, target string) *httptest.ResponseRecorder {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rec := httptest.NewRecorder()
	NewRouter(db, logger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, new(MockReader), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetCommits(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pages through stored commits", func(t *testing.T) {
		db := new(MockReader)
		db.On("CountCommits", mock.Anything, "golang/go").Return(int64(3), nil)
		db.On("ListCommits", mock.Anything, "golang/go", 2, 1).Return([]model.Commit{
			{Repo: "golang/go", SHA: "abc", AuthorLogin: "gopher", Timestamp: ts},
		}, nil)

		rec := serve(t, db, "/v1/repos/golang/go/commits?limit=2&offset=1")

		require.Equal(t, http.StatusOK, rec.Code)
		var got []model.Commit
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "abc", got[0].SHA)
		db.AssertExpectations(t)
	})

	t.Run("unknown repository", func(t *testing.T) {
		db := new(MockReader)
		db.On("CountCommits", mock.Anything, "no/body").Return(int64(0), nil)

		rec := serve(t, db, "/v1/repos/no/body/commits")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		db.AssertNotCalled(t, "ListCommits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid paging", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=abc", "limit=501", "offset=-1"} {
			rec := serve(t, new(MockReader), "/v1/repos/golang/go/commits?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		db := new(MockReader)
		db.On("CountCommits", mock.Anything, "golang/go").Return(int64(0), errors.New("disk I/O error"))

		rec := serve(t, db, "/v1/repos/golang/go/commits")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk")
	})
}

func TestGetTopCommitters(t *testing.T) {
	testCases := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", query: "", wantStatus: http.StatusOK, wantLimit: 10},
		{name: "explicit limit", query: "?limit=3", wantStatus: http.StatusOK, wantLimit: 3},
		{name: "upper bound", query: "?limit=100", wantStatus: http.StatusOK, wantLimit: 100},
		{name: "too large", query: "?limit=101", wantStatus: http.StatusBadRequest},
		{name: "zero", query: "?limit=0", wantStatus: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := new(MockReader)
			db.On("CountCommits", mock.Anything, "golang/go").Return(int64(10), nil)
			db.On("TopCommitters", mock.Anything, "golang/go", tc.wantLimit).
				Return([]model.AuthorStats{{Login: "gopher", Commits: 7}}, nil)

			rec := serve(t, db, "/v1/repos/golang/go/stats/top-committers"+tc.query)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.JSONEq(t, `[{"login":"gopher","name":"","email":"","commits":7}]`, rec.Body.String())
				db.AssertExpectations(t)
			}
		})
	}
}

func TestGetLocations(t *testing.T) {
	db := new(MockReader)
	db.On("ListGeo", mock.Anything).Return(nil, nil)

	rec := serve(t, db, "/v1/locations")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
