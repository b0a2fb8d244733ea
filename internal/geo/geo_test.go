// internal/geo/geo_test.go
package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "github-geo-collector/internal/errors"
	"github-geo-collector/internal/model"
)

type fakeProvider struct {
	reply string
	err   error
	calls atomic.Int64
}

func (f *fakeProvider) ModelName() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, _, _ string, _ any) (string, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

type stubResolver struct {
	name  string
	recs  map[string]model.GeoRecord
	err   error
	calls atomic.Int64
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) Resolve(_ context.Context, input string) (model.GeoRecord, error) {
	s.calls.Add(1)
	if s.err != nil {
		return model.GeoRecord{}, s.err
	}
	rec, ok := s.recs[input]
	if !ok {
		return unknown(input, s.name, "no match"), nil
	}
	rec.Source = s.name
	return rec, nil
}

type memCache struct {
	mu   sync.Mutex
	recs map[string]model.GeoRecord
}

func newMemCache() *memCache { return &memCache{recs: map[string]model.GeoRecord{}} }

func (c *memCache) GetGeo(_ context.Context, input string) (*model.GeoRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[input]
	if !ok {
		return nil, custom_errors.ErrNotFound
	}
	return &rec, nil
}

func (c *memCache) UpsertGeo(_ context.Context, rec model.GeoRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.Input] = rec
	return nil
}

func TestNormalizeCountry(t *testing.T) {
	testCases := map[string]string{
		"de":    "DEU",
		"DEU":   "DEU",
		" cn ":  "CHN",
		"US":    "USA",
		"":      model.UnknownCountry,
		"UNK":   model.UnknownCountry,
		"Earth": model.UnknownCountry,
	}
	for in, want := range testCases {
		assert.Equal(t, want, NormalizeCountry(in), in)
	}
}

func TestLLMResolver(t *testing.T) {
	t.Run("parses fenced JSON", func(t *testing.T) {
		p := &fakeProvider{reply: "```json\n{\"city\":\"Munich\",\"region\":\"Bavaria\",\"country_code\":\"de\",\"confidence\":1.4,\"rationale\":\"city name\"}\n```"}
		rec, err := NewLLMResolver(p).Resolve(context.Background(), "München ")

		require.NoError(t, err)
		assert.Equal(t, "München ", rec.Input)
		assert.Equal(t, "Munich", rec.City)
		assert.Equal(t, "DEU", rec.CountryCode)
		assert.Equal(t, 1.0, rec.Confidence)
		assert.Equal(t, "llm:fake", rec.Source)
	})

	t.Run("rejects non-JSON output", func(t *testing.T) {
		p := &fakeProvider{reply: "I am not sure."}
		_, err := NewLLMResolver(p).Resolve(context.Background(), "somewhere")
		assert.Error(t, err)
	})

	t.Run("propagates provider errors", func(t *testing.T) {
		p := &fakeProvider{err: errors.New("connection refused")}
		_, err := NewLLMResolver(p).Resolve(context.Background(), "somewhere")
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestNominatimResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		switch r.URL.Query().Get("q") {
		case "Cambridge, MA":
			fmt.Fprint(w, `[{"display_name":"Cambridge, Middlesex County, Massachusetts, United States","importance":0.72,
				"address":{"city":"Cambridge","state":"Massachusetts","country_code":"us"}}]`)
		case "Hallstatt":
			fmt.Fprint(w, `[{"display_name":"Hallstatt","importance":0.5,"address":{"village":"Hallstatt","state":"Upper Austria","country_code":"at"}}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer server.Close()

	r := NewNominatimResolver(server.URL, "test-agent", 5*time.Second)
	r.limiter.SetLimit(1000)
	ctx := context.Background()

	rec, err := r.Resolve(ctx, "Cambridge, MA")
	require.NoError(t, err)
	assert.Equal(t, "Cambridge", rec.City)
	assert.Equal(t, "Massachusetts", rec.Region)
	assert.Equal(t, "USA", rec.CountryCode)
	assert.Equal(t, 0.72, rec.Confidence)

	rec, err = r.Resolve(ctx, "Hallstatt")
	require.NoError(t, err)
	assert.Equal(t, "Hallstatt", rec.City)
	assert.Equal(t, "AUT", rec.CountryCode)

	rec, err = r.Resolve(ctx, "the moon")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownCountry, rec.CountryCode)
	assert.Zero(t, rec.Confidence)
}

func TestNormalizer_Normalize(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	t.Run("blank input never calls resolvers", func(t *testing.T) {
		primary := &stubResolver{name: "p"}
		n := NewNormalizer(newMemCache(), primary, nil, 0.5, 1, logger)

		rec, cached, err := n.Normalize(ctx, "   ", false)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, model.UnknownCountry, rec.CountryCode)
		assert.Zero(t, primary.calls.Load())
	})

	t.Run("cache first and keyed by the verbatim input", func(t *testing.T) {
		cache := newMemCache()
		primary := &stubResolver{name: "p", recs: map[string]model.GeoRecord{" Paris ": {CountryCode: "FRA", Confidence: 0.9}}}
		n := NewNormalizer(cache, primary, nil, 0.5, 1, logger)

		rec, cached, err := n.Normalize(ctx, " Paris ", false)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, "FRA", rec.CountryCode)
		assert.Contains(t, cache.recs, " Paris ")
		assert.NotContains(t, cache.recs, "Paris")

		_, cached, err = n.Normalize(ctx, " Paris ", false)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.Equal(t, int64(1), primary.calls.Load())

		_, cached, err = n.Normalize(ctx, " Paris ", true)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, int64(2), primary.calls.Load())
	})

	t.Run("low confidence falls back", func(t *testing.T) {
		primary := &stubResolver{name: "p", recs: map[string]model.GeoRecord{"SF": {CountryCode: "USA", Confidence: 0.2}}}
		fallback := &stubResolver{name: "f", recs: map[string]model.GeoRecord{"SF": {City: "San Francisco", CountryCode: "USA", Confidence: 0.8}}}
		n := NewNormalizer(newMemCache(), primary, fallback, 0.5, 1, logger)

		rec, _, err := n.Normalize(ctx, "SF", false)
		require.NoError(t, err)
		assert.Equal(t, "f", rec.Source)
		assert.Equal(t, "San Francisco", rec.City)
	})

	t.Run("primary error falls back", func(t *testing.T) {
		primary := &stubResolver{name: "p", err: errors.New("quota exceeded")}
		fallback := &stubResolver{name: "f", recs: map[string]model.GeoRecord{"Oslo": {CountryCode: "NOR", Confidence: 0.3}}}
		n := NewNormalizer(newMemCache(), primary, fallback, 0.5, 1, logger)

		rec, _, err := n.Normalize(ctx, "Oslo", false)
		require.NoError(t, err)
		assert.Equal(t, "NOR", rec.CountryCode)
	})

	t.Run("both failing is an error and nothing is cached", func(t *testing.T) {
		cache := newMemCache()
		n := NewNormalizer(cache, &stubResolver{name: "p", err: errors.New("a")}, &stubResolver{name: "f", err: errors.New("b")}, 0.5, 1, logger)

		_, _, err := n.Normalize(ctx, "Oslo", false)
		assert.Error(t, err)
		assert.Empty(t, cache.recs)
	})

	t.Run("unsure primary kept when fallback finds nothing", func(t *testing.T) {
		primary := &stubResolver{name: "p", recs: map[string]model.GeoRecord{"Gotham": {CountryCode: "USA", Confidence: 0.3}}}
		n := NewNormalizer(newMemCache(), primary, &stubResolver{name: "f"}, 0.5, 1, logger)

		rec, _, err := n.Normalize(ctx, "Gotham", false)
		require.NoError(t, err)
		assert.Equal(t, "p", rec.Source)
	})
}

func TestNormalizer_NormalizeAll(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cache := newMemCache()
	cache.recs["Berlin"] = model.GeoRecord{Input: "Berlin", CountryCode: "DEU"}

	primary := &stubResolver{name: "p", recs: map[string]model.GeoRecord{
		"Lagos": {CountryCode: "NGA", Confidence: 0.9},
	}}
	n := NewNormalizer(cache, primary, nil, 0.5, 3, logger)

	inputs := []string{"Berlin", "Lagos", "", "Mars"}
	records, stats, err := n.NormalizeAll(context.Background(), inputs, false)

	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "DEU", records[0].CountryCode)
	assert.Equal(t, "NGA", records[1].CountryCode)
	assert.Equal(t, model.UnknownCountry, records[2].CountryCode)
	assert.Equal(t, model.UnknownCountry, records[3].CountryCode)
	assert.Equal(t, Stats{Total: 4, Blank: 1, Cached: 1, Resolved: 1, Unknown: 1}, stats)

	summary := hook.LastEntry()
	require.NotNil(t, summary)
	assert.Equal(t, "Location normalization finished", summary.Message)
	assert.Equal(t, int64(1), summary.Data["blank"])
	assert.Equal(t, int64(4), summary.Data["total"])
}

func TestNormalizer_NormalizeAllCountsFailures(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := NewNormalizer(newMemCache(), &stubResolver{name: "p", err: errors.New("boom")}, nil, 0.5, 2, logger)

	_, stats, err := n.NormalizeAll(context.Background(), []string{"a", "b", "c"}, false)

	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Failed)
}
