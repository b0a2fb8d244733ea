// internal/geo/nominatim.go
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github-geo-collector/internal/model"
)

// NominatimResolver geocodes through an OpenStreetMap Nominatim instance.
// Requests are limited to one per second as the public instance requires.
type NominatimResolver struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Resolver = (*NominatimResolver)(nil)

func NewNominatimResolver(baseURL, userAgent string, timeout time.Duration) *NominatimResolver {
	return &NominatimResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (r *NominatimResolver) Name() string { return "nominatim" }

type nominatimPlace struct {
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
	Address     struct {
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		State       string `json:"state"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func (r *NominatimResolver) Resolve(ctx context.Context, input string) (model.GeoRecord, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.GeoRecord{}, err
	}

	q := url.Values{}
	q.Set("q", strings.TrimSpace(input))
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return model.GeoRecord{}, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return model.GeoRecord{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.GeoRecord{}, fmt.Errorf("nominatim error (%d): %s", resp.StatusCode, string(body))
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.GeoRecord{}, fmt.Errorf("nominatim decode: %w", err)
	}
	if len(places) == 0 {
		return unknown(input, r.Name(), "no match"), nil
	}

	p := places[0]
	city := p.Address.City
	if city == "" {
		city = p.Address.Town
	}
	if city == "" {
		city = p.Address.Village
	}
	return model.GeoRecord{
		Input:       input,
		City:        city,
		Region:      p.Address.State,
		CountryCode: NormalizeCountry(p.Address.CountryCode),
		Confidence:  clamp01(p.Importance),
		Rationale:   p.DisplayName,
		Source:      r.Name(),
	}, nil
}
