// internal/geo/geo.go
// Package geo turns free-text profile locations into structured records.
package geo

import (
	"context"
	"strings"

	"golang.org/x/text/language"

	"github-geo-collector/internal/model"
)

// Resolver resolves one location string.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, input string) (model.GeoRecord, error)
}

// NormalizeCountry converts an ISO 3166 alpha-2 or alpha-3 code to alpha-3, or UNK.
func NormalizeCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == model.UnknownCountry {
		return model.UnknownCountry
	}
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return model.UnknownCountry
	}
	return region.ISO3()
}

func unknown(input, source, rationale string) model.GeoRecord {
	return model.GeoRecord{
		Input:       input,
		CountryCode: model.UnknownCountry,
		Rationale:   rationale,
		Source:      source,
	}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
