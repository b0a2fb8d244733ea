// internal/geo/normalizer.go
package geo

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	custom_errors "github-geo-collector/internal/errors"
	"github-geo-collector/internal/model"
)

// Cache is the part of the store the normalizer needs.
type Cache interface {
	GetGeo(ctx context.Context, input string) (*model.GeoRecord, error)
	UpsertGeo(ctx context.Context, rec model.GeoRecord) error
}

// Stats summarizes a NormalizeAll run.
type Stats struct {
	Total    int64 `json:"total"`
	Blank    int64 `json:"blank"`
	Cached   int64 `json:"cached"`
	Resolved int64 `json:"resolved"`
	Unknown  int64 `json:"unknown"`
	Failed   int64 `json:"failed"`
}

// Normalizer resolves locations cache-first, trying the primary resolver and then the fallback.
type Normalizer struct {
	cache         Cache
	primary       Resolver
	fallback      Resolver
	minConfidence float64
	concurrency   int
	logger        logrus.FieldLogger
	now           func() time.Time
}

// NewNormalizer creates a Normalizer. fallback may be nil.
func NewNormalizer(cache Cache, primary, fallback Resolver, minConfidence float64, concurrency int, logger logrus.FieldLogger) *Normalizer {
	return &Normalizer{
		cache:         cache,
		primary:       primary,
		fallback:      fallback,
		minConfidence: minConfidence,
		concurrency:   max(concurrency, 1),
		logger:        logger,
		now:           time.Now,
	}
}

// Normalize returns the record for input. With force set the cache is bypassed and overwritten.
// The bool result reports whether the record came from the cache.
func (n *Normalizer) Normalize(ctx context.Context, input string, force bool) (model.GeoRecord, bool, error) {
	if strings.TrimSpace(input) == "" {
		return unknown(input, "blank", "empty input"), false, nil
	}

	if !force {
		rec, err := n.cache.GetGeo(ctx, input)
		switch {
		case err == nil:
			return *rec, true, nil
		case !errors.Is(err, custom_errors.ErrNotFound):
			return model.GeoRecord{}, false, err
		}
	}

	rec, err := n.resolve(ctx, input)
	if err != nil {
		return model.GeoRecord{}, false, err
	}
	rec.Input = input
	rec.UpdatedAt = n.now().UTC()
	if err := n.cache.UpsertGeo(ctx, rec); err != nil {
		return model.GeoRecord{}, false, err
	}
	return rec, false, nil
}

func (n *Normalizer) resolve(ctx context.Context, input string) (model.GeoRecord, error) {
	rec, err := n.primary.Resolve(ctx, input)
	if err == nil && rec.Confidence >= n.minConfidence {
		return rec, nil
	}
	if n.fallback == nil {
		return rec, err
	}

	logger := n.logger.WithField("input", input)
	if err != nil {
		logger.WithError(err).Debug("Primary resolver failed, trying fallback")
	} else {
		logger.WithField("confidence", rec.Confidence).Debug("Primary resolver unsure, trying fallback")
	}

	alt, altErr := n.fallback.Resolve(ctx, input)
	switch {
	case altErr != nil && err != nil:
		return model.GeoRecord{}, errors.Join(err, altErr)
	case altErr != nil:
		return rec, nil
	case err != nil:
		return alt, nil
	case alt.Resolved() && (!rec.Resolved() || alt.Confidence > rec.Confidence):
		return alt, nil
	}
	return rec, nil
}

// NormalizeAll resolves every input with bounded concurrency. Single failures are logged and counted,
// never fatal; records[i] corresponds to inputs[i] and is zero when resolution failed.
func (n *Normalizer) NormalizeAll(ctx context.Context, inputs []string, force bool) ([]model.GeoRecord, Stats, error) {
	records := make([]model.GeoRecord, len(inputs))
	var total, blank, cached, resolved, unknownN, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, input := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			total.Add(1)
			if strings.TrimSpace(input) == "" {
				blank.Add(1)
				records[i] = unknown(input, "blank", "empty input")
				return nil
			}

			rec, fromCache, err := n.Normalize(gctx, input, force)
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				n.logger.WithError(err).WithField("input", input).Warn("Failed to normalize location")
				return nil
			case fromCache:
				cached.Add(1)
			case rec.Resolved():
				resolved.Add(1)
			default:
				unknownN.Add(1)
			}
			records[i] = rec
			return nil
		})
	}
	err := g.Wait()

	stats := Stats{
		Total:    total.Load(),
		Blank:    blank.Load(),
		Cached:   cached.Load(),
		Resolved: resolved.Load(),
		Unknown:  unknownN.Load(),
		Failed:   failed.Load(),
	}
	n.logger.WithFields(logrus.Fields{
		"total":    stats.Total,
		"blank":    stats.Blank,
		"cached":   stats.Cached,
		"resolved": stats.Resolved,
		"unknown":  stats.Unknown,
		"failed":   stats.Failed,
	}).Info("Location normalization finished")

	if err == nil {
		err = ctx.Err()
	}
	return records, stats, err
}
