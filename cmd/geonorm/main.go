// cmd/geonorm/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github-geo-collector/internal/ai"
	"github-geo-collector/internal/config"
	"github-geo-collector/internal/geo"
	"github-geo-collector/internal/logging"
	"github-geo-collector/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("Location normalization failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("geonorm", pflag.ExitOnError)
	config.RegisterFlags(fs)
	config.RegisterGeoFlags(fs)
	all := fs.Bool("all", false, "re-resolve locations that are already cached")
	input := fs.String("input", "", "normalize the locations of a CSV file instead of the stored commits")
	column := fs.String("column", "location", "CSV column holding the free-text location")
	output := fs.String("output", "", "CSV file written with the normalized columns appended (default <input>.geo.csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	normalizer := newNormalizer(cfg.Geo, st, logger)

	if *input != "" {
		out := *output
		if out == "" {
			out = *input + ".geo.csv"
		}
		return normalizeCSV(ctx, normalizer, *input, out, *column, *all, logger)
	}

	inputs, err := st.RawLocations(ctx, !*all)
	if err != nil {
		return fmt.Errorf("failed to list raw locations: %w", err)
	}
	logger.WithField("locations", len(inputs)).Info("Normalizing stored locations")
	if _, _, err := normalizer.NormalizeAll(ctx, inputs, *all); err != nil {
		return err
	}
	return nil
}

// newNormalizer chains the LLM resolver with Nominatim as fallback; without an Ollama URL Nominatim
// resolves alone.
func newNormalizer(cfg config.Geo, cache geo.Cache, logger logrus.FieldLogger) *geo.Normalizer {
	nominatim := geo.NewNominatimResolver(cfg.NominatimURL, cfg.UserAgent, 30*time.Second)
	if cfg.OllamaURL == "" {
		logger.Info("No OLLAMA_URL configured, resolving with Nominatim only")
		return geo.NewNormalizer(cache, nominatim, nil, cfg.MinConfidence, cfg.Concurrency, logger)
	}
	llm := geo.NewLLMResolver(ai.NewOllama(ai.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaModel,
		Token:   cfg.OllamaToken,
		Timeout: 2 * time.Minute,
	}))
	return geo.NewNormalizer(cache, llm, nominatim, cfg.MinConfidence, cfg.Concurrency, logger)
}
