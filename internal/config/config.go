// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string
	LogFormat string

	GitHub    GitHub
	Collector Collector
	Store     Store
	Geo       Geo
	Warehouse Warehouse
	Workbook  Workbook
	API       API
}

// GitHub configures the API client and its credential pool.
type GitHub struct {
	Tokens            []string
	GraphQLURL        string
	RESTURL           string
	PageSize          int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RateLimitCooldown time.Duration
	RequestTimeout    time.Duration
}

// Collector configures the fetch/store pipeline.
type Collector struct {
	Repos            []string
	Since            time.Time
	Until            time.Time
	Concurrency      int
	QueueCapacity    int
	BatchSize        int
	FlushInterval    time.Duration
	ShutdownGrace    time.Duration
	SyncInterval     time.Duration
	ResolveLocations bool
	Demo             bool
	Output           string
}

// Store selects and configures the persistence backend.
type Store struct {
	Driver     string
	SQLitePath string
	DBURL      string
}

// Geo configures location normalization.
type Geo struct {
	OllamaURL     string
	OllamaModel   string
	OllamaToken   string
	NominatimURL  string
	UserAgent     string
	Concurrency   int
	MinConfidence float64
}

// Warehouse configures the ClickHouse connection.
type Warehouse struct {
	Addr          string
	Database      string
	User          string
	Password      string
	Timeout       time.Duration
	// OpenRankTable holds repo_name, created_at and openrank columns.
	OpenRankTable string
}

// Workbook locates the spreadsheet used by the enrichment job.
type Workbook struct {
	Path         string
	Sheet        string
	NameColumn   string
	OutputColumn string
}

// API configures the read-only HTTP service.
type API struct {
	Addr string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var defaults = map[string]any{
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
	"GITHUB_TOKENS":             "",
	"GITHUB_TOKEN":              "",
	"GITHUB_GRAPHQL_URL":        "https://api.github.com/graphql",
	"GITHUB_REST_URL":           "https://api.github.com/",
	"PAGE_SIZE":                 100,
	"MAX_RETRIES":               5,
	"INITIAL_BACKOFF":           "1s",
	"MAX_BACKOFF":               "1m",
	"RATE_LIMIT_COOLDOWN":       "10m",
	"REQUEST_TIMEOUT":           "60s",
	"REPOS":                     "",
	"LOOKBACK_DAYS":             30,
	"SINCE":                     "",
	"UNTIL":                     "",
	"CONCURRENCY":               5,
	"QUEUE_CAPACITY":            1000,
	"WRITE_BATCH_SIZE":          50,
	"FLUSH_INTERVAL":            "2s",
	"SHUTDOWN_GRACE":            "10s",
	"SYNC_INTERVAL":             "0s",
	"RESOLVE_LOCATIONS":         true,
	"DEMO":                      false,
	"OUTPUT":                    "",
	"STORE_DRIVER":              DriverSQLite,
	"SQLITE_PATH":               "gh_commits.db",
	"DB_URL":                    "",
	"OLLAMA_URL":                "",
	"OLLAMA_MODEL":              "qwen3",
	"OLLAMA_TOKEN":              "",
	"NOMINATIM_URL":             "https://nominatim.openstreetmap.org",
	"GEO_USER_AGENT":            "github-geo-collector/1.0",
	"GEO_CONCURRENCY":           4,
	"GEO_MIN_CONFIDENCE":        0.6,
	"CLICKHOUSE_ADDR":           "localhost:9000",
	"CLICKHOUSE_DATABASE":       "opensource",
	"CLICKHOUSE_USER":           "default",
	"CLICKHOUSE_PASSWORD":       "",
	"CLICKHOUSE_TIMEOUT":        "30s",
	"CLICKHOUSE_OPENRANK_TABLE": "global_openrank",
	"WORKBOOK_PATH":             "item.xlsx",
	"WORKBOOK_SHEET":            "",
	"WORKBOOK_NAME_COLUMN":      "B",
	"WORKBOOK_OUTPUT_COLUMN":    "E",
	"API_ADDR":                  ":8080",
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":         "LOG_LEVEL",
	"tokens":            "GITHUB_TOKENS",
	"repos":             "REPOS",
	"days":              "LOOKBACK_DAYS",
	"since":             "SINCE",
	"until":             "UNTIL",
	"concurrency":       "CONCURRENCY",
	"batch-size":        "WRITE_BATCH_SIZE",
	"resolve-locations": "RESOLVE_LOCATIONS",
	"demo":              "DEMO",
	"output":            "OUTPUT",
	"driver":            "STORE_DRIVER",
	"db":                "SQLITE_PATH",
	"db-url":            "DB_URL",
	"workbook":          "WORKBOOK_PATH",
	"sheet":             "WORKBOOK_SHEET",
	"name-column":       "WORKBOOK_NAME_COLUMN",
	"output-column":     "WORKBOOK_OUTPUT_COLUMN",
	"clickhouse":        "CLICKHOUSE_ADDR",
	"openrank-table":    "CLICKHOUSE_OPENRANK_TABLE",
	"addr":              "API_ADDR",
	"ollama-url":        "OLLAMA_URL",
	"ollama-model":      "OLLAMA_MODEL",
}

// RegisterFlags declares the flags shared by every command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("driver", DriverSQLite, "store driver (sqlite, postgres)")
	fs.String("db", "gh_commits.db", "SQLite database file")
	fs.String("db-url", "", "Postgres connection URL when --driver=postgres")
}

// RegisterCollectorFlags declares the flags used by the collector command.
func RegisterCollectorFlags(fs *pflag.FlagSet) {
	fs.String("tokens", "", "comma-separated GitHub tokens")
	fs.String("repos", "", "comma-separated repositories (owner/name)")
	fs.Int("days", 30, "look back this many days when --since is not set")
	fs.String("since", "", "start of the window (RFC3339)")
	fs.String("until", "", "end of the window (RFC3339)")
	fs.Int("concurrency", 5, "repositories fetched in parallel")
	fs.Int("batch-size", 50, "records per database write")
	fs.Bool("resolve-locations", true, "look up each author's profile location")
	fs.Bool("demo", false, "use synthetic data instead of the GitHub API")
	fs.String("output", "", "export collected commits to this .json or .csv file")
}

// RegisterGeoFlags declares the flags used by the location normalizer.
func RegisterGeoFlags(fs *pflag.FlagSet) {
	fs.String("ollama-url", "", "Ollama endpoint for LLM resolution, e.g. http://localhost:11434 (empty: Nominatim only)")
	fs.String("ollama-model", "qwen3", "Ollama model used to resolve locations")
}

// RegisterWarehouseFlags declares the flags used by the warehouse commands.
func RegisterWarehouseFlags(fs *pflag.FlagSet) {
	fs.String("clickhouse", "localhost:9000", "ClickHouse native protocol address")
	fs.String("workbook", "item.xlsx", "workbook to enrich in place")
	fs.String("sheet", "", "sheet name (default: first sheet)")
	fs.String("name-column", "B", "column holding repository names")
	fs.String("output-column", "E", "first of the four output columns")
}

// Load reads configuration from an optional .env file, the environment and fs.
// Flags take precedence over the environment, which takes precedence over defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	return build(v, time.Now())
}

func build(v *viper.Viper, now time.Time) (*Config, error) {
	tokens := SplitList(v.GetString("GITHUB_TOKENS"))
	if len(tokens) == 0 {
		tokens = SplitList(v.GetString("GITHUB_TOKEN"))
	}

	cfg := &Config{
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		GitHub: GitHub{
			Tokens:            tokens,
			GraphQLURL:        v.GetString("GITHUB_GRAPHQL_URL"),
			RESTURL:           v.GetString("GITHUB_REST_URL"),
			PageSize:          v.GetInt("PAGE_SIZE"),
			MaxRetries:        v.GetInt("MAX_RETRIES"),
			InitialBackoff:    v.GetDuration("INITIAL_BACKOFF"),
			MaxBackoff:        v.GetDuration("MAX_BACKOFF"),
			RateLimitCooldown: v.GetDuration("RATE_LIMIT_COOLDOWN"),
			RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		},
		Collector: Collector{
			Repos:            SplitList(v.GetString("REPOS")),
			Concurrency:      v.GetInt("CONCURRENCY"),
			QueueCapacity:    v.GetInt("QUEUE_CAPACITY"),
			BatchSize:        v.GetInt("WRITE_BATCH_SIZE"),
			FlushInterval:    v.GetDuration("FLUSH_INTERVAL"),
			ShutdownGrace:    v.GetDuration("SHUTDOWN_GRACE"),
			SyncInterval:     v.GetDuration("SYNC_INTERVAL"),
			ResolveLocations: v.GetBool("RESOLVE_LOCATIONS"),
			Demo:             v.GetBool("DEMO"),
			Output:           v.GetString("OUTPUT"),
		},
		Store: Store{
			Driver:     strings.ToLower(v.GetString("STORE_DRIVER")),
			SQLitePath: v.GetString("SQLITE_PATH"),
			DBURL:      v.GetString("DB_URL"),
		},
		Geo: Geo{
			OllamaURL:     v.GetString("OLLAMA_URL"),
			OllamaModel:   v.GetString("OLLAMA_MODEL"),
			OllamaToken:   v.GetString("OLLAMA_TOKEN"),
			NominatimURL:  v.GetString("NOMINATIM_URL"),
			UserAgent:     v.GetString("GEO_USER_AGENT"),
			Concurrency:   v.GetInt("GEO_CONCURRENCY"),
			MinConfidence: v.GetFloat64("GEO_MIN_CONFIDENCE"),
		},
		Warehouse: Warehouse{
			Addr:          v.GetString("CLICKHOUSE_ADDR"),
			Database:      v.GetString("CLICKHOUSE_DATABASE"),
			User:          v.GetString("CLICKHOUSE_USER"),
			Password:      v.GetString("CLICKHOUSE_PASSWORD"),
			Timeout:       v.GetDuration("CLICKHOUSE_TIMEOUT"),
			OpenRankTable: v.GetString("CLICKHOUSE_OPENRANK_TABLE"),
		},
		Workbook: Workbook{
			Path:         v.GetString("WORKBOOK_PATH"),
			Sheet:        v.GetString("WORKBOOK_SHEET"),
			NameColumn:   v.GetString("WORKBOOK_NAME_COLUMN"),
			OutputColumn: v.GetString("WORKBOOK_OUTPUT_COLUMN"),
		},
		API: API{
			Addr: v.GetString("API_ADDR"),
		},
	}

	until := now.UTC()
	if s := v.GetString("UNTIL"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New("UNTIL must be in RFC3339 format (e.g. 2024-01-01T00:00:00Z)")
		}
		until = t
	}
	since := until.AddDate(0, 0, -v.GetInt("LOOKBACK_DAYS"))
	if s := v.GetString("SINCE"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New("SINCE must be in RFC3339 format (e.g. 2024-01-01T00:00:00Z)")
		}
		since = t
	}
	cfg.Collector.Since = since
	cfg.Collector.Until = until

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var tableName = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*\.)?[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) validate() error {
	if !c.Collector.Since.Before(c.Collector.Until) {
		return errors.New("SINCE must be before UNTIL")
	}
	if c.GitHub.PageSize <= 0 || c.GitHub.PageSize > 100 {
		return errors.New("PAGE_SIZE must be between 1 and 100")
	}
	if c.GitHub.MaxRetries <= 0 {
		return errors.New("MAX_RETRIES must be positive")
	}
	if c.Collector.Concurrency <= 0 {
		return errors.New("CONCURRENCY must be positive")
	}
	if c.Collector.QueueCapacity <= 0 {
		return errors.New("QUEUE_CAPACITY must be positive")
	}
	if c.Collector.BatchSize <= 0 {
		return errors.New("WRITE_BATCH_SIZE must be positive")
	}
	if c.Collector.FlushInterval <= 0 {
		return errors.New("FLUSH_INTERVAL must be positive")
	}
	if c.Collector.SyncInterval < 0 {
		return errors.New("SYNC_INTERVAL must not be negative")
	}
	if c.Geo.Concurrency <= 0 {
		return errors.New("GEO_CONCURRENCY must be positive")
	}
	if !tableName.MatchString(c.Warehouse.OpenRankTable) {
		return fmt.Errorf("CLICKHOUSE_OPENRANK_TABLE must be a table name ([db.]table), got %q", c.Warehouse.OpenRankTable)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH is a required configuration field for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DBURL == "" {
			return errors.New("DB_URL is a required configuration field for the postgres driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Store.Driver)
	}
	return nil
}

// RequireRepos fails when no repository is configured.
func (c *Config) RequireRepos() error {
	if len(c.Collector.Repos) == 0 {
		return errors.New("REPOS must contain at least one repository")
	}
	return nil
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
