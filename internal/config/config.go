// Package config loads process settings from the environment and optimizer
// tuning from YAML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

//go:embed engine.yaml
var defaultEngine []byte

// Engine holds the optimizer tuning values.
type Engine struct {
	Weights         map[string]scoring.Weights `yaml:"weights"`
	CrowdingPenalty float64                    `yaml:"crowding_penalty"`

	Live struct {
		MaxAge           time.Duration `yaml:"max_age"`
		StopRadiusKm     float64       `yaml:"stop_radius_km"`
		CorridorRadiusKm float64       `yaml:"corridor_radius_km"`
		LookupTimeout    time.Duration `yaml:"lookup_timeout"`
		CorridorPoints   int           `yaml:"corridor_points"`
		PruneInterval    time.Duration `yaml:"prune_interval"`
	} `yaml:"live"`

	Distance struct {
		Timeout  time.Duration            `yaml:"timeout"`
		Circuity []candidate.CircuityTier `yaml:"circuity"`
	} `yaml:"distance"`

	Congestion map[string]float64 `yaml:"congestion"`

	// StopAccess excludes bus and metro modes with no registered stop near
	// a trip end. Only meaningful with a complete stop registry.
	StopAccess bool `yaml:"stop_access"`

	Concurrency  int           `yaml:"concurrency"`
	PlaceTimeout time.Duration `yaml:"place_timeout"`
}

// ParseEngine decodes engine tuning, starting from the built-in defaults
// so an override file only needs the keys it changes.
func ParseEngine(data []byte) (Engine, error) {
	var e Engine
	if err := yaml.Unmarshal(defaultEngine, &e); err != nil {
		return Engine{}, fmt.Errorf("decoding built-in engine config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &e); err != nil {
			return Engine{}, fmt.Errorf("decoding engine config: %w", err)
		}
	}
	if err := e.Validate(); err != nil {
		return Engine{}, err
	}
	return e, nil
}

// LoadEngine reads an engine file. An empty path returns the defaults.
func LoadEngine(path string) (Engine, error) {
	if path == "" {
		return ParseEngine(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("reading engine file: %w", err)
	}
	return ParseEngine(data)
}

// Validate checks the values that have no safe fallback.
func (e Engine) Validate() error {
	if _, err := e.StrategyWeights(); err != nil {
		return err
	}
	if _, err := e.CongestionFactors(); err != nil {
		return err
	}
	if _, err := candidate.NewCircuityDistance(e.Distance.Circuity); err != nil {
		return err
	}
	if e.Live.MaxAge <= 0 {
		return fmt.Errorf("live.max_age must be positive, got %v", e.Live.MaxAge)
	}
	return nil
}

// StrategyWeights converts the weight map into a scoring table.
func (e Engine) StrategyWeights() (scoring.Table, error) {
	table := make(scoring.Table, len(e.Weights))
	for name, w := range e.Weights {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("weights: empty strategy name")
		}
		st, err := scoring.ParseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		table[st] = w
	}
	merged := scoring.DefaultTable().Merge(table)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// CongestionFactors converts the congestion map into generator factors.
func (e Engine) CongestionFactors() (map[livesignal.Congestion]float64, error) {
	out := make(map[livesignal.Congestion]float64, len(e.Congestion))
	for name, f := range e.Congestion {
		c := livesignal.ParseCongestion(name)
		if c == livesignal.CongestionUnknown {
			return nil, fmt.Errorf("congestion: unknown level %q", name)
		}
		if f < 0 {
			return nil, fmt.Errorf("congestion: factor for %s must not be negative", name)
		}
		out[c] = f
	}
	return out, nil
}

// ScoringConfig builds the scoring engine configuration.
func (e Engine) ScoringConfig() scoring.Config {
	table, _ := e.StrategyWeights()
	return scoring.Config{Weights: table, CrowdingPenalty: e.CrowdingPenalty}
}

// AggregatorConfig builds the live signal aggregator configuration.
func (e Engine) AggregatorConfig(logger zerolog.Logger) livesignal.Config {
	return livesignal.Config{
		MaxAge:           e.Live.MaxAge,
		StopRadiusKm:     e.Live.StopRadiusKm,
		CorridorRadiusKm: e.Live.CorridorRadiusKm,
		Logger:           logger,
	}
}

// GeneratorConfig builds the candidate generator configuration. stops is
// wired only when stop_access is on; road distances are left to the caller.
func (e Engine) GeneratorConfig(catalog *transit.Catalog, stops candidate.StopFinder, logger zerolog.Logger) candidate.Config {
	factors, _ := e.CongestionFactors()
	cfg := candidate.Config{
		Catalog:           catalog,
		LiveTimeout:       e.Live.LookupTimeout,
		DistanceTimeout:   e.Distance.Timeout,
		Concurrency:       e.Concurrency,
		CongestionFactors: factors,
		CircuityTiers:     e.Distance.Circuity,
		CorridorPoints:    e.Live.CorridorPoints,
		Logger:            logger,
	}
	if e.StopAccess {
		cfg.Stops = stops
	}
	return cfg
}

// FeedSource is one live feed to poll.
type FeedSource struct {
	Feed   string
	Format string
	URL    string
}

// Config holds process settings.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	OTLPEndpoint    string
	OTELEnabled     bool
	OTELSampleRatio float64

	TariffFile string
	StopsFile  string
	EngineFile string

	ORSAPIKey  string
	ORSBaseURL string

	NominatimURL       string
	NominatimUserAgent string

	PubSubProject      string
	PubSubTopic        string
	PubSubSubscription string

	FeedSources  []FeedSource
	PollInterval time.Duration

	RateLimitPerMinute int
	CORSOrigins        []string
	HistorySize        int
	HistoryTTL         time.Duration
}

// FromEnv reads process settings from environment variables.
func FromEnv() (Config, error) {
	pollInterval, err := time.ParseDuration(getEnvOrDefault("FEED_POLL_INTERVAL", "5s"))
	if err != nil {
		return Config{}, fmt.Errorf("FEED_POLL_INTERVAL: %w", err)
	}
	historyTTL, err := time.ParseDuration(getEnvOrDefault("HISTORY_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("HISTORY_TTL: %w", err)
	}
	sampleRatio, err := strconv.ParseFloat(getEnvOrDefault("OTEL_SAMPLE_RATIO", "1"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("OTEL_SAMPLE_RATIO: %w", err)
	}
	rateLimit, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT_PER_MINUTE", "120"))
	if err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", err)
	}
	historySize, err := strconv.Atoi(getEnvOrDefault("HISTORY_SIZE", "10000"))
	if err != nil {
		return Config{}, fmt.Errorf("HISTORY_SIZE: %w", err)
	}
	sources, err := ParseFeedSources(os.Getenv("FEED_SOURCES"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Env:                getEnvOrDefault("APP_ENV", "development"),
		Port:               getEnvOrDefault("APP_PORT", "8080"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		OTLPEndpoint:       getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELEnabled:        os.Getenv("OTEL_ENABLED") == "true",
		OTELSampleRatio:    sampleRatio,
		TariffFile:         os.Getenv("TARIFF_FILE"),
		StopsFile:          os.Getenv("STOPS_FILE"),
		EngineFile:         os.Getenv("ENGINE_FILE"),
		ORSAPIKey:          os.Getenv("ORS_API_KEY"),
		ORSBaseURL:         os.Getenv("ORS_BASE_URL"),
		NominatimURL:       os.Getenv("NOMINATIM_URL"),
		NominatimUserAgent: getEnvOrDefault("NOMINATIM_USER_AGENT", "wayforge/1.0"),
		PubSubProject:      os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubTopic:        getEnvOrDefault("PUBSUB_TOPIC", "live-signals"),
		PubSubSubscription: getEnvOrDefault("PUBSUB_SUBSCRIPTION", "live-signals-api"),
		FeedSources:        sources,
		PollInterval:       pollInterval,
		RateLimitPerMinute: rateLimit,
		CORSOrigins:        splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		HistorySize:        historySize,
		HistoryTTL:         historyTTL,
	}, nil
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseFeedSources parses a comma separated list of feed=format:url
// entries, e.g. "bus=gtfsrt:https://example.org/vehicles.pb".
func ParseFeedSources(s string) ([]FeedSource, error) {
	var out []FeedSource
	for _, entry := range splitList(s) {
		feed, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("FEED_SOURCES: %q is not feed=format:url", entry)
		}
		format, url, ok := strings.Cut(rest, ":")
		if !ok || url == "" {
			return nil, fmt.Errorf("FEED_SOURCES: %q is not feed=format:url", entry)
		}
		out = append(out, FeedSource{
			Feed:   strings.TrimSpace(feed),
			Format: strings.ToLower(strings.TrimSpace(format)),
			URL:    strings.TrimSpace(url),
		})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
