package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Backend drivers.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
	DriverKafka    = "kafka"
	DriverNone     = "none"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	FetchTimeout    time.Duration
	SessionTTL      time.Duration
	CityCenter      orb.Point

	// Backend data service.
	BackendDriver   string
	SupabaseURL     string
	SupabaseAnonKey string
	DatabaseURL     string
	FixturesDir     string

	// Realtime change feed.
	RealtimeDriver    string
	KafkaBrokers      []string
	KafkaChangesTopic string
	KafkaGroupID      string

	// Mapbox geocoding and traffic tiles.
	MapboxToken         string
	MapboxEnabled       bool
	MapboxTimeout       time.Duration
	MapboxCacheSize     int
	MapboxRateLimit     float64
	TrafficTilesEnabled bool

	OpenChargeMapKey        string
	OpenChargeMapCountry    string
	OpenChargeMapMaxResults int

	ChatWebhookURL      string
	CommunityWebhookURL string
	RelayTimeout        time.Duration
}

// LoadEnvFiles reads .env.local and .env from the working directory when
// present. Variables already set in the environment are not overwritten,
// and .env.local takes precedence over .env.
func LoadEnvFiles() error {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return errors.New("invalid " + name + ": " + err.Error())
		}
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "12s")
	if err != nil {
		return nil, err
	}
	sessionTTL, err := parseDuration("SESSION_TTL", "30m")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	relayTimeout, err := parseDuration("RELAY_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	center, err := parseCenter(sharedcfg.EnvOrDefault("CITY_CENTER", "80.2785,13.06"))
	if err != nil {
		return nil, err
	}
	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("MAPBOX_RATE_LIMIT", "10"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid MAPBOX_RATE_LIMIT")
	}
	ocmMax, err := strconv.Atoi(sharedcfg.EnvOrDefault("OPENCHARGEMAP_MAX_RESULTS", "100"))
	if err != nil || ocmMax <= 0 {
		return nil, errors.New("invalid OPENCHARGEMAP_MAX_RESULTS")
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	backendDriver := strings.ToLower(sharedcfg.EnvOrDefault("BACKEND_DRIVER", DriverSupabase))
	realtimeDefault := backendDriver
	if backendDriver == DriverDuckDB {
		realtimeDefault = DriverNone
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		FetchTimeout:    fetchTimeout,
		SessionTTL:      sessionTTL,
		CityCenter:      center,

		BackendDriver:   backendDriver,
		SupabaseURL:     strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey: os.Getenv("SUPABASE_ANON_KEY"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		FixturesDir:     os.Getenv("FIXTURES_DIR"),

		RealtimeDriver:    strings.ToLower(sharedcfg.EnvOrDefault("REALTIME_DRIVER", realtimeDefault)),
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaChangesTopic: sharedcfg.EnvOrDefault("KAFKA_CHANGES_TOPIC", "citypulse-changes"),
		KafkaGroupID:      sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "citypulse"),

		MapboxToken:         mapboxToken,
		MapboxEnabled:       mapboxEnabled,
		MapboxTimeout:       mapboxTimeout,
		MapboxCacheSize:     parseMapboxCacheSize(),
		MapboxRateLimit:     rateLimit,
		TrafficTilesEnabled: os.Getenv("TRAFFIC_TILES_ENABLED") == "true",

		OpenChargeMapKey:        os.Getenv("OPENCHARGEMAP_KEY"),
		OpenChargeMapCountry:    sharedcfg.EnvOrDefault("OPENCHARGEMAP_COUNTRY", "IN"),
		OpenChargeMapMaxResults: ocmMax,

		ChatWebhookURL:      os.Getenv("CHAT_WEBHOOK_URL"),
		CommunityWebhookURL: os.Getenv("COMMUNITY_WEBHOOK_URL"),
		RelayTimeout:        relayTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.BackendDriver {
	case DriverSupabase:
		if c.SupabaseURL == "" {
			return errors.New("SUPABASE_URL is required")
		}
		if c.SupabaseAnonKey == "" {
			return errors.New("SUPABASE_ANON_KEY is required")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case DriverDuckDB:
		if c.FixturesDir == "" {
			return errors.New("FIXTURES_DIR is required")
		}
	default:
		return errors.New("invalid BACKEND_DRIVER")
	}

	switch c.RealtimeDriver {
	case DriverSupabase:
		if c.BackendDriver != DriverSupabase {
			return errors.New("REALTIME_DRIVER supabase requires BACKEND_DRIVER supabase")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaChangesTopic == "" {
			return errors.New("KAFKA_CHANGES_TOPIC is required")
		}
	case DriverNone:
	default:
		return errors.New("invalid REALTIME_DRIVER")
	}

	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if c.TrafficTilesEnabled && !c.MapboxEnabled {
		return errors.New("TRAFFIC_TILES_ENABLED requires MAPBOX_TOKEN")
	}
	return nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

// parseCenter reads a "lon,lat" pair.
func parseCenter(s string) (orb.Point, error) {
	lonStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return orb.Point{}, errors.New("invalid CITY_CENTER")
	}
	lon, err1 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	lat, err2 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err1 != nil || err2 != nil || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return orb.Point{}, errors.New("invalid CITY_CENTER")
	}
	return orb.Point{lon, lat}, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
