package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Aggregator AggregatorConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type AggregatorConfig struct {
	BaseURL           string
	ClientID          string
	Secret            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	PageSize          int
	SignConvention    string
}

type SyncConfig struct {
	Concurrency     int
	MaxPagesPerPass int
	// CredentialCacheTTL is how long decrypted credentials stay in memory. 0 disables the cache.
	CredentialCacheTTL time.Duration
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	RunOnStartup  bool
	PassTimeout   time.Duration
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	loadDotEnv()

	db, err := loadDatabase()
	if err != nil {
		return nil, err
	}

	var errs []error
	intEnv := func(key string, def int) int {
		v, err := getIntEnv(key, def)
		errs = append(errs, err)
		return v
	}
	durationEnv := func(key string, def time.Duration) time.Duration {
		v, err := getDurationEnv(key, def)
		errs = append(errs, err)
		return v
	}

	rps, err := strconv.ParseFloat(getEnv("AGGREGATOR_REQUESTS_PER_SECOND", "10"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid AGGREGATOR_REQUESTS_PER_SECOND: %w", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "")),
		},
		Database: *db,
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Aggregator: AggregatorConfig{
			BaseURL:           getEnv("AGGREGATOR_BASE_URL", "https://sandbox.plaid.com"),
			ClientID:          getEnv("AGGREGATOR_CLIENT_ID", ""),
			Secret:            getEnv("AGGREGATOR_SECRET", ""),
			Timeout:           durationEnv("AGGREGATOR_TIMEOUT", 30*time.Second),
			RequestsPerSecond: rps,
			Burst:             intEnv("AGGREGATOR_BURST", 5),
			PageSize:          intEnv("AGGREGATOR_PAGE_SIZE", 500),
			SignConvention:    getEnv("AGGREGATOR_SIGN_CONVENTION", "outflow_positive"),
		},
		Sync: SyncConfig{
			Concurrency:        intEnv("SYNC_CONCURRENCY", 4),
			MaxPagesPerPass:    intEnv("SYNC_MAX_PAGES_PER_PASS", 500),
			CredentialCacheTTL: durationEnv("SYNC_CREDENTIAL_CACHE_TTL", 5*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: splitList(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00")),
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			PassTimeout:   durationEnv("SCHEDULER_PASS_TIMEOUT", time.Hour),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finsync"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the database settings, for tools that need nothing else.
func LoadDatabase() (*DatabaseConfig, error) {
	loadDotEnv()
	return loadDatabase()
}

func loadDotEnv() {
	// A missing file is the normal case in deployed environments.
	_ = godotenv.Load()
}

func loadDatabase() (*DatabaseConfig, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	return &DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     dbPort,
		User:     getEnv("DB_USER", "finsync"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "finsync"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Encryption.Key == "" {
		return errors.New("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return errors.New("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if c.Aggregator.ClientID == "" || c.Aggregator.Secret == "" {
		return errors.New("AGGREGATOR_CLIENT_ID and AGGREGATOR_SECRET are required")
	}
	if c.Aggregator.Timeout <= 0 {
		return errors.New("AGGREGATOR_TIMEOUT must be positive")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("SYNC_CONCURRENCY must be at least 1")
	}
	if c.Sync.MaxPagesPerPass < 1 {
		return errors.New("SYNC_MAX_PAGES_PER_PASS must be at least 1")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return errors.New("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return errors.New("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL is the connection string in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
