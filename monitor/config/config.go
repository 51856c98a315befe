package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "API_MONITOR_"

const (
	StoreBackendFile   = "file"
	StoreBackendBadger = "badger"
)

// Config is the monitor's configuration surface.
//
// Values are layered: defaults, then the config file (YAML or TOML, picked by extension),
// then API_MONITOR_* environment variables. A missing config file is not an error.
type Config struct {
	// AppName identifies the reporting application in every report.
	AppName string `yaml:"app_name" toml:"app_name" validate:"required"`
	// WebhookURL is the sink endpoint. Empty disables webhook delivery.
	WebhookURL string `yaml:"webhook_url" toml:"webhook_url" validate:"omitempty,url"`
	// EnableInDevMode allows reporting while DevMode is set.
	EnableInDevMode bool `yaml:"enable_in_dev_mode" toml:"enable_in_dev_mode"`
	// EnableLocalStorage persists every report before delivery.
	EnableLocalStorage bool `yaml:"enable_local_storage" toml:"enable_local_storage"`
	// StorageDir overrides the default report directory.
	StorageDir   string `yaml:"storage_dir" toml:"storage_dir"`
	StoreBackend string `yaml:"store_backend" toml:"store_backend" validate:"oneof=file badger"`

	MaxRetries int           `yaml:"max_retries" toml:"max_retries" validate:"gte=1"`
	RetryDelay time.Duration `yaml:"retry_delay" toml:"retry_delay" validate:"gte=0"`

	// Enabled is the master switch.
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// DevMode marks a development run. It gates reporting and enables the source-line lookup.
	DevMode             bool `yaml:"dev_mode" toml:"dev_mode"`
	FilterNetworkErrors bool `yaml:"filter_network_errors" toml:"filter_network_errors"`

	SourceSearchRoots   []string      `yaml:"source_search_roots" toml:"source_search_roots"`
	SourceLookupTimeout time.Duration `yaml:"source_lookup_timeout" toml:"source_lookup_timeout" validate:"gte=0"`

	SentryDSN            string `yaml:"sentry_dsn" toml:"sentry_dsn"`
	WebhookRatePerMinute int    `yaml:"webhook_rate_per_minute" toml:"webhook_rate_per_minute" validate:"gte=0"`

	Debug      bool   `yaml:"debug" toml:"debug"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr" validate:"required"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		EnableLocalStorage:   true,
		StoreBackend:         StoreBackendFile,
		MaxRetries:           3,
		RetryDelay:           5 * time.Second,
		Enabled:              true,
		FilterNetworkErrors:  true,
		SourceLookupTimeout:  2 * time.Second,
		WebhookRatePerMinute: 30,
		ListenAddr:           ":8089",
	}
}

// Load reads and validates the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read layers defaults, the file at path and the environment without validating.
func Read(path string) (Config, error) {
	cfg := Default()
	if err := readFile(path, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type: %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.AppName = envString("APP_NAME", cfg.AppName)
	cfg.WebhookURL = envString("WEBHOOK_URL", cfg.WebhookURL)
	cfg.EnableInDevMode = envBool("ENABLE_IN_DEV", cfg.EnableInDevMode)
	cfg.EnableLocalStorage = envBool("LOCAL_STORAGE", cfg.EnableLocalStorage)
	cfg.StorageDir = envString("STORAGE_DIR", cfg.StorageDir)
	cfg.StoreBackend = envString("STORE_BACKEND", cfg.StoreBackend)
	cfg.MaxRetries = envInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryDelay = envDuration("RETRY_DELAY", cfg.RetryDelay)
	cfg.Enabled = envBool("ENABLED", cfg.Enabled)
	cfg.DevMode = envBool("DEV_MODE", cfg.DevMode)
	cfg.FilterNetworkErrors = envBool("FILTER_NETWORK", cfg.FilterNetworkErrors)
	cfg.SourceSearchRoots = envList("SOURCE_ROOTS", cfg.SourceSearchRoots)
	cfg.SentryDSN = envString("SENTRY_DSN", cfg.SentryDSN)
	cfg.WebhookRatePerMinute = envInt("WEBHOOK_RATE", cfg.WebhookRatePerMinute)
	cfg.Debug = envBool("DEBUG", cfg.Debug)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)
}

// Validate checks the validate tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ReportingActive reports whether captures should produce reports at all.
func (c Config) ReportingActive() bool {
	if !c.Enabled {
		return false
	}
	return !c.DevMode || c.EnableInDevMode
}

func envString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

// envBool reads a boolean environment variable, keeping defaultVal when unset or malformed.
func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func envInt(key string, defaultVal int) int {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// envDuration accepts Go durations ("5s") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

// envList reads a comma-separated environment variable. Empty items are dropped.
func envList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Loader returns the configuration a command runs with.
type Loader func() (Config, error)
