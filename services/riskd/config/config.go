package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fluxrisk/observability/logging"
)

const (
	defaultListen          = ":8470"
	defaultParamsPath      = "riskd.toml"
	defaultDataDir         = "data/riskd"
	defaultAuditDriver     = "sqlite"
	defaultAuditDSN        = "file:riskd-audit.db"
	defaultSwapTimeout     = 15 * time.Second
	defaultRequestsPerMin  = 120
	defaultBurst           = 20
	defaultEventHistory    = 1024
	defaultShutdownTimeout = 5 * time.Second
)

// Config captures the runtime settings for the risk daemon. Engine
// parameters live in the TOML file referenced by ParamsPath.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	ParamsPath    string          `yaml:"params"`
	DataDir       string          `yaml:"data_dir"`
	Pauses        []string        `yaml:"pauses"`
	EventHistory  int             `yaml:"event_history"`
	Shutdown      time.Duration   `yaml:"shutdown_timeout"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Audit         AuditConfig     `yaml:"audit"`
	Swap          SwapConfig      `yaml:"swap"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Logging       logging.Options `yaml:"logging"`
}

// TLSConfig describes the certificate served by the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification for admin routes.
type AuthConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scope_claim"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request throughput.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AuditConfig selects the database holding the event journal.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SwapConfig points at the JSON-RPC swap router used by liquidations.
type SwapConfig struct {
	URL      string        `yaml:"url"`
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OracleConfig seeds the in-process price feed.
type OracleConfig struct {
	Prices map[string]PriceConfig `yaml:"prices"`
}

// PriceConfig is a static quote loaded at startup.
type PriceConfig struct {
	Price    uint64 `yaml:"price"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PausedModules returns the configured pause set keyed by module name.
func (cfg Config) PausedModules() map[string]bool {
	out := make(map[string]bool, len(cfg.Pauses))
	for _, module := range cfg.Pauses {
		out[module] = true
	}
	return out
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = defaultParamsPath
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	pauses := make([]string, 0, len(cfg.Pauses))
	for _, module := range cfg.Pauses {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			pauses = append(pauses, trimmed)
		}
	}
	cfg.Pauses = pauses
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = defaultEventHistory
	}
	if cfg.Shutdown <= 0 {
		cfg.Shutdown = defaultShutdownTimeout
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Auth.ScopeClaim = strings.TrimSpace(cfg.Auth.ScopeClaim)
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRequestsPerMin
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	cfg.Audit.Driver = strings.ToLower(strings.TrimSpace(cfg.Audit.Driver))
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = defaultAuditDriver
	}
	cfg.Audit.DSN = strings.TrimSpace(cfg.Audit.DSN)
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == defaultAuditDriver {
		cfg.Audit.DSN = defaultAuditDSN
	}

	cfg.Swap.URL = strings.TrimSpace(cfg.Swap.URL)
	cfg.Swap.Provider = strings.TrimSpace(cfg.Swap.Provider)
	if cfg.Swap.Timeout <= 0 {
		cfg.Swap.Timeout = defaultSwapTimeout
	}

	prices := make(map[string]PriceConfig, len(cfg.Oracle.Prices))
	for asset, quote := range cfg.Oracle.Prices {
		if trimmed := strings.ToUpper(strings.TrimSpace(asset)); trimmed != "" {
			prices[trimmed] = quote
		}
	}
	cfg.Oracle.Prices = prices
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required")
	}
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit: unsupported driver %q", cfg.Audit.Driver)
	}
	if cfg.Audit.DSN == "" {
		return fmt.Errorf("audit: dsn is required for driver %s", cfg.Audit.Driver)
	}
	if cfg.Swap.URL == "" {
		return fmt.Errorf("swap: url is required")
	}
	for asset, quote := range cfg.Oracle.Prices {
		if quote.Price == 0 {
			return fmt.Errorf("oracle: price for %s must be positive", asset)
		}
		if quote.Decimals > 18 {
			return fmt.Errorf("oracle: decimals for %s exceed 18", asset)
		}
	}
	return nil
}
