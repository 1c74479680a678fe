package easywebhook

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dawitel/easy-webhook/base62"
	"github.com/dawitel/easy-webhook/hasher"
	"github.com/dawitel/easy-webhook/ipfilter"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultAPIBaseURL         = "https://api.dibspayment.eu"
	DefaultTestAPIBaseURL     = "https://test.api.dibspayment.eu"
	DefaultMaxRequestBodySize = 1 * 1024 * 1024 // 1MB
	DefaultCacheTTL           = 24 * time.Hour
	DefaultClaimTTL           = 5 * time.Minute
	DefaultEnvironment        = string(ipfilter.EnvironmentLive)
	DefaultDenyUnmatched      = true

	// Circuit breaker defaults
	DefaultCircuitBreakerMaxRequests = 5
	DefaultCircuitBreakerInterval    = 60 * time.Second
	DefaultCircuitBreakerTimeout     = 30 * time.Second
	DefaultCircuitBreakerThreshold   = 0.7

	// Retry defaults
	DefaultRetryInitialDelay = 1 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultRetryMaxAttempts  = 3
	DefaultRetryMultiplier   = 2.0

	// HTTP client defaults
	DefaultHTTPTimeout = 30 * time.Second

	// Redis defaults
	DefaultRedisPoolSize     = 10
	DefaultRedisMinIdleConns = 5
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second

	// Memory cache defaults
	DefaultMemoryCacheMaxSize         = 10000
	DefaultMemoryCacheCleanupInterval = 1 * time.Hour
)

// Config represents the main configuration for the SDK
type Config struct {
	// SigningKey is the secret the authorization token is keyed with
	SigningKey string `yaml:"signingKey"`
	// Hasher names the keyed MAC, hmac-sha256 when empty
	Hasher string `yaml:"hasher"`
	// Alphabet is "default" or "inverted"
	Alphabet     string `yaml:"alphabet"`
	RequireNonce bool   `yaml:"requireNonce"`

	// Environment selects the provider's default IP ranges: "live" or "test"
	Environment           string `yaml:"environment"`
	WhitelistIPs          string `yaml:"whitelistIps"`
	BlacklistIPs          string `yaml:"blacklistIps"`
	DefaultDenyWebhook    bool   `yaml:"defaultDenyWebhook"`
	TrustForwardedHeaders bool   `yaml:"trustForwardedHeaders"`

	API APIConfig `yaml:"api"`

	Cache CacheConfig `yaml:"cache"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`

	Retry RetryConfig `yaml:"retry"`

	HTTPClient HTTPClientConfig `yaml:"httpClient"`

	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the outbound payment API
type APIConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	SecretKey string `yaml:"secretKey"`
}

// CacheConfig configures delivery deduplication
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Type       string        `yaml:"type"` // "redis" or "memory"
	Redis      RedisConfig   `yaml:"redis"`
	Memory     MemoryConfig  `yaml:"memory"`
	DefaultTTL time.Duration `yaml:"defaultTtl"`
	ClaimTTL   time.Duration `yaml:"claimTtl"` // in-flight hold on an event id
}

// RedisConfig configures Redis connection
type RedisConfig struct {
	Address       string        `yaml:"address"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"poolSize"`
	MinIdleConns  int           `yaml:"minIdleConns"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	EnableTLS     bool          `yaml:"enableTls"`
	TLSSkipVerify bool          `yaml:"tlsSkipVerify"`
	TLSConfig     *tls.Config   `yaml:"-"`
	KeyPrefix     string        `yaml:"keyPrefix"`
}

// MemoryConfig configures in-memory cache
type MemoryConfig struct {
	MaxSize         int           `yaml:"maxSize"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	EnableLRU       bool          `yaml:"enableLru"`
}

// CircuitBreakerConfig configures circuit breaker
type CircuitBreakerConfig struct {
	MaxRequests int           `yaml:"maxRequests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	Threshold   float64       `yaml:"threshold"` // Failure ratio threshold (0.0-1.0)
}

// RetryConfig configures retry strategy
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	Multiplier   float64       `yaml:"multiplier"`
}

// HTTPClientConfig configures HTTP client
type HTTPClientConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxRequestBodySize int64         `yaml:"maxRequestBodySize"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "console"
}

// ConfigBuilder provides a fluent interface for building Config
type ConfigBuilder struct {
	config *Config
}

func defaultConfig() *Config {
	return &Config{
		Hasher:             string(hasher.DefaultAlgorithm),
		Alphabet:           "default",
		Environment:        DefaultEnvironment,
		DefaultDenyWebhook: DefaultDenyUnmatched,
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Type:       "memory",
			DefaultTTL: DefaultCacheTTL,
			ClaimTTL:   DefaultClaimTTL,
			Redis: RedisConfig{
				PoolSize:     DefaultRedisPoolSize,
				MinIdleConns: DefaultRedisMinIdleConns,
				DialTimeout:  DefaultRedisDialTimeout,
				ReadTimeout:  DefaultRedisReadTimeout,
				WriteTimeout: DefaultRedisWriteTimeout,
			},
			Memory: MemoryConfig{
				MaxSize:         DefaultMemoryCacheMaxSize,
				CleanupInterval: DefaultMemoryCacheCleanupInterval,
				EnableLRU:       false,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: DefaultCircuitBreakerMaxRequests,
			Interval:    DefaultCircuitBreakerInterval,
			Timeout:     DefaultCircuitBreakerTimeout,
			Threshold:   DefaultCircuitBreakerThreshold,
		},
		Retry: RetryConfig{
			InitialDelay: DefaultRetryInitialDelay,
			MaxDelay:     DefaultRetryMaxDelay,
			MaxAttempts:  DefaultRetryMaxAttempts,
			Multiplier:   DefaultRetryMultiplier,
		},
		HTTPClient: HTTPClientConfig{
			Timeout:            DefaultHTTPTimeout,
			MaxRequestBodySize: DefaultMaxRequestBodySize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig creates a new ConfigBuilder with live-environment defaults
func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{config: defaultConfig()}
}

// NewTestConfig creates a new ConfigBuilder with test-environment defaults
func NewTestConfig() *ConfigBuilder {
	builder := NewConfig()
	builder.config.Environment = string(ipfilter.EnvironmentTest)
	builder.config.API.BaseURL = DefaultTestAPIBaseURL
	return builder
}

// LoadConfig reads a YAML file on top of the defaults and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of the defaults and validates it
func ParseConfig(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithSigningKey sets the authorization signing key
func (b *ConfigBuilder) WithSigningKey(key string) *ConfigBuilder {
	b.config.SigningKey = key
	return b
}

// WithHasher sets the keyed MAC algorithm
func (b *ConfigBuilder) WithHasher(algorithm hasher.Algorithm) *ConfigBuilder {
	b.config.Hasher = string(algorithm)
	return b
}

// WithAlphabet sets the base62 alphabet name
func (b *ConfigBuilder) WithAlphabet(name string) *ConfigBuilder {
	b.config.Alphabet = name
	return b
}

// WithRequiredNonce makes the nonce mandatory on every callback
func (b *ConfigBuilder) WithRequiredNonce(required bool) *ConfigBuilder {
	b.config.RequireNonce = required
	return b
}

// WithIPRules sets the semicolon-delimited allow and deny lists
func (b *ConfigBuilder) WithIPRules(whitelist, blacklist string) *ConfigBuilder {
	b.config.WhitelistIPs = whitelist
	b.config.BlacklistIPs = blacklist
	return b
}

// WithDefaultDeny rejects callbacks from addresses no rule matches
func (b *ConfigBuilder) WithDefaultDeny(deny bool) *ConfigBuilder {
	b.config.DefaultDenyWebhook = deny
	return b
}

// WithTrustForwardedHeaders honours X-Real-IP and X-Forwarded-For
func (b *ConfigBuilder) WithTrustForwardedHeaders(trust bool) *ConfigBuilder {
	b.config.TrustForwardedHeaders = trust
	return b
}

// WithAPI sets the outbound payment API configuration
func (b *ConfigBuilder) WithAPI(api APIConfig) *ConfigBuilder {
	b.config.API = api
	return b
}

// WithCache sets the cache configuration
func (b *ConfigBuilder) WithCache(cache CacheConfig) *ConfigBuilder {
	b.config.Cache = cache
	return b
}

// WithCircuitBreaker sets the circuit breaker configuration
func (b *ConfigBuilder) WithCircuitBreaker(cb CircuitBreakerConfig) *ConfigBuilder {
	b.config.CircuitBreaker = cb
	return b
}

// WithRetry sets the retry configuration
func (b *ConfigBuilder) WithRetry(retry RetryConfig) *ConfigBuilder {
	b.config.Retry = retry
	return b
}

// WithHTTPClient sets the HTTP client configuration
func (b *ConfigBuilder) WithHTTPClient(hc HTTPClientConfig) *ConfigBuilder {
	b.config.HTTPClient = hc
	return b
}

// WithLogging sets the logging configuration
func (b *ConfigBuilder) WithLogging(logging LoggingConfig) *ConfigBuilder {
	b.config.Logging = logging
	return b
}

// Build validates and returns the Config
func (b *ConfigBuilder) Build() (*Config, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	return b.config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SigningKey == "" {
		return errors.New("SigningKey is required")
	}

	if _, err := hasher.Parse(c.Hasher); err != nil {
		return fmt.Errorf("invalid hasher: %w", err)
	}

	if _, err := base62.AlphabetByName(c.Alphabet); err != nil {
		return err
	}

	switch ipfilter.Environment(c.Environment) {
	case ipfilter.EnvironmentLive, ipfilter.EnvironmentTest:
	default:
		return fmt.Errorf("invalid environment: %s (must be 'live' or 'test')", c.Environment)
	}

	if c.Cache.Enabled {
		if c.Cache.Type != "redis" && c.Cache.Type != "memory" {
			return fmt.Errorf("invalid cache type: %s (must be 'redis' or 'memory')", c.Cache.Type)
		}

		if c.Cache.Type == "redis" {
			if c.Cache.Redis.Address == "" {
				return errors.New("Redis address is required when using Redis cache")
			}
		}
	}

	if c.CircuitBreaker.Threshold < 0 || c.CircuitBreaker.Threshold > 1 {
		return errors.New("circuit breaker threshold must be between 0 and 1")
	}

	if c.Retry.Multiplier <= 0 {
		return errors.New("retry multiplier must be greater than 0")
	}

	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry max attempts must be greater than 0")
	}

	if c.HTTPClient.MaxRequestBodySize <= 0 {
		return errors.New("max request body size must be greater than 0")
	}

	return nil
}
