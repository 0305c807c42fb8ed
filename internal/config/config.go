package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Dialer DialerConfig
	Bolna  BolnaConfig
	Tata   TataConfig
	Cache  CacheConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// DialerConfig tunes batch dispatch.
type DialerConfig struct {
	// ConcurrencyCap bounds simultaneously active calls.
	ConcurrencyCap int
	// BatchSize bounds successful dispatches per trigger invocation.
	BatchSize int
	// CallTimeout bounds one provider dispatch attempt.
	CallTimeout time.Duration
	// DispatchDelay spaces consecutive dispatches.
	DispatchDelay time.Duration
	// DefaultProvider names the adapter used when a request does not
	// pick one.
	DefaultProvider string
	// TriggerSecret authorizes POST /v1/dialer/process.
	TriggerSecret string
}

// BolnaConfig configures the voice-AI provider adapter.
type BolnaConfig struct {
	ServerURL    string
	APIKey       string
	WebhookURL   string
	AgentName    string
	SystemPrompt string
	FirstMessage string
	Language     string
	LLMProvider  string
	LLMModel     string
	Carrier      string
}

// TataConfig configures the PBX click-to-call adapter.
type TataConfig struct {
	APIURL        string
	APIKey        string
	VirtualNumber string
	AgentNumber   string
	WebhookURL    string
}

type CacheConfig struct {
	// StatsTTL bounds staleness of the cached dashboard aggregate.
	StatsTTL time.Duration
	// Capacity bounds cache entries before insertion-order eviction.
	Capacity int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL", 15*time.Minute)
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL", 30*24*time.Hour)

	c.Dialer.ConcurrencyCap = optInt("DIALER_CONCURRENCY_CAP", 3)
	c.Dialer.BatchSize = optInt("DIALER_BATCH_SIZE", 10)
	c.Dialer.CallTimeout = optDuration("DIALER_CALL_TIMEOUT", 30*time.Second)
	c.Dialer.DispatchDelay = optDuration("DIALER_DISPATCH_DELAY", 0)
	c.Dialer.DefaultProvider = strings.TrimSpace(os.Getenv("DIALER_DEFAULT_PROVIDER"))
	c.Dialer.TriggerSecret = os.Getenv("DIALER_TRIGGER_SECRET")

	c.Bolna.ServerURL = strings.TrimSpace(os.Getenv("BOLNA_SERVER_URL"))
	c.Bolna.APIKey = os.Getenv("BOLNA_API_KEY")
	c.Bolna.WebhookURL = strings.TrimSpace(os.Getenv("BOLNA_WEBHOOK_URL"))
	c.Bolna.AgentName = strings.TrimSpace(os.Getenv("BOLNA_AGENT_NAME"))
	c.Bolna.SystemPrompt = os.Getenv("BOLNA_SYSTEM_PROMPT")
	c.Bolna.FirstMessage = os.Getenv("BOLNA_FIRST_MESSAGE")
	c.Bolna.Language = strings.TrimSpace(os.Getenv("BOLNA_LANGUAGE"))
	c.Bolna.LLMProvider = strings.TrimSpace(os.Getenv("BOLNA_LLM_PROVIDER"))
	c.Bolna.LLMModel = strings.TrimSpace(os.Getenv("BOLNA_LLM_MODEL"))
	c.Bolna.Carrier = strings.TrimSpace(os.Getenv("BOLNA_CARRIER"))

	c.Tata.APIURL = strings.TrimSpace(os.Getenv("TATA_API_URL"))
	c.Tata.APIKey = os.Getenv("TATA_API_KEY")
	c.Tata.VirtualNumber = strings.TrimSpace(os.Getenv("TATA_VIRTUAL_NUMBER"))
	c.Tata.AgentNumber = strings.TrimSpace(os.Getenv("TATA_AGENT_NUMBER"))
	c.Tata.WebhookURL = strings.TrimSpace(os.Getenv("TATA_WEBHOOK_URL"))

	c.Cache.StatsTTL = optDuration("STATS_CACHE_TTL", 10*time.Second)
	c.Cache.Capacity = optInt("STATS_CACHE_CAPACITY", 1000)

	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" && c.IsProduction() {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Dialer.TriggerSecret == "" {
			errs = append(errs, errors.New("DIALER_TRIGGER_SECRET is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Dialer.ConcurrencyCap <= 0 {
		errs = append(errs, fmt.Errorf("DIALER_CONCURRENCY_CAP must be positive, got %d", c.Dialer.ConcurrencyCap))
	}
	if c.Dialer.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("DIALER_BATCH_SIZE must be positive, got %d", c.Dialer.BatchSize))
	}
	if c.Dialer.CallTimeout <= 0 {
		errs = append(errs, errors.New("DIALER_CALL_TIMEOUT must be positive"))
	}
	if c.Dialer.DefaultProvider != "" && !isKnownProvider(c.Dialer.DefaultProvider) {
		errs = append(errs, fmt.Errorf("DIALER_DEFAULT_PROVIDER must be one of bolna, tata, got %q", c.Dialer.DefaultProvider))
	}

	if c.Cache.StatsTTL <= 0 {
		errs = append(errs, errors.New("STATS_CACHE_TTL must be positive"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("STATS_CACHE_CAPACITY must be positive, got %d", c.Cache.Capacity))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isKnownProvider(v string) bool {
	switch v {
	case "bolna", "tata":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
