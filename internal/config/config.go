package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the api, monitor and failoverctl binaries.
// All values must come from env (or a .env file loaded by the binary).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Platform VoicePlatformConfig
	Monitor  MonitorConfig
	Failover FailoverConfig
	Notify   NotifyConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is where the telephony provider reaches our webhooks.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	APIBaseURL    string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

type VoicePlatformConfig struct {
	BaseURL   string
	APIKey    string
	SIPDomain string
	Timeout   time.Duration
}

type MonitorConfig struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	Concurrency   int
	LockTTL       time.Duration
	// MetricsAddr is the listen address of the monitor's /metrics endpoint.
	MetricsAddr string
}

type FailoverConfig struct {
	PollInterval time.Duration
	Window       time.Duration
	CallTimeout  time.Duration
	// VerifyWait bounds how long an operator action waits for a fleet run already in progress.
	VerifyWait time.Duration
}

type NotifyConfig struct {
	// RedisChannel enables pub/sub notifications when set.
	RedisChannel string
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
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL"))

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
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	c.Twilio.Timeout = mustDuration("TWILIO_TIMEOUT")
	{
		n, err := optionalInt("TWILIO_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Twilio.Burst = n
	}
	if v := strings.TrimSpace(os.Getenv("TWILIO_RATE_PER_SECOND")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("TWILIO_RATE_PER_SECOND must be a number, got %q", v))
		}
		c.Twilio.RatePerSecond = f
	}

	c.Platform.BaseURL = strings.TrimSpace(os.Getenv("VOICE_PLATFORM_BASE_URL"))
	c.Platform.APIKey = os.Getenv("VOICE_PLATFORM_API_KEY")
	c.Platform.SIPDomain = strings.TrimSpace(os.Getenv("VOICE_PLATFORM_SIP_DOMAIN"))
	c.Platform.Timeout = mustDuration("VOICE_PLATFORM_TIMEOUT")

	c.Monitor.CheckInterval = mustDuration("MONITOR_CHECK_INTERVAL")
	c.Monitor.ProbeTimeout = mustDuration("MONITOR_PROBE_TIMEOUT")
	c.Monitor.LockTTL = mustDuration("MONITOR_LOCK_TTL")
	c.Monitor.MetricsAddr = strings.TrimSpace(os.Getenv("MONITOR_METRICS_ADDR"))
	{
		n, err := optionalInt("MONITOR_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Monitor.Concurrency = n
	}

	c.Failover.PollInterval = mustDuration("FAILOVER_POLL_INTERVAL")
	c.Failover.Window = mustDuration("FAILOVER_WINDOW")
	c.Failover.CallTimeout = mustDuration("FAILOVER_CALL_TIMEOUT")
	c.Failover.VerifyWait = mustDuration("FAILOVER_VERIFY_WAIT")

	c.Notify.RedisChannel = strings.TrimSpace(os.Getenv("NOTIFY_REDIS_CHANNEL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills in defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required"))
	} else if !isAbsoluteURL(c.App.PublicBaseURL) {
		errs = append(errs, fmt.Errorf("APP_PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.App.PublicBaseURL))
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
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
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
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
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
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Operator tokens cover one shift.
		c.Auth.AccessTokenTTL = 8 * time.Hour
	}

	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	} else if !isAbsoluteURL(c.Twilio.APIBaseURL) {
		errs = append(errs, fmt.Errorf("TWILIO_API_BASE_URL must be an absolute http(s) URL, got %q", c.Twilio.APIBaseURL))
	}
	if c.Twilio.RatePerSecond < 0 {
		errs = append(errs, errors.New("TWILIO_RATE_PER_SECOND must be >= 0"))
	}

	if c.Platform.BaseURL == "" {
		errs = append(errs, errors.New("VOICE_PLATFORM_BASE_URL is required"))
	} else if !isAbsoluteURL(c.Platform.BaseURL) {
		errs = append(errs, fmt.Errorf("VOICE_PLATFORM_BASE_URL must be an absolute http(s) URL, got %q", c.Platform.BaseURL))
	}
	if c.Platform.APIKey == "" {
		errs = append(errs, errors.New("VOICE_PLATFORM_API_KEY is required"))
	}
	if c.Platform.SIPDomain == "" {
		errs = append(errs, errors.New("VOICE_PLATFORM_SIP_DOMAIN is required"))
	}

	if c.Monitor.CheckInterval <= 0 {
		c.Monitor.CheckInterval = 5 * time.Minute
	}
	if c.Monitor.ProbeTimeout <= 0 {
		c.Monitor.ProbeTimeout = 10 * time.Second
	}
	if c.Monitor.Concurrency <= 0 {
		c.Monitor.Concurrency = 8
	}
	if c.Monitor.LockTTL <= 0 {
		c.Monitor.LockTTL = 2 * time.Minute
	}
	if c.Monitor.MetricsAddr == "" {
		c.Monitor.MetricsAddr = ":9102"
	}

	if c.Failover.PollInterval <= 0 {
		c.Failover.PollInterval = 30 * time.Second
	}
	if c.Failover.Window <= 0 {
		c.Failover.Window = 10 * time.Minute
	}
	if c.Failover.CallTimeout <= 0 {
		c.Failover.CallTimeout = 15 * time.Second
	}
	if c.Failover.VerifyWait <= 0 {
		c.Failover.VerifyWait = 90 * time.Second
	}
	if c.Failover.PollInterval >= c.Failover.Window {
		errs = append(errs, errors.New("FAILOVER_POLL_INTERVAL must be shorter than FAILOVER_WINDOW"))
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

// PostgresURL is the URL form of the DSN, used by migrations.
func (c Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: url.Values{"sslmode": []string{c.DB.SSLMode}}.Encode(),
	}
	return u.String()
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
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

func isAbsoluteURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
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
