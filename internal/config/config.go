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
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	Dashboard DashboardConfig
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

	// SSLMode is kept explicit for hosted-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
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

// TelephonyConfig selects the active call-control vendor and carries its credentials.
// The active vendor is a deployment-time choice; per-request "mock" is the only
// runtime override and never reaches a network.
type TelephonyConfig struct {
	// ActiveProvider is one of: telnyx, twilio, signalwire, mock.
	ActiveProvider string

	// WebhookBaseURL is the public base URL vendors call back with lifecycle events.
	WebhookBaseURL string

	// RecordCalls enables recording on outbound legs by default.
	RecordCalls bool

	Telnyx     TelnyxConfig
	Twilio     TwilioConfig
	SignalWire SignalWireConfig
}

type TelnyxConfig struct {
	APIKey       string
	ConnectionID string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

type SignalWireConfig struct {
	ProjectID string
	AuthToken string
	Space     string
}

// DashboardConfig tunes the call-board reconciliation loops.
type DashboardConfig struct {
	// PollInterval is the fallback reconcile cadence.
	PollInterval time.Duration
	// StaleThreshold is how long the notification channel may stay silent before
	// the watchdog forces a full reload.
	StaleThreshold time.Duration
	// TickInterval drives live duration recomputation on active calls.
	TickInterval time.Duration
	// ConcurrentCallLimit caps simultaneous outbound calls per organization.
	ConcurrentCallLimit int
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
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Telephony.ActiveProvider = strings.ToLower(strings.TrimSpace(os.Getenv("TELEPHONY_PROVIDER")))
	c.Telephony.WebhookBaseURL = strings.TrimSpace(os.Getenv("TELEPHONY_WEBHOOK_BASE_URL"))
	c.Telephony.RecordCalls = boolEnv("TELEPHONY_RECORD_CALLS")
	c.Telephony.Telnyx.APIKey = os.Getenv("TELNYX_API_KEY")
	c.Telephony.Telnyx.ConnectionID = strings.TrimSpace(os.Getenv("TELNYX_CONNECTION_ID"))
	c.Telephony.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Telephony.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Telephony.SignalWire.ProjectID = strings.TrimSpace(os.Getenv("SIGNALWIRE_PROJECT_ID"))
	c.Telephony.SignalWire.AuthToken = os.Getenv("SIGNALWIRE_AUTH_TOKEN")
	c.Telephony.SignalWire.Space = strings.TrimSpace(os.Getenv("SIGNALWIRE_SPACE"))

	c.Dashboard.PollInterval = mustDuration("DASHBOARD_POLL_INTERVAL")
	c.Dashboard.StaleThreshold = mustDuration("DASHBOARD_STALE_THRESHOLD")
	c.Dashboard.TickInterval = mustDuration("DASHBOARD_TICK_INTERVAL")
	{
		v := strings.TrimSpace(os.Getenv("CONCURRENT_CALL_LIMIT"))
		if v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("CONCURRENT_CALL_LIMIT must be an integer, got %q", v))
			}
			c.Dashboard.ConcurrentCallLimit = n
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Telephony.ActiveProvider == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("TELEPHONY_PROVIDER is required in production"))
		} else {
			c.Telephony.ActiveProvider = "mock"
		}
	}
	if c.Telephony.ActiveProvider != "" && !isValidProvider(c.Telephony.ActiveProvider) {
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be one of telnyx, twilio, signalwire, mock, got %q", c.Telephony.ActiveProvider))
	}
	switch c.Telephony.ActiveProvider {
	case "telnyx":
		if c.Telephony.Telnyx.APIKey == "" || c.Telephony.Telnyx.ConnectionID == "" {
			errs = append(errs, errors.New("TELNYX_API_KEY and TELNYX_CONNECTION_ID are required when TELEPHONY_PROVIDER=telnyx"))
		}
	case "twilio":
		if c.Telephony.Twilio.AccountSID == "" || c.Telephony.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required when TELEPHONY_PROVIDER=twilio"))
		}
	case "signalwire":
		if c.Telephony.SignalWire.ProjectID == "" || c.Telephony.SignalWire.AuthToken == "" || c.Telephony.SignalWire.Space == "" {
			errs = append(errs, errors.New("SIGNALWIRE_PROJECT_ID, SIGNALWIRE_AUTH_TOKEN and SIGNALWIRE_SPACE are required when TELEPHONY_PROVIDER=signalwire"))
		}
	}
	if c.IsProduction() && c.Telephony.ActiveProvider != "mock" && c.Telephony.WebhookBaseURL == "" {
		errs = append(errs, errors.New("TELEPHONY_WEBHOOK_BASE_URL is required in production"))
	}

	if c.Dashboard.PollInterval <= 0 {
		c.Dashboard.PollInterval = 10 * time.Second
	}
	if c.Dashboard.StaleThreshold <= 0 {
		c.Dashboard.StaleThreshold = 30 * time.Second
	}
	if c.Dashboard.TickInterval <= 0 {
		c.Dashboard.TickInterval = time.Second
	}
	if c.Dashboard.StaleThreshold <= c.Dashboard.PollInterval {
		errs = append(errs, errors.New("DASHBOARD_STALE_THRESHOLD must be greater than DASHBOARD_POLL_INTERVAL"))
	}
	if c.Dashboard.ConcurrentCallLimit <= 0 {
		c.Dashboard.ConcurrentCallLimit = 25
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

func boolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
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

func isValidProvider(v string) bool {
	switch v {
	case "telnyx", "twilio", "signalwire", "mock":
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
