package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blueauth/blueauth/identity"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the environment configuration of the blueauth service.
//
// # Environment Variables
//
//   - PORT: HTTP server port. Default: 8080
//   - LOG_LEVEL: debug, info, warn, error. Default: info
//   - BASE_PATH: mount path of the auth endpoint. Default: /api/auth
//   - DB_TYPE: sqlite, postgres, mysql, mongo or memory. Default: sqlite
//   - DSN: database connection string. Default: blueauth.db
//   - REDIS_URL: enables the Redis sign-in rate limiter when set
//   - SIGNIN_RATE_LIMIT / SIGNIN_RATE_WINDOW: sign-in emails per address per window. Default: 5 per 15m
//   - OTLP_ENDPOINT: enables OTLP trace export when set
//   - METRICS_ENABLED: exposes /metrics. Default: false
//   - BLUEAUTH_*: see Options
//   - SMTP_URL, SMTP_FROM_NAME, SMTP_FROM_ADDRESS, SMTP_SUBJECT
type Settings struct {
	Port     int    `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	BasePath string `mapstructure:"BASE_PATH"`
	DBType   string `mapstructure:"DB_TYPE"`
	DSN      string `mapstructure:"DSN"`
	RedisURL string `mapstructure:"REDIS_URL"`

	SignInRateLimit  int    `mapstructure:"SIGNIN_RATE_LIMIT"`
	SignInRateWindow string `mapstructure:"SIGNIN_RATE_WINDOW"`

	OTLPEndpoint   string `mapstructure:"OTLP_ENDPOINT"`
	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`

	Secret                  string `mapstructure:"BLUEAUTH_SECRET"`
	AuthEndpoint            string `mapstructure:"BLUEAUTH_AUTH_ENDPOINT"`
	SessionLifespan         string `mapstructure:"BLUEAUTH_SESSION_LIFESPAN"`
	SignInAfterRegistration string `mapstructure:"BLUEAUTH_SIGN_IN_AFTER_REGISTRATION"`
	RefreshSession          string `mapstructure:"BLUEAUTH_REFRESH_SESSION"`
	ServiceName             string `mapstructure:"BLUEAUTH_SERVICE_NAME"`
	CookieNamePrefix        string `mapstructure:"BLUEAUTH_COOKIE_NAME_PREFIX"`
	CookieDomain            string `mapstructure:"BLUEAUTH_COOKIE_DOMAIN"`
	CookieSecure            string `mapstructure:"BLUEAUTH_COOKIE_SECURE"`
	CookieSameSite          string `mapstructure:"BLUEAUTH_COOKIE_SAMESITE"`

	SMTPURL         string `mapstructure:"SMTP_URL"`
	SMTPFromName    string `mapstructure:"SMTP_FROM_NAME"`
	SMTPFromAddress string `mapstructure:"SMTP_FROM_ADDRESS"`
	SMTPSubject     string `mapstructure:"SMTP_SUBJECT"`
}

var settingKeys = []string{
	"PORT", "LOG_LEVEL", "BASE_PATH", "DB_TYPE", "DSN", "REDIS_URL",
	"SIGNIN_RATE_LIMIT", "SIGNIN_RATE_WINDOW", "OTLP_ENDPOINT", "METRICS_ENABLED",
	"BLUEAUTH_SECRET", "BLUEAUTH_AUTH_ENDPOINT", "BLUEAUTH_SESSION_LIFESPAN",
	"BLUEAUTH_SIGN_IN_AFTER_REGISTRATION", "BLUEAUTH_REFRESH_SESSION", "BLUEAUTH_SERVICE_NAME",
	"BLUEAUTH_COOKIE_NAME_PREFIX", "BLUEAUTH_COOKIE_DOMAIN", "BLUEAUTH_COOKIE_SECURE",
	"BLUEAUTH_COOKIE_SAMESITE",
	"SMTP_URL", "SMTP_FROM_NAME", "SMTP_FROM_ADDRESS", "SMTP_SUBJECT",
}

// LoadSettings reads Settings from the environment. A .env file in the
// working directory is loaded first when present.
func LoadSettings() (*Settings, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("config: failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BASE_PATH", "/api/auth")
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DSN", "blueauth.db")
	v.SetDefault("SIGNIN_RATE_LIMIT", 5)
	v.SetDefault("SIGNIN_RATE_WINDOW", "15m")
	v.SetDefault("METRICS_ENABLED", false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range settingKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RateWindow parses SignInRateWindow.
func (s *Settings) RateWindow() (time.Duration, error) {
	return ParseLifespan(s.SignInRateWindow)
}

// Options converts the settings into library Options backed by gw.
func (s *Settings) Options(gw identity.Gateway) (Options, error) {
	opts := Options{
		Secret:           s.Secret,
		AuthEndpoint:     s.AuthEndpoint,
		ServiceName:      s.ServiceName,
		SMTPURL:          s.SMTPURL,
		SMTPFromName:     s.SMTPFromName,
		SMTPFromAddress:  s.SMTPFromAddress,
		SMTPSubject:      s.SMTPSubject,
		CookieNamePrefix: s.CookieNamePrefix,
		Gateway:          gw,
	}

	if s.SessionLifespan != "" {
		d, err := ParseLifespan(s.SessionLifespan)
		if err != nil {
			return Options{}, err
		}
		opts.SessionLifespan = d
	}

	var err error
	if opts.SignInAfterRegistration, err = optionalBool("BLUEAUTH_SIGN_IN_AFTER_REGISTRATION", s.SignInAfterRegistration); err != nil {
		return Options{}, err
	}
	if opts.RefreshSession, err = optionalBool("BLUEAUTH_REFRESH_SESSION", s.RefreshSession); err != nil {
		return Options{}, err
	}
	if opts.CookieOptions.Secure, err = optionalBool("BLUEAUTH_COOKIE_SECURE", s.CookieSecure); err != nil {
		return Options{}, err
	}
	if s.CookieDomain != "" {
		opts.CookieOptions.Domain = Ptr(s.CookieDomain)
	}
	if s.CookieSameSite != "" {
		mode, ok := ParseSameSite(s.CookieSameSite)
		if !ok {
			return Options{}, fmt.Errorf("config: invalid BLUEAUTH_COOKIE_SAMESITE %q", s.CookieSameSite)
		}
		opts.CookieOptions.SameSite = Ptr(mode)
	}

	return opts, nil
}

func optionalBool(name, raw string) (*bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid %s %q", name, raw)
	}
	return &b, nil
}
