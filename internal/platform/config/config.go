// Package config loads and validates process configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Unit is the granularity of a retention period.
type Unit string

const (
	UnitHours  Unit = "hours"
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
	UnitYears  Unit = "years"
)

var unitDurations = map[Unit]time.Duration{
	UnitHours:  time.Hour,
	UnitDays:   24 * time.Hour,
	UnitWeeks:  7 * 24 * time.Hour,
	UnitMonths: 30 * 24 * time.Hour,
	UnitYears:  365 * 24 * time.Hour,
}

// RetentionPeriod is an amount of calendar-ish units. Months are 30 days and
// years are 365 days. Amount 0 disables the sweep.
type RetentionPeriod struct {
	Amount int
	Unit   Unit
}

// Duration converts the period. Disabled periods and unknown units return 0.
func (p RetentionPeriod) Duration() time.Duration {
	if p.Amount <= 0 {
		return 0
	}
	return time.Duration(p.Amount) * unitDurations[p.Unit]
}

func (p RetentionPeriod) validate(name string) error {
	if p.Amount < 0 {
		return fmt.Errorf("config: %s amount must not be negative", name)
	}
	if _, ok := unitDurations[p.Unit]; !ok {
		return fmt.Errorf("config: %s period %q is not one of hours|days|weeks|months|years", name, p.Unit)
	}
	return nil
}

// Config holds application configuration loaded from the environment.
type Config struct {
	Addr      string `mapstructure:"OPTIN_ADDR"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL selects the Postgres stores; empty runs in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL selects the shared rate limit backend.
	RedisURL string `mapstructure:"REDIS_URL"`
	// KafkaBrokers is a comma-separated broker list; empty disables publishing.
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	KafkaEventsTopic string `mapstructure:"KAFKA_EVENTS_TOPIC"`

	AdminJWTSigningKey string `mapstructure:"ADMIN_JWT_SIGNING_KEY"`

	// TrustedProxies is a comma-separated CIDR list. Forwarding headers are
	// only honoured when the socket peer falls inside one of them.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// TokenExpiryHours of 0 means pending tokens never expire.
	TokenExpiryHours int `mapstructure:"TOKEN_EXPIRY_HOURS"`

	RateLimitIP            int `mapstructure:"RATE_LIMIT_IP"`
	RateLimitEmail         int `mapstructure:"RATE_LIMIT_EMAIL"`
	RateLimitWindowMinutes int `mapstructure:"RATE_LIMIT_WINDOW_MINUTES"`

	DeleteUnconfirmedAfterAmount int    `mapstructure:"DELETE_UNCONFIRMED_AFTER_AMOUNT"`
	DeleteUnconfirmedAfterPeriod string `mapstructure:"DELETE_UNCONFIRMED_AFTER_PERIOD"`
	DeleteConfirmedAfterAmount   int    `mapstructure:"DELETE_CONFIRMED_AFTER_AMOUNT"`
	DeleteConfirmedAfterPeriod   string `mapstructure:"DELETE_CONFIRMED_AFTER_PERIOD"`

	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

var defaults = map[string]any{
	"OPTIN_ADDR":                      ":8080",
	"LOG_FORMAT":                      "json",
	"LOG_LEVEL":                       "info",
	"DATABASE_URL":                    "",
	"REDIS_URL":                       "",
	"KAFKA_BROKERS":                   "",
	"KAFKA_EVENTS_TOPIC":              "optin-events",
	"ADMIN_JWT_SIGNING_KEY":           "",
	"TRUSTED_PROXIES":                 "",
	"TOKEN_EXPIRY_HOURS":              48,
	"RATE_LIMIT_IP":                   10,
	"RATE_LIMIT_EMAIL":                3,
	"RATE_LIMIT_WINDOW_MINUTES":       60,
	"DELETE_UNCONFIRMED_AFTER_AMOUNT": 14,
	"DELETE_UNCONFIRMED_AFTER_PERIOD": string(UnitDays),
	"DELETE_CONFIRMED_AFTER_AMOUNT":   0,
	"DELETE_CONFIRMED_AFTER_PERIOD":   string(UnitDays),
	"SWEEP_INTERVAL":                  "24h",
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects negative values and unknown retention units.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("config: OPTIN_ADDR must be set"))
	}
	for name, n := range map[string]int{
		"TOKEN_EXPIRY_HOURS":        c.TokenExpiryHours,
		"RATE_LIMIT_IP":             c.RateLimitIP,
		"RATE_LIMIT_EMAIL":          c.RateLimitEmail,
		"RATE_LIMIT_WINDOW_MINUTES": c.RateLimitWindowMinutes,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("config: %s must not be negative", name))
		}
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("config: SWEEP_INTERVAL must not be negative"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UnconfirmedRetention().validate("DELETE_UNCONFIRMED_AFTER"); err != nil {
		errs = append(errs, err)
	}
	if err := c.ConfirmedRetention().validate("DELETE_CONFIRMED_AFTER"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Warn logs settings that are legal but probably unintended.
func (c *Config) Warn(logger *slog.Logger) {
	unconfirmed := c.UnconfirmedRetention().Duration()
	if unconfirmed > 0 && c.TokenExpiry() > 0 && unconfirmed < c.TokenExpiry() {
		logger.Warn("unconfirmed retention is shorter than token expiry; pending tokens will be swept before they expire",
			"unconfirmed_retention", unconfirmed,
			"token_expiry", c.TokenExpiry(),
		)
	}
	if c.AdminJWTSigningKey == "" {
		logger.Warn("ADMIN_JWT_SIGNING_KEY is empty; admin routes are disabled")
	}
}

// TokenExpiry returns the pending token lifetime; 0 disables expiry.
func (c *Config) TokenExpiry() time.Duration {
	return time.Duration(c.TokenExpiryHours) * time.Hour
}

// RateLimitWindow returns the shared fixed window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

func (c *Config) UnconfirmedRetention() RetentionPeriod {
	return RetentionPeriod{Amount: c.DeleteUnconfirmedAfterAmount, Unit: Unit(strings.ToLower(c.DeleteUnconfirmedAfterPeriod))}
}

func (c *Config) ConfirmedRetention() RetentionPeriod {
	return RetentionPeriod{Amount: c.DeleteConfirmedAfterAmount, Unit: Unit(strings.ToLower(c.DeleteConfirmedAfterPeriod))}
}

// KafkaBrokersList splits KafkaBrokers; nil means publishing is off.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	if c == nil || strings.TrimSpace(c.TrustedProxies) == "" {
		return nil, nil
	}
	var out []netip.Prefix
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			addr, err := netip.ParseAddr(p)
			if err != nil {
				return nil, fmt.Errorf("config: TRUSTED_PROXIES entry %q: %w", p, err)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES entry %q: %w", p, err)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}
