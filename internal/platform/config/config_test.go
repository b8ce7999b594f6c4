package config

import (
	"bytes"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 48*time.Hour, cfg.TokenExpiry())
	assert.Equal(t, 10, cfg.RateLimitIP)
	assert.Equal(t, 3, cfg.RateLimitEmail)
	assert.Equal(t, time.Hour, cfg.RateLimitWindow())
	assert.Equal(t, 14*24*time.Hour, cfg.UnconfirmedRetention().Duration())
	assert.Zero(t, cfg.ConfirmedRetention().Duration())
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
	assert.Nil(t, cfg.KafkaBrokersList())

	trusted, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Empty(t, trusted)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TOKEN_EXPIRY_HOURS", "0")
	t.Setenv("DELETE_CONFIRMED_AFTER_AMOUNT", "2")
	t.Setenv("DELETE_CONFIRMED_AFTER_PERIOD", "Years")
	t.Setenv("SWEEP_INTERVAL", "1h")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Zero(t, cfg.TokenExpiry())
	assert.Equal(t, 2*365*24*time.Hour, cfg.ConfirmedRetention().Duration())
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokersList())
}

func TestValidate(t *testing.T) {
	t.Setenv("RATE_LIMIT_IP", "-1")
	t.Setenv("DELETE_UNCONFIRMED_AFTER_PERIOD", "fortnights")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 10.0.0.0/99")

	_, err := load(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_IP must not be negative")
	assert.Contains(t, err.Error(), `"fortnights"`)
	assert.Contains(t, err.Error(), `TRUSTED_PROXIES entry "10.0.0.0/99"`)
}

func TestTrustedProxyPrefixes(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.1.2.3/8, 192.0.2.10 ,,2001:db8::/32")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	got, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}, got)
}

func TestRetentionPeriodDuration(t *testing.T) {
	cases := []struct {
		p    RetentionPeriod
		want time.Duration
	}{
		{RetentionPeriod{3, UnitHours}, 3 * time.Hour},
		{RetentionPeriod{1, UnitWeeks}, 7 * 24 * time.Hour},
		{RetentionPeriod{1, UnitMonths}, 30 * 24 * time.Hour},
		{RetentionPeriod{0, UnitYears}, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.p.Duration(), "%+v", tc.p)
	}
}

func TestWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := &Config{
		TokenExpiryHours:             48,
		DeleteUnconfirmedAfterAmount: 1,
		DeleteUnconfirmedAfterPeriod: "days",
		AdminJWTSigningKey:           "k",
	}
	cfg.Warn(logger)
	assert.Contains(t, buf.String(), "unconfirmed retention is shorter than token expiry")

	buf.Reset()
	cfg.DeleteUnconfirmedAfterAmount = 3
	cfg.Warn(logger)
	assert.Empty(t, buf.String())
}
