package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teja230/storesight-sub006/internal/config"
)

const validSecret = "test-cookie-signing-secret-at-least-32-chars" // pragma: allowlist secret

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", validSecret)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Session.MaxPerShop)
	assert.Equal(t, 168*time.Hour, cfg.Session.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Session.InactivityTimeout)
	assert.Equal(t, 3*time.Second, cfg.Session.StoreTimeout)
	assert.Equal(t, 256, cfg.Updater.QueueSize)
	assert.Equal(t, 3, cfg.Updater.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Reaper.ExpiredInterval)
	assert.Equal(t, 30*time.Minute, cfg.Reaper.StaleInterval)
	assert.Equal(t, 12*time.Hour, cfg.Reaper.DeepInterval)
	assert.InDelta(t, 0.98, cfg.Breaker.CriticalThreshold, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.Cooldown)
}

func TestLoadRequiresCookieSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadRejectsShortCookieSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", "too-short")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", validSecret)
	t.Setenv("SESSION_MAX_PER_SHOP", "3")
	t.Setenv("SESSION_TTL", "48h")
	t.Setenv("UPDATER_WORKERS", "4")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Session.MaxPerShop)
	assert.Equal(t, 48*time.Hour, cfg.Session.SessionTTL)
	assert.Equal(t, 4, cfg.Updater.Workers)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *config.Config {
		t.Helper()
		t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", validSecret)
		cfg, err := config.Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:   "valid_defaults",
			mutate: func(*config.Config) {},
		},
		{
			name:    "cache_ttl_exceeds_session_ttl",
			mutate:  func(cfg *config.Config) { cfg.Session.CacheTTL = cfg.Session.SessionTTL + time.Hour },
			wantErr: "cache TTL must not exceed session TTL",
		},
		{
			name:    "zero_max_per_shop",
			mutate:  func(cfg *config.Config) { cfg.Session.MaxPerShop = 0 },
			wantErr: "max sessions per shop",
		},
		{
			name:    "warn_not_below_critical",
			mutate:  func(cfg *config.Config) { cfg.Breaker.WarnThreshold = cfg.Breaker.CriticalThreshold },
			wantErr: "warn threshold must be below critical",
		},
		{
			name:    "critical_above_one",
			mutate:  func(cfg *config.Config) { cfg.Breaker.CriticalThreshold = 1.5 },
			wantErr: "critical threshold must be in (0, 1]",
		},
		{
			name:    "negative_cooldown",
			mutate:  func(cfg *config.Config) { cfg.Breaker.Cooldown = -time.Second },
			wantErr: "cooldown must be positive",
		},
		{
			name:    "zero_updater_workers",
			mutate:  func(cfg *config.Config) { cfg.Updater.Workers = 0 },
			wantErr: "worker count",
		},
		{
			name:    "invalid_port",
			mutate:  func(cfg *config.Config) { cfg.Server.Port = 0 },
			wantErr: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", validSecret)
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ServerAddr())
}

func TestIsPostgresConfigured(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", validSecret)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsPostgresConfigured())

	cfg.Postgres.User = "session_svc"
	cfg.Postgres.Password = "hunter2" // pragma: allowlist secret
	assert.True(t, cfg.IsPostgresConfigured())
}

func TestIsTLSEnabled(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")
	t.Setenv("COOKIE_SECRET", validSecret)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsTLSEnabled())

	cfg.Server.TLSCert = "/etc/tls/cert.pem"
	assert.False(t, cfg.IsTLSEnabled(), "cert without key is not TLS-enabled")

	cfg.Server.TLSKey = "/etc/tls/key.pem"
	assert.True(t, cfg.IsTLSEnabled())
}
