// Package config provides configuration management for the session service.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// envSet reports whether the environment variable was explicitly provided.
// Explicit environment values always win over YAML tuning files.
func envSet(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

// applyYAMLOverrides overlays operational tuning values from optional YAML
// files onto an environment-loaded Config. It first loads defaults.yaml, then
// overlays environment-specific configuration (local.yaml, nonprod.yaml, or
// prod.yaml). Missing files are not an error; the environment variables remain
// authoritative for anything the YAML files do not set.
//
// Only operational tuning knobs are recognized here: session limits and TTLs,
// reaper intervals, and breaker thresholds. Secrets are never read from YAML.
func applyYAMLOverrides(cfg *Config) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("defaults")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read defaults config: %w", err)
	}

	// Determine environment-specific config file
	var envConfigFile string
	switch cfg.Environment.Environment {
	case Local:
		envConfigFile = "local"
	case NonProd:
		envConfigFile = "nonprod"
	case Prod:
		envConfigFile = "prod"
	default:
		envConfigFile = "local"
	}

	envViper := viper.New()
	envViper.SetConfigType("yaml")
	envViper.SetConfigName(envConfigFile)
	envViper.AddConfigPath("./configs")
	envViper.AddConfigPath("../configs")
	envViper.AddConfigPath("../../configs")

	if err := envViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read %s config: %w", envConfigFile, err)
		}
	} else if mergeErr := v.MergeConfigMap(envViper.AllSettings()); mergeErr != nil {
		return fmt.Errorf("failed to merge environment config: %w", mergeErr)
	}

	if v.IsSet("session.max_per_shop") && !envSet("SESSION_MAX_PER_SHOP") {
		cfg.Session.MaxPerShop = v.GetInt("session.max_per_shop")
	}
	if v.IsSet("session.ttl") && !envSet("SESSION_TTL") {
		cfg.Session.SessionTTL = v.GetDuration("session.ttl")
	}
	if v.IsSet("session.inactivity_timeout") && !envSet("SESSION_INACTIVITY_TIMEOUT") {
		cfg.Session.InactivityTimeout = v.GetDuration("session.inactivity_timeout")
	}
	if v.IsSet("session.cache_ttl") && !envSet("SESSION_CACHE_TTL") {
		cfg.Session.CacheTTL = v.GetDuration("session.cache_ttl")
	}
	if v.IsSet("session.heartbeat_interval") && !envSet("SESSION_HEARTBEAT_INTERVAL") {
		cfg.Session.HeartbeatInterval = v.GetDuration("session.heartbeat_interval")
	}
	if v.IsSet("reaper.expired_interval") && !envSet("REAPER_EXPIRED_INTERVAL") {
		cfg.Reaper.ExpiredInterval = v.GetDuration("reaper.expired_interval")
	}
	if v.IsSet("reaper.stale_interval") && !envSet("REAPER_STALE_INTERVAL") {
		cfg.Reaper.StaleInterval = v.GetDuration("reaper.stale_interval")
	}
	if v.IsSet("reaper.deep_interval") && !envSet("REAPER_DEEP_INTERVAL") {
		cfg.Reaper.DeepInterval = v.GetDuration("reaper.deep_interval")
	}
	if v.IsSet("breaker.warn_threshold") && !envSet("BREAKER_WARN_THRESHOLD") {
		cfg.Breaker.WarnThreshold = v.GetFloat64("breaker.warn_threshold")
	}
	if v.IsSet("breaker.critical_threshold") && !envSet("BREAKER_CRITICAL_THRESHOLD") {
		cfg.Breaker.CriticalThreshold = v.GetFloat64("breaker.critical_threshold")
	}
	if v.IsSet("breaker.cooldown") && !envSet("BREAKER_COOLDOWN") {
		cfg.Breaker.Cooldown = v.GetDuration("breaker.cooldown")
	}

	return nil
}
