package config

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophgate/internal/flagx"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the gateway,
// e.g. GOPHGATE_DATABASE_DSN.
const EnvPrefix = "GOPHGATE"

// parseFile overlays values from the config file named by -c/-config (if
// any) and from GOPHGATE_* environment variables onto config. Values already
// present in config act as defaults, so unset keys keep them.
func parseFile(config *Config) error {
	return parseFileFrom(config, flagx.OSConfigFileFlag())
}

func parseFileFrom(config *Config, path string) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range config.settings() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// settings lists every key viper should know about. AutomaticEnv only
// resolves keys that have a default, so this must stay in sync with the
// mapstructure tags on Config.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"environment":  c.Environment,
		"listen_addr":  c.ListenAddr,
		"frontend_url": c.FrontendURL,
		"log_level":    c.LogLevel,
		"trust_proxy":  c.TrustProxy,

		"database_dsn":               c.DatabaseDSN,
		"database_max_open_conns":    c.DatabaseMaxOpenConns,
		"database_max_idle_conns":    c.DatabaseMaxIdleConns,
		"database_statement_timeout": c.DatabaseStatementTimeout,

		"secret_key":                          c.SecretKey,
		"access_token_validity_duration":      c.AccessTokenValidityDuration,
		"remember_me_token_validity_duration": c.RememberMeTokenValidityDuration,
		"refresh_token_validity_duration":     c.RefreshTokenValidityDuration,

		"max_failed_attempts": c.MaxFailedAttempts,
		"lockout_duration":    c.LockoutDuration,

		"redis_addr":     c.RedisAddr,
		"redis_password": c.RedisPassword,
		"redis_db":       c.RedisDB,

		"api_rate_limit":    c.APIRateLimit,
		"api_rate_window":   c.APIRateWindow,
		"login_rate_limit":  c.LoginRateLimit,
		"login_rate_window": c.LoginRateWindow,
		"ai_rate_limit":     c.AIRateLimit,
		"ai_rate_window":    c.AIRateWindow,

		"ai_upstream_url":    c.AIUpstreamURL,
		"ai_api_key":         c.AIAPIKey,
		"ai_api_version":     c.AIAPIVersion,
		"ai_model":           c.AIModel,
		"ai_request_timeout": c.AIRequestTimeout,

		"audit_timeout":    c.AuditTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	}
}
