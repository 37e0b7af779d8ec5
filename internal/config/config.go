package config

import "github.com/spf13/viper"

// Config holds all runtime configuration for the gateway daemon.
type Config struct {
	Port                int
	JimengUpstream      string
	DatabaseURL         string
	Concurrency         int
	PollIntervalSecs    int
	MaxPollDurationSecs int
	AuthEnabled         bool
	AdminToken          string

	// SigningOracleURL is the external HTTP-RPC endpoint that signs
	// Seedance submissions on this gateway's behalf.
	SigningOracleURL string

	// OIDC settings for the human-admin login flow. Unused by this
	// repo's core scope; kept so the shape a future admin UI would
	// bind to already exists.
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
}

// Load reads configuration from viper, which merges flag values, env
// vars, and defaults (set up by the cobra command in cmd/gatewayd).
func Load() Config {
	return Config{
		Port:                viper.GetInt("port"),
		JimengUpstream:      viper.GetString("jimeng_upstream"),
		DatabaseURL:         viper.GetString("database_url"),
		Concurrency:         viper.GetInt("concurrency"),
		PollIntervalSecs:    viper.GetInt("poll_interval_secs"),
		MaxPollDurationSecs: viper.GetInt("max_poll_duration_secs"),
		AuthEnabled:         viper.GetBool("auth_enabled"),
		AdminToken:          viper.GetString("admin_token"),
		SigningOracleURL:    viper.GetString("signing_oracle_url"),
		OIDCIssuerURL:       viper.GetString("oidc_issuer_url"),
		OIDCClientID:        viper.GetString("oidc_client_id"),
		OIDCClientSecret:    viper.GetString("oidc_client_secret"),
	}
}
