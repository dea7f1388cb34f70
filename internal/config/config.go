// Package config loads the coordinator's configuration (C12): a config
// file, overridden by COORD_-prefixed environment variables, overridden by
// command-line flags, in that order.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/parumu/gg18coord/internal/ethtx"
)

// Config is the fully resolved set of coordinator parameters.
type Config struct {
	HTTPAddr       string
	SessionTTL     int64
	FailedTTL      int64
	MaxSessions    int
	MaxSigRetries  int
	BgTaskInterval time.Duration
	EthNetwork     ethtx.Network
	NodeID         string
	LogLevel       string
	WebhookSecret  string
	AuditDSN       string
}

// Load resolves configuration from, in increasing priority: an optional
// config file at path (if non-empty), COORD_-prefixed env vars, and the
// given already-parsed flag set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COORD")
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("session_ttl", int64(120))
	v.SetDefault("failed_ttl", int64(20))
	v.SetDefault("max_sessions", 1000)
	v.SetDefault("max_sig_retries", 3)
	v.SetDefault("bg_task_interval", time.Second)
	v.SetDefault("eth_network", "mainnet")
	v.SetDefault("node_id", "coordinator-1")
	v.SetDefault("log_level", "info")
	v.SetDefault("webhook_secret", "")
	v.SetDefault("audit_dsn", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	network, err := ethtx.ParseNetwork(v.GetString("eth_network"))
	if err != nil {
		return nil, fmt.Errorf("eth_network: %w", err)
	}

	cfg := &Config{
		HTTPAddr:       v.GetString("http_addr"),
		SessionTTL:     v.GetInt64("session_ttl"),
		FailedTTL:      v.GetInt64("failed_ttl"),
		MaxSessions:    v.GetInt("max_sessions"),
		MaxSigRetries:  v.GetInt("max_sig_retries"),
		BgTaskInterval: v.GetDuration("bg_task_interval"),
		EthNetwork:     network,
		NodeID:         v.GetString("node_id"),
		LogLevel:       v.GetString("log_level"),
		WebhookSecret:  v.GetString("webhook_secret"),
		AuditDSN:       v.GetString("audit_dsn"),
	}

	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("max_sessions must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session_ttl must be positive")
	}

	return cfg, nil
}

// Flags registers the coordinator's CLI flags on fs, one for each config key
// Load reads except failed_ttl and webhook_secret, which have no flag;
// callers parse fs and pass it to Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("http_addr", "", "HTTP listen address, e.g. :8080")
	fs.Int64("session_ttl", 0, "default session TTL in seconds")
	fs.Int("max_sessions", 0, "maximum number of concurrent sessions")
	fs.Int("max_sig_retries", 0, "maximum signing recalculation retries")
	fs.Duration("bg_task_interval", 0, "sweeper interval")
	fs.String("eth_network", "", "ethereum network name")
	fs.String("node_id", "", "coordinator node identifier")
	fs.String("log_level", "", "log level (debug, info, warn, error)")
	fs.String("audit_dsn", "", "postgres DSN for the audit log, empty uses an in-memory store")
}
