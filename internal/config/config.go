package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Redis    RedisConfig
	Postgres PostgresConfig
	Chain    ChainConfig
	Sponsor  SponsorConfig
	Server   ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// PostgresConfig is optional: when DSN is set, leases are kept in Postgres
// instead of Redis.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	ChainID           int64  `mapstructure:"chain_id"`
	SponsorSigningKey string `mapstructure:"sponsor_signing_key"`
	DefaultReferrer   string `mapstructure:"default_referrer"`
}

type SponsorConfig struct {
	MaxTxPerDay          int64  `mapstructure:"max_tx_per_day"`
	LeaseTTLSec          int64  `mapstructure:"lease_ttl_sec"`
	MinSponsorBalanceWei string `mapstructure:"min_sponsor_balance_wei"`
	LockMetaTTLSec       int64  `mapstructure:"lock_meta_ttl_sec"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("sponsor.max_tx_per_day", 250)
	v.SetDefault("sponsor.lease_ttl_sec", 30)
	v.SetDefault("sponsor.min_sponsor_balance_wei", "0")
	v.SetDefault("sponsor.lock_meta_ttl_sec", 600)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                      "REDIS_ADDR",
		"redis.password":                  "REDIS_PASSWORD",
		"postgres.dsn":                    "POSTGRES_DSN",
		"chain.rpc_url":                   "RPC_URL",
		"chain.chain_id":                  "CHAIN_ID",
		"chain.sponsor_signing_key":       "SPONSOR_SIGNING_KEY",
		"chain.default_referrer":          "DEFAULT_REFERRER",
		"sponsor.max_tx_per_day":          "MAX_TX_PER_DAY",
		"sponsor.lease_ttl_sec":           "LEASE_TTL_SEC",
		"sponsor.min_sponsor_balance_wei": "MIN_SPONSOR_BALANCE_WEI",
		"sponsor.lock_meta_ttl_sec":       "LOCK_META_TTL_SEC",
		"server.port":                     "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.SponsorSigningKey, "SPONSOR_SIGNING_KEY"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Sponsor.LeaseTTLSec <= 0 {
		return fmt.Errorf("LEASE_TTL_SEC must be positive")
	}
	return nil
}

// LeaseTTL returns the configured lease TTL as a duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Sponsor.LeaseTTLSec) * time.Second
}

// LockMetaTTL returns the lock metadata cache TTL as a duration.
func (c *Config) LockMetaTTL() time.Duration {
	return time.Duration(c.Sponsor.LockMetaTTLSec) * time.Second
}
