package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the settlement orchestrator's configuration (cmd/settlement).
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Store    StoreConfig
	Resolver ResolverConfig
	Settler  SettlerClientConfig
	Sweep    SweepConfig
	Poller   PollerConfig
}

// SettlerConfig is the Chain Settler service's configuration (cmd/settler).
type SettlerConfig struct {
	Server    ServerConfig
	Redis     RedisConfig
	Chain     ChainConfig
	Consensus ConsensusConfig
	APIKey    string `mapstructure:"api_key"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory | postgres | supabase
	DatabaseURL string `mapstructure:"database_url"`
	SupabaseURL string `mapstructure:"supabase_url"`
	SupabaseKey string `mapstructure:"supabase_key"`
}

type ResolverConfig struct {
	Endpoints   []string `mapstructure:"endpoints"`
	TimeoutSec  int      `mapstructure:"timeout_sec"`
	MaxAttempts int      `mapstructure:"max_attempts"`
	RatePerSec  float64  `mapstructure:"rate_per_sec"`
}

type SettlerClientConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type SweepConfig struct {
	Schedule       string `mapstructure:"schedule"`
	Workers        int    `mapstructure:"workers"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	FeedTimeoutSec int    `mapstructure:"feed_timeout_sec"`
	LeaseTTLSec    int    `mapstructure:"lease_ttl_sec"`
	CronKey        string `mapstructure:"cron_key"`
}

type PollerConfig struct {
	Schedule   string  `mapstructure:"schedule"`
	BaseURL    string  `mapstructure:"base_url"`
	Token      string  `mapstructure:"token"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

type ChainConfig struct {
	RPCURL            string   `mapstructure:"rpc_url"`
	FallbackRPCURLs   []string `mapstructure:"fallback_rpc_urls"`
	SignerKey         string   `mapstructure:"signer_key"`
	ChainID           int64    `mapstructure:"chain_id"`
	MaxSubmitAttempts int      `mapstructure:"max_submit_attempts"`
	ConfirmTimeoutSec int      `mapstructure:"confirm_timeout_sec"`
}

// RPCURLs returns the primary endpoint followed by the fallbacks.
func (c ChainConfig) RPCURLs() []string {
	var out []string
	for _, u := range append([]string{c.RPCURL}, c.FallbackRPCURLs...) {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

type ConsensusConfig struct {
	Gateways    []string `mapstructure:"gateways"`
	TimeoutSec  int      `mapstructure:"timeout_sec"`
	MaxAttempts int      `mapstructure:"max_attempts"`
	RatePerSec  float64  `mapstructure:"rate_per_sec"`
}

func newViper() *viper.Viper {
	v := viper.New()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func bindEnv(v *viper.Viper, bindings map[string]string) error {
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// Load reads the orchestrator configuration.
func Load() (*Config, error) {
	v := newViper()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("resolver.timeout_sec", 15)
	v.SetDefault("resolver.max_attempts", 3)
	v.SetDefault("resolver.rate_per_sec", 5)
	v.SetDefault("settler.timeout_sec", 180)
	v.SetDefault("sweep.schedule", "*/5 * * * *")
	v.SetDefault("sweep.workers", 4)
	v.SetDefault("sweep.timeout_sec", 240)
	v.SetDefault("sweep.feed_timeout_sec", 200)
	v.SetDefault("sweep.lease_ttl_sec", 300)
	v.SetDefault("poller.schedule", "*/2 * * * *")
	v.SetDefault("poller.base_url", "https://api.pandascore.co")
	v.SetDefault("poller.rate_per_sec", 2)

	// Explicit env bindings
	if err := bindEnv(v, map[string]string{
		"server.port":             "PORT",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
		"store.driver":            "STORE_DRIVER",
		"store.database_url":      "DATABASE_URL",
		"store.supabase_url":      "SUPABASE_URL",
		"store.supabase_key":      "SUPABASE_SERVICE_KEY",
		"resolver.endpoints":      "SIMULATOR_URLS",
		"resolver.timeout_sec":    "SIMULATOR_TIMEOUT_SEC",
		"resolver.max_attempts":   "SIMULATOR_MAX_ATTEMPTS",
		"resolver.rate_per_sec":   "SIMULATOR_RATE_PER_SEC",
		"settler.url":             "SETTLER_URL",
		"settler.api_key":         "SETTLER_API_KEY",
		"settler.timeout_sec":     "SETTLER_TIMEOUT_SEC",
		"sweep.schedule":          "SWEEP_SCHEDULE",
		"sweep.workers":           "SWEEP_WORKERS",
		"sweep.timeout_sec":       "SWEEP_TIMEOUT_SEC",
		"sweep.feed_timeout_sec":  "FEED_TIMEOUT_SEC",
		"sweep.lease_ttl_sec":     "LEASE_TTL_SEC",
		"sweep.cron_key":          "CRON_SECRET",
		"poller.schedule":         "POLLER_SCHEDULE",
		"poller.base_url":         "PANDASCORE_URL",
		"poller.token":            "PANDASCORE_TOKEN",
		"poller.rate_per_sec":     "PANDASCORE_RATE_PER_SEC",
	}); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Resolver.Endpoints = splitList(cfg.Resolver.Endpoints)

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	reqs := []req{
		{c.Sweep.CronKey, "CRON_SECRET"},
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		reqs = append(reqs, req{c.Store.DatabaseURL, "DATABASE_URL"})
	case "supabase":
		reqs = append(reqs,
			req{c.Store.SupabaseURL, "SUPABASE_URL"},
			req{c.Store.SupabaseKey, "SUPABASE_SERVICE_KEY"},
		)
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Settler.URL != "" {
		reqs = append(reqs, req{c.Settler.APIKey, "SETTLER_API_KEY"})
	}
	for _, r := range reqs {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if len(c.Resolver.Endpoints) == 0 {
		return fmt.Errorf("required config missing: SIMULATOR_URLS")
	}
	if c.Sweep.Workers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be positive")
	}
	return nil
}

// LoadSettler reads the Chain Settler configuration.
func LoadSettler() (*SettlerConfig, error) {
	v := newViper()

	// Defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("chain.max_submit_attempts", 3)
	v.SetDefault("chain.confirm_timeout_sec", 120)
	v.SetDefault("consensus.timeout_sec", 20)
	v.SetDefault("consensus.max_attempts", 3)
	v.SetDefault("consensus.rate_per_sec", 5)

	// Explicit env bindings
	if err := bindEnv(v, map[string]string{
		"server.port":               "PORT",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"api_key":                   "SETTLER_API_KEY",
		"chain.rpc_url":             "RPC_URL",
		"chain.fallback_rpc_urls":   "FALLBACK_RPC_URLS",
		"chain.signer_key":          "SETTLER_SIGNING_KEY",
		"chain.chain_id":            "CHAIN_ID",
		"chain.max_submit_attempts": "MAX_SUBMIT_ATTEMPTS",
		"chain.confirm_timeout_sec": "CONFIRM_TIMEOUT_SEC",
		"consensus.gateways":        "CONSENSUS_GATEWAYS",
		"consensus.timeout_sec":     "CONSENSUS_TIMEOUT_SEC",
		"consensus.max_attempts":    "CONSENSUS_MAX_ATTEMPTS",
		"consensus.rate_per_sec":    "CONSENSUS_RATE_PER_SEC",
	}); err != nil {
		return nil, err
	}

	cfg := &SettlerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Chain.FallbackRPCURLs = splitList(cfg.Chain.FallbackRPCURLs)
	cfg.Consensus.Gateways = splitList(cfg.Consensus.Gateways)

	return cfg, cfg.validate()
}

// validate checks only what the service cannot start without. A missing or
// broken ledger configuration is reported by /health instead.
func (c *SettlerConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("required config missing: SETTLER_API_KEY")
	}
	if len(c.Consensus.Gateways) == 0 {
		return fmt.Errorf("required config missing: CONSENSUS_GATEWAYS")
	}
	return nil
}

// splitList flattens comma separated env values into a clean list.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
