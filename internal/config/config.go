// Package config loads runtime configuration for the wooligotchi binaries
// from a YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration of the pet core and the
// reference authority.
type Config struct {
	Listen         string          `yaml:"listen"`
	DBPath         string          `yaml:"db_path"`
	NetworkID      int64           `yaml:"network_id"`
	TickInterval   Duration        `yaml:"tick_interval"`
	PollInterval   Duration        `yaml:"poll_interval"`
	PendingLifeTTL Duration        `yaml:"pending_life_ttl"`
	Wool           WoolConfig      `yaml:"wool"`
	Remote         RemoteConfig    `yaml:"remote"`
	Chain          ChainConfig     `yaml:"chain"`
	Log            LogConfig       `yaml:"log"`
	Authority      AuthorityConfig `yaml:"authority"`
}

// WoolConfig tunes the collection protocol.
type WoolConfig struct {
	Debounce Duration `yaml:"debounce"`
	TestMode bool     `yaml:"test_mode"`
}

// RemoteConfig points at the lives and WOOL authority.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// ChainConfig configures the optional on-chain wallet.
type ChainConfig struct {
	RPCURL         string   `yaml:"rpc_url"`
	PrivateKey     string   `yaml:"private_key"`
	PrivateKeyEnv  string   `yaml:"private_key_env"`
	PrivateKeyFile string   `yaml:"private_key_file"`
	Vault          string   `yaml:"vault"`
	Collection     string   `yaml:"collection"`
	ReceiptPoll    Duration `yaml:"receipt_poll"`
	ReceiptTimeout Duration `yaml:"receipt_timeout"`
}

// Enabled reports whether a wallet should be built.
func (c ChainConfig) Enabled() bool {
	return strings.TrimSpace(c.RPCURL) != ""
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // optional rotating log file
}

// AuthorityConfig configures cmd/woolauthority.
type AuthorityConfig struct {
	Listen        string `yaml:"listen"`
	DBPath        string `yaml:"db_path"`
	AdminKey      string `yaml:"admin_key"`
	AdminKeyFile  string `yaml:"admin_key_file"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	DailyCap      int    `yaml:"daily_cap"`
}

// Load reads configuration from path, if non-empty, then applies
// environment overrides, defaults and validation.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Chain.normalise(); err != nil {
		return cfg, fmt.Errorf("chain signer: %w", err)
	}
	if err := cfg.Authority.normalise(); err != nil {
		return cfg, fmt.Errorf("authority admin key: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = envOrDefault("WOOLIGOTCHI_LISTEN", cfg.Listen)
	cfg.DBPath = envOrDefault("WOOLIGOTCHI_DB", cfg.DBPath)
	cfg.NetworkID = int64(envIntOrDefault("WOOLIGOTCHI_NETWORK_ID", int(cfg.NetworkID)))
	cfg.Remote.BaseURL = envOrDefault("WOOLIGOTCHI_REMOTE_URL", cfg.Remote.BaseURL)
	cfg.Chain.RPCURL = envOrDefault("WOOLIGOTCHI_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.Vault = envOrDefault("WOOLIGOTCHI_VAULT", cfg.Chain.Vault)
	cfg.Log.Level = envOrDefault("WOOLIGOTCHI_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("WOOLIGOTCHI_LOG_FORMAT", cfg.Log.Format)
	cfg.Authority.Listen = envOrDefault("WOOLAUTHORITY_LISTEN", cfg.Authority.Listen)
	cfg.Authority.DBPath = envOrDefault("WOOLAUTHORITY_DB", cfg.Authority.DBPath)
	cfg.Authority.AdminKey = envOrDefault("WOOLAUTHORITY_ADMIN_KEY", cfg.Authority.AdminKey)
	if v := os.Getenv("WOOLIGOTCHI_TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Wool.TestMode = b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/wooligotchi.db"
	}
	if cfg.NetworkID == 0 {
		cfg.NetworkID = 8453
	}
	if cfg.TickInterval.Duration == 0 {
		cfg.TickInterval.Duration = time.Second
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 30 * time.Second
	}
	if cfg.PendingLifeTTL.Duration == 0 {
		cfg.PendingLifeTTL.Duration = 15 * time.Minute
	}
	if cfg.Wool.Debounce.Duration == 0 {
		cfg.Wool.Debounce.Duration = 150 * time.Millisecond
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "http://localhost:8787"
	}
	if cfg.Remote.Timeout.Duration == 0 {
		cfg.Remote.Timeout.Duration = 30 * time.Second
	}
	if cfg.Chain.ReceiptPoll.Duration == 0 {
		cfg.Chain.ReceiptPoll.Duration = 2 * time.Second
	}
	if cfg.Chain.ReceiptTimeout.Duration == 0 {
		cfg.Chain.ReceiptTimeout.Duration = 60 * time.Second
	}
	if cfg.Chain.Collection == "" {
		cfg.Chain.Collection = "0x88c78d5852f45935324c6d100052958f694e8446"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Authority.Listen == "" {
		cfg.Authority.Listen = ":8787"
	}
	if cfg.Authority.DBPath == "" {
		cfg.Authority.DBPath = "data/woolauthority.db"
	}
	if cfg.Authority.RatePerMinute <= 0 {
		cfg.Authority.RatePerMinute = 60
	}
	if cfg.Authority.DailyCap <= 0 {
		cfg.Authority.DailyCap = 10
	}
}

func validate(cfg Config) error {
	if cfg.TickInterval.Duration < 10*time.Millisecond {
		return fmt.Errorf("tick_interval must be at least 10ms")
	}
	if cfg.PollInterval.Duration < cfg.TickInterval.Duration {
		return fmt.Errorf("poll_interval must not be shorter than tick_interval")
	}
	if cfg.PendingLifeTTL.Duration < time.Minute {
		return fmt.Errorf("pending_life_ttl must be at least 1m")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Chain.Enabled() && strings.TrimSpace(cfg.Chain.Vault) == "" {
		return fmt.Errorf("chain.vault must be configured when chain.rpc_url is set")
	}
	return nil
}

func (c *ChainConfig) normalise() error {
	c.PrivateKey = strings.TrimSpace(c.PrivateKey)
	c.PrivateKeyEnv = strings.TrimSpace(c.PrivateKeyEnv)
	c.PrivateKeyFile = strings.TrimSpace(c.PrivateKeyFile)
	if !c.Enabled() || c.PrivateKey != "" {
		return nil
	}
	switch {
	case c.PrivateKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.PrivateKeyEnv))
		if value == "" {
			return fmt.Errorf("private_key_env %s is empty", c.PrivateKeyEnv)
		}
		c.PrivateKey = value
	case c.PrivateKeyFile != "":
		contents, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read private_key_file: %w", err)
		}
		c.PrivateKey = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("private_key is required when chain.rpc_url is set")
	}
	return nil
}

func (a *AuthorityConfig) normalise() error {
	a.AdminKey = strings.TrimSpace(a.AdminKey)
	if path := strings.TrimSpace(a.AdminKeyFile); path != "" && a.AdminKey == "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read admin_key_file: %w", err)
		}
		a.AdminKey = strings.TrimSpace(string(contents))
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
