package coordinatord

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
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

// Config captures the runtime configuration for coordinatord.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Game          GameConfig      `yaml:"game"`
	Chain         ChainConfig     `yaml:"chain"`
	Admin         AdminConfig     `yaml:"admin"`
	Archive       ArchiveConfig   `yaml:"archive"`
	Payments      PaymentsConfig  `yaml:"payments"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// GameConfig holds the round parameters applied to every round this
// coordinator opens.
type GameConfig struct {
	DigitCount         int    `yaml:"digits"`
	MinDigitCount      int    `yaml:"min_digits"`
	MaxDigitCount      int    `yaml:"max_digits"`
	InitialBuyIn       string `yaml:"initial_buy_in"`
	NearMatchThreshold int    `yaml:"near_match_threshold"`
	PriceIncreaseBps   int    `yaml:"price_increase_bps"`
	MaxPriceSteps      int    `yaml:"max_price_steps"`
}

// BuyInAmount parses the configured initial buy-in in the token's smallest
// unit.
func (g GameConfig) BuyInAmount() (*big.Int, error) {
	trimmed := strings.TrimSpace(g.InitialBuyIn)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("initial_buy_in %q is not a decimal integer", g.InitialBuyIn)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("initial_buy_in must be positive")
	}
	return amount, nil
}

// ChainConfig configures the vault contract client.
type ChainConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	VaultAddress  string   `yaml:"vault_address"`
	ChainID       int64    `yaml:"chain_id"`
	CallTimeout   Duration `yaml:"call_timeout"`
	SignerKey     string   `yaml:"signer_key"`
	SignerKeyFile string   `yaml:"signer_key_file"`
	SignerKeyEnv  string   `yaml:"signer_key_env"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	JWTSecretFile string `yaml:"jwt_secret_file"`
	JWTSecretEnv  string `yaml:"jwt_secret_env"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// ArchiveConfig points at the SQLite round archive. An empty path disables
// archiving.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// PaymentsConfig selects the processed-payment set backend. An empty path
// keeps the in-memory set.
type PaymentsConfig struct {
	LevelDBPath string `yaml:"leveldb_path"`
}

// RateLimitConfig bounds guess submissions per player.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Chain.normalise(); err != nil {
		return cfg, fmt.Errorf("chain signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7091"
	}
	if cfg.Chain.CallTimeout.Duration == 0 {
		cfg.Chain.CallTimeout.Duration = 90 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 30
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Chain.Endpoint) == "" {
		return fmt.Errorf("chain endpoint must be configured")
	}
	if !common.IsHexAddress(strings.TrimSpace(cfg.Chain.VaultAddress)) {
		return fmt.Errorf("chain vault_address must be a hex address")
	}
	if cfg.Chain.ChainID <= 0 {
		return fmt.Errorf("chain chain_id must be configured")
	}
	if _, err := cfg.Game.BuyInAmount(); err != nil {
		return err
	}
	if cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin jwt secret must be configured")
	}
	return nil
}

func (c *ChainConfig) normalise() error {
	if c == nil {
		return fmt.Errorf("chain configuration missing")
	}
	c.SignerKey = strings.TrimSpace(c.SignerKey)
	c.SignerKeyEnv = strings.TrimSpace(c.SignerKeyEnv)
	c.SignerKeyFile = strings.TrimSpace(c.SignerKeyFile)
	if c.SignerKey != "" {
		return nil
	}
	switch {
	case c.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("signer_key_env %s is empty", c.SignerKeyEnv)
		}
		c.SignerKey = value
	case c.SignerKeyFile != "":
		contents, err := os.ReadFile(c.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read signer_key_file: %w", err)
		}
		c.SignerKey = strings.TrimSpace(string(contents))
	}
	// An absent signer key is permitted: the daemon comes up read-only and
	// every vault write reports the missing capability instead.
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	secret := strings.TrimSpace(a.JWTSecret)
	switch {
	case secret != "":
	case strings.TrimSpace(a.JWTSecretEnv) != "":
		secret = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.JWTSecretEnv)))
		if secret == "" {
			return fmt.Errorf("jwt_secret_env %s is empty", a.JWTSecretEnv)
		}
	case strings.TrimSpace(a.JWTSecretFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(a.JWTSecretFile))
		if err != nil {
			return fmt.Errorf("read jwt_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.JWTSecret = secret
	return nil
}
