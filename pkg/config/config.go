// Package config loads the chain and bridge configuration from a TOML file and secrets from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/conversion"
	"github.com/sigweihq/simchain/pkg/types"
)

// Environment variables holding secrets
const (
	EnvPrefix          = "SIMCHAIN_"
	EnvSignerKey       = EnvPrefix + "SOLANA_SIGNER_KEY" // relayer keypair of the authority chain
	EnvTreasuryKeyPref = EnvPrefix + "TREASURY_KEY_"     // + upper-cased chain id
	EnvSaltPref        = EnvPrefix + "SALT_"             // + upper-cased chain id, hex
	EnvRelayAPIKey     = EnvPrefix + "RELAY_API_KEY"
	EnvKafkaBrokers    = EnvPrefix + "KAFKA_BROKERS"
)

// Relay kinds
const (
	RelayHTTP  = "http"
	RelayKafka = "kafka"
)

// Config is the full runtime configuration. It is immutable after Load.
type Config struct {
	Authority   string              `toml:"authority"`
	CallTimeout string              `toml:"call_timeout"`
	Chains      []types.ChainConfig `toml:"chains"`
	Fees        FeeConfig           `toml:"fees"`
	Rates       map[string]string   `toml:"rates"`
	Relay       RelayConfig         `toml:"relay"`
	Discovery   DiscoveryConfig     `toml:"discovery"`

	Secrets Secrets `toml:"-"`
}

// FeeConfig overrides the default fee schedule. Empty values keep the defaults.
type FeeConfig struct {
	BaseFeeRate string            `toml:"base_fee_rate"`
	MinFee      string            `toml:"min_fee"`
	MaxFee      string            `toml:"max_fee"`
	Chain       map[string]string `toml:"chain"`
}

// RelayConfig selects how bridge messages leave the process
type RelayConfig struct {
	Kind    string   `toml:"kind"` // "http" or "kafka"
	URLs    []string `toml:"urls"`
	Brokers string   `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// DiscoveryConfig enables public RPC endpoint discovery for EVM chains
type DiscoveryConfig struct {
	Enabled   bool   `toml:"enabled"`
	SourceURL string `toml:"source_url"`
}

// Secrets are read from the environment only
type Secrets struct {
	SignerKey    string
	TreasuryKeys map[string]string
	Salts        map[string][]byte
	RelayAPIKey  string
}

// Load reads the TOML file at path. Secrets come from the environment, after loading envFile
// when it exists. An empty envFile skips the .env step.
func Load(path, envFile string) (*Config, error) {
	if !strings.HasSuffix(path, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	if envFile != "" {
		// the file is optional, env can also come from docker or systemd
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a TOML document and reads secrets from the current environment
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	secrets, err := loadSecrets(cfg.Chains)
	if err != nil {
		return nil, err
	}
	cfg.Secrets = secrets

	if err := verifyConfig(&cfg); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Chains {
		chain := &c.Chains[i]
		chain.ID = strings.ToLower(strings.TrimSpace(chain.ID))
		chain.Kind = strings.ToLower(chain.Kind)
		if chain.Name == "" {
			chain.Name = chain.ID
		}
		if chain.Symbol == "" {
			chain.Symbol = constants.NativeTokens[chain.ID]
		}
		if chain.RPCURL == "" {
			chain.RPCURL = constants.DefaultRPCEndpoints[chain.ID]
		}
	}
	if c.Authority == "" && len(c.Chains) > 0 {
		c.Authority = c.Chains[0].ID
	}
	if c.Relay.Kind == "" {
		c.Relay.Kind = RelayHTTP
	}
	if brokers := os.Getenv(EnvKafkaBrokers); brokers != "" {
		c.Relay.Brokers = brokers
	}
}

func loadSecrets(chains []types.ChainConfig) (Secrets, error) {
	secrets := Secrets{
		SignerKey:    os.Getenv(EnvSignerKey),
		TreasuryKeys: make(map[string]string),
		Salts:        make(map[string][]byte),
		RelayAPIKey:  os.Getenv(EnvRelayAPIKey),
	}
	for _, chain := range chains {
		suffix := envSuffix(chain.ID)
		if key := os.Getenv(EnvTreasuryKeyPref + suffix); key != "" {
			secrets.TreasuryKeys[chain.ID] = key
		}
		if salt := os.Getenv(EnvSaltPref + suffix); salt != "" {
			decoded, err := hex.DecodeString(strings.TrimPrefix(salt, "0x"))
			if err != nil {
				return secrets, fmt.Errorf("invalid salt for chain %s: %w", chain.ID, err)
			}
			secrets.Salts[chain.ID] = decoded
		}
	}
	return secrets, nil
}

func envSuffix(chainID string) string {
	return strings.ToUpper(strings.ReplaceAll(chainID, "-", "_"))
}

func verifyConfig(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}

	seen := make(map[string]bool, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		if chain.ID == "" {
			return fmt.Errorf("chain id is required")
		}
		if seen[chain.ID] {
			return fmt.Errorf("duplicate chain: %s", chain.ID)
		}
		seen[chain.ID] = true

		switch chain.Kind {
		case constants.KindSVM:
			if chain.ProgramID == "" {
				return fmt.Errorf("chain %s: program_id is required", chain.ID)
			}
		case constants.KindEVM:
			if chain.ChainID <= 0 {
				return fmt.Errorf("chain %s: chain_id is required", chain.ID)
			}
		default:
			return fmt.Errorf("chain %s: kind must be %q or %q", chain.ID, constants.KindSVM, constants.KindEVM)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url is required", chain.ID)
		}
	}

	authority, ok := cfg.Chain(cfg.Authority)
	if !ok {
		return fmt.Errorf("authority chain %s is not configured", cfg.Authority)
	}
	if authority.Kind != constants.KindSVM {
		return fmt.Errorf("authority chain must be an %s chain", constants.KindSVM)
	}

	if _, err := cfg.CallTimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.FeeSchedule(); err != nil {
		return err
	}
	if _, err := cfg.RateSource(); err != nil {
		return err
	}

	switch cfg.Relay.Kind {
	case RelayHTTP:
		if len(cfg.Relay.URLs) == 0 {
			return fmt.Errorf("relay.urls is required for the http relay")
		}
	case RelayKafka:
		if cfg.Relay.Brokers == "" || cfg.Relay.Topic == "" {
			return fmt.Errorf("relay.brokers and relay.topic are required for the kafka relay")
		}
	default:
		return fmt.Errorf("relay.kind must be %q or %q", RelayHTTP, RelayKafka)
	}
	return nil
}

// Chain returns the configuration of chainID
func (c *Config) Chain(chainID string) (types.ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.ID == chainID {
			return chain, true
		}
	}
	return types.ChainConfig{}, false
}

// CallTimeoutDuration parses call_timeout, defaulting to constants.AdapterCallTimeout
func (c *Config) CallTimeoutDuration() (time.Duration, error) {
	if c.CallTimeout == "" {
		return constants.AdapterCallTimeout, nil
	}
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid call_timeout %q", c.CallTimeout)
	}
	return d, nil
}

// FeeSchedule merges the configured fees over the defaults
func (c *Config) FeeSchedule() (conversion.FeeSchedule, error) {
	fees := conversion.DefaultFeeSchedule()

	for _, field := range []struct {
		name  string
		value string
		into  *decimal.Decimal
	}{
		{"fees.base_fee_rate", c.Fees.BaseFeeRate, &fees.BaseFeeRate},
		{"fees.min_fee", c.Fees.MinFee, &fees.MinFee},
		{"fees.max_fee", c.Fees.MaxFee, &fees.MaxFee},
	} {
		if field.value == "" {
			continue
		}
		d, err := decimal.NewFromString(field.value)
		if err != nil || d.IsNegative() {
			return fees, fmt.Errorf("invalid %s %q", field.name, field.value)
		}
		*field.into = d
	}
	if fees.MinFee.GreaterThan(fees.MaxFee) {
		return fees, fmt.Errorf("fees.min_fee must not exceed fees.max_fee")
	}

	for chain, value := range c.Fees.Chain {
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fees, fmt.Errorf("invalid fee for chain %s: %q", chain, value)
		}
		fees.ChainFees[chain] = d
	}
	return fees, nil
}

// RateSource returns the static rate table, the configured rates replacing the defaults
func (c *Config) RateSource() (*conversion.StaticRates, error) {
	if len(c.Rates) == 0 {
		return conversion.DefaultRates(), nil
	}
	return conversion.NewStaticRates(c.Rates)
}
