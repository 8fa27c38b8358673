package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"xswap/pkg/chain"
)

// ChainConfig describes one tracked chain
type ChainConfig struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Family        string `mapstructure:"family"`
	RPCURL        string `mapstructure:"rpc_url"`
	LCDURL        string `mapstructure:"lcd_url"`
	EVMChainID    int64  `mapstructure:"evm_chain_id"`
	XCallAddress  string `mapstructure:"xcall_address"`
	IntentAddress string `mapstructure:"intent_address"`
	HeightNetwork string `mapstructure:"height_network"`
	SafetyMargin  uint64 `mapstructure:"safety_margin"`
	MaxScanBlocks uint64 `mapstructure:"max_scan_blocks"`
	GasLimit      uint64 `mapstructure:"gas_limit"`
	GasPrice      string `mapstructure:"gas_price"`
	AddressPrefix string `mapstructure:"address_prefix"`
	PrivateKey    string `mapstructure:"private_key"`
	SkipPreflight bool   `mapstructure:"skip_preflight"`
	Commitment    string `mapstructure:"commitment"`
	NativeToken   string `mapstructure:"native_token"`

	Tokens []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig maps a symbol to its address on one chain
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// Token looks a token up by symbol or address.
func (c ChainConfig) Token(symbolOrAddress string) (TokenConfig, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbolOrAddress) || strings.EqualFold(t.Address, symbolOrAddress) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// Settings returns the tracking parameters of the chain.
func (c ChainConfig) Settings() chain.Settings {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return chain.Settings{
		Name:          name,
		SafetyMargin:  c.SafetyMargin,
		MaxScanBlocks: c.MaxScanBlocks,
		NativeToken:   c.NativeToken,
	}
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HeightConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Interval time.Duration `mapstructure:"interval"`
}

type RelayConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

type IntentConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SolverConfig struct {
	// Backend is "native" or "oneclick".
	Backend         string `mapstructure:"backend"`
	BaseURL         string `mapstructure:"base_url"`
	JWTToken        string `mapstructure:"jwt_token"`
	ExecuteAttempts uint   `mapstructure:"execute_attempts"`
	// Recipient and RefundTo are only used by the oneclick backend.
	Recipient string `mapstructure:"recipient"`
	RefundTo  string `mapstructure:"refund_to"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Config holds the application configuration
type Config struct {
	HubChainID string        `mapstructure:"hub_chain_id"`
	StorageDir string        `mapstructure:"storage_dir"`
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`
	Log        LogConfig     `mapstructure:"log"`
	Height     HeightConfig  `mapstructure:"height"`
	Relay      RelayConfig   `mapstructure:"relay"`
	Intent     IntentConfig  `mapstructure:"intent"`
	Solver     SolverConfig  `mapstructure:"solver"`
	API        APIConfig     `mapstructure:"api"`
	NATS       NATSConfig    `mapstructure:"nats"`
	Chains     []ChainConfig `mapstructure:"chains"`
}

var globalConfig *Config

// configFile is set by --config.
var configFile string

// SetConfigFile makes Load read the given file instead of searching for .xswap.yaml.
func SetConfigFile(path string) {
	configFile = path
}

// Every key gets a default so that AutomaticEnv applies to it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("hub_chain_id", "")
	v.SetDefault("storage_dir", "")
	v.SetDefault("rpc_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("height.endpoint", "")
	v.SetDefault("height.interval", 2*time.Second)
	v.SetDefault("relay.interval", 5*time.Second)
	v.SetDefault("relay.concurrency", 8)
	v.SetDefault("intent.interval", 5*time.Second)
	v.SetDefault("solver.backend", "native")
	v.SetDefault("solver.base_url", "")
	v.SetDefault("solver.jwt_token", "")
	v.SetDefault("solver.execute_attempts", 3)
	v.SetDefault("solver.recipient", "")
	v.SetDefault("solver.refund_to", "")
	v.SetDefault("api.listen", "127.0.0.1:8089")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "xswap")
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".xswap")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("XSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// the config file is optional unless named explicitly
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		c.Family = strings.ToLower(c.Family)
		if c.SafetyMargin == 0 {
			c.SafetyMargin = chain.DefaultSafetyMargin
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules viper cannot express.
func (c *Config) Validate() error {
	if c.HubChainID == "" {
		return fmt.Errorf("hub_chain_id not configured. Please set XSWAP_HUB_CHAIN_ID or add it to .xswap.yaml")
	}
	seen := make(map[string]bool, len(c.Chains))
	hub := false
	for _, ch := range c.Chains {
		if ch.ID == "" {
			return fmt.Errorf("chain without id")
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate chain id %q", ch.ID)
		}
		seen[ch.ID] = true
		if !chain.Family(ch.Family).Valid() {
			return fmt.Errorf("chain %s: unknown family %q", ch.ID, ch.Family)
		}
		if ch.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url not configured", ch.ID)
		}
		if ch.ID == c.HubChainID {
			hub = true
		}
		for _, t := range ch.Tokens {
			if t.Symbol == "" || t.Address == "" {
				return fmt.Errorf("chain %s: token needs symbol and address", ch.ID)
			}
		}
	}
	if len(c.Chains) > 0 && !hub {
		return fmt.Errorf("hub chain %q is not among the configured chains", c.HubChainID)
	}
	switch c.Solver.Backend {
	case "native", "oneclick":
	default:
		return fmt.Errorf("unknown solver backend %q", c.Solver.Backend)
	}
	return nil
}

// Chain returns the configuration of chainID.
func (c *Config) Chain(chainID string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// HeightNetworks maps height endpoint network names to chain ids.
func (c *Config) HeightNetworks() map[string]string {
	out := make(map[string]string)
	for _, ch := range c.Chains {
		if ch.HeightNetwork != "" {
			out[ch.HeightNetwork] = ch.ID
		}
	}
	return out
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
