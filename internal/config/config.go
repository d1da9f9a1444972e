// Package config loads the server's HCL configuration: network settings,
// chain endpoint, the predefined persistent tables, and vault key
// material locations.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config represents the complete server configuration
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Chain  ChainSettings  `hcl:"chain,block"`
	Redis  RedisSettings  `hcl:"redis,block"`
	Vault  VaultSettings  `hcl:"vault,block"`
	Tables []TableConfig  `hcl:"table,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	RESTPort int    `hcl:"rest_port,optional"`
	LogLevel string `hcl:"log_level,optional"`
	DBPath   string `hcl:"db_path,optional"`
}

// ChainSettings points at the RPC node and treasury used for settlement.
type ChainSettings struct {
	RPCURL          string `hcl:"rpc_url,optional"`
	TreasuryAddress string `hcl:"treasury_address,optional"`
	Commitment      string `hcl:"commitment,optional"`
}

// RedisSettings configures the nonce store backing login.
type RedisSettings struct {
	Address  string `hcl:"address,optional"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional"`
}

// VaultSettings controls payout policy and the development fallback key.
type VaultSettings struct {
	// SharedKeyFile is used for any table without its own key. Development
	// convenience only; production tables each carry a key_file.
	SharedKeyFile    string `hcl:"shared_key_file,optional"`
	SweepDestination string `hcl:"sweep_destination,optional"`
	RentExemptMin    int64  `hcl:"rent_exempt_min,optional"`
	FeeBuffer        int64  `hcl:"fee_buffer,optional"`
}

// TableConfig defines a predefined persistent table. The label is the
// table's stable id (e.g. "table-low-1").
type TableConfig struct {
	ID             string `hcl:"id,label"`
	Name           string `hcl:"name"`
	SmallBlind     int64  `hcl:"small_blind"`
	BigBlind       int64  `hcl:"big_blind"`
	BuyInMin       int64  `hcl:"buy_in_min,optional"`
	BuyInMax       int64  `hcl:"buy_in_max,optional"`
	MaxPlayers     int    `hcl:"max_players,optional"`
	TimeoutSeconds int    `hcl:"timeout_seconds,optional"`
	TokenType      string `hcl:"token_type,optional"`
	Premium        bool   `hcl:"premium,optional"`
	RakePercent    int64  `hcl:"rake_percent,optional"`
	RakeCap        int64  `hcl:"rake_cap,optional"`
	VaultKeyFile   string `hcl:"vault_key_file,optional"`
}

// Default returns the default configuration
func Default() *Config {
	cfg := &Config{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			RESTPort: 8081,
			LogLevel: "info",
			DBPath:   "goldenflop.db",
		},
		Chain: ChainSettings{
			RPCURL:     "http://localhost:8899",
			Commitment: "confirmed",
		},
		Redis: RedisSettings{
			Address: "localhost:6379",
		},
		Vault: VaultSettings{
			RentExemptMin: 890_880,
			FeeBuffer:     100_000,
		},
		Tables: []TableConfig{
			{
				ID:             "table-low-1",
				Name:           "Low Stakes",
				SmallBlind:     10_000,
				BigBlind:       20_000,
				MaxPlayers:     6,
				TimeoutSeconds: 30,
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from an HCL file, falling back to defaults
// when the file does not exist.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RESTPort == 0 {
		c.Server.RESTPort = 8081
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "goldenflop.db"
	}
	if c.Chain.RPCURL == "" {
		c.Chain.RPCURL = "http://localhost:8899"
	}
	if c.Chain.Commitment == "" {
		c.Chain.Commitment = "confirmed"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Vault.RentExemptMin == 0 {
		c.Vault.RentExemptMin = 890_880
	}
	if c.Vault.FeeBuffer == 0 {
		c.Vault.FeeBuffer = 100_000
	}

	for i := range c.Tables {
		t := &c.Tables[i]
		if t.MaxPlayers == 0 {
			t.MaxPlayers = 6
		}
		if t.BuyInMin == 0 {
			t.BuyInMin = t.BigBlind * 50
		}
		if t.BuyInMax == 0 {
			t.BuyInMax = t.BigBlind * 500
		}
		if t.TimeoutSeconds == 0 {
			t.TimeoutSeconds = 30
		}
		if t.TokenType == "" {
			t.TokenType = "SOL"
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.RESTPort < 1 || c.Server.RESTPort > 65535 {
		return fmt.Errorf("invalid rest port: %d", c.Server.RESTPort)
	}

	seen := make(map[string]bool)
	for _, t := range c.Tables {
		if seen[t.ID] {
			return fmt.Errorf("duplicate table id %s", t.ID)
		}
		seen[t.ID] = true

		if t.SmallBlind <= 0 {
			return fmt.Errorf("table %s: small blind must be positive", t.ID)
		}
		if t.BigBlind <= t.SmallBlind {
			return fmt.Errorf("table %s: big blind must be greater than small blind", t.ID)
		}
		if t.MaxPlayers < 2 || t.MaxPlayers > 9 {
			return fmt.Errorf("table %s: max players must be between 2 and 9", t.ID)
		}
		if t.BuyInMin >= t.BuyInMax {
			return fmt.Errorf("table %s: buy-in minimum must be less than maximum", t.ID)
		}
		if t.RakePercent < 0 || t.RakePercent > 10 {
			return fmt.Errorf("table %s: rake percent out of range", t.ID)
		}
	}

	return nil
}

// Addr returns the websocket listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// RESTAddr returns the REST listen address.
func (c *Config) RESTAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.RESTPort)
}
