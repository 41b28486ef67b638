// Package config loads the scanner configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// SourceConfig names one event stream endpoint.
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ScannerConfig is the full configuration of the scanner binary.
type ScannerConfig struct {
	Sources []SourceConfig `yaml:"sources"`

	// PairFiles are JSONL files from the factory scanner; PoolDatabase
	// is the harvester's sqlite file. At least one must be set.
	PairFiles    []string `yaml:"pairFiles"`
	PoolDatabase string   `yaml:"poolDatabase"`

	// TaxReport is the JSONL output of the token tax simulator.
	// Optional; without it every token is treated as untaxed.
	TaxReport string `yaml:"taxReport"`

	BaseTokens  []string          `yaml:"baseTokens"`
	VenueFeeBps map[string]uint32 `yaml:"venueFeeBps"`

	MaxHops      int     `yaml:"maxHops"`
	Workers      int     `yaml:"workers"`
	MinProfitUSD float64 `yaml:"minProfitUSD"`

	EventBufferSize int           `yaml:"eventBufferSize"`
	MaxRetries      int           `yaml:"maxRetries"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`

	MetricsAddr string `yaml:"metricsAddr"`
}

func (c *ScannerConfig) validate() error {
	if len(c.Sources) == 0 {
		return errors.New("config: at least one source is required")
	}
	for i, src := range c.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("config: source %d needs both name and url", i)
		}
	}
	if len(c.PairFiles) == 0 && c.PoolDatabase == "" {
		return errors.New("config: pairFiles or poolDatabase is required")
	}
	if len(c.BaseTokens) == 0 {
		return errors.New("config: at least one base token is required")
	}
	for _, tok := range c.BaseTokens {
		if !common.IsHexAddress(tok) {
			return fmt.Errorf("config: invalid base token address %q", tok)
		}
	}
	return nil
}

// BaseTokenAddresses parses the configured base tokens. Call after
// LoadConfig has validated them.
func (c *ScannerConfig) BaseTokenAddresses() []common.Address {
	addrs := make([]common.Address, len(c.BaseTokens))
	for i, tok := range c.BaseTokens {
		addrs[i] = common.HexToAddress(tok)
	}
	return addrs
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*ScannerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg ScannerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
