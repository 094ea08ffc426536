package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/chainbill/invoicenode/pkg/rpc"
)

const (
	tokensFileName = "tokens.yaml"
)

var contractAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// TokensConfig lists the token contracts invoices may settle in.
type TokensConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig describes one token contract.
type TokenConfig struct {
	// Name defaults to Symbol.
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	// Address must be 0x followed by 40 hex characters.
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	// Disabled tokens are ignored.
	Disabled bool `yaml:"disabled"`
}

// LoadTokens reads and validates <configDirPath>/tokens.yaml.
func LoadTokens(configDirPath string) (TokensConfig, error) {
	tokensPath := filepath.Join(configDirPath, tokensFileName)
	f, err := os.Open(tokensPath)
	if err != nil {
		return TokensConfig{}, err
	}
	defer f.Close()

	var cfg TokensConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return TokensConfig{}, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return TokensConfig{}, err
	}

	return cfg, nil
}

func (cfg *TokensConfig) verifyVariables() error {
	seen := make(map[string]bool)
	for i, token := range cfg.Tokens {
		if token.Disabled {
			continue
		}

		if token.Symbol == "" {
			return fmt.Errorf("missing token symbol for token[%d]", i)
		}
		if token.Name == "" {
			cfg.Tokens[i].Name = token.Symbol
		}

		if token.Address == "" {
			return fmt.Errorf("missing %s token address", token.Symbol)
		} else if !contractAddressRegex.MatchString(token.Address) {
			return fmt.Errorf("invalid %s token address '%s'", token.Symbol, token.Address)
		}

		key := strings.ToLower(token.Address)
		if seen[key] {
			return fmt.Errorf("duplicate token address '%s'", token.Address)
		}
		seen[key] = true
	}

	return nil
}

// Enabled returns the tokens that are not disabled.
func (cfg TokensConfig) Enabled() []TokenConfig {
	var tokens []TokenConfig
	for _, token := range cfg.Tokens {
		if !token.Disabled {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// GetTokenByAddress looks up an enabled token by its contract address.
func (cfg TokensConfig) GetTokenByAddress(address common.Address) (TokenConfig, bool) {
	for _, token := range cfg.Enabled() {
		if common.HexToAddress(token.Address) == address {
			return token, true
		}
	}
	return TokenConfig{}, false
}

func (t TokenConfig) toTokenInfo() rpc.TokenInfo {
	return rpc.TokenInfo{
		Address:  common.HexToAddress(t.Address).Hex(),
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: t.Decimals,
	}
}
