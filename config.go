package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/sign"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "INVOICENODE_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	defaultMessageExpiry = 60 // in seconds
)

// LedgerConfig holds the deployment settings of the invoice ledger.
type LedgerConfig struct {
	// DisputeFee is in the smallest native coin unit (0.01 coin by default).
	DisputeFee string `env:"INVOICENODE_DISPUTE_FEE" env-default:"10000000000000000"`
	// FeeCollector receives platform fees of token payments. Empty means the admin.
	FeeCollector string `env:"INVOICENODE_FEE_COLLECTOR" env-default:""`
}

// Config represents the overall application configuration
type Config struct {
	mode          Mode
	tokens        TokensConfig
	nodeKeyHex    string
	adminKeyHex   string
	dbConf        DatabaseConfig
	ledgerConf    LedgerConfig
	msgExpiryTime int // seconds a signed request stays valid
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("INVOICENODE_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		return nil, fmt.Errorf("invalid INVOICENODE_MODE value: %s", mode)
	}
	logger.Info("set mode", "value", mode)

	// A database URL wins over the individual database variables.
	var dbConf DatabaseConfig
	if dbURL := os.Getenv("INVOICENODE_DATABASE_URL"); dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	var ledgerConf LedgerConfig
	if err := cleanenv.ReadEnv(&ledgerConf); err != nil {
		logger.Error("failed to read env", "err", err)
		return nil, err
	}
	if err := ledgerConf.validate(); err != nil {
		return nil, err
	}

	nodeKeyHex := os.Getenv("INVOICENODE_PRIVATE_KEY")
	if nodeKeyHex == "" {
		return nil, fmt.Errorf("INVOICENODE_PRIVATE_KEY environment variable is required")
	}
	adminKeyHex := os.Getenv("INVOICENODE_ADMIN_PRIVATE_KEY")
	if adminKeyHex == "" {
		logger.Warn("INVOICENODE_ADMIN_PRIVATE_KEY is not set, the node key is the ledger admin")
		adminKeyHex = nodeKeyHex
	}

	messageTimestampExpiry := defaultMessageExpiry
	if messageExpiry := os.Getenv("INVOICENODE_MSG_EXPIRY"); messageExpiry != "" {
		if parsed, err := strconv.Atoi(messageExpiry); err == nil && parsed > 0 {
			messageTimestampExpiry = parsed
		} else {
			logger.Warn("invalid INVOICENODE_MSG_EXPIRY", "messageExpiry", messageExpiry)
		}
	}
	logger.Info("set message expiry time", "value", messageTimestampExpiry)

	tokens, err := LoadTokens(configDirPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load tokens: %w", err)
		}
		logger.Warn("tokens file not found, only native coin invoices can be settled")
	}

	config := Config{
		mode:          mode,
		tokens:        tokens,
		nodeKeyHex:    nodeKeyHex,
		adminKeyHex:   adminKeyHex,
		dbConf:        dbConf,
		ledgerConf:    ledgerConf,
		msgExpiryTime: messageTimestampExpiry,
	}

	return &config, nil
}

func (c LedgerConfig) validate() error {
	fee, err := decimal.NewFromString(c.DisputeFee)
	if err != nil || fee.IsNegative() || !fee.Equal(fee.Truncate(0)) {
		return fmt.Errorf("invalid INVOICENODE_DISPUTE_FEE: %q", c.DisputeFee)
	}
	if c.FeeCollector != "" && !contractAddressRegex.MatchString(c.FeeCollector) {
		return fmt.Errorf("invalid INVOICENODE_FEE_COLLECTOR: %q", c.FeeCollector)
	}
	return nil
}

func (c LedgerConfig) disputeFee() decimal.Decimal {
	// validated by LoadConfig
	return decimal.RequireFromString(c.DisputeFee)
}

func (c LedgerConfig) feeCollector() common.Address {
	if c.FeeCollector == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.FeeCollector)
}

// AdminSigner returns the signer of the ledger admin.
func (c *Config) AdminSigner() (*sign.EthereumSigner, error) {
	signer, err := sign.NewEthereumSigner(c.adminKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid admin private key: %w", err)
	}
	return signer, nil
}

// ContractAddress is where the ledger keeps collected fees and escrowed
// dispute fees: the first contract the admin deploys.
func ContractAddress(admin common.Address) common.Address {
	return crypto.CreateAddress(admin, 0)
}

