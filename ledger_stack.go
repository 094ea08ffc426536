package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/chainbill/invoicenode/chain"
	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
)

// LedgerStack is the world state and the invoice ledger deployed on it.
type LedgerStack struct {
	Host     *chain.Host
	Bank     *chain.Bank
	Tokens   *chain.TokenBook
	Ledger   *ledger.InvoiceLedger
	Admin    common.Address
	Contract common.Address
}

// NewLedgerStack builds the ledger on db and deploys it when db holds no
// deployment yet. An existing deployment is kept as is.
func NewLedgerStack(ctx context.Context, db *gorm.DB, admin common.Address, conf LedgerConfig, sink ledger.EventSink, logger log.Logger) (*LedgerStack, error) {
	host := chain.NewHost(db, chain.SystemClock{})
	bank := chain.NewBank(host)
	tokens := chain.NewTokenBook(host)

	invoiceLedger := ledger.New(
		host,
		bank,
		func(addr common.Address) ledger.Token { return tokens.Token(addr) },
		ledger.NewRegistryPolicy(host),
		sink,
		logger,
	)

	contract := ContractAddress(admin)
	deployed, err := invoiceLedger.Deploy(ctx, ledger.DeployConfig{
		Admin:        admin,
		Contract:     contract,
		FeeCollector: conf.feeCollector(),
		DisputeFee:   conf.disputeFee(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy ledger: %w", err)
	}

	params, err := invoiceLedger.Params(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger params: %w", err)
	}
	if !deployed && params.Admin != admin {
		logger.Warn("ledger was deployed by another admin", "configured", admin.Hex(), "deployed", params.Admin.Hex())
	}

	return &LedgerStack{
		Host:     host,
		Bank:     bank,
		Tokens:   tokens,
		Ledger:   invoiceLedger,
		Admin:    params.Admin,
		Contract: params.Contract,
	}, nil
}
