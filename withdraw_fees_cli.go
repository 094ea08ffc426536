package main

import (
	"context"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
)

// withdrawFees sends the collected native fees to admin and returns the
// amount together with the admin balance afterwards.
func withdrawFees(ctx context.Context, stack *LedgerStack, admin common.Address) (amount, balance decimal.Decimal, err error) {
	amount, err = stack.Ledger.WithdrawFees(ctx, ledger.Call{From: admin})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	balance, err = stack.Bank.Balance(ctx, admin)
	if err != nil {
		return amount, decimal.Zero, err
	}
	return amount, balance, nil
}

// runWithdrawFeesCli sends the collected fees to the admin account.
// Example: invoicenode withdraw-fees
func runWithdrawFeesCli(logger log.Logger) {
	logger = logger.WithName("withdraw-fees")
	if len(os.Args) != 2 {
		logger.Fatal("Usage: invoicenode withdraw-fees")
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	adminSigner, err := config.AdminSigner()
	if err != nil {
		logger.Fatal("Failed to initialize admin signer", "error", err)
	}

	ctx := context.Background()
	stack := openLedgerStack(ctx, logger)

	amount, balance, err := withdrawFees(ctx, stack, adminSigner.Address())
	if err != nil {
		logger.Fatal("Failed to withdraw fees", "error", err)
	}
	logger.Info("Fees withdrawn", "to", adminSigner.Address().Hex(), "amount", amount.String(), "balance", balance.String())
}
