package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
)

// ExportOptions contains options for exporting invoices
type ExportOptions struct {
	Address   common.Address
	Status    *ledger.InvoiceStatus
	OutputDir string
}

// InvoiceExporter handles exporting the invoices of an address to CSV
type InvoiceExporter struct {
	ledger *ledger.InvoiceLedger
}

func NewInvoiceExporter(l *ledger.InvoiceLedger) *InvoiceExporter {
	return &InvoiceExporter{
		ledger: l,
	}
}

// ExportToCSV writes one row per invoice the address is a party to
func (e *InvoiceExporter) ExportToCSV(ctx context.Context, writer io.Writer, options ExportOptions) error {
	ids, err := e.ledger.UserInvoices(ctx, options.Address)
	if err != nil {
		return fmt.Errorf("failed to get invoices: %w", err)
	}

	csvWriter := csv.NewWriter(writer)

	header := []string{"ID", "Status", "Issuer", "Recipient", "Amount", "Asset", "ContentRef", "Description", "CreatedAt", "DueDate", "PaidAt"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	for _, id := range ids {
		inv, err := e.ledger.GetInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get invoice %d: %w", id, err)
		}
		if options.Status != nil && inv.Status != *options.Status {
			continue
		}

		paidAt := ""
		if !inv.PaidAt.IsZero() {
			paidAt = inv.PaidAt.String()
		}
		row := []string{
			fmt.Sprintf("%d", inv.ID),
			inv.Status.String(),
			inv.Issuer.Hex(),
			inv.Recipient.Hex(),
			inv.Amount.String(),
			inv.Asset.String(),
			inv.ContentRef,
			inv.Description,
			inv.CreatedAt.String(),
			inv.DueDate.String(),
			paidAt,
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ExportToFile exports invoices to a CSV file named after the address
func (e *InvoiceExporter) ExportToFile(ctx context.Context, options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("invoices_%s.csv", options.Address.Hex()))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(ctx, file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

// runExportInvoicesCli is the entry point for the export-invoices command.
// Example: invoicenode export-invoices 0xAbc... paid
func runExportInvoicesCli(logger log.Logger) {
	logger = logger.WithName("export-invoices")
	if len(os.Args) < 3 || len(os.Args) > 4 {
		logger.Fatal("Usage: invoicenode export-invoices <address> [status]")
	}

	if !common.IsHexAddress(os.Args[2]) {
		logger.Fatal("Invalid address", "value", os.Args[2])
	}
	address := common.HexToAddress(os.Args[2])

	var status *ledger.InvoiceStatus
	if len(os.Args) > 3 {
		parsed, err := ledger.ParseInvoiceStatus(os.Args[3])
		if err != nil {
			logger.Fatal("Invalid invoice status", "status", os.Args[3], "error", err)
		}
		status = &parsed
	}

	ctx := context.Background()
	stack := openLedgerStack(ctx, logger)

	exporter := NewInvoiceExporter(stack.Ledger)
	fileName, err := exporter.ExportToFile(ctx, ExportOptions{
		Address:   address,
		Status:    status,
		OutputDir: "csv_export",
	})
	if err != nil {
		logger.Fatal("Failed to export invoices", "error", err)
	}
	logger.Info("Successfully exported invoices", "file", fileName)
}

// openLedgerStack loads the node configuration and opens the ledger it
// serves. Events of CLI calls are not pushed anywhere.
func openLedgerStack(ctx context.Context, logger log.Logger) *LedgerStack {
	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf, logger)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	adminSigner, err := config.AdminSigner()
	if err != nil {
		logger.Fatal("Failed to initialize admin signer", "error", err)
	}

	stack, err := NewLedgerStack(ctx, db, adminSigner.Address(), config.ledgerConf, nil, logger)
	if err != nil {
		logger.Fatal("Failed to open ledger", "error", err)
	}
	return stack
}
