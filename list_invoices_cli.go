package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
)

const (
	listInvoicesPageSize = uint64(50)
	maxListInvoicesPage  = math.MaxUint64/listInvoicesPageSize + 1
)

// renderInvoices prints invoices as a table to w.
func renderInvoices(w io.Writer, invoices []ledger.Invoice) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Status", "Issuer", "Recipient", "Amount", "Asset", "Due", "Paid"})
	t.AppendSeparator()

	for _, inv := range invoices {
		paid := "-"
		if !inv.PaidAt.IsZero() {
			paid = inv.PaidAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			inv.ID,
			inv.Status.String(),
			inv.Issuer.Hex(),
			inv.Recipient.Hex(),
			inv.Amount.String(),
			inv.Asset.String(),
			inv.DueDate.Format(time.RFC3339),
			paid,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d invoices", len(invoices))})
	t.Render()
}

func loadInvoices(ctx context.Context, l *ledger.InvoiceLedger, ids []uint64) ([]ledger.Invoice, error) {
	invoices := make([]ledger.Invoice, 0, len(ids))
	for _, id := range ids {
		inv, err := l.GetInvoice(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get invoice %d: %w", id, err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// parseListInvoicesArgs reads "<status> [page]". Pages start at 1.
func parseListInvoicesArgs(args []string) (ledger.InvoiceStatus, uint64, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", 0, errors.New("usage: invoicenode list-invoices <status> [page]")
	}

	status, err := ledger.ParseInvoiceStatus(args[0])
	if err != nil {
		return "", 0, err
	}

	page := uint64(1)
	if len(args) == 2 {
		page, err = strconv.ParseUint(args[1], 10, 64)
		if err != nil || page == 0 {
			return "", 0, fmt.Errorf("invalid page: %q", args[1])
		}
		if page > maxListInvoicesPage {
			return "", 0, fmt.Errorf("page %d out of range", page)
		}
	}
	return status, page, nil
}

// listInvoicesPage loads one page of the invoices in status.
func listInvoicesPage(ctx context.Context, l *ledger.InvoiceLedger, status ledger.InvoiceStatus, page uint64) ([]ledger.Invoice, error) {
	ids, err := l.InvoicesByStatus(ctx, status, listInvoicesPageSize, (page-1)*listInvoicesPageSize)
	if err != nil {
		return nil, err
	}
	return loadInvoices(ctx, l, ids)
}

// runListInvoicesCli prints one page of the invoices in a status.
// Example: invoicenode list-invoices disputed 2
func runListInvoicesCli(logger log.Logger) {
	logger = logger.WithName("list-invoices")

	status, page, err := parseListInvoicesArgs(os.Args[2:])
	if err != nil {
		logger.Fatal("Invalid arguments", "error", err)
	}

	ctx := context.Background()
	stack := openLedgerStack(ctx, logger)

	invoices, err := listInvoicesPage(ctx, stack.Ledger, status, page)
	if err != nil {
		logger.Fatal("Failed to list invoices", "error", err)
	}
	renderInvoices(os.Stdout, invoices)
}
