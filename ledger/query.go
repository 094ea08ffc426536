package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GetInvoice returns an invoice or ErrInvoiceNotFound.
func (l *InvoiceLedger) GetInvoice(ctx context.Context, id uint64) (Invoice, error) {
	var inv Invoice
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		var err error
		inv, err = loadInvoice(tx, id)
		return err
	})
	return inv, err
}

// GetDispute returns the dispute of an invoice. An invoice that was never
// disputed yields a dispute with status None; an unknown invoice yields
// ErrInvoiceNotFound.
func (l *InvoiceLedger) GetDispute(ctx context.Context, invoiceID uint64) (Dispute, error) {
	var d Dispute
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		if _, err := loadInvoice(tx, invoiceID); err != nil {
			return err
		}
		var err error
		d, err = loadDispute(tx, invoiceID)
		return err
	})
	return d, err
}

// UserInvoices lists the ids of the invoices addr issued or received, in
// the order it became a party to them.
func (l *InvoiceLedger) UserInvoices(ctx context.Context, addr common.Address) ([]uint64, error) {
	ids := []uint64{}
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		return tx.Model(&ParticipantRecord{}).
			Where("account = ?", addr.Hex()).
			Order("seq ASC").
			Pluck("invoice_id", &ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices of %s: %w", addr.Hex(), err)
	}
	return ids, nil
}

// InvoicesByStatus pages through the ids of invoices in status, in
// ascending id order. An offset at or past the number of matches yields an
// empty page; a zero limit returns every match from offset on.
func (l *InvoiceLedger) InvoicesByStatus(ctx context.Context, status InvoiceStatus, limit, offset uint64) ([]uint64, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatusFilter
	}

	ids := []uint64{}
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&InvoiceRecord{}).Where("status = ?", status).Count(&count).Error; err != nil {
			return err
		}
		if offset >= uint64(count) {
			return nil
		}

		size := uint64(count) - offset
		if limit > 0 && limit < size {
			size = limit
		}

		return tx.Model(&InvoiceRecord{}).
			Where("status = ?", status).
			Order("id ASC").
			Offset(int(offset)).
			Limit(int(size)).
			Pluck("id", &ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s invoices: %w", status, err)
	}
	return ids, nil
}

// CountByStatus returns the number of invoices per status.
func (l *InvoiceLedger) CountByStatus(ctx context.Context) (map[InvoiceStatus]int64, error) {
	type row struct {
		Status InvoiceStatus
		Count  int64
	}

	var rows []row
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		return tx.Model(&InvoiceRecord{}).
			Select("status, COUNT(*) as count").
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[InvoiceStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Params returns the global parameters.
func (l *InvoiceLedger) Params(ctx context.Context) (Params, error) {
	var p Params
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		var err error
		p, err = loadParams(tx, false)
		return err
	})
	return p, err
}

// IsResolver reports whether addr is in the resolver set.
func (l *InvoiceLedger) IsResolver(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		var err error
		ok, err = isResolver(tx, addr)
		return err
	})
	return ok, err
}

// ContractBalance returns the native coin held by the contract, collected
// fees and escrowed dispute fees together.
func (l *InvoiceLedger) ContractBalance(ctx context.Context) (decimal.Decimal, error) {
	p, err := l.Params(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return l.bank.Balance(ctx, p.Contract)
}

// InvoiceEvents returns the events emitted for an invoice, oldest first.
func (l *InvoiceLedger) InvoiceEvents(ctx context.Context, invoiceID uint64) ([]Event, error) {
	var recs []EventRecord
	err := l.host.View(ctx, func(tx *gorm.DB) error {
		return tx.Where("invoice_id = ?", invoiceID).Order("id ASC").Find(&recs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load events of invoice %d: %w", invoiceID, err)
	}

	events := make([]Event, len(recs))
	for i, rec := range recs {
		events[i] = rec.toEvent()
	}
	return events, nil
}
