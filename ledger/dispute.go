package ledger

import (
	"context"
	"fmt"
)

const (
	opRaiseDispute   = "raise_dispute"
	opResolveDispute = "resolve_dispute"
)

// RaiseDispute opens the dispute of an invoice. The attached value must
// cover the dispute fee; the fee in force is escrowed and refunded to the
// caller on resolution, anything above it is kept by the contract.
func (l *InvoiceLedger) RaiseDispute(ctx context.Context, call Call, invoiceID uint64, reason string) error {
	return l.execute(ctx, opRaiseDispute, call, opOptions{payable: true, pausable: true}, func(ctx context.Context, c *callFrame) error {
		inv, err := loadInvoice(c.tx(), invoiceID)
		if err != nil {
			return err
		}
		if !inv.IsParty(call.From) {
			return ErrNotParty
		}
		if inv.Status != InvoiceStatusCreated && inv.Status != InvoiceStatusPaid {
			return ErrCannotDispute
		}

		existing, err := loadDispute(c.tx(), inv.ID)
		if err != nil {
			return err
		}
		if existing.Status != DisputeStatusNone {
			return ErrDisputeExists
		}
		if call.Value.LessThan(c.params.DisputeFee) {
			return ErrInsufficientDisputeFee
		}

		fee := c.params.DisputeFee
		rec := &DisputeRecord{
			InvoiceID: inv.ID,
			Initiator: call.From.Hex(),
			Reason:    reason,
			Status:    DisputeStatusRaised,
			FeePaid:   fee,
			CreatedAt: c.now(),
		}
		if err := c.tx().Create(rec).Error; err != nil {
			return fmt.Errorf("failed to store dispute: %w", err)
		}
		if err := setInvoiceStatus(c.tx(), inv.ID, inv.Status, InvoiceStatusDisputed, nil, ErrCannotDispute); err != nil {
			return err
		}
		if err := updateParams(c.tx(), map[string]any{
			"escrowed_dispute_fees": c.params.EscrowedDisputeFees.Add(fee),
		}); err != nil {
			return err
		}

		return l.emit(c, EventInvoiceDisputed, inv.ID, InvoiceDisputed{
			InvoiceID: inv.ID,
			Initiator: call.From,
			Reason:    reason,
		}, inv.Issuer, inv.Recipient)
	})
}

// ResolveDispute closes a raised dispute, moving the invoice to Paid or
// Cancelled, and refunds the escrowed fee to the initiator. Resolving to
// Paid moves no invoice funds: it records a settlement made elsewhere.
func (l *InvoiceLedger) ResolveDispute(ctx context.Context, call Call, invoiceID uint64, newStatus InvoiceStatus) error {
	return l.execute(ctx, opResolveDispute, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		inv, err := loadInvoice(c.tx(), invoiceID)
		if err != nil {
			return err
		}

		allowed, err := l.policy.CanResolve(ctx, call.From)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrNotResolver
		}
		if newStatus != InvoiceStatusPaid && newStatus != InvoiceStatusCancelled {
			return ErrInvalidResolution
		}

		dispute, err := loadDispute(c.tx(), inv.ID)
		if err != nil {
			return err
		}
		if dispute.Status != DisputeStatusRaised {
			return ErrDisputeNotActive
		}

		if err := setInvoiceStatus(c.tx(), inv.ID, InvoiceStatusDisputed, newStatus, nil, ErrDisputeNotActive); err != nil {
			return err
		}
		res := c.tx().Model(&DisputeRecord{}).
			Where("invoice_id = ? AND status = ?", inv.ID, DisputeStatusRaised).
			Updates(map[string]any{
				"status":      DisputeStatusResolved,
				"resolver":    call.From.Hex(),
				"resolved_at": c.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update dispute %d: %w", inv.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrDisputeNotActive
		}
		if err := updateParams(c.tx(), map[string]any{
			"escrowed_dispute_fees": c.params.EscrowedDisputeFees.Sub(dispute.FeePaid),
		}); err != nil {
			return err
		}

		if err := l.emit(c, EventDisputeResolved, inv.ID, DisputeResolved{
			InvoiceID: inv.ID,
			Resolver:  call.From,
			Status:    newStatus,
		}, inv.Issuer, inv.Recipient); err != nil {
			return err
		}

		if err := l.bank.Transfer(ctx, c.params.Contract, dispute.Initiator, dispute.FeePaid); err != nil {
			return ErrRefundFailed.because(err)
		}
		return nil
	})
}
