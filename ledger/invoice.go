package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	opCreateInvoice = "create_invoice"
	opPayWithNative = "pay_with_native_coin"
	opPayWithToken  = "pay_with_token"
	opCancelInvoice = "cancel_invoice"
)

const (
	participantIssuer    = "issuer"
	participantRecipient = "recipient"
)

var zeroAddress common.Address

// CreateInvoice records a new invoice issued by the caller and returns its id.
func (l *InvoiceLedger) CreateInvoice(ctx context.Context, call Call, p CreateInvoiceParams) (uint64, error) {
	var id uint64
	err := l.execute(ctx, opCreateInvoice, call, opOptions{pausable: true}, func(ctx context.Context, c *callFrame) error {
		if p.Recipient == zeroAddress {
			return ErrInvalidRecipient
		}
		if p.Recipient == call.From {
			return ErrSelfInvoice
		}
		if !isPositiveInteger(p.Amount) {
			return ErrInvalidAmount
		}
		if p.ContentRef == "" {
			return ErrEmptyContentRef
		}
		if err := p.Asset.validate(); err != nil {
			return err
		}
		if !p.DueDate.After(c.now()) {
			return ErrDueDateNotInFuture
		}

		id = c.params.NextInvoiceID
		rec := &InvoiceRecord{
			ID:          id,
			ContentRef:  p.ContentRef,
			Issuer:      call.From.Hex(),
			Recipient:   p.Recipient.Hex(),
			Amount:      p.Amount,
			AssetKind:   p.Asset.Kind,
			Status:      InvoiceStatusCreated,
			Description: p.Description,
			DueDate:     p.DueDate.UTC(),
			CreatedAt:   c.now(),
		}
		if p.Asset.IsToken() {
			rec.AssetToken = p.Asset.Token.Hex()
		}
		if err := c.tx().Create(rec).Error; err != nil {
			return fmt.Errorf("failed to store invoice: %w", err)
		}
		if err := updateParams(c.tx(), map[string]any{"next_invoice_id": id + 1}); err != nil {
			return err
		}

		participants := []ParticipantRecord{
			{Account: call.From.Hex(), InvoiceID: id, Role: participantIssuer},
			{Account: p.Recipient.Hex(), InvoiceID: id, Role: participantRecipient},
		}
		if err := c.tx().Create(&participants).Error; err != nil {
			return fmt.Errorf("failed to index invoice: %w", err)
		}

		return l.emit(c, EventInvoiceCreated, id, InvoiceCreated{
			InvoiceID:  id,
			Issuer:     call.From,
			Recipient:  p.Recipient,
			Amount:     p.Amount,
			Asset:      p.Asset,
			ContentRef: p.ContentRef,
		}, call.From, p.Recipient)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PayWithNativeCoin pays a native coin invoice with the attached value.
// The net amount goes to the issuer, the fee stays with the contract and
// anything above the invoice amount goes back to the caller.
func (l *InvoiceLedger) PayWithNativeCoin(ctx context.Context, call Call, invoiceID uint64) error {
	return l.execute(ctx, opPayWithNative, call, opOptions{payable: true, pausable: true}, func(ctx context.Context, c *callFrame) error {
		inv, err := loadInvoice(c.tx(), invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusCreated {
			return ErrInvoiceNotPayable
		}
		if !inv.Asset.IsNative() {
			return ErrWrongPaymentMethod
		}
		if call.Value.LessThan(inv.Amount) {
			return ErrInsufficientPayment
		}

		fee, net := splitFee(inv.Amount, c.params.PlatformFeeBps)
		if err := l.markPaid(c, inv, fee); err != nil {
			return err
		}

		if err := l.bank.Transfer(ctx, c.params.Contract, inv.Issuer, net); err != nil {
			return ErrPaymentFailed.because(err)
		}
		if excess := call.Value.Sub(inv.Amount); excess.IsPositive() {
			if err := l.bank.Transfer(ctx, c.params.Contract, call.From, excess); err != nil {
				return ErrRefundFailed.because(err)
			}
		}
		return nil
	})
}

// PayWithToken pays a token invoice out of the caller's allowance to the
// ledger contract: the net amount to the issuer, the fee to the fee collector.
func (l *InvoiceLedger) PayWithToken(ctx context.Context, call Call, invoiceID uint64) error {
	return l.execute(ctx, opPayWithToken, call, opOptions{pausable: true}, func(ctx context.Context, c *callFrame) error {
		inv, err := loadInvoice(c.tx(), invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusCreated {
			return ErrInvoiceNotPayable
		}
		if !inv.Asset.IsToken() {
			return ErrWrongPaymentMethod
		}

		token := l.tokens(inv.Asset.Token)
		balance, err := token.BalanceOf(ctx, call.From)
		if err != nil {
			return err
		}
		if balance.LessThan(inv.Amount) {
			return ErrInsufficientTokenBalance
		}

		fee, net := splitFee(inv.Amount, c.params.PlatformFeeBps)
		if err := l.markPaid(c, inv, fee); err != nil {
			return err
		}

		if err := pullToken(ctx, token, c, inv.Issuer, net, ErrPaymentFailed); err != nil {
			return err
		}
		if fee.IsPositive() {
			return pullToken(ctx, token, c, c.params.FeeCollector, fee, ErrFeeTransferFailed)
		}
		return nil
	})
}

func pullToken(ctx context.Context, token Token, c *callFrame, to common.Address, amount decimal.Decimal, failure *Error) error {
	ok, err := token.TransferFrom(ctx, c.params.Contract, c.call.From, to, amount)
	if err != nil {
		return failure.because(err)
	}
	if !ok {
		return failure
	}
	return nil
}

func (l *InvoiceLedger) markPaid(c *callFrame, inv Invoice, fee decimal.Decimal) error {
	paidAt := c.now()
	if err := setInvoiceStatus(c.tx(), inv.ID, InvoiceStatusCreated, InvoiceStatusPaid,
		map[string]any{"paid_at": paidAt}, ErrInvoiceNotPayable); err != nil {
		return err
	}

	return l.emit(c, EventInvoicePaid, inv.ID, InvoicePaid{
		InvoiceID: inv.ID,
		Payer:     c.call.From,
		Amount:    inv.Amount,
		Fee:       fee,
	}, inv.Issuer, inv.Recipient)
}

// CancelInvoice lets the issuer withdraw an unpaid, undisputed invoice.
func (l *InvoiceLedger) CancelInvoice(ctx context.Context, call Call, invoiceID uint64) error {
	return l.execute(ctx, opCancelInvoice, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		inv, err := loadInvoice(c.tx(), invoiceID)
		if err != nil {
			return err
		}
		if call.From != inv.Issuer {
			return ErrNotIssuer
		}
		if inv.Status != InvoiceStatusCreated {
			return ErrCannotCancel
		}

		if err := setInvoiceStatus(c.tx(), inv.ID, InvoiceStatusCreated, InvoiceStatusCancelled, nil, ErrCannotCancel); err != nil {
			return err
		}
		return l.emit(c, EventInvoiceCancelled, inv.ID, InvoiceCancelled{
			InvoiceID: inv.ID,
			Issuer:    inv.Issuer,
		}, inv.Issuer, inv.Recipient)
	})
}
