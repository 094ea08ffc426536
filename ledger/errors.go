package ledger

import (
	"errors"
)

// Kind classifies why a call was rejected.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindTransfer
	KindLookup
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindTransfer:
		return "transfer"
	case KindLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// Error is a rejected call. Reason is safe to show to the caller.
// Two errors match with errors.Is when kind and reason are equal, so the
// sentinels below match wrapped variants carrying a cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == e.Reason
}

// because returns a copy of e carrying cause.
func (e *Error) because(cause error) *Error {
	return &Error{Kind: e.Kind, Reason: e.Reason, Err: cause}
}

func newError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

var (
	ErrInvalidRecipient       = newError(KindValidation, "Invalid recipient")
	ErrSelfInvoice            = newError(KindValidation, "Cannot invoice yourself")
	ErrInvalidAmount          = newError(KindValidation, "Amount must be a positive integer")
	ErrEmptyContentRef        = newError(KindValidation, "Content reference required")
	ErrDueDateNotInFuture     = newError(KindValidation, "Due date must be in the future")
	ErrInvalidAsset           = newError(KindValidation, "Invalid settlement asset")
	ErrWrongPaymentMethod     = newError(KindValidation, "Wrong payment method for settlement asset")
	ErrInsufficientPayment    = newError(KindValidation, "Insufficient payment")
	ErrInsufficientDisputeFee = newError(KindValidation, "Insufficient dispute fee")
	ErrInvalidResolution      = newError(KindValidation, "Invalid resolution status")
	ErrFeeTooHigh             = newError(KindValidation, "Fee too high")
	ErrInvalidFee             = newError(KindValidation, "Fee must be a non-negative integer")
	ErrInvalidValue           = newError(KindValidation, "Attached value must be a non-negative integer")
	ErrNotPayable             = newError(KindValidation, "Operation does not accept value")
	ErrInvalidAddress         = newError(KindValidation, "Invalid address")
	ErrInvalidStatusFilter    = newError(KindValidation, "Invalid status")

	ErrNotParty    = newError(KindAuthorization, "Not invoice party")
	ErrNotIssuer   = newError(KindAuthorization, "Only issuer can cancel")
	ErrNotResolver = newError(KindAuthorization, "Not authorized resolver")
	ErrNotAdmin    = newError(KindAuthorization, "Only admin")

	ErrInvoiceNotPayable = newError(KindState, "Invoice not payable")
	ErrCannotDispute     = newError(KindState, "Invoice cannot be disputed")
	ErrDisputeExists     = newError(KindState, "Dispute already exists")
	ErrDisputeNotActive  = newError(KindState, "Dispute not active")
	ErrCannotCancel      = newError(KindState, "Cannot cancel invoice")
	ErrNoFeesToWithdraw  = newError(KindState, "No fees to withdraw")
	ErrPaused            = newError(KindState, "Ledger is paused")
	ErrNotDeployed       = newError(KindState, "Ledger is not deployed")

	ErrValueTransferFailed      = newError(KindTransfer, "Attached value transfer failed")
	ErrPaymentFailed            = newError(KindTransfer, "Payment transfer failed")
	ErrRefundFailed             = newError(KindTransfer, "Refund failed")
	ErrFeeTransferFailed        = newError(KindTransfer, "Fee transfer failed")
	ErrInsufficientTokenBalance = newError(KindTransfer, "Insufficient token balance")
	ErrWithdrawFailed           = newError(KindTransfer, "Withdrawal failed")

	ErrInvoiceNotFound = newError(KindLookup, "Invalid invoice ID")
)

// KindOf returns the kind of a ledger rejection and KindUnknown for any
// other error, including host failures.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindUnknown
}
