package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	opSetResolver    = "set_resolver"
	opSetDisputeFee  = "set_dispute_fee"
	opSetPlatformFee = "set_platform_fee"
	opWithdrawFees   = "withdraw_fees"
	opSetPaused      = "set_paused"
)

func (l *InvoiceLedger) requireAdmin(ctx context.Context, addr common.Address) error {
	admin, err := l.policy.IsAdmin(ctx, addr)
	if err != nil {
		return err
	}
	if !admin {
		return ErrNotAdmin
	}
	return nil
}

// SetResolver grants or revokes the right to resolve disputes.
func (l *InvoiceLedger) SetResolver(ctx context.Context, call Call, resolver common.Address, authorized bool) error {
	return l.execute(ctx, opSetResolver, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		if err := l.requireAdmin(ctx, call.From); err != nil {
			return err
		}
		if resolver == zeroAddress {
			return ErrInvalidAddress
		}

		if err := setResolver(c.tx(), resolver, authorized, c.now()); err != nil {
			return err
		}
		return l.emit(c, EventResolverUpdated, 0, ResolverUpdated{Resolver: resolver, Authorized: authorized}, resolver)
	})
}

// SetDisputeFee sets the fee required to raise a dispute. There is no
// upper bound. Disputes already raised keep the fee they paid.
func (l *InvoiceLedger) SetDisputeFee(ctx context.Context, call Call, fee decimal.Decimal) error {
	return l.execute(ctx, opSetDisputeFee, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		if err := l.requireAdmin(ctx, call.From); err != nil {
			return err
		}
		if !isNonNegativeInteger(fee) {
			return ErrInvalidFee
		}

		if err := updateParams(c.tx(), map[string]any{"dispute_fee": fee}); err != nil {
			return err
		}
		return l.emit(c, EventDisputeFeeUpdated, 0, DisputeFeeUpdated{Fee: fee})
	})
}

// SetPlatformFee sets the fee taken on payments, in basis points.
func (l *InvoiceLedger) SetPlatformFee(ctx context.Context, call Call, feeBps uint32) error {
	return l.execute(ctx, opSetPlatformFee, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		if err := l.requireAdmin(ctx, call.From); err != nil {
			return err
		}
		if feeBps > MaxPlatformFeeBps {
			return ErrFeeTooHigh
		}

		if err := updateParams(c.tx(), map[string]any{"platform_fee_bps": feeBps}); err != nil {
			return err
		}
		return l.emit(c, EventPlatformFeeUpdated, 0, PlatformFeeUpdated{FeeBps: feeBps})
	})
}

// WithdrawFees sends the collected native coin fees to the admin and
// returns the amount sent. Escrowed dispute fees are not withdrawable.
func (l *InvoiceLedger) WithdrawFees(ctx context.Context, call Call) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := l.execute(ctx, opWithdrawFees, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		if err := l.requireAdmin(ctx, call.From); err != nil {
			return err
		}

		balance, err := l.bank.Balance(ctx, c.params.Contract)
		if err != nil {
			return err
		}
		amount = balance.Sub(c.params.EscrowedDisputeFees)
		if !amount.IsPositive() {
			return ErrNoFeesToWithdraw
		}

		if err := l.emit(c, EventFeesWithdrawn, 0, FeesWithdrawn{To: c.params.Admin, Amount: amount}, c.params.Admin); err != nil {
			return err
		}
		if err := l.bank.Transfer(ctx, c.params.Contract, c.params.Admin, amount); err != nil {
			return ErrWithdrawFailed.because(err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// SetPaused turns the emergency pause on or off. While paused, invoices
// cannot be created or paid and disputes cannot be raised.
func (l *InvoiceLedger) SetPaused(ctx context.Context, call Call, paused bool) error {
	return l.execute(ctx, opSetPaused, call, opOptions{}, func(ctx context.Context, c *callFrame) error {
		if err := l.requireAdmin(ctx, call.From); err != nil {
			return err
		}

		if err := updateParams(c.tx(), map[string]any{"paused": paused}); err != nil {
			return err
		}
		return l.emit(c, EventPauseUpdated, 0, PauseUpdated{Paused: paused})
	})
}
