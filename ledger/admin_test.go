package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPlatformFee(t *testing.T) {
	env := setupLedger(t)

	err := env.ledger.SetPlatformFee(env.ctx, Call{From: adminAddr}, 1500)
	require.ErrorIs(t, err, ErrFeeTooHigh)
	assert.Equal(t, KindValidation, KindOf(err))

	params, err := env.ledger.Params(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlatformFeeBps, params.PlatformFeeBps)

	require.NoError(t, env.ledger.SetPlatformFee(env.ctx, Call{From: adminAddr}, MaxPlatformFeeBps))
	params, err = env.ledger.Params(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxPlatformFeeBps, params.PlatformFeeBps)

	err = env.ledger.SetPlatformFee(env.ctx, Call{From: issuerAddr}, 100)
	require.ErrorIs(t, err, ErrNotAdmin)
	assert.Equal(t, KindAuthorization, KindOf(err))

	t.Run("rate in force at payment time applies", func(t *testing.T) {
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.SetPlatformFee(env.ctx, Call{From: adminAddr}, 0))

		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id))
		assertDecimal(t, eth(101), env.balance(t, issuerAddr))
	})
}

func TestSetDisputeFee(t *testing.T) {
	env := setupLedger(t)

	huge := decimal.RequireFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, env.ledger.SetDisputeFee(env.ctx, Call{From: adminAddr}, huge))
	params, err := env.ledger.Params(env.ctx)
	require.NoError(t, err)
	assertDecimal(t, huge, params.DisputeFee)

	id := env.create(t, env.nativeInvoice(eth(1)))
	err = env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(100)}, id, "x")
	require.ErrorIs(t, err, ErrInsufficientDisputeFee)

	for _, fee := range []decimal.Decimal{decimal.NewFromInt(-1), decimal.RequireFromString("0.5")} {
		err = env.ledger.SetDisputeFee(env.ctx, Call{From: adminAddr}, fee)
		require.ErrorIs(t, err, ErrInvalidFee)
	}

	err = env.ledger.SetDisputeFee(env.ctx, Call{From: resolverAddr}, decimal.Zero)
	require.ErrorIs(t, err, ErrNotAdmin)

	require.NoError(t, env.ledger.SetDisputeFee(env.ctx, Call{From: adminAddr}, decimal.Zero))
	require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr}, id, "x"))
}

func TestSetResolver(t *testing.T) {
	env := setupLedger(t)
	env.sink.Reset()

	require.NoError(t, env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, resolverAddr, true))
	ok, err := env.ledger.IsResolver(env.ctx, resolverAddr)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, env.sink.events, 1)
	assert.Equal(t, ResolverUpdated{Resolver: resolverAddr, Authorized: true}, env.sink.events[0].Data)
	assert.Equal(t, []common.Address{resolverAddr}, env.sink.events[0].Parties)

	// granting twice is harmless
	require.NoError(t, env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, resolverAddr, true))

	require.NoError(t, env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, resolverAddr, false))
	ok, err = env.ledger.IsResolver(env.ctx, resolverAddr)
	require.NoError(t, err)
	assert.False(t, ok)

	err = env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, common.Address{}, true)
	require.ErrorIs(t, err, ErrInvalidAddress)

	err = env.ledger.SetResolver(env.ctx, Call{From: resolverAddr}, resolverAddr, true)
	require.ErrorIs(t, err, ErrNotAdmin)
}

func TestWithdrawFees(t *testing.T) {
	t.Run("nothing collected", func(t *testing.T) {
		env := setupLedger(t)
		_, err := env.ledger.WithdrawFees(env.ctx, Call{From: adminAddr})
		require.ErrorIs(t, err, ErrNoFeesToWithdraw)
		assert.Equal(t, KindState, KindOf(err))
	})

	t.Run("escrowed dispute fees stay behind", func(t *testing.T) {
		env := setupLedger(t)
		paid := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, paid))

		disputed := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, disputed, "x"))
		assertDecimal(t, eth(0.035), env.balance(t, contractAddr))

		_, err := env.ledger.WithdrawFees(env.ctx, Call{From: issuerAddr})
		require.ErrorIs(t, err, ErrNotAdmin)

		amount, err := env.ledger.WithdrawFees(env.ctx, Call{From: adminAddr})
		require.NoError(t, err)
		assertDecimal(t, eth(0.025), amount)
		assertDecimal(t, eth(0.025), env.balance(t, adminAddr))
		assertDecimal(t, eth(0.01), env.balance(t, contractAddr))

		_, err = env.ledger.WithdrawFees(env.ctx, Call{From: adminAddr})
		require.ErrorIs(t, err, ErrNoFeesToWithdraw)

		// the escrow still covers the refund
		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, disputed, InvoiceStatusCancelled))
		assertDecimal(t, eth(99), env.balance(t, recipientAddr))
		assert.True(t, env.balance(t, contractAddr).IsZero())
	})

	t.Run("kept dispute overpayment is withdrawable", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.03)}, id, "x"))

		amount, err := env.ledger.WithdrawFees(env.ctx, Call{From: adminAddr})
		require.NoError(t, err)
		assertDecimal(t, eth(0.02), amount)
	})
}

func TestSetPaused(t *testing.T) {
	env := setupLedger(t)
	created := env.create(t, env.nativeInvoice(eth(1)))
	paid := env.create(t, env.nativeInvoice(eth(1)))
	require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, paid))
	require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, paid, "x"))

	err := env.ledger.SetPaused(env.ctx, Call{From: issuerAddr}, true)
	require.ErrorIs(t, err, ErrNotAdmin)
	require.NoError(t, env.ledger.SetPaused(env.ctx, Call{From: adminAddr}, true))

	_, err = env.ledger.CreateInvoice(env.ctx, Call{From: issuerAddr}, env.nativeInvoice(eth(1)))
	require.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, KindState, KindOf(err))

	err = env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, created)
	require.ErrorIs(t, err, ErrPaused)
	assertDecimal(t, eth(98.99), env.balance(t, recipientAddr))

	err = env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, created)
	require.ErrorIs(t, err, ErrPaused)

	err = env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, created, "x")
	require.ErrorIs(t, err, ErrPaused)

	// winding down stays possible
	require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, paid, InvoiceStatusPaid))
	require.NoError(t, env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, created))
	_, err = env.ledger.WithdrawFees(env.ctx, Call{From: adminAddr})
	require.NoError(t, err)

	require.NoError(t, env.ledger.SetPaused(env.ctx, Call{From: adminAddr}, false))
	env.create(t, env.nativeInvoice(eth(1)))
}
