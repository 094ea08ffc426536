package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chainbill/invoicenode/chain"
)

func TestDeploy(t *testing.T) {
	env := setupLedger(t)

	params, err := env.ledger.Params(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), params.NextInvoiceID)
	assert.Equal(t, DefaultPlatformFeeBps, params.PlatformFeeBps)
	assertDecimal(t, eth(0.01), params.DisputeFee)
	assert.True(t, params.EscrowedDisputeFees.IsZero())
	assert.False(t, params.Paused)
	assert.Equal(t, adminAddr, params.Admin)
	assert.Equal(t, contractAddr, params.Contract)
	assert.Equal(t, collectorAddr, params.FeeCollector)

	isResolver, err := env.ledger.IsResolver(env.ctx, adminAddr)
	require.NoError(t, err)
	assert.True(t, isResolver, "admin is authorized at deployment")

	t.Run("redeploy keeps state", func(t *testing.T) {
		env.create(t, env.nativeInvoice(eth(1)))

		deployed, err := env.ledger.Deploy(env.ctx, DeployConfig{Admin: strangerAddr, Contract: strangerAddr})
		require.NoError(t, err)
		assert.False(t, deployed)

		params, err := env.ledger.Params(env.ctx)
		require.NoError(t, err)
		assert.Equal(t, adminAddr, params.Admin)
		assert.Equal(t, uint64(2), params.NextInvoiceID)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := env.ledger.Deploy(env.ctx, DeployConfig{Contract: contractAddr})
		require.ErrorIs(t, err, ErrInvalidAddress)
		_, err = env.ledger.Deploy(env.ctx, DeployConfig{Admin: adminAddr, Contract: contractAddr, DisputeFee: decimal.NewFromInt(-1)})
		require.ErrorIs(t, err, ErrInvalidFee)
	})

	t.Run("fee collector defaults to admin", func(t *testing.T) {
		other := setupLedger(t, func(c *envConfig) { c.feeCollector = common.Address{} })
		params, err := other.ledger.Params(other.ctx)
		require.NoError(t, err)
		assert.Equal(t, adminAddr, params.FeeCollector)
	})
}

func TestCreateInvoice(t *testing.T) {
	t.Run("assigns sequential ids and indexes both parties", func(t *testing.T) {
		env := setupLedger(t)

		for want := uint64(1); want <= 3; want++ {
			params, err := env.ledger.Params(env.ctx)
			require.NoError(t, err)
			assert.Equal(t, want, params.NextInvoiceID)

			id := env.create(t, env.nativeInvoice(eth(1)))
			assert.Equal(t, want, id)
		}

		inv := env.invoice(t, 2)
		assert.Equal(t, issuerAddr, inv.Issuer)
		assert.Equal(t, recipientAddr, inv.Recipient)
		assertDecimal(t, eth(1), inv.Amount)
		assert.Equal(t, NativeCoin(), inv.Asset)
		assert.Equal(t, InvoiceStatusCreated, inv.Status)
		assert.Equal(t, genesis, inv.CreatedAt)
		assert.Equal(t, genesis.Add(24*time.Hour), inv.DueDate)
		assert.True(t, inv.PaidAt.IsZero())
		assert.Equal(t, "consulting, february", inv.Description)

		issuerIDs, err := env.ledger.UserInvoices(env.ctx, issuerAddr)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, issuerIDs)

		recipientIDs, err := env.ledger.UserInvoices(env.ctx, recipientAddr)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, recipientIDs)
	})

	t.Run("emits creation event", func(t *testing.T) {
		env := setupLedger(t)
		p := env.tokenInvoice(decimal.NewFromInt(5000))
		id := env.create(t, p)

		require.Len(t, env.sink.events, 1)
		ev := env.sink.events[0]
		assert.Equal(t, EventInvoiceCreated, ev.Name)
		assert.Equal(t, id, ev.InvoiceID)
		assert.ElementsMatch(t, []common.Address{issuerAddr, recipientAddr}, ev.Parties)

		data, ok := ev.Data.(InvoiceCreated)
		require.True(t, ok)
		assert.Equal(t, InvoiceCreated{
			InvoiceID:  id,
			Issuer:     issuerAddr,
			Recipient:  recipientAddr,
			Amount:     p.Amount,
			Asset:      TokenAsset(tokenAddr),
			ContentRef: p.ContentRef,
		}, data)

		stored, err := env.ledger.InvoiceEvents(env.ctx, id)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		var decoded InvoiceCreated
		require.NoError(t, json.Unmarshal(stored[0].Data.(json.RawMessage), &decoded))
		assert.Equal(t, tokenAddr, decoded.Asset.Token)
	})

	t.Run("validation", func(t *testing.T) {
		env := setupLedger(t)

		tcs := []struct {
			name   string
			modify func(p *CreateInvoiceParams)
			err    error
		}{
			{"zero recipient", func(p *CreateInvoiceParams) { p.Recipient = common.Address{} }, ErrInvalidRecipient},
			{"self invoice", func(p *CreateInvoiceParams) { p.Recipient = issuerAddr }, ErrSelfInvoice},
			{"zero amount", func(p *CreateInvoiceParams) { p.Amount = decimal.Zero }, ErrInvalidAmount},
			{"negative amount", func(p *CreateInvoiceParams) { p.Amount = decimal.NewFromInt(-5) }, ErrInvalidAmount},
			{"fractional amount", func(p *CreateInvoiceParams) { p.Amount = decimal.RequireFromString("1.5") }, ErrInvalidAmount},
			{"empty content ref", func(p *CreateInvoiceParams) { p.ContentRef = "" }, ErrEmptyContentRef},
			{"due now", func(p *CreateInvoiceParams) { p.DueDate = genesis }, ErrDueDateNotInFuture},
			{"due in the past", func(p *CreateInvoiceParams) { p.DueDate = genesis.Add(-time.Hour) }, ErrDueDateNotInFuture},
			{"token without address", func(p *CreateInvoiceParams) { p.Asset = TokenAsset(common.Address{}) }, ErrInvalidAsset},
			{"unknown asset kind", func(p *CreateInvoiceParams) { p.Asset = SettlementAsset{Kind: "iou"} }, ErrInvalidAsset},
		}

		for _, tc := range tcs {
			t.Run(tc.name, func(t *testing.T) {
				p := env.nativeInvoice(eth(1))
				tc.modify(&p)

				_, err := env.ledger.CreateInvoice(env.ctx, Call{From: issuerAddr}, p)
				require.ErrorIs(t, err, tc.err)
				assert.Equal(t, KindValidation, KindOf(err))
			})
		}

		params, err := env.ledger.Params(env.ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), params.NextInvoiceID, "rejected creations must not consume ids")
		assert.Empty(t, env.sink.events)
	})

	t.Run("rejects attached value", func(t *testing.T) {
		env := setupLedger(t)
		_, err := env.ledger.CreateInvoice(env.ctx, Call{From: issuerAddr, Value: eth(1)}, env.nativeInvoice(eth(1)))
		require.ErrorIs(t, err, ErrNotPayable)
		assertDecimal(t, eth(100), env.balance(t, issuerAddr))
	})

	t.Run("ids are never reused after cancellation", func(t *testing.T) {
		env := setupLedger(t)
		first := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, first))

		second := env.create(t, env.nativeInvoice(eth(1)))
		assert.Equal(t, first+1, second)
	})
}

func TestPayWithNativeCoin(t *testing.T) {
	t.Run("exact payment", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		env.sink.Reset()
		env.clock.Advance(time.Hour)

		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id))

		assertDecimal(t, eth(100.975), env.balance(t, issuerAddr))
		assertDecimal(t, eth(99), env.balance(t, recipientAddr))
		assertDecimal(t, eth(0.025), env.balance(t, contractAddr))

		inv := env.invoice(t, id)
		assert.Equal(t, InvoiceStatusPaid, inv.Status)
		assert.Equal(t, genesis.Add(time.Hour), inv.PaidAt)

		require.Len(t, env.sink.events, 1)
		assert.Equal(t, EventInvoicePaid, env.sink.events[0].Name)
		paid := env.sink.events[0].Data.(InvoicePaid)
		assert.Equal(t, recipientAddr, paid.Payer)
		assertDecimal(t, eth(1), paid.Amount)
		assertDecimal(t, eth(0.025), paid.Fee)
	})

	t.Run("overpayment is refunded", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(2)}, id))

		assertDecimal(t, eth(100.975), env.balance(t, issuerAddr))
		assertDecimal(t, eth(99), env.balance(t, recipientAddr), "excess of 1 must come back")
		assertDecimal(t, eth(0.025), env.balance(t, contractAddr))
	})

	t.Run("anyone may pay", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: strangerAddr, Value: eth(1)}, id))
		assertDecimal(t, eth(99), env.balance(t, strangerAddr))
	})

	t.Run("insufficient payment changes nothing", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		env.sink.Reset()

		err := env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(0.5)}, id)
		require.ErrorIs(t, err, ErrInsufficientPayment)

		assert.Equal(t, InvoiceStatusCreated, env.invoice(t, id).Status)
		assertDecimal(t, eth(100), env.balance(t, recipientAddr))
		assertDecimal(t, eth(100), env.balance(t, issuerAddr))
		assert.True(t, env.balance(t, contractAddr).IsZero())
		assert.Empty(t, env.sink.events)
	})

	t.Run("second payment is rejected", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id))

		err := env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id)
		require.ErrorIs(t, err, ErrInvoiceNotPayable)
		assert.Equal(t, KindState, KindOf(err))

		assertDecimal(t, eth(99), env.balance(t, recipientAddr))
		assertDecimal(t, eth(100.975), env.balance(t, issuerAddr))
	})

	t.Run("token invoice", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(100)))

		err := env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: decimal.NewFromInt(100)}, id)
		require.ErrorIs(t, err, ErrWrongPaymentMethod)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		env := setupLedger(t)
		for _, id := range []uint64{0, 1, 42} {
			err := env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id)
			require.ErrorIs(t, err, ErrInvoiceNotFound)
			assert.Equal(t, KindLookup, KindOf(err))
		}
	})

	t.Run("caller cannot cover attached value", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		err := env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(500)}, id)
		require.ErrorIs(t, err, ErrValueTransferFailed)
		assert.ErrorIs(t, err, chain.ErrInsufficientBalance)
	})

	t.Run("fee plus net equals amount for every fee setting", func(t *testing.T) {
		env := setupLedger(t)
		amount := decimal.NewFromInt(999_999_999_999_999_997)

		for _, bps := range []uint32{0, 1, 7, 250, 333, 999, 1000} {
			require.NoError(t, env.ledger.SetPlatformFee(env.ctx, Call{From: adminAddr}, bps))
			id := env.create(t, env.nativeInvoice(amount))

			issuerBefore := env.balance(t, issuerAddr)
			contractBefore := env.balance(t, contractAddr)
			require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: amount}, id))

			net := env.balance(t, issuerAddr).Sub(issuerBefore)
			fee := env.balance(t, contractAddr).Sub(contractBefore)
			assertDecimal(t, amount, fee.Add(net), "bps", bps)

			wantFee, _ := splitFee(amount, bps)
			assertDecimal(t, wantFee, fee, "bps", bps)
		}
	})

	t.Run("immutable fields survive every transition", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		before := env.invoice(t, id)

		env.clock.Advance(time.Minute)
		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "goods not delivered"))
		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusCancelled))

		after := env.invoice(t, id)
		assert.Equal(t, before.Issuer, after.Issuer)
		assert.Equal(t, before.Recipient, after.Recipient)
		assertDecimal(t, before.Amount, after.Amount)
		assert.Equal(t, before.Asset, after.Asset)
		assert.Equal(t, before.ContentRef, after.ContentRef)
		assert.Equal(t, before.Description, after.Description)
		assert.Equal(t, before.DueDate, after.DueDate)
		assert.Equal(t, before.CreatedAt, after.CreatedAt)
		assert.Equal(t, InvoiceStatusCancelled, after.Status)
	})
}

func TestPayWithToken(t *testing.T) {
	setupToken := func(t *testing.T, env *testEnv, balance, allowance int64) {
		t.Helper()
		token := env.tokens.Token(tokenAddr)
		require.NoError(t, token.Mint(env.ctx, recipientAddr, decimal.NewFromInt(balance)))
		require.NoError(t, token.Approve(env.ctx, recipientAddr, contractAddr, decimal.NewFromInt(allowance)))
	}

	t.Run("pays issuer and fee collector", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(10_000)))
		setupToken(t, env, 10_000, 10_000)

		require.NoError(t, env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id))

		assertDecimal(t, decimal.NewFromInt(9_750), env.tokenBalance(t, issuerAddr))
		assertDecimal(t, decimal.NewFromInt(250), env.tokenBalance(t, collectorAddr))
		assert.True(t, env.tokenBalance(t, recipientAddr).IsZero())
		assert.Equal(t, InvoiceStatusPaid, env.invoice(t, id).Status)

		err := env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id)
		require.ErrorIs(t, err, ErrInvoiceNotPayable)
	})

	t.Run("zero fee skips the fee transfer", func(t *testing.T) {
		env := setupLedger(t)
		require.NoError(t, env.ledger.SetPlatformFee(env.ctx, Call{From: adminAddr}, 0))
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(39)))
		setupToken(t, env, 39, 39)

		require.NoError(t, env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id))
		assertDecimal(t, decimal.NewFromInt(39), env.tokenBalance(t, issuerAddr))
		assert.True(t, env.tokenBalance(t, collectorAddr).IsZero())
	})

	t.Run("small amount rounds fee down", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(39)))
		setupToken(t, env, 39, 39)

		require.NoError(t, env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id))
		assertDecimal(t, decimal.NewFromInt(39), env.tokenBalance(t, issuerAddr))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(100)))
		setupToken(t, env, 99, 100)

		err := env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id)
		require.ErrorIs(t, err, ErrInsufficientTokenBalance)
		assert.Equal(t, KindTransfer, KindOf(err))
		assert.Equal(t, InvoiceStatusCreated, env.invoice(t, id).Status)
	})

	t.Run("allowance covering only the net amount reverts everything", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(1000)))
		setupToken(t, env, 1000, 975)
		env.sink.Reset()

		err := env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id)
		require.ErrorIs(t, err, ErrFeeTransferFailed)

		assert.Equal(t, InvoiceStatusCreated, env.invoice(t, id).Status)
		assertDecimal(t, decimal.NewFromInt(1000), env.tokenBalance(t, recipientAddr))
		assert.True(t, env.tokenBalance(t, issuerAddr).IsZero())
		allowance, err := env.tokens.Token(tokenAddr).Allowance(env.ctx, recipientAddr, contractAddr)
		require.NoError(t, err)
		assertDecimal(t, decimal.NewFromInt(975), allowance)
		assert.Empty(t, env.sink.events)
	})

	t.Run("no allowance", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(1000)))
		setupToken(t, env, 1000, 0)

		err := env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id)
		require.ErrorIs(t, err, ErrPaymentFailed)
	})

	t.Run("native invoice", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		err := env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr}, id)
		require.ErrorIs(t, err, ErrWrongPaymentMethod)
	})

	t.Run("attached value", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.tokenInvoice(decimal.NewFromInt(1000)))
		setupToken(t, env, 1000, 1000)

		err := env.ledger.PayWithToken(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id)
		require.ErrorIs(t, err, ErrNotPayable)
		assertDecimal(t, eth(100), env.balance(t, recipientAddr))
	})
}

func TestRaiseDispute(t *testing.T) {
	t.Run("recipient disputes unpaid invoice and resolver cancels it", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "wrong amount"))
		assert.Equal(t, InvoiceStatusDisputed, env.invoice(t, id).Status)
		assertDecimal(t, eth(99.99), env.balance(t, recipientAddr))

		dispute, err := env.ledger.GetDispute(env.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, DisputeStatusRaised, dispute.Status)
		assert.Equal(t, recipientAddr, dispute.Initiator)
		assert.Equal(t, "wrong amount", dispute.Reason)
		assertDecimal(t, eth(0.01), dispute.FeePaid)

		params, err := env.ledger.Params(env.ctx)
		require.NoError(t, err)
		assertDecimal(t, eth(0.01), params.EscrowedDisputeFees)

		require.NoError(t, env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, resolverAddr, true))
		env.clock.Advance(time.Hour)
		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: resolverAddr}, id, InvoiceStatusCancelled))

		assert.Equal(t, InvoiceStatusCancelled, env.invoice(t, id).Status)
		dispute, err = env.ledger.GetDispute(env.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, DisputeStatusResolved, dispute.Status)
		assert.Equal(t, resolverAddr, dispute.Resolver)
		assert.Equal(t, genesis.Add(time.Hour), dispute.ResolvedAt)
		assertDecimal(t, eth(100), env.balance(t, recipientAddr), "dispute fee refunded")

		params, err = env.ledger.Params(env.ctx)
		require.NoError(t, err)
		assert.True(t, params.EscrowedDisputeFees.IsZero())
	})

	t.Run("third party is rejected", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		err := env.ledger.RaiseDispute(env.ctx, Call{From: strangerAddr, Value: eth(0.01)}, id, "spam")
		require.ErrorIs(t, err, ErrNotParty)
		assert.Equal(t, KindAuthorization, KindOf(err))
		assert.Equal(t, InvoiceStatusCreated, env.invoice(t, id).Status)
		assertDecimal(t, eth(100), env.balance(t, strangerAddr))
	})

	t.Run("issuer may dispute a paid invoice", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id))

		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: issuerAddr, Value: eth(0.01)}, id, "chargeback"))
		assert.Equal(t, InvoiceStatusDisputed, env.invoice(t, id).Status)
	})

	t.Run("insufficient fee", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		err := env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.009)}, id, "late")
		require.ErrorIs(t, err, ErrInsufficientDisputeFee)
		assertDecimal(t, eth(100), env.balance(t, recipientAddr))
	})

	t.Run("zero fee requires no value", func(t *testing.T) {
		env := setupLedger(t, withDisputeFee(decimal.Zero))
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr}, id, "late"))
	})

	t.Run("only one dispute per invoice", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "first"))

		err := env.ledger.RaiseDispute(env.ctx, Call{From: issuerAddr, Value: eth(0.01)}, id, "second")
		require.ErrorIs(t, err, ErrCannotDispute)

		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusPaid))
		err = env.ledger.RaiseDispute(env.ctx, Call{From: issuerAddr, Value: eth(0.01)}, id, "again")
		require.ErrorIs(t, err, ErrDisputeExists)
		assert.Equal(t, KindState, KindOf(err))
	})

	t.Run("cancelled invoice", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, id))

		err := env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "too late")
		require.ErrorIs(t, err, ErrCannotDispute)
	})

	t.Run("overpayment is kept and only the fee is refunded", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.5)}, id, "generous"))
		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusCancelled))

		assertDecimal(t, eth(99.51), env.balance(t, recipientAddr))
		assertDecimal(t, eth(0.49), env.balance(t, contractAddr))
	})

	t.Run("refund uses the fee paid at raise time", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "x"))
		require.NoError(t, env.ledger.SetDisputeFee(env.ctx, Call{From: adminAddr}, eth(5)))

		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusCancelled))
		assertDecimal(t, eth(100), env.balance(t, recipientAddr))
		assert.True(t, env.balance(t, contractAddr).IsZero())
	})
}

func TestResolveDispute(t *testing.T) {
	disputed := func(t *testing.T, env *testEnv) uint64 {
		t.Helper()
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "x"))
		return id
	}

	t.Run("unauthorized caller", func(t *testing.T) {
		env := setupLedger(t)
		id := disputed(t, env)

		for _, caller := range []common.Address{strangerAddr, issuerAddr, recipientAddr, resolverAddr} {
			err := env.ledger.ResolveDispute(env.ctx, Call{From: caller}, id, InvoiceStatusCancelled)
			require.ErrorIs(t, err, ErrNotResolver)
			assert.Equal(t, KindAuthorization, KindOf(err))
		}
	})

	t.Run("revoked resolver", func(t *testing.T) {
		env := setupLedger(t)
		id := disputed(t, env)
		require.NoError(t, env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, resolverAddr, true))
		require.NoError(t, env.ledger.SetResolver(env.ctx, Call{From: adminAddr}, resolverAddr, false))

		err := env.ledger.ResolveDispute(env.ctx, Call{From: resolverAddr}, id, InvoiceStatusCancelled)
		require.ErrorIs(t, err, ErrNotResolver)
	})

	t.Run("only paid or cancelled", func(t *testing.T) {
		env := setupLedger(t)
		id := disputed(t, env)

		for _, status := range []InvoiceStatus{InvoiceStatusCreated, InvoiceStatusDisputed, InvoiceStatusResolved, "bogus"} {
			err := env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, status)
			require.ErrorIs(t, err, ErrInvalidResolution, status)
			assert.Equal(t, KindValidation, KindOf(err))
		}
		assert.Equal(t, InvoiceStatusDisputed, env.invoice(t, id).Status)
	})

	t.Run("dispute not raised", func(t *testing.T) {
		env := setupLedger(t)
		id := env.create(t, env.nativeInvoice(eth(1)))

		err := env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusPaid)
		require.ErrorIs(t, err, ErrDisputeNotActive)

		id = disputed(t, env)
		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusPaid))
		err = env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusCancelled)
		require.ErrorIs(t, err, ErrDisputeNotActive)
	})

	t.Run("resolving to paid moves no invoice funds", func(t *testing.T) {
		env := setupLedger(t)
		id := disputed(t, env)

		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusPaid))

		inv := env.invoice(t, id)
		assert.Equal(t, InvoiceStatusPaid, inv.Status)
		assert.True(t, inv.PaidAt.IsZero(), "never paid through the ledger")
		assertDecimal(t, eth(100), env.balance(t, issuerAddr))
		assertDecimal(t, eth(100), env.balance(t, recipientAddr))
		assert.True(t, env.balance(t, contractAddr).IsZero())
	})

	t.Run("failing refund reverts the resolution", func(t *testing.T) {
		env := setupLedger(t)
		id := disputed(t, env)

		env.bank.RegisterReceiver(recipientAddr, chain.ReceiverFunc(func(context.Context, common.Address, decimal.Decimal) error {
			return errors.New("cannot receive")
		}))
		env.sink.Reset()

		err := env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusCancelled)
		require.ErrorIs(t, err, ErrRefundFailed)
		assert.Equal(t, KindTransfer, KindOf(err))

		assert.Equal(t, InvoiceStatusDisputed, env.invoice(t, id).Status)
		dispute, err := env.ledger.GetDispute(env.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, DisputeStatusRaised, dispute.Status)
		params, err := env.ledger.Params(env.ctx)
		require.NoError(t, err)
		assertDecimal(t, eth(0.01), params.EscrowedDisputeFees)
		assert.Empty(t, env.sink.events)
	})

	t.Run("mock policy", func(t *testing.T) {
		policy := &mockPolicy{}
		policy.On("CanResolve", mock.Anything, strangerAddr).Return(true, nil)
		policy.On("CanResolve", mock.Anything, resolverAddr).Return(false, nil)

		env := setupLedger(t, withPolicy(policy))
		id := disputed(t, env)

		err := env.ledger.ResolveDispute(env.ctx, Call{From: resolverAddr}, id, InvoiceStatusPaid)
		require.ErrorIs(t, err, ErrNotResolver)
		require.NoError(t, env.ledger.ResolveDispute(env.ctx, Call{From: strangerAddr}, id, InvoiceStatusPaid))
		policy.AssertExpectations(t)
	})

	t.Run("policy failure is not a ledger error", func(t *testing.T) {
		policy := &mockPolicy{}
		policy.On("CanResolve", mock.Anything, adminAddr).Return(false, errors.New("registry offline"))

		env := setupLedger(t, withPolicy(policy))
		id := disputed(t, env)

		err := env.ledger.ResolveDispute(env.ctx, Call{From: adminAddr}, id, InvoiceStatusPaid)
		require.Error(t, err)
		assert.Equal(t, KindUnknown, KindOf(err))
	})
}

func TestCancelInvoice(t *testing.T) {
	env := setupLedger(t)

	t.Run("issuer cancels created invoice", func(t *testing.T) {
		id := env.create(t, env.nativeInvoice(eth(1)))
		env.sink.Reset()
		require.NoError(t, env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, id))
		assert.Equal(t, InvoiceStatusCancelled, env.invoice(t, id).Status)
		assert.Equal(t, []EventName{EventInvoiceCancelled}, env.sink.Names())

		err := env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, id)
		require.ErrorIs(t, err, ErrCannotCancel)
	})

	t.Run("other callers", func(t *testing.T) {
		id := env.create(t, env.nativeInvoice(eth(1)))
		for _, caller := range []common.Address{recipientAddr, strangerAddr, adminAddr} {
			err := env.ledger.CancelInvoice(env.ctx, Call{From: caller}, id)
			require.ErrorIs(t, err, ErrNotIssuer)
		}
	})

	t.Run("paid invoice", func(t *testing.T) {
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.PayWithNativeCoin(env.ctx, Call{From: recipientAddr, Value: eth(1)}, id))
		err := env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, id)
		require.ErrorIs(t, err, ErrCannotCancel)
		assert.Equal(t, KindState, KindOf(err))
	})

	t.Run("disputed invoice", func(t *testing.T) {
		id := env.create(t, env.nativeInvoice(eth(1)))
		require.NoError(t, env.ledger.RaiseDispute(env.ctx, Call{From: recipientAddr, Value: eth(0.01)}, id, "x"))
		err := env.ledger.CancelInvoice(env.ctx, Call{From: issuerAddr}, id)
		require.ErrorIs(t, err, ErrCannotCancel)
	})
}
