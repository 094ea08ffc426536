package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbill/invoicenode/internal/testdb"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func setupHost(t *testing.T) *Host {
	t.Helper()
	db := testdb.Open(t, Models()...)
	return NewHost(db, fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestHostExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("error reverts writes", func(t *testing.T) {
		host := setupHost(t)
		bank := NewBank(host)
		require.NoError(t, bank.Mint(ctx, alice, dec(100)))

		boom := errors.New("boom")
		err := host.Execute(ctx, func(ctx context.Context, f *Frame) error {
			require.NoError(t, bank.Transfer(ctx, alice, bob, dec(40)))
			return boom
		})
		require.ErrorIs(t, err, boom)

		bal, err := bank.Balance(ctx, alice)
		require.NoError(t, err)
		assert.True(t, bal.Equal(dec(100)))
	})

	t.Run("nested failure keeps outer writes", func(t *testing.T) {
		host := setupHost(t)
		bank := NewBank(host)
		require.NoError(t, bank.Mint(ctx, alice, dec(100)))

		err := host.Execute(ctx, func(ctx context.Context, f *Frame) error {
			require.NoError(t, bank.Transfer(ctx, alice, bob, dec(10)))

			nestedErr := host.Execute(ctx, func(ctx context.Context, child *Frame) error {
				assert.Equal(t, 1, child.Depth())
				assert.Equal(t, f.BlockTime(), child.BlockTime())
				require.NoError(t, bank.Transfer(ctx, alice, carol, dec(5)))
				return errors.New("nested failure")
			})
			require.Error(t, nestedErr)
			return nil
		})
		require.NoError(t, err)

		bobBal, _ := bank.Balance(ctx, bob)
		carolBal, _ := bank.Balance(ctx, carol)
		assert.True(t, bobBal.Equal(dec(10)))
		assert.True(t, carolBal.IsZero())
	})

	t.Run("after commit callbacks", func(t *testing.T) {
		host := setupHost(t)
		var fired []string

		err := host.Execute(ctx, func(ctx context.Context, f *Frame) error {
			f.AfterCommit(func() { fired = append(fired, "outer") })
			_ = host.Execute(ctx, func(ctx context.Context, child *Frame) error {
				child.AfterCommit(func() { fired = append(fired, "dropped") })
				return errors.New("fail")
			})
			return host.Execute(ctx, func(ctx context.Context, child *Frame) error {
				child.AfterCommit(func() { fired = append(fired, "nested") })
				assert.Empty(t, fired, "callbacks must wait for the commit")
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"outer", "nested"}, fired)

		fired = nil
		err = host.Execute(ctx, func(ctx context.Context, f *Frame) error {
			f.AfterCommit(func() { fired = append(fired, "never") })
			return errors.New("revert")
		})
		require.Error(t, err)
		assert.Empty(t, fired)
	})
}

func TestBank(t *testing.T) {
	ctx := context.Background()

	t.Run("transfer", func(t *testing.T) {
		bank := NewBank(setupHost(t))
		require.NoError(t, bank.Mint(ctx, alice, dec(50)))
		require.NoError(t, bank.Transfer(ctx, alice, bob, dec(20)))

		aliceBal, _ := bank.Balance(ctx, alice)
		bobBal, _ := bank.Balance(ctx, bob)
		assert.True(t, aliceBal.Equal(dec(30)))
		assert.True(t, bobBal.Equal(dec(20)))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		bank := NewBank(setupHost(t))
		require.NoError(t, bank.Mint(ctx, alice, dec(5)))

		err := bank.Transfer(ctx, alice, bob, dec(6))
		require.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("negative amount", func(t *testing.T) {
		bank := NewBank(setupHost(t))
		require.ErrorIs(t, bank.Transfer(ctx, alice, bob, dec(-1)), ErrNegativeAmount)
		require.ErrorIs(t, bank.Mint(ctx, alice, dec(-1)), ErrNegativeAmount)
	})

	t.Run("large amounts keep precision", func(t *testing.T) {
		bank := NewBank(setupHost(t))
		big, err := decimal.NewFromString("123456789012345678901234567890")
		require.NoError(t, err)
		require.NoError(t, bank.Mint(ctx, alice, big))
		require.NoError(t, bank.Transfer(ctx, alice, bob, dec(1)))

		bal, err := bank.Balance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "123456789012345678901234567889", bal.String())
	})

	t.Run("receiver runs and can revert", func(t *testing.T) {
		bank := NewBank(setupHost(t))
		require.NoError(t, bank.Mint(ctx, alice, dec(10)))

		var got decimal.Decimal
		bank.RegisterReceiver(bob, ReceiverFunc(func(ctx context.Context, from common.Address, amount decimal.Decimal) error {
			got = amount
			_, inFrame := FrameFromContext(ctx)
			assert.True(t, inFrame)
			return nil
		}))
		require.NoError(t, bank.Transfer(ctx, alice, bob, dec(3)))
		assert.True(t, got.Equal(dec(3)))

		bank.RegisterReceiver(carol, ReceiverFunc(func(context.Context, common.Address, decimal.Decimal) error {
			return errors.New("no thanks")
		}))
		require.Error(t, bank.Transfer(ctx, alice, carol, dec(3)))

		carolBal, _ := bank.Balance(ctx, carol)
		aliceBal, _ := bank.Balance(ctx, alice)
		assert.True(t, carolBal.IsZero())
		assert.True(t, aliceBal.Equal(dec(7)))
	})
}

func TestToken(t *testing.T) {
	ctx := context.Background()

	t.Run("transfer from consumes allowance", func(t *testing.T) {
		token := NewTokenBook(setupHost(t)).Token(usdc)
		require.NoError(t, token.Mint(ctx, alice, dec(100)))
		require.NoError(t, token.Approve(ctx, alice, carol, dec(60)))

		ok, err := token.TransferFrom(ctx, carol, alice, bob, dec(50))
		require.NoError(t, err)
		assert.True(t, ok)

		left, err := token.Allowance(ctx, alice, carol)
		require.NoError(t, err)
		assert.True(t, left.Equal(dec(10)))

		bobBal, _ := token.BalanceOf(ctx, bob)
		assert.True(t, bobBal.Equal(dec(50)))
	})

	t.Run("insufficient allowance returns false", func(t *testing.T) {
		token := NewTokenBook(setupHost(t)).Token(usdc)
		require.NoError(t, token.Mint(ctx, alice, dec(100)))
		require.NoError(t, token.Approve(ctx, alice, carol, dec(5)))

		ok, err := token.TransferFrom(ctx, carol, alice, bob, dec(6))
		require.NoError(t, err)
		assert.False(t, ok)

		bal, _ := token.BalanceOf(ctx, alice)
		assert.True(t, bal.Equal(dec(100)))
	})

	t.Run("insufficient balance returns false", func(t *testing.T) {
		token := NewTokenBook(setupHost(t)).Token(usdc)
		require.NoError(t, token.Mint(ctx, alice, dec(1)))
		require.NoError(t, token.Approve(ctx, alice, carol, dec(100)))

		ok, err := token.TransferFrom(ctx, carol, alice, bob, dec(2))
		require.NoError(t, err)
		assert.False(t, ok)

		left, _ := token.Allowance(ctx, alice, carol)
		assert.True(t, left.Equal(dec(100)))
	})

	t.Run("approve overwrites", func(t *testing.T) {
		token := NewTokenBook(setupHost(t)).Token(usdc)
		require.NoError(t, token.Approve(ctx, alice, carol, dec(5)))
		require.NoError(t, token.Approve(ctx, alice, carol, dec(9)))

		left, _ := token.Allowance(ctx, alice, carol)
		assert.True(t, left.Equal(dec(9)))
	})

	t.Run("tokens are isolated from native coin", func(t *testing.T) {
		host := setupHost(t)
		token := NewTokenBook(host).Token(usdc)
		bank := NewBank(host)
		require.NoError(t, token.Mint(ctx, alice, dec(7)))

		nativeBal, _ := bank.Balance(ctx, alice)
		assert.True(t, nativeBal.IsZero())

		ok, err := token.Transfer(ctx, alice, bob, dec(7))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
