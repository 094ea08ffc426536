package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("amount must not be negative")
)

// Receiver is code attached to an account that runs when the account
// receives native coin. It runs inside the sender's call, so it may call
// back into any contract with the ctx it is given.
type Receiver interface {
	OnReceive(ctx context.Context, from common.Address, amount decimal.Decimal) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, from common.Address, amount decimal.Decimal) error

func (fn ReceiverFunc) OnReceive(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	return fn(ctx, from, amount)
}

// Bank keeps native coin balances.
type Bank struct {
	host *Host

	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

// NewBank returns a bank whose balances live in host's database.
func NewBank(host *Host) *Bank {
	return &Bank{
		host:      host,
		receivers: make(map[common.Address]Receiver),
	}
}

// RegisterReceiver attaches r to addr, replacing any previous receiver.
// A nil r detaches it.
func (b *Bank) RegisterReceiver(addr common.Address, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r == nil {
		delete(b.receivers, addr)
		return
	}
	b.receivers[addr] = r
}

func (b *Bank) receiver(addr common.Address) Receiver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.receivers[addr]
}

// Balance returns the native balance of addr, zero for an account that
// never held coin.
func (b *Bank) Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := b.host.View(ctx, func(tx *gorm.DB) error {
		var err error
		balance, err = entryBalance(tx, addr, NativeAsset)
		return err
	})
	return balance, err
}

// Transfer moves amount from one account to another and then runs the
// receiver of to, if any. A failing receiver reverts the transfer.
func (b *Bank) Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if amount.IsZero() {
		return nil
	}

	return b.host.Execute(ctx, func(ctx context.Context, f *Frame) error {
		balance, err := entryBalance(f.Tx(), from, NativeAsset)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), balance, amount)
		}

		if err := move(f.Tx(), NativeAsset, from, to, amount, "transfer"); err != nil {
			return err
		}

		if r := b.receiver(to); r != nil {
			if err := r.OnReceive(ctx, from, amount); err != nil {
				return fmt.Errorf("receiver %s rejected transfer: %w", to.Hex(), err)
			}
		}
		return nil
	})
}

// Mint creates amount out of thin air. Used by the faucet and in tests.
func (b *Bank) Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	return b.host.Execute(ctx, func(ctx context.Context, f *Frame) error {
		return recordEntry(f.Tx(), to, NativeAsset, amount, "mint")
	})
}
