package chain

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Allowance is the amount spender may still move out of owner's balance.
type Allowance struct {
	Token     string          `gorm:"column:token;primaryKey"`
	Owner     string          `gorm:"column:owner;primaryKey"`
	Spender   string          `gorm:"column:spender;primaryKey"`
	Amount    decimal.Decimal `gorm:"column:amount;type:varchar(78);not null"`
	UpdatedAt time.Time
}

func (Allowance) TableName() string {
	return "token_allowances"
}

// TokenBook keeps balances and allowances of fungible tokens, one per
// contract address.
type TokenBook struct {
	host *Host
}

func NewTokenBook(host *Host) *TokenBook {
	return &TokenBook{host: host}
}

// Token returns the token deployed at addr.
func (b *TokenBook) Token(addr common.Address) *Token {
	return &Token{host: b.host, address: addr}
}

// Token is a handle on one token contract. Transfer methods follow the
// usual fungible-token contract: they report false instead of failing when
// the balance or the allowance is too small.
type Token struct {
	host    *Host
	address common.Address
}

func (t *Token) Address() common.Address {
	return t.address
}

func (t *Token) asset() string {
	return t.address.Hex()
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.host.View(ctx, func(tx *gorm.DB) error {
		var err error
		balance, err = entryBalance(tx, owner, t.asset())
		return err
	})
	return balance, err
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := t.host.View(ctx, func(tx *gorm.DB) error {
		var err error
		amount, err = t.allowance(tx, owner, spender)
		return err
	})
	return amount, err
}

func (t *Token) allowance(tx *gorm.DB, owner, spender common.Address) (decimal.Decimal, error) {
	var a Allowance
	err := tx.Where("token = ? AND owner = ? AND spender = ?", t.asset(), owner.Hex(), spender.Hex()).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return a.Amount, nil
}

func (t *Token) setAllowance(tx *gorm.DB, owner, spender common.Address, amount decimal.Decimal) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&Allowance{
		Token:   t.asset(),
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  amount,
	}).Error
}

// Approve sets the allowance of spender over owner's tokens to amount.
func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	return t.host.Execute(ctx, func(ctx context.Context, f *Frame) error {
		return t.setAllowance(f.Tx(), owner, spender, amount)
	})
}

// Transfer moves the caller's own tokens.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrNegativeAmount
	}

	ok := false
	err := t.host.Execute(ctx, func(ctx context.Context, f *Frame) error {
		var err error
		ok, err = t.transfer(f.Tx(), from, to, amount)
		return err
	})
	return ok, err
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// the allowance from granted to spender.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrNegativeAmount
	}

	ok := false
	err := t.host.Execute(ctx, func(ctx context.Context, f *Frame) error {
		allowed, err := t.allowance(f.Tx(), from, spender)
		if err != nil {
			return err
		}
		if allowed.LessThan(amount) {
			return nil
		}

		ok, err = t.transfer(f.Tx(), from, to, amount)
		if err != nil || !ok {
			return err
		}
		return t.setAllowance(f.Tx(), from, spender, allowed.Sub(amount))
	})
	return ok, err
}

func (t *Token) transfer(tx *gorm.DB, from, to common.Address, amount decimal.Decimal) (bool, error) {
	balance, err := entryBalance(tx, from, t.asset())
	if err != nil {
		return false, err
	}
	if balance.LessThan(amount) {
		return false, nil
	}

	if err := move(tx, t.asset(), from, to, amount, "token_transfer"); err != nil {
		return false, err
	}
	return true, nil
}

// Mint credits amount to to. Used by the test faucet.
func (t *Token) Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	return t.host.Execute(ctx, func(ctx context.Context, f *Frame) error {
		return recordEntry(f.Tx(), to, t.asset(), amount, "mint")
	})
}
