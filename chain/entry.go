package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NativeAsset is the asset key of native coin entries.
const NativeAsset = "native"

// Entry is one side of a balance movement. The balance of an account in an
// asset is the sum of its credits minus the sum of its debits.
type Entry struct {
	ID        uint            `gorm:"primaryKey"`
	Account   string          `gorm:"column:account;not null;index:idx_world_entries_account_asset"`
	Asset     string          `gorm:"column:asset;not null;index:idx_world_entries_account_asset"`
	Credit    decimal.Decimal `gorm:"column:credit;type:varchar(78);not null"`
	Debit     decimal.Decimal `gorm:"column:debit;type:varchar(78);not null"`
	Memo      string          `gorm:"column:memo;not null"`
	CreatedAt time.Time
}

func (Entry) TableName() string {
	return "world_entries"
}

// Models lists the tables owned by the host.
func Models() []any {
	return []any{&Entry{}, &Allowance{}}
}

func recordEntry(tx *gorm.DB, account common.Address, asset string, amount decimal.Decimal, memo string) error {
	entry := &Entry{
		Account: account.Hex(),
		Asset:   asset,
		Credit:  decimal.Zero,
		Debit:   decimal.Zero,
		Memo:    memo,
	}

	switch {
	case amount.IsPositive():
		entry.Credit = amount
	case amount.IsNegative():
		entry.Debit = amount.Abs()
	default:
		return nil
	}

	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func entryBalance(tx *gorm.DB, account common.Address, asset string) (decimal.Decimal, error) {
	switch tx.Dialector.Name() {
	case "postgres":
		var result struct {
			Balance decimal.Decimal
		}
		err := tx.Model(&Entry{}).
			Where("account = ? AND asset = ?", account.Hex(), asset).
			Select("COALESCE(SUM(credit::numeric), 0) - COALESCE(SUM(debit::numeric), 0) AS balance").
			Scan(&result).Error
		if err != nil {
			return decimal.Zero, err
		}
		return result.Balance, nil

	case "sqlite":
		// sqlite would sum the text columns as floats
		var entries []Entry
		err := tx.Model(&Entry{}).
			Where("account = ? AND asset = ?", account.Hex(), asset).
			Find(&entries).Error
		if err != nil {
			return decimal.Zero, err
		}

		balance := decimal.Zero
		for _, entry := range entries {
			balance = balance.Add(entry.Credit).Sub(entry.Debit)
		}
		return balance, nil

	default:
		return decimal.Zero, fmt.Errorf("unsupported database driver: %s", tx.Dialector.Name())
	}
}

// move debits from and credits to in one step.
func move(tx *gorm.DB, asset string, from, to common.Address, amount decimal.Decimal, memo string) error {
	if err := recordEntry(tx, from, asset, amount.Neg(), memo); err != nil {
		return err
	}
	return recordEntry(tx, to, asset, amount, memo)
}
