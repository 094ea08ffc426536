package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const paramsRowID = 1

// InvoiceRecord is the stored form of an Invoice.
type InvoiceRecord struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement:false;index:idx_invoices_status_id,priority:2"`
	ContentRef  string          `gorm:"column:content_ref;type:text;not null"`
	Issuer      string          `gorm:"column:issuer;not null"`
	Recipient   string          `gorm:"column:recipient;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:varchar(78);not null"`
	AssetKind   AssetKind       `gorm:"column:asset_kind;not null"`
	AssetToken  string          `gorm:"column:asset_token;not null"`
	Status      InvoiceStatus   `gorm:"column:status;not null;index:idx_invoices_status_id,priority:1"`
	Description string          `gorm:"column:description;type:text;not null"`
	DueDate     time.Time       `gorm:"column:due_date;not null"`
	PaidAt      *time.Time      `gorm:"column:paid_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null"`
}

func (InvoiceRecord) TableName() string {
	return "invoices"
}

func (r InvoiceRecord) toInvoice() Invoice {
	inv := Invoice{
		ID:          r.ID,
		ContentRef:  r.ContentRef,
		Issuer:      common.HexToAddress(r.Issuer),
		Recipient:   common.HexToAddress(r.Recipient),
		Amount:      r.Amount,
		Asset:       SettlementAsset{Kind: r.AssetKind},
		Status:      r.Status,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
		DueDate:     r.DueDate.UTC(),
	}
	if r.AssetKind == AssetKindToken {
		inv.Asset.Token = common.HexToAddress(r.AssetToken)
	}
	if r.PaidAt != nil {
		inv.PaidAt = r.PaidAt.UTC()
	}
	return inv
}

// DisputeRecord is the stored form of a Dispute, keyed by invoice id.
type DisputeRecord struct {
	InvoiceID  uint64          `gorm:"column:invoice_id;primaryKey;autoIncrement:false"`
	Initiator  string          `gorm:"column:initiator;not null"`
	Reason     string          `gorm:"column:reason;type:text;not null"`
	Status     DisputeStatus   `gorm:"column:status;not null"`
	FeePaid    decimal.Decimal `gorm:"column:fee_paid;type:varchar(78);not null"`
	Resolver   string          `gorm:"column:resolver;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
	ResolvedAt *time.Time      `gorm:"column:resolved_at"`
}

func (DisputeRecord) TableName() string {
	return "disputes"
}

func (r DisputeRecord) toDispute() Dispute {
	d := Dispute{
		InvoiceID: r.InvoiceID,
		Initiator: common.HexToAddress(r.Initiator),
		Reason:    r.Reason,
		Status:    r.Status,
		FeePaid:   r.FeePaid,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.Resolver != "" {
		d.Resolver = common.HexToAddress(r.Resolver)
	}
	if r.ResolvedAt != nil {
		d.ResolvedAt = r.ResolvedAt.UTC()
	}
	return d
}

// ParticipantRecord is one entry of an account's append-only invoice list.
type ParticipantRecord struct {
	Seq       uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	Account   string `gorm:"column:account;not null;index:idx_invoice_participants_account"`
	InvoiceID uint64 `gorm:"column:invoice_id;not null"`
	Role      string `gorm:"column:role;not null"`
}

func (ParticipantRecord) TableName() string {
	return "invoice_participants"
}

// ResolverRecord marks an account as allowed to resolve disputes.
type ResolverRecord struct {
	Address    string    `gorm:"column:address;primaryKey"`
	Authorized bool      `gorm:"column:authorized;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (ResolverRecord) TableName() string {
	return "resolvers"
}

// ParamsRecord holds the global parameters in a single row.
type ParamsRecord struct {
	ID                  uint            `gorm:"column:id;primaryKey;autoIncrement:false"`
	NextInvoiceID       uint64          `gorm:"column:next_invoice_id;not null"`
	DisputeFee          decimal.Decimal `gorm:"column:dispute_fee;type:varchar(78);not null"`
	PlatformFeeBps      uint32          `gorm:"column:platform_fee_bps;not null"`
	EscrowedDisputeFees decimal.Decimal `gorm:"column:escrowed_dispute_fees;type:varchar(78);not null"`
	Paused              bool            `gorm:"column:paused;not null"`
	Admin               string          `gorm:"column:admin;not null"`
	Contract            string          `gorm:"column:contract;not null"`
	FeeCollector        string          `gorm:"column:fee_collector;not null"`
	UpdatedAt           time.Time       `gorm:"column:updated_at"`
}

func (ParamsRecord) TableName() string {
	return "ledger_params"
}

func (r ParamsRecord) toParams() Params {
	return Params{
		NextInvoiceID:       r.NextInvoiceID,
		DisputeFee:          r.DisputeFee,
		PlatformFeeBps:      r.PlatformFeeBps,
		EscrowedDisputeFees: r.EscrowedDisputeFees,
		Paused:              r.Paused,
		Admin:               common.HexToAddress(r.Admin),
		Contract:            common.HexToAddress(r.Contract),
		FeeCollector:        common.HexToAddress(r.FeeCollector),
	}
}

// Models lists the tables owned by the ledger.
func Models() []any {
	return []any{&InvoiceRecord{}, &DisputeRecord{}, &ParticipantRecord{}, &ResolverRecord{}, &ParamsRecord{}, &EventRecord{}}
}

// loadParams reads the parameter row, locking it on PostgreSQL so that
// separate node processes sharing a database stay serialized.
func loadParams(tx *gorm.DB, forUpdate bool) (Params, error) {
	q := tx
	if forUpdate && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rec ParamsRecord
	err := q.Where("id = ?", paramsRowID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Params{}, ErrNotDeployed
	}
	if err != nil {
		return Params{}, fmt.Errorf("failed to load ledger params: %w", err)
	}
	return rec.toParams(), nil
}

func updateParams(tx *gorm.DB, fields map[string]any) error {
	if err := tx.Model(&ParamsRecord{}).Where("id = ?", paramsRowID).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update ledger params: %w", err)
	}
	return nil
}

func loadInvoice(tx *gorm.DB, id uint64) (Invoice, error) {
	if id == 0 {
		return Invoice{}, ErrInvoiceNotFound
	}

	var rec InvoiceRecord
	err := tx.Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("failed to load invoice %d: %w", id, err)
	}
	return rec.toInvoice(), nil
}

// setInvoiceStatus moves an invoice from one status to another. It fails
// with notAllowed when the stored status is no longer from.
func setInvoiceStatus(tx *gorm.DB, id uint64, from, to InvoiceStatus, extra map[string]any, notAllowed error) error {
	fields := map[string]any{"status": to}
	for k, v := range extra {
		fields[k] = v
	}

	res := tx.Model(&InvoiceRecord{}).Where("id = ? AND status = ?", id, from).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update invoice %d: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return notAllowed
	}
	return nil
}

func loadDispute(tx *gorm.DB, invoiceID uint64) (Dispute, error) {
	var rec DisputeRecord
	err := tx.Where("invoice_id = ?", invoiceID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Dispute{InvoiceID: invoiceID, Status: DisputeStatusNone, FeePaid: decimal.Zero}, nil
	}
	if err != nil {
		return Dispute{}, fmt.Errorf("failed to load dispute %d: %w", invoiceID, err)
	}
	return rec.toDispute(), nil
}

func isResolver(tx *gorm.DB, addr common.Address) (bool, error) {
	var rec ResolverRecord
	err := tx.Where("address = ?", addr.Hex()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load resolver: %w", err)
	}
	return rec.Authorized, nil
}

func setResolver(tx *gorm.DB, addr common.Address, authorized bool, now time.Time) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"authorized", "updated_at"}),
	}).Create(&ResolverRecord{
		Address:    addr.Hex(),
		Authorized: authorized,
		UpdatedAt:  now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to store resolver: %w", err)
	}
	return nil
}
