package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPlatformFeeBps is the platform fee in force after deployment (2.5%).
	DefaultPlatformFeeBps uint32 = 250
	// MaxPlatformFeeBps caps the platform fee at 10%.
	MaxPlatformFeeBps uint32 = 1000

	bpsDenominator = 10000
)

type InvoiceStatus string

const (
	InvoiceStatusCreated   InvoiceStatus = "created"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusDisputed  InvoiceStatus = "disputed"
	InvoiceStatusResolved  InvoiceStatus = "resolved"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusCreated, InvoiceStatusPaid, InvoiceStatusDisputed, InvoiceStatusResolved, InvoiceStatusCancelled:
		return true
	}
	return false
}

// ParseInvoiceStatus accepts the lower case status names.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status := InvoiceStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown invoice status: %q", s)
	}
	return status, nil
}

type DisputeStatus string

const (
	DisputeStatusNone        DisputeStatus = "none"
	DisputeStatusRaised      DisputeStatus = "raised"
	DisputeStatusUnderReview DisputeStatus = "under_review" // reserved, never entered
	DisputeStatusResolved    DisputeStatus = "resolved"
)

func (s DisputeStatus) String() string {
	return string(s)
}

type AssetKind string

const (
	AssetKindNative AssetKind = "native"
	AssetKindToken  AssetKind = "token"
)

func (k AssetKind) String() string {
	return string(k)
}

// SettlementAsset is what an invoice must be paid in: the native coin or a
// token contract.
type SettlementAsset struct {
	Kind  AssetKind      `json:"kind"`
	Token common.Address `json:"token,omitempty"`
}

func NativeCoin() SettlementAsset {
	return SettlementAsset{Kind: AssetKindNative}
}

func TokenAsset(token common.Address) SettlementAsset {
	return SettlementAsset{Kind: AssetKindToken, Token: token}
}

func (a SettlementAsset) IsNative() bool {
	return a.Kind == AssetKindNative
}

func (a SettlementAsset) IsToken() bool {
	return a.Kind == AssetKindToken
}

func (a SettlementAsset) String() string {
	if a.IsToken() {
		return a.Token.Hex()
	}
	return string(a.Kind)
}

func (a SettlementAsset) validate() error {
	switch a.Kind {
	case AssetKindNative:
		if a.Token != (common.Address{}) {
			return ErrInvalidAsset
		}
	case AssetKindToken:
		if a.Token == (common.Address{}) {
			return ErrInvalidAsset
		}
	default:
		return ErrInvalidAsset
	}
	return nil
}

type Invoice struct {
	ID          uint64          `json:"id"`
	ContentRef  string          `json:"content_ref"`
	Issuer      common.Address  `json:"issuer"`
	Recipient   common.Address  `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       SettlementAsset `json:"asset"`
	Status      InvoiceStatus   `json:"status"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	DueDate     time.Time       `json:"due_date"`
	PaidAt      time.Time       `json:"paid_at"` // zero until paid
}

// IsParty reports whether addr is the issuer or the recipient.
func (i Invoice) IsParty(addr common.Address) bool {
	return addr == i.Issuer || addr == i.Recipient
}

type Dispute struct {
	InvoiceID  uint64          `json:"invoice_id"`
	Initiator  common.Address  `json:"initiator"`
	Reason     string          `json:"reason"`
	Status     DisputeStatus   `json:"status"`
	FeePaid    decimal.Decimal `json:"fee_paid"`
	Resolver   common.Address  `json:"resolver"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// Params are the global parameters of the ledger.
type Params struct {
	NextInvoiceID       uint64          `json:"next_invoice_id"`
	DisputeFee          decimal.Decimal `json:"dispute_fee"`
	PlatformFeeBps      uint32          `json:"platform_fee_bps"`
	EscrowedDisputeFees decimal.Decimal `json:"escrowed_dispute_fees"`
	Paused              bool            `json:"paused"`
	Admin               common.Address  `json:"admin"`
	Contract            common.Address  `json:"contract"`
	FeeCollector        common.Address  `json:"fee_collector"`
}

// Call identifies who invokes a state-changing operation and how much
// native coin they attach to it.
type Call struct {
	From  common.Address
	Value decimal.Decimal
}

type CreateInvoiceParams struct {
	ContentRef  string
	Recipient   common.Address
	Amount      decimal.Decimal
	Asset       SettlementAsset
	DueDate     time.Time
	Description string
}
