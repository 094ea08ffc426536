package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventName string

const (
	EventInvoiceCreated     EventName = "InvoiceCreated"
	EventInvoicePaid        EventName = "InvoicePaid"
	EventInvoiceDisputed    EventName = "InvoiceDisputed"
	EventDisputeResolved    EventName = "DisputeResolved"
	EventInvoiceCancelled   EventName = "InvoiceCancelled"
	EventResolverUpdated    EventName = "ResolverUpdated"
	EventDisputeFeeUpdated  EventName = "DisputeFeeUpdated"
	EventPlatformFeeUpdated EventName = "PlatformFeeUpdated"
	EventFeesWithdrawn      EventName = "FeesWithdrawn"
	EventPauseUpdated       EventName = "PauseUpdated"
)

func (n EventName) String() string {
	return string(n)
}

type InvoiceCreated struct {
	InvoiceID  uint64          `json:"invoice_id"`
	Issuer     common.Address  `json:"issuer"`
	Recipient  common.Address  `json:"recipient"`
	Amount     decimal.Decimal `json:"amount"`
	Asset      SettlementAsset `json:"asset"`
	ContentRef string          `json:"content_ref"`
}

type InvoicePaid struct {
	InvoiceID uint64          `json:"invoice_id"`
	Payer     common.Address  `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
}

type InvoiceDisputed struct {
	InvoiceID uint64         `json:"invoice_id"`
	Initiator common.Address `json:"initiator"`
	Reason    string         `json:"reason"`
}

type DisputeResolved struct {
	InvoiceID uint64         `json:"invoice_id"`
	Resolver  common.Address `json:"resolver"`
	Status    InvoiceStatus  `json:"status"`
}

type InvoiceCancelled struct {
	InvoiceID uint64         `json:"invoice_id"`
	Issuer    common.Address `json:"issuer"`
}

type ResolverUpdated struct {
	Resolver   common.Address `json:"resolver"`
	Authorized bool           `json:"authorized"`
}

type DisputeFeeUpdated struct {
	Fee decimal.Decimal `json:"fee"`
}

type PlatformFeeUpdated struct {
	FeeBps uint32 `json:"fee_bps"`
}

type FeesWithdrawn struct {
	To     common.Address  `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type PauseUpdated struct {
	Paused bool `json:"paused"`
}

// Event is a committed state transition.
type Event struct {
	ID        uint64    `json:"id"`
	Name      EventName `json:"name"`
	InvoiceID uint64    `json:"invoice_id,omitempty"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	// Parties are the accounts the event concerns, for delivery purposes.
	Parties []common.Address `json:"-"`
}

// EventSink receives events once the call that emitted them has committed.
type EventSink interface {
	Publish(events ...Event)
}

// EventRecord is the stored form of an Event.
type EventRecord struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Name      EventName      `gorm:"column:name;not null"`
	InvoiceID uint64         `gorm:"column:invoice_id;not null;index:idx_ledger_events_invoice"`
	Data      datatypes.JSON `gorm:"column:data"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (EventRecord) TableName() string {
	return "ledger_events"
}

func (r EventRecord) toEvent() Event {
	return Event{
		ID:        r.ID,
		Name:      r.Name,
		InvoiceID: r.InvoiceID,
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func storeEvent(tx *gorm.DB, ev *Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Name, err)
	}

	rec := &EventRecord{
		Name:      ev.Name,
		InvoiceID: ev.InvoiceID,
		Data:      datatypes.JSON(data),
		CreatedAt: ev.CreatedAt,
	}
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to store %s event: %w", ev.Name, err)
	}
	ev.ID = rec.ID
	return nil
}
