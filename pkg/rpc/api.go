package rpc

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// RPC Method Constants
// ============================================================================

// Method is an RPC method name served by the invoice node.
type Method string

const (
	PingMethod  Method = "ping"
	PongMethod  Method = "pong"
	ErrorMethod Method = "error"

	// GetConfigMethod returns the node address and the ledger parameters.
	GetConfigMethod Method = "get_config"
	// GetTokensMethod returns the token contracts invoices may settle in.
	GetTokensMethod Method = "get_tokens"
	GetInvoiceMethod Method = "get_invoice"
	GetDisputeMethod Method = "get_dispute"
	// GetUserInvoicesMethod lists the invoices an address is a party to.
	GetUserInvoicesMethod Method = "get_user_invoices"
	// GetInvoicesByStatusMethod pages through the invoices with a status.
	GetInvoicesByStatusMethod Method = "get_invoices_by_status"
	// GetInvoiceEventsMethod returns the committed events of one invoice.
	GetInvoiceEventsMethod Method = "get_invoice_events"
	// GetBalanceMethod returns a native coin or token balance.
	GetBalanceMethod Method = "get_balance"
	// GetRPCHistoryMethod returns the signed requests of the caller.
	GetRPCHistoryMethod Method = "get_rpc_history"

	CreateInvoiceMethod Method = "create_invoice"
	// PayInvoiceMethod pays a native coin invoice with the attached value.
	PayInvoiceMethod Method = "pay_invoice"
	// PayInvoiceTokenMethod pays a token invoice from the caller's allowance.
	PayInvoiceTokenMethod Method = "pay_invoice_token"
	RaiseDisputeMethod    Method = "raise_dispute"
	ResolveDisputeMethod  Method = "resolve_dispute"
	CancelInvoiceMethod   Method = "cancel_invoice"
	// ApproveTokenMethod lets the ledger contract spend the caller's tokens.
	ApproveTokenMethod Method = "approve_token"
	// SubscribeMethod binds the connection to the signer's address so it
	// receives ledger events concerning that address.
	SubscribeMethod Method = "subscribe"

	SetResolverMethod    Method = "set_resolver"
	SetDisputeFeeMethod  Method = "set_dispute_fee"
	SetPlatformFeeMethod Method = "set_platform_fee"
	WithdrawFeesMethod   Method = "withdraw_fees"
	SetPausedMethod      Method = "set_paused"

	// FaucetMethod and MintTokenMethod only exist on nodes running in test mode.
	FaucetMethod    Method = "faucet"
	MintTokenMethod Method = "mint_token"
)

func (m Method) String() string {
	return string(m)
}

// ============================================================================
// Event Constants
// ============================================================================

// Event is a server initiated notification type.
type Event string

const (
	// LedgerUpdateEvent carries a committed ledger event to its parties.
	LedgerUpdateEvent Event = "lu"
)

func (e Event) String() string {
	return string(e)
}

// ============================================================================
// Shared Types
// ============================================================================

type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

func (s SortType) ToString() string {
	return string(s)
}

// ListOptions pages list results. A zero limit uses the node default.
type ListOptions struct {
	Offset uint32    `json:"offset,omitempty"`
	Limit  uint32    `json:"limit,omitempty"`
	Sort   *SortType `json:"sort,omitempty"`
}

type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// Invoice is the wire form of an invoice. Amounts are integers in the
// smallest unit of the settlement asset.
type Invoice struct {
	ID          uint64          `json:"id"`
	ContentRef  string          `json:"content_ref"`
	Issuer      string          `json:"issuer"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	AssetKind   string          `json:"asset_kind"`
	Token       string          `json:"token,omitempty"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	DueDate     time.Time       `json:"due_date"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

type Dispute struct {
	InvoiceID  uint64          `json:"invoice_id"`
	Initiator  string          `json:"initiator,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Status     string          `json:"status"`
	FeePaid    decimal.Decimal `json:"fee_paid"`
	Resolver   string          `json:"resolver,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// LedgerEvent is a committed ledger event. Data holds the event specific
// fields, e.g. {"invoice_id":1,"payer":"0x..","amount":"..","fee":".."}.
type LedgerEvent struct {
	ID        uint64          `json:"id"`
	Name      string          `json:"name"`
	InvoiceID uint64          `json:"invoice_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type RPCEntry struct {
	ID        uint     `json:"id"`
	Sender    string   `json:"sender"`
	ReqID     uint64   `json:"req_id"`
	Method    string   `json:"method"`
	Params    string   `json:"params"`
	Timestamp uint64   `json:"timestamp"`
	ReqSig    []string `json:"req_sig"`
	Result    string   `json:"response"`
	ResSig    []string `json:"res_sig"`
}

// ============================================================================
// Public Methods
// ============================================================================

type GetConfigResponse struct {
	NodeAddress         string          `json:"node_address"`
	NodeVersion         string          `json:"node_version"`
	Contract            string          `json:"contract"`
	Admin               string          `json:"admin"`
	FeeCollector        string          `json:"fee_collector"`
	DisputeFee          decimal.Decimal `json:"dispute_fee"`
	PlatformFeeBps      uint32          `json:"platform_fee_bps"`
	EscrowedDisputeFees decimal.Decimal `json:"escrowed_dispute_fees"`
	NextInvoiceID       uint64          `json:"next_invoice_id"`
	Paused              bool            `json:"paused"`
	TestMode            bool            `json:"test_mode"`
}

type GetTokensResponse struct {
	Tokens []TokenInfo `json:"tokens"`
}

type GetInvoiceRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
}

type GetInvoiceResponse Invoice

type GetDisputeRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
}

type GetDisputeResponse Dispute

type GetUserInvoicesRequest struct {
	Address string `json:"address" validate:"required,eth_addr"`
	ListOptions
}

type GetUserInvoicesResponse struct {
	InvoiceIDs []uint64 `json:"invoice_ids"`
}

type GetInvoicesByStatusRequest struct {
	Status string `json:"status" validate:"required"`
	// Limit of 0 returns every match from Offset on.
	Limit  uint64 `json:"limit,omitempty"`
	Offset uint64 `json:"offset,omitempty"`
}

type GetInvoicesByStatusResponse struct {
	InvoiceIDs []uint64 `json:"invoice_ids"`
}

type GetInvoiceEventsRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
}

type GetInvoiceEventsResponse struct {
	Events []LedgerEvent `json:"events"`
}

type GetBalanceRequest struct {
	Address string `json:"address" validate:"required,eth_addr"`
	// Token selects a token balance. Empty means the native coin.
	Token string `json:"token,omitempty" validate:"omitempty,eth_addr"`
}

type GetBalanceResponse struct {
	Address string          `json:"address"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// ============================================================================
// Signed Methods
// ============================================================================

type GetRPCHistoryRequest struct {
	ListOptions
}

type GetRPCHistoryResponse struct {
	RPCEntries []RPCEntry `json:"rpc_entries"`
}

type CreateInvoiceRequest struct {
	ContentRef string          `json:"content_ref" validate:"required,max=256"`
	Recipient  string          `json:"recipient" validate:"required,eth_addr"`
	Amount     decimal.Decimal `json:"amount"`
	// Token is the settlement token. Empty means the native coin.
	Token       string    `json:"token,omitempty" validate:"omitempty,eth_addr"`
	DueDate     time.Time `json:"due_date" validate:"required"`
	Description string    `json:"description" validate:"max=1024"`
}

type CreateInvoiceResponse struct {
	InvoiceID uint64 `json:"invoice_id"`
}

type PayInvoiceRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
	// Value is the native coin attached to the call. Defaults to the
	// invoice amount.
	Value *decimal.Decimal `json:"value,omitempty"`
}

type PayInvoiceTokenRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
}

type PayInvoiceResponse Invoice

type RaiseDisputeRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
	Reason    string `json:"reason" validate:"max=1024"`
	// Value is the native coin attached to the call. Defaults to the
	// current dispute fee.
	Value *decimal.Decimal `json:"value,omitempty"`
}

type RaiseDisputeResponse Dispute

type ResolveDisputeRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
}

type ResolveDisputeResponse Invoice

type CancelInvoiceRequest struct {
	InvoiceID uint64 `json:"invoice_id" validate:"required"`
}

type CancelInvoiceResponse Invoice

type ApproveTokenRequest struct {
	Token  string          `json:"token" validate:"required,eth_addr"`
	Amount decimal.Decimal `json:"amount" validate:"bigint"`
}

type ApproveTokenResponse struct {
	Token     string          `json:"token"`
	Owner     string          `json:"owner"`
	Spender   string          `json:"spender"`
	Allowance decimal.Decimal `json:"allowance"`
}

type SubscribeResponse struct {
	Address string `json:"address"`
}

type SetResolverRequest struct {
	Resolver   string `json:"resolver" validate:"required,eth_addr"`
	Authorized bool   `json:"authorized"`
}

type SetResolverResponse struct {
	Resolver   string `json:"resolver"`
	Authorized bool   `json:"authorized"`
}

type SetDisputeFeeRequest struct {
	Fee decimal.Decimal `json:"fee"`
}

type SetDisputeFeeResponse struct {
	DisputeFee decimal.Decimal `json:"dispute_fee"`
}

type SetPlatformFeeRequest struct {
	FeeBps uint32 `json:"fee_bps"`
}

type SetPlatformFeeResponse struct {
	PlatformFeeBps uint32 `json:"platform_fee_bps"`
}

type WithdrawFeesResponse struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type SetPausedRequest struct {
	Paused bool `json:"paused"`
}

type SetPausedResponse struct {
	Paused bool `json:"paused"`
}

type FaucetRequest struct {
	Address string          `json:"address" validate:"required,eth_addr"`
	Amount  decimal.Decimal `json:"amount" validate:"bigint"`
}

type MintTokenRequest struct {
	Token   string          `json:"token" validate:"required,eth_addr"`
	Address string          `json:"address" validate:"required,eth_addr"`
	Amount  decimal.Decimal `json:"amount" validate:"bigint"`
}

// ============================================================================
// Notifications
// ============================================================================

type LedgerUpdateNotification LedgerEvent
