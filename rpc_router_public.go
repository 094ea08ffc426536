package main

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/rpc"
)

// HandleGetConfig returns the node address and the ledger parameters
func (r *RPCRouter) HandleGetConfig(c *rpc.Context) {
	params, err := r.Stack.Ledger.Params(c.Context)
	if err != nil {
		failCall(c, err, "failed to get config")
		return
	}

	succeed(c, rpc.GetConfigResponse{
		NodeAddress:         r.Signer.Address().Hex(),
		NodeVersion:         Version,
		Contract:            params.Contract.Hex(),
		Admin:               params.Admin.Hex(),
		FeeCollector:        params.FeeCollector.Hex(),
		DisputeFee:          params.DisputeFee,
		PlatformFeeBps:      params.PlatformFeeBps,
		EscrowedDisputeFees: params.EscrowedDisputeFees,
		NextInvoiceID:       params.NextInvoiceID,
		Paused:              params.Paused,
		TestMode:            r.Config.mode == ModeTest,
	})
}

// HandleGetTokens returns the accepted settlement tokens
func (r *RPCRouter) HandleGetTokens(c *rpc.Context) {
	tokens := []rpc.TokenInfo{}
	for _, token := range r.Config.tokens.Enabled() {
		tokens = append(tokens, token.toTokenInfo())
	}

	succeed(c, rpc.GetTokensResponse{Tokens: tokens})
}

func (r *RPCRouter) HandleGetInvoice(c *rpc.Context) {
	var req rpc.GetInvoiceRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	inv, err := r.Stack.Ledger.GetInvoice(c.Context, req.InvoiceID)
	if err != nil {
		failCall(c, err, "failed to get invoice")
		return
	}

	succeed(c, rpc.GetInvoiceResponse(toRPCInvoice(inv)))
}

// HandleGetDispute returns the dispute of an invoice, with status "none"
// when the invoice was never disputed
func (r *RPCRouter) HandleGetDispute(c *rpc.Context) {
	var req rpc.GetDisputeRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	dispute, err := r.Stack.Ledger.GetDispute(c.Context, req.InvoiceID)
	if err != nil {
		failCall(c, err, "failed to get dispute")
		return
	}

	succeed(c, rpc.GetDisputeResponse(toRPCDispute(dispute)))
}

func (r *RPCRouter) HandleGetUserInvoices(c *rpc.Context) {
	var req rpc.GetUserInvoicesRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	ids, err := r.Stack.Ledger.UserInvoices(c.Context, common.HexToAddress(req.Address))
	if err != nil {
		failCall(c, err, "failed to get user invoices")
		return
	}

	succeed(c, rpc.GetUserInvoicesResponse{InvoiceIDs: pageIDs(ids, req.ListOptions)})
}

func (r *RPCRouter) HandleGetInvoicesByStatus(c *rpc.Context) {
	var req rpc.GetInvoicesByStatusRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	ids, err := r.Stack.Ledger.InvoicesByStatus(c.Context, ledger.InvoiceStatus(req.Status), req.Limit, req.Offset)
	if err != nil {
		failCall(c, err, "failed to get invoices")
		return
	}

	succeed(c, rpc.GetInvoicesByStatusResponse{InvoiceIDs: ids})
}

func (r *RPCRouter) HandleGetInvoiceEvents(c *rpc.Context) {
	var req rpc.GetInvoiceEventsRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	if _, err := r.Stack.Ledger.GetInvoice(c.Context, req.InvoiceID); err != nil {
		failCall(c, err, "failed to get invoice events")
		return
	}
	events, err := r.Stack.Ledger.InvoiceEvents(c.Context, req.InvoiceID)
	if err != nil {
		failCall(c, err, "failed to get invoice events")
		return
	}

	resp := rpc.GetInvoiceEventsResponse{Events: make([]rpc.LedgerEvent, 0, len(events))}
	for _, ev := range events {
		rpcEvent, err := toLedgerEvent(ev)
		if err != nil {
			failCall(c, err, "failed to get invoice events")
			return
		}
		resp.Events = append(resp.Events, rpcEvent)
	}

	succeed(c, resp)
}

// HandleGetBalance returns the native coin balance of an address, or its
// token balance when a token is given
func (r *RPCRouter) HandleGetBalance(c *rpc.Context) {
	var req rpc.GetBalanceRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	res, err := r.balanceOf(c, common.HexToAddress(req.Address), req.Token)
	if err != nil {
		failCall(c, err, "failed to get balance")
		return
	}

	succeed(c, res)
}

func (r *RPCRouter) balanceOf(c *rpc.Context, addr common.Address, token string) (rpc.GetBalanceResponse, error) {
	res := rpc.GetBalanceResponse{Address: addr.Hex(), Asset: ledger.AssetKindNative.String()}

	if token == "" {
		balance, err := r.Stack.Bank.Balance(c.Context, addr)
		if err != nil {
			return rpc.GetBalanceResponse{}, err
		}
		res.Balance = balance
		return res, nil
	}

	tokenAddr := common.HexToAddress(token)
	balance, err := r.Stack.Tokens.Token(tokenAddr).BalanceOf(c.Context, addr)
	if err != nil {
		return rpc.GetBalanceResponse{}, err
	}
	res.Asset = tokenAddr.Hex()
	res.Balance = balance
	return res, nil
}

func toRPCInvoice(inv ledger.Invoice) rpc.Invoice {
	res := rpc.Invoice{
		ID:          inv.ID,
		ContentRef:  inv.ContentRef,
		Issuer:      inv.Issuer.Hex(),
		Recipient:   inv.Recipient.Hex(),
		Amount:      inv.Amount,
		AssetKind:   inv.Asset.Kind.String(),
		Status:      inv.Status.String(),
		Description: inv.Description,
		CreatedAt:   inv.CreatedAt,
		DueDate:     inv.DueDate,
		PaidAt:      optionalTime(inv.PaidAt),
	}
	if inv.Asset.IsToken() {
		res.Token = inv.Asset.Token.Hex()
	}
	return res
}

func toRPCDispute(d ledger.Dispute) rpc.Dispute {
	res := rpc.Dispute{
		InvoiceID:  d.InvoiceID,
		Reason:     d.Reason,
		Status:     d.Status.String(),
		FeePaid:    d.FeePaid,
		CreatedAt:  optionalTime(d.CreatedAt),
		ResolvedAt: optionalTime(d.ResolvedAt),
	}
	if d.Status != ledger.DisputeStatusNone {
		res.Initiator = d.Initiator.Hex()
	}
	if d.Resolver != (common.Address{}) {
		res.Resolver = d.Resolver.Hex()
	}
	return res
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
