package main

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/rpc"
)

// HandleGetRPCHistory returns the stored signed requests of the caller
func (r *RPCRouter) HandleGetRPCHistory(c *rpc.Context) {
	var req rpc.GetRPCHistoryRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	sender := senderFromContext(c.Context)
	records, err := r.RPCStore.GetRPCHistory(c.Context, sender.Hex(), &req.ListOptions)
	if err != nil {
		failCall(c, err, "failed to retrieve RPC history")
		return
	}

	entries := make([]rpc.RPCEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, record.toRPCEntry())
	}

	succeed(c, rpc.GetRPCHistoryResponse{RPCEntries: entries})
}

// HandleSubscribe binds the connection to the signer, so ledger events
// concerning the signer are pushed to it
func (r *RPCRouter) HandleSubscribe(c *rpc.Context) {
	sender := senderFromContext(c.Context)
	c.UserID = sender.Hex()

	succeed(c, rpc.SubscribeResponse{Address: sender.Hex()})
}

func (r *RPCRouter) HandleCreateInvoice(c *rpc.Context) {
	var req rpc.CreateInvoiceRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	asset := ledger.NativeCoin()
	if req.Token != "" {
		tokenAddr := common.HexToAddress(req.Token)
		if _, ok := r.Config.tokens.GetTokenByAddress(tokenAddr); !ok {
			c.Fail(rpc.Errorf("unsupported token: %s", req.Token), "")
			return
		}
		asset = ledger.TokenAsset(tokenAddr)
	}

	sender := senderFromContext(c.Context)
	invoiceID, err := r.Stack.Ledger.CreateInvoice(c.Context, ledger.Call{From: sender}, ledger.CreateInvoiceParams{
		ContentRef:  req.ContentRef,
		Recipient:   common.HexToAddress(req.Recipient),
		Amount:      req.Amount,
		Asset:       asset,
		DueDate:     req.DueDate,
		Description: req.Description,
	})
	if err != nil {
		failCall(c, err, "failed to create invoice")
		return
	}

	succeed(c, rpc.CreateInvoiceResponse{InvoiceID: invoiceID})
}

// HandlePayInvoice pays a native coin invoice. Without an explicit value the
// invoice amount is attached.
func (r *RPCRouter) HandlePayInvoice(c *rpc.Context) {
	var req rpc.PayInvoiceRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	var value decimal.Decimal
	if req.Value != nil {
		value = *req.Value
	} else {
		inv, err := r.Stack.Ledger.GetInvoice(c.Context, req.InvoiceID)
		if err != nil {
			failCall(c, err, "failed to pay invoice")
			return
		}
		value = inv.Amount
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.PayWithNativeCoin(c.Context, ledger.Call{From: sender, Value: value}, req.InvoiceID); err != nil {
		failCall(c, err, "failed to pay invoice")
		return
	}

	r.respondInvoice(c, req.InvoiceID, func(inv rpc.Invoice) any { return rpc.PayInvoiceResponse(inv) })
}

func (r *RPCRouter) HandlePayInvoiceToken(c *rpc.Context) {
	var req rpc.PayInvoiceTokenRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.PayWithToken(c.Context, ledger.Call{From: sender}, req.InvoiceID); err != nil {
		failCall(c, err, "failed to pay invoice")
		return
	}

	r.respondInvoice(c, req.InvoiceID, func(inv rpc.Invoice) any { return rpc.PayInvoiceResponse(inv) })
}

// HandleRaiseDispute disputes an invoice. Without an explicit value the
// current dispute fee is attached.
func (r *RPCRouter) HandleRaiseDispute(c *rpc.Context) {
	var req rpc.RaiseDisputeRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	var value decimal.Decimal
	if req.Value != nil {
		value = *req.Value
	} else {
		params, err := r.Stack.Ledger.Params(c.Context)
		if err != nil {
			failCall(c, err, "failed to raise dispute")
			return
		}
		value = params.DisputeFee
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.RaiseDispute(c.Context, ledger.Call{From: sender, Value: value}, req.InvoiceID, req.Reason); err != nil {
		failCall(c, err, "failed to raise dispute")
		return
	}

	dispute, err := r.Stack.Ledger.GetDispute(c.Context, req.InvoiceID)
	if err != nil {
		failCall(c, err, "failed to get dispute")
		return
	}

	succeed(c, rpc.RaiseDisputeResponse(toRPCDispute(dispute)))
}

func (r *RPCRouter) HandleResolveDispute(c *rpc.Context) {
	var req rpc.ResolveDisputeRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	status, err := ledger.ParseInvoiceStatus(req.Status)
	if err != nil {
		c.Fail(rpc.Errorf("%s", ledger.ErrInvalidResolution.Reason), "")
		return
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.ResolveDispute(c.Context, ledger.Call{From: sender}, req.InvoiceID, status); err != nil {
		failCall(c, err, "failed to resolve dispute")
		return
	}

	r.respondInvoice(c, req.InvoiceID, func(inv rpc.Invoice) any { return rpc.ResolveDisputeResponse(inv) })
}

func (r *RPCRouter) HandleCancelInvoice(c *rpc.Context) {
	var req rpc.CancelInvoiceRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.CancelInvoice(c.Context, ledger.Call{From: sender}, req.InvoiceID); err != nil {
		failCall(c, err, "failed to cancel invoice")
		return
	}

	r.respondInvoice(c, req.InvoiceID, func(inv rpc.Invoice) any { return rpc.CancelInvoiceResponse(inv) })
}

// HandleApproveToken sets the allowance of the ledger contract over the
// caller's tokens. Token invoices are paid from this allowance.
func (r *RPCRouter) HandleApproveToken(c *rpc.Context) {
	var req rpc.ApproveTokenRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	tokenAddr := common.HexToAddress(req.Token)
	if _, ok := r.Config.tokens.GetTokenByAddress(tokenAddr); !ok {
		c.Fail(rpc.Errorf("unsupported token: %s", req.Token), "")
		return
	}

	sender := senderFromContext(c.Context)
	token := r.Stack.Tokens.Token(tokenAddr)
	if err := token.Approve(c.Context, sender, r.Stack.Contract, req.Amount); err != nil {
		failCall(c, err, "failed to approve token")
		return
	}
	markCommitted(c.Context)

	allowance, err := token.Allowance(c.Context, sender, r.Stack.Contract)
	if err != nil {
		failCall(c, err, "failed to read allowance")
		return
	}

	succeed(c, rpc.ApproveTokenResponse{
		Token:     tokenAddr.Hex(),
		Owner:     sender.Hex(),
		Spender:   r.Stack.Contract.Hex(),
		Allowance: allowance,
	})
}

// respondInvoice answers with the current state of invoiceID.
func (r *RPCRouter) respondInvoice(c *rpc.Context, invoiceID uint64, wrap func(rpc.Invoice) any) {
	inv, err := r.Stack.Ledger.GetInvoice(c.Context, invoiceID)
	if err != nil {
		failCall(c, err, "failed to get invoice")
		return
	}

	succeed(c, wrap(toRPCInvoice(inv)))
}
