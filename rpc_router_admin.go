package main

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/rpc"
)

// Admin methods are signed like any other call. The ledger itself rejects
// callers other than its admin.

func (r *RPCRouter) HandleSetResolver(c *rpc.Context) {
	var req rpc.SetResolverRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	resolver := common.HexToAddress(req.Resolver)
	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.SetResolver(c.Context, ledger.Call{From: sender}, resolver, req.Authorized); err != nil {
		failCall(c, err, "failed to set resolver")
		return
	}

	succeed(c, rpc.SetResolverResponse{Resolver: resolver.Hex(), Authorized: req.Authorized})
}

func (r *RPCRouter) HandleSetDisputeFee(c *rpc.Context) {
	var req rpc.SetDisputeFeeRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.SetDisputeFee(c.Context, ledger.Call{From: sender}, req.Fee); err != nil {
		failCall(c, err, "failed to set dispute fee")
		return
	}

	succeed(c, rpc.SetDisputeFeeResponse{DisputeFee: req.Fee})
}

func (r *RPCRouter) HandleSetPlatformFee(c *rpc.Context) {
	var req rpc.SetPlatformFeeRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.SetPlatformFee(c.Context, ledger.Call{From: sender}, req.FeeBps); err != nil {
		failCall(c, err, "failed to set platform fee")
		return
	}

	succeed(c, rpc.SetPlatformFeeResponse{PlatformFeeBps: req.FeeBps})
}

// HandleWithdrawFees sends the collected fees to the caller, which the
// ledger requires to be the admin
func (r *RPCRouter) HandleWithdrawFees(c *rpc.Context) {
	sender := senderFromContext(c.Context)
	amount, err := r.Stack.Ledger.WithdrawFees(c.Context, ledger.Call{From: sender})
	if err != nil {
		failCall(c, err, "failed to withdraw fees")
		return
	}

	succeed(c, rpc.WithdrawFeesResponse{To: sender.Hex(), Amount: amount})
}

func (r *RPCRouter) HandleSetPaused(c *rpc.Context) {
	var req rpc.SetPausedRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	sender := senderFromContext(c.Context)
	if err := r.Stack.Ledger.SetPaused(c.Context, ledger.Call{From: sender}, req.Paused); err != nil {
		failCall(c, err, "failed to set paused")
		return
	}

	succeed(c, rpc.SetPausedResponse{Paused: req.Paused})
}
