package main

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbill/invoicenode/pkg/rpc"
)

// HandleFaucet mints native coin to an address. Test mode only.
func (r *RPCRouter) HandleFaucet(c *rpc.Context) {
	var req rpc.FaucetRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	addr := common.HexToAddress(req.Address)
	if err := r.Stack.Bank.Mint(c.Context, addr, req.Amount); err != nil {
		failCall(c, err, "failed to mint native coin")
		return
	}

	res, err := r.balanceOf(c, addr, "")
	if err != nil {
		failCall(c, err, "failed to get balance")
		return
	}

	succeed(c, res)
}

// HandleMintToken mints tokens of a configured token contract. Test mode only.
func (r *RPCRouter) HandleMintToken(c *rpc.Context) {
	var req rpc.MintTokenRequest
	if err := r.parseParams(c.Request.Req.Params, &req); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	tokenAddr := common.HexToAddress(req.Token)
	if _, ok := r.Config.tokens.GetTokenByAddress(tokenAddr); !ok {
		c.Fail(rpc.Errorf("unsupported token: %s", req.Token), "")
		return
	}

	addr := common.HexToAddress(req.Address)
	if err := r.Stack.Tokens.Token(tokenAddr).Mint(c.Context, addr, req.Amount); err != nil {
		failCall(c, err, "failed to mint token")
		return
	}

	res, err := r.balanceOf(c, addr, req.Token)
	if err != nil {
		failCall(c, err, "failed to get balance")
		return
	}

	succeed(c, res)
}
