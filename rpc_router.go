package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/chainbill/invoicenode/chain"
	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/rpc"
	"github.com/chainbill/invoicenode/pkg/sign"
)

type RPCRouter struct {
	Node         *rpc.WebsocketNode
	Config       *Config
	Signer       sign.Signer
	Stack        *LedgerStack
	Metrics      *Metrics
	RPCStore     *RPCStore
	MessageCache *MessageCache

	validate *validator.Validate
	lg       log.Logger
}

// NewRPCNode creates the websocket node whose connection hooks feed metrics.
func NewRPCNode(signer sign.Signer, metrics *Metrics, logger log.Logger) (*rpc.WebsocketNode, error) {
	return rpc.NewWebsocketNode(rpc.WebsocketNodeConfig{
		Signer:               signer,
		Logger:               logger,
		OnConnectHandler:     metrics.HandleConnect,
		OnDisconnectHandler:  metrics.HandleDisconnect,
		OnMessageSentHandler: metrics.HandleMessageSent,
		OnAuthenticatedHandler: func(userID string, send rpc.SendResponseFunc) {
			metrics.Subscriptions.Inc()
			logger.Debug("connection subscribed", "userID", userID)
		},
	})
}

func NewRPCRouter(
	node *rpc.WebsocketNode,
	conf *Config,
	signer sign.Signer,
	stack *LedgerStack,
	metrics *Metrics,
	rpcStore *RPCStore,
	logger log.Logger,
) *RPCRouter {
	r := &RPCRouter{
		Node:         node,
		Config:       conf,
		Signer:       signer,
		Stack:        stack,
		Metrics:      metrics,
		RPCStore:     rpcStore,
		MessageCache: NewMessageCache(time.Duration(conf.msgExpiryTime) * time.Second),
		validate:     getValidator(),
		lg:           logger.WithName("rpc-router"),
	}

	r.Stack.Ledger.OnOperation(func(_ context.Context, op string, err error) {
		r.Metrics.ObserveLedgerOperation(op, err)
	})
	r.Stack.Ledger.OnOperation(func(ctx context.Context, _ string, err error) {
		if _, nested := chain.FrameFromContext(ctx); err == nil && !nested {
			markCommitted(ctx)
		}
	})

	r.Node.Use(r.LoggerMiddleware)
	r.Node.Use(r.MetricsMiddleware)
	r.Node.Handle(rpc.GetConfigMethod.String(), r.HandleGetConfig)
	r.Node.Handle(rpc.GetTokensMethod.String(), r.HandleGetTokens)
	r.Node.Handle(rpc.GetInvoiceMethod.String(), r.HandleGetInvoice)
	r.Node.Handle(rpc.GetDisputeMethod.String(), r.HandleGetDispute)
	r.Node.Handle(rpc.GetUserInvoicesMethod.String(), r.HandleGetUserInvoices)
	r.Node.Handle(rpc.GetInvoicesByStatusMethod.String(), r.HandleGetInvoicesByStatus)
	r.Node.Handle(rpc.GetInvoiceEventsMethod.String(), r.HandleGetInvoiceEvents)
	r.Node.Handle(rpc.GetBalanceMethod.String(), r.HandleGetBalance)

	testModeGroup := r.Node.NewGroup("test_mode")
	testModeGroup.Use(r.TestModeMiddleware)
	testModeGroup.Handle(rpc.FaucetMethod.String(), r.HandleFaucet)
	testModeGroup.Handle(rpc.MintTokenMethod.String(), r.HandleMintToken)

	signedGroup := r.Node.NewGroup("signed")
	signedGroup.Use(r.SignatureMiddleware)
	signedGroup.Handle(rpc.GetRPCHistoryMethod.String(), r.HandleGetRPCHistory)
	signedGroup.Handle(rpc.SubscribeMethod.String(), r.HandleSubscribe)

	historyGroup := signedGroup.NewGroup("history")
	historyGroup.Use(r.HistoryMiddleware)
	historyGroup.Handle(rpc.CreateInvoiceMethod.String(), r.HandleCreateInvoice)
	historyGroup.Handle(rpc.PayInvoiceMethod.String(), r.HandlePayInvoice)
	historyGroup.Handle(rpc.PayInvoiceTokenMethod.String(), r.HandlePayInvoiceToken)
	historyGroup.Handle(rpc.RaiseDisputeMethod.String(), r.HandleRaiseDispute)
	historyGroup.Handle(rpc.ResolveDisputeMethod.String(), r.HandleResolveDispute)
	historyGroup.Handle(rpc.CancelInvoiceMethod.String(), r.HandleCancelInvoice)
	historyGroup.Handle(rpc.ApproveTokenMethod.String(), r.HandleApproveToken)

	adminGroup := historyGroup.NewGroup("admin")
	adminGroup.Handle(rpc.SetResolverMethod.String(), r.HandleSetResolver)
	adminGroup.Handle(rpc.SetDisputeFeeMethod.String(), r.HandleSetDisputeFee)
	adminGroup.Handle(rpc.SetPlatformFeeMethod.String(), r.HandleSetPlatformFee)
	adminGroup.Handle(rpc.WithdrawFeesMethod.String(), r.HandleWithdrawFees)
	adminGroup.Handle(rpc.SetPausedMethod.String(), r.HandleSetPaused)

	return r
}

func (r *RPCRouter) LoggerMiddleware(c *rpc.Context) {
	logger := log.FromContext(c.Context)

	c.Next()

	if c.Failed() {
		logger.Warn("failed to handle RPC request",
			"userID", c.UserID,
			"error", c.Response.Error(),
		)
	}
}

func (r *RPCRouter) MetricsMiddleware(c *rpc.Context) {
	r.Metrics.MessageReceived.Inc()

	reqMethod := c.Request.Req.Method
	c.Next()

	status := "success"
	if c.Failed() {
		status = "failure"
	}

	r.Metrics.RPCRequests.WithLabelValues(reqMethod, status).Inc()
}

type senderContextKey struct{}

// SignatureMiddleware authenticates the request by its first signature. The
// recovered address is the caller of every operation down the chain. A
// request is accepted once within the message expiry window.
func (r *RPCRouter) SignatureMiddleware(c *rpc.Context) {
	if err := ValidateTimestamp(c.Request.Req.Timestamp, r.Config.msgExpiryTime); err != nil {
		c.Fail(rpc.Errorf("%s", err.Error()), "")
		return
	}

	signers, err := c.Request.GetSigners()
	if err != nil {
		c.Fail(rpc.Errorf("invalid signature: %s", err.Error()), "")
		return
	}
	if len(signers) == 0 {
		c.Fail(rpc.Errorf("missing signature"), "")
		return
	}

	hash := HashMessage(&c.Request)
	if r.MessageCache.Exists(hash) {
		c.Fail(rpc.Errorf("duplicate request"), "")
		return
	}
	r.MessageCache.Add(hash)

	sender := signers[0]
	committed := new(bool)
	c.Context = context.WithValue(c.Context, senderContextKey{}, sender)
	c.Context = context.WithValue(c.Context, committedContextKey{}, committed)

	c.Next()

	// a rejected request may be resubmitted as is, unless it already
	// changed state before the response failed
	if c.Failed() && !*committed {
		r.MessageCache.Remove(hash)
	}
}

type committedContextKey struct{}

// markCommitted records that the request in ctx changed state.
func markCommitted(ctx context.Context) {
	if committed, ok := ctx.Value(committedContextKey{}).(*bool); ok {
		*committed = true
	}
}

func senderFromContext(ctx context.Context) common.Address {
	sender, _ := ctx.Value(senderContextKey{}).(common.Address)
	return sender
}

// HistoryMiddleware stores the request and its signed response in the RPC
// audit store.
func (r *RPCRouter) HistoryMiddleware(c *rpc.Context) {
	logger := log.FromContext(c.Context)

	req := c.Request.Req
	reqSig := c.Request.Sig
	c.Next()

	resRaw, err := json.Marshal(c.Response.Res)
	if err != nil {
		logger.Error("failed to marshal response", "error", err)
		return
	}
	resSig, err := rpc.SignPayload(c.Signer, c.Response.Res)
	if err != nil {
		logger.Error("failed to sign response", "error", err)
		return
	}

	sender := senderFromContext(c.Context).Hex()
	if err := r.RPCStore.StoreMessage(c.Context, sender, req, reqSig, resRaw, []sign.Signature{resSig}); err != nil {
		logger.Error("failed to store RPC message", "error", err)
	}
}

func (r *RPCRouter) TestModeMiddleware(c *rpc.Context) {
	if r.Config.mode != ModeTest {
		c.Fail(nil, "test mode endpoints are disabled")
		return
	}

	c.Next()
}

// ValidateTimestamp checks that ts is a Unix ms timestamp no older than
// expirySeconds.
func ValidateTimestamp(ts uint64, expirySeconds int) error {
	if ts < 1_000_000_000_000 || ts > 9_999_999_999_999 {
		return fmt.Errorf("invalid timestamp %d: must be 13-digit Unix ms", ts)
	}
	t := time.UnixMilli(int64(ts)).UTC()
	if time.Since(t) > time.Duration(expirySeconds)*time.Second {
		return fmt.Errorf("timestamp expired: %s older than %d s", t.Format(time.RFC3339Nano), expirySeconds)
	}
	if time.Until(t) > time.Duration(expirySeconds)*time.Second {
		return fmt.Errorf("timestamp %s is too far in the future", t.Format(time.RFC3339Nano))
	}
	return nil
}

func getValidator() *validator.Validate {
	validate := validator.New()

	validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	if err := validate.RegisterValidation("bigint", func(fl validator.FieldLevel) bool {
		n, ok := new(big.Int).SetString(fmt.Sprint(fl.Field()), 10)
		return ok && n.Sign() >= 0
	}); err != nil {
		panic(fmt.Sprintf("failed to register bigint validation: %v", err))
	}
	return validate
}

func (r *RPCRouter) parseParams(params rpc.Params, unmarshalTo any) error {
	if err := params.Translate(unmarshalTo); err != nil {
		return rpc.Errorf("failed to parse parameters: %s", err.Error())
	}
	if err := r.validate.Struct(unmarshalTo); err != nil {
		return rpc.Errorf("invalid parameters: %s", err.Error())
	}
	return nil
}

// failCall reports err to the client. Ledger rejections carry a reason the
// client may see, anything else is logged and hidden behind
// fallbackMessage.
func failCall(c *rpc.Context, err error, fallbackMessage string) {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		c.Fail(rpc.Errorf("%s", lerr.Reason), fallbackMessage)
		return
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		c.Fail(rpcErr, fallbackMessage)
		return
	}

	log.FromContext(c.Context).Error(fallbackMessage, "error", err)
	c.Fail(err, fallbackMessage)
}

// succeed encodes res as the response params.
func succeed(c *rpc.Context, res any) {
	params, err := rpc.NewParams(res)
	if err != nil {
		failCall(c, err, "failed to encode response")
		return
	}
	c.Succeed(c.Request.Req.Method, params)
}
