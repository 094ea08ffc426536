package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/sign"
)

// Client is a typed invoice node client. Methods that change ledger state
// are signed with the client's signer; read-only methods are sent unsigned.
//
//	dialer := rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig)
//	client := rpc.NewClient(dialer, signer)
//	if err := client.Start(ctx, "ws://localhost:8000/ws", onClose); err != nil {
//	    return err
//	}
//	created, _, err := client.CreateInvoice(ctx, rpc.CreateInvoiceRequest{...})
type Client struct {
	dialer        Dialer
	signer        sign.Signer
	eventHandlers map[Event]any
	mu            sync.RWMutex // protects eventHandlers
}

// NewClient creates a client. signer may be nil for a read-only client.
func NewClient(dialer Dialer, signer sign.Signer) *Client {
	return &Client{
		dialer:        dialer,
		signer:        signer,
		eventHandlers: make(map[Event]any),
	}
}

// Start connects and begins dispatching notifications to the registered
// handlers.
func (c *Client) Start(ctx context.Context, url string, handleClosure func(err error)) error {
	parentCtx, cancel := context.WithCancel(ctx)
	childHandleClosure := func(err error) {
		cancel()
		handleClosure(err)
	}

	if err := c.dialer.Dial(parentCtx, url, childHandleClosure); err != nil {
		cancel()
		return err
	}

	go c.listenEvents(parentCtx)

	return nil
}

// LedgerUpdateEventHandler receives ledger events of the subscribed address.
type LedgerUpdateEventHandler func(ctx context.Context, notif LedgerUpdateNotification, resSig []sign.Signature)

func (c *Client) HandleLedgerUpdateEvent(handler LedgerUpdateEventHandler) {
	c.setEventHandler(LedgerUpdateEvent, handler)
}

func (c *Client) listenEvents(ctx context.Context) {
	logger := log.FromContext(ctx)
	eventCh := c.dialer.EventCh()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if event == nil {
				continue
			}

			switch event.Res.Method {
			case LedgerUpdateEvent.String():
				c.handleLedgerUpdateEvent(ctx, event)
			default:
				logger.Warn("unknown event received", "method", event.Res.Method)
			}
		}
	}
}

func (c *Client) handleLedgerUpdateEvent(ctx context.Context, event *Response) {
	logger := log.FromContext(ctx)
	handler, ok := c.getEventHandler(LedgerUpdateEvent).(LedgerUpdateEventHandler)
	if !ok {
		logger.Warn("no handler for event", "method", event.Res.Method)
		return
	}

	var notif LedgerUpdateNotification
	if err := event.Res.Params.Translate(&notif); err != nil {
		logger.Error("failed to translate event", "error", err, "method", event.Res.Method)
		return
	}

	handler(ctx, notif, event.Sig)
}

func (c *Client) Ping(ctx context.Context) ([]sign.Signature, error) {
	res, err := c.call(ctx, PingMethod, nil, false)
	if err != nil {
		return nil, err
	}

	if res.Res.Method != PongMethod.String() {
		return res.Sig, fmt.Errorf("unexpected response method: %s", res.Res.Method)
	}
	return res.Sig, nil
}

func (c *Client) GetConfig(ctx context.Context) (GetConfigResponse, []sign.Signature, error) {
	var resParams GetConfigResponse
	sigs, err := c.invoke(ctx, GetConfigMethod, nil, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetTokens(ctx context.Context) (GetTokensResponse, []sign.Signature, error) {
	var resParams GetTokensResponse
	sigs, err := c.invoke(ctx, GetTokensMethod, nil, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetInvoice(ctx context.Context, reqParams GetInvoiceRequest) (GetInvoiceResponse, []sign.Signature, error) {
	var resParams GetInvoiceResponse
	sigs, err := c.invoke(ctx, GetInvoiceMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetDispute(ctx context.Context, reqParams GetDisputeRequest) (GetDisputeResponse, []sign.Signature, error) {
	var resParams GetDisputeResponse
	sigs, err := c.invoke(ctx, GetDisputeMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetUserInvoices(ctx context.Context, reqParams GetUserInvoicesRequest) (GetUserInvoicesResponse, []sign.Signature, error) {
	var resParams GetUserInvoicesResponse
	sigs, err := c.invoke(ctx, GetUserInvoicesMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetInvoicesByStatus(ctx context.Context, reqParams GetInvoicesByStatusRequest) (GetInvoicesByStatusResponse, []sign.Signature, error) {
	var resParams GetInvoicesByStatusResponse
	sigs, err := c.invoke(ctx, GetInvoicesByStatusMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetInvoiceEvents(ctx context.Context, reqParams GetInvoiceEventsRequest) (GetInvoiceEventsResponse, []sign.Signature, error) {
	var resParams GetInvoiceEventsResponse
	sigs, err := c.invoke(ctx, GetInvoiceEventsMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetBalance(ctx context.Context, reqParams GetBalanceRequest) (GetBalanceResponse, []sign.Signature, error) {
	var resParams GetBalanceResponse
	sigs, err := c.invoke(ctx, GetBalanceMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

func (c *Client) GetRPCHistory(ctx context.Context, reqParams GetRPCHistoryRequest) (GetRPCHistoryResponse, []sign.Signature, error) {
	var resParams GetRPCHistoryResponse
	sigs, err := c.invoke(ctx, GetRPCHistoryMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) CreateInvoice(ctx context.Context, reqParams CreateInvoiceRequest) (CreateInvoiceResponse, []sign.Signature, error) {
	var resParams CreateInvoiceResponse
	sigs, err := c.invoke(ctx, CreateInvoiceMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) PayInvoice(ctx context.Context, reqParams PayInvoiceRequest) (PayInvoiceResponse, []sign.Signature, error) {
	var resParams PayInvoiceResponse
	sigs, err := c.invoke(ctx, PayInvoiceMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) PayInvoiceWithToken(ctx context.Context, reqParams PayInvoiceTokenRequest) (PayInvoiceResponse, []sign.Signature, error) {
	var resParams PayInvoiceResponse
	sigs, err := c.invoke(ctx, PayInvoiceTokenMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) RaiseDispute(ctx context.Context, reqParams RaiseDisputeRequest) (RaiseDisputeResponse, []sign.Signature, error) {
	var resParams RaiseDisputeResponse
	sigs, err := c.invoke(ctx, RaiseDisputeMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) ResolveDispute(ctx context.Context, reqParams ResolveDisputeRequest) (ResolveDisputeResponse, []sign.Signature, error) {
	var resParams ResolveDisputeResponse
	sigs, err := c.invoke(ctx, ResolveDisputeMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) CancelInvoice(ctx context.Context, reqParams CancelInvoiceRequest) (CancelInvoiceResponse, []sign.Signature, error) {
	var resParams CancelInvoiceResponse
	sigs, err := c.invoke(ctx, CancelInvoiceMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) ApproveToken(ctx context.Context, reqParams ApproveTokenRequest) (ApproveTokenResponse, []sign.Signature, error) {
	var resParams ApproveTokenResponse
	sigs, err := c.invoke(ctx, ApproveTokenMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

// Subscribe binds the connection to the signer's address. Ledger events
// concerning that address are delivered to HandleLedgerUpdateEvent.
func (c *Client) Subscribe(ctx context.Context) (SubscribeResponse, []sign.Signature, error) {
	var resParams SubscribeResponse
	sigs, err := c.invoke(ctx, SubscribeMethod, nil, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) SetResolver(ctx context.Context, reqParams SetResolverRequest) (SetResolverResponse, []sign.Signature, error) {
	var resParams SetResolverResponse
	sigs, err := c.invoke(ctx, SetResolverMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) SetDisputeFee(ctx context.Context, reqParams SetDisputeFeeRequest) (SetDisputeFeeResponse, []sign.Signature, error) {
	var resParams SetDisputeFeeResponse
	sigs, err := c.invoke(ctx, SetDisputeFeeMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) SetPlatformFee(ctx context.Context, reqParams SetPlatformFeeRequest) (SetPlatformFeeResponse, []sign.Signature, error) {
	var resParams SetPlatformFeeResponse
	sigs, err := c.invoke(ctx, SetPlatformFeeMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) WithdrawFees(ctx context.Context) (WithdrawFeesResponse, []sign.Signature, error) {
	var resParams WithdrawFeesResponse
	sigs, err := c.invoke(ctx, WithdrawFeesMethod, nil, true, &resParams)
	return resParams, sigs, err
}

func (c *Client) SetPaused(ctx context.Context, reqParams SetPausedRequest) (SetPausedResponse, []sign.Signature, error) {
	var resParams SetPausedResponse
	sigs, err := c.invoke(ctx, SetPausedMethod, &reqParams, true, &resParams)
	return resParams, sigs, err
}

// Faucet mints native coin. Test mode nodes only.
func (c *Client) Faucet(ctx context.Context, reqParams FaucetRequest) (GetBalanceResponse, []sign.Signature, error) {
	var resParams GetBalanceResponse
	sigs, err := c.invoke(ctx, FaucetMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

// MintToken mints tokens. Test mode nodes only.
func (c *Client) MintToken(ctx context.Context, reqParams MintTokenRequest) (GetBalanceResponse, []sign.Signature, error) {
	var resParams GetBalanceResponse
	sigs, err := c.invoke(ctx, MintTokenMethod, &reqParams, false, &resParams)
	return resParams, sigs, err
}

// invoke calls method and translates the result into resParams.
func (c *Client) invoke(ctx context.Context, method Method, reqParams any, signed bool, resParams any) ([]sign.Signature, error) {
	res, err := c.call(ctx, method, reqParams, signed)
	if err != nil {
		return nil, err
	}

	if err := res.Res.Params.Translate(resParams); err != nil {
		return res.Sig, err
	}
	return res.Sig, nil
}

func (c *Client) call(ctx context.Context, method Method, reqParams any, signed bool) (*Response, error) {
	payload, err := c.PreparePayload(method, reqParams)
	if err != nil {
		return nil, err
	}

	req := NewRequest(payload)
	if signed {
		if c.signer == nil {
			return nil, ErrNoSigner
		}
		sig, err := SignPayload(c.signer, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		req.Sig = append(req.Sig, sig)
	}

	res, err := c.dialer.Call(ctx, &req)
	if err != nil {
		return nil, err
	}

	if err := res.Error(); err != nil {
		return nil, err
	}

	return res, nil
}

// PreparePayload builds a payload with a random request id.
func (c *Client) PreparePayload(method Method, reqParams any) (Payload, error) {
	params, err := NewParams(reqParams)
	if err != nil {
		return Payload{}, err
	}

	return NewPayload(
		uint64(uuid.New().ID()),
		method.String(),
		params,
	), nil
}

func (c *Client) setEventHandler(event Event, handler any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventHandlers[event] = handler
}

func (c *Client) getEventHandler(event Event) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.eventHandlers[event]
}
