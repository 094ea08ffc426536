package rpc_test

import (
	"context"
	"sync"

	"github.com/chainbill/invoicenode/pkg/rpc"
)

// MockCallHandler answers one call of the mock dialer.
type MockCallHandler func(params rpc.Params, publishNotification MockNotificationPublisher) (*rpc.Response, error)

// MockNotificationPublisher pushes a notification to the client.
type MockNotificationPublisher func(event rpc.Event, notification rpc.Params)

var _ rpc.Dialer = (*MockDialer)(nil)

// MockDialer serves calls from registered handlers without a network.
type MockDialer struct {
	handlers map[rpc.Method]MockCallHandler
	eventCh  chan *rpc.Response

	mu       sync.Mutex
	requests []rpc.Request
}

func NewMockDialer() *MockDialer {
	return &MockDialer{
		handlers: make(map[rpc.Method]MockCallHandler),
		eventCh:  make(chan *rpc.Response, 10),
	}
}

func (d *MockDialer) RegisterHandler(method rpc.Method, handler MockCallHandler) {
	d.handlers[method] = handler
}

func (d *MockDialer) Dial(ctx context.Context, url string, handleClosure func(err error)) error {
	return nil
}

func (d *MockDialer) IsConnected() bool {
	return true
}

func (d *MockDialer) Call(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	if req == nil {
		return nil, rpc.ErrNilRequest
	}

	d.mu.Lock()
	d.requests = append(d.requests, *req)
	d.mu.Unlock()

	handler, exists := d.handlers[rpc.Method(req.Req.Method)]
	if !exists {
		res := rpc.NewErrorResponse(req.Req.RequestID, "method not found")
		return &res, nil
	}

	res, err := handler(req.Req.Params, d.publishNotification)
	if err != nil {
		res := rpc.NewErrorResponse(req.Req.RequestID, err.Error())
		return &res, nil
	}

	return res, nil
}

func (d *MockDialer) EventCh() <-chan *rpc.Response {
	return d.eventCh
}

// LastRequest returns the most recent request the client sent.
func (d *MockDialer) LastRequest() rpc.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.requests) == 0 {
		return rpc.Request{}
	}
	return d.requests[len(d.requests)-1]
}

func (d *MockDialer) publishNotification(event rpc.Event, notification rpc.Params) {
	res := rpc.NewResponse(rpc.NewPayload(0, event.String(), notification))

	select {
	case d.eventCh <- &res:
	default:
	}
}

func (d *MockDialer) CloseEventChannel() {
	close(d.eventCh)
}
