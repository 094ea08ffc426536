package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chainbill/invoicenode/pkg/sign"
)

// Handler is one link of a handler chain. A middleware hands the request on
// with c.Next and may inspect c.Response afterwards.
type Handler func(c *Context)

// SendResponseFunc pushes a notification to one connection.
type SendResponseFunc func(method string, params Params)

// Context carries one request through its handler chain.
type Context struct {
	// Context carries the request logger and span.
	Context context.Context
	// UserID is the address the connection is subscribed as, empty if none.
	// Changing it re-binds the connection after the response is sent.
	UserID   string
	Signer   sign.Signer
	Request  Request
	Response Response
	// Storage is shared by every request on the same connection.
	Storage *SafeStorage

	chain []Handler
}

func (c *Context) Next() {
	if len(c.chain) == 0 {
		return
	}
	next := c.chain[0]
	c.chain = c.chain[1:]
	next(c)
}

func (c *Context) Succeed(method string, params Params) {
	c.Response.Res = NewPayload(c.Request.Req.RequestID, method, params)
}

// Fail replaces the response with an error. Only an Error in err's chain is
// shown to the client; anything else is reported as fallbackMessage.
func (c *Context) Fail(err error, fallbackMessage string) {
	message := fallbackMessage
	var rpcErr Error
	if errors.As(err, &rpcErr) {
		message = rpcErr.Error()
	}
	if message == "" {
		message = defaultNodeErrorMessage
	}
	c.Response = NewErrorResponse(c.Request.Req.RequestID, message)
}

func (c *Context) Failed() bool {
	return c.Response.Res.Method == ErrorMethod.String()
}

// GetRawResponse signs the response and encodes it. A chain that never
// answered yields an internal error response.
func (c *Context) GetRawResponse() ([]byte, error) {
	if c.Response.Res.Method == "" {
		c.Fail(nil, "internal server error: no response from handler")
	}
	return encodeSignedResponse(c.Signer, c.Response.Res)
}

func encodeSignedResponse(signer sign.Signer, payload Payload) ([]byte, error) {
	sig, err := SignPayload(signer, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response data: %w", err)
	}

	raw, err := json.Marshal(Response{Res: payload, Sig: []sign.Signature{sig}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response message: %w", err)
	}
	return raw, nil
}

// SafeStorage is per-connection key-value storage.
type SafeStorage struct {
	values sync.Map
}

func NewSafeStorage() *SafeStorage {
	return &SafeStorage{}
}

func (s *SafeStorage) Set(key string, value any) {
	s.values.Store(key, value)
}

func (s *SafeStorage) Get(key string) (any, bool) {
	return s.values.Load(key)
}
