package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// errorParamKey is the Params key error responses carry their message under.
const errorParamKey = "error"

var (
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected to server")
	ErrConnectionTimeout = errors.New("websocket connection timeout")
	ErrReadingMessage    = errors.New("error reading message")

	ErrNilRequest           = errors.New("nil request")
	ErrInvalidRequestMethod = errors.New("invalid request method")
	ErrMarshalingRequest    = errors.New("error marshaling request")
	ErrSendingRequest       = errors.New("error sending request")
	ErrNoResponse           = errors.New("no response received")
	ErrSendingPing          = errors.New("error sending ping")
	ErrNoSigner             = errors.New("client has no signer for signed methods")

	ErrDialingWebsocket = errors.New("error dialing websocket server")
)

// Error is an error whose message is safe to return to the client.
// Handlers that fail with any other error send their fallback message
// instead, so internal details never leave the node.
type Error struct {
	err error
}

// Errorf formats a client facing error.
func Errorf(format string, args ...any) Error {
	return Error{
		err: fmt.Errorf(format, args...),
	}
}

func (e Error) Error() string {
	return e.err.Error()
}

func (e Error) Unwrap() error {
	return e.err
}

// NewErrorParams builds the {"error": msg} parameters of an error response.
func NewErrorParams(errMsg string) Params {
	encoded, err := json.Marshal(errMsg)
	if err != nil {
		encoded = []byte(`"internal error"`)
	}
	return Params{errorParamKey: json.RawMessage(encoded)}
}
