package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Payload is the body of every request, response and notification.
//
// On the wire a payload is a compact JSON array:
//
//	[RequestID, Method, Params, Timestamp]
type Payload struct {
	// RequestID correlates a response with its request. Notifications use 0.
	RequestID uint64 `json:"request_id"`
	// Method is the RPC method name, e.g. "create_invoice".
	Method string `json:"method"`
	// Params holds the method specific parameters.
	Params Params `json:"params"`
	// Timestamp is the creation time in Unix milliseconds. Signed requests
	// older than the node's expiry window are rejected.
	Timestamp uint64 `json:"ts"`
}

// NewPayload creates a payload stamped with the current time.
func NewPayload(id uint64, method string, params Params) Payload {
	if params == nil {
		params = Params{}
	}

	return Payload{
		RequestID: id,
		Method:    method,
		Params:    params,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
}

// SigningBytes returns the canonical encoding that signatures cover.
// Params keys are emitted in sorted order, so a payload decoded from the
// wire encodes back to the bytes its sender signed.
func (p Payload) SigningBytes() ([]byte, error) {
	return json.Marshal(p)
}

// Hash returns the Keccak256 hash of the signing bytes. It identifies a
// payload in the replay cache.
func (p Payload) Hash() ([]byte, error) {
	data, err := p.SigningBytes()
	if err != nil {
		return nil, err
	}

	return crypto.Keccak256(data), nil
}

// UnmarshalJSON decodes the compact array form.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var rawArr []json.RawMessage
	if err := json.Unmarshal(data, &rawArr); err != nil {
		return fmt.Errorf("error reading payload as array: %w", err)
	}
	if len(rawArr) != 4 {
		return errors.New("invalid payload: expected 4 elements in array")
	}

	if err := json.Unmarshal(rawArr[0], &p.RequestID); err != nil {
		return fmt.Errorf("invalid request_id: %w", err)
	}
	if err := json.Unmarshal(rawArr[1], &p.Method); err != nil {
		return fmt.Errorf("invalid method: %w", err)
	}
	if err := json.Unmarshal(rawArr[2], &p.Params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := json.Unmarshal(rawArr[3], &p.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}

	return nil
}

// MarshalJSON always emits the compact array form.
func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if params == nil {
		params = Params{}
	}

	return json.Marshal([]any{
		p.RequestID,
		p.Method,
		params,
		p.Timestamp,
	})
}

// Params are method parameters kept as raw JSON until a handler translates
// them into its request type.
type Params map[string]json.RawMessage

// NewParams converts any JSON object value (usually a request or response
// struct) into Params.
func NewParams(v any) (Params, error) {
	if v == nil {
		return Params{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshalling params: %w", err)
	}
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("error unmarshalling params: %w", err)
	}
	if params == nil {
		params = Params{}
	}
	return params, nil
}

// Translate decodes the parameters into v, which must be a pointer.
func (p Params) Translate(v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshalling params: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshalling params: %w", err)
	}
	return nil
}

// Error returns the error carried under the "error" key, if any.
func (p Params) Error() error {
	if errMsgRaw, ok := p[errorParamKey]; ok {
		var errMsg string
		if err := json.Unmarshal(errMsgRaw, &errMsg); err == nil {
			return errors.New(errMsg)
		}
	}
	return nil
}
