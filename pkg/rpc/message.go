package rpc

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbill/invoicenode/pkg/sign"
)

// Request is a client message:
//
//	{"req": [requestId, method, params, timestamp], "sig": ["0x..."]}
//
// Read-only methods may be sent unsigned. State changing methods must carry
// the signature of the account they act for as the first entry of Sig.
type Request struct {
	Req Payload          `json:"req"`
	Sig []sign.Signature `json:"sig"`
}

func NewRequest(payload Payload, sig ...sign.Signature) Request {
	return Request{
		Req: payload,
		Sig: sig,
	}
}

// GetSigners recovers one address per signature, in order.
func (r Request) GetSigners() ([]common.Address, error) {
	return recoverPayloadSigners(r.Req, r.Sig)
}

// Response is a node message. Responses echo the request id; notifications
// use request id 0. Every node message is signed by the node.
type Response struct {
	Res Payload          `json:"res"`
	Sig []sign.Signature `json:"sig"`
}

func NewResponse(payload Payload, sig ...sign.Signature) Response {
	return Response{
		Res: payload,
		Sig: sig,
	}
}

// GetSigners recovers one address per signature, in order. Clients use it
// to check that a response came from the node they expect.
func (r Response) GetSigners() ([]common.Address, error) {
	return recoverPayloadSigners(r.Res, r.Sig)
}

// NewErrorResponse builds an "error" response carrying errMsg.
func NewErrorResponse(requestID uint64, errMsg string, sig ...sign.Signature) Response {
	errPayload := NewPayload(requestID, ErrorMethod.String(), NewErrorParams(errMsg))
	return NewResponse(errPayload, sig...)
}

// Error returns the error of an "error" response and nil otherwise.
func (r Response) Error() error {
	if r.Res.Method != ErrorMethod.String() {
		return nil
	}

	return r.Res.Params.Error()
}

// SignPayload signs the canonical encoding of payload.
func SignPayload(signer sign.Signer, payload Payload) (sign.Signature, error) {
	data, err := payload.SigningBytes()
	if err != nil {
		return nil, err
	}
	return signer.Sign(data)
}

func recoverPayloadSigners(payload Payload, sigs []sign.Signature) ([]common.Address, error) {
	data, err := payload.SigningBytes()
	if err != nil {
		return nil, err
	}

	addrs := make([]common.Address, 0, len(sigs))
	for _, s := range sigs {
		addr, err := sign.RecoverAddress(data, s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	return addrs, nil
}
