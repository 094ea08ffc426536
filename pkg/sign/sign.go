package sign

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Signer signs invoicenode messages on behalf of an account.
type Signer interface {
	Address() common.Address
	// Sign hashes data with Keccak256 and signs the digest.
	Sign(data []byte) (Signature, error)
}

// Signature is a 65 byte [R || S || V] signature with V in {27, 28}.
// It is encoded in JSON as a 0x-prefixed hex string.
type Signature []byte

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	decoded, err := hexutil.Decode(hexStr)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	*s = decoded
	return nil
}

func (s Signature) String() string {
	return hexutil.Encode(s)
}

// Strings encodes a list of signatures as hex strings.
func Strings(sigs []Signature) []string {
	out := make([]string, len(sigs))
	for i, sig := range sigs {
		out[i] = sig.String()
	}
	return out
}
