// Package sign signs and verifies invoicenode RPC payloads.
//
// Requests carry one or more signatures over the raw JSON of their "req"
// array; the node recovers the caller from the first one. Responses and
// notifications are signed by the node key in the same way.
//
//	signer, err := sign.NewEthereumSigner(os.Getenv("INVOICENODE_ADMIN_PRIVATE_KEY"))
//	sig, err := signer.Sign(payload)
//	addr, err := sign.RecoverAddress(payload, sig)
package sign
