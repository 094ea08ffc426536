// Package rpc implements the invoice node's websocket RPC protocol: the
// signed message format, a server side Node with handler groups and
// middleware, and a typed Client.
//
// # Messages
//
// Requests and responses wrap a Payload, encoded as a compact JSON array:
//
//	{"req": [42, "create_invoice", {"recipient": "0x..", ...}, 1760000000000], "sig": ["0x.."]}
//	{"res": [42, "create_invoice", {"invoice_id": 7}, 1760000000015], "sig": ["0x.."]}
//
// Signatures are secp256k1 signatures over the Keccak256 hash of the
// JSON encoded payload (see Payload.SigningBytes). The node signs every
// response and notification. Clients sign every state changing request;
// the first signature identifies the account the request acts for.
//
// Errors are returned as responses with method "error":
//
//	{"res": [42, "error", {"error": "invoice not payable"}, 1760000000015], "sig": ["0x.."]}
//
// Notifications are responses with request id 0. The node pushes a
// LedgerUpdateEvent ("lu") to every connection subscribed as a party of a
// committed ledger event.
//
// # Server
//
//	node, err := rpc.NewWebsocketNode(rpc.WebsocketNodeConfig{Signer: signer, Logger: logger})
//	node.Use(loggerMiddleware)
//	signed := node.NewGroup("signed")
//	signed.Use(signatureMiddleware)
//	signed.Handle("create_invoice", handleCreateInvoice)
//	http.Handle("/ws", node)
//
// # Client
//
//	client := rpc.NewClient(rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig), signer)
//	err := client.Start(ctx, "ws://localhost:8000/ws", func(err error) { ... })
//	inv, _, err := client.GetInvoice(ctx, rpc.GetInvoiceRequest{InvoiceID: 7})
package rpc
