package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/sign"
)

const (
	defaultNodeErrorMessage = "an error occurred while processing the request"
	tracerName              = "github.com/chainbill/invoicenode/pkg/rpc"
)

// Node routes client requests to handlers and pushes notifications.
type Node interface {
	Handle(method string, handler Handler)
	// Notify sends a notification to every connection subscribed as userID.
	// It is dropped when there is none.
	Notify(userID string, method string, params Params)
	Use(middleware Handler)
	NewGroup(name string) HandlerGroup
}

// HandlerGroup is a set of methods sharing middleware. Groups nest; a
// nested group runs its parents' middleware first.
type HandlerGroup interface {
	Handle(method string, handler Handler)
	Use(middleware Handler)
	NewGroup(name string) HandlerGroup
}

var (
	_ Node         = &WebsocketNode{}
	_ http.Handler = &WebsocketNode{}

	_ HandlerGroup = &WebsocketHandlerGroup{}
)

// WebsocketNode serves the RPC protocol over websocket connections. Every
// response and notification it sends is signed with the node key, and
// every request runs in its own trace span.
type WebsocketNode struct {
	upgrader websocket.Upgrader
	cfg      WebsocketNodeConfig
	connHub  *ConnectionHub

	middleware []Handler
	routes     map[string]route
}

// route is a registered method. group is nil for methods registered on the
// node itself.
type route struct {
	group   *WebsocketHandlerGroup
	handler Handler
}

// WebsocketNodeConfig configures a WebsocketNode. Signer and Logger are
// required.
type WebsocketNodeConfig struct {
	Signer sign.Signer
	Logger log.Logger
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer

	OnConnectHandler     func(send SendResponseFunc)
	OnDisconnectHandler  func(userID string)
	OnMessageSentHandler func([]byte)
	// OnAuthenticatedHandler runs when a handler re-binds the connection
	// to a new user id.
	OnAuthenticatedHandler func(userID string, send SendResponseFunc)

	WsUpgraderReadBufferSize  int
	WsUpgraderWriteBufferSize int
	WsUpgraderCheckOrigin     func(r *http.Request) bool

	WsConnWriteTimeout      time.Duration
	WsConnWriteBufferSize   int
	WsConnProcessBufferSize int
}

// NewWebsocketNode creates a node with the built-in "ping" handler.
func NewWebsocketNode(config WebsocketNodeConfig) (*WebsocketNode, error) {
	if config.Signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	config.Logger = config.Logger.WithName("rpc-node")

	if config.Tracer == nil {
		config.Tracer = otel.Tracer(tracerName)
	}
	if config.OnConnectHandler == nil {
		config.OnConnectHandler = func(send SendResponseFunc) {}
	}
	if config.OnDisconnectHandler == nil {
		config.OnDisconnectHandler = func(userID string) {}
	}
	if config.OnMessageSentHandler == nil {
		config.OnMessageSentHandler = func([]byte) {}
	}
	if config.OnAuthenticatedHandler == nil {
		config.OnAuthenticatedHandler = func(userID string, send SendResponseFunc) {}
	}
	if config.WsUpgraderReadBufferSize <= 0 {
		config.WsUpgraderReadBufferSize = 1024
	}
	if config.WsUpgraderWriteBufferSize <= 0 {
		config.WsUpgraderWriteBufferSize = 1024
	}
	if config.WsUpgraderCheckOrigin == nil {
		// the node is public and accepts any origin
		config.WsUpgraderCheckOrigin = func(r *http.Request) bool {
			return true
		}
	}

	node := &WebsocketNode{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.WsUpgraderReadBufferSize,
			WriteBufferSize: config.WsUpgraderWriteBufferSize,
			CheckOrigin:     config.WsUpgraderCheckOrigin,
		},
		cfg:     config,
		connHub: NewConnectionHub(),
		routes:  make(map[string]route),
	}

	node.Handle(PingMethod.String(), node.handlePing)

	return node, nil
}

// ConnectionCount returns the number of open connections.
func (wn *WebsocketNode) ConnectionCount() int {
	return wn.connHub.Count()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (wn *WebsocketNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConnection, err := wn.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wn.cfg.Logger.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer wsConnection.Close()

	connectionID := uuid.NewString()

	connection, err := NewWebsocketConnection(WebsocketConnectionConfig{
		ConnectionID:         connectionID,
		WebsocketConn:        wsConnection,
		WriteTimeout:         wn.cfg.WsConnWriteTimeout,
		WriteBufferSize:      wn.cfg.WsConnWriteBufferSize,
		ProcessBufferSize:    wn.cfg.WsConnProcessBufferSize,
		Logger:               wn.cfg.Logger,
		OnMessageSentHandler: wn.cfg.OnMessageSentHandler,
	})
	if err != nil {
		wn.cfg.Logger.Error("failed to create WebSocket connection", "error", err, "connectionID", connectionID)
		return
	}
	if err := wn.connHub.Add(connection); err != nil {
		wn.cfg.Logger.Error("failed to add connection to hub", "error", err, "connectionID", connectionID)
		return
	}

	wn.cfg.OnConnectHandler(wn.getSendResponseFunc(connection))
	wn.cfg.Logger.Info("new WebSocket connection established", "connectionID", connectionID)

	defer func() {
		userID := connection.UserID()
		wn.connHub.Remove(connectionID)

		wn.cfg.OnDisconnectHandler(userID)
		wn.cfg.Logger.Info("connection closed", "connectionID", connectionID, "userID", userID)
	}()

	parentCtx, cancel := context.WithCancel(r.Context())
	wg := &sync.WaitGroup{}
	wg.Add(2)
	childHandleClosure := func(_ error) {
		cancel()
		wg.Done()
	}

	go connection.Serve(parentCtx, childHandleClosure)
	go wn.processRequests(connection, parentCtx, childHandleClosure)

	wg.Wait()
}

// processRequests handles the requests of one connection in arrival order.
func (wn *WebsocketNode) processRequests(conn Connection, parentCtx context.Context, handleClosure func(error)) {
	defer handleClosure(nil)
	safeStorage := NewSafeStorage()

	for {
		var messageBytes []byte
		select {
		case <-parentCtx.Done():
			wn.cfg.Logger.Debug("context done, stopping message processing")
			return
		case messageBytes = <-conn.RawRequests():
			if len(messageBytes) == 0 {
				return // closed
			}
		}

		req := Request{}
		if err := json.Unmarshal(messageBytes, &req); err != nil {
			wn.cfg.Logger.Debug("invalid message format", "error", err, "message", string(messageBytes))
			wn.sendErrorResponse(conn, req.Req.RequestID, "invalid message format")
			continue
		}

		routeHandlers, ok := wn.resolveRoute(req.Req.Method)
		if !ok {
			wn.sendErrorResponse(conn, req.Req.RequestID, fmt.Sprintf("unknown method: %s", req.Req.Method))
			continue
		}

		wn.handleRequest(parentCtx, conn, safeStorage, req, routeHandlers)
	}
}

// resolveRoute builds the chain for method: node middleware, then the
// middleware of each enclosing group from the outermost in, then the
// handler. Groups are read at request time, so middleware added after
// Handle still applies.
func (wn *WebsocketNode) resolveRoute(method string) ([]Handler, bool) {
	rt, ok := wn.routes[method]
	if !ok {
		wn.cfg.Logger.Debug("no route found for method", "method", method)
		return nil, false
	}

	var groups []*WebsocketHandlerGroup
	for g := rt.group; g != nil; g = g.parent {
		groups = append(groups, g)
	}

	chain := append([]Handler(nil), wn.middleware...)
	for i := len(groups) - 1; i >= 0; i-- {
		chain = append(chain, groups[i].middleware...)
	}
	return append(chain, rt.handler), true
}

func (wn *WebsocketNode) handleRequest(parentCtx context.Context, conn Connection, storage *SafeStorage, req Request, routeHandlers []Handler) {
	spanCtx, span := wn.cfg.Tracer.Start(parentCtx, "rpc."+req.Req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", req.Req.Method),
			attribute.Int64("rpc.request_id", int64(req.Req.RequestID)),
		))
	defer span.End()

	// the stored logger mirrors entries into the span
	reqCtx := log.SetContextLogger(spanCtx, wn.cfg.Logger.
		WithKV("requestID", req.Req.RequestID).
		WithKV("method", req.Req.Method))
	reqLogger := log.FromContext(reqCtx)
	reqLogger.Debug("processing message", "userID", conn.UserID())

	ctx := &Context{
		Context: reqCtx,
		UserID:  conn.UserID(),
		Signer:  wn.cfg.Signer,
		Request: req,
		chain:   routeHandlers,
		Storage: storage,
	}
	ctx.Next()

	if ctx.Failed() {
		span.SetStatus(codes.Error, fmt.Sprint(ctx.Response.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	responseBytes, err := ctx.GetRawResponse()
	if err != nil {
		wn.sendErrorResponse(conn, req.Req.RequestID, defaultNodeErrorMessage)
		reqLogger.Error("failed to prepare response", "error", err)
		return
	}
	conn.WriteRawResponse(responseBytes)

	if conn.UserID() != ctx.UserID {
		if err := wn.connHub.Reauthenticate(conn.ConnectionID(), ctx.UserID); err != nil {
			reqLogger.Error("failed to re-bind connection", "error", err)
			return
		}
		wn.cfg.OnAuthenticatedHandler(ctx.UserID, wn.getSendResponseFunc(conn))
	}
}

// NewGroup creates a top level handler group.
func (wn *WebsocketNode) NewGroup(name string) HandlerGroup {
	return &WebsocketHandlerGroup{name: name, node: wn}
}

// Handle registers handler for method. It panics on an empty method or a
// nil handler.
func (wn *WebsocketNode) Handle(method string, handler Handler) {
	wn.register(method, route{handler: handler})
}

func (wn *WebsocketNode) register(method string, rt route) {
	if method == "" {
		panic("Websocket method cannot be empty")
	}
	if rt.handler == nil {
		panic(fmt.Sprintf("Websocket handler cannot be nil for method %s", method))
	}
	wn.routes[method] = rt
}

// Use adds middleware that runs for every request.
func (wn *WebsocketNode) Use(middleware Handler) {
	wn.middleware = appendMiddleware(wn.middleware, middleware)
}

func appendMiddleware(chain []Handler, middleware Handler) []Handler {
	if middleware == nil {
		panic("Websocket middleware handler cannot be nil")
	}
	return append(chain, middleware)
}

func (wn *WebsocketNode) Notify(userID, method string, params Params) {
	message, err := prepareRawNotification(wn.cfg.Signer, method, params)
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare notification message", "error", err, "userID", userID, "method", method)
		return
	}

	wn.connHub.Publish(userID, message)
}

func (wn *WebsocketNode) getSendResponseFunc(conn Connection) SendResponseFunc {
	return func(method string, params Params) {
		responseBytes, err := prepareRawNotification(wn.cfg.Signer, method, params)
		if err != nil {
			wn.cfg.Logger.Error("failed to prepare notification message", "error", err, "method", method)
			return
		}

		conn.WriteRawResponse(responseBytes)
	}
}

func (wn *WebsocketNode) sendErrorResponse(conn Connection, requestID uint64, message string) {
	res := NewErrorResponse(requestID, message)
	responseBytes, err := encodeSignedResponse(wn.cfg.Signer, res.Res)
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare error response", "error", err)
		return
	}

	conn.WriteRawResponse(responseBytes)
}

func (wn *WebsocketNode) handlePing(ctx *Context) {
	ctx.Next()
	ctx.Succeed(PongMethod.String(), nil)
}

func prepareRawNotification(signer sign.Signer, method string, params Params) ([]byte, error) {
	return encodeSignedResponse(signer, NewPayload(0, method, params))
}

// WebsocketHandlerGroup is a HandlerGroup of a WebsocketNode.
type WebsocketHandlerGroup struct {
	name       string
	parent     *WebsocketHandlerGroup
	node       *WebsocketNode
	middleware []Handler
}

func (hg *WebsocketHandlerGroup) NewGroup(name string) HandlerGroup {
	return &WebsocketHandlerGroup{name: name, parent: hg, node: hg.node}
}

// Handle registers handler for method behind the group's middleware.
// Method names are global to the node.
func (hg *WebsocketHandlerGroup) Handle(method string, handler Handler) {
	hg.node.register(method, route{group: hg, handler: handler})
}

func (hg *WebsocketHandlerGroup) Use(middleware Handler) {
	hg.middleware = appendMiddleware(hg.middleware, middleware)
}
