package rpc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainbill/invoicenode/pkg/log"
)

var (
	defaultWsConnWriteTimeout      = 5 * time.Second
	defaultWsConnProcessBufferSize = 10
	defaultWsConnWriteBufferSize   = 10
)

// Connection is one client connection as seen by the node.
type Connection interface {
	ConnectionID() string
	// UserID is the address the connection is subscribed as, empty if none.
	UserID() string
	SetUserID(userID string)
	// RawRequests yields incoming messages. It is closed when the client
	// goes away.
	RawRequests() <-chan []byte
	// WriteRawResponse queues a message. It returns false when the queue
	// stayed full for the write timeout; the connection is then closed.
	WriteRawResponse(message []byte) bool
	// Serve starts the read and write loops and returns. handleClosure is
	// called once when the connection ends.
	Serve(parentCtx context.Context, handleClosure func(error))
}

// GorillaWsConnectionAdapter is the part of *websocket.Conn a
// WebsocketConnection uses.
type GorillaWsConnectionAdapter interface {
	ReadMessage() (messageType int, p []byte, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

// WebsocketConnection implements Connection over gorilla/websocket.
type WebsocketConnection struct {
	connectionID  string
	websocketConn GorillaWsConnectionAdapter
	writeTimeout  time.Duration
	logger        log.Logger
	onMessageSent func([]byte)

	inbound  chan []byte
	outbound chan []byte

	mu      sync.RWMutex
	userID  string
	serving bool

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error
}

type WebsocketConnectionConfig struct {
	// ConnectionID and WebsocketConn are required.
	ConnectionID  string
	UserID        string
	WebsocketConn GorillaWsConnectionAdapter

	WriteTimeout         time.Duration
	WriteBufferSize      int
	ProcessBufferSize    int
	Logger               log.Logger
	OnMessageSentHandler func([]byte)
}

func NewWebsocketConnection(config WebsocketConnectionConfig) (*WebsocketConnection, error) {
	if config.ConnectionID == "" {
		return nil, fmt.Errorf("connection ID cannot be empty")
	}
	if config.WebsocketConn == nil {
		return nil, fmt.Errorf("websocket connection cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = log.NewNoopLogger()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWsConnWriteTimeout
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = defaultWsConnWriteBufferSize
	}
	if config.ProcessBufferSize <= 0 {
		config.ProcessBufferSize = defaultWsConnProcessBufferSize
	}
	if config.OnMessageSentHandler == nil {
		config.OnMessageSentHandler = func([]byte) {}
	}

	return &WebsocketConnection{
		connectionID:  config.ConnectionID,
		websocketConn: config.WebsocketConn,
		writeTimeout:  config.WriteTimeout,
		logger:        config.Logger.WithKV("connectionID", config.ConnectionID),
		onMessageSent: config.OnMessageSentHandler,
		inbound:       make(chan []byte, config.ProcessBufferSize),
		outbound:      make(chan []byte, config.WriteBufferSize),
		userID:        config.UserID,
		stopped:       make(chan struct{}),
	}, nil
}

// stop ends the connection. The first non-nil error is reported to the
// closure handler.
func (conn *WebsocketConnection) stop(err error) {
	conn.stopOnce.Do(func() {
		conn.stopErr = err
		close(conn.stopped)
	})
}

func (conn *WebsocketConnection) Serve(parentCtx context.Context, handleClosure func(error)) {
	conn.mu.Lock()
	if conn.serving {
		conn.mu.Unlock()
		handleClosure(nil)
		return
	}
	conn.serving = true
	conn.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conn.readLoop()
	}()
	go func() {
		defer wg.Done()
		conn.writeLoop()
	}()

	go func() {
		select {
		case <-parentCtx.Done():
			conn.stop(nil)
		case <-conn.stopped:
		}

		// unblocks a pending ReadMessage
		if err := conn.websocketConn.Close(); err != nil {
			conn.logger.Debug("error closing WebSocket connection", "error", err)
		}
		wg.Wait()
		handleClosure(conn.stopErr)
	}()
}

func (conn *WebsocketConnection) ConnectionID() string {
	return conn.connectionID
}

func (conn *WebsocketConnection) UserID() string {
	conn.mu.RLock()
	defer conn.mu.RUnlock()
	return conn.userID
}

func (conn *WebsocketConnection) SetUserID(userID string) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.userID = userID
}

func (conn *WebsocketConnection) RawRequests() <-chan []byte {
	return conn.inbound
}

func (conn *WebsocketConnection) WriteRawResponse(message []byte) bool {
	select {
	case <-conn.stopped:
		return false
	default:
	}

	timer := time.NewTimer(conn.writeTimeout)
	defer timer.Stop()

	select {
	case conn.outbound <- message:
		return true
	case <-conn.stopped:
		return false
	case <-timer.C:
		conn.logger.Warn("client is not reading, closing connection")
		conn.stop(nil)
		return false
	}
}

func (conn *WebsocketConnection) readLoop() {
	defer close(conn.inbound)

	for {
		_, messageBytes, err := conn.websocketConn.ReadMessage()
		if err != nil {
			select {
			case <-conn.stopped:
				// closed by us
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					conn.logger.Error("WebSocket connection closed with unexpected reason", "error", err)
					conn.stop(err)
				} else {
					conn.stop(nil)
				}
			}
			return
		}

		if len(messageBytes) == 0 {
			conn.logger.Debug("received empty message, skipping")
			continue
		}

		select {
		case conn.inbound <- messageBytes:
		case <-conn.stopped:
			return
		}
	}
}

func (conn *WebsocketConnection) writeLoop() {
	for {
		select {
		case <-conn.stopped:
			return
		case messageBytes := <-conn.outbound:
			if len(messageBytes) == 0 {
				continue
			}
			if err := conn.writeFrame(messageBytes); err != nil {
				conn.logger.Error("error writing response", "error", err)
				continue
			}
			conn.onMessageSent(messageBytes)
		}
	}
}

func (conn *WebsocketConnection) writeFrame(message []byte) error {
	w, err := conn.websocketConn.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("failed to get writer: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
