package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainbill/invoicenode/pkg/log"
)

// Dialer is the client side transport.
type Dialer interface {
	// Dial connects to url. handleClosure is called once when the
	// connection ends.
	Dial(ctx context.Context, url string, handleClosure func(err error)) error
	IsConnected() bool
	// Call sends req and waits for the response with the same request id.
	Call(ctx context.Context, req *Request) (*Response, error)
	// EventCh yields messages that match no pending call, i.e. notifications.
	EventCh() <-chan *Response
}

type WebsocketDialerConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// PingRequestID is the request id of keep-alive pings.
	PingRequestID uint64
	EventChanSize int
}

var DefaultWebsocketDialerConfig = WebsocketDialerConfig{
	HandshakeTimeout: 5 * time.Second,
	PingInterval:     5 * time.Second,
	PingRequestID:    100,
	EventChanSize:    100,
}

// WebsocketDialer implements Dialer over gorilla/websocket. Each Dial starts
// a session that lives until its context is cancelled or the connection
// fails.
type WebsocketDialer struct {
	cfg WebsocketDialerConfig

	mu      sync.RWMutex
	session *wsSession
	events  chan *Response
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(cfg WebsocketDialerConfig) *WebsocketDialer {
	return &WebsocketDialer{
		cfg:    cfg,
		events: make(chan *Response, cfg.EventChanSize),
	}
}

// wsSession is one live connection and the calls waiting on it.
type wsSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	lg     log.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *Response

	errOnce sync.Once
	err     error
}

// fail ends the session. Only the first error is kept.
func (s *wsSession) fail(err error) {
	s.errOnce.Do(func() { s.err = err })
	s.cancel()
}

func (s *wsSession) addPending(id uint64) chan *Response {
	sink := make(chan *Response, 1)
	s.pendingMu.Lock()
	s.pending[id] = sink
	s.pendingMu.Unlock()
	return sink
}

func (s *wsSession) removePending(id uint64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *wsSession) takePending(id uint64) (chan *Response, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	sink, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return sink, ok
}

func (s *wsSession) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *WebsocketDialer) Dial(parentCtx context.Context, url string, handleClosure func(err error)) error {
	if d.IsConnected() {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  d.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(parentCtx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialingWebsocket, err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s := &wsSession{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		lg:      log.FromContext(parentCtx).WithName("ws-dialer"),
		pending: make(map[uint64]chan *Response),
	}
	events := make(chan *Response, d.cfg.EventChanSize)

	d.mu.Lock()
	d.session = s
	d.events = events
	d.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.readLoop(s, events)
	}()
	go func() {
		defer wg.Done()
		d.pingLoop(s)
	}()

	go func() {
		<-ctx.Done()
		closeErr := conn.Close()
		wg.Wait()

		if closeErr != nil {
			s.errOnce.Do(func() { s.err = closeErr })
		}
		handleClosure(s.err)
	}()

	return nil
}

func (d *WebsocketDialer) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.session != nil && d.session.ctx.Err() == nil
}

func (d *WebsocketDialer) currentSession() (*wsSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.session == nil || d.session.ctx.Err() != nil {
		return nil, ErrNotConnected
	}
	return d.session, nil
}

// readLoop routes responses to their pending call and everything else to
// events. It returns when the session ends.
func (d *WebsocketDialer) readLoop(s *wsSession, events chan<- *Response) {
	for {
		_, messageBytes, err := s.conn.ReadMessage()
		if s.ctx.Err() != nil {
			return
		}
		if _, ok := err.(net.Error); ok {
			s.lg.Error("websocket connection timeout", "error", err)
			s.fail(fmt.Errorf("%w: %w", ErrConnectionTimeout, err))
			return
		} else if err != nil {
			s.lg.Error("websocket read error", "error", err)
			s.fail(fmt.Errorf("%w: %w", ErrReadingMessage, err))
			return
		}

		var msg Response
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.lg.Warn("malformed message", "message", string(messageBytes), "error", err)
			continue
		}

		if sink, ok := s.takePending(msg.Res.RequestID); ok {
			sink <- &msg
			continue
		}

		select {
		case events <- &msg:
		default:
			s.lg.Warn("event channel full, dropping notification", "method", msg.Res.Method)
		}
	}
}

func (d *WebsocketDialer) Call(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	s, err := d.currentSession()
	if err != nil {
		return nil, err
	}
	return s.call(ctx, req)
}

func (s *wsSession) call(ctx context.Context, req *Request) (*Response, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshalingRequest, err)
	}

	id := req.Req.RequestID
	sink := s.addPending(id)
	defer s.removePending(id)

	if err := s.write(reqJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}

	select {
	case res := <-sink:
		return res, nil
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	return nil, fmt.Errorf("%w for request %d", ErrNoResponse, id)
}

// pingLoop keeps the session alive. A failed ping ends the session.
func (d *WebsocketDialer) pingLoop(s *wsSession) {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		req := NewRequest(NewPayload(d.cfg.PingRequestID, PingMethod.String(), nil))
		res, err := s.call(s.ctx, &req)
		if err != nil {
			if s.ctx.Err() == nil {
				s.lg.Error("error sending ping", "error", err)
				s.fail(fmt.Errorf("%w: %w", ErrSendingPing, err))
			}
			return
		}
		if res.Res.Method != PongMethod.String() {
			s.lg.Warn("unexpected response to ping", "method", res.Res.Method)
		}
	}
}

func (d *WebsocketDialer) EventCh() <-chan *Response {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.events
}
