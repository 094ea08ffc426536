package rpc

import (
	"fmt"
	"sync"
)

// ConnectionHub tracks live connections by id and by subscribed user id.
type ConnectionHub struct {
	mu    sync.RWMutex
	byID  map[string]Connection
	byUID map[string]map[string]Connection
}

func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{
		byID:  make(map[string]Connection),
		byUID: make(map[string]map[string]Connection),
	}
}

// Add registers conn under its id and, if set, its user id.
func (hub *ConnectionHub) Add(conn Connection) error {
	if conn == nil {
		return fmt.Errorf("connection cannot be nil")
	}
	id := conn.ConnectionID()

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, dup := hub.byID[id]; dup {
		return fmt.Errorf("connection with ID %s already exists", id)
	}
	hub.byID[id] = conn
	hub.subscribe(conn.UserID(), conn)
	return nil
}

// Reauthenticate moves an existing connection to userID. An empty userID
// leaves it unsubscribed.
func (hub *ConnectionHub) Reauthenticate(connID, userID string) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, ok := hub.byID[connID]
	if !ok {
		return fmt.Errorf("connection with ID %s does not exist", connID)
	}

	hub.unsubscribe(conn.UserID(), connID)
	conn.SetUserID(userID)
	hub.subscribe(userID, conn)
	return nil
}

// Get returns the connection with connID or nil.
func (hub *ConnectionHub) Get(connID string) Connection {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	return hub.byID[connID]
}

// Remove forgets connID. Unknown ids are ignored.
func (hub *ConnectionHub) Remove(connID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if conn, ok := hub.byID[connID]; ok {
		delete(hub.byID, connID)
		hub.unsubscribe(conn.UserID(), connID)
	}
}

// Publish sends message to every connection of userID. The writes happen
// outside the lock, so a stalled client does not hold up the hub.
func (hub *ConnectionHub) Publish(userID string, message []byte) {
	hub.mu.RLock()
	targets := make([]Connection, 0, len(hub.byUID[userID]))
	for _, conn := range hub.byUID[userID] {
		targets = append(targets, conn)
	}
	hub.mu.RUnlock()

	for _, conn := range targets {
		conn.WriteRawResponse(message)
	}
}

// Count returns the number of live connections.
func (hub *ConnectionHub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	return len(hub.byID)
}

func (hub *ConnectionHub) subscribe(userID string, conn Connection) {
	if userID == "" {
		return
	}
	conns := hub.byUID[userID]
	if conns == nil {
		conns = make(map[string]Connection)
		hub.byUID[userID] = conns
	}
	conns[conn.ConnectionID()] = conn
}

func (hub *ConnectionHub) unsubscribe(userID, connID string) {
	conns := hub.byUID[userID]
	if conns == nil {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(hub.byUID, userID)
	}
}
