package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"
)

// ErrAlreadyConnected is returned when a user opens a second feed for the same auction.
var ErrAlreadyConnected = errors.New("already connected")

// ConnectionManager tracks feed connections by auction and by user.
type ConnectionManager struct {
	connections map[string]map[string]domain.WebSocketConnection // auctionID -> userID -> connection
	userConns   map[string][]domain.WebSocketConnection          // userID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]domain.WebSocketConnection),
		userConns:   make(map[string][]domain.WebSocketConnection),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[auctionID] == nil {
		cm.connections[auctionID] = make(map[string]domain.WebSocketConnection)
	}
	if _, ok := cm.connections[auctionID][userID]; ok {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyConnected, userID, auctionID)
	}
	cm.connections[auctionID][userID] = conn
	cm.userConns[userID] = append(cm.userConns[userID], conn)

	cm.log.Info("Connection registered", "user_id", userID, "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(userID, auctionID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if auctionConns, exists := cm.connections[auctionID]; exists {
		delete(auctionConns, userID)
		if len(auctionConns) == 0 {
			delete(cm.connections, auctionID)
		}
	}
	cm.removeUserConn(userID, auctionID)

	cm.log.Info("Connection unregistered", "user_id", userID, "auction_id", auctionID)
	return nil
}

// removeUserConn drops the auction's connection from the user index. Callers hold the lock.
func (cm *ConnectionManager) removeUserConn(userID, auctionID string) {
	userConnections, exists := cm.userConns[userID]
	if !exists {
		return
	}

	var remaining []domain.WebSocketConnection
	for _, existingConn := range userConnections {
		if existingConn.AuctionID() != auctionID {
			remaining = append(remaining, existingConn)
		}
	}

	if len(remaining) == 0 {
		delete(cm.userConns, userID)
	} else {
		cm.userConns[userID] = remaining
	}
}

func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if auctionConns, exists := cm.connections[auctionID]; exists {
		for userID, conn := range auctionConns {
			if err := conn.Close(); err != nil {
				cm.log.Error("Failed to close connection", "user_id", userID,
					"auction_id", auctionID, "error", err)
			}
			cm.removeUserConn(userID, auctionID)
		}
		delete(cm.connections, auctionID)
	}

	cm.log.Info("Connections closed for auction", "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WebSocketConnection
	for _, conn := range cm.connections[auctionID] {
		connections = append(connections, conn)
	}
	return connections
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return append([]domain.WebSocketConnection(nil), cm.userConns[userID]...)
}

func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	connections := cm.GetConnectionsForAuction(auctionID)
	if len(connections) == 0 {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(json.RawMessage(messageBytes)); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(),
				"auction_id", auctionID, "error", err)
		}
	}
	cm.log.Debug("Broadcast to auction", "auction_id", auctionID, "connections", len(connections))
	return nil
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	connections := cm.GetConnectionsForUser(userID)
	if len(connections) == 0 {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(json.RawMessage(messageBytes)); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
		}
	}
	return nil
}
