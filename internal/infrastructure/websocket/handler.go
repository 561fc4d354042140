package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves the read-only auction feed. Bids are placed
// through the auction service API; the feed only pushes updates.
type WebSocketHandler struct {
	snapshots   domain.SnapshotCache
	leaders     domain.LeaderCache
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(snapshots domain.SnapshotCache, leaders domain.LeaderCache,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		snapshots:   snapshots,
		leaders:     leaders,
		connManager: connManager,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	// open auctions always have a snapshot; finalized ones are dropped
	state, err := h.snapshots.GetSnapshot(r.Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to read auction snapshot", "error", err, "auction_id", auctionID)
		http.Error(w, "auction lookup failed", http.StatusServiceUnavailable)
		return
	}
	if state == nil || state.Finalized {
		http.Error(w, "auction not open", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Warn("Failed to register connection", "user_id", userID, "auction_id", auctionID, "error", err)
		wsConn.Send(map[string]string{"type": "error", "message": err.Error()})
		conn.Close()
		return
	}

	h.sendInitialState(r.Context(), wsConn, state)
	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) sendInitialState(ctx context.Context, conn *WebSocketConnection, state *domain.LedgerState) {
	leader := state.Leader
	if cached, err := h.leaders.GetLeader(ctx, conn.AuctionID()); err == nil && cached != nil {
		leader = cached
	}

	message := map[string]interface{}{
		"type":       "auction_state",
		"auction_id": conn.AuctionID(),
		"config":     state.Config,
	}
	if leader != nil {
		message["current_bid"] = leader.Amount
		message["current_leader"] = leader.Bidder
	}
	if err := conn.Send(message); err != nil {
		h.log.Error("Failed to send initial state", "user_id", conn.UserID(), "error", err)
	}
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection) {
	defer func() {
		h.connManager.UnregisterConnection(conn.UserID(), conn.AuctionID())
		conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error("Failed to read message", "user_id", conn.UserID(), "error", err)
			}
			return
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		default:
			conn.Send(map[string]string{"type": "error", "message": "feed is read-only"})
		}
	}
}

// WebSocketConnection serializes writes to one gorilla connection.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	writeMu   sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()

	wsc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Close() error {
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
