package handlers

import (
	"net/http"

	"block-auction/internal/domain"
	"block-auction/internal/infrastructure/websocket"
	"block-auction/pkg/logger"

	"github.com/gorilla/mux"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(snapshots domain.SnapshotCache, leaders domain.LeaderCache,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(snapshots, leaders, connManager, log),
	}
}

// RegisterRoutes mounts the feed on router.
func (h *WebSocketHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/auction/{auctionID}", h.HandleConnection)
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
