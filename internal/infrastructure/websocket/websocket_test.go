package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type stubConn struct {
	mu        sync.Mutex
	userID    string
	auctionID string
	sent      []interface{}
	closed    bool
}

func (c *stubConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) UserID() string    { return c.userID }
func (c *stubConn) AuctionID() string { return c.auctionID }

func TestConnectionManager_RegisterAndBroadcast(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	alice := &stubConn{userID: "alice", auctionID: "a1"}
	bob := &stubConn{userID: "bob", auctionID: "a1"}
	aliceOther := &stubConn{userID: "alice", auctionID: "a2"}

	check.NoError(t, cm.RegisterConnection("alice", "a1", alice))
	check.NoError(t, cm.RegisterConnection("bob", "a1", bob))
	check.NoError(t, cm.RegisterConnection("alice", "a2", aliceOther))

	err := cm.RegisterConnection("alice", "a1", &stubConn{userID: "alice", auctionID: "a1"})
	check.True(t, errors.Is(err, ErrAlreadyConnected))

	check.NoError(t, cm.BroadcastToAuction("a1", map[string]string{"type": "bid_update"}))
	check.Equal(t, 1, len(alice.sent))
	check.Equal(t, 1, len(bob.sent))
	check.Equal(t, 0, len(aliceOther.sent))

	check.NoError(t, cm.NotifyUser("alice", map[string]string{"type": "bid_rejected"}))
	check.Equal(t, 2, len(alice.sent))
	check.Equal(t, 1, len(aliceOther.sent))

	check.NoError(t, cm.CloseAndUnregisterConnections("a1"))
	check.True(t, alice.closed)
	check.True(t, bob.closed)
	check.Equal(t, 0, len(cm.GetConnectionsForAuction("a1")))
	check.Equal(t, 1, len(cm.GetConnectionsForUser("alice")))

	check.NoError(t, cm.UnregisterConnection("alice", "a2"))
	check.Equal(t, 0, len(cm.GetConnectionsForUser("alice")))
}

type stubSnapshots struct {
	states map[string]*domain.LedgerState
}

func (s *stubSnapshots) PutSnapshot(ctx context.Context, id string, state *domain.LedgerState) error {
	s.states[id] = state
	return nil
}

func (s *stubSnapshots) GetSnapshot(ctx context.Context, id string) (*domain.LedgerState, error) {
	return s.states[id], nil
}

func (s *stubSnapshots) DeleteSnapshot(ctx context.Context, id string) error {
	delete(s.states, id)
	return nil
}

type stubLeaders struct{ leader *domain.Bid }

func (s *stubLeaders) SetLeader(ctx context.Context, id string, bid *domain.Bid) error {
	s.leader = bid
	return nil
}

func (s *stubLeaders) GetLeader(ctx context.Context, id string) (*domain.Bid, error) {
	return s.leader, nil
}

func newFeedServer(t *testing.T) (*httptest.Server, *ConnectionManager) {
	t.Helper()
	cm := NewConnectionManager(logger.NewNop())
	snapshots := &stubSnapshots{states: map[string]*domain.LedgerState{
		"a1": {Config: domain.AuctionConfig{Seller: "seller", MinBid: decimal.NewFromInt(10), StartStep: 5}},
	}}
	leaders := &stubLeaders{leader: &domain.Bid{Bidder: "alice", Amount: decimal.NewFromInt(12), Step: 6}}
	handler := NewWebSocketHandler(snapshots, leaders, cm, logger.NewNop())

	router := mux.NewRouter()
	router.HandleFunc("/ws/auction/{auctionID}", handler.HandleConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, cm
}

func dial(t *testing.T, server *httptest.Server, path string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func TestWebSocketHandler_Feed(t *testing.T) {
	server, cm := newFeedServer(t)

	conn, err := dial(t, server, "/ws/auction/a1?user_id=bob")
	check.NoError(t, err)

	var initial map[string]interface{}
	check.NoError(t, conn.ReadJSON(&initial))
	check.Equal(t, "auction_state", initial["type"])
	check.Equal(t, "alice", initial["current_leader"])
	check.Equal(t, "12", initial["current_bid"])

	check.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]interface{}
	check.NoError(t, conn.ReadJSON(&pong))
	check.Equal(t, "pong", pong["type"])

	check.NoError(t, cm.BroadcastToAuction("a1", map[string]interface{}{"type": "bid_update", "current_leader": "carol"}))
	var update map[string]interface{}
	check.NoError(t, conn.ReadJSON(&update))
	check.Equal(t, "bid_update", update["type"])
	check.Equal(t, "carol", update["current_leader"])
}

func TestWebSocketHandler_Rejects(t *testing.T) {
	server, _ := newFeedServer(t)

	_, err := dial(t, server, "/ws/auction/a1")
	check.Error(t, err)

	_, err = dial(t, server, "/ws/auction/unknown?user_id=bob")
	check.Error(t, err)
}
