package services

import (
	"context"
	"fmt"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"
)

// EventListener turns bid events from the bus into feed messages for the
// websocket clients of each auction.
type EventListener struct {
	broadcaster       domain.AuctionBroadcaster
	notifier          domain.UserNotifier
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(connectionManager domain.ConnectionManager, broadcaster domain.AuctionBroadcaster,
	notifier domain.UserNotifier, log logger.Logger) *EventListener {
	return &EventListener{
		broadcaster:       broadcaster,
		notifier:          notifier,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToBidEvents(ctx, el.handleBidEvent)
}

func (el *EventListener) handleBidEvent(event *domain.BidEvent) error {
	el.log.Debug("Handling bid event", "type", event.Type, "auction_id", event.AuctionID)

	switch event.Type {
	case domain.BidAccepted:
		return el.handleBidAccepted(event)
	case domain.BidRejected:
		return el.handleBidRejected(event)
	case domain.AuctionFinalized:
		return el.handleAuctionFinalized(event)
	}

	return fmt.Errorf("unknown event type %q", event.Type)
}

func (el *EventListener) handleBidAccepted(event *domain.BidEvent) error {
	return el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, map[string]interface{}{
		"type":           "bid_update",
		"current_bid":    event.Amount,
		"current_leader": event.UserID,
		"step":           event.Step,
		"phase":          event.Phase,
		"timestamp":      event.Timestamp,
	})
}

func (el *EventListener) handleBidRejected(event *domain.BidEvent) error {
	return el.notifier.NotifyUser(context.Background(), event.UserID, map[string]interface{}{
		"type":       "bid_rejected",
		"auction_id": event.AuctionID,
		"amount":     event.Amount,
		"step":       event.Step,
		"phase":      event.Phase,
		"timestamp":  event.Timestamp,
	})
}

func (el *EventListener) handleAuctionFinalized(event *domain.BidEvent) error {
	message := map[string]interface{}{
		"type":      "auction_finalized",
		"step":      event.Step,
		"timestamp": event.Timestamp,
	}
	if event.UserID != "" {
		message["winner"] = event.UserID
		message["amount"] = event.Amount
	}

	if err := el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, message); err != nil {
		el.log.Error("Failed to broadcast auction finalized event", "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}
