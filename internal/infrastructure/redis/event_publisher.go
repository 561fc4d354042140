package redis

import (
	"context"
	"encoding/json"

	"block-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

// EventsChannel is the pub/sub channel carrying bid events.
const EventsChannel = "auction_events"

type EventPublisherImpl struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisherImpl {
	return &EventPublisherImpl{client: client}
}

func (r *EventPublisherImpl) PublishBidEvent(ctx context.Context, event *domain.BidEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, EventsChannel, payload).Err()
}
