package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type RedisEventSubscriber struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client: client,
		log:    log,
	}
}

func (r *RedisEventSubscriber) SubscribeToBidEvents(ctx context.Context, handler domain.EventHandler) error {
	pubsub := r.client.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	r.log.Info("Subscribed to auction events")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			event, err := parseEventData(msg.Payload)
			if err != nil {
				r.log.Error("Failed to parse event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(event); err != nil {
				r.log.Error("Failed to handle event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped")
			return ctx.Err()
		}
	}
}

func parseEventData(payload string) (*domain.BidEvent, error) {
	var event domain.BidEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}
	if event.AuctionID == "" || event.Type == "" {
		return nil, fmt.Errorf("invalid event payload: missing auction id or type")
	}
	return &event, nil
}
