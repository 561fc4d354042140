package redis

import (
	"context"
	"fmt"
	"strconv"

	"block-auction/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// RedisLeaderCache mirrors the current leader of each auction for feed clients
// that should not have to reach the auction service.
type RedisLeaderCache struct {
	client *redis.Client
}

func NewRedisLeaderCache(client *redis.Client) *RedisLeaderCache {
	return &RedisLeaderCache{client: client}
}

func leaderKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:leader", auctionID)
}

func (r *RedisLeaderCache) SetLeader(ctx context.Context, auctionID string, bid *domain.Bid) error {
	if bid == nil {
		return r.client.Del(ctx, leaderKey(auctionID)).Err()
	}

	return r.client.HSet(ctx, leaderKey(auctionID),
		"bidder", bid.Bidder,
		"amount", bid.Amount.String(),
		"step", strconv.FormatUint(bid.Step, 10),
	).Err()
}

// GetLeader returns nil when the auction has no cached leader.
func (r *RedisLeaderCache) GetLeader(ctx context.Context, auctionID string) (*domain.Bid, error) {
	result, err := r.client.HMGet(ctx, leaderKey(auctionID), "bidder", "amount", "step").Result()
	if err != nil {
		return nil, err
	}
	if result[0] == nil || result[1] == nil || result[2] == nil {
		return nil, nil
	}

	amount, err := decimal.NewFromString(result[1].(string))
	if err != nil {
		return nil, fmt.Errorf("parse cached amount: %w", err)
	}
	step, err := strconv.ParseUint(result[2].(string), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse cached step: %w", err)
	}

	return &domain.Bid{
		Bidder: result[0].(string),
		Amount: amount,
		Step:   step,
	}, nil
}
