package redis

import (
	"context"
	"errors"
	"fmt"

	"block-auction/internal/domain"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// RedisSnapshotCache keeps the latest CBOR-encoded ledger snapshot of every
// open auction so a new leader can warm its engines without the database.
type RedisSnapshotCache struct {
	client *redis.Client
}

func NewRedisSnapshotCache(client *redis.Client) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client}
}

type bidRecord struct {
	Bidder string `cbor:"1,keyasint"`
	Amount string `cbor:"2,keyasint"`
	Step   uint64 `cbor:"3,keyasint"`
}

type snapshotRecord struct {
	Seller        string            `cbor:"1,keyasint"`
	ItemRef       string            `cbor:"2,keyasint"`
	MinBid        string            `cbor:"3,keyasint"`
	StartStep     uint64            `cbor:"4,keyasint"`
	OpeningLength uint64            `cbor:"5,keyasint"`
	EndingLength  uint64            `cbor:"6,keyasint"`
	Balances      map[string]string `cbor:"7,keyasint"`
	Leader        *bidRecord        `cbor:"8,keyasint,omitempty"`
	Checkpoints   []*bidRecord      `cbor:"9,keyasint"`
	Finalized     bool              `cbor:"10,keyasint"`
}

func snapshotKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:snapshot", auctionID)
}

func (r *RedisSnapshotCache) PutSnapshot(ctx context.Context, auctionID string, state *domain.LedgerState) error {
	data, err := EncodeSnapshot(state)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, snapshotKey(auctionID), data, 0).Err()
}

// GetSnapshot returns nil when nothing is cached for the auction.
func (r *RedisSnapshotCache) GetSnapshot(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	data, err := r.client.Get(ctx, snapshotKey(auctionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeSnapshot(data)
}

func (r *RedisSnapshotCache) DeleteSnapshot(ctx context.Context, auctionID string) error {
	return r.client.Del(ctx, snapshotKey(auctionID)).Err()
}

// EncodeSnapshot encodes a ledger state as CBOR. Amounts are carried as
// decimal strings so no precision is lost.
func EncodeSnapshot(state *domain.LedgerState) ([]byte, error) {
	rec := snapshotRecord{
		Seller:        state.Config.Seller,
		ItemRef:       state.Config.ItemRef,
		MinBid:        state.Config.MinBid.String(),
		StartStep:     state.Config.StartStep,
		OpeningLength: state.Config.OpeningLength,
		EndingLength:  state.Config.EndingLength,
		Balances:      make(map[string]string, len(state.Balances)),
		Leader:        toBidRecord(state.Leader),
		Checkpoints:   make([]*bidRecord, len(state.Checkpoints)),
		Finalized:     state.Finalized,
	}
	for bidder, amount := range state.Balances {
		rec.Balances[bidder] = amount.String()
	}
	for i, slot := range state.Checkpoints {
		rec.Checkpoints[i] = toBidRecord(slot)
	}

	data, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (*domain.LedgerState, error) {
	var rec snapshotRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	minBid, err := decimal.NewFromString(rec.MinBid)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot min bid: %w", err)
	}

	state := &domain.LedgerState{
		Config: domain.AuctionConfig{
			Seller:        rec.Seller,
			ItemRef:       rec.ItemRef,
			MinBid:        minBid,
			StartStep:     rec.StartStep,
			OpeningLength: rec.OpeningLength,
			EndingLength:  rec.EndingLength,
		},
		Balances:    make(map[string]decimal.Decimal, len(rec.Balances)),
		Checkpoints: make([]*domain.Bid, len(rec.Checkpoints)),
		Finalized:   rec.Finalized,
	}
	for bidder, raw := range rec.Balances {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode balance of %s: %w", bidder, err)
		}
		state.Balances[bidder] = amount
	}
	if state.Leader, err = fromBidRecord(rec.Leader); err != nil {
		return nil, err
	}
	for i, slot := range rec.Checkpoints {
		if state.Checkpoints[i], err = fromBidRecord(slot); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func toBidRecord(b *domain.Bid) *bidRecord {
	if b == nil {
		return nil
	}
	return &bidRecord{Bidder: b.Bidder, Amount: b.Amount.String(), Step: b.Step}
}

func fromBidRecord(r *bidRecord) (*domain.Bid, error) {
	if r == nil {
		return nil, nil
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode bid amount: %w", err)
	}
	return &domain.Bid{Bidder: r.Bidder, Amount: amount, Step: r.Step}, nil
}
