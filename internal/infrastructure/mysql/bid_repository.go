package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"block-auction/internal/domain"

	"github.com/shopspring/decimal"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

func (r *MySQLBidRepository) SaveBidEvent(ctx context.Context, event *domain.BidEvent) error {
	query := `
        INSERT INTO bid_events (auction_id, user_id, amount, step, phase, event_type, timestamp, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		event.AuctionID, event.UserID, event.Amount.String(), event.Step, event.Phase,
		string(event.Type), event.Timestamp, time.Now())
	return err
}

// GetBidHistory returns the accepted bids of an auction in acceptance order.
func (r *MySQLBidRepository) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.BidEvent, error) {
	query := `
        SELECT auction_id, user_id, amount, step, phase, event_type, timestamp
        FROM bid_events
        WHERE auction_id = ? AND event_type = 'bid_accepted'
        ORDER BY step ASC, id ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.BidEvent
	for rows.Next() {
		var event domain.BidEvent
		var eventType, amount string

		err := rows.Scan(&event.AuctionID, &event.UserID, &amount, &event.Step,
			&event.Phase, &eventType, &event.Timestamp)
		if err != nil {
			return nil, err
		}

		if event.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bid event amount: %w", err)
		}
		event.Type = domain.BidEventType(eventType)
		events = append(events, &event)
	}

	return events, rows.Err()
}
