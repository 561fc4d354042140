package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"block-auction/internal/domain"

	"github.com/shopspring/decimal"
)

const auctionColumns = `id, seller, item_ref, min_bid, start_step, opening_length, ending_length,
        created_step, finalized, winner_bidder, winner_amount, winner_step, winner_slot, updated_at`

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

func (r *MySQLAuctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, seller, item_ref, min_bid, start_step, opening_length, ending_length,
            created_step, finalized, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?)
    `
	cfg := auction.Config
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, cfg.Seller, cfg.ItemRef, cfg.MinBid.String(),
		cfg.StartStep, cfg.OpeningLength, cfg.EndingLength,
		auction.CreatedAt, auction.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var (
		auction      domain.Auction
		minBid       string
		winnerBidder sql.NullString
		winnerAmount sql.NullString
		winnerStep   sql.Null[uint64]
		winnerSlot   sql.Null[int]
	)

	err := row.Scan(&auction.ID, &auction.Config.Seller, &auction.Config.ItemRef, &minBid,
		&auction.Config.StartStep, &auction.Config.OpeningLength, &auction.Config.EndingLength,
		&auction.CreatedAt, &auction.Finalized,
		&winnerBidder, &winnerAmount, &winnerStep, &winnerSlot, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if auction.Config.MinBid, err = decimal.NewFromString(minBid); err != nil {
		return nil, fmt.Errorf("auction %s min_bid: %w", auction.ID, err)
	}
	if auction.Winner, err = nullableBid(winnerBidder, winnerAmount, winnerStep); err != nil {
		return nil, fmt.Errorf("auction %s winner: %w", auction.ID, err)
	}
	return &auction, nil
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
		}
		return nil, err
	}
	return auction, nil
}

func (r *MySQLAuctionRepository) ListOpenAuctions(ctx context.Context) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE finalized = FALSE ORDER BY start_step ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}

	return auctions, rows.Err()
}

// SaveState writes the ledger in one transaction. Balances are upserted and
// checkpoint slots are insert-only, matching the engine's write-once slots.
func (r *MySQLAuctionRepository) SaveState(ctx context.Context, auctionID string, state *domain.LedgerState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var leaderBidder, leaderAmount, leaderStep any
	if state.Leader != nil {
		leaderBidder = state.Leader.Bidder
		leaderAmount = state.Leader.Amount.String()
		leaderStep = state.Leader.Step
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE auctions SET leader_bidder = ?, leader_amount = ?, leader_step = ?, finalized = ?, updated_at = ?
        WHERE id = ?
    `, leaderBidder, leaderAmount, leaderStep, state.Finalized, time.Now(), auctionID)
	if err != nil {
		return err
	}

	for bidder, amount := range state.Balances {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO auction_balances (auction_id, bidder, amount) VALUES (?, ?, ?)
            ON DUPLICATE KEY UPDATE amount = VALUES(amount)
        `, auctionID, bidder, amount.String())
		if err != nil {
			return err
		}
	}

	for slot, bid := range state.Checkpoints {
		if bid == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, `
            INSERT IGNORE INTO auction_checkpoints (auction_id, slot, bidder, amount, step) VALUES (?, ?, ?, ?, ?)
        `, auctionID, slot, bid.Bidder, bid.Amount.String(), bid.Step)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *MySQLAuctionRepository) LoadState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	var (
		state        domain.LedgerState
		minBid       string
		leaderBidder sql.NullString
		leaderAmount sql.NullString
		leaderStep   sql.Null[uint64]
	)

	err := r.db.QueryRowContext(ctx, `
        SELECT seller, item_ref, min_bid, start_step, opening_length, ending_length,
            leader_bidder, leader_amount, leader_step, finalized
        FROM auctions WHERE id = ?
    `, auctionID).Scan(&state.Config.Seller, &state.Config.ItemRef, &minBid,
		&state.Config.StartStep, &state.Config.OpeningLength, &state.Config.EndingLength,
		&leaderBidder, &leaderAmount, &leaderStep, &state.Finalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
		}
		return nil, err
	}

	if state.Config.MinBid, err = decimal.NewFromString(minBid); err != nil {
		return nil, fmt.Errorf("auction %s min_bid: %w", auctionID, err)
	}
	if state.Leader, err = nullableBid(leaderBidder, leaderAmount, leaderStep); err != nil {
		return nil, fmt.Errorf("auction %s leader: %w", auctionID, err)
	}

	if state.Balances, err = r.loadBalances(ctx, auctionID); err != nil {
		return nil, err
	}
	if state.Checkpoints, err = r.loadCheckpoints(ctx, auctionID, state.Config.EndingLength); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *MySQLAuctionRepository) loadBalances(ctx context.Context, auctionID string) (map[string]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT bidder, amount FROM auction_balances WHERE auction_id = ?`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var bidder, raw string
		if err := rows.Scan(&bidder, &raw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", bidder, err)
		}
		balances[bidder] = amount
	}
	return balances, rows.Err()
}

func (r *MySQLAuctionRepository) loadCheckpoints(ctx context.Context, auctionID string, slots uint64) ([]*domain.Bid, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT slot, bidder, amount, step FROM auction_checkpoints WHERE auction_id = ? ORDER BY slot ASC
    `, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checkpoints := make([]*domain.Bid, slots)
	for rows.Next() {
		var (
			slot uint64
			bid  domain.Bid
			raw  string
		)
		if err := rows.Scan(&slot, &bid.Bidder, &raw, &bid.Step); err != nil {
			return nil, err
		}
		if slot >= slots {
			return nil, fmt.Errorf("auction %s: checkpoint slot %d out of range", auctionID, slot)
		}
		if bid.Amount, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", slot, err)
		}
		checkpoints[slot] = &bid
	}
	return checkpoints, rows.Err()
}

func (r *MySQLAuctionRepository) MarkFinalized(ctx context.Context, auctionID string, result *domain.FinalResult) error {
	var winnerBidder, winnerAmount, winnerStep, winnerSlot any
	if result.Winner != nil {
		winnerBidder = result.Winner.Bidder
		winnerAmount = result.Winner.Amount.String()
		winnerStep = result.Winner.Step
		winnerSlot = result.Slot
	}

	_, err := r.db.ExecContext(ctx, `
        UPDATE auctions SET finalized = TRUE, winner_bidder = ?, winner_amount = ?, winner_step = ?,
            winner_slot = ?, updated_at = ?
        WHERE id = ?
    `, winnerBidder, winnerAmount, winnerStep, winnerSlot, time.Now(), auctionID)
	return err
}

func nullableBid(bidder, amount sql.NullString, step sql.Null[uint64]) (*domain.Bid, error) {
	if !bidder.Valid {
		return nil, nil
	}
	value, err := decimal.NewFromString(amount.String)
	if err != nil {
		return nil, err
	}
	return &domain.Bid{Bidder: bidder.String, Amount: value, Step: step.V}, nil
}
