package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snipekit/sniperbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
//
// Every status change is a conditional single-row update keyed on the
// expected prior status. A zero-rows result means another claimant won the
// race and surfaces as domain.ErrStaleTransition; that conditional update is
// the entire at-most-once-sell mechanism, so nothing here takes locks.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, sniper_id, wallet_id, token_mint,
	entry_price, entry_amount_sol, current_token_amount,
	take_profit_price, stop_loss_price, trailing_stop_pct, highest_price_seen,
	status, buy_sig, sell_sig, exit_price, exit_sol, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.SniperID, &p.WalletID, &p.TokenMint,
		&p.EntryPrice, &p.EntryAmountSol, &p.CurrentTokenAmount,
		&p.TakeProfitPrice, &p.StopLossPrice, &p.TrailingStopPct, &p.HighestPriceSeen,
		&status, &p.BuySig, &p.SellSig, &p.ExitPrice, &p.ExitSol,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. The partial unique index on
// (wallet_id, token_mint) for non-terminal statuses is the last-resort guard
// beneath the locking layer; a violation surfaces as ErrDuplicatePosition.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, sniper_id, wallet_id, token_mint,
			entry_price, entry_amount_sol, current_token_amount,
			take_profit_price, stop_loss_price, trailing_stop_pct, highest_price_seen,
			status, buy_sig, sell_sig, exit_price, exit_sol,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.SniperID, p.WalletID, p.TokenMint,
		p.EntryPrice, p.EntryAmountSol, p.CurrentTokenAmount,
		p.TakeProfitPrice, p.StopLossPrice, p.TrailingStopPct, p.HighestPriceSeen,
		string(p.Status), p.BuySig, p.SellSig, p.ExitPrice, p.ExitSol,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicatePosition
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// FindActive returns the non-terminal position for a wallet+mint pair, or
// domain.ErrNotFound. Non-terminal covers pending, open, and selling.
func (s *PositionStore) FindActive(ctx context.Context, walletID, tokenMint string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE wallet_id = $1 AND token_mint = $2
		   AND status IN ('pending', 'open', 'selling')`,
		walletID, tokenMint)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: find active position %s/%s: %w", walletID, tokenMint, err)
	}
	return p, nil
}

// ListAutomated returns every open position with at least one exit rule.
func (s *PositionStore) ListAutomated(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		   AND (take_profit_price IS NOT NULL
		     OR stop_loss_price IS NOT NULL
		     OR trailing_stop_pct IS NOT NULL)
		 ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list automated positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan automated positions: %w", err)
	}
	return positions, nil
}

// ListByWallet returns positions for a wallet, newest first.
func (s *PositionStore) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE wallet_id = $1
		 ORDER BY opened_at DESC
		 LIMIT $2 OFFSET $3`,
		walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan wallet positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed strictly before the cutoff,
// oldest first. Used by the cold-storage archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %v: %w", before, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// MarkSelling transitions open -> selling. Exactly one of any number of
// concurrent claimants (poll ticks, manual close, worker retries) sees a
// row update; the rest get domain.ErrStaleTransition.
func (s *PositionStore) MarkSelling(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = 'selling', updated_at = NOW()
		 WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s selling: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

// CloseSelling transitions selling -> closed, recording the exit.
func (s *PositionStore) CloseSelling(ctx context.Context, id string, exitPrice, solReceived float64, sellSig string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			status     = 'closed',
			exit_price = $2,
			exit_sol   = $3,
			sell_sig   = $4,
			closed_at  = NOW(),
			updated_at = NOW()
		 WHERE id = $1 AND status = 'selling'`,
		id, exitPrice, solReceived, sellSig)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

// RevertToOpen transitions selling -> open after a failed sell, so the
// position stays eligible for future triggers.
func (s *PositionStore) RevertToOpen(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = 'open', updated_at = NOW()
		 WHERE id = $1 AND status = 'selling'`, id)
	if err != nil {
		return fmt.Errorf("postgres: revert position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	return nil
}

// ReclaimStuckSelling reverts selling rows whose last update is older than
// olderThan back to open. A row only ages like that when the process died
// between the selling claim and its resolution; the trade client gives up
// long before the cutoff, so nothing reclaimed here has a live sell attached.
func (s *PositionStore) ReclaimStuckSelling(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = 'open', updated_at = NOW()
		 WHERE status = 'selling' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: reclaim stuck selling positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateHighWater raises highest_price_seen. The GREATEST guard makes the
// write monotonic, so concurrent ticks can apply in any order.
func (s *PositionStore) UpdateHighWater(ctx context.Context, id string, price float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			highest_price_seen = GREATEST(COALESCE(highest_price_seen, 0), $2),
			updated_at = NOW()
		 WHERE id = $1`, id, price)
	if err != nil {
		return fmt.Errorf("postgres: update high water %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
