package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snipekit/sniperbot/internal/domain"
)

// SniperStore implements domain.SniperStore using PostgreSQL.
type SniperStore struct {
	pool *pgxpool.Pool
}

// NewSniperStore creates a new SniperStore backed by the given connection pool.
func NewSniperStore(pool *pgxpool.Pool) *SniperStore {
	return &SniperStore{pool: pool}
}

const sniperSelectCols = `id, user_id, wallet_id, name, is_active,
	buy_amount_sol, slippage_bps, priority_fee, mev_protection,
	max_market_cap_usd, min_volume_usd, min_holders,
	max_dev_holding_pct, max_top10_holding_pct,
	require_twitter, require_telegram, require_website, require_liquidity_lock,
	name_includes, name_excludes, max_migration_age_ms,
	take_profit_pct, stop_loss_pct, trailing_stop_pct,
	snipes_attempted, snipes_succeeded, snipes_failed,
	created_at, updated_at`

func scanSniperRow(row pgx.Row) (domain.SniperConfig, error) {
	var c domain.SniperConfig
	var maxAgeMs *int64

	err := row.Scan(
		&c.ID, &c.UserID, &c.WalletID, &c.Name, &c.IsActive,
		&c.BuyAmountSol, &c.SlippageBps, &c.PriorityFee, &c.MevProtection,
		&c.MaxMarketCapUsd, &c.MinVolumeUsd, &c.MinHolders,
		&c.MaxDevHoldingPct, &c.MaxTop10HoldingPct,
		&c.RequireTwitter, &c.RequireTelegram, &c.RequireWebsite, &c.RequireLiquidityLock,
		&c.NameIncludes, &c.NameExcludes, &maxAgeMs,
		&c.TakeProfitPct, &c.StopLossPct, &c.TrailingStopPct,
		&c.SnipesAttempted, &c.SnipesSucceeded, &c.SnipesFailed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.SniperConfig{}, err
	}
	if maxAgeMs != nil {
		d := time.Duration(*maxAgeMs) * time.Millisecond
		c.MaxMigrationAge = &d
	}
	return c, nil
}

// GetByID retrieves a single sniper config by its ID.
func (s *SniperStore) GetByID(ctx context.Context, id string) (domain.SniperConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sniperSelectCols+` FROM snipers WHERE id = $1`, id)

	c, err := scanSniperRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SniperConfig{}, domain.ErrNotFound
		}
		return domain.SniperConfig{}, fmt.Errorf("postgres: get sniper %s: %w", id, err)
	}
	return c, nil
}

// ListActive returns every sniper config with is_active set.
func (s *SniperStore) ListActive(ctx context.Context) ([]domain.SniperConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sniperSelectCols+` FROM snipers WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active snipers: %w", err)
	}
	defer rows.Close()

	var configs []domain.SniperConfig
	for rows.Next() {
		c, err := scanSniperRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sniper: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// SetActive flips the is_active flag.
func (s *SniperStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE snipers SET is_active = $2, deactivation_reason = NULL, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("postgres: set sniper %s active=%t: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate flips is_active off and records why. Used by the worker's
// funding fail-safe so an unfunded sniper stops bleeding transaction fees.
func (s *SniperStore) Deactivate(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE snipers SET is_active = FALSE, deactivation_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason)
	if err != nil {
		return fmt.Errorf("postgres: deactivate sniper %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrCounters bumps the lifetime counters. Callers treat it as
// fire-and-forget; a failure here must never fail a dispatch or a trade.
func (s *SniperStore) IncrCounters(ctx context.Context, id string, attempted, succeeded, failed int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE snipers SET
			snipes_attempted = snipes_attempted + $2,
			snipes_succeeded = snipes_succeeded + $3,
			snipes_failed    = snipes_failed + $4,
			updated_at       = NOW()
		WHERE id = $1`,
		id, attempted, succeeded, failed)
	if err != nil {
		return fmt.Errorf("postgres: bump sniper counters %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SniperStore = (*SniperStore)(nil)
