package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snipekit/sniperbot/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// GetByID retrieves a wallet binding record by its ID.
func (s *WalletStore) GetByID(ctx context.Context, id string) (domain.Wallet, error) {
	var w domain.Wallet
	var walletType string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, public_key, wallet_type, created_at
		 FROM wallets WHERE id = $1`, id,
	).Scan(&w.ID, &w.UserID, &w.PublicKey, &walletType, &w.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", id, err)
	}
	w.Type = domain.WalletType(walletType)
	return w, nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
