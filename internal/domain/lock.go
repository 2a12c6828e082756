package domain

import (
	"context"
	"time"
)

// LockManager provides TTL-bounded distributed locking. Acquire returns an
// unlock function on success, or ErrLockHeld when another holder owns the
// key. A crashed holder's lock expires with its TTL, so no key can stay
// wedged forever.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LockScope namespaces lock keys so dispatch-time and execution-time locking
// are independent protocols: dispatch locks prevent duplicate jobs,
// execution locks prevent duplicate spends.
type LockScope string

const (
	LockScopeDispatch  LockScope = "dispatch"
	LockScopeExecution LockScope = "exec"
)

// WalletLockKey is the first-layer key, shared by every sniper bound to the
// wallet. It must always be acquired before the sniper-level key.
func WalletLockKey(scope LockScope, walletID, tokenMint string) string {
	return string(scope) + ":wallet:" + walletID + ":" + tokenMint
}

// SniperLockKey is the second-layer key, private to one sniper config.
func SniperLockKey(scope LockScope, sniperID, tokenMint string) string {
	return string(scope) + ":sniper:" + sniperID + ":" + tokenMint
}

// AcquirePair takes the wallet-level lock, then the sniper-level lock. If the
// second acquisition fails the first is released before returning, so two
// configs sharing one wallet can never both hold a half-acquired pair.
func AcquirePair(ctx context.Context, lm LockManager, scope LockScope, walletID, sniperID, tokenMint string, ttl time.Duration) (func(), error) {
	unlockWallet, err := lm.Acquire(ctx, WalletLockKey(scope, walletID, tokenMint), ttl)
	if err != nil {
		return nil, err
	}

	unlockSniper, err := lm.Acquire(ctx, SniperLockKey(scope, sniperID, tokenMint), ttl)
	if err != nil {
		unlockWallet()
		return nil, err
	}

	return func() {
		unlockSniper()
		unlockWallet()
	}, nil
}
