package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLockManager tracks held keys in memory.
type fakeLockManager struct {
	held     map[string]bool
	acquired []string
	released []string
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: make(map[string]bool)}
}

func (f *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held[key] {
		return nil, ErrLockHeld
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return func() {
		delete(f.held, key)
		f.released = append(f.released, key)
	}, nil
}

func TestAcquirePairOrdering(t *testing.T) {
	lm := newFakeLockManager()

	unlock, err := AcquirePair(context.Background(), lm, LockScopeDispatch, "w1", "s1", "mint", time.Minute)
	require.NoError(t, err)

	require.Len(t, lm.acquired, 2)
	assert.Equal(t, WalletLockKey(LockScopeDispatch, "w1", "mint"), lm.acquired[0])
	assert.Equal(t, SniperLockKey(LockScopeDispatch, "s1", "mint"), lm.acquired[1])

	unlock()
	assert.Empty(t, lm.held)
}

func TestAcquirePairWalletHeld(t *testing.T) {
	lm := newFakeLockManager()
	lm.held[WalletLockKey(LockScopeDispatch, "w1", "mint")] = true

	_, err := AcquirePair(context.Background(), lm, LockScopeDispatch, "w1", "s1", "mint", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)
	assert.Empty(t, lm.acquired)
}

func TestAcquirePairReleasesWalletWhenSniperHeld(t *testing.T) {
	lm := newFakeLockManager()
	lm.held[SniperLockKey(LockScopeDispatch, "s1", "mint")] = true

	_, err := AcquirePair(context.Background(), lm, LockScopeDispatch, "w1", "s1", "mint", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	// The wallet lock taken first must have been released again.
	walletKey := WalletLockKey(LockScopeDispatch, "w1", "mint")
	assert.False(t, lm.held[walletKey])
	assert.Contains(t, lm.released, walletKey)
}

func TestLockScopesAreIndependent(t *testing.T) {
	lm := newFakeLockManager()

	_, err := AcquirePair(context.Background(), lm, LockScopeDispatch, "w1", "s1", "mint", time.Minute)
	require.NoError(t, err)

	// The execution-scope pair for the same ids is a different protocol.
	_, err = AcquirePair(context.Background(), lm, LockScopeExecution, "w1", "s1", "mint", time.Minute)
	require.NoError(t, err)
}
