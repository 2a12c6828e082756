package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipekit/sniperbot/internal/auxdata"
	"github.com/snipekit/sniperbot/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeSniperStore struct {
	mu          sync.Mutex
	configs     []domain.SniperConfig
	counts      map[string][3]int
	deactivated map[string]string
}

func (f *fakeSniperStore) GetByID(_ context.Context, id string) (domain.SniperConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.configs {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.SniperConfig{}, domain.ErrNotFound
}

func (f *fakeSniperStore) ListActive(_ context.Context) ([]domain.SniperConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SniperConfig, 0, len(f.configs))
	for _, c := range f.configs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSniperStore) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.configs {
		if f.configs[i].ID == id {
			f.configs[i].IsActive = active
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeSniperStore) Deactivate(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.configs {
		if f.configs[i].ID == id {
			f.configs[i].IsActive = false
			if f.deactivated == nil {
				f.deactivated = make(map[string]string)
			}
			f.deactivated[id] = reason
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeSniperStore) IncrCounters(_ context.Context, id string, attempted, succeeded, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string][3]int)
	}
	c := f.counts[id]
	c[0] += attempted
	c[1] += succeeded
	c[2] += failed
	f.counts[id] = c
	return nil
}

type fakeWalletStore struct {
	wallets map[string]domain.Wallet
}

func (f *fakeWalletStore) GetByID(_ context.Context, id string) (domain.Wallet, error) {
	w, ok := f.wallets[id]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

// fakeLockManager is a thread-safe in-memory lock store.
type fakeLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: make(map[string]bool)}
}

func (f *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		delete(f.held, key)
		f.mu.Unlock()
	}, nil
}

func (f *fakeLockManager) isHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key]
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []domain.SnipeJob
	fail bool
}

func (f *fakeQueue) Push(_ context.Context, job domain.SnipeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return domain.ErrUnavailable
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Pop(_ context.Context) (domain.SnipeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return domain.SnipeJob{}, domain.ErrQueueEmpty
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeQueue) Len(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.jobs)), nil
}

type nilAnalyzer struct{}

func (nilAnalyzer) GetMarketData(_ context.Context, _ string) (domain.MarketData, error) {
	return domain.MarketData{}, domain.ErrUnavailable
}

func (nilAnalyzer) GetHolderAnalysis(_ context.Context, _ string) (domain.HolderAnalysis, error) {
	return domain.HolderAnalysis{}, domain.ErrUnavailable
}

func (nilAnalyzer) GetTokenMetadata(_ context.Context, _ string) (domain.TokenMetadata, error) {
	return domain.TokenMetadata{}, domain.ErrUnavailable
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func custodialWallet(id, userID string) domain.Wallet {
	return domain.Wallet{
		ID:        id,
		UserID:    userID,
		PublicKey: "pk-" + id,
		Type:      domain.WalletTypeCustodial,
	}
}

func activeSniper(id, userID, walletID string) domain.SniperConfig {
	return domain.SniperConfig{
		ID:           id,
		UserID:       userID,
		WalletID:     walletID,
		Name:         "sniper " + id,
		IsActive:     true,
		BuyAmountSol: 0.5,
		SlippageBps:  300,
	}
}

func testEvent() domain.MigrationEvent {
	now := time.Now().UTC()
	return domain.MigrationEvent{
		TokenMint:      "MintTest",
		PoolAddress:    "PoolTest",
		TokenName:      "Test Token",
		TokenSymbol:    "TST",
		TokenCreatedAt: now.Add(-5 * time.Minute),
		DetectedAt:     now,
	}
}

type fixture struct {
	snipers *fakeSniperStore
	wallets *fakeWalletStore
	locks   *fakeLockManager
	queue   *fakeQueue
	orch    *Orchestrator
}

func newFixture(configs []domain.SniperConfig, wallets map[string]domain.Wallet) *fixture {
	f := &fixture{
		snipers: &fakeSniperStore{configs: configs},
		wallets: &fakeWalletStore{wallets: wallets},
		locks:   newFakeLockManager(),
		queue:   &fakeQueue{},
	}
	aux := auxdata.NewFetcher(nilAnalyzer{}, time.Minute, discardLogger())
	f.orch = New(nil, f.snipers, f.wallets, f.locks, f.queue, aux, nil, Options{}, discardLogger())
	return f
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDispatchQueuesMatchingConfig(t *testing.T) {
	fx := newFixture(
		[]domain.SniperConfig{activeSniper("s1", "u1", "w1")},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)

	fx.orch.Dispatch(context.Background(), testEvent())

	require.Len(t, fx.queue.jobs, 1)
	job := fx.queue.jobs[0]
	assert.Equal(t, "s1", job.Sniper.ID)
	assert.Equal(t, "MintTest", job.Event.TokenMint)
	assert.Equal(t, [3]int{1, 0, 0}, fx.snipers.counts["s1"])

	// Dispatch locks stay held for the TTL window after a successful enqueue.
	assert.True(t, fx.locks.isHeld(domain.WalletLockKey(domain.LockScopeDispatch, "w1", "MintTest")))
	assert.True(t, fx.locks.isHeld(domain.SniperLockKey(domain.LockScopeDispatch, "s1", "MintTest")))
}

func TestDispatchDuplicateEventsQueueOnce(t *testing.T) {
	fx := newFixture(
		[]domain.SniperConfig{activeSniper("s1", "u1", "w1")},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)
	event := testEvent()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.orch.Dispatch(context.Background(), event)
		}()
	}
	wg.Wait()

	assert.Len(t, fx.queue.jobs, 1)
	assert.Equal(t, [3]int{1, 0, 0}, fx.snipers.counts["s1"])
}

func TestDispatchTwoConfigsOneWalletQueueOnce(t *testing.T) {
	fx := newFixture(
		[]domain.SniperConfig{
			activeSniper("s1", "u1", "w1"),
			activeSniper("s2", "u1", "w1"),
		},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)

	fx.orch.Dispatch(context.Background(), testEvent())

	// The wallet-level lock serializes the pair; only one config wins.
	assert.Len(t, fx.queue.jobs, 1)
}

func TestDispatchStaleEventNoOp(t *testing.T) {
	fx := newFixture(
		[]domain.SniperConfig{activeSniper("s1", "u1", "w1")},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)

	event := testEvent()
	event.DetectedAt = time.Now().Add(-time.Minute)
	fx.orch.Dispatch(context.Background(), event)

	assert.Empty(t, fx.queue.jobs)
	assert.Empty(t, fx.snipers.counts)
}

func TestDispatchScreensWalletBinding(t *testing.T) {
	watch := custodialWallet("w2", "u1")
	watch.Type = domain.WalletTypeWatchOnly

	fx := newFixture(
		[]domain.SniperConfig{
			activeSniper("s1", "u1", "w-missing"), // wallet absent
			activeSniper("s2", "u1", "w2"),        // not custodial
			activeSniper("s3", "u1", "w3"),        // owned by another user
		},
		map[string]domain.Wallet{
			"w2": watch,
			"w3": custodialWallet("w3", "other-user"),
		},
	)

	fx.orch.Dispatch(context.Background(), testEvent())
	assert.Empty(t, fx.queue.jobs)
}

func TestDispatchReleasesWalletLockWhenSniperLockHeld(t *testing.T) {
	fx := newFixture(
		[]domain.SniperConfig{activeSniper("s1", "u1", "w1")},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)
	event := testEvent()

	// Another process already holds this sniper's lock.
	fx.locks.held[domain.SniperLockKey(domain.LockScopeDispatch, "s1", event.TokenMint)] = true

	fx.orch.Dispatch(context.Background(), event)

	assert.Empty(t, fx.queue.jobs)
	assert.False(t, fx.locks.isHeld(domain.WalletLockKey(domain.LockScopeDispatch, "w1", event.TokenMint)))
}

func TestDispatchUnlocksOnEnqueueFailure(t *testing.T) {
	fx := newFixture(
		[]domain.SniperConfig{activeSniper("s1", "u1", "w1")},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)
	fx.queue.fail = true
	event := testEvent()

	fx.orch.Dispatch(context.Background(), event)

	// The job never made it out, so the pair must be retryable.
	assert.False(t, fx.locks.isHeld(domain.WalletLockKey(domain.LockScopeDispatch, "w1", event.TokenMint)))
	assert.False(t, fx.locks.isHeld(domain.SniperLockKey(domain.LockScopeDispatch, "s1", event.TokenMint)))
}

func TestDispatchFilterRejectionQueuesNothing(t *testing.T) {
	cfg := activeSniper("s1", "u1", "w1")
	cfg.NameExcludes = []string{"test"}

	fx := newFixture(
		[]domain.SniperConfig{cfg},
		map[string]domain.Wallet{"w1": custodialWallet("w1", "u1")},
	)

	fx.orch.Dispatch(context.Background(), testEvent())
	assert.Empty(t, fx.queue.jobs)
	assert.Empty(t, fx.snipers.counts)
}

func TestDispatchPriorityReflectsFee(t *testing.T) {
	fast := activeSniper("s-fast", "u1", "w1")
	fast.PriorityFee = 0.05
	slow := activeSniper("s-slow", "u2", "w2")
	slow.PriorityFee = 0

	fx := newFixture(
		[]domain.SniperConfig{fast, slow},
		map[string]domain.Wallet{
			"w1": custodialWallet("w1", "u1"),
			"w2": custodialWallet("w2", "u2"),
		},
	)

	fx.orch.Dispatch(context.Background(), testEvent())

	require.Len(t, fx.queue.jobs, 2)
	byID := map[string]domain.SnipeJob{}
	for _, j := range fx.queue.jobs {
		byID[j.Sniper.ID] = j
	}
	assert.Less(t, byID["s-fast"].Priority, byID["s-slow"].Priority)
}
