package automation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipekit/sniperbot/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	sellingAt map[string]time.Time
}

func newFakePositionStore(positions ...domain.Position) *fakePositionStore {
	f := &fakePositionStore{
		positions: make(map[string]domain.Position),
		sellingAt: make(map[string]time.Time),
	}
	for _, p := range positions {
		f.positions[p.ID] = p
	}
	return f
}

func (f *fakePositionStore) Create(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePositionStore) FindActive(_ context.Context, walletID, tokenMint string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.positions {
		if p.WalletID == walletID && p.TokenMint == tokenMint && !p.Status.Terminal() {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (f *fakePositionStore) ListAutomated(_ context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, p := range f.positions {
		if p.Status == domain.PositionStatusOpen && p.Automated() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) ListByWallet(_ context.Context, walletID string, _, _ int) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, p := range f.positions {
		if p.WalletID == walletID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) MarkSelling(_ context.Context, id string) error {
	if err := f.transition(id, domain.PositionStatusOpen, domain.PositionStatusSelling); err != nil {
		return err
	}
	f.mu.Lock()
	f.sellingAt[id] = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *fakePositionStore) CloseSelling(_ context.Context, id string, exitPrice, solReceived float64, sellSig string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok || p.Status != domain.PositionStatusSelling {
		return domain.ErrStaleTransition
	}
	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.ExitPrice = &exitPrice
	p.ExitSol = &solReceived
	p.SellSig = &sellSig
	p.ClosedAt = &now
	f.positions[id] = p
	return nil
}

func (f *fakePositionStore) RevertToOpen(_ context.Context, id string) error {
	return f.transition(id, domain.PositionStatusSelling, domain.PositionStatusOpen)
}

func (f *fakePositionStore) ReclaimStuckSelling(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for id, p := range f.positions {
		if p.Status != domain.PositionStatusSelling {
			continue
		}
		at, ok := f.sellingAt[id]
		if !ok || !at.Before(cutoff) {
			continue
		}
		p.Status = domain.PositionStatusOpen
		f.positions[id] = p
		delete(f.sellingAt, id)
		n++
	}
	return n, nil
}

func (f *fakePositionStore) setSellingSince(id string, at time.Time) {
	f.mu.Lock()
	f.sellingAt[id] = at
	f.mu.Unlock()
}

func (f *fakePositionStore) UpdateHighWater(_ context.Context, id string, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.HighestPriceSeen == nil || price > *p.HighestPriceSeen {
		p.HighestPriceSeen = &price
		f.positions[id] = p
	}
	return nil
}

func (f *fakePositionStore) transition(id string, from, to domain.PositionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok || p.Status != from {
		return domain.ErrStaleTransition
	}
	p.Status = to
	f.positions[id] = p
	return nil
}

func (f *fakePositionStore) get(t *testing.T, id string) domain.Position {
	t.Helper()
	p, err := f.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

type fakeSniperStore struct {
	configs map[string]domain.SniperConfig
}

func (f *fakeSniperStore) GetByID(_ context.Context, id string) (domain.SniperConfig, error) {
	c, ok := f.configs[id]
	if !ok {
		return domain.SniperConfig{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeSniperStore) ListActive(_ context.Context) ([]domain.SniperConfig, error) {
	return nil, nil
}

func (f *fakeSniperStore) SetActive(_ context.Context, _ string, _ bool) error { return nil }

func (f *fakeSniperStore) Deactivate(_ context.Context, _, _ string) error { return nil }

func (f *fakeSniperStore) IncrCounters(_ context.Context, _ string, _, _, _ int) error { return nil }

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

type fakePriceSource struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *fakePriceSource) GetPrice(ctx context.Context, tokenMint string) (float64, error) {
	prices, err := f.GetPrices(ctx, []string{tokenMint})
	if err != nil {
		return 0, err
	}
	price, ok := prices[tokenMint]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return price, nil
}

func (f *fakePriceSource) GetPrices(_ context.Context, mints []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64, len(mints))
	for _, m := range mints {
		if p, ok := f.prices[m]; ok {
			out[m] = p
		}
	}
	return out, nil
}

func (f *fakePriceSource) set(mint string, price float64) {
	f.mu.Lock()
	f.prices[mint] = price
	f.mu.Unlock()
}

type fakeTrader struct {
	mu       sync.Mutex
	sells    int
	sellErr  error
	sellOut  domain.SellResult
	params   []domain.SellParams
	sellGate map[string]chan struct{} // mint -> channel the sell blocks on
}

func (f *fakeTrader) ExecuteBuy(_ context.Context, _ domain.BuyParams) (domain.BuyResult, error) {
	return domain.BuyResult{}, domain.ErrUnavailable
}

func (f *fakeTrader) ExecuteSell(_ context.Context, p domain.SellParams) (domain.SellResult, error) {
	f.mu.Lock()
	gate := f.sellGate[p.TokenMint]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells++
	f.params = append(f.params, p)
	if f.sellErr != nil {
		return domain.SellResult{}, f.sellErr
	}
	return f.sellOut, nil
}

func (f *fakeTrader) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sells
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fptr(v float64) *float64 { return &v }

type fixture struct {
	positions *fakePositionStore
	snipers   *fakeSniperStore
	prices    *fakePriceSource
	trader    *fakeTrader
	engine    *Engine
}

// tick runs one poll pass and waits for the sells it started.
func (fx *fixture) tick(ctx context.Context) {
	fx.engine.Tick(ctx)
	fx.engine.sellWG.Wait()
}

func newFixture(positions ...domain.Position) *fixture {
	fx := &fixture{
		positions: newFakePositionStore(positions...),
		snipers: &fakeSniperStore{configs: map[string]domain.SniperConfig{
			"s1": {ID: "s1", WalletID: "w1", SlippageBps: 300, PriorityFee: 0.01},
		}},
		prices: &fakePriceSource{prices: make(map[string]float64)},
		trader: &fakeTrader{sellOut: domain.SellResult{
			Signature:   "sig-sell",
			SolReceived: 1.5,
			ExitPrice:   0.000002,
		}},
	}
	wallets := &fakeWalletStore{wallets: map[string]domain.Wallet{
		"w1": {ID: "w1", UserID: "u1", PublicKey: "pk-w1", Type: domain.WalletTypeCustodial},
	}}
	fx.engine = New(fx.positions, fx.snipers, wallets, fx.prices, fx.trader, nil,
		Options{SellCooldown: time.Hour}, discardLogger())
	return fx
}

func openPosition(id string) domain.Position {
	return domain.Position{
		ID:                 id,
		SniperID:           "s1",
		WalletID:           "w1",
		TokenMint:          "Mint" + id,
		EntryPrice:         0.000001,
		EntryAmountSol:     0.5,
		CurrentTokenAmount: 500_000,
		Status:             domain.PositionStatusOpen,
		BuySig:             "sig-buy-" + id,
		OpenedAt:           time.Now().UTC().Add(-time.Minute),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestTickTakeProfitClosesPosition(t *testing.T) {
	pos := openPosition("p1")
	pos.TakeProfitPrice = fptr(0.000002)
	fx := newFixture(pos)
	fx.prices.set(pos.TokenMint, 0.0000021)

	fx.tick(context.Background())

	assert.Equal(t, 1, fx.trader.sellCount())
	got := fx.positions.get(t, "p1")
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 0.000002, *got.ExitPrice)
	require.NotNil(t, got.SellSig)
	assert.Equal(t, "sig-sell", *got.SellSig)
	require.NotNil(t, got.ClosedAt)

	require.Len(t, fx.trader.params, 1)
	assert.Equal(t, 300, fx.trader.params[0].SlippageBps)
	assert.Equal(t, 500_000.0, fx.trader.params[0].TokenAmount)
}

func TestTickStopLossClosesPosition(t *testing.T) {
	pos := openPosition("p1")
	pos.StopLossPrice = fptr(0.0000005)
	fx := newFixture(pos)
	fx.prices.set(pos.TokenMint, 0.0000004)

	fx.tick(context.Background())

	assert.Equal(t, 1, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusClosed, fx.positions.get(t, "p1").Status)
}

func TestTickNoTriggerNoSell(t *testing.T) {
	pos := openPosition("p1")
	pos.TakeProfitPrice = fptr(0.000002)
	pos.StopLossPrice = fptr(0.0000005)
	fx := newFixture(pos)
	fx.prices.set(pos.TokenMint, 0.000001)

	fx.tick(context.Background())

	assert.Equal(t, 0, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusOpen, fx.positions.get(t, "p1").Status)
}

func TestTickMissingPriceSkipsPosition(t *testing.T) {
	pos := openPosition("p1")
	pos.StopLossPrice = fptr(0.01)
	fx := newFixture(pos)
	// No price published for the mint; a stop-loss that would otherwise fire
	// must not be evaluated against a zero price.

	fx.tick(context.Background())

	assert.Equal(t, 0, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusOpen, fx.positions.get(t, "p1").Status)
}

func TestTrailingStopNotArmedBelowEntry(t *testing.T) {
	pos := openPosition("p1")
	pos.TrailingStopPct = fptr(10)
	fx := newFixture(pos)

	// The token never goes above entry. Even a huge drawdown from the first
	// observed price must not fire the trailing stop.
	fx.prices.set(pos.TokenMint, 0.0000009)
	fx.tick(context.Background())
	fx.prices.set(pos.TokenMint, 0.0000001)
	fx.tick(context.Background())

	assert.Equal(t, 0, fx.trader.sellCount())
	got := fx.positions.get(t, "p1")
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	require.NotNil(t, got.HighestPriceSeen)
	assert.Equal(t, 0.0000009, *got.HighestPriceSeen)
}

func TestTrailingStopFiresOnDrawdownFromPeak(t *testing.T) {
	pos := openPosition("p1")
	pos.TrailingStopPct = fptr(20)
	fx := newFixture(pos)

	// Profitable peak arms the stop.
	fx.prices.set(pos.TokenMint, 0.000002)
	fx.tick(context.Background())
	assert.Equal(t, 0, fx.trader.sellCount())

	// 10% drawdown: below the 20% threshold.
	fx.prices.set(pos.TokenMint, 0.0000018)
	fx.tick(context.Background())
	assert.Equal(t, 0, fx.trader.sellCount())

	// 25% drawdown from the peak fires.
	fx.prices.set(pos.TokenMint, 0.0000015)
	fx.tick(context.Background())
	assert.Equal(t, 1, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusClosed, fx.positions.get(t, "p1").Status)
}

func TestHighWaterNeverLowers(t *testing.T) {
	pos := openPosition("p1")
	pos.TrailingStopPct = fptr(90)
	fx := newFixture(pos)

	fx.prices.set(pos.TokenMint, 0.000003)
	fx.tick(context.Background())
	fx.prices.set(pos.TokenMint, 0.0000025)
	fx.tick(context.Background())

	got := fx.positions.get(t, "p1")
	require.NotNil(t, got.HighestPriceSeen)
	assert.Equal(t, 0.000003, *got.HighestPriceSeen)
}

func TestConcurrentTriggersSellOnce(t *testing.T) {
	pos := openPosition("p1")
	pos.TakeProfitPrice = fptr(0.000002)
	fx := newFixture(pos)
	fx.prices.set(pos.TokenMint, 0.000003)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.engine.Tick(context.Background())
		}()
	}
	wg.Wait()
	fx.engine.sellWG.Wait()

	assert.Equal(t, 1, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusClosed, fx.positions.get(t, "p1").Status)
}

func TestFailedSellRevertsAndCoolsDown(t *testing.T) {
	pos := openPosition("p1")
	pos.TakeProfitPrice = fptr(0.000002)
	fx := newFixture(pos)
	fx.prices.set(pos.TokenMint, 0.000003)
	fx.trader.sellErr = domain.ErrUnavailable

	fx.tick(context.Background())

	assert.Equal(t, 1, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusOpen, fx.positions.get(t, "p1").Status)

	// Within the cooldown the trigger still holds but no retry happens.
	fx.tick(context.Background())
	assert.Equal(t, 1, fx.trader.sellCount())
}

func TestManualCloseNow(t *testing.T) {
	pos := openPosition("p1")
	fx := newFixture(pos)

	require.NoError(t, fx.engine.CloseNow(context.Background(), "p1"))

	assert.Equal(t, 1, fx.trader.sellCount())
	assert.Equal(t, domain.PositionStatusClosed, fx.positions.get(t, "p1").Status)
}

func TestManualCloseNowAlreadyClaimed(t *testing.T) {
	pos := openPosition("p1")
	pos.Status = domain.PositionStatusSelling
	fx := newFixture(pos)

	err := fx.engine.CloseNow(context.Background(), "p1")
	require.ErrorIs(t, err, domain.ErrStaleTransition)
	assert.Equal(t, 0, fx.trader.sellCount())
}

func TestManualCloseNowUnknownPosition(t *testing.T) {
	fx := newFixture()
	err := fx.engine.CloseNow(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSellUsesDefaultsWhenSniperGone(t *testing.T) {
	pos := openPosition("p1")
	pos.SniperID = "gone"
	pos.TakeProfitPrice = fptr(0.000002)
	fx := newFixture(pos)
	fx.prices.set(pos.TokenMint, 0.000003)

	fx.tick(context.Background())

	require.Len(t, fx.trader.params, 1)
	assert.Equal(t, defaultSellSlippageBps, fx.trader.params[0].SlippageBps)
	assert.Equal(t, defaultSellPriorityFee, fx.trader.params[0].PriorityFee)
}

func TestTickSlowSellDoesNotBlockOtherPositions(t *testing.T) {
	slow := openPosition("p1")
	slow.TakeProfitPrice = fptr(0.000002)
	fast := openPosition("p2")
	fast.TakeProfitPrice = fptr(0.000002)
	fx := newFixture(slow, fast)
	fx.prices.set(slow.TokenMint, 0.000003)
	fx.prices.set(fast.TokenMint, 0.000003)

	release := make(chan struct{})
	fx.trader.sellGate = map[string]chan struct{}{slow.TokenMint: release}

	fx.engine.Tick(context.Background())

	// The slow position's sell claims its row and then parks on the venue
	// call; the other position closes while it is still in flight.
	require.Eventually(t, func() bool {
		p, err := fx.positions.GetByID(context.Background(), "p1")
		return err == nil && p.Status == domain.PositionStatusSelling
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		p, err := fx.positions.GetByID(context.Background(), "p2")
		return err == nil && p.Status == domain.PositionStatusClosed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.PositionStatusSelling, fx.positions.get(t, "p1").Status)

	close(release)
	fx.engine.sellWG.Wait()
	assert.Equal(t, domain.PositionStatusClosed, fx.positions.get(t, "p1").Status)
	assert.Equal(t, 2, fx.trader.sellCount())
}

func TestReclaimStuckSellingRevertsAgedRows(t *testing.T) {
	stuck := openPosition("p1")
	stuck.Status = domain.PositionStatusSelling
	fresh := openPosition("p2")
	fresh.Status = domain.PositionStatusSelling
	fx := newFixture(stuck, fresh)
	fx.positions.setSellingSince("p1", time.Now().Add(-10*time.Minute))
	fx.positions.setSellingSince("p2", time.Now())

	fx.engine.reclaimStuck(context.Background())

	assert.Equal(t, domain.PositionStatusOpen, fx.positions.get(t, "p1").Status)
	assert.Equal(t, domain.PositionStatusSelling, fx.positions.get(t, "p2").Status)
}
