package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"isolend/core/events"
	"isolend/core/state"
	"isolend/crypto"
	"isolend/native/bank"
	"isolend/native/oracle"
	"isolend/storage"
)

var unit = new(big.Int).Set(wad)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

func milliUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

type fixture struct {
	t          *testing.T
	db         *storage.MemDB
	mgr        *state.Manager
	bank       *bank.Ledger
	feed       *oracle.Feed
	auction    *Auction
	engine     *Engine
	emitter    *recordingEmitter
	now        time.Time
	owner      crypto.Address
	custody    crypto.Address
	tester     crypto.Address
	liquidator crypto.Address
	token0     crypto.Address
	token1     crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:          t,
		db:         storage.NewMemDB(),
		emitter:    &recordingEmitter{},
		now:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		owner:      crypto.AddressFromSeed(crypto.AccountPrefix, "owner"),
		custody:    crypto.AddressFromSeed(crypto.AccountPrefix, "custody"),
		tester:     crypto.AddressFromSeed(crypto.AccountPrefix, "tester"),
		liquidator: crypto.AddressFromSeed(crypto.AccountPrefix, "liquidator"),
		token0:     crypto.AddressFromSeed(crypto.AssetPrefix, "token0"),
		token1:     crypto.AddressFromSeed(crypto.AssetPrefix, "token1"),
	}
	f.mgr = state.NewManager(f.db)
	f.bank = bank.NewLedger(f.mgr, f.owner)
	f.feed = oracle.NewFeed(f.mgr, f.owner)
	auction, err := NewAuction(f.mgr, DefaultAuctionConfig())
	if err != nil {
		t.Fatalf("new auction: %v", err)
	}
	f.auction = auction

	f.engine = NewEngine(f.owner, f.custody)
	f.engine.SetState(f.mgr)
	f.engine.SetTransfers(f.bank)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetClock(func() time.Time { return f.now })
	if err := f.engine.SetPriceOracle(f.owner, f.feed); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	if err := f.engine.SetLiquidationModule(f.owner, f.auction); err != nil {
		t.Fatalf("set liquidation module: %v", err)
	}
	if err := f.engine.SetAssetFactor(f.owner, f.token0, 11_000, 9_000); err != nil {
		t.Fatalf("set token0 factor: %v", err)
	}
	if err := f.engine.SetAssetFactor(f.owner, f.token1, 10_500, 9_500); err != nil {
		t.Fatalf("set token1 factor: %v", err)
	}

	for _, token := range []crypto.Address{f.token0, f.token1} {
		f.mint(token, f.tester, units(100))
		f.mint(token, f.liquidator, units(100))
		f.mint(token, f.custody, units(10_000))
		f.approve(token, f.tester, units(1_000))
		f.approve(token, f.liquidator, units(1_000))
	}
	f.setPrice(f.token0, units(1))
	f.setPrice(f.token1, units(2))
	f.emitter.events = nil
	return f
}

func (f *fixture) mint(asset, to crypto.Address, amount *big.Int) {
	f.t.Helper()
	if err := f.bank.Mint(f.owner, asset, to, amount); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) approve(asset, owner crypto.Address, amount *big.Int) {
	f.t.Helper()
	if err := f.bank.Approve(asset, owner, f.custody, amount); err != nil {
		f.t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) setPrice(asset crypto.Address, price *big.Int) {
	f.t.Helper()
	if err := f.feed.SetPrice(f.owner, asset, price); err != nil {
		f.t.Fatalf("set price: %v", err)
	}
}

func (f *fixture) balance(asset, account crypto.Address) *big.Int {
	f.t.Helper()
	bal, err := f.bank.BalanceOf(asset, account)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) position() *Position {
	f.t.Helper()
	pos, err := f.engine.Position(f.tester, f.token1, f.token0)
	if err != nil {
		f.t.Fatalf("position: %v", err)
	}
	return pos
}

func (f *fixture) deposit(amount *big.Int) {
	f.t.Helper()
	if _, err := f.engine.Deposit(f.tester, f.token1, f.token0, amount); err != nil {
		f.t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) borrow(amount *big.Int) {
	f.t.Helper()
	if _, err := f.engine.Borrow(f.tester, f.token1, f.token0, amount); err != nil {
		f.t.Fatalf("borrow: %v", err)
	}
}

func requireAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s: expected %s, got %v", label, want, got)
	}
}

func TestDepositThenWithdraw(t *testing.T) {
	f := newFixture(t)

	f.deposit(units(2))
	requireAmount(t, "collateral after deposit", f.position().Collateral, units(2))
	requireAmount(t, "tester token1", f.balance(f.token1, f.tester), units(98))

	if _, err := f.engine.Withdraw(f.tester, f.token1, f.token0, units(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, "collateral after withdraw", f.position().Collateral, units(1))
	requireAmount(t, "tester token1", f.balance(f.token1, f.tester), units(99))

	if _, err := f.engine.Withdraw(f.tester, f.token1, f.token0, units(1)); err != nil {
		t.Fatalf("withdraw rest: %v", err)
	}
	if !f.position().IsEmpty() {
		t.Fatalf("expected empty position")
	}
	requireAmount(t, "tester token1 restored", f.balance(f.token1, f.tester), units(100))
}

func TestBorrowRepayLifecycle(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	if _, err := f.engine.Withdraw(f.tester, f.token1, f.token0, units(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	f.borrow(units(1))
	requireAmount(t, "debt", f.position().Debt, units(1))
	requireAmount(t, "tester token0", f.balance(f.token0, f.tester), units(101))

	hf, err := f.engine.HealthFactor(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	// (1 × 2 × 0.95) / (1 × 1 × 1.10)
	requireAmount(t, "health factor", hf, big.NewInt(1_727_272_727_272_727_272))

	half := milliUnits(500)
	for i := 0; i < 2; i++ {
		if _, err := f.engine.Repay(f.tester, f.token1, f.token0, half); err != nil {
			t.Fatalf("repay %d: %v", i, err)
		}
	}
	requireAmount(t, "debt after repay", f.position().Debt, big.NewInt(0))
	requireAmount(t, "tester token0", f.balance(f.token0, f.tester), units(100))

	hf, err = f.engine.HealthFactor(f.tester, f.token1, f.token0)
	if err != nil || hf != nil {
		t.Fatalf("expected nil health factor for debt-free position, got %v err=%v", hf, err)
	}
}

func TestRepayClampsAndRejectsZeroDebt(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))

	if _, err := f.engine.Repay(f.tester, f.token1, f.token0, units(5)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	requireAmount(t, "debt", f.position().Debt, big.NewInt(0))
	requireAmount(t, "only the debt is pulled", f.balance(f.token0, f.tester), units(100))

	if _, err := f.engine.Repay(f.tester, f.token1, f.token0, units(1)); !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected ErrRepayExceedsDebt, got %v", err)
	}
}

func TestBorrowRejectsUnhealthyResult(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(1))

	// max debt is 2 × 0.95 / 1.10 ≈ 1.727 units
	if _, err := f.engine.Borrow(f.tester, f.token1, f.token0, units(2)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	requireAmount(t, "debt unchanged", f.position().Debt, big.NewInt(0))
	requireAmount(t, "custody unchanged", f.balance(f.token0, f.custody), units(10_000))
	requireAmount(t, "tester unchanged", f.balance(f.token0, f.tester), units(100))
}

func TestWithdrawRejectsUnhealthyResult(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))

	if _, err := f.engine.Withdraw(f.tester, f.token1, f.token0, units(2)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if _, err := f.engine.Withdraw(f.tester, f.token1, f.token0, units(3)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral for over-withdrawal, got %v", err)
	}
	requireAmount(t, "collateral unchanged", f.position().Collateral, units(2))

	if _, err := f.engine.Withdraw(f.tester, f.token1, f.token0, units(1)); err != nil {
		t.Fatalf("withdraw within limit: %v", err)
	}
}

func TestBorrowRequiresLiquidity(t *testing.T) {
	f := newFixture(t)
	empty := crypto.AddressFromSeed(crypto.AssetPrefix, "token2")
	if err := f.engine.SetAssetFactor(f.owner, empty, 10_000, 10_000); err != nil {
		t.Fatalf("set factor: %v", err)
	}
	f.setPrice(empty, units(1))
	if _, err := f.engine.Deposit(f.tester, f.token1, empty, units(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Borrow(f.tester, f.token1, empty, units(1)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	pos, err := f.engine.Position(f.tester, f.token1, empty)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	requireAmount(t, "debt unchanged", pos.Debt, big.NewInt(0))
}

func TestBorrowRequiresConfiguredAssets(t *testing.T) {
	f := newFixture(t)
	unknown := crypto.AddressFromSeed(crypto.AssetPrefix, "unknown")
	f.mint(unknown, f.custody, units(10))
	if _, err := f.engine.Deposit(f.tester, f.token1, unknown, units(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Borrow(f.tester, f.token1, unknown, units(1)); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("expected ErrAssetNotConfigured for missing factor, got %v", err)
	}
	if err := f.engine.SetAssetFactor(f.owner, unknown, 10_000, 10_000); err != nil {
		t.Fatalf("set factor: %v", err)
	}
	if _, err := f.engine.Borrow(f.tester, f.token1, unknown, units(1)); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("expected ErrAssetNotConfigured for missing price, got %v", err)
	}
	if _, err := f.engine.Borrow(f.tester, f.token1, unknown, units(1)); !errors.Is(err, oracle.ErrPriceNotSet) {
		t.Fatalf("expected oracle error to stay inspectable, got %v", err)
	}
}

func TestDepositPropagatesTransferFailures(t *testing.T) {
	f := newFixture(t)
	stranger := crypto.AddressFromSeed(crypto.AccountPrefix, "stranger")

	if _, err := f.engine.Deposit(stranger, f.token1, f.token0, units(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	f.mint(f.token1, stranger, units(5))
	if _, err := f.engine.Deposit(stranger, f.token1, f.token0, units(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if _, err := f.engine.Deposit(stranger, f.token1, f.token1, units(1)); !errors.Is(err, ErrSameAsset) {
		t.Fatalf("expected ErrSameAsset, got %v", err)
	}
	if _, err := f.engine.Deposit(stranger, f.token1, f.token0, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if positions, err := f.engine.PositionsOf(stranger); err != nil || len(positions) != 0 {
		t.Fatalf("expected no positions, got %d err=%v", len(positions), err)
	}
}

func TestLiquidateAfterAuctionDuration(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(1))
	f.borrow(units(1))

	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); !errors.Is(err, ErrPositionHealthy) {
		t.Fatalf("expected ErrPositionHealthy, got %v", err)
	}

	f.setPrice(f.token0, units(3))
	record, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	if !record.Active || !record.Start.Equal(f.now) {
		t.Fatalf("unexpected auction record %+v", record)
	}

	f.now = f.now.Add(2*time.Hour + time.Minute)
	result, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DiscountBps != 2_000 {
		t.Fatalf("expected max discount, got %d", result.DiscountBps)
	}
	requireAmount(t, "repaid", result.Repaid, units(1))
	// 1 × 3 × 1.20 / 2 = 1.8 units, capped at the 1 unit of collateral
	requireAmount(t, "seized", result.Seized, units(1))
	if !result.Closed {
		t.Fatalf("expected position to close")
	}
	if !f.position().IsEmpty() {
		t.Fatalf("expected position reset, got %+v", f.position())
	}
	requireAmount(t, "liquidator token0", f.balance(f.token0, f.liquidator), units(99))
	requireAmount(t, "liquidator token1", f.balance(f.token1, f.liquidator), units(101))

	active, err := f.auction.IsLiquidating(f.engine.PositionKey(f.tester, f.token1, f.token0))
	if err != nil || active {
		t.Fatalf("expected auction closed, active=%v err=%v", active, err)
	}
}

func TestLiquidateImmediatelyUsesMinimumDiscount(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))
	f.setPrice(f.token0, units(4))

	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	result, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DiscountBps != 500 {
		t.Fatalf("expected min discount, got %d", result.DiscountBps)
	}
	// 1 × 4 × 1.05 / 2 = 2.1 units, capped at 2
	requireAmount(t, "seized", result.Seized, units(2))
	if !result.Closed || !f.position().IsEmpty() {
		t.Fatalf("expected full resolution, got %+v", result)
	}
}

func TestPartialLiquidationKeepsAuctionOpen(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(10))
	f.borrow(units(1))
	f.setPrice(f.token0, units(20))

	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	first, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, milliUnits(500))
	if err != nil {
		t.Fatalf("first liquidation: %v", err)
	}
	// 0.5 × 20 × 1.05 / 2
	requireAmount(t, "first seized", first.Seized, milliUnits(5_250))
	if first.Closed {
		t.Fatalf("expected auction to stay open")
	}
	requireAmount(t, "remaining debt", first.RemainingDebt, milliUnits(500))
	requireAmount(t, "remaining collateral", first.RemainingCollateral, milliUnits(4_750))

	f.now = f.now.Add(time.Hour)
	second, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, units(3))
	if err != nil {
		t.Fatalf("second liquidation: %v", err)
	}
	if second.DiscountBps != 1_250 {
		t.Fatalf("expected mid-curve discount, got %d", second.DiscountBps)
	}
	requireAmount(t, "second repaid clamps to debt", second.Repaid, milliUnits(500))
	requireAmount(t, "second seized capped", second.Seized, milliUnits(4_750))
	if !second.Closed {
		t.Fatalf("expected close")
	}
}

func TestLiquidationRefundsSurplusCollateral(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(12))
	f.borrow(units(1))
	f.setPrice(f.token0, units(21))

	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	result, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// 21 × 1.05 / 2 = 11.025 units seized, 0.975 returned to the owner
	requireAmount(t, "seized", result.Seized, milliUnits(11_025))
	requireAmount(t, "refunded", result.Refunded, milliUnits(975))
	requireAmount(t, "owner token1", f.balance(f.token1, f.tester), new(big.Int).Add(units(88), milliUnits(975)))
	if !f.position().IsEmpty() {
		t.Fatalf("expected empty position")
	}
}

func TestLiquidateRequiresActiveAuction(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))

	if _, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil); !errors.Is(err, ErrNoActiveAuction) {
		t.Fatalf("expected ErrNoActiveAuction, got %v", err)
	}
	f.setPrice(f.token0, units(4))
	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	if _, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token1, nil); !errors.Is(err, ErrUnsupportedRepayAsset) {
		t.Fatalf("expected ErrUnsupportedRepayAsset, got %v", err)
	}
}

func TestLiquidateRejectsRecoveredPosition(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))
	f.setPrice(f.token0, units(4))
	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}

	// collateral 2 × 2 × 0.95 = 3.8 against debt 1 × 1 × 1.10 = 1.1
	f.setPrice(f.token0, units(1))
	f.now = f.now.Add(3 * time.Hour)
	f.emitter.events = nil
	if _, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil); !errors.Is(err, ErrPositionHealthy) {
		t.Fatalf("expected ErrPositionHealthy, got %v", err)
	}
	pos := f.position()
	requireAmount(t, "collateral", pos.Collateral, units(2))
	requireAmount(t, "debt", pos.Debt, units(1))
	requireAmount(t, "liquidator token0", f.balance(f.token0, f.liquidator), units(100))
	requireAmount(t, "liquidator token1", f.balance(f.token1, f.liquidator), units(100))
	if len(f.emitter.events) != 0 {
		t.Fatalf("expected no settlement events, got %d", len(f.emitter.events))
	}

	key := f.engine.PositionKey(f.tester, f.token1, f.token0)
	active, err := f.auction.IsLiquidating(key)
	if err != nil || active {
		t.Fatalf("expected auction closed, active=%v err=%v", active, err)
	}
	if _, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil); !errors.Is(err, ErrNoActiveAuction) {
		t.Fatalf("expected ErrNoActiveAuction, got %v", err)
	}

	// A later price drop starts a fresh auction at the minimum discount.
	f.setPrice(f.token0, units(4))
	record, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("liquidate ready again: %v", err)
	}
	if !record.Start.Equal(f.now) {
		t.Fatalf("expected a fresh start, got %s", record.Start)
	}
}

func TestSnapshotCombinesPositionHealthAndAuction(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	snap, err := f.engine.Snapshot(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.HealthFactor != nil || snap.Auction.Record.Active {
		t.Fatalf("unexpected debt-free snapshot %+v", snap)
	}
	requireAmount(t, "collateral", snap.Position.Collateral, units(2))

	f.borrow(units(1))
	f.setPrice(f.token0, units(4))
	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	f.now = f.now.Add(30 * time.Minute)
	snap, err = f.engine.Snapshot(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	hf, err := f.engine.HealthFactor(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	requireAmount(t, "health factor", snap.HealthFactor, hf)
	if snap.Position.Key != snap.Auction.Key {
		t.Fatalf("snapshot keys disagree")
	}
	if !snap.Auction.Record.Active || snap.Auction.DiscountBps != 500+375 {
		t.Fatalf("unexpected auction status %+v", snap.Auction)
	}
}

func TestLiquidateReadyKeepsOriginalStart(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))
	f.setPrice(f.token0, units(4))

	first, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	f.now = f.now.Add(30 * time.Minute)
	second, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if !second.Start.Equal(first.Start) {
		t.Fatalf("expected start to be preserved, got %s vs %s", second.Start, first.Start)
	}
	opened := 0
	for _, evt := range f.emitter.events {
		if evt.EventType() == events.TypeLendingAuctionOpened {
			opened++
		}
	}
	if opened != 1 {
		t.Fatalf("expected a single auction opened event, got %d", opened)
	}

	status, err := f.engine.AuctionStatus(f.engine.PositionKey(f.tester, f.token1, f.token0))
	if err != nil {
		t.Fatalf("auction status: %v", err)
	}
	if status.DiscountBps != 500+375 || status.Elapsed != 30*time.Minute {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRepayClosesOpenAuction(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))
	f.setPrice(f.token0, units(4))
	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	if _, err := f.engine.Repay(f.tester, f.token1, f.token0, units(1)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := f.engine.Liquidate(f.tester, f.token1, f.token0, f.liquidator, f.token0, nil); !errors.Is(err, ErrNoActiveAuction) {
		t.Fatalf("expected ErrNoActiveAuction after repayment, got %v", err)
	}
}

func TestFailedOperationLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))
	f.setPrice(f.token0, units(4))
	if _, err := f.engine.LiquidateReady(f.tester, f.token1, f.token0); err != nil {
		t.Fatalf("liquidate ready: %v", err)
	}
	broke := crypto.AddressFromSeed(crypto.AccountPrefix, "broke")
	f.approve(f.token0, broke, units(10))
	before := f.db.Len()
	snapshot := f.position()
	f.emitter.events = nil

	if _, err := f.engine.Liquidate(f.tester, f.token1, f.token0, broke, f.token0, nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	after := f.position()
	requireAmount(t, "collateral", after.Collateral, snapshot.Collateral)
	requireAmount(t, "debt", after.Debt, snapshot.Debt)
	if f.db.Len() != before {
		t.Fatalf("expected no new keys, before=%d after=%d", before, f.db.Len())
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("expected no events for failed operation")
	}
}

func TestAdministrativeCallsAreOwnerGated(t *testing.T) {
	f := newFixture(t)
	mallory := crypto.AddressFromSeed(crypto.AccountPrefix, "mallory")

	if err := f.engine.SetAssetFactor(mallory, f.token0, 10_000, 10_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetAssetFactor(f.owner, f.token0, 0, 10_000); !errors.Is(err, ErrInvalidRiskFactor) {
		t.Fatalf("expected ErrInvalidRiskFactor, got %v", err)
	}
	if err := f.engine.SetPriceOracle(mallory, f.feed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetLiquidationModule(mallory, f.auction); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	risk, err := f.engine.GetFactor(f.token0)
	if err != nil {
		t.Fatalf("get factor: %v", err)
	}
	if risk.DebtWeightBps != 11_000 || risk.CollateralFactorBps != 9_000 {
		t.Fatalf("unexpected risk %+v", risk)
	}
	if _, err := f.engine.GetFactor(crypto.AddressFromSeed(crypto.AssetPrefix, "nope")); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("expected ErrAssetNotConfigured, got %v", err)
	}

	if err := f.engine.SetOwner(f.owner, mallory); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	owner, err := f.engine.Owner()
	if err != nil || !owner.Equal(mallory) {
		t.Fatalf("expected ownership transfer, got %s err=%v", owner, err)
	}
	if err := f.engine.SetAssetFactor(f.owner, f.token0, 10_000, 10_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected previous owner to lose access, got %v", err)
	}
	if err := f.engine.SetOwner(mallory, crypto.Address{}); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}
}

func TestPositionsOfListsTouchedPositions(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(1))
	if _, err := f.engine.Deposit(f.tester, f.token0, f.token1, units(1)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	positions, err := f.engine.PositionsOf(f.tester)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 isolated positions, got %d", len(positions))
	}
	if positions[0].Key == positions[1].Key {
		t.Fatalf("expected distinct keys")
	}
	byKey, err := f.engine.PositionByKey(positions[1].Key)
	if err != nil {
		t.Fatalf("position by key: %v", err)
	}
	if !byKey.CollateralAsset.Equal(f.token0) {
		t.Fatalf("unexpected collateral asset %s", byKey.CollateralAsset)
	}
	if _, err := f.engine.PositionByKey(PositionKey{}); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestEventsEmittedAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.deposit(units(2))
	f.borrow(units(1))
	if len(f.emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.emitter.events))
	}
	evt, ok := f.emitter.events[1].(events.LendingPositionUpdated)
	if !ok {
		t.Fatalf("unexpected event type %T", f.emitter.events[1])
	}
	if evt.Action != ActionBorrow || evt.Debt.Cmp(units(1)) != 0 {
		t.Fatalf("unexpected event %+v", evt)
	}
}
