package lending

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"isolend/core/events"
	"isolend/crypto"
	nativecommon "isolend/native/common"
)

const moduleName = "lending"

// Action identifiers usable as pause switches ("lending.<action>").
const (
	ActionDeposit   = "deposit"
	ActionWithdraw  = "withdraw"
	ActionBorrow    = "borrow"
	ActionRepay     = "repay"
	ActionLiquidate = "liquidate"
)

var (
	positionPrefix = []byte("lending/position/")
	ownerIndexKey  = []byte("lending/owner-positions/")
	riskPrefix     = []byte("lending/risk/")
	ownerKey       = []byte("lending/owner")
)

// engineState is satisfied by core/state.Manager. Every mutating operation
// runs inside Atomic so a failure leaves no partial effect behind.
type engineState interface {
	Atomic(fn func() error) error
	View(fn func() error) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// PriceOracle returns the 18-decimal price of an asset.
type PriceOracle interface {
	GetPrice(asset crypto.Address) (*big.Int, error)
}

// AssetTransfer moves fungible balances between accounts and the ledger
// custody account.
type AssetTransfer interface {
	BalanceOf(asset, account crypto.Address) (*big.Int, error)
	Allowance(asset, owner, spender crypto.Address) (*big.Int, error)
	Transfer(asset, from, to crypto.Address, amount *big.Int) error
	TransferFrom(asset, spender, owner, to crypto.Address, amount *big.Int) error
}

// LiquidationModule owns liquidation records and the discount curve.
type LiquidationModule interface {
	Request(key PositionKey, now time.Time) (AuctionRecord, bool, error)
	Record(key PositionKey) (AuctionRecord, error)
	IsLiquidating(key PositionKey) (bool, error)
	CurrentDiscount(key PositionKey, now time.Time) (uint64, error)
	Close(key PositionKey) error
}

// Engine is the position ledger. It owns positions and asset risk records and
// delegates pricing, asset movement and auction bookkeeping to injected
// collaborators.
type Engine struct {
	mu        sync.RWMutex
	state     engineState
	owner     crypto.Address
	custody   crypto.Address
	prices    PriceOracle
	transfers AssetTransfer
	auction   LiquidationModule
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	clock     func() time.Time
}

// NewEngine constructs a ledger administered by owner whose assets are held by
// the custody account. owner is used until an ownership transfer is persisted.
func NewEngine(owner, custody crypto.Address) *Engine {
	return &Engine{
		owner:   owner,
		custody: custody,
		emitter: events.NoopEmitter{},
		clock:   time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetTransfers wires the asset transfer collaborator.
func (e *Engine) SetTransfers(transfers AssetTransfer) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transfers = transfers
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetEmitter configures where committed events are delivered.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitter = emitter
}

// SetClock overrides the time source used for auction timing.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// Custody returns the account holding deposited collateral and lendable
// reserves.
func (e *Engine) Custody() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.custody
}

// deps is the collaborator snapshot taken at the start of an operation.
type deps struct {
	prices    PriceOracle
	transfers AssetTransfer
	auction   LiquidationModule
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	now       time.Time
}

func (e *Engine) snapshot() deps {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return deps{
		prices:    e.prices,
		transfers: e.transfers,
		auction:   e.auction,
		pauses:    e.pauses,
		emitter:   e.emitter,
		now:       e.clock(),
	}
}

func (e *Engine) store() engineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// execute runs fn as one atomic transition. Events returned by fn are emitted
// only after the transition commits.
func (e *Engine) execute(action string, fn func(d deps) ([]events.Event, error)) error {
	if e == nil {
		return ErrNilState
	}
	state := e.store()
	if state == nil {
		return ErrNilState
	}
	var (
		emitted []events.Event
		emitter events.Emitter
	)
	err := state.Atomic(func() error {
		d := e.snapshot()
		if action != "" {
			if err := nativecommon.GuardAction(d.pauses, moduleName, action); err != nil {
				return err
			}
		}
		evts, err := fn(d)
		if err != nil {
			return err
		}
		emitted = evts
		emitter = d.emitter
		return nil
	})
	if err != nil {
		return err
	}
	if emitter != nil {
		for _, evt := range emitted {
			emitter.Emit(evt)
		}
	}
	return nil
}

func (e *Engine) view(fn func(d deps) error) error {
	if e == nil {
		return ErrNilState
	}
	state := e.store()
	if state == nil {
		return ErrNilState
	}
	return state.View(func() error {
		return fn(e.snapshot())
	})
}

// PositionKey derives the key of the (owner, collateral, debt) position.
func (e *Engine) PositionKey(owner, collateralAsset, debtAsset crypto.Address) PositionKey {
	return PositionKeyFor(owner, collateralAsset, debtAsset)
}

// Deposit pulls collateral from owner into custody and credits the position.
func (e *Engine) Deposit(owner, collateralAsset, debtAsset crypto.Address, amount *big.Int) (*Position, error) {
	var out *Position
	err := e.execute(ActionDeposit, func(d deps) ([]events.Event, error) {
		if err := validatePair(collateralAsset, debtAsset); err != nil {
			return nil, err
		}
		if err := requirePositive(amount); err != nil {
			return nil, err
		}
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return nil, err
		}
		if err := e.pull(d, collateralAsset, owner, amount); err != nil {
			return nil, err
		}
		pos.Collateral.Add(pos.Collateral, amount)
		if err := e.storePosition(pos); err != nil {
			return nil, err
		}
		out = pos.Clone()
		return []events.Event{positionEvent(ActionDeposit, pos, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw returns collateral to owner provided the position stays healthy.
func (e *Engine) Withdraw(owner, collateralAsset, debtAsset crypto.Address, amount *big.Int) (*Position, error) {
	var out *Position
	err := e.execute(ActionWithdraw, func(d deps) ([]events.Event, error) {
		if err := validatePair(collateralAsset, debtAsset); err != nil {
			return nil, err
		}
		if err := requirePositive(amount); err != nil {
			return nil, err
		}
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return nil, err
		}
		if pos.Collateral.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: withdraw %s exceeds collateral %s", ErrInsufficientCollateral, amount, pos.Collateral)
		}
		pos.Collateral.Sub(pos.Collateral, amount)
		if pos.Debt.Sign() > 0 {
			if err := e.requireHealthy(d, pos); err != nil {
				return nil, err
			}
		}
		if err := e.push(d, collateralAsset, owner, amount); err != nil {
			return nil, err
		}
		if err := e.storePosition(pos); err != nil {
			return nil, err
		}
		out = pos.Clone()
		return []events.Event{positionEvent(ActionWithdraw, pos, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Borrow funds owner from custody reserves against the position's collateral.
func (e *Engine) Borrow(owner, collateralAsset, debtAsset crypto.Address, amount *big.Int) (*Position, error) {
	var out *Position
	err := e.execute(ActionBorrow, func(d deps) ([]events.Event, error) {
		if err := validatePair(collateralAsset, debtAsset); err != nil {
			return nil, err
		}
		if err := requirePositive(amount); err != nil {
			return nil, err
		}
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return nil, err
		}
		pos.Debt.Add(pos.Debt, amount)
		if err := e.requireHealthy(d, pos); err != nil {
			return nil, err
		}
		if err := e.push(d, debtAsset, owner, amount); err != nil {
			return nil, err
		}
		if err := e.storePosition(pos); err != nil {
			return nil, err
		}
		out = pos.Clone()
		return []events.Event{positionEvent(ActionBorrow, pos, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Repay pulls debt asset from owner and reduces the outstanding debt.
// Over-payments are clamped to the outstanding amount. Clearing the debt also
// closes any liquidation auction still open on the position.
func (e *Engine) Repay(owner, collateralAsset, debtAsset crypto.Address, amount *big.Int) (*Position, error) {
	var out *Position
	err := e.execute(ActionRepay, func(d deps) ([]events.Event, error) {
		if err := validatePair(collateralAsset, debtAsset); err != nil {
			return nil, err
		}
		if err := requirePositive(amount); err != nil {
			return nil, err
		}
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return nil, err
		}
		if pos.Debt.Sign() == 0 {
			return nil, ErrRepayExceedsDebt
		}
		repaid := minBig(amount, pos.Debt)
		if err := e.pull(d, debtAsset, owner, repaid); err != nil {
			return nil, err
		}
		pos.Debt.Sub(pos.Debt, repaid)
		if pos.Debt.Sign() == 0 && d.auction != nil {
			active, err := d.auction.IsLiquidating(pos.Key)
			if err != nil {
				return nil, err
			}
			if active {
				if err := d.auction.Close(pos.Key); err != nil {
					return nil, err
				}
			}
		}
		if err := e.storePosition(pos); err != nil {
			return nil, err
		}
		out = pos.Clone()
		return []events.Event{positionEvent(ActionRepay, pos, repaid)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LiquidateReady flags an unhealthy position for liquidation. Flagging an
// already active auction keeps its original start time.
func (e *Engine) LiquidateReady(owner, collateralAsset, debtAsset crypto.Address) (AuctionRecord, error) {
	var out AuctionRecord
	err := e.execute(ActionLiquidate, func(d deps) ([]events.Event, error) {
		if d.auction == nil {
			return nil, fmt.Errorf("%w: liquidation module", ErrCollaboratorMissing)
		}
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return nil, err
		}
		if pos.Debt.Sign() == 0 {
			return nil, fmt.Errorf("%w: position has no debt", ErrPositionHealthy)
		}
		collateralValue, debtValue, err := e.riskValues(d, pos)
		if err != nil {
			return nil, err
		}
		hf := healthFactor(collateralValue, debtValue)
		if isHealthy(collateralValue, debtValue) {
			return nil, fmt.Errorf("%w: health factor %s", ErrPositionHealthy, hf)
		}
		record, opened, err := d.auction.Request(pos.Key, d.now)
		if err != nil {
			return nil, err
		}
		out = record
		if !opened {
			return nil, nil
		}
		return []events.Event{events.LendingAuctionOpened{
			PositionKey:  pos.Key.Hex(),
			Owner:        pos.Owner.String(),
			Start:        record.Start,
			HealthFactor: hf,
		}}, nil
	})
	if err != nil {
		return AuctionRecord{}, err
	}
	return out, nil
}

// Liquidate settles debt of a position under active liquidation. The
// liquidator repays repayAmount of the debt asset (nil or zero repays the
// whole debt, larger amounts are clamped) and receives collateral at the
// auction's current discount, capped at the position's collateral. When the
// debt is cleared the auction closes and leftover collateral returns to the
// owner. A position that has recovered to a health factor of at least one
// since it was flagged cannot be settled: its auction is closed and
// ErrPositionHealthy is returned.
func (e *Engine) Liquidate(owner, collateralAsset, debtAsset, liquidator, repayAsset crypto.Address, repayAmount *big.Int) (*LiquidationResult, error) {
	var (
		out       *LiquidationResult
		recovered *big.Int
	)
	err := e.execute(ActionLiquidate, func(d deps) ([]events.Event, error) {
		if d.auction == nil {
			return nil, fmt.Errorf("%w: liquidation module", ErrCollaboratorMissing)
		}
		if !repayAsset.Equal(debtAsset) {
			return nil, ErrUnsupportedRepayAsset
		}
		if repayAmount != nil && repayAmount.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
		key := PositionKeyFor(owner, collateralAsset, debtAsset)
		active, err := d.auction.IsLiquidating(key)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, ErrNoActiveAuction
		}
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return nil, err
		}
		if pos.Debt.Sign() == 0 {
			return nil, ErrRepayExceedsDebt
		}
		collateralValue, debtValue, err := e.riskValues(d, pos)
		if err != nil {
			return nil, err
		}
		if isHealthy(collateralValue, debtValue) {
			if err := d.auction.Close(key); err != nil {
				return nil, err
			}
			recovered = healthFactor(collateralValue, debtValue)
			return nil, nil
		}
		repaid := new(big.Int).Set(pos.Debt)
		if repayAmount != nil && repayAmount.Sign() > 0 {
			repaid = minBig(repayAmount, pos.Debt)
		}
		discount, err := d.auction.CurrentDiscount(key, d.now)
		if err != nil {
			return nil, err
		}
		debtPrice, err := e.price(d, debtAsset)
		if err != nil {
			return nil, err
		}
		collateralPrice, err := e.price(d, collateralAsset)
		if err != nil {
			return nil, err
		}
		seized := minBig(liquidationPayout(repaid, debtPrice, collateralPrice, discount), pos.Collateral)

		if err := e.pull(d, debtAsset, liquidator, repaid); err != nil {
			return nil, err
		}
		if seized.Sign() > 0 {
			if err := e.push(d, collateralAsset, liquidator, seized); err != nil {
				return nil, err
			}
		}
		pos.Debt.Sub(pos.Debt, repaid)
		pos.Collateral.Sub(pos.Collateral, seized)

		refunded := big.NewInt(0)
		closed := pos.Debt.Sign() == 0
		if closed {
			if pos.Collateral.Sign() > 0 {
				refunded.Set(pos.Collateral)
				if err := e.push(d, collateralAsset, owner, refunded); err != nil {
					return nil, err
				}
				pos.Collateral.SetInt64(0)
			}
			if err := d.auction.Close(key); err != nil {
				return nil, err
			}
		}
		if err := e.storePosition(pos); err != nil {
			return nil, err
		}
		out = &LiquidationResult{
			Key:                 key,
			Liquidator:          liquidator,
			Repaid:              repaid,
			Seized:              seized,
			Refunded:            refunded,
			DiscountBps:         discount,
			RemainingDebt:       new(big.Int).Set(pos.Debt),
			RemainingCollateral: new(big.Int).Set(pos.Collateral),
			Closed:              closed,
		}
		return []events.Event{events.LendingLiquidated{
			PositionKey:         key.Hex(),
			Owner:               owner.String(),
			Liquidator:          liquidator.String(),
			Repaid:              repaid,
			Seized:              seized,
			Refunded:            refunded,
			DiscountBps:         discount,
			RemainingDebt:       out.RemainingDebt,
			RemainingCollateral: out.RemainingCollateral,
			Closed:              closed,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	if recovered != nil {
		return nil, fmt.Errorf("%w: health factor %s, auction closed", ErrPositionHealthy, recovered)
	}
	return out, nil
}

// Position returns the current state of a position. Unknown positions are
// reported with zero amounts.
func (e *Engine) Position(owner, collateralAsset, debtAsset crypto.Address) (*Position, error) {
	var out *Position
	err := e.view(func(deps) error {
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return err
		}
		out = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PositionByKey returns a previously touched position by key.
func (e *Engine) PositionByKey(key PositionKey) (*Position, error) {
	var out *Position
	err := e.view(func(deps) error {
		pos, ok, err := e.loadPositionByKey(key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPositionNotFound
		}
		out = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PositionsOf lists every position the owner has touched, in creation order.
func (e *Engine) PositionsOf(owner crypto.Address) ([]*Position, error) {
	var out []*Position
	err := e.view(func(deps) error {
		var keys [][]byte
		if err := e.store().KVGetList(ownerIndex(owner), &keys); err != nil {
			return err
		}
		out = make([]*Position, 0, len(keys))
		for _, raw := range keys {
			var key PositionKey
			copy(key[:], raw)
			pos, ok, err := e.loadPositionByKey(key)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, pos)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HealthFactor reports the 18-decimal health factor of a position. A nil
// result means the position carries no debt and cannot be liquidated.
func (e *Engine) HealthFactor(owner, collateralAsset, debtAsset crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(d deps) error {
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return err
		}
		out, err = e.healthOf(d, pos)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AuctionStatus reports the liquidation record of a position and the
// discount a settlement would receive right now.
func (e *Engine) AuctionStatus(key PositionKey) (AuctionStatus, error) {
	var out AuctionStatus
	err := e.view(func(d deps) error {
		var err error
		out, err = e.auctionStatus(d, key)
		return err
	})
	if err != nil {
		return AuctionStatus{}, err
	}
	return out, nil
}

// Snapshot reads a position, its health factor and its auction status under
// a single read lock so the three agree with each other.
func (e *Engine) Snapshot(owner, collateralAsset, debtAsset crypto.Address) (*PositionSnapshot, error) {
	var out *PositionSnapshot
	err := e.view(func(d deps) error {
		pos, err := e.loadPosition(owner, collateralAsset, debtAsset)
		if err != nil {
			return err
		}
		hf, err := e.healthOf(d, pos)
		if err != nil {
			return err
		}
		status, err := e.auctionStatus(d, pos.Key)
		if err != nil {
			return err
		}
		out = &PositionSnapshot{Position: pos, HealthFactor: hf, Auction: status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) healthOf(d deps, pos *Position) (*big.Int, error) {
	if pos.Debt.Sign() == 0 {
		return nil, nil
	}
	collateralValue, debtValue, err := e.riskValues(d, pos)
	if err != nil {
		return nil, err
	}
	return healthFactor(collateralValue, debtValue), nil
}

func (e *Engine) auctionStatus(d deps, key PositionKey) (AuctionStatus, error) {
	if d.auction == nil {
		return AuctionStatus{}, fmt.Errorf("%w: liquidation module", ErrCollaboratorMissing)
	}
	record, err := d.auction.Record(key)
	if err != nil {
		return AuctionStatus{}, err
	}
	out := AuctionStatus{Key: key, Record: record}
	if !record.Active {
		return out, nil
	}
	discount, err := d.auction.CurrentDiscount(key, d.now)
	if err != nil {
		return AuctionStatus{}, err
	}
	out.DiscountBps = discount
	out.Elapsed = d.now.Sub(record.Start)
	return out, nil
}

func validatePair(collateralAsset, debtAsset crypto.Address) error {
	if collateralAsset.Equal(debtAsset) {
		return ErrSameAsset
	}
	return nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func positionStorageKey(key PositionKey) []byte {
	return append(append([]byte(nil), positionPrefix...), key[:]...)
}

func ownerIndex(owner crypto.Address) []byte {
	return append(append([]byte(nil), ownerIndexKey...), owner.Bytes()...)
}

func (e *Engine) loadPosition(owner, collateralAsset, debtAsset crypto.Address) (*Position, error) {
	key := PositionKeyFor(owner, collateralAsset, debtAsset)
	pos, ok, err := e.loadPositionByKey(key)
	if err != nil {
		return nil, err
	}
	if ok {
		return pos, nil
	}
	return &Position{
		Key:             key,
		Owner:           crypto.NewAddress(crypto.AccountPrefix, padAddress(owner)),
		CollateralAsset: crypto.NewAddress(crypto.AssetPrefix, padAddress(collateralAsset)),
		DebtAsset:       crypto.NewAddress(crypto.AssetPrefix, padAddress(debtAsset)),
		Collateral:      big.NewInt(0),
		Debt:            big.NewInt(0),
	}, nil
}

func (e *Engine) loadPositionByKey(key PositionKey) (*Position, bool, error) {
	var stored storedPosition
	ok, err := e.store().KVGet(positionStorageKey(key), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Position{
		Key:             key,
		Owner:           crypto.NewAddress(crypto.AccountPrefix, stored.Owner),
		CollateralAsset: crypto.NewAddress(crypto.AssetPrefix, stored.CollateralAsset),
		DebtAsset:       crypto.NewAddress(crypto.AssetPrefix, stored.DebtAsset),
		Collateral:      copyOrZero(stored.Collateral),
		Debt:            copyOrZero(stored.Debt),
	}, true, nil
}

func (e *Engine) storePosition(pos *Position) error {
	state := e.store()
	record := storedPosition{
		Owner:           pos.Owner.Bytes(),
		CollateralAsset: pos.CollateralAsset.Bytes(),
		DebtAsset:       pos.DebtAsset.Bytes(),
		Collateral:      copyOrZero(pos.Collateral),
		Debt:            copyOrZero(pos.Debt),
	}
	if err := state.KVPut(positionStorageKey(pos.Key), record); err != nil {
		return err
	}
	return state.KVAppend(ownerIndex(pos.Owner), pos.Key.Bytes())
}

func (e *Engine) price(d deps, asset crypto.Address) (*big.Int, error) {
	if d.prices == nil {
		return nil, fmt.Errorf("%w: price oracle", ErrCollaboratorMissing)
	}
	price, err := d.prices.GetPrice(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: price for %s: %w", ErrAssetNotConfigured, asset, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price for %s", ErrAssetNotConfigured, asset)
	}
	return price, nil
}

// riskValues returns the risk-adjusted collateral and debt values of the
// position. Both assets must carry a risk record and a price.
func (e *Engine) riskValues(d deps, pos *Position) (*big.Int, *big.Int, error) {
	collateralRisk, err := e.loadFactor(pos.CollateralAsset)
	if err != nil {
		return nil, nil, err
	}
	debtRisk, err := e.loadFactor(pos.DebtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := e.price(d, pos.CollateralAsset)
	if err != nil {
		return nil, nil, err
	}
	debtPrice, err := e.price(d, pos.DebtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralValue := riskValue(pos.Collateral, collateralPrice, collateralRisk.CollateralFactorBps)
	debtValue := riskValue(pos.Debt, debtPrice, debtRisk.DebtWeightBps)
	return collateralValue, debtValue, nil
}

func (e *Engine) requireHealthy(d deps, pos *Position) error {
	collateralValue, debtValue, err := e.riskValues(d, pos)
	if err != nil {
		return err
	}
	if !isHealthy(collateralValue, debtValue) {
		return fmt.Errorf("%w: resulting health factor %s", ErrInsufficientCollateral, healthFactor(collateralValue, debtValue))
	}
	return nil
}

// pull moves amount of asset from account into custody using the allowance
// account granted to the custody account.
func (e *Engine) pull(d deps, asset, from crypto.Address, amount *big.Int) error {
	if d.transfers == nil {
		return fmt.Errorf("%w: asset transfer", ErrCollaboratorMissing)
	}
	balance, err := d.transfers.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	allowance, err := d.transfers.Allowance(asset, from, e.custody)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	return d.transfers.TransferFrom(asset, e.custody, from, e.custody, amount)
}

// push moves amount of asset out of custody.
func (e *Engine) push(d deps, asset, to crypto.Address, amount *big.Int) error {
	if d.transfers == nil {
		return fmt.Errorf("%w: asset transfer", ErrCollaboratorMissing)
	}
	reserve, err := d.transfers.BalanceOf(asset, e.custody)
	if err != nil {
		return err
	}
	if reserve.Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody holds %s, need %s", ErrInsufficientLiquidity, reserve, amount)
	}
	return d.transfers.Transfer(asset, e.custody, to, amount)
}

func positionEvent(action string, pos *Position, amount *big.Int) events.Event {
	return events.LendingPositionUpdated{
		Action:          action,
		PositionKey:     pos.Key.Hex(),
		Owner:           pos.Owner.String(),
		CollateralAsset: pos.CollateralAsset.String(),
		DebtAsset:       pos.DebtAsset.String(),
		Amount:          new(big.Int).Set(amount),
		Collateral:      new(big.Int).Set(pos.Collateral),
		Debt:            new(big.Int).Set(pos.Debt),
	}
}
