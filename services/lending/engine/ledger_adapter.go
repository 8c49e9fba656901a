package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"isolend/core/state"
	"isolend/crypto"
	"isolend/native/bank"
	nativecommon "isolend/native/common"
	"isolend/native/lending"
	"isolend/native/oracle"
	"isolend/observability"
)

type ledgerAdapter struct {
	state   *state.Manager
	ledger  *lending.Engine
	bank    *bank.Ledger
	feed    *oracle.Feed
	metrics *observability.LendingMetrics
}

// NewLedgerAdapter exposes the position ledger together with the asset bank
// and price feed sharing its state manager.
func NewLedgerAdapter(st *state.Manager, ledger *lending.Engine, balances *bank.Ledger, feed *oracle.Feed) Engine {
	return &ledgerAdapter{
		state:   st,
		ledger:  ledger,
		bank:    balances,
		feed:    feed,
		metrics: observability.Lending(),
	}
}

type positionOp func(owner, collateral, debt crypto.Address, amount *big.Int) (*lending.Position, error)

func (a *ledgerAdapter) Deposit(ctx context.Context, ref PositionRef, amount string) (Position, error) {
	return a.mutate(ctx, lending.ActionDeposit, ref, amount, a.ledger.Deposit)
}

func (a *ledgerAdapter) Withdraw(ctx context.Context, ref PositionRef, amount string) (Position, error) {
	return a.mutate(ctx, lending.ActionWithdraw, ref, amount, a.ledger.Withdraw)
}

func (a *ledgerAdapter) Borrow(ctx context.Context, ref PositionRef, amount string) (Position, error) {
	return a.mutate(ctx, lending.ActionBorrow, ref, amount, a.ledger.Borrow)
}

func (a *ledgerAdapter) Repay(ctx context.Context, ref PositionRef, amount string) (Position, error) {
	return a.mutate(ctx, lending.ActionRepay, ref, amount, a.ledger.Repay)
}

func (a *ledgerAdapter) mutate(ctx context.Context, action string, ref PositionRef, amount string, op positionOp) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	owner, collateral, debt, err := parseRef(ref)
	if err != nil {
		return Position{}, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return Position{}, err
	}
	start := time.Now()
	_, err = op(owner, collateral, debt, value)
	a.metrics.Observe(action, time.Since(start), err)
	if err != nil {
		return Position{}, translateLedgerError(err)
	}
	return a.render(owner, collateral, debt)
}

func (a *ledgerAdapter) LiquidateReady(ctx context.Context, ref PositionRef) (Auction, error) {
	if err := ctx.Err(); err != nil {
		return Auction{}, err
	}
	owner, collateral, debt, err := parseRef(ref)
	if err != nil {
		return Auction{}, err
	}
	start := time.Now()
	_, err = a.ledger.LiquidateReady(owner, collateral, debt)
	a.metrics.Observe("liquidate_ready", time.Since(start), err)
	if err != nil {
		return Auction{}, translateLedgerError(err)
	}
	return a.auction(lending.PositionKeyFor(owner, collateral, debt))
}

func (a *ledgerAdapter) Liquidate(ctx context.Context, ref PositionRef, liquidator, repayAsset, amount string) (Liquidation, error) {
	if err := ctx.Err(); err != nil {
		return Liquidation{}, err
	}
	owner, collateral, debt, err := parseRef(ref)
	if err != nil {
		return Liquidation{}, err
	}
	liquidatorAddr, err := parseAccount("liquidator", liquidator)
	if err != nil {
		return Liquidation{}, err
	}
	repayAssetAddr := debt
	if repayAsset != "" {
		if repayAssetAddr, err = parseAsset("repay asset", repayAsset); err != nil {
			return Liquidation{}, err
		}
	}
	value, err := parseOptionalAmount(amount)
	if err != nil {
		return Liquidation{}, err
	}
	start := time.Now()
	result, err := a.ledger.Liquidate(owner, collateral, debt, liquidatorAddr, repayAssetAddr, value)
	a.metrics.Observe(lending.ActionLiquidate, time.Since(start), err)
	if err != nil {
		return Liquidation{}, translateLedgerError(err)
	}
	a.metrics.RecordLiquidation(ref.CollateralAsset, result.Seized, result.DiscountBps, result.Closed)
	return Liquidation{
		Key:                 result.Key.Hex(),
		Liquidator:          result.Liquidator.String(),
		Repaid:              FormatAmount(result.Repaid),
		Seized:              FormatAmount(result.Seized),
		Refunded:            FormatAmount(result.Refunded),
		DiscountBps:         result.DiscountBps,
		RemainingDebt:       FormatAmount(result.RemainingDebt),
		RemainingCollateral: FormatAmount(result.RemainingCollateral),
		Closed:              result.Closed,
	}, nil
}

func (a *ledgerAdapter) GetPosition(ctx context.Context, ref PositionRef) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	owner, collateral, debt, err := parseRef(ref)
	if err != nil {
		return Position{}, err
	}
	return a.render(owner, collateral, debt)
}

func (a *ledgerAdapter) ListPositions(ctx context.Context, owner string) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ownerAddr, err := parseAccount("owner", owner)
	if err != nil {
		return nil, err
	}
	positions, err := a.ledger.PositionsOf(ownerAddr)
	if err != nil {
		return nil, translateLedgerError(err)
	}
	out := make([]Position, 0, len(positions))
	for _, pos := range positions {
		rendered, err := a.render(pos.Owner, pos.CollateralAsset, pos.DebtAsset)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}

func (a *ledgerAdapter) PositionKey(ctx context.Context, ref PositionRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	owner, collateral, debt, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	return lending.PositionKeyFor(owner, collateral, debt).Hex(), nil
}

func (a *ledgerAdapter) GetAuction(ctx context.Context, key string) (Auction, error) {
	if err := ctx.Err(); err != nil {
		return Auction{}, err
	}
	parsed, err := parseKey(key)
	if err != nil {
		return Auction{}, err
	}
	return a.auction(parsed)
}

func (a *ledgerAdapter) GetAssetFactor(ctx context.Context, asset string) (AssetFactor, error) {
	if err := ctx.Err(); err != nil {
		return AssetFactor{}, err
	}
	assetAddr, err := parseAsset("asset", asset)
	if err != nil {
		return AssetFactor{}, err
	}
	risk, err := a.ledger.GetFactor(assetAddr)
	if err != nil {
		return AssetFactor{}, translateLedgerError(err)
	}
	return AssetFactor{
		Asset:               assetAddr.String(),
		DebtWeightBps:       risk.DebtWeightBps,
		CollateralFactorBps: risk.CollateralFactorBps,
	}, nil
}

func (a *ledgerAdapter) SetAssetFactor(ctx context.Context, caller string, factor AssetFactor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callerAddr, err := parseAccount("caller", caller)
	if err != nil {
		return err
	}
	assetAddr, err := parseAsset("asset", factor.Asset)
	if err != nil {
		return err
	}
	start := time.Now()
	err = a.ledger.SetAssetFactor(callerAddr, assetAddr, factor.DebtWeightBps, factor.CollateralFactorBps)
	a.metrics.Observe("set_asset_factor", time.Since(start), err)
	return translateLedgerError(err)
}

func (a *ledgerAdapter) SetPrice(ctx context.Context, caller, asset, price string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callerAddr, err := parseAccount("caller", caller)
	if err != nil {
		return err
	}
	assetAddr, err := parseAsset("asset", asset)
	if err != nil {
		return err
	}
	value, err := parseAmount(price)
	if err != nil {
		return err
	}
	err = a.state.Atomic(func() error {
		return a.feed.SetPrice(callerAddr, assetAddr, value)
	})
	return translateLedgerError(err)
}

func (a *ledgerAdapter) SetOwner(ctx context.Context, caller, newOwner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callerAddr, err := parseAccount("caller", caller)
	if err != nil {
		return err
	}
	ownerAddr, err := parseAccount("new owner", newOwner)
	if err != nil {
		return err
	}
	return translateLedgerError(a.ledger.SetOwner(callerAddr, ownerAddr))
}

func (a *ledgerAdapter) Mint(ctx context.Context, caller, asset, to, amount string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callerAddr, err := parseAccount("caller", caller)
	if err != nil {
		return err
	}
	assetAddr, err := parseAsset("asset", asset)
	if err != nil {
		return err
	}
	toAddr, err := parseAccount("recipient", to)
	if err != nil {
		return err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return err
	}
	err = a.state.Atomic(func() error {
		return a.bank.Mint(callerAddr, assetAddr, toAddr, value)
	})
	return translateLedgerError(err)
}

// Approve sets the allowance owner grants the ledger custody account.
func (a *ledgerAdapter) Approve(ctx context.Context, owner, asset, amount string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ownerAddr, err := parseAccount("owner", owner)
	if err != nil {
		return err
	}
	assetAddr, err := parseAsset("asset", asset)
	if err != nil {
		return err
	}
	value, err := parseNonNegativeAmount(amount)
	if err != nil {
		return err
	}
	err = a.state.Atomic(func() error {
		return a.bank.Approve(assetAddr, ownerAddr, a.ledger.Custody(), value)
	})
	return translateLedgerError(err)
}

func (a *ledgerAdapter) GetBalance(ctx context.Context, asset, account string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	assetAddr, err := parseAsset("asset", asset)
	if err != nil {
		return Balance{}, err
	}
	accountAddr, err := parseAccount("account", account)
	if err != nil {
		return Balance{}, err
	}
	var amount, allowance *big.Int
	err = a.state.View(func() error {
		var err error
		if amount, err = a.bank.BalanceOf(assetAddr, accountAddr); err != nil {
			return err
		}
		allowance, err = a.bank.Allowance(assetAddr, accountAddr, a.ledger.Custody())
		return err
	})
	if err != nil {
		return Balance{}, translateLedgerError(err)
	}
	return Balance{
		Asset:     assetAddr.String(),
		Account:   accountAddr.String(),
		Amount:    FormatAmount(amount),
		Allowance: FormatAmount(allowance),
	}, nil
}

func (a *ledgerAdapter) render(owner, collateral, debt crypto.Address) (Position, error) {
	snap, err := a.ledger.Snapshot(owner, collateral, debt)
	if err != nil {
		return Position{}, translateLedgerError(err)
	}
	pos, hf := snap.Position, snap.HealthFactor
	out := Position{
		Key:             pos.Key.Hex(),
		Owner:           owner.String(),
		CollateralAsset: collateral.String(),
		DebtAsset:       debt.String(),
		Collateral:      FormatAmount(pos.Collateral),
		Debt:            FormatAmount(pos.Debt),
		Liquidating:     snap.Auction.Record.Active,
	}
	if hf != nil {
		out.HealthFactor = FormatAmount(hf)
	}
	return out, nil
}

func (a *ledgerAdapter) auction(key lending.PositionKey) (Auction, error) {
	status, err := a.ledger.AuctionStatus(key)
	if err != nil {
		return Auction{}, translateLedgerError(err)
	}
	out := Auction{Key: key.Hex(), Active: status.Record.Active}
	if status.Record.Active {
		out.StartedAt = status.Record.Start.Unix()
		out.ElapsedSeconds = int64(status.Elapsed / time.Second)
		out.DiscountBps = status.DiscountBps
	}
	return out, nil
}

// translateLedgerError maps native ledger, bank and oracle failures onto the
// service sentinels. The original error stays in the chain for logging.
func translateLedgerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var target error
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		target = ErrPaused
	case errors.Is(err, lending.ErrInsufficientCollateral):
		target = ErrInsufficientCollateral
	case errors.Is(err, lending.ErrInsufficientLiquidity):
		target = ErrInsufficientLiquidity
	case errors.Is(err, lending.ErrInsufficientBalance), errors.Is(err, bank.ErrInsufficientBalance):
		target = ErrInsufficientBalance
	case errors.Is(err, lending.ErrInsufficientAllowance), errors.Is(err, bank.ErrInsufficientAllowance):
		target = ErrInsufficientAllowance
	case errors.Is(err, lending.ErrPositionHealthy):
		target = ErrPositionHealthy
	case errors.Is(err, lending.ErrNoActiveAuction):
		target = ErrNoActiveAuction
	case errors.Is(err, lending.ErrAssetNotConfigured), errors.Is(err, oracle.ErrPriceNotSet):
		target = ErrAssetNotConfigured
	case errors.Is(err, lending.ErrRepayExceedsDebt):
		target = ErrRepayExceedsDebt
	case errors.Is(err, lending.ErrUnauthorized), errors.Is(err, bank.ErrUnauthorized), errors.Is(err, oracle.ErrUnauthorized):
		target = ErrUnauthorized
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrOverflow), errors.Is(err, oracle.ErrInvalidPrice):
		target = ErrInvalidAmount
	case errors.Is(err, lending.ErrInvalidRiskFactor), errors.Is(err, lending.ErrSameAsset),
		errors.Is(err, lending.ErrUnsupportedRepayAsset), errors.Is(err, lending.ErrInvalidOwner):
		target = ErrInvalidRequest
	case errors.Is(err, lending.ErrPositionNotFound):
		target = ErrNotFound
	default:
		target = ErrInternal
	}
	return fmt.Errorf("%w: %w", target, err)
}
