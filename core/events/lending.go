package events

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"isolend/core/types"
)

const (
	// TypeLendingPositionUpdated is emitted after a deposit, withdrawal,
	// borrow or repayment changes a position.
	TypeLendingPositionUpdated = "lending.position_updated"
	// TypeLendingAuctionOpened is emitted when an unhealthy position enters
	// liquidation.
	TypeLendingAuctionOpened = "lending.auction_opened"
	// TypeLendingLiquidated is emitted for every liquidation settlement.
	TypeLendingLiquidated = "lending.liquidated"
	// TypeLendingAssetFactorSet is emitted when the risk weighting of an asset
	// changes.
	TypeLendingAssetFactorSet = "lending.asset_factor_set"
)

// LendingPositionUpdated captures the state of a position after a
// user-initiated change.
type LendingPositionUpdated struct {
	Action          string
	PositionKey     string
	Owner           string
	CollateralAsset string
	DebtAsset       string
	Amount          *big.Int
	Collateral      *big.Int
	Debt            *big.Int
}

func (LendingPositionUpdated) EventType() string { return TypeLendingPositionUpdated }

func (e LendingPositionUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingPositionUpdated,
		Attributes: map[string]string{
			"action":          strings.TrimSpace(e.Action),
			"positionKey":     e.PositionKey,
			"owner":           e.Owner,
			"collateralAsset": e.CollateralAsset,
			"debtAsset":       e.DebtAsset,
			"amount":          amountString(e.Amount),
			"collateral":      amountString(e.Collateral),
			"debt":            amountString(e.Debt),
		},
	}
}

// LendingAuctionOpened records the start of a liquidation auction.
type LendingAuctionOpened struct {
	PositionKey  string
	Owner        string
	Start        time.Time
	HealthFactor *big.Int
}

func (LendingAuctionOpened) EventType() string { return TypeLendingAuctionOpened }

func (e LendingAuctionOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingAuctionOpened,
		Attributes: map[string]string{
			"positionKey":  e.PositionKey,
			"owner":        e.Owner,
			"start":        strconv.FormatInt(e.Start.Unix(), 10),
			"healthFactor": amountString(e.HealthFactor),
		},
	}
}

// LendingLiquidated records a liquidation settlement.
type LendingLiquidated struct {
	PositionKey         string
	Owner               string
	Liquidator          string
	Repaid              *big.Int
	Seized              *big.Int
	Refunded            *big.Int
	DiscountBps         uint64
	RemainingDebt       *big.Int
	RemainingCollateral *big.Int
	Closed              bool
}

func (LendingLiquidated) EventType() string { return TypeLendingLiquidated }

func (e LendingLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingLiquidated,
		Attributes: map[string]string{
			"positionKey":         e.PositionKey,
			"owner":               e.Owner,
			"liquidator":          e.Liquidator,
			"repaid":              amountString(e.Repaid),
			"seized":              amountString(e.Seized),
			"refunded":            amountString(e.Refunded),
			"discountBps":         strconv.FormatUint(e.DiscountBps, 10),
			"remainingDebt":       amountString(e.RemainingDebt),
			"remainingCollateral": amountString(e.RemainingCollateral),
			"closed":              strconv.FormatBool(e.Closed),
		},
	}
}

// LendingAssetFactorSet records an administrative risk update.
type LendingAssetFactorSet struct {
	Asset               string
	DebtWeightBps       uint64
	CollateralFactorBps uint64
}

func (LendingAssetFactorSet) EventType() string { return TypeLendingAssetFactorSet }

func (e LendingAssetFactorSet) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingAssetFactorSet,
		Attributes: map[string]string{
			"asset":               e.Asset,
			"debtWeightBps":       strconv.FormatUint(e.DebtWeightBps, 10),
			"collateralFactorBps": strconv.FormatUint(e.CollateralFactorBps, 10),
		},
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
