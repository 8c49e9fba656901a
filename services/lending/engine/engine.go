package engine

import "context"

// Engine describes the ledger operations exposed by the lending HTTP surface.
// Addresses are bech32 strings, amounts and prices are decimal strings with
// up to 18 fractional digits.
type Engine interface {
	Deposit(ctx context.Context, ref PositionRef, amount string) (Position, error)
	Withdraw(ctx context.Context, ref PositionRef, amount string) (Position, error)
	Borrow(ctx context.Context, ref PositionRef, amount string) (Position, error)
	Repay(ctx context.Context, ref PositionRef, amount string) (Position, error)
	LiquidateReady(ctx context.Context, ref PositionRef) (Auction, error)
	Liquidate(ctx context.Context, ref PositionRef, liquidator, repayAsset, amount string) (Liquidation, error)

	GetPosition(ctx context.Context, ref PositionRef) (Position, error)
	ListPositions(ctx context.Context, owner string) ([]Position, error)
	PositionKey(ctx context.Context, ref PositionRef) (string, error)
	GetAuction(ctx context.Context, key string) (Auction, error)
	GetAssetFactor(ctx context.Context, asset string) (AssetFactor, error)

	SetAssetFactor(ctx context.Context, caller string, factor AssetFactor) error
	SetPrice(ctx context.Context, caller, asset, price string) error
	SetOwner(ctx context.Context, caller, newOwner string) error

	Mint(ctx context.Context, caller, asset, to, amount string) error
	Approve(ctx context.Context, owner, asset, amount string) error
	GetBalance(ctx context.Context, asset, account string) (Balance, error)
}

// PositionRef names an isolated position by its owner and asset pair.
type PositionRef struct {
	Owner           string `json:"owner"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
}

// Position is the rendered state of a position. An empty HealthFactor means
// the position carries no debt.
type Position struct {
	Key             string `json:"key"`
	Owner           string `json:"owner"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	Collateral      string `json:"collateral"`
	Debt            string `json:"debt"`
	HealthFactor    string `json:"healthFactor,omitempty"`
	Liquidating     bool   `json:"liquidating"`
}

// Auction reports the liquidation record of a position.
type Auction struct {
	Key            string `json:"key"`
	Active         bool   `json:"active"`
	StartedAt      int64  `json:"startedAt,omitempty"`
	ElapsedSeconds int64  `json:"elapsedSeconds,omitempty"`
	DiscountBps    uint64 `json:"discountBps,omitempty"`
}

// Liquidation is the settlement summary of a liquidate call.
type Liquidation struct {
	Key                 string `json:"key"`
	Liquidator          string `json:"liquidator"`
	Repaid              string `json:"repaid"`
	Seized              string `json:"seized"`
	Refunded            string `json:"refunded"`
	DiscountBps         uint64 `json:"discountBps"`
	RemainingDebt       string `json:"remainingDebt"`
	RemainingCollateral string `json:"remainingCollateral"`
	Closed              bool   `json:"closed"`
}

// AssetFactor is the risk registry entry of an asset in basis points.
type AssetFactor struct {
	Asset               string `json:"asset"`
	DebtWeightBps       uint64 `json:"debtWeightBps"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
}

// Balance is an account's holding of an asset together with the allowance
// granted to the ledger custody account.
type Balance struct {
	Asset     string `json:"asset"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Allowance string `json:"allowance"`
}
