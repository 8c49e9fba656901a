package lending

import (
	"encoding/hex"
	"math/big"
	"time"

	"isolend/crypto"
)

// PositionKey identifies an isolated (owner, collateral asset, debt asset)
// position.
type PositionKey [32]byte

// Hex returns the 0x-prefixed hexadecimal form of the key.
func (k PositionKey) Hex() string {
	return "0x" + hex.EncodeToString(k[:])
}

func (k PositionKey) String() string { return k.Hex() }

// Bytes returns a copy of the key bytes.
func (k PositionKey) Bytes() []byte {
	return append([]byte(nil), k[:]...)
}

// Position captures the collateral and debt held by one isolated position.
// Amounts are denominated in the smallest unit of their asset.
type Position struct {
	Key             PositionKey
	Owner           crypto.Address
	CollateralAsset crypto.Address
	DebtAsset       crypto.Address
	Collateral      *big.Int
	Debt            *big.Int
}

// IsEmpty reports whether the position holds neither collateral nor debt.
func (p *Position) IsEmpty() bool {
	if p == nil {
		return true
	}
	return sign(p.Collateral) == 0 && sign(p.Debt) == 0
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Collateral = copyOrZero(p.Collateral)
	clone.Debt = copyOrZero(p.Debt)
	return &clone
}

// AssetRisk stores the per-asset risk weighting, both in basis points.
type AssetRisk struct {
	// DebtWeightBps inflates debt denominated in the asset (10_000 = 1.0).
	DebtWeightBps uint64
	// CollateralFactorBps discounts collateral denominated in the asset.
	CollateralFactorBps uint64
}

// AuctionRecord tracks the liquidation state of a position.
type AuctionRecord struct {
	Active bool
	Start  time.Time
}

// AuctionStatus is a point-in-time view of an auction including the discount
// a settlement would receive.
type AuctionStatus struct {
	Key         PositionKey
	Record      AuctionRecord
	DiscountBps uint64
	Elapsed     time.Duration
}

// PositionSnapshot is a consistent read of a position together with its
// health factor (nil without debt) and auction status.
type PositionSnapshot struct {
	Position     *Position
	HealthFactor *big.Int
	Auction      AuctionStatus
}

// LiquidationResult summarises a settled liquidation.
type LiquidationResult struct {
	Key                 PositionKey
	Liquidator          crypto.Address
	Repaid              *big.Int
	Seized              *big.Int
	Refunded            *big.Int
	DiscountBps         uint64
	RemainingDebt       *big.Int
	RemainingCollateral *big.Int
	Closed              bool
}

type storedPosition struct {
	Owner           []byte
	CollateralAsset []byte
	DebtAsset       []byte
	Collateral      *big.Int
	Debt            *big.Int
}

type storedAuction struct {
	Active bool
	Start  uint64
}

func sign(v *big.Int) int {
	if v == nil {
		return 0
	}
	return v.Sign()
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
