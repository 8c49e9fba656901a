package lending

import (
	"fmt"
	"math/big"
	"time"
)

// AuctionConfig shapes the linear discount curve offered to liquidators.
type AuctionConfig struct {
	MinDiscountBps uint64
	MaxDiscountBps uint64
	Duration       time.Duration
}

// DefaultAuctionConfig starts at a 5% discount and reaches 20% after two
// hours.
func DefaultAuctionConfig() AuctionConfig {
	return AuctionConfig{
		MinDiscountBps: 500,
		MaxDiscountBps: 2_000,
		Duration:       2 * time.Hour,
	}
}

// Validate ensures the discount curve is well formed.
func (c AuctionConfig) Validate() error {
	if c.MinDiscountBps > c.MaxDiscountBps {
		return fmt.Errorf("%w: min discount %d exceeds max discount %d", ErrInvalidAuctionConfig, c.MinDiscountBps, c.MaxDiscountBps)
	}
	if c.MaxDiscountBps > basisPoints.Uint64() {
		return fmt.Errorf("%w: max discount %d exceeds 100%%", ErrInvalidAuctionConfig, c.MaxDiscountBps)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidAuctionConfig)
	}
	return nil
}

// DiscountAt returns the discount in basis points after elapsed time. The
// curve is non-decreasing and flat once elapsed reaches the duration.
func (c AuctionConfig) DiscountAt(elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return c.MinDiscountBps
	}
	if elapsed >= c.Duration {
		return c.MaxDiscountBps
	}
	spread := new(big.Int).SetUint64(c.MaxDiscountBps - c.MinDiscountBps)
	spread.Mul(spread, big.NewInt(int64(elapsed)))
	spread.Quo(spread, big.NewInt(int64(c.Duration)))
	return c.MinDiscountBps + spread.Uint64()
}

type auctionStorage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var auctionPrefix = []byte("lending/auction/")

// Auction owns the liquidation records of every position. It holds no view of
// positions and is driven entirely by the engine.
type Auction struct {
	store auctionStorage
	cfg   AuctionConfig
}

// NewAuction constructs an auction module persisting through store.
func NewAuction(store auctionStorage, cfg AuctionConfig) (*Auction, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Auction{store: store, cfg: cfg}, nil
}

// Config returns the discount curve in use.
func (a *Auction) Config() AuctionConfig {
	if a == nil {
		return AuctionConfig{}
	}
	return a.cfg
}

func auctionKey(key PositionKey) []byte {
	return append(append([]byte(nil), auctionPrefix...), key[:]...)
}

// Record returns the liquidation record of the position. Positions that were
// never flagged report an inactive record.
func (a *Auction) Record(key PositionKey) (AuctionRecord, error) {
	if a == nil || a.store == nil {
		return AuctionRecord{}, ErrNilState
	}
	var stored storedAuction
	ok, err := a.store.KVGet(auctionKey(key), &stored)
	if err != nil {
		return AuctionRecord{}, err
	}
	if !ok {
		return AuctionRecord{}, nil
	}
	return AuctionRecord{Active: stored.Active, Start: time.Unix(int64(stored.Start), 0).UTC()}, nil
}

// Request opens a record stamped with now. Requests against an already active
// record keep the original start time. The boolean reports whether a new
// record was opened.
func (a *Auction) Request(key PositionKey, now time.Time) (AuctionRecord, bool, error) {
	record, err := a.Record(key)
	if err != nil {
		return AuctionRecord{}, false, err
	}
	if record.Active {
		return record, false, nil
	}
	start := now.UTC().Truncate(time.Second)
	stored := storedAuction{Active: true, Start: uint64(start.Unix())}
	if err := a.store.KVPut(auctionKey(key), stored); err != nil {
		return AuctionRecord{}, false, err
	}
	return AuctionRecord{Active: true, Start: start}, true, nil
}

// IsLiquidating reports whether the position has an active record.
func (a *Auction) IsLiquidating(key PositionKey) (bool, error) {
	record, err := a.Record(key)
	if err != nil {
		return false, err
	}
	return record.Active, nil
}

// CurrentDiscount returns the discount a settlement at now would receive.
func (a *Auction) CurrentDiscount(key PositionKey, now time.Time) (uint64, error) {
	record, err := a.Record(key)
	if err != nil {
		return 0, err
	}
	if !record.Active {
		return 0, ErrNoActiveAuction
	}
	return a.cfg.DiscountAt(now.Sub(record.Start)), nil
}

// Close clears the active flag of the record.
func (a *Auction) Close(key PositionKey) error {
	if a == nil || a.store == nil {
		return ErrNilState
	}
	return a.store.KVPut(auctionKey(key), storedAuction{})
}
