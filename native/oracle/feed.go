package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"isolend/crypto"
)

// PriceScale is the fixed-point unit of every stored price (1.0 = 1e18).
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	ErrPriceNotSet  = errors.New("oracle: price not set")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	ErrUnauthorized = errors.New("oracle: caller is not the feed administrator")
	ErrNilStore     = errors.New("oracle: storage not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// price feed.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var pricePrefix = []byte("oracle/price/")

// Quote captures the last price written for an asset together with the time
// it was recorded. Staleness is reported, never enforced.
type Quote struct {
	Asset     crypto.Address
	Price     *big.Int
	UpdatedAt time.Time
}

// Age reports how long ago the quote was written relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	if q.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(q.UpdatedAt)
}

type storedQuote struct {
	Price     *big.Int
	UpdatedAt uint64
}

// Feed is an administrator-maintained price table keyed by asset.
type Feed struct {
	store   Storage
	admin   crypto.Address
	resolve func() (crypto.Address, error)
	clock   func() time.Time
}

// NewFeed constructs a price feed writable only by admin.
func NewFeed(store Storage, admin crypto.Address) *Feed {
	return &Feed{store: store, admin: admin, clock: time.Now}
}

// SetClock overrides the time source used to stamp updates.
func (f *Feed) SetClock(clock func() time.Time) {
	if f == nil || clock == nil {
		return
	}
	f.clock = clock
}

// SetAdmin makes the feed administrator follow resolve. resolve runs inside
// the caller's state section and must not take the state lock itself.
func (f *Feed) SetAdmin(resolve func() (crypto.Address, error)) {
	if f == nil {
		return
	}
	f.resolve = resolve
}

func (f *Feed) requireAdmin(caller crypto.Address) error {
	admin := f.admin
	if f.resolve != nil {
		current, err := f.resolve()
		if err != nil {
			return fmt.Errorf("oracle: resolve admin: %w", err)
		}
		admin = current
	}
	if !caller.Equal(admin) {
		return ErrUnauthorized
	}
	return nil
}

func priceKey(asset crypto.Address) []byte {
	return append(append([]byte(nil), pricePrefix...), asset.Bytes()...)
}

// SetPrice records the price of asset expressed in PriceScale units.
func (f *Feed) SetPrice(caller, asset crypto.Address, price *big.Int) error {
	if f == nil || f.store == nil {
		return ErrNilStore
	}
	if err := f.requireAdmin(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	record := storedQuote{
		Price:     new(big.Int).Set(price),
		UpdatedAt: uint64(f.clock().UTC().Unix()),
	}
	if err := f.store.KVPut(priceKey(asset), record); err != nil {
		return fmt.Errorf("oracle: store price: %w", err)
	}
	return nil
}

// GetPrice returns the current price for asset.
func (f *Feed) GetPrice(asset crypto.Address) (*big.Int, error) {
	quote, err := f.Quote(asset)
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// Quote returns the stored price with its update time.
func (f *Feed) Quote(asset crypto.Address) (Quote, error) {
	if f == nil || f.store == nil {
		return Quote{}, ErrNilStore
	}
	var record storedQuote
	ok, err := f.store.KVGet(priceKey(asset), &record)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: load price: %w", err)
	}
	if !ok || record.Price == nil || record.Price.Sign() == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceNotSet, asset)
	}
	return Quote{
		Asset:     asset,
		Price:     new(big.Int).Set(record.Price),
		UpdatedAt: time.Unix(int64(record.UpdatedAt), 0).UTC(),
	}, nil
}
