package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"isolend/crypto"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrInvalidAmount         = errors.New("bank: amount must be non-negative")
	ErrOverflow              = errors.New("bank: balance overflow")
	ErrUnauthorized          = errors.New("bank: caller is not the mint authority")
	ErrNilStore              = errors.New("bank: storage not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// asset ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
	supplyPrefix    = []byte("bank/supply/")
)

// Ledger tracks fungible balances and allowances for every asset. Amounts are
// unsigned 256-bit integers; any operation that would overflow or underflow is
// rejected without touching state.
type Ledger struct {
	store     Storage
	authority crypto.Address
	resolve   AuthorityFunc
}

// AuthorityFunc resolves the current mint authority. It runs inside the
// caller's state section and must not take the state lock itself.
type AuthorityFunc func() (crypto.Address, error)

// NewLedger constructs an asset ledger. authority is the only caller allowed
// to mint until SetAuthority installs a resolver.
func NewLedger(store Storage, authority crypto.Address) *Ledger {
	return &Ledger{store: store, authority: authority}
}

// SetAuthority makes the mint authority follow resolve, for instance the
// persisted owner of the lending registry.
func (l *Ledger) SetAuthority(resolve AuthorityFunc) {
	if l == nil {
		return
	}
	l.resolve = resolve
}

func (l *Ledger) requireAuthority(caller crypto.Address) error {
	authority := l.authority
	if l.resolve != nil {
		current, err := l.resolve()
		if err != nil {
			return fmt.Errorf("bank: resolve authority: %w", err)
		}
		authority = current
	}
	if !caller.Equal(authority) {
		return ErrUnauthorized
	}
	return nil
}

func balanceKey(asset, account crypto.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*crypto.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, asset.Bytes()...)
	return append(key, account.Bytes()...)
}

func allowanceKey(asset, owner, spender crypto.Address) []byte {
	key := make([]byte, 0, len(allowancePrefix)+3*crypto.AddressLength)
	key = append(key, allowancePrefix...)
	key = append(key, asset.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func supplyKey(asset crypto.Address) []byte {
	return append(append([]byte(nil), supplyPrefix...), asset.Bytes()...)
}

func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilStore
	}
	value := new(uint256.Int)
	ok, err := l.store.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return value, nil
}

func (l *Ledger) save(key []byte, value *uint256.Int) error {
	return l.store.KVPut(key, value)
}

// BalanceOf returns the balance of account in asset.
func (l *Ledger) BalanceOf(asset, account crypto.Address) (*big.Int, error) {
	value, err := l.load(balanceKey(asset, account))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(asset, owner, spender crypto.Address) (*big.Int, error) {
	value, err := l.load(allowanceKey(asset, owner, spender))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// TotalSupply returns the minted supply of asset.
func (l *Ledger) TotalSupply(asset crypto.Address) (*big.Int, error) {
	value, err := l.load(supplyKey(asset))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Mint credits newly created units of asset to the recipient.
func (l *Ledger) Mint(caller, asset, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	if err := l.requireAuthority(caller); err != nil {
		return err
	}
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	supply, err := l.load(supplyKey(asset))
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return ErrOverflow
	}
	balance, err := l.load(balanceKey(asset, to))
	if err != nil {
		return err
	}
	// balance <= supply, so this cannot overflow once the supply check passed.
	newBalance := new(uint256.Int).Add(balance, value)
	if err := l.save(supplyKey(asset), newSupply); err != nil {
		return err
	}
	return l.save(balanceKey(asset, to), newBalance)
}

// Approve sets the allowance granted by owner to spender, replacing any
// previous value.
func (l *Ledger) Approve(asset, owner, spender crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	return l.save(allowanceKey(asset, owner, spender), value)
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	return l.move(asset, from, to, value)
}

// TransferFrom moves amount of asset out of owner's balance on behalf of
// spender, consuming allowance.
func (l *Ledger) TransferFrom(asset, spender, owner, to crypto.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	key := allowanceKey(asset, owner, spender)
	allowance, err := l.load(key)
	if err != nil {
		return err
	}
	if allowance.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance.Dec(), value.Dec())
	}
	balance, err := l.load(balanceKey(asset, owner))
	if err != nil {
		return err
	}
	if balance.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance.Dec(), value.Dec())
	}
	if err := l.move(asset, owner, to, value); err != nil {
		return err
	}
	return l.save(key, new(uint256.Int).Sub(allowance, value))
}

func (l *Ledger) move(asset, from, to crypto.Address, value *uint256.Int) error {
	fromKey := balanceKey(asset, from)
	fromBal, err := l.load(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), value.Dec())
	}
	if from.Equal(to) || value.IsZero() {
		return nil
	}
	toKey := balanceKey(asset, to)
	toBal, err := l.load(toKey)
	if err != nil {
		return err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, value)
	if overflow {
		return ErrOverflow
	}
	if err := l.save(fromKey, new(uint256.Int).Sub(fromBal, value)); err != nil {
		return err
	}
	return l.save(toKey, newTo)
}
