package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"isolend/crypto"
	"isolend/native/lending"
)

// AmountDecimals is the fixed-point precision of amounts and prices on the
// wire. One whole unit is 10^18 base units.
const AmountDecimals = 18

func parseAccount(field, value string) (crypto.Address, error) {
	return parseAddress(field, value, crypto.AccountPrefix)
}

func parseAsset(field, value string) (crypto.Address, error) {
	return parseAddress(field, value, crypto.AssetPrefix)
}

func parseAddress(field, value string, prefix crypto.AddressPrefix) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s required: %w", field, ErrInvalidRequest)
	}
	addr, err := crypto.DecodeAddressWithPrefix(trimmed, prefix)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s %q: %w", field, trimmed, ErrInvalidRequest)
	}
	return addr, nil
}

func parseRef(ref PositionRef) (owner, collateral, debt crypto.Address, err error) {
	if owner, err = parseAccount("owner", ref.Owner); err != nil {
		return
	}
	if collateral, err = parseAsset("collateral asset", ref.CollateralAsset); err != nil {
		return
	}
	debt, err = parseAsset("debt asset", ref.DebtAsset)
	return
}

func parseKey(value string) (lending.PositionKey, error) {
	key, err := lending.ParsePositionKey(value)
	if err != nil {
		return lending.PositionKey{}, fmt.Errorf("%s: %w", err.Error(), ErrInvalidRequest)
	}
	return key, nil
}

// parseAmount converts a positive decimal string into base units.
func parseAmount(amount string) (*big.Int, error) {
	value, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidAmount)
	}
	return value, nil
}

// parseOptionalAmount treats an empty string as "not supplied".
func parseOptionalAmount(amount string) (*big.Int, error) {
	if strings.TrimSpace(amount) == "" {
		return nil, nil
	}
	return parseAmount(amount)
}

func parseNonNegativeAmount(amount string) (*big.Int, error) {
	value, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %w", ErrInvalidAmount)
	}
	return value, nil
}

func parseDecimal(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required: %w", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", trimmed, ErrInvalidAmount)
	}
	scaled := value.Shift(AmountDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals: %w", trimmed, AmountDecimals, ErrInvalidAmount)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units as a decimal string without trailing
// zeros.
func FormatAmount(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -AmountDecimals).String()
}

