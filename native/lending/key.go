package lending

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"isolend/crypto"
)

// PositionKeyFor derives the key of the position held by owner against the
// given asset pair. The pre-image is the packed 20-byte encoding of owner,
// collateral asset and debt asset, hashed with Keccak-256. Address prefixes do
// not participate.
func PositionKeyFor(owner, collateralAsset, debtAsset crypto.Address) PositionKey {
	preimage := make([]byte, 0, 3*crypto.AddressLength)
	preimage = append(preimage, padAddress(owner)...)
	preimage = append(preimage, padAddress(collateralAsset)...)
	preimage = append(preimage, padAddress(debtAsset)...)
	var key PositionKey
	copy(key[:], ethcrypto.Keccak256(preimage))
	return key
}

// padAddress left-pads unset addresses so every slot is exactly 20 bytes.
func padAddress(addr crypto.Address) []byte {
	raw := addr.Bytes()
	if len(raw) == crypto.AddressLength {
		return raw
	}
	out := make([]byte, crypto.AddressLength)
	if len(raw) > crypto.AddressLength {
		raw = raw[len(raw)-crypto.AddressLength:]
	}
	copy(out[crypto.AddressLength-len(raw):], raw)
	return out
}

// ParsePositionKey decodes the 0x-prefixed hexadecimal form produced by
// PositionKey.Hex.
func ParsePositionKey(value string) (PositionKey, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return PositionKey{}, fmt.Errorf("position key: %w", err)
	}
	if len(raw) != len(PositionKey{}) {
		return PositionKey{}, fmt.Errorf("position key: expected 32 bytes, got %d", len(raw))
	}
	var key PositionKey
	copy(key[:], raw)
	return key, nil
}
