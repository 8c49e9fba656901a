package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// wad is the 18-decimal unit used for prices and reported health factors.
	wad = big.NewInt(1_000_000_000_000_000_000)
)

// riskValue returns amount × price × factorBps. The common 1e18 and bps scales
// cancel when two risk values are compared.
func riskValue(amount, price *big.Int, factorBps uint64) *big.Int {
	if sign(amount) == 0 || sign(price) == 0 || factorBps == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Mul(value, new(big.Int).SetUint64(factorBps))
}

// isHealthy reports whether the collateral side covers the debt side. A
// position without debt is always healthy.
func isHealthy(collateralValue, debtValue *big.Int) bool {
	if sign(debtValue) == 0 {
		return true
	}
	return collateralValue.Cmp(debtValue) >= 0
}

// healthFactor reports collateralValue / debtValue scaled to 1e18, rounded
// down. nil means the position has no debt.
func healthFactor(collateralValue, debtValue *big.Int) *big.Int {
	if sign(debtValue) == 0 {
		return nil
	}
	hf := new(big.Int).Mul(collateralValue, wad)
	return hf.Quo(hf, debtValue)
}

// liquidationPayout converts a repaid debt amount into collateral at the given
// discount: repaid × debtPrice × (1 + discount) / collateralPrice, rounded
// down.
func liquidationPayout(repaid, debtPrice, collateralPrice *big.Int, discountBps uint64) *big.Int {
	if sign(repaid) == 0 || sign(debtPrice) == 0 || sign(collateralPrice) == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(repaid, debtPrice)
	numerator.Mul(numerator, new(big.Int).Add(basisPoints, new(big.Int).SetUint64(discountBps)))
	denominator := new(big.Int).Mul(collateralPrice, basisPoints)
	return numerator.Quo(numerator, denominator)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
