package lending

import (
	"fmt"

	"isolend/core/events"
	"isolend/crypto"
)

func riskKey(asset crypto.Address) []byte {
	return append(append([]byte(nil), riskPrefix...), asset.Bytes()...)
}

// Owner returns the account allowed to perform administrative changes.
func (e *Engine) Owner() (crypto.Address, error) {
	var out crypto.Address
	err := e.view(func(deps) error {
		owner, err := e.loadOwner()
		if err != nil {
			return err
		}
		out = owner
		return nil
	})
	return out, err
}

// OwnerSource returns a reader of the persisted owner that does not take the
// state lock. It is meant for collaborators such as the bank and the price
// feed whose privileged calls already run inside a state section.
func (e *Engine) OwnerSource() func() (crypto.Address, error) {
	return func() (crypto.Address, error) {
		if e == nil || e.store() == nil {
			return crypto.Address{}, ErrNilState
		}
		return e.loadOwner()
	}
}

func (e *Engine) loadOwner() (crypto.Address, error) {
	var raw []byte
	ok, err := e.store().KVGet(ownerKey, &raw)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok || len(raw) != crypto.AddressLength {
		return e.owner, nil
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw), nil
}

func (e *Engine) requireOwner(caller crypto.Address) error {
	owner, err := e.loadOwner()
	if err != nil {
		return err
	}
	if owner.IsZero() || !caller.Equal(owner) {
		return ErrUnauthorized
	}
	return nil
}

// SetOwner transfers administrative control to newOwner.
func (e *Engine) SetOwner(caller, newOwner crypto.Address) error {
	return e.execute("", func(deps) ([]events.Event, error) {
		if err := e.requireOwner(caller); err != nil {
			return nil, err
		}
		if newOwner.IsZero() {
			return nil, ErrInvalidOwner
		}
		return nil, e.store().KVPut(ownerKey, newOwner.Bytes())
	})
}

// SetAssetFactor overwrites the risk record of asset. Both factors are basis
// points and must be positive.
func (e *Engine) SetAssetFactor(caller, asset crypto.Address, debtWeightBps, collateralFactorBps uint64) error {
	return e.execute("", func(deps) ([]events.Event, error) {
		if err := e.requireOwner(caller); err != nil {
			return nil, err
		}
		if debtWeightBps == 0 || collateralFactorBps == 0 {
			return nil, ErrInvalidRiskFactor
		}
		risk := AssetRisk{DebtWeightBps: debtWeightBps, CollateralFactorBps: collateralFactorBps}
		if err := e.store().KVPut(riskKey(asset), risk); err != nil {
			return nil, err
		}
		return []events.Event{events.LendingAssetFactorSet{
			Asset:               asset.String(),
			DebtWeightBps:       debtWeightBps,
			CollateralFactorBps: collateralFactorBps,
		}}, nil
	})
}

// GetFactor returns the risk record of asset.
func (e *Engine) GetFactor(asset crypto.Address) (AssetRisk, error) {
	var out AssetRisk
	err := e.view(func(deps) error {
		risk, err := e.loadFactor(asset)
		if err != nil {
			return err
		}
		out = risk
		return nil
	})
	return out, err
}

func (e *Engine) loadFactor(asset crypto.Address) (AssetRisk, error) {
	var risk AssetRisk
	ok, err := e.store().KVGet(riskKey(asset), &risk)
	if err != nil {
		return AssetRisk{}, err
	}
	if !ok {
		return AssetRisk{}, fmt.Errorf("%w: no risk factors for %s", ErrAssetNotConfigured, asset)
	}
	return risk, nil
}

// SetPriceOracle replaces the price feed. The change is applied between
// operations.
func (e *Engine) SetPriceOracle(caller crypto.Address, oracle PriceOracle) error {
	return e.execute("", func(deps) ([]events.Event, error) {
		if err := e.requireOwner(caller); err != nil {
			return nil, err
		}
		if oracle == nil {
			return nil, fmt.Errorf("%w: price oracle", ErrCollaboratorMissing)
		}
		e.mu.Lock()
		e.prices = oracle
		e.mu.Unlock()
		return nil, nil
	})
}

// SetLiquidationModule replaces the auction module. The change is applied
// between operations.
func (e *Engine) SetLiquidationModule(caller crypto.Address, module LiquidationModule) error {
	return e.execute("", func(deps) ([]events.Event, error) {
		if err := e.requireOwner(caller); err != nil {
			return nil, err
		}
		if module == nil {
			return nil, fmt.Errorf("%w: liquidation module", ErrCollaboratorMissing)
		}
		e.mu.Lock()
		e.auction = module
		e.mu.Unlock()
		return nil, nil
	})
}
