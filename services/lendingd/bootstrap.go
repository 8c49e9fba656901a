package main

import (
	"errors"
	"fmt"
	"log/slog"

	"isolend/core/events"
	"isolend/core/state"
	"isolend/crypto"
	nativecommon "isolend/native/common"
	"isolend/native/bank"
	"isolend/native/lending"
	"isolend/native/oracle"
	"isolend/services/lending/engine"
	"isolend/storage"
)

// ledgerStack is the fully wired native ledger sharing one state manager.
type ledgerStack struct {
	state   *state.Manager
	ledger  *lending.Engine
	bank    *bank.Ledger
	feed    *oracle.Feed
	auction *lending.Auction
	pauses  *nativecommon.Pauses
}

// Adapter exposes the stack through the service-facing engine.
func (s *ledgerStack) Adapter() engine.Engine {
	return engine.NewLedgerAdapter(s.state, s.ledger, s.bank, s.feed)
}

func buildLedger(db storage.Database, params *lending.Config, emitter events.Emitter, logger *slog.Logger) (*ledgerStack, error) {
	if params == nil {
		return nil, fmt.Errorf("lending params required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	owner, err := params.OwnerAddress()
	if err != nil {
		return nil, err
	}
	custody, err := params.CustodyAddress()
	if err != nil {
		return nil, err
	}
	auctionCfg, err := params.AuctionConfig()
	if err != nil {
		return nil, err
	}

	mgr := state.NewManager(db)
	stack := &ledgerStack{
		state:  mgr,
		bank:   bank.NewLedger(mgr, owner),
		feed:   oracle.NewFeed(mgr, owner),
		pauses: nativecommon.NewPauses(params.Paused...),
	}
	stack.auction, err = lending.NewAuction(mgr, auctionCfg)
	if err != nil {
		return nil, err
	}
	stack.ledger = lending.NewEngine(owner, custody)
	stack.ledger.SetState(mgr)
	stack.ledger.SetTransfers(stack.bank)
	stack.ledger.SetPauses(stack.pauses)
	stack.ledger.SetEmitter(emitter)

	// Ownership may have moved since the params file was written. Mint and
	// price administration follow the persisted owner, including later
	// transfers.
	current, err := stack.ledger.Owner()
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}
	stack.bank.SetAuthority(stack.ledger.OwnerSource())
	stack.feed.SetAdmin(stack.ledger.OwnerSource())
	if err := stack.ledger.SetPriceOracle(current, stack.feed); err != nil {
		return nil, fmt.Errorf("install price oracle: %w", err)
	}
	if err := stack.ledger.SetLiquidationModule(current, stack.auction); err != nil {
		return nil, fmt.Errorf("install liquidation module: %w", err)
	}
	if err := seedFactors(stack.ledger, current, params.Assets, logger); err != nil {
		return nil, err
	}
	return stack, nil
}

// seedFactors writes the configured risk factors of assets the registry does
// not know yet. Existing records are left alone so runtime updates survive
// restarts.
func seedFactors(ledger *lending.Engine, owner crypto.Address, specs []lending.AssetFactorSpec, logger *slog.Logger) error {
	for _, spec := range specs {
		asset, err := crypto.DecodeAddressWithPrefix(spec.Asset, crypto.AssetPrefix)
		if err != nil {
			return fmt.Errorf("seed asset %q: %w", spec.Asset, err)
		}
		_, err = ledger.GetFactor(asset)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, lending.ErrAssetNotConfigured):
			return fmt.Errorf("read factor %s: %w", spec.Asset, err)
		}
		if err := ledger.SetAssetFactor(owner, asset, spec.DebtWeightBps, spec.CollateralFactorBps); err != nil {
			return fmt.Errorf("seed factor %s: %w", spec.Asset, err)
		}
		logger.Info("seeded asset factor",
			"asset", spec.Asset,
			"debt_weight_bps", spec.DebtWeightBps,
			"collateral_factor_bps", spec.CollateralFactorBps)
	}
	return nil
}
