package main

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isolend/core/events"
	"isolend/crypto"
	nativecommon "isolend/native/common"
	"isolend/native/lending"
	"isolend/services/lending/engine"
	"isolend/storage"
)

type captureEmitter struct{ types []string }

func (c *captureEmitter) Emit(evt events.Event) { c.types = append(c.types, evt.EventType()) }

var (
	operator = crypto.AddressFromSeed(crypto.AccountPrefix, "operator")
	ethAsset = crypto.AddressFromSeed(crypto.AssetPrefix, "eth")
	usdAsset = crypto.AddressFromSeed(crypto.AssetPrefix, "usd")
)

func testParams(t *testing.T) *lending.Config {
	t.Helper()
	params := &lending.Config{
		Owner: operator.String(),
		Assets: []lending.AssetFactorSpec{
			{Asset: ethAsset.String(), DebtWeightBps: 10_000, CollateralFactorBps: 8_000},
			{Asset: usdAsset.String(), DebtWeightBps: 10_000, CollateralFactorBps: 10_000},
		},
		Paused: []string{"lending.withdraw"},
	}
	params.EnsureDefaults()
	require.NoError(t, params.Validate())
	return params
}

func TestBuildLedgerSeedsFactorsOnce(t *testing.T) {
	db := storage.NewMemDB()
	emitter := &captureEmitter{}
	stack, err := buildLedger(db, testParams(t), emitter, nil)
	require.NoError(t, err)

	risk, err := stack.ledger.GetFactor(ethAsset)
	require.NoError(t, err)
	assert.EqualValues(t, 8_000, risk.CollateralFactorBps)
	assert.Equal(t, []string{events.TypeLendingAssetFactorSet, events.TypeLendingAssetFactorSet}, emitter.types)

	// A runtime update survives a restart over the same database.
	require.NoError(t, stack.ledger.SetAssetFactor(operator, ethAsset, 10_000, 7_000))
	restarted, err := buildLedger(db, testParams(t), &captureEmitter{}, nil)
	require.NoError(t, err)
	risk, err = restarted.ledger.GetFactor(ethAsset)
	require.NoError(t, err)
	assert.EqualValues(t, 7_000, risk.CollateralFactorBps)
}

func TestBuildLedgerHonoursTransferredOwnership(t *testing.T) {
	db := storage.NewMemDB()
	stack, err := buildLedger(db, testParams(t), nil, nil)
	require.NoError(t, err)
	successor := crypto.AddressFromSeed(crypto.AccountPrefix, "successor")
	require.NoError(t, stack.ledger.SetOwner(operator, successor))

	restarted, err := buildLedger(db, testParams(t), nil, nil)
	require.NoError(t, err)
	owner, err := restarted.ledger.Owner()
	require.NoError(t, err)
	assert.True(t, owner.Equal(successor))
}

func TestMintAndPriceAuthorityFollowOwner(t *testing.T) {
	db := storage.NewMemDB()
	stack, err := buildLedger(db, testParams(t), nil, nil)
	require.NoError(t, err)
	adapter := stack.Adapter()
	ctx := context.Background()
	successor := crypto.AddressFromSeed(crypto.AccountPrefix, "successor")

	require.NoError(t, adapter.Mint(ctx, operator.String(), ethAsset.String(), operator.String(), "1"))
	require.NoError(t, adapter.SetOwner(ctx, operator.String(), successor.String()))

	require.ErrorIs(t, adapter.Mint(ctx, operator.String(), ethAsset.String(), operator.String(), "1"), engine.ErrUnauthorized)
	require.ErrorIs(t, adapter.SetPrice(ctx, operator.String(), ethAsset.String(), "2"), engine.ErrUnauthorized)
	require.NoError(t, adapter.Mint(ctx, successor.String(), ethAsset.String(), successor.String(), "1"))
	require.NoError(t, adapter.SetPrice(ctx, successor.String(), ethAsset.String(), "2"))

	// The params file still names the operator; the persisted owner wins.
	restarted, err := buildLedger(db, testParams(t), nil, nil)
	require.NoError(t, err)
	require.ErrorIs(t, restarted.Adapter().SetPrice(ctx, operator.String(), usdAsset.String(), "1"), engine.ErrUnauthorized)
	require.NoError(t, restarted.Adapter().SetPrice(ctx, successor.String(), usdAsset.String(), "1"))
}

func TestBuildLedgerAppliesPauses(t *testing.T) {
	stack, err := buildLedger(storage.NewMemDB(), testParams(t), nil, nil)
	require.NoError(t, err)
	require.NoError(t, stack.state.Atomic(func() error {
		if err := stack.bank.Mint(operator, ethAsset, operator, big.NewInt(10)); err != nil {
			return err
		}
		return stack.bank.Approve(ethAsset, operator, stack.ledger.Custody(), big.NewInt(10))
	}))

	_, err = stack.ledger.Deposit(operator, ethAsset, usdAsset, big.NewInt(5))
	require.NoError(t, err)
	_, err = stack.ledger.Withdraw(operator, ethAsset, usdAsset, big.NewInt(1))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestBuildLedgerRequiresParams(t *testing.T) {
	_, err := buildLedger(storage.NewMemDB(), nil, nil, nil)
	require.Error(t, err)
}

func TestSampleParamsBootstrap(t *testing.T) {
	params, err := lending.LoadConfig("params.toml")
	require.NoError(t, err)
	stack, err := buildLedger(storage.NewMemDB(), params, nil, nil)
	require.NoError(t, err)
	for _, spec := range params.Assets {
		asset, err := crypto.DecodeAddressWithPrefix(spec.Asset, crypto.AssetPrefix)
		require.NoError(t, err)
		risk, err := stack.ledger.GetFactor(asset)
		require.NoError(t, err)
		assert.Equal(t, spec.CollateralFactorBps, risk.CollateralFactorBps)
	}
	require.NotNil(t, stack.Adapter())
}
