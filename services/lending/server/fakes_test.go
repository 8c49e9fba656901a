package server

import (
	"context"

	"isolend/services/lending/engine"
)

type fakeEngine struct {
	depositFn        func(ctx context.Context, ref engine.PositionRef, amount string) (engine.Position, error)
	borrowFn         func(ctx context.Context, ref engine.PositionRef, amount string) (engine.Position, error)
	liquidateReadyFn func(ctx context.Context, ref engine.PositionRef) (engine.Auction, error)
	liquidateFn      func(ctx context.Context, ref engine.PositionRef, liquidator, repayAsset, amount string) (engine.Liquidation, error)
	getPositionFn    func(ctx context.Context, ref engine.PositionRef) (engine.Position, error)
	getAuctionFn     func(ctx context.Context, key string) (engine.Auction, error)
	setPriceFn       func(ctx context.Context, caller, asset, price string) error
	approveFn        func(ctx context.Context, owner, asset, amount string) error
}

func (f *fakeEngine) Deposit(ctx context.Context, ref engine.PositionRef, amount string) (engine.Position, error) {
	if f.depositFn != nil {
		return f.depositFn(ctx, ref, amount)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) Withdraw(context.Context, engine.PositionRef, string) (engine.Position, error) {
	return engine.Position{}, nil
}

func (f *fakeEngine) Borrow(ctx context.Context, ref engine.PositionRef, amount string) (engine.Position, error) {
	if f.borrowFn != nil {
		return f.borrowFn(ctx, ref, amount)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) Repay(context.Context, engine.PositionRef, string) (engine.Position, error) {
	return engine.Position{}, nil
}

func (f *fakeEngine) LiquidateReady(ctx context.Context, ref engine.PositionRef) (engine.Auction, error) {
	if f.liquidateReadyFn != nil {
		return f.liquidateReadyFn(ctx, ref)
	}
	return engine.Auction{}, nil
}

func (f *fakeEngine) Liquidate(ctx context.Context, ref engine.PositionRef, liquidator, repayAsset, amount string) (engine.Liquidation, error) {
	if f.liquidateFn != nil {
		return f.liquidateFn(ctx, ref, liquidator, repayAsset, amount)
	}
	return engine.Liquidation{}, nil
}

func (f *fakeEngine) GetPosition(ctx context.Context, ref engine.PositionRef) (engine.Position, error) {
	if f.getPositionFn != nil {
		return f.getPositionFn(ctx, ref)
	}
	return engine.Position{}, nil
}

func (f *fakeEngine) ListPositions(context.Context, string) ([]engine.Position, error) {
	return nil, nil
}

func (f *fakeEngine) PositionKey(context.Context, engine.PositionRef) (string, error) {
	return "0xkey", nil
}

func (f *fakeEngine) GetAuction(ctx context.Context, key string) (engine.Auction, error) {
	if f.getAuctionFn != nil {
		return f.getAuctionFn(ctx, key)
	}
	return engine.Auction{}, nil
}

func (f *fakeEngine) GetAssetFactor(context.Context, string) (engine.AssetFactor, error) {
	return engine.AssetFactor{}, nil
}

func (f *fakeEngine) SetAssetFactor(context.Context, string, engine.AssetFactor) error {
	return nil
}

func (f *fakeEngine) SetPrice(ctx context.Context, caller, asset, price string) error {
	if f.setPriceFn != nil {
		return f.setPriceFn(ctx, caller, asset, price)
	}
	return nil
}

func (f *fakeEngine) SetOwner(context.Context, string, string) error {
	return nil
}

func (f *fakeEngine) Mint(context.Context, string, string, string, string) error {
	return nil
}

func (f *fakeEngine) Approve(ctx context.Context, owner, asset, amount string) error {
	if f.approveFn != nil {
		return f.approveFn(ctx, owner, asset, amount)
	}
	return nil
}

func (f *fakeEngine) GetBalance(context.Context, string, string) (engine.Balance, error) {
	return engine.Balance{}, nil
}
