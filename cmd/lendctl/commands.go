package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"isolend/crypto"
	"isolend/native/lending"
	"isolend/services/lending/client"
	"isolend/services/lending/engine"
	"isolend/services/lending/server"
)

type positionFlags struct {
	owner      string
	collateral string
	debt       string
}

func (p *positionFlags) bind(cmd *cobra.Command, ownerRequired bool) {
	flags := cmd.Flags()
	flags.StringVar(&p.owner, "owner", "", "position owner (defaults to the caller for mutations)")
	flags.StringVar(&p.collateral, "collateral", "", "collateral asset")
	flags.StringVar(&p.debt, "debt", "", "debt asset")
	_ = cmd.MarkFlagRequired("collateral")
	_ = cmd.MarkFlagRequired("debt")
	if ownerRequired {
		_ = cmd.MarkFlagRequired("owner")
	}
}

func (p positionFlags) ref() engine.PositionRef {
	return engine.PositionRef{Owner: p.owner, CollateralAsset: p.collateral, DebtAsset: p.debt}
}

type mutationFn func(c *client.Client, ctx context.Context, req server.PositionRequest) (engine.Position, error)

func positionMutationCommand(opts *globalOptions, use, short string, fn mutationFn) *cobra.Command {
	var (
		pos    positionFlags
		amount string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			result, err := fn(c, cmd.Context(), server.PositionRequest{
				Owner:           pos.owner,
				CollateralAsset: pos.collateral,
				DebtAsset:       pos.debt,
				Amount:          amount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	pos.bind(cmd, false)
	cmd.Flags().StringVar(&amount, "amount", "", "decimal amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func liquidateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "liquidate", Short: "Open or settle liquidations"}

	var readyPos positionFlags
	ready := &cobra.Command{
		Use:   "ready",
		Short: "Open a liquidation auction for an unhealthy position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ref := readyPos.ref()
			auction, err := c.LiquidateReady(cmd.Context(), server.LiquidateRequest{
				Owner: ref.Owner, CollateralAsset: ref.CollateralAsset, DebtAsset: ref.DebtAsset,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, auction)
		},
	}
	readyPos.bind(ready, true)

	var (
		settlePos  positionFlags
		repayAsset string
		amount     string
	)
	settle := &cobra.Command{
		Use:   "settle",
		Short: "Repay debt of a position under auction and receive discounted collateral",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ref := settlePos.ref()
			result, err := c.Liquidate(cmd.Context(), server.LiquidateRequest{
				Owner:           ref.Owner,
				CollateralAsset: ref.CollateralAsset,
				DebtAsset:       ref.DebtAsset,
				RepayAsset:      repayAsset,
				Amount:          amount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	settlePos.bind(settle, true)
	settle.Flags().StringVar(&repayAsset, "repay-asset", "", "asset used to repay (defaults to the debt asset)")
	settle.Flags().StringVar(&amount, "amount", "", "amount to repay (defaults to the whole debt)")

	cmd.AddCommand(ready, settle)
	return cmd
}

func positionCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "position", Short: "Inspect positions"}

	var getPos positionFlags
	get := &cobra.Command{
		Use:   "get",
		Short: "Show a position with its health factor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			pos, err := c.GetPosition(cmd.Context(), getPos.ref())
			if err != nil {
				return err
			}
			return printJSON(cmd, pos)
		},
	}
	getPos.bind(get, true)

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List every position of an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			positions, err := c.ListPositions(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd, positions)
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "position owner")
	_ = list.MarkFlagRequired("owner")

	cmd.AddCommand(get, list)
	return cmd
}

func auctionCommand(opts *globalOptions) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "auction",
		Short: "Show the liquidation auction of a position key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			auction, err := c.GetAuction(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd, auction)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "0x-prefixed position key")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func assetCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "asset", Short: "Balances, allowances and risk factors"}

	var mintAsset, mintTo, mintAmount string
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint an asset (mint authority only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return c.Mint(cmd.Context(), mintAsset, mintTo, mintAmount)
		},
	}
	mint.Flags().StringVar(&mintAsset, "asset", "", "asset")
	mint.Flags().StringVar(&mintTo, "to", "", "recipient account")
	mint.Flags().StringVar(&mintAmount, "amount", "", "decimal amount")
	for _, name := range []string{"asset", "to", "amount"} {
		_ = mint.MarkFlagRequired(name)
	}

	var approveAsset, approveAmount string
	approve := &cobra.Command{
		Use:   "approve",
		Short: "Allow the ledger custody to pull an asset from the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return c.Approve(cmd.Context(), approveAsset, approveAmount)
		},
	}
	approve.Flags().StringVar(&approveAsset, "asset", "", "asset")
	approve.Flags().StringVar(&approveAmount, "amount", "", "decimal allowance")
	_ = approve.MarkFlagRequired("asset")
	_ = approve.MarkFlagRequired("amount")

	var balanceAsset, balanceAccount string
	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show an account balance and its allowance to custody",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			bal, err := c.GetBalance(cmd.Context(), balanceAsset, balanceAccount)
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		},
	}
	balance.Flags().StringVar(&balanceAsset, "asset", "", "asset")
	balance.Flags().StringVar(&balanceAccount, "account", "", "account")
	_ = balance.MarkFlagRequired("asset")
	_ = balance.MarkFlagRequired("account")

	var factorAsset string
	factor := &cobra.Command{
		Use:   "factor",
		Short: "Show the risk factors of an asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out, err := c.GetAssetFactor(cmd.Context(), factorAsset)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	factor.Flags().StringVar(&factorAsset, "asset", "", "asset")
	_ = factor.MarkFlagRequired("asset")

	cmd.AddCommand(mint, approve, balance, factor)
	return cmd
}

func adminCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Owner-only registry and oracle updates"}

	var (
		factorAsset string
		debtWeight  uint64
		collateral  uint64
	)
	factor := &cobra.Command{
		Use:   "set-factor",
		Short: "Set the debt weight and collateral factor of an asset in basis points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return c.SetAssetFactor(cmd.Context(), engine.AssetFactor{
				Asset:               factorAsset,
				DebtWeightBps:       debtWeight,
				CollateralFactorBps: collateral,
			})
		},
	}
	factor.Flags().StringVar(&factorAsset, "asset", "", "asset")
	factor.Flags().Uint64Var(&debtWeight, "debt-weight-bps", 0, "debt weight (10000 = 1.0)")
	factor.Flags().Uint64Var(&collateral, "collateral-factor-bps", 0, "collateral factor (10000 = 1.0)")
	for _, name := range []string{"asset", "debt-weight-bps", "collateral-factor-bps"} {
		_ = factor.MarkFlagRequired(name)
	}

	var priceAsset, price string
	setPrice := &cobra.Command{
		Use:   "set-price",
		Short: "Publish an asset price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return c.SetPrice(cmd.Context(), priceAsset, price)
		},
	}
	setPrice.Flags().StringVar(&priceAsset, "asset", "", "asset")
	setPrice.Flags().StringVar(&price, "price", "", "decimal price")
	_ = setPrice.MarkFlagRequired("asset")
	_ = setPrice.MarkFlagRequired("price")

	var newOwner string
	setOwner := &cobra.Command{
		Use:   "set-owner",
		Short: "Transfer ownership of the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return c.SetOwner(cmd.Context(), newOwner)
		},
	}
	setOwner.Flags().StringVar(&newOwner, "new-owner", "", "new owner account")
	_ = setOwner.MarkFlagRequired("new-owner")

	cmd.AddCommand(factor, setPrice, setOwner)
	return cmd
}

func historyCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Read the settlement journal"}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the newest journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := c.RecentHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	recent.Flags().IntVar(&limit, "limit", 0, "number of entries (server default when zero)")

	var key string
	position := &cobra.Command{
		Use:   "position",
		Short: "Show the journal of one position key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := c.PositionHistory(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	position.Flags().StringVar(&key, "key", "", "0x-prefixed position key")
	_ = position.MarkFlagRequired("key")

	cmd.AddCommand(recent, position)
	return cmd
}

// keyCommand derives a position key without contacting the daemon.
func keyCommand() *cobra.Command {
	var pos positionFlags
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Derive the position key of (owner, collateral, debt) offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := crypto.DecodeAddressWithPrefix(pos.owner, crypto.AccountPrefix)
			if err != nil {
				return fmt.Errorf("owner: %w", err)
			}
			collateral, err := crypto.DecodeAddressWithPrefix(pos.collateral, crypto.AssetPrefix)
			if err != nil {
				return fmt.Errorf("collateral: %w", err)
			}
			debt, err := crypto.DecodeAddressWithPrefix(pos.debt, crypto.AssetPrefix)
			if err != nil {
				return fmt.Errorf("debt: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), lending.PositionKeyFor(owner, collateral, debt).Hex())
			return err
		},
	}
	pos.bind(cmd, true)
	return cmd
}
