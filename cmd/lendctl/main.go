package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"isolend/services/lending/client"
)

type globalOptions struct {
	endpoint string
	token    string
	caller   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "lendctl",
		Short:         "Operate an isolated-position lending ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	flags := root.PersistentFlags()
	flags.StringVar(&opts.endpoint, "endpoint", envOr("LENDCTL_ENDPOINT", "http://127.0.0.1:8547"), "lendingd base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("LENDCTL_TOKEN"), "API bearer token")
	flags.StringVar(&opts.caller, "caller", os.Getenv("LENDCTL_CALLER"), "account the token is bound to")

	root.AddCommand(
		positionMutationCommand(opts, "deposit", "Deposit collateral into a position", (*client.Client).Deposit),
		positionMutationCommand(opts, "withdraw", "Withdraw collateral from a position", (*client.Client).Withdraw),
		positionMutationCommand(opts, "borrow", "Borrow the debt asset against a position", (*client.Client).Borrow),
		positionMutationCommand(opts, "repay", "Repay debt of a position", (*client.Client).Repay),
		liquidateCommand(opts),
		positionCommand(opts),
		auctionCommand(opts),
		assetCommand(opts),
		adminCommand(opts),
		historyCommand(opts),
		keyCommand(),
	)
	return root
}

func (o *globalOptions) client() (*client.Client, error) {
	return client.New(o.endpoint, client.WithToken(o.token), client.WithCaller(o.caller))
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
