package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"VoteCredit/internal/app"
	"VoteCredit/internal/config"
	"VoteCredit/internal/logger"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "paymentsctl",
	Short: "Operate vote credit payment intents",
	Long: `paymentsctl inspects and settles payment intents against the configured
store and rails, registers payer wallets and imports custodial keys.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or configs/config.yaml)")
	rootCmd.AddCommand(bundlesCmd, statusCmd, verifyCmd, reconcileCmd, walletCmd, custodyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads config, assembles the services and closes them when fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Env)
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
