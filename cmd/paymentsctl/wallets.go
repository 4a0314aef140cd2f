package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"VoteCredit/internal/app"
	"VoteCredit/internal/aptos"
	"VoteCredit/internal/models"
	"VoteCredit/internal/solana"

	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage registered payer wallets",
}

var walletSetCmd = &cobra.Command{
	Use:   "set <user-id> <solana|aptos> <address>",
	Short: "Register the wallet a user pays from",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := normalizeWallet(args[1], args[2])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Store.SaveWallet(ctx, models.Wallet{UserID: args[0], Chain: args[1], Address: addr}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s wallet set to %s\n", args[0], args[1], addr)
			return nil
		})
	},
}

var custodyCmd = &cobra.Command{
	Use:   "custody",
	Short: "Manage server-held signing keys",
}

var custodyImportCmd = &cobra.Command{
	Use:   "import <user-id>",
	Short: "Seal a hex ed25519 seed read from stdin and register its aptos wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read seed: %w", err)
		}
		seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(line), "0x"))
		if err != nil {
			return fmt.Errorf("seed is not hex: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Keyring == nil {
				return errors.New("custody.master_key is not configured")
			}
			rec, err := a.Keyring.Import(args[0], seed)
			if err != nil {
				return err
			}
			if err := a.Store.SaveCustodialKey(ctx, rec); err != nil {
				return err
			}
			if err := a.Store.SaveWallet(ctx, models.Wallet{UserID: rec.UserID, Chain: rec.Chain, Address: rec.Address}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "custodial key imported for %s, wallet %s\n", rec.UserID, rec.Address)
			return nil
		})
	},
}

func normalizeWallet(chain, addr string) (string, error) {
	switch chain {
	case "solana":
		if !solana.ValidAddress(addr) {
			return "", fmt.Errorf("invalid solana address %q", addr)
		}
		return addr, nil
	case "aptos":
		return aptos.NormalizeAddress(addr)
	}
	return "", fmt.Errorf("unknown chain %q", chain)
}

func init() {
	walletCmd.AddCommand(walletSetCmd)
	custodyCmd.AddCommand(custodyImportCmd)
}
