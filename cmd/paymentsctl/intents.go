package main

import (
	"context"
	"fmt"
	"time"

	"VoteCredit/internal/app"
	"VoteCredit/internal/bundles"
	"VoteCredit/internal/config"
	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"

	"github.com/spf13/cobra"
)

var (
	userID    string
	railName  string
	batchSize int
)

type intentView struct {
	ID                string `json:"intentId"`
	UserID            string `json:"userId"`
	Rail              string `json:"rail"`
	Status            string `json:"status"`
	BundleID          string `json:"bundleId"`
	CreditCount       int64  `json:"creditCount"`
	AmountRaw         string `json:"amountRaw"`
	Asset             string `json:"asset"`
	ExternalReference string `json:"externalReference,omitempty"`
	FailureReason     string `json:"failureReason,omitempty"`
	CreatedAt         string `json:"createdAt"`
	CompletedAt       string `json:"completedAt,omitempty"`
}

func view(i *models.Intent) intentView {
	v := intentView{
		ID:                i.ID,
		UserID:            i.UserID,
		Rail:              string(i.Rail),
		Status:            string(i.Status),
		BundleID:          i.BundleID,
		CreditCount:       i.CreditCount,
		AmountRaw:         i.AmountRaw,
		Asset:             i.Asset,
		ExternalReference: i.Reference(),
		CreatedAt:         i.CreatedAt.Format(time.RFC3339),
	}
	if i.FailureReason != nil {
		v.FailureReason = *i.FailureReason
	}
	if i.CompletedAt != nil {
		v.CompletedAt = i.CompletedAt.Format(time.RFC3339)
	}
	return v
}

var bundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "List the credit bundle catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		catalog, err := bundles.FromConfig(cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd, catalog.List())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <intent-id>",
	Short: "Show an intent owned by --user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			intent, err := a.Intents.Status(ctx, userID, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view(intent))
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <intent-id> [external-reference]",
	Short: "Verify a payment reference and settle the intent",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) == 2 {
			ref = args[1]
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			intent, err := a.Intents.Verify(ctx, userID, args[0], ref)
			if intent != nil {
				if perr := printJSON(cmd, view(intent)); perr != nil {
					return perr
				}
			}
			if verification.KindOf(err) == verification.KindTransient {
				fmt.Fprintln(cmd.ErrOrStderr(), "payment not yet confirmed:", err)
				return nil
			}
			return err
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-verify one batch of pending intents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rails := a.Rails()
			if railName != "" {
				rails = []models.Rail{models.Rail(railName)}
			}
			for _, rail := range rails {
				n, err := a.Intents.ReconcilePending(ctx, rail, batchSize)
				if err != nil {
					return fmt.Errorf("%s: %w", rail, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resolved\n", rail, n)
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&userID, "user", "", "owner user id")
	verifyCmd.Flags().StringVar(&userID, "user", "", "owner user id")
	_ = statusCmd.MarkFlagRequired("user")
	_ = verifyCmd.MarkFlagRequired("user")

	reconcileCmd.Flags().StringVar(&railName, "rail", "", "CARD, ACCOUNT_CHAIN or MOVE_CHAIN (default all enabled)")
	reconcileCmd.Flags().IntVar(&batchSize, "batch", 50, "intents per rail")
}
