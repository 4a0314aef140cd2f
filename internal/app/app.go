// Package app assembles the store, rails and services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"VoteCredit/internal/aptos"
	"VoteCredit/internal/bundles"
	"VoteCredit/internal/card"
	"VoteCredit/internal/chain"
	"VoteCredit/internal/config"
	"VoteCredit/internal/custody"
	"VoteCredit/internal/db"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/models"
	"VoteCredit/internal/notify"
	"VoteCredit/internal/payments"
	"VoteCredit/internal/services"
	"VoteCredit/internal/solana"
	"VoteCredit/internal/store"

	"go.uber.org/zap"
)

type App struct {
	Config   *config.Config
	Store    store.Store
	Intents  *services.IntentService
	Keyring  *custody.Keyring
	Solana   *solana.Client
	Notifier notify.Notifier

	closers []func()
}

// Rails lists the rails that have a verifier configured.
func (a *App) Rails() []models.Rail {
	var out []models.Rail
	for _, r := range []models.Rail{models.RailCard, models.RailAccountChain, models.RailMoveChain} {
		if _, ok := a.Intents.Verifiers[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Close waits for detached work and releases connections.
func (a *App) Close() {
	a.Intents.Wait()
	a.Intents.Settler.Wait()
	a.release()
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.DB.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Store = store.New(pool)
	case "memory":
		logger.Warn("using in-memory store, state is lost on exit")
		a.Store = store.NewMemory()
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	catalog, err := bundles.FromConfig(cfg)
	if err != nil {
		a.release()
		return nil, err
	}

	n, err := notify.New(cfg)
	if err != nil {
		a.release()
		return nil, err
	}
	a.Notifier = n
	a.closers = append(a.closers, func() {
		if err := n.Close(); err != nil {
			logger.Warn("close notifier", zap.Error(err))
		}
	})

	svc := &services.IntentService{
		Store:   a.Store,
		Catalog: catalog,
		Settler: payments.NewSettler(a.Store, n),
		Rails: services.RailConfig{
			CardCurrency:      cfg.Catalog.Currency,
			CardMinorUnits:    cfg.Card.MinorUnits,
			CardRedirectURL:   cfg.Card.RedirectURL,
			CardWebhookSecret: cfg.Card.WebhookSecret,
			SolanaMint:        cfg.Solana.Mint,
			SolanaDecimals:    cfg.Solana.Decimals,
			SolanaReceiver:    cfg.Solana.ReceiverWallet,
			AptosAsset:        cfg.Aptos.Asset,
			AptosDecimals:     cfg.Aptos.Decimals,
			AptosReceiver:     cfg.Aptos.ReceiverWallet,
		},
		Verifiers:     map[models.Rail]services.Verifier{},
		VerifyWait:    time.Duration(cfg.Server.VerifyWaitSeconds) * time.Second,
		VerifyTimeout: time.Duration(cfg.Server.VerifyTimeoutSeconds) * time.Second,
	}
	a.Intents = svc

	if cfg.Card.BaseURL != "" {
		client, err := card.NewClient(cfg.Card.BaseURL, cfg.Card.SecretKey, 15*time.Second)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("card client: %w", err)
		}
		svc.Checkout = client
		svc.Verifiers[models.RailCard] = card.NewVerifier(client, cfg.Catalog.Currency, cfg.Card.MinorUnits)
	}

	if len(cfg.Solana.RPCEndpoints) > 0 {
		pool, err := chain.NewPool("solana", cfg.Solana.RPCEndpoints, time.Duration(cfg.Solana.TimeoutSeconds)*time.Second)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("solana pool: %w", err)
		}
		a.Solana = solana.NewClient(pool)
		svc.Verifiers[models.RailAccountChain] = solana.NewVerifier(a.Solana)
	}

	if len(cfg.Aptos.RPCEndpoints) > 0 {
		pool, err := chain.NewPool("aptos", cfg.Aptos.RPCEndpoints, time.Duration(cfg.Aptos.TimeoutSeconds)*time.Second)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("aptos pool: %w", err)
		}
		client := aptos.NewClient(pool, chain.RetryPolicy{
			MaxAttempts: cfg.Aptos.RetryAttempts,
			Step:        time.Duration(cfg.Aptos.RetryStepMS) * time.Millisecond,
		})
		svc.Verifiers[models.RailMoveChain] = aptos.NewVerifier(client)
		svc.Submitter = aptos.NewSubmitter(client, cfg.Aptos.MaxGasAmount)
	}

	if cfg.Custody.MasterKey != "" {
		keyring, err := custody.NewKeyring(cfg.Custody.MasterKey)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("custody keyring: %w", err)
		}
		a.Keyring = keyring
		svc.Keyring = keyring
	}

	logger.Info("services assembled",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("notify_driver", cfg.Notify.Driver),
		zap.Any("rails", a.Rails()),
		zap.Bool("custody", a.Keyring != nil),
	)
	return a, nil
}

func (a *App) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
