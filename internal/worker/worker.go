package worker

import (
	"context"
	"time"

	"VoteCredit/internal/logger"
	"VoteCredit/internal/models"
	"VoteCredit/internal/solana"

	"go.uber.org/zap"
)

// Intents is the part of the intent service the worker drives.
type Intents interface {
	ReconcilePending(ctx context.Context, rail models.Rail, limit int) (int, error)
	ResolveObserved(ctx context.Context, rail models.Rail, payers []string, ref string) (*models.Intent, error)
}

type Cursors interface {
	Cursor(ctx context.Context, key string) (int64, error)
	SetCursor(ctx context.Context, key string, value int64) error
}

type TxFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
	SignaturesForAddress(ctx context.Context, address, before string, limit int) ([]solana.SignatureInfo, error)
}

type Worker struct {
	Intents   Intents
	Cursors   Cursors
	Rails     []models.Rail
	Interval  time.Duration
	BatchSize int

	// Listener settings; the listener is off when WSEndpoint is empty.
	Solana         TxFetcher
	WSEndpoint     string
	SolanaReceiver string
	ReconnectDelay time.Duration
}

func (w *Worker) Run(ctx context.Context) {
	go w.RunWS(ctx)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SyncOnce(ctx); err != nil {
			logger.Error("reconcile pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce re-verifies one batch of PENDING intents per rail.
func (w *Worker) SyncOnce(ctx context.Context) error {
	for _, rail := range w.Rails {
		resolved, err := w.Intents.ReconcilePending(ctx, rail, w.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("reconcile rail failed", zap.String("rail", string(rail)), zap.Error(err))
			continue
		}
		if resolved > 0 {
			logger.Info("reconciled intents",
				zap.String("rail", string(rail)),
				zap.Int("resolved", resolved),
			)
		}
	}
	return nil
}
