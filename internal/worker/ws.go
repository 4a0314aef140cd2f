package worker

import (
	"context"
	"time"

	"VoteCredit/internal/chain"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/models"
	"VoteCredit/internal/solana"
	"VoteCredit/internal/verification"

	"go.uber.org/zap"
)

const (
	slotCursor = "solana_ws_slot"

	backfillPageSize = 1000
	backfillMaxPages = 10
)

// RunWS follows transfers into the receiving wallet over logsSubscribe and
// settles the payer's pending intent before the client reports it.
func (w *Worker) RunWS(ctx context.Context) {
	if w.WSEndpoint == "" || w.SolanaReceiver == "" || w.Solana == nil {
		logger.Info("solana listener disabled")
		return
	}
	delay := w.ReconnectDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.listen(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("solana listener disconnected", zap.String("endpoint", w.WSEndpoint), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Worker) listen(ctx context.Context) error {
	client := chain.NewWSClient(w.WSEndpoint)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	err := client.Subscribe("logsSubscribe",
		map[string]any{"mentions": []string{w.SolanaReceiver}},
		map[string]any{"commitment": "finalized"},
	)
	if err != nil {
		return err
	}
	logger.Info("solana listener connected", zap.String("endpoint", w.WSEndpoint))

	// Subscribed first so nothing falls between the backfill and the stream.
	w.Backfill(ctx)

	for {
		msg, err := client.Read()
		if err != nil {
			return err
		}
		if msg.Method != "logsNotification" {
			continue
		}
		n, err := solana.ParseLogsNotification(msg.Params)
		if err != nil {
			logger.Warn("solana notification parse failed", zap.Error(err))
			continue
		}
		if n.Failed {
			continue
		}
		w.HandleSignature(ctx, n.Signature, n.Slot)
	}
}

// Backfill replays receiver activity from the stored slot onward.
// logsSubscribe only delivers new notifications, so transfers that landed
// while the listener was away are found through getSignaturesForAddress.
// The stored slot itself is replayed; settlement is idempotent.
func (w *Worker) Backfill(ctx context.Context) {
	if w.Cursors == nil {
		return
	}
	last, err := w.Cursors.Cursor(ctx, slotCursor)
	if err != nil {
		logger.Warn("load slot cursor", zap.Error(err))
		return
	}
	if last <= 0 {
		return
	}

	var missed []solana.SignatureInfo
	before := ""
	complete := false
	for page := 0; page < backfillMaxPages && !complete; page++ {
		sigs, err := w.Solana.SignaturesForAddress(ctx, w.SolanaReceiver, before, backfillPageSize)
		if err != nil {
			logger.Warn("solana backfill page failed", zap.Error(err))
			break
		}
		complete = len(sigs) < backfillPageSize
		for _, s := range sigs {
			if int64(s.Slot) < last {
				complete = true
				break
			}
			missed = append(missed, s)
		}
		if len(sigs) > 0 {
			before = sigs[len(sigs)-1].Signature
		}
	}
	if !complete {
		logger.Warn("solana backfill truncated, older transfers left to client verify",
			zap.Int64("from_slot", last),
			zap.Int("signatures", len(missed)),
		)
	}

	for i := len(missed) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		if missed[i].Failed() {
			continue
		}
		w.HandleSignature(ctx, missed[i].Signature, missed[i].Slot)
	}
	if len(missed) > 0 {
		logger.Info("solana backfill done", zap.Int64("from_slot", last), zap.Int("signatures", len(missed)))
	}
}

// HandleSignature fetches a finalized transaction and offers it to the
// pending intents of its signers.
func (w *Worker) HandleSignature(ctx context.Context, signature string, slot uint64) {
	tx, err := w.Solana.GetTransaction(ctx, signature)
	if err != nil {
		logger.Warn("solana fetch failed", zap.String("signature", signature), zap.Error(err))
		return
	}
	if tx != nil && tx.Meta != nil && !tx.Failed() {
		intent, err := w.Intents.ResolveObserved(ctx, models.RailAccountChain, tx.Signers(), signature)
		switch {
		case err == nil:
			logger.Info("observed transfer settled intent",
				zap.String("intent_id", intent.ID),
				zap.String("signature", signature),
			)
		case verification.KindOf(err) == verification.KindNotFound:
			logger.Debug("observed transfer matches no intent", zap.String("signature", signature))
		default:
			logger.Warn("observed transfer not settled", zap.String("signature", signature), zap.Error(err))
		}
	}

	if w.Cursors != nil && slot > 0 {
		if err := w.Cursors.SetCursor(ctx, slotCursor, int64(slot)); err != nil {
			logger.Warn("store slot cursor", zap.Error(err))
		}
	}
}
