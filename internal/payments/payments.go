package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"VoteCredit/internal/logger"
	"VoteCredit/internal/metrics"
	"VoteCredit/internal/models"
	"VoteCredit/internal/notify"
	"VoteCredit/internal/store"
	"VoteCredit/internal/verification"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

// Settler is the only code path that moves an intent out of PENDING.
type Settler struct {
	Store    store.Store
	Notifier notify.Notifier

	now func() time.Time
	wg  sync.WaitGroup
}

func NewSettler(st store.Store, n notify.Notifier) *Settler {
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Settler{
		Store:    st,
		Notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Outcome is the intent as it stands after a settlement attempt.
// Settled is true only for the call that performed the transition.
type Outcome struct {
	Intent  *models.Intent
	Settled bool
	Balance int64
}

// Settle completes a PENDING intent with an accepted verification result,
// credits the owner and appends the ledger entry in one transaction.
// A terminal intent is returned unchanged.
func (s *Settler) Settle(ctx context.Context, intentID string, res verification.Result) (*Outcome, error) {
	if res.ExternalReference == "" {
		return nil, verification.Invalid("external reference is required")
	}

	var out Outcome
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		intent, err := tx.LockIntent(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != models.IntentPending {
			out.Intent = intent
			return nil
		}

		owner, err := tx.ReferenceOwner(ctx, res.ExternalReference)
		if err != nil {
			return err
		}
		if owner != "" && owner != intent.ID {
			return verification.ErrReplayConflict
		}

		at := s.now()
		if err := tx.MarkCompleted(ctx, intent.ID, res.ExternalReference, at); err != nil {
			return err
		}
		balance, err := tx.IncrementCredits(ctx, intent.UserID, intent.CreditCount)
		if err != nil {
			return err
		}

		amount := res.AmountRaw
		if amount == "" {
			amount = intent.AmountRaw
		}
		asset := res.Asset
		if asset == "" {
			asset = intent.Asset
		}
		err = tx.AppendLedger(ctx, &models.LedgerEntry{
			ID:                uuid.NewString(),
			IntentID:          intent.ID,
			UserID:            intent.UserID,
			Rail:              intent.Rail,
			ExternalReference: res.ExternalReference,
			Asset:             asset,
			AmountRaw:         amount,
			CreditCount:       intent.CreditCount,
			Direction:         "credit",
			CreatedAt:         at,
		})
		if err != nil {
			return err
		}

		ref := res.ExternalReference
		intent.Status = models.IntentCompleted
		intent.ExternalReference = &ref
		intent.CompletedAt = &at
		intent.UpdatedAt = at

		out = Outcome{Intent: intent, Settled: true, Balance: balance}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, verification.NotFound("intent %s", intentID)
		}
		if errors.Is(err, verification.ErrReplayConflict) {
			metrics.ReplayConflictsTotal.Inc()
			logger.Warn("external reference replay rejected",
				zap.String("intent_id", intentID),
				zap.String("external_reference", res.ExternalReference),
			)
		}
		return nil, err
	}

	if out.Settled {
		metrics.SettlementsTotal.WithLabelValues(string(out.Intent.Rail), "completed").Inc()
		metrics.CreditsIssuedTotal.WithLabelValues(string(out.Intent.Rail)).Add(float64(out.Intent.CreditCount))
		logger.Info("intent settled",
			zap.String("intent_id", out.Intent.ID),
			zap.String("user_id", out.Intent.UserID),
			zap.String("external_reference", res.ExternalReference),
			zap.Int64("credits", out.Intent.CreditCount),
		)
		s.publish(ctx, out)
	}
	return &out, nil
}

// Fail moves a PENDING intent to FAILED. A terminal intent is returned unchanged.
func (s *Settler) Fail(ctx context.Context, intentID, reason string) (*models.Intent, error) {
	var result *models.Intent
	failed := false
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		intent, err := tx.LockIntent(ctx, intentID)
		if err != nil {
			return err
		}
		result = intent
		if intent.Status != models.IntentPending {
			return nil
		}

		at := s.now()
		if err := tx.MarkFailed(ctx, intent.ID, reason, at); err != nil {
			return err
		}
		intent.Status = models.IntentFailed
		intent.FailureReason = &reason
		intent.CompletedAt = &at
		intent.UpdatedAt = at
		failed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, verification.NotFound("intent %s", intentID)
		}
		return nil, err
	}

	if failed {
		metrics.SettlementsTotal.WithLabelValues(string(result.Rail), "failed").Inc()
		logger.Info("intent failed",
			zap.String("intent_id", result.ID),
			zap.String("reason", reason),
		)
	}
	return result, nil
}

// Wait blocks until queued notifications have been attempted.
func (s *Settler) Wait() {
	s.wg.Wait()
}

func (s *Settler) publish(ctx context.Context, out Outcome) {
	ev := notify.Event{
		IntentID:          out.Intent.ID,
		UserID:            out.Intent.UserID,
		Rail:              out.Intent.Rail,
		ExternalReference: out.Intent.Reference(),
		CreditCount:       out.Intent.CreditCount,
		Balance:           out.Balance,
		SettledAt:         *out.Intent.CompletedAt,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.Notifier.Publish(nctx, ev); err != nil {
			logger.Warn("settlement notification failed",
				zap.String("intent_id", ev.IntentID),
				zap.Error(err),
			)
		}
	}()
}
