package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"VoteCredit/internal/models"
	"VoteCredit/internal/notify"
	"VoteCredit/internal/store"
	"VoteCredit/internal/verification"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func seedIntent(t *testing.T, st *store.Memory, id string) *models.Intent {
	t.Helper()
	now := time.Now().UTC()
	intent := &models.Intent{
		ID:          id,
		UserID:      "u1",
		Rail:        models.RailAccountChain,
		Status:      models.IntentPending,
		BundleID:    "b1",
		Amount:      decimal.NewFromInt(10),
		AmountRaw:   "10000000",
		Asset:       "mint",
		Decimals:    6,
		FromAddress: "payer",
		ToAddress:   "receiver",
		CreditCount: 10,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateIntent(context.Background(), intent))
	return intent
}

func accepted(ref string) verification.Result {
	return verification.Result{Accepted: true, ExternalReference: ref, AmountRaw: "10000000", Asset: "mint"}
}

func TestSettleCreditsExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := &recordingNotifier{}
	s := NewSettler(st, n)
	seedIntent(t, st, "i1")

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.Settle(ctx, "i1", accepted("sig1"))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, models.IntentCompleted, out.Intent.Status)
			if out.Settled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Wait()

	require.Equal(t, 1, settled)
	balance, err := st.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	entries, err := st.LedgerEntries(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "sig1", entries[0].ExternalReference)
	require.Equal(t, 1, n.count())
}

func TestSettleIsIdempotentAfterCompletion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := NewSettler(st, &recordingNotifier{})
	seedIntent(t, st, "i1")

	first, err := s.Settle(ctx, "i1", accepted("sig1"))
	require.NoError(t, err)
	second, err := s.Settle(ctx, "i1", accepted("sig1"))
	require.NoError(t, err)
	s.Wait()

	require.True(t, first.Settled)
	require.False(t, second.Settled)
	require.Equal(t, first.Intent.Status, second.Intent.Status)
	require.Equal(t, first.Intent.Reference(), second.Intent.Reference())
}

func TestSettleRejectsReferenceBoundElsewhere(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := NewSettler(st, &recordingNotifier{})
	seedIntent(t, st, "i1")
	seedIntent(t, st, "i2")

	_, err := s.Settle(ctx, "i1", accepted("sig1"))
	require.NoError(t, err)

	_, err = s.Settle(ctx, "i2", accepted("sig1"))
	require.ErrorIs(t, err, verification.ErrReplayConflict)
	s.Wait()

	intent, err := st.GetIntent(ctx, "i2")
	require.NoError(t, err)
	require.Equal(t, models.IntentPending, intent.Status)

	balance, err := st.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)
}

func TestFailIsTerminal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := NewSettler(st, &recordingNotifier{})
	seedIntent(t, st, "i1")

	failed, err := s.Fail(ctx, "i1", "amount below intent")
	require.NoError(t, err)
	require.Equal(t, models.IntentFailed, failed.Status)

	out, err := s.Settle(ctx, "i1", accepted("sig1"))
	require.NoError(t, err)
	require.False(t, out.Settled)
	require.Equal(t, models.IntentFailed, out.Intent.Status)

	balance, err := st.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestSettleSurvivesNotificationFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := NewSettler(st, &recordingNotifier{err: errors.New("broker down")})
	seedIntent(t, st, "i1")

	out, err := s.Settle(ctx, "i1", accepted("sig1"))
	require.NoError(t, err)
	s.Wait()
	require.True(t, out.Settled)

	intent, err := st.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, models.IntentCompleted, intent.Status)
}

func TestSettleUnknownIntent(t *testing.T) {
	s := NewSettler(store.NewMemory(), nil)
	_, err := s.Settle(context.Background(), "missing", accepted("sig1"))
	require.ErrorIs(t, err, verification.ErrNotFound)

	_, err = s.Settle(context.Background(), "missing", verification.Result{})
	require.ErrorIs(t, err, verification.ErrValidation)
}
