package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"VoteCredit/internal/models"
	"VoteCredit/internal/solana"
	"VoteCredit/internal/store"
	"VoteCredit/internal/verification"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	payers []string
	ref    string
}

type fakeIntents struct {
	mu         sync.Mutex
	reconciled []models.Rail
	observed   []observed
	failRail   models.Rail
	resolve    func(ref string) (*models.Intent, error)
}

func (f *fakeIntents) ReconcilePending(_ context.Context, rail models.Rail, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, rail)
	if rail == f.failRail {
		return 0, errors.New("db down")
	}
	return 1, nil
}

func (f *fakeIntents) ResolveObserved(_ context.Context, _ models.Rail, payers []string, ref string) (*models.Intent, error) {
	f.mu.Lock()
	f.observed = append(f.observed, observed{payers: payers, ref: ref})
	f.mu.Unlock()
	if f.resolve != nil {
		return f.resolve(ref)
	}
	return &models.Intent{ID: "i1"}, nil
}

func (f *fakeIntents) seen() []observed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]observed(nil), f.observed...)
}

type fakeFetcher struct {
	txs     map[string]*solana.Transaction
	history []solana.SignatureInfo // newest first
	pages   int
}

func (f *fakeFetcher) GetTransaction(_ context.Context, sig string) (*solana.Transaction, error) {
	return f.txs[sig], nil
}

func (f *fakeFetcher) SignaturesForAddress(_ context.Context, _ string, before string, limit int) ([]solana.SignatureInfo, error) {
	f.pages++
	start := 0
	if before != "" {
		for i, s := range f.history {
			if s.Signature == before {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[start:end], nil
}

func signedBy(payer string) *solana.Transaction {
	tx := &solana.Transaction{Meta: &solana.Meta{}}
	tx.Transaction.Message.AccountKeys = []solana.AccountKey{
		{Pubkey: payer, Signer: true},
		{Pubkey: "receiver"},
	}
	return tx
}

func TestSyncOnceVisitsEveryRail(t *testing.T) {
	intents := &fakeIntents{failRail: models.RailCard}
	w := &Worker{
		Intents:   intents,
		Rails:     []models.Rail{models.RailCard, models.RailAccountChain, models.RailMoveChain},
		BatchSize: 10,
	}

	require.NoError(t, w.SyncOnce(context.Background()))
	assert.Equal(t, w.Rails, intents.reconciled)
}

func TestHandleSignature(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	intents := &fakeIntents{resolve: func(string) (*models.Intent, error) {
		return nil, verification.NotFound("no intent")
	}}
	w := &Worker{
		Intents: intents,
		Cursors: st,
		Solana:  &fakeFetcher{txs: map[string]*solana.Transaction{"sig-1": signedBy("payer-1")}},
	}

	w.HandleSignature(ctx, "sig-1", 42)
	w.HandleSignature(ctx, "sig-missing", 43)

	seen := intents.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"payer-1"}, seen[0].payers)
	assert.Equal(t, "sig-1", seen[0].ref)

	slot, err := st.Cursor(ctx, slotCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(43), slot)
}

func TestBackfillReplaysFromStoredSlot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SetCursor(ctx, slotCursor, 100))

	failed := signedBy("payer-f")
	failed.Meta.Err = []byte(`{"InstructionError":[0,"Custom"]}`)
	fetcher := &fakeFetcher{
		txs: map[string]*solana.Transaction{
			"s-new":  signedBy("payer-a"),
			"s-same": signedBy("payer-b"),
			"s-old":  signedBy("payer-c"),
			"s-fail": failed,
		},
		history: []solana.SignatureInfo{
			{Signature: "s-new", Slot: 105},
			{Signature: "s-fail", Slot: 103, Err: []byte(`{"InstructionError":[0,"Custom"]}`)},
			{Signature: "s-same", Slot: 100},
			{Signature: "s-old", Slot: 90},
		},
	}
	intents := &fakeIntents{}
	w := &Worker{Intents: intents, Cursors: st, Solana: fetcher, SolanaReceiver: "receiver"}

	w.Backfill(ctx)

	seen := intents.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, "s-same", seen[0].ref)
	assert.Equal(t, "s-new", seen[1].ref)
	assert.Equal(t, []string{"payer-a"}, seen[1].payers)

	slot, err := st.Cursor(ctx, slotCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(105), slot)
}

func TestBackfillPagesBackwards(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SetCursor(ctx, slotCursor, 1))

	fetcher := &fakeFetcher{txs: map[string]*solana.Transaction{}}
	for slot := backfillPageSize + 10; slot > 0; slot-- {
		sig := fmt.Sprintf("s-%d", slot)
		fetcher.history = append(fetcher.history, solana.SignatureInfo{Signature: sig, Slot: uint64(slot)})
	}
	intents := &fakeIntents{}
	w := &Worker{Intents: intents, Cursors: st, Solana: fetcher, SolanaReceiver: "receiver"}

	w.Backfill(ctx)

	assert.Equal(t, 2, fetcher.pages)
	slot, err := st.Cursor(ctx, slotCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(backfillPageSize+10), slot)
}

func TestBackfillSkippedWithoutCursor(t *testing.T) {
	fetcher := &fakeFetcher{history: []solana.SignatureInfo{{Signature: "s", Slot: 5}}}
	intents := &fakeIntents{}
	w := &Worker{Intents: intents, Cursors: store.NewMemory(), Solana: fetcher, SolanaReceiver: "receiver"}

	w.Backfill(context.Background())

	assert.Zero(t, fetcher.pages)
	assert.Empty(t, intents.seen())
}

func TestRunWSSubscribesAndDispatches(t *testing.T) {
	subscribed := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": 7})
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "logsNotification",
			"params": map[string]any{
				"subscription": 7,
				"result": map[string]any{
					"context": map[string]any{"slot": 99},
					"value":   map[string]any{"signature": "sig-ws", "err": nil, "logs": []string{}},
				},
			},
		})
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	intents := &fakeIntents{}
	st := store.NewMemory()
	require.NoError(t, st.SetCursor(context.Background(), slotCursor, 50))
	fetcher := &fakeFetcher{
		txs: map[string]*solana.Transaction{
			"sig-ws":     signedBy("payer-ws"),
			"sig-missed": signedBy("payer-away"),
		},
		history: []solana.SignatureInfo{{Signature: "sig-missed", Slot: 60}, {Signature: "sig-old", Slot: 40}},
	}
	w := &Worker{
		Intents:        intents,
		Cursors:        st,
		Solana:         fetcher,
		WSEndpoint:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		SolanaReceiver: "receiver",
		ReconnectDelay: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.RunWS(ctx)
		close(done)
	}()

	select {
	case req := <-subscribed:
		assert.Equal(t, "logsSubscribe", req["method"])
	case <-time.After(2 * time.Second):
		t.Fatal("listener never subscribed")
	}

	require.Eventually(t, func() bool { return len(intents.seen()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "sig-missed", intents.seen()[0].ref, "backfill runs before live notifications")
	assert.Equal(t, "sig-ws", intents.seen()[1].ref)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	slot, err := st.Cursor(context.Background(), slotCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(99), slot)
}

func TestRunWSDisabledWithoutEndpoint(t *testing.T) {
	w := &Worker{Intents: &fakeIntents{}}
	done := make(chan struct{})
	go func() {
		w.RunWS(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled listener should return immediately")
	}
}
