package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"
)

// Memory is a process-local Store. InTx holds a single lock for the whole
// transaction, so transactions are serialized and rolled back from a snapshot.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	intents   map[string]models.Intent
	byTxRef   map[string]string
	byRef     map[string]string
	balances  map[string]int64
	ledger    []models.LedgerEntry
	wallets   map[string]string
	custodial map[string]models.CustodialKey
	cursors   map[string]int64
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		intents:   map[string]models.Intent{},
		byTxRef:   map[string]string{},
		byRef:     map[string]string{},
		balances:  map[string]int64{},
		wallets:   map[string]string{},
		custodial: map[string]models.CustodialKey{},
		cursors:   map[string]int64{},
	}}
}

func walletKey(userID, chain string) string {
	return userID + "/" + chain
}

func (m *Memory) SaveWallet(_ context.Context, w models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.wallets[walletKey(w.UserID, w.Chain)] = w.Address
	return nil
}

func (m *Memory) SaveCustodialKey(_ context.Context, k *models.CustodialKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.custodial[walletKey(k.UserID, k.Chain)] = *k
	return nil
}

func (m *Memory) CreateIntent(_ context.Context, intent *models.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.intents[intent.ID]; ok {
		return fmt.Errorf("intent %s already exists", intent.ID)
	}
	if intent.TxRef != nil {
		if _, ok := m.state.byTxRef[*intent.TxRef]; ok {
			return fmt.Errorf("%w: tx_ref", verification.ErrReplayConflict)
		}
		m.state.byTxRef[*intent.TxRef] = intent.ID
	}
	m.state.intents[intent.ID] = *intent
	return nil
}

func (m *Memory) GetIntent(_ context.Context, id string) (*models.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.get(id)
}

func (m *Memory) GetIntentByTxRef(_ context.Context, txRef string) (*models.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.byTxRef[txRef]
	if !ok {
		return nil, ErrNotFound
	}
	return m.state.get(id)
}

func (m *Memory) GetIntentByReference(_ context.Context, ref string) (*models.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return m.state.get(id)
}

func (m *Memory) RecordCandidate(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.state.intents[id]
	if !ok || intent.Status != models.IntentPending {
		return nil
	}
	intent.CandidateReference = &ref
	intent.UpdatedAt = time.Now().UTC()
	m.state.intents[id] = intent
	return nil
}

func (m *Memory) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.state.intents[id]
	if !ok || intent.Status != models.IntentPending {
		return nil
	}
	intent.UpdatedAt = time.Now().UTC()
	m.state.intents[id] = intent
	return nil
}

func (m *Memory) ListPending(_ context.Context, rail models.Rail, limit int) ([]*models.Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.state.filter(func(i *models.Intent) bool {
		return i.Status == models.IntentPending && i.Rail == rail &&
			(i.CandidateReference != nil || i.TxRef != nil)
	})
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListPendingByPayer(_ context.Context, rail models.Rail, from string) ([]*models.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.state.filter(func(i *models.Intent) bool {
		return i.Status == models.IntentPending && i.Rail == rail && i.FromAddress == from
	})
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) WalletAddress(_ context.Context, userID, chain string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.state.wallets[walletKey(userID, chain)]
	if !ok {
		return "", ErrNotFound
	}
	return addr, nil
}

func (m *Memory) CustodialKey(_ context.Context, userID, chain string) (*models.CustodialKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.state.custodial[walletKey(userID, chain)]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (m *Memory) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.balances[userID], nil
}

func (m *Memory) LedgerEntries(_ context.Context, intentID string) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.state.ledger {
		if e.IntentID == intentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Cursor(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.cursors[key], nil
}

func (m *Memory) SetCursor(_ context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.cursors[key] = value
	return nil
}

func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

type memTx struct {
	s *memState
}

func (t *memTx) LockIntent(_ context.Context, id string) (*models.Intent, error) {
	return t.s.get(id)
}

func (t *memTx) ReferenceOwner(_ context.Context, ref string) (string, error) {
	return t.s.byRef[ref], nil
}

func (t *memTx) MarkCompleted(_ context.Context, id, ref string, at time.Time) error {
	intent, ok := t.s.intents[id]
	if !ok || intent.Status != models.IntentPending {
		return fmt.Errorf("intent %s is no longer pending", id)
	}
	if owner, taken := t.s.byRef[ref]; taken && owner != id {
		return fmt.Errorf("%w: external_reference", verification.ErrReplayConflict)
	}
	intent.Status = models.IntentCompleted
	intent.ExternalReference = &ref
	intent.CompletedAt = &at
	intent.UpdatedAt = at
	t.s.intents[id] = intent
	t.s.byRef[ref] = id
	return nil
}

func (t *memTx) MarkFailed(_ context.Context, id, reason string, at time.Time) error {
	intent, ok := t.s.intents[id]
	if !ok || intent.Status != models.IntentPending {
		return fmt.Errorf("intent %s is no longer pending", id)
	}
	intent.Status = models.IntentFailed
	intent.FailureReason = &reason
	intent.CompletedAt = &at
	intent.UpdatedAt = at
	t.s.intents[id] = intent
	return nil
}

func (t *memTx) IncrementCredits(_ context.Context, userID string, n int64) (int64, error) {
	t.s.balances[userID] += n
	return t.s.balances[userID], nil
}

func (t *memTx) AppendLedger(_ context.Context, e *models.LedgerEntry) error {
	for _, existing := range t.s.ledger {
		if existing.IntentID == e.IntentID || existing.ExternalReference == e.ExternalReference {
			return fmt.Errorf("%w: ledger_entries", verification.ErrReplayConflict)
		}
	}
	t.s.ledger = append(t.s.ledger, *e)
	return nil
}

func (s *memState) get(id string) (*models.Intent, error) {
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &intent, nil
}

func (s *memState) filter(keep func(*models.Intent) bool) []*models.Intent {
	var out []*models.Intent
	for _, intent := range s.intents {
		intent := intent
		if keep(&intent) {
			out = append(out, &intent)
		}
	}
	return out
}

func (s *memState) clone() memState {
	c := memState{
		intents:   make(map[string]models.Intent, len(s.intents)),
		byTxRef:   make(map[string]string, len(s.byTxRef)),
		byRef:     make(map[string]string, len(s.byRef)),
		balances:  make(map[string]int64, len(s.balances)),
		ledger:    append([]models.LedgerEntry(nil), s.ledger...),
		wallets:   s.wallets,
		custodial: s.custodial,
		cursors:   s.cursors,
	}
	for k, v := range s.intents {
		c.intents[k] = v
	}
	for k, v := range s.byTxRef {
		c.byTxRef[k] = v
	}
	for k, v := range s.byRef {
		c.byRef[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}
