package store

import (
	"context"
	"errors"
	"time"

	"VoteCredit/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Store is the persisted view of payment intents and the collaborator
// tables settlement writes to.
type Store interface {
	CreateIntent(ctx context.Context, intent *models.Intent) error
	GetIntent(ctx context.Context, id string) (*models.Intent, error)
	GetIntentByTxRef(ctx context.Context, txRef string) (*models.Intent, error)
	GetIntentByReference(ctx context.Context, ref string) (*models.Intent, error)
	RecordCandidate(ctx context.Context, id, ref string) error
	// Touch moves a PENDING intent to the back of ListPending's order.
	Touch(ctx context.Context, id string) error
	ListPending(ctx context.Context, rail models.Rail, limit int) ([]*models.Intent, error)
	ListPendingByPayer(ctx context.Context, rail models.Rail, from string) ([]*models.Intent, error)

	WalletAddress(ctx context.Context, userID, chain string) (string, error)
	SaveWallet(ctx context.Context, w models.Wallet) error
	CustodialKey(ctx context.Context, userID, chain string) (*models.CustodialKey, error)
	SaveCustodialKey(ctx context.Context, k *models.CustodialKey) error
	Balance(ctx context.Context, userID string) (int64, error)
	LedgerEntries(ctx context.Context, intentID string) ([]models.LedgerEntry, error)

	// Cursor and SetCursor persist listener progress, e.g. the last seen slot.
	Cursor(ctx context.Context, key string) (int64, error)
	SetCursor(ctx context.Context, key string, value int64) error

	// InTx runs fn inside one transaction. fn's writes commit together or not at all.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface used by settlement.
type Tx interface {
	// LockIntent re-reads the intent and holds it until the transaction ends.
	LockIntent(ctx context.Context, id string) (*models.Intent, error)
	// ReferenceOwner returns the id of the intent holding ref, or "" if none.
	ReferenceOwner(ctx context.Context, ref string) (string, error)
	MarkCompleted(ctx context.Context, id, ref string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	IncrementCredits(ctx context.Context, userID string, n int64) (int64, error)
	AppendLedger(ctx context.Context, entry *models.LedgerEntry) error
}
