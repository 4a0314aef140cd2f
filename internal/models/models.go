package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Rail string

const (
	RailCard         Rail = "CARD"
	RailAccountChain Rail = "ACCOUNT_CHAIN"
	RailMoveChain    Rail = "MOVE_CHAIN"
)

func (r Rail) Valid() bool {
	switch r {
	case RailCard, RailAccountChain, RailMoveChain:
		return true
	}
	return false
}

// Chain is the wallet namespace a rail pays from; empty for CARD.
func (r Rail) Chain() string {
	switch r {
	case RailAccountChain:
		return "solana"
	case RailMoveChain:
		return "aptos"
	}
	return ""
}

type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentCompleted IntentStatus = "COMPLETED"
	IntentFailed    IntentStatus = "FAILED"
)

func (s IntentStatus) Terminal() bool {
	return s == IntentCompleted || s == IntentFailed
}

type Bundle struct {
	ID      string          `json:"id"`
	Credits int64           `json:"creditCount"`
	Price   decimal.Decimal `json:"price"`
}

type Intent struct {
	ID                 string
	UserID             string
	Rail               Rail
	Status             IntentStatus
	BundleID           string
	Amount             decimal.Decimal
	AmountRaw          string
	Asset              string
	Decimals           int
	FromAddress        string
	ToAddress          string
	ExternalReference  *string
	TxRef              *string
	CandidateReference *string
	CreditCount        int64
	FailureReason      *string
	CreatedAt          time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

func (i *Intent) Reference() string {
	if i.ExternalReference == nil {
		return ""
	}
	return *i.ExternalReference
}

type LedgerEntry struct {
	ID                string
	IntentID          string
	UserID            string
	Rail              Rail
	ExternalReference string
	Asset             string
	AmountRaw         string
	CreditCount       int64
	Direction         string
	CreatedAt         time.Time
}

type Wallet struct {
	UserID  string
	Chain   string
	Address string
}

type CustodialKey struct {
	UserID    string
	Chain     string
	Address   string
	SealedKey []byte
}
