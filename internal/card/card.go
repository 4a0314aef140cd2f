// Package card verifies hosted-checkout card payments.
package card

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"

	"github.com/shopspring/decimal"
)

const (
	StatusSuccessful = "successful"

	// SignatureHeader carries the shared webhook secret.
	SignatureHeader = "verif-hash"
)

var ErrTransactionNotFound = errors.New("card transaction not found")

type Verifier struct {
	Client     *Client
	Currency   string
	MinorUnits int
}

func NewVerifier(c *Client, currency string, minorUnits int) *Verifier {
	return &Verifier{Client: c, Currency: currency, MinorUnits: minorUnits}
}

// ToMinorUnits converts a display amount to an integer string in the
// currency's smallest unit. Fractions below one minor unit are dropped.
func ToMinorUnits(amount decimal.Decimal, minorUnits int) string {
	return amount.Shift(int32(minorUnits)).Floor().BigInt().String()
}

// Verify resolves the processor transaction for intent and decides whether it
// pays for it. externalID may be empty or the intent's own txRef, in which case
// the transaction is looked up by reference.
func (v *Verifier) Verify(ctx context.Context, intent *models.Intent, externalID string) (verification.Result, error) {
	if intent.TxRef == nil || *intent.TxRef == "" {
		return verification.Result{}, verification.Invalid("intent %s has no checkout reference", intent.ID)
	}
	txRef := *intent.TxRef

	var (
		tx  *Transaction
		err error
	)
	if externalID == "" || externalID == txRef {
		tx, err = v.Client.LookupByTxRef(ctx, txRef)
		if errors.Is(err, ErrTransactionNotFound) {
			return verification.Result{}, verification.Transient("no card transaction for %s yet", txRef)
		}
	} else {
		tx, err = v.Client.Transaction(ctx, externalID)
		if errors.Is(err, ErrTransactionNotFound) {
			return verification.Result{}, verification.NotFound("card transaction %s", externalID)
		}
	}
	if err != nil {
		return verification.Result{}, verification.Transient("card processor unavailable: %v", err)
	}
	return v.Decide(intent, tx)
}

// Decide is the accept/reject rule shared by polling and webhooks.
func (v *Verifier) Decide(intent *models.Intent, tx *Transaction) (verification.Result, error) {
	switch strings.ToLower(tx.Status) {
	case StatusSuccessful:
	case "pending", "":
		return verification.Result{}, verification.Transient("card transaction %s is %q", tx.ID, tx.Status)
	default:
		return verification.Result{}, verification.Reject("card transaction status %q", tx.Status)
	}

	if intent.TxRef == nil || tx.TxRef != *intent.TxRef {
		return verification.Result{}, verification.Reject("reference mismatch")
	}
	if v.Currency != "" && !strings.EqualFold(tx.Currency, v.Currency) {
		return verification.Result{}, verification.Reject("currency %s, want %s", tx.Currency, v.Currency)
	}

	paid, err := decimal.NewFromString(tx.Amount.String())
	if err != nil {
		return verification.Result{}, verification.Reject("unreadable amount %q", tx.Amount)
	}
	paidRaw := ToMinorUnits(paid, v.MinorUnits)
	ok, err := verification.AtLeast(paidRaw, intent.AmountRaw)
	if err != nil {
		return verification.Result{}, fmt.Errorf("compare card amount: %w", err)
	}
	if !ok {
		return verification.Result{}, verification.Reject("paid %s below %s", paidRaw, intent.AmountRaw)
	}

	return verification.Result{
		Accepted:          true,
		ExternalReference: tx.ID.String(),
		Asset:             strings.ToUpper(tx.Currency),
		AmountRaw:         paidRaw,
	}, nil
}

// ValidWebhookSignature compares the webhook header with the shared secret
// in constant time. An unset secret never validates.
func ValidWebhookSignature(header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	return hmac.Equal([]byte(header), []byte(secret))
}

// WebhookEvent is the processor's push notification body.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID     json.Number `json:"id"`
		TxRef  string      `json:"tx_ref"`
		Status string      `json:"status"`
	} `json:"data"`
}

func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, verification.Invalid("webhook body: %v", err)
	}
	if ev.Data.TxRef == "" {
		return nil, verification.Invalid("webhook without tx_ref")
	}
	return &ev, nil
}

func (e *WebhookEvent) Successful() bool {
	return strings.EqualFold(e.Data.Status, StatusSuccessful)
}
