// Package aptos verifies and submits transfers on a Move-based chain.
package aptos

import (
	"context"

	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"
)

type Verifier struct {
	Client *Client
}

func NewVerifier(c *Client) *Verifier {
	return &Verifier{Client: c}
}

func (v *Verifier) Verify(ctx context.Context, intent *models.Intent, hash string) (verification.Result, error) {
	if !ValidHash(hash) {
		return verification.Result{}, verification.Invalid("malformed transaction hash")
	}
	hash = NormalizeHash(hash)
	tx, err := v.Client.FetchByHash(ctx, hash)
	if err != nil {
		return verification.Result{}, err
	}
	return Decide(intent, hash, tx)
}

// Decide checks a fetched transaction against the intent.
func Decide(intent *models.Intent, hash string, tx *Transaction) (verification.Result, error) {
	if !tx.Success {
		return verification.Result{}, verification.Reject("transaction failed: %s", tx.VMStatus)
	}
	if !SameAddress(tx.Sender, intent.FromAddress) {
		return verification.Result{}, verification.Reject("sender %s is not the payer", tx.Sender)
	}

	t, err := DecodeTransfer(tx.Payload)
	if err != nil {
		return verification.Result{}, verification.Reject("%v", err)
	}
	if !SameAddress(t.Receiver, intent.ToAddress) {
		return verification.Result{}, verification.Reject("receiver %s does not match", t.Receiver)
	}
	if t.Asset != "" && !SameAddress(t.Asset, intent.Asset) {
		return verification.Result{}, verification.Reject("asset %s does not match", t.Asset)
	}

	ok, err := verification.AtLeast(t.Amount, intent.AmountRaw)
	if err != nil {
		return verification.Result{}, verification.Reject("%v", err)
	}
	if !ok {
		return verification.Result{}, verification.Reject("amount %s below %s", t.Amount, intent.AmountRaw)
	}

	ref := NormalizeHash(hash)
	if tx.Hash != "" {
		ref = NormalizeHash(tx.Hash)
	}
	return verification.Result{
		Accepted:          true,
		ExternalReference: ref,
		Sender:            tx.Sender,
		Receiver:          t.Receiver,
		Asset:             t.Asset,
		AmountRaw:         t.Amount,
	}, nil
}
