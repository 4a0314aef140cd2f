// Package solana verifies SPL token transfers on an account-model chain.
package solana

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"

	"github.com/btcsuite/btcd/btcutil/base58"
)

func ValidAddress(addr string) bool {
	return len(base58.Decode(addr)) == 32
}

func ValidSignature(sig string) bool {
	return len(base58.Decode(sig)) == 64
}

type Verifier struct {
	Client *Client
}

func NewVerifier(c *Client) *Verifier {
	return &Verifier{Client: c}
}

// Verify checks that signature moved at least intent.AmountRaw of intent.Asset
// into intent.ToAddress and was signed by intent.FromAddress.
func (v *Verifier) Verify(ctx context.Context, intent *models.Intent, signature string) (verification.Result, error) {
	if !ValidSignature(signature) {
		return verification.Result{}, verification.Invalid("malformed transaction signature")
	}

	tx, err := v.Client.GetTransaction(ctx, signature)
	if err != nil {
		return verification.Result{}, verification.Transient("solana rpc unavailable: %v", err)
	}
	if tx == nil || tx.Meta == nil {
		return verification.Result{}, verification.Transient("transaction %s not finalized", signature)
	}
	return Decide(intent, signature, tx)
}

// Decide applies the balance-delta and signer-membership rules to a fetched transaction.
func Decide(intent *models.Intent, signature string, tx *Transaction) (verification.Result, error) {
	if tx.Failed() {
		return verification.Result{}, verification.Reject("transaction failed on-chain")
	}

	signed := false
	for _, s := range tx.Signers() {
		if s == intent.FromAddress {
			signed = true
			break
		}
	}
	if !signed {
		return verification.Result{}, verification.Reject("payer %s did not sign", intent.FromAddress)
	}

	pre, err := ownerBalance(tx.Meta.PreTokenBalances, intent.Asset, intent.ToAddress)
	if err != nil {
		return verification.Result{}, verification.Reject("pre balance: %v", err)
	}
	post, err := ownerBalance(tx.Meta.PostTokenBalances, intent.Asset, intent.ToAddress)
	if err != nil {
		return verification.Result{}, verification.Reject("post balance: %v", err)
	}
	delta := new(big.Int).Sub(post, pre)

	ok, err := verification.AtLeast(delta.String(), intent.AmountRaw)
	if err != nil {
		return verification.Result{}, err
	}
	if !ok {
		return verification.Result{}, verification.Reject("received %s below %s", delta, intent.AmountRaw)
	}

	return verification.Result{
		Accepted:          true,
		ExternalReference: signature,
		Sender:            intent.FromAddress,
		Receiver:          intent.ToAddress,
		Asset:             intent.Asset,
		AmountRaw:         delta.String(),
	}, nil
}

// ownerBalance sums owner's token accounts for mint. No entry counts as zero.
func ownerBalance(balances []TokenBalance, mint, owner string) (*big.Int, error) {
	total := new(big.Int)
	for _, b := range balances {
		if b.Mint != mint || b.Owner != owner {
			continue
		}
		amt, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
		if !ok {
			return nil, errors.New("invalid token amount " + b.UITokenAmount.Amount)
		}
		total.Add(total, amt)
	}
	return total, nil
}

// LogsNotification is the value of a logsSubscribe push.
type LogsNotification struct {
	Slot      uint64
	Signature string
	Failed    bool
}

func ParseLogsNotification(params json.RawMessage) (*LogsNotification, error) {
	var p struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if p.Result.Value.Signature == "" {
		return nil, errors.New("logs notification without signature")
	}
	return &LogsNotification{
		Slot:      p.Result.Context.Slot,
		Signature: p.Result.Value.Signature,
		Failed:    len(p.Result.Value.Err) > 0 && string(p.Result.Value.Err) != "null",
	}, nil
}
