package aptos

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const defaultGasUnitPrice = 100

type Signer interface {
	Address() string
	PublicKeyHex() string
	SignHex(message string) (string, error)
}

// Submitter signs and submits transfers for custodied accounts.
type Submitter struct {
	Client       *Client
	MaxGasAmount uint64
	TTL          time.Duration

	now func() time.Time
}

func NewSubmitter(c *Client, maxGas uint64) *Submitter {
	return &Submitter{Client: c, MaxGasAmount: maxGas, TTL: 60 * time.Second, now: time.Now}
}

// Submit encodes payload on the node, signs it with signer and submits it.
// It returns the pending transaction hash.
func (s *Submitter) Submit(ctx context.Context, signer Signer, payload Payload) (string, error) {
	seq, err := s.Client.SequenceNumber(ctx, signer.Address())
	if err != nil {
		return "", fmt.Errorf("sequence number: %w", err)
	}
	price, err := s.Client.GasPrice(ctx)
	if err != nil || price == 0 {
		price = defaultGasUnitPrice
	}

	req := SubmitRequest{
		Sender:                  signer.Address(),
		SequenceNumber:          seq,
		MaxGasAmount:            strconv.FormatUint(s.MaxGasAmount, 10),
		GasUnitPrice:            strconv.FormatUint(price, 10),
		ExpirationTimestampSecs: strconv.FormatInt(s.now().Add(s.TTL).Unix(), 10),
		Payload:                 payload,
	}

	msg, err := s.Client.EncodeSubmission(ctx, req)
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}
	sig, err := signer.SignHex(msg)
	if err != nil {
		return "", err
	}
	req.Signature = &Signature{
		Type:      "ed25519_signature",
		PublicKey: signer.PublicKeyHex(),
		Signature: sig,
	}

	hash, err := s.Client.Submit(ctx, req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	return NormalizeHash(hash), nil
}
