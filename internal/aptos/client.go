package aptos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"VoteCredit/internal/chain"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/verification"

	"go.uber.org/zap"
)

var errPending = errors.New("transaction pending")

// Client is a REST client for a Move-chain fullnode pool. Endpoints include
// the API version prefix, e.g. https://fullnode.example/v1.
type Client struct {
	pool  *chain.Pool
	http  *http.Client
	retry chain.RetryPolicy
}

func NewClient(pool *chain.Pool, retry chain.RetryPolicy) *Client {
	return &Client{pool: pool, http: chain.NewHTTPClient(pool.Timeout), retry: retry}
}

type Transaction struct {
	Type     string  `json:"type"`
	Hash     string  `json:"hash"`
	Version  string  `json:"version"`
	Sender   string  `json:"sender"`
	Success  bool    `json:"success"`
	VMStatus string  `json:"vm_status"`
	Payload  Payload `json:"payload"`
}

// TransactionByHash makes one pass over the endpoint pool. Unknown and
// pending transactions count as endpoint failures.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (*Transaction, error) {
		var tx Transaction
		if err := chain.GetJSON(ctx, c.http, base+"/transactions/by_hash/"+url.PathEscape(hash), nil, &tx); err != nil {
			return nil, err
		}
		if tx.Type == "pending_transaction" {
			return nil, errPending
		}
		return &tx, nil
	})
}

// FetchByHash repeats TransactionByHash under the retry policy. A freshly
// submitted transaction may not be visible on every node yet, so running out
// of attempts is reported as transient, never as a rejection.
func (c *Client) FetchByHash(ctx context.Context, hash string) (*Transaction, error) {
	var tx *Transaction
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		tx, err = c.TransactionByHash(ctx, hash)
		if err != nil {
			logger.Debug("aptos fetch attempt failed",
				zap.String("hash", hash),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return nil, verification.Transient("aptos transaction %s unavailable: %v", hash, err)
	}
	return tx, nil
}

type accountInfo struct {
	SequenceNumber string `json:"sequence_number"`
}

func (c *Client) SequenceNumber(ctx context.Context, address string) (string, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (string, error) {
		var info accountInfo
		if err := chain.GetJSON(ctx, c.http, base+"/accounts/"+url.PathEscape(address), nil, &info); err != nil {
			if chain.IsStatus(err, http.StatusNotFound) {
				return "", chain.Permanent(fmt.Errorf("account %s does not exist", address))
			}
			return "", err
		}
		return info.SequenceNumber, nil
	})
}

func (c *Client) GasPrice(ctx context.Context) (uint64, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (uint64, error) {
		var est struct {
			GasEstimate uint64 `json:"gas_estimate"`
		}
		if err := chain.GetJSON(ctx, c.http, base+"/estimate_gas_price", nil, &est); err != nil {
			return 0, err
		}
		return est.GasEstimate, nil
	})
}

// SubmitRequest is the JSON form of a user transaction.
type SubmitRequest struct {
	Sender                  string     `json:"sender"`
	SequenceNumber          string     `json:"sequence_number"`
	MaxGasAmount            string     `json:"max_gas_amount"`
	GasUnitPrice            string     `json:"gas_unit_price"`
	ExpirationTimestampSecs string     `json:"expiration_timestamp_secs"`
	Payload                 Payload    `json:"payload"`
	Signature               *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// EncodeSubmission asks the node for the signing message of req.
func (c *Client) EncodeSubmission(ctx context.Context, req SubmitRequest) (string, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (string, error) {
		var msg string
		if err := chain.PostJSON(ctx, c.http, base+"/transactions/encode_submission", nil, req, &msg); err != nil {
			if chain.IsStatus(err, http.StatusBadRequest) {
				return "", chain.Permanent(err)
			}
			return "", err
		}
		return msg, nil
	})
}

// Submit posts a signed transaction and returns its hash.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (string, error) {
		var pending struct {
			Hash string `json:"hash"`
		}
		if err := chain.PostJSON(ctx, c.http, base+"/transactions", nil, req, &pending); err != nil {
			if chain.IsStatus(err, http.StatusBadRequest) {
				return "", chain.Permanent(err)
			}
			return "", err
		}
		if pending.Hash == "" {
			return "", chain.Permanent(errors.New("submit returned no hash"))
		}
		return pending.Hash, nil
	})
}
