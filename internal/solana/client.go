package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"VoteCredit/internal/chain"
)

// Client is a JSON-RPC client over an ordered endpoint pool.
type Client struct {
	pool *chain.Pool
	http *http.Client
}

func NewClient(pool *chain.Pool) *Client {
	return &Client{pool: pool, http: chain.NewHTTPClient(pool.Timeout)}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	raw, err := chain.Call(ctx, c.pool, func(ctx context.Context, endpoint string) (json.RawMessage, error) {
		var resp rpcResponse
		req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
		if err := chain.PostJSON(ctx, c.http, endpoint, nil, req, &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	})
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type UITokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

type Meta struct {
	Err               json.RawMessage `json:"err"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
}

type Transaction struct {
	Slot        uint64 `json:"slot"`
	BlockTime   *int64 `json:"blockTime"`
	Meta        *Meta  `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []AccountKey `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// Failed reports whether the transaction errored on-chain.
func (t *Transaction) Failed() bool {
	if t.Meta == nil {
		return false
	}
	return len(t.Meta.Err) > 0 && string(t.Meta.Err) != "null"
}

// Signers lists the account keys that signed the transaction.
func (t *Transaction) Signers() []string {
	var out []string
	for _, k := range t.Transaction.Message.AccountKeys {
		if k.Signer {
			out = append(out, k.Pubkey)
		}
	}
	return out
}

// GetTransaction returns the finalized transaction, or nil when the node
// does not have it yet.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	var tx *Transaction
	params := []any{signature, map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     "finalized",
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// SignatureInfo is one entry of getSignaturesForAddress, newest first.
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
}

func (s SignatureInfo) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// SignaturesForAddress pages backwards through finalized signatures that
// mention address, starting below before when it is set.
func (c *Client) SignaturesForAddress(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error) {
	opts := map[string]any{"commitment": "finalized", "limit": limit}
	if before != "" {
		opts["before"] = before
	}
	var out []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []any{address, opts}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
