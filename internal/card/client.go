package card

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"VoteCredit/internal/chain"
)

// Client talks to the hosted-checkout processor.
type Client struct {
	pool      *chain.Pool
	secretKey string
	http      *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) (*Client, error) {
	pool, err := chain.NewPool("card", []string{baseURL}, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool, secretKey: secretKey, http: chain.NewHTTPClient(timeout)}, nil
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type CheckoutRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Customer    Customer          `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type Transaction struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.secretKey)
	return h
}

// CreateCheckout returns the hosted payment link.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (string, error) {
		var resp envelope[struct {
			Link string `json:"link"`
		}]
		if err := chain.PostJSON(ctx, c.http, base+"/payments", c.header(), req, &resp); err != nil {
			return "", err
		}
		if resp.Status != "success" || resp.Data.Link == "" {
			return "", chain.Permanent(fmt.Errorf("checkout rejected: %s", resp.Message))
		}
		return resp.Data.Link, nil
	})
}

// Transaction fetches a transaction by the processor's id.
// A 404 is reported as ErrTransactionNotFound.
func (c *Client) Transaction(ctx context.Context, id string) (*Transaction, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (*Transaction, error) {
		var resp envelope[Transaction]
		endpoint := fmt.Sprintf("%s/transactions/%s/verify", base, url.PathEscape(id))
		if err := chain.GetJSON(ctx, c.http, endpoint, c.header(), &resp); err != nil {
			if chain.IsStatus(err, http.StatusNotFound) {
				return nil, chain.Permanent(ErrTransactionNotFound)
			}
			return nil, err
		}
		return &resp.Data, nil
	})
}

// LookupByTxRef resolves our reference to the processor's transaction.
// It returns ErrTransactionNotFound while the customer has not paid.
func (c *Client) LookupByTxRef(ctx context.Context, txRef string) (*Transaction, error) {
	return chain.Call(ctx, c.pool, func(ctx context.Context, base string) (*Transaction, error) {
		var resp envelope[[]Transaction]
		endpoint := base + "/transactions?tx_ref=" + url.QueryEscape(txRef)
		if err := chain.GetJSON(ctx, c.http, endpoint, c.header(), &resp); err != nil {
			return nil, err
		}
		for i := range resp.Data {
			if strings.EqualFold(resp.Data[i].TxRef, txRef) {
				return &resp.Data[i], nil
			}
		}
		return nil, chain.Permanent(ErrTransactionNotFound)
	})
}
