package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VoteCredit/internal/chain"
	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/require"
)

const (
	mint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	payer    = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	receiver = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	stranger = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

var testSignature = base58.Encode(bytes.Repeat([]byte{7}, 64))

func intent(amountRaw string) *models.Intent {
	return &models.Intent{
		ID:          "i1",
		Rail:        models.RailAccountChain,
		Status:      models.IntentPending,
		AmountRaw:   amountRaw,
		Asset:       mint,
		FromAddress: payer,
		ToAddress:   receiver,
	}
}

func transfer(signer string, pre, post string) *Transaction {
	tx := &Transaction{Slot: 42}
	tx.Meta = &Meta{}
	if pre != "" {
		tx.Meta.PreTokenBalances = []TokenBalance{{AccountIndex: 2, Mint: mint, Owner: receiver, UITokenAmount: UITokenAmount{Amount: pre, Decimals: 6}}}
	}
	tx.Meta.PostTokenBalances = []TokenBalance{{AccountIndex: 2, Mint: mint, Owner: receiver, UITokenAmount: UITokenAmount{Amount: post, Decimals: 6}}}
	tx.Transaction.Signatures = []string{testSignature}
	tx.Transaction.Message.AccountKeys = []AccountKey{
		{Pubkey: signer, Signer: true, Writable: true},
		{Pubkey: receiver},
	}
	return tx
}

func TestDecideAcceptsSignedTransfer(t *testing.T) {
	res, err := Decide(intent("10000000"), testSignature, transfer(payer, "5", "10000005"))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, "10000000", res.AmountRaw)
	require.Equal(t, testSignature, res.ExternalReference)
}

func TestDecideRejectsUnsignedPayer(t *testing.T) {
	_, err := Decide(intent("10000000"), testSignature, transfer(stranger, "0", "10000000"))
	require.True(t, verification.IsRejection(err))
}

func TestDecideBalanceRules(t *testing.T) {
	t.Run("missing pre balance counts as zero", func(t *testing.T) {
		_, err := Decide(intent("10000000"), testSignature, transfer(payer, "", "10000000"))
		require.NoError(t, err)
	})
	t.Run("short delta", func(t *testing.T) {
		_, err := Decide(intent("10000000"), testSignature, transfer(payer, "1", "10000000"))
		require.True(t, verification.IsRejection(err))
	})
	t.Run("large amounts keep precision", func(t *testing.T) {
		_, err := Decide(intent("123456789012345678"), testSignature, transfer(payer, "0", "123456789012345677"))
		require.True(t, verification.IsRejection(err))
		_, err = Decide(intent("123456789012345678"), testSignature, transfer(payer, "0", "123456789012345678"))
		require.NoError(t, err)
	})
	t.Run("failed on chain", func(t *testing.T) {
		tx := transfer(payer, "0", "10000000")
		tx.Meta.Err = json.RawMessage(`{"InstructionError":[0,"Custom"]}`)
		_, err := Decide(intent("10000000"), testSignature, tx)
		require.True(t, verification.IsRejection(err))
	})
}

func rpcServer(t *testing.T, result any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "getTransaction" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyFallsBackAcrossEndpoints(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := rpcServer(t, transfer(payer, "0", "10000000"))

	pool, err := chain.NewPool("solana", []string{down.URL, up.URL}, 2*time.Second)
	require.NoError(t, err)

	res, err := NewVerifier(NewClient(pool)).Verify(context.Background(), intent("10000000"), testSignature)
	require.NoError(t, err)
	require.True(t, res.Accepted)
}

func TestVerifyNotFinalizedIsTransient(t *testing.T) {
	srv := rpcServer(t, nil)
	pool, err := chain.NewPool("solana", []string{srv.URL}, 2*time.Second)
	require.NoError(t, err)

	_, err = NewVerifier(NewClient(pool)).Verify(context.Background(), intent("1"), testSignature)
	require.ErrorIs(t, err, verification.ErrTransient)

	_, err = NewVerifier(NewClient(pool)).Verify(context.Background(), intent("1"), "not-a-signature")
	require.ErrorIs(t, err, verification.ErrValidation)
}

func TestAddressValidation(t *testing.T) {
	require.True(t, ValidAddress(receiver))
	require.False(t, ValidAddress("0xabc"))
	require.True(t, ValidSignature(testSignature))
}

func TestParseLogsNotification(t *testing.T) {
	n, err := ParseLogsNotification(json.RawMessage(`{"result":{"context":{"slot":99},"value":{"signature":"abc","err":null,"logs":[]}},"subscription":1}`))
	require.NoError(t, err)
	require.Equal(t, uint64(99), n.Slot)
	require.Equal(t, "abc", n.Signature)
	require.False(t, n.Failed)

	_, err = ParseLogsNotification(json.RawMessage(`{"result":{"value":{}}}`))
	require.Error(t, err)
}

func TestSignaturesForAddress(t *testing.T) {
	var got []json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getSignaturesForAddress", req.Method)
		got = req.Params
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": []map[string]any{
			{"signature": "s2", "slot": 12, "err": nil},
			{"signature": "s1", "slot": 11, "err": map[string]any{"InstructionError": []any{0, "Custom"}}},
		}})
	}))
	defer srv.Close()

	pool, err := chain.NewPool("solana", []string{srv.URL}, 2*time.Second)
	require.NoError(t, err)

	sigs, err := NewClient(pool).SignaturesForAddress(context.Background(), receiver, "s9", 50)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	require.Equal(t, uint64(12), sigs[0].Slot)
	require.False(t, sigs[0].Failed())
	require.True(t, sigs[1].Failed())

	require.Len(t, got, 2)
	require.JSONEq(t, `{"commitment":"finalized","limit":50,"before":"s9"}`, string(got[1]))
}
