package aptos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"VoteCredit/internal/chain"
	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	payer    = "0xa11ce"
	receiver = "0x00000000000000000000000000000000000000000000000000000000000b0b00"
	faAsset  = "0xbae207659db88bea0cbead6da0ed00aac12edcdda169e591cd41c94180b46f3b"
	coinType = "0x1::aptos_coin::AptosCoin"
	txHash   = "0x5e0e3b1a7f3d5d4c3b2a190817263544536271809a8b7c6d5e4f3a2b1c0d9e8f"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func moveIntent(asset, amountRaw string) *models.Intent {
	return &models.Intent{
		ID:          "i1",
		Rail:        models.RailMoveChain,
		Status:      models.IntentPending,
		AmountRaw:   amountRaw,
		Asset:       asset,
		FromAddress: payer,
		ToAddress:   "0xb0b00",
	}
}

func TestDecodeTransferShapesAgree(t *testing.T) {
	fa := Payload{
		Function:      TransferFungibleFunction,
		TypeArguments: []string{"0x1::fungible_asset::Metadata"},
		Arguments:     []json.RawMessage{raw(t, map[string]string{"inner": "0x1"}), raw(t, receiver), raw(t, "10000000")},
	}
	coin := Payload{
		Function:      TransferCoinsFunction,
		TypeArguments: []string{"0x1"},
		Arguments:     []json.RawMessage{raw(t, receiver), raw(t, "10000000")},
	}

	a, err := DecodeTransfer(fa)
	require.NoError(t, err)
	b, err := DecodeTransfer(coin)
	require.NoError(t, err)

	require.Equal(t, FungibleAsset, a.Kind)
	require.Equal(t, Coin, b.Kind)
	require.Equal(t, a.Receiver, b.Receiver)
	require.Equal(t, a.Amount, b.Amount)
	require.True(t, SameAddress(a.Asset, b.Asset))
}

func TestDecodeTransferRejectsOtherShapes(t *testing.T) {
	_, err := DecodeTransfer(Payload{Function: TransferCoinsFunction, Arguments: []json.RawMessage{raw(t, receiver)}})
	require.Error(t, err)

	_, err = DecodeTransfer(Payload{Function: TransferCoinsFunction, Arguments: []json.RawMessage{raw(t, receiver), raw(t, "1")}})
	require.Error(t, err)

	_, err = DecodeTransfer(Payload{
		Function:      TransferCoinsFunction,
		TypeArguments: []string{coinType},
		Arguments:     []json.RawMessage{raw(t, receiver), raw(t, "-1")},
	})
	require.Error(t, err)
}

func TestDecodeTransferChecksEntryFunction(t *testing.T) {
	coin := TransferPayload(coinType, receiver, "5")
	for _, fn := range []string{TransferCoinsFunction, CoinTransferFunction, "0x0000000000000000000000000000000000000000000000000000000000000001::coin::transfer"} {
		coin.Function = fn
		_, err := DecodeTransfer(coin)
		require.NoError(t, err, fn)
	}

	fa := TransferPayload(faAsset, receiver, "5")
	for _, fn := range []string{"", "0xdeadbeef::noop::pretend_transfer", TransferCoinsFunction, "0x2::primary_fungible_store::transfer"} {
		fa.Function = fn
		_, err := DecodeTransfer(fa)
		require.ErrorContains(t, err, "unsupported function", fn)
	}

	coin.Function = TransferFungibleFunction
	_, err := DecodeTransfer(coin)
	require.ErrorContains(t, err, "unsupported function")
}

func TestTransferPayloadRoundTrip(t *testing.T) {
	for _, asset := range []string{faAsset, coinType} {
		tr, err := DecodeTransfer(TransferPayload(asset, receiver, "123456789012345678"))
		require.NoError(t, err)
		require.Equal(t, "123456789012345678", tr.Amount)
		require.True(t, SameAddress(asset, tr.Asset))
	}
}

func TestNormalizeAddress(t *testing.T) {
	long, err := NormalizeAddress("0x1")
	require.NoError(t, err)
	require.Equal(t, "0x"+strings.Repeat("0", 63)+"1", long)

	_, err = NormalizeAddress("0xzz")
	require.Error(t, err)

	asset, err := NormalizeAsset("0x1::aptos_coin::AptosCoin")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(asset, "::aptos_coin::AptosCoin"))

	require.True(t, SameAddress("0xB0B00", receiver))
	require.Equal(t, txHash, NormalizeHash(strings.ToUpper(txHash[2:])))
}

func TestDecide(t *testing.T) {
	good := &Transaction{Hash: txHash, Sender: payer, Success: true, Payload: TransferPayload(faAsset, receiver, "10000000")}

	res, err := Decide(moveIntent(faAsset, "10000000"), txHash, good)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, txHash, res.ExternalReference)

	cases := []struct {
		name   string
		intent *models.Intent
		tx     *Transaction
	}{
		{
			name:   "failed",
			intent: moveIntent(faAsset, "1"),
			tx:     &Transaction{Sender: payer, Success: false, VMStatus: "Move abort"},
		},
		{
			name:   "sender",
			intent: moveIntent(faAsset, "1"),
			tx:     &Transaction{Sender: "0xbad", Success: true, Payload: good.Payload},
		},
		{
			name:   "receiver",
			intent: moveIntent(faAsset, "1"),
			tx:     &Transaction{Sender: payer, Success: true, Payload: TransferPayload(faAsset, "0xbad", "10000000")},
		},
		{
			name:   "asset",
			intent: moveIntent(coinType, "1"),
			tx:     good,
		},
		{
			name:   "lookalike entry function",
			intent: moveIntent(faAsset, "10000000"),
			tx: &Transaction{Sender: payer, Success: true, Payload: func() Payload {
				p := TransferPayload(faAsset, receiver, "10000000")
				p.Function = "0xdeadbeef::noop::pretend_transfer"
				return p
			}()},
		},
		{
			name:   "precision",
			intent: moveIntent(faAsset, "123456789012345678"),
			tx:     &Transaction{Sender: payer, Success: true, Payload: TransferPayload(faAsset, receiver, "123456789012345677")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decide(tc.intent, txHash, tc.tx)
			require.True(t, verification.IsRejection(err), "got %v", err)
		})
	}
}

func fastRetry() chain.RetryPolicy {
	return chain.RetryPolicy{MaxAttempts: 5, Step: time.Millisecond}
}

func TestFetchByHashExhaustionIsTransient(t *testing.T) {
	var hits atomic.Int32
	missing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	a := httptest.NewServer(missing)
	defer a.Close()
	b := httptest.NewServer(missing)
	defer b.Close()

	pool, err := chain.NewPool("aptos", []string{a.URL, b.URL}, time.Second)
	require.NoError(t, err)
	v := NewVerifier(NewClient(pool, fastRetry()))

	_, err = v.Verify(context.Background(), moveIntent(faAsset, "1"), txHash)
	require.ErrorIs(t, err, verification.ErrTransient)
	require.False(t, verification.IsRejection(err))
	require.Equal(t, int32(10), hits.Load())
}

func TestFetchByHashWaitsForVisibility(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			_ = json.NewEncoder(w).Encode(Transaction{Type: "pending_transaction", Hash: txHash})
		default:
			_ = json.NewEncoder(w).Encode(Transaction{
				Type: "user_transaction", Hash: txHash, Sender: payer, Success: true,
				Payload: TransferPayload(coinType, receiver, "10000000"),
			})
		}
	}))
	defer srv.Close()

	pool, err := chain.NewPool("aptos", []string{srv.URL}, time.Second)
	require.NoError(t, err)

	res, err := NewVerifier(NewClient(pool, fastRetry())).Verify(context.Background(), moveIntent(coinType, "10000000"), txHash)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, int32(3), hits.Load())
}

type fakeSigner struct{}

func (fakeSigner) Address() string { return payer }
func (fakeSigner) PublicKeyHex() string { return "0xpub" }
func (fakeSigner) SignHex(msg string) (string, error) {
	return msg + "-signed", nil
}

func TestSubmit(t *testing.T) {
	var submitted SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/accounts/"+payer:
			_ = json.NewEncoder(w).Encode(map[string]string{"sequence_number": "7"})
		case r.URL.Path == "/estimate_gas_price":
			_ = json.NewEncoder(w).Encode(map[string]int{"gas_estimate": 150})
		case r.URL.Path == "/transactions/encode_submission":
			var req SubmitRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.Nil(t, req.Signature)
			_ = json.NewEncoder(w).Encode("0xabcd")
		case r.Method == http.MethodPost && r.URL.Path == "/transactions":
			_ = json.NewDecoder(r.Body).Decode(&submitted)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{"hash": strings.ToUpper(txHash[2:])})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	pool, err := chain.NewPool("aptos", []string{srv.URL}, time.Second)
	require.NoError(t, err)
	s := NewSubmitter(NewClient(pool, chain.NoRetry()), 2000)

	hash, err := s.Submit(context.Background(), fakeSigner{}, TransferPayload(faAsset, receiver, "10"))
	require.NoError(t, err)
	require.Equal(t, txHash, hash)
	require.Equal(t, "7", submitted.SequenceNumber)
	require.Equal(t, "150", submitted.GasUnitPrice)
	require.Equal(t, "2000", submitted.MaxGasAmount)
	require.NotNil(t, submitted.Signature)
	require.Equal(t, "0xabcd-signed", submitted.Signature.Signature)
}

func TestSubmitFailsWithoutAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pool, err := chain.NewPool("aptos", []string{srv.URL}, time.Second)
	require.NoError(t, err)
	_, err = NewSubmitter(NewClient(pool, chain.NoRetry()), 2000).Submit(context.Background(), fakeSigner{}, Payload{})
	require.Error(t, err)
}
