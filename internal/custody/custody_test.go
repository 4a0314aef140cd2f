package custody

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"VoteCredit/internal/models"

	"github.com/stretchr/testify/require"
)

type keyMap map[string]*models.CustodialKey

func (m keyMap) CustodialKey(_ context.Context, userID, chain string) (*models.CustodialKey, error) {
	k, ok := m[userID+"/"+chain]
	if !ok {
		return nil, ErrCiphertext
	}
	return k, nil
}

var seed = bytes.Repeat([]byte{0x42}, ed25519.SeedSize)

func TestSealOpenBindsOwner(t *testing.T) {
	k, err := NewKeyring("master")
	require.NoError(t, err)

	sealed, err := k.Seal("u1", ChainAptos, seed)
	require.NoError(t, err)

	opened, err := k.Open("u1", ChainAptos, sealed)
	require.NoError(t, err)
	require.Equal(t, seed, opened)

	_, err = k.Open("u2", ChainAptos, sealed)
	require.Error(t, err)

	other, err := NewKeyring("other-master")
	require.NoError(t, err)
	_, err = other.Open("u1", ChainAptos, sealed)
	require.Error(t, err)

	_, err = k.Open("u1", ChainAptos, []byte{1})
	require.ErrorIs(t, err, ErrCiphertext)
}

func TestNewKeyringRequiresMaster(t *testing.T) {
	_, err := NewKeyring("")
	require.ErrorIs(t, err, ErrNoMasterKey)
}

func TestSignerAddressAndSignature(t *testing.T) {
	s, err := NewSigner(seed)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(s.Address(), "0x"))
	require.Len(t, s.Address(), 66)

	sig, err := s.SignHex("0xdeadbeef")
	require.NoError(t, err)
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	pub, err := hex.DecodeString(strings.TrimPrefix(s.PublicKeyHex(), "0x"))
	require.NoError(t, err)
	require.True(t, ed25519.Verify(pub, []byte{0xde, 0xad, 0xbe, 0xef}, raw))

	_, err = NewSigner([]byte{1, 2})
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	k, err := NewKeyring("master")
	require.NoError(t, err)

	rec, err := k.Import("u1", seed)
	require.NoError(t, err)
	keys := keyMap{"u1/aptos": rec}

	capability := k.Lookup(ctx, keys, "u1", rec.Address)
	require.True(t, capability.Available())
	require.Equal(t, rec.Address, capability.Signer.Address())

	require.False(t, k.Lookup(ctx, keys, "u1", "0x1").Available())
	require.False(t, k.Lookup(ctx, keys, "u2", rec.Address).Available())

	var disabled *Keyring
	require.False(t, disabled.Lookup(ctx, keys, "u1", rec.Address).Available())
}
