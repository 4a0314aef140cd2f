// Package custody holds server-managed signing keys for platform wallets.
package custody

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"VoteCredit/internal/models"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	ChainAptos = "aptos"

	hkdfInfo = "votecredit/custody/v1"

	// aptosEd25519Scheme is the authentication key scheme byte for single ed25519 keys.
	aptosEd25519Scheme = 0x00
)

var (
	ErrNoMasterKey = errors.New("custody master key is not configured")
	ErrCiphertext  = errors.New("sealed key is malformed")
)

// Keyring seals and opens ed25519 seeds with a key derived from the master secret.
type Keyring struct {
	aead cipher.AEAD
}

func NewKeyring(masterKey string) (*Keyring, error) {
	if masterKey == "" {
		return nil, ErrNoMasterKey
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Keyring{aead: gcm}, nil
}

func binding(userID, chain string) []byte {
	return []byte(userID + "|" + chain)
}

// Seal encrypts seed for (userID, chain). The result is nonce || ciphertext.
func (k *Keyring) Seal(userID, chain string, seed []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return k.aead.Seal(nonce, nonce, seed, binding(userID, chain)), nil
}

func (k *Keyring) Open(userID, chain string, sealed []byte) ([]byte, error) {
	n := k.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrCiphertext
	}
	seed, err := k.aead.Open(nil, sealed[:n], sealed[n:], binding(userID, chain))
	if err != nil {
		return nil, fmt.Errorf("open sealed key: %w", err)
	}
	return seed, nil
}

// Signer signs Move-chain transactions for one custodied account.
type Signer struct {
	address string
	key     ed25519.PrivateKey
}

func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{address: AptosAddress(key.Public().(ed25519.PublicKey)), key: key}, nil
}

func (s *Signer) Address() string { return s.address }

func (s *Signer) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// SignHex signs the hex-encoded signing message and returns a hex signature.
func (s *Signer) SignHex(message string) (string, error) {
	msg, err := hex.DecodeString(strings.TrimPrefix(message, "0x"))
	if err != nil {
		return "", fmt.Errorf("signing message: %w", err)
	}
	return "0x" + hex.EncodeToString(ed25519.Sign(s.key, msg)), nil
}

// AptosAddress is sha3-256(public key || scheme) in long hex form.
func AptosAddress(pub ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{aptosEd25519Scheme})
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Capability says whether the platform can sign for a user's wallet.
type Capability struct {
	Signer *Signer
	Reason string
}

func (c Capability) Available() bool { return c.Signer != nil }

func Unavailable(reason string) Capability { return Capability{Reason: reason} }

type KeySource interface {
	CustodialKey(ctx context.Context, userID, chain string) (*models.CustodialKey, error)
}

// Lookup returns an available capability only when a sealed key exists for
// the user, opens cleanly, and derives the registered wallet address.
func (k *Keyring) Lookup(ctx context.Context, keys KeySource, userID, wallet string) Capability {
	if k == nil {
		return Unavailable("custody disabled")
	}
	rec, err := keys.CustodialKey(ctx, userID, ChainAptos)
	if err != nil {
		return Unavailable("no custodial key")
	}
	seed, err := k.Open(userID, ChainAptos, rec.SealedKey)
	if err != nil {
		return Unavailable(err.Error())
	}
	signer, err := NewSigner(seed)
	if err != nil {
		return Unavailable(err.Error())
	}
	if !strings.EqualFold(signer.Address(), rec.Address) || !sameHex(signer.Address(), wallet) {
		return Unavailable("custodial key does not control the registered wallet")
	}
	return Capability{Signer: signer}
}

// Import seals seed and returns the record to persist for userID.
func (k *Keyring) Import(userID string, seed []byte) (*models.CustodialKey, error) {
	signer, err := NewSigner(seed)
	if err != nil {
		return nil, err
	}
	sealed, err := k.Seal(userID, ChainAptos, seed)
	if err != nil {
		return nil, err
	}
	return &models.CustodialKey{
		UserID:    userID,
		Chain:     ChainAptos,
		Address:   signer.Address(),
		SealedKey: sealed,
	}, nil
}

func sameHex(a, b string) bool {
	trim := func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "0x")
		return strings.TrimLeft(s, "0")
	}
	return trim(a) == trim(b)
}
