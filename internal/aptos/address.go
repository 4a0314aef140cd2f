package aptos

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizeAddress returns the long form: 0x followed by 64 lowercase hex digits.
func NormalizeAddress(addr string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(addr))
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	if _, err := hex.DecodeString(padEven(s)); err != nil {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return "0x" + strings.Repeat("0", 64-len(s)) + s, nil
}

// NormalizeAsset normalises a fungible-asset address or the address part of
// a coin type such as 0x1::aptos_coin::AptosCoin.
func NormalizeAsset(asset string) (string, error) {
	if i := strings.Index(asset, "::"); i >= 0 {
		addr, err := NormalizeAddress(asset[:i])
		if err != nil {
			return "", err
		}
		return addr + asset[i:], nil
	}
	return NormalizeAddress(asset)
}

func SameAddress(a, b string) bool {
	na, err := NormalizeAsset(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeAsset(b)
	if err != nil {
		return false
	}
	return na == nb
}

func ValidHash(hash string) bool {
	s := strings.TrimPrefix(strings.ToLower(hash), "0x")
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// NormalizeHash lowercases hash and adds the 0x prefix so one transaction
// has exactly one spelling.
func NormalizeHash(hash string) string {
	return "0x" + strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hash)), "0x")
}

func padEven(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}
