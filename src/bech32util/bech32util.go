// Package bech32util converts EVM hex addresses into the chain's native
// bech32 account encoding. Pure and stateless.
package bech32util

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// HRP is the chain's bech32 human-readable part.
const HRP = "sei"

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsHexAddress is the validation gate applied at the API boundary before any
// upstream call is issued.
func IsHexAddress(s string) bool {
	return hexAddressRe.MatchString(s)
}

// ToBech32 converts a 20-byte hex address (optional 0x, case-insensitive)
// into its bech32 form. Input is not re-validated here: callers validate at
// the API boundary.
func ToBech32(hexAddr string) (string, error) {
	raw := strings.TrimPrefix(strings.ToLower(hexAddr), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode hex address: %w", err)
	}
	converted, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	encoded, err := bech32.Encode(HRP, converted)
	if err != nil {
		return "", fmt.Errorf("bech32 encode: %w", err)
	}
	return encoded, nil
}
