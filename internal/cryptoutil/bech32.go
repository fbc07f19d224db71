// Package cryptoutil implements the cryptographic primitives shared by
// the Secret Aggregate (C5) and Resource Aggregate (C6): bech32/bech32m
// encoding and a pepper-bound Argon2id password hash.
package cryptoutil

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// EncodeBech32m encodes data under the given human-readable prefix using
// the bech32m checksum variant (spec.md §6: api keys use HRP
// "dmtr_apikey" with Bech32m; derived status tokens use bech32m keyed by
// the resource kind's HRP).
func EncodeBech32m(hrp string, data []byte) (string, error) {
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("converting bits for bech32m: %w", err)
	}
	encoded, err := bech32.EncodeM(hrp, converted)
	if err != nil {
		return "", fmt.Errorf("encoding bech32m: %w", err)
	}
	return encoded, nil
}

// DecodeBech32m decodes a bech32m string, returning its HRP and payload.
func DecodeBech32m(s string) (hrp string, data []byte, err error) {
	hrp, converted, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return "", nil, fmt.Errorf("decoding bech32m: %w", err)
	}
	data, err = bech32.ConvertBits(converted, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("converting bits from bech32m: %w", err)
	}
	return hrp, data, nil
}
