package ethtx

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a decoded (r, s) pair, 32 bytes each.
type Signature struct {
	R [32]byte
	S [32]byte
}

// ParseSignature decodes a 128-character hex r||s signature.
func ParseSignature(sigHex string) (Signature, error) {
	var sig Signature
	if len(sigHex) != 128 {
		return sig, fmt.Errorf("length of hex is not 128, but %d", len(sigHex))
	}
	r, err := hex.DecodeString(sigHex[:64])
	if err != nil {
		return sig, fmt.Errorf("invalid r: %w", err)
	}
	s, err := hex.DecodeString(sigHex[64:])
	if err != nil {
		return sig, fmt.Errorf("invalid s: %w", err)
	}
	copy(sig.R[:], r)
	copy(sig.S[:], s)
	return sig, nil
}

// MessageHash decodes hex-encoded bytes and returns their keccak-256 digest.
func MessageHash(hexMsg string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(hexMsg)
	if err != nil {
		return h, fmt.Errorf("invalid hex: %w", err)
	}
	copy(h[:], crypto.Keccak256(b))
	return h, nil
}

// FindRecid tries recovery ids 0 and 1, returning the first one whose
// recovered Ethereum address equals want. Used by the signing state machine
// to verify a joint signature without knowing in advance which recid the
// parties produced.
func FindRecid(sigHex, txHex string, want Address) (uint8, error) {
	sig, err := ParseSignature(sigHex)
	if err != nil {
		return 0, err
	}
	hash, err := MessageHash(txHex)
	if err != nil {
		return 0, err
	}

	for _, recid := range []uint8{0, 1} {
		full := make([]byte, 65)
		copy(full[0:32], sig.R[:])
		copy(full[32:64], sig.S[:])
		full[64] = recid

		pub, err := crypto.Ecrecover(hash[:], full)
		if err != nil {
			continue
		}
		got, err := AddressFromUncompressedPubkey(pub)
		if err != nil {
			continue
		}
		if got.Equal(want) {
			return recid, nil
		}
	}
	return 0, fmt.Errorf("no recid could produce identical address with given signature and tx")
}
