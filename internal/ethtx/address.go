package ethtx

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Address is a 20-byte Ethereum address.
type Address [20]byte

// ParseAddress decodes a 40-character hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 40 {
		return a, fmt.Errorf("hex must be a 40-char long")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid hex string: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

func (a Address) Equal(b Address) bool { return a == b }

// AddressFromUncompressedPubkey derives the Ethereum address for an
// uncompressed secp256k1 public key (65 bytes, 0x04 prefix, or the bare
// 64-byte X||Y form).
func AddressFromUncompressedPubkey(pub []byte) (Address, error) {
	var a Address
	switch len(pub) {
	case 65:
		if pub[0] != 0x04 {
			return a, fmt.Errorf("uncompressed pubkey must start with 0x04")
		}
		pub = pub[1:]
	case 64:
		// already stripped of the leading format byte
	default:
		return a, fmt.Errorf("pubkey must be 64 or 65 bytes, got %d", len(pub))
	}

	h := crypto.Keccak256(pub)
	copy(a[:], h[12:])
	return a, nil
}
