package ethtx

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// SigOverride is the (v, r, s) triple spliced into a normalised tx once a
// joint signature has been produced. When nil, Normalize appends the
// EIP-155 default placeholder (chain_id, "", "") instead.
type SigOverride struct {
	V *big.Int
	R *big.Int
	S *big.Int
}

// Normalize parses unsignedTxHex as an RLP list of 6 or 9 items, preserves
// the raw encoding of the first six fields (nonce, to, value, gas_price,
// gas, data) verbatim, and appends either the supplied signature or the
// EIP-155 default trailer. The result is always a 9-item list, hex encoded.
//
// The outer list header's declared content length only identifies the value
// as a list; it does not bound how many items get read. Items are walked
// from right after the header to the physical end of the buffer, so a
// header that understates the content length still yields every item
// actually present. Parsing fails only when an item's own header calls for
// more bytes than remain in the buffer.
func Normalize(unsignedTxHex string, chainID uint8, override *SigOverride) (string, error) {
	raw, err := hex.DecodeString(unsignedTxHex)
	if err != nil {
		return "", fmt.Errorf("invalid unsigned_tx: %w", err)
	}

	fields, err := splitTopLevelList(raw)
	if err != nil {
		return "", err
	}

	n := len(fields)
	if n != 6 && n != 9 {
		return "", fmt.Errorf("malformed unsigned tx. expected item size to be 6 or 9, but got %d", n)
	}

	out := make([]interface{}, 0, 9)
	for i := 0; i < 6; i++ {
		out = append(out, rlp.RawValue(fields[i]))
	}
	if override != nil {
		out = append(out, override.V, override.R, override.S)
	} else {
		out = append(out, new(big.Int).SetUint64(uint64(chainID)), []byte{}, []byte{})
	}

	enc, err := rlp.EncodeToBytes(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode normalized tx: %w", err)
	}
	return hex.EncodeToString(enc), nil
}

// CalcV computes the EIP-155 signature v value.
func CalcV(network Network, recid uint8) uint64 {
	return uint64(network.ChainID())*2 + uint64(recid) + 35
}

// Integrate splices a verified (recid, r, s) signature into the normalised
// unsigned tx, producing the final signed transaction hex.
func Integrate(txHex string, network Network, recid uint8, sig Signature) (string, error) {
	override := &SigOverride{
		V: new(big.Int).SetUint64(CalcV(network, recid)),
		R: new(big.Int).SetBytes(sig.R[:]),
		S: new(big.Int).SetBytes(sig.S[:]),
	}
	return Normalize(txHex, network.ChainID(), override)
}

// splitTopLevelList enters the single top-level RLP list and returns the
// raw encoding of each item it contains. The outer header is read only to
// confirm raw is a list and to find where its content starts; item
// enumeration then continues to the physical end of raw rather than
// stopping once the outer header's own declared length is exhausted.
func splitTopLevelList(raw []byte) ([][]byte, error) {
	isList, headerLen, _, err := decodeRLPHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed unsigned tx: %w", err)
	}
	if !isList {
		return nil, fmt.Errorf("malformed unsigned tx: expected a list")
	}

	var items [][]byte
	rest := raw[headerLen:]
	for len(rest) > 0 {
		_, itemHeaderLen, itemContentLen, err := decodeRLPHeader(rest)
		if err != nil {
			return nil, fmt.Errorf("malformed unsigned tx: %w", err)
		}
		itemLen := itemHeaderLen + itemContentLen
		if itemLen > len(rest) {
			return nil, fmt.Errorf("malformed unsigned tx: item overruns buffer")
		}
		items = append(items, rest[:itemLen])
		rest = rest[itemLen:]
	}
	return items, nil
}

// decodeRLPHeader reads the single RLP header at the start of b, returning
// whether it encodes a list, the header's own length in bytes, and the
// declared length of the content that follows it.
func decodeRLPHeader(b []byte) (isList bool, headerLen int, contentLen int, err error) {
	if len(b) == 0 {
		return false, 0, 0, fmt.Errorf("unexpected end of input")
	}

	first := b[0]
	switch {
	case first < 0x80:
		return false, 0, 1, nil
	case first <= 0xb7:
		return false, 1, int(first - 0x80), nil
	case first <= 0xbf:
		lenOfLen := int(first - 0xb7)
		if len(b) < 1+lenOfLen {
			return false, 0, 0, fmt.Errorf("truncated long string length prefix")
		}
		return false, 1 + lenOfLen, decodeBigEndianLen(b[1 : 1+lenOfLen]), nil
	case first <= 0xf7:
		return true, 1, int(first - 0xc0), nil
	default:
		lenOfLen := int(first - 0xf7)
		if len(b) < 1+lenOfLen {
			return false, 0, 0, fmt.Errorf("truncated long list length prefix")
		}
		return true, 1 + lenOfLen, decodeBigEndianLen(b[1 : 1+lenOfLen]), nil
	}
}

func decodeBigEndianLen(b []byte) int {
	n := 0
	for _, c := range b {
		n = n<<8 | int(c)
	}
	return n
}
