package httpapi

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/parumu/gg18coord/internal/ethtx"
)

type calcAddrRequest struct {
	PublicKey string `json:"public_key"`
}

type calcAddrResponse struct {
	Address string `json:"address"`
}

func (s *Server) handleCalcAddr(w http.ResponseWriter, r *http.Request) {
	var req calcAddrRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}

	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		writeError(w, fmt.Errorf("invalid public_key hex: %w", err))
		return
	}

	addr, err := ethtx.AddressFromUncompressedPubkey(pub)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, calcAddrResponse{Address: addr.Hex()})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Store.Count())
}
