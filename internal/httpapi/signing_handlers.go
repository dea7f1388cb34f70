package httpapi

import (
	"fmt"
	"net/http"

	"github.com/parumu/gg18coord/internal/session"
)

type signingStartRequest struct {
	SessionName string `json:"session_name"`
	Address     string `json:"address"`
	Msg         string `json:"msg"`
	OnEndURL    string `json:"on_end_url"`
}

func (s *Server) handleSigningStart(w http.ResponseWriter, r *http.Request) {
	var req signingStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Store.StartSigning(req.SessionName, req.Address, req.Msg, req.OnEndURL); err != nil {
		writeError(w, err)
		return
	}
	writeAck(w)
}

type signingSignupRequest struct {
	SessionName string `json:"session_name"`
	Address     string `json:"address"`
	NumParties  int    `json:"num_parties"`
	Threshold   int    `json:"threshold"`
}

type signingSignupResponse struct {
	SessionNameKey string `json:"session_name_key"`
	PartyID        int    `json:"party_id"`
}

func (s *Server) handleSigningSignup(w http.ResponseWriter, r *http.Request) {
	var req signingSignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	key, partyID, err := s.Store.SignupSigning(req.SessionName, req.Address, req.NumParties, req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, signingSignupResponse{SessionNameKey: key, PartyID: partyID})
}

type signingKVRequest struct {
	SessionNameKey string `json:"session_name_key"`
	SessionType    string `json:"session_type"`
	Key            string `json:"key"`
	Value          string `json:"value"`
}

func (s *Server) handleSigningGet(w http.ResponseWriter, r *http.Request) {
	var req signingKVRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	value, present, err := s.Store.KVGetSigning(req.SessionNameKey, req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !present {
		writeNoContent(w)
		return
	}
	writeJSON(w, kvGetResponse{Value: value})
}

func (s *Server) handleSigningSet(w http.ResponseWriter, r *http.Request) {
	var req signingKVRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Store.KVSetSigning(req.SessionNameKey, req.Key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeAck(w)
}

type signingEndRequest struct {
	SessionNameKey string `json:"session_name_key"`
	Address        string `json:"address"`
	PartyID        int    `json:"party_id"`
	Signature      string `json:"signature"`
}

func (s *Server) handleSigningEnd(w http.ResponseWriter, r *http.Request) {
	var req signingEndRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	result, err := s.Store.EndSigning(r.Context(), req.SessionNameKey, req.PartyID, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	switch result {
	case session.ResultOk:
		writeAck(w)
	case session.ResultWait4Recalc:
		writeNoContent(w)
	default:
		writeError(w, fmt.Errorf("signature verification failed and retries are exhausted"))
	}
}

func (s *Server) handleSigningGetTicket(w http.ResponseWriter, r *http.Request) {
	var req sessionNameKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	ok, err := s.Store.GetTicket(req.SessionNameKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ok)
}

func (s *Server) handleSigningTicketsLeft(w http.ResponseWriter, r *http.Request) {
	var req sessionNameKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	left, err := s.Store.TicketsLeft(req.SessionNameKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, left)
}

func (s *Server) handleSigningStatus(w http.ResponseWriter, r *http.Request) {
	var req sessionNameKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	attrs, ok := s.Store.Status(req.SessionNameKey)
	if !ok {
		writeNoContent(w)
		return
	}
	writeJSON(w, toDTO(attrs))
}

func (s *Server) handleSigningList(w http.ResponseWriter, r *http.Request) {
	list := s.Store.ListByKind(session.KindSigning)
	dtos := make([]sessionDTO, 0, len(list))
	for _, a := range list {
		dtos = append(dtos, toDTO(a))
	}
	writeJSON(w, dtos)
}

func (s *Server) handleSigningFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Store.FailSigning(req.SessionNameKey, req.ErrMsg); err != nil {
		writeError(w, err)
		return
	}
	writeAck(w)
}
