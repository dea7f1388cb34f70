package httpapi

import (
	"fmt"
	"net/http"

	"github.com/parumu/gg18coord/internal/session"
)

type keygenStartRequest struct {
	SessionName string `json:"session_name"`
	NumParties  int    `json:"num_parties"`
	Threshold   int    `json:"threshold"`
	OnEndURL    string `json:"on_end_url"`
}

func (s *Server) handleKeygenStart(w http.ResponseWriter, r *http.Request) {
	var req keygenStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Store.StartKeygen(req.SessionName, req.NumParties, req.Threshold, req.OnEndURL); err != nil {
		writeError(w, err)
		return
	}
	writeAck(w)
}

type keygenSignupRequest struct {
	SessionName string `json:"session_name"`
}

type keygenSignupResponse struct {
	PartyID     int `json:"party_id"`
	NumParties  int `json:"num_parties"`
	Threshold   int `json:"threshold"`
}

func (s *Server) handleKeygenSignup(w http.ResponseWriter, r *http.Request) {
	var req keygenSignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	partyID, n, t, err := s.Store.SignupKeygen(req.SessionName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, keygenSignupResponse{PartyID: partyID, NumParties: n, Threshold: t})
}

type kvGetRequest struct {
	SessionName string `json:"session_name"`
	SessionType string `json:"session_type"`
	Key         string `json:"key"`
}

type kvGetResponse struct {
	Value string `json:"value"`
}

func (s *Server) handleKeygenGet(w http.ResponseWriter, r *http.Request) {
	var req kvGetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	value, present, err := s.Store.KVGetKeygen(req.SessionName, req.Key)
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

type kvSetRequest struct {
	SessionName string `json:"session_name"`
	SessionType string `json:"session_type"`
	Key         string `json:"key"`
	Value       string `json:"value"`
}

func (s *Server) handleKeygenSet(w http.ResponseWriter, r *http.Request) {
	var req kvSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Store.KVSetKeygen(req.SessionName, req.Key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeAck(w)
}

type keygenEndRequest struct {
	SessionName string `json:"session_name"`
	PartyID     int    `json:"party_id"`
	Address     string `json:"address"`
}

func (s *Server) handleKeygenEnd(w http.ResponseWriter, r *http.Request) {
	var req keygenEndRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	outcome, err := s.Store.EndKeygen(r.Context(), req.SessionName, req.PartyID, req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	if outcome == session.KeygenEndDropKey {
		writeNoContent(w)
		return
	}
	writeAck(w)
}

type sessionNameKeyRequest struct {
	SessionName    string `json:"session_name"`
	SessionNameKey string `json:"session_name_key"`
}

func (s *Server) handleKeygenTicketsLeft(w http.ResponseWriter, r *http.Request) {
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

func (s *Server) handleKeygenStatus(w http.ResponseWriter, r *http.Request) {
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

func (s *Server) handleKeygenList(w http.ResponseWriter, r *http.Request) {
	list := s.Store.ListByKind(session.KindKeygen)
	dtos := make([]sessionDTO, 0, len(list))
	for _, a := range list {
		dtos = append(dtos, toDTO(a))
	}
	writeJSON(w, dtos)
}

type failRequest struct {
	SessionName    string `json:"session_name"`
	SessionNameKey string `json:"session_name_key"`
	ErrMsg         string `json:"err_msg"`
}

func (s *Server) handleKeygenFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Store.FailKeygen(req.SessionName, req.ErrMsg); err != nil {
		writeError(w, err)
		return
	}
	writeAck(w)
}
