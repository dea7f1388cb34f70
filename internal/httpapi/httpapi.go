// Package httpapi implements the coordinator's HTTP surface (C10): request
// routing, validation, and JSON serialisation over the session store.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/parumu/gg18coord/internal/ethtx"
	"github.com/parumu/gg18coord/internal/session"
)

// Server holds the dependencies every handler needs.
type Server struct {
	Store   *session.Store
	Network ethtx.Network
	Logger  *zap.Logger
}

// NewRouter builds the /v1 HTTP surface, with CORS preflight handling on
// every mutating route.
func NewRouter(srv *Server) *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	register := func(path string, handler http.HandlerFunc) {
		v1.HandleFunc(path, handler).Methods(http.MethodPost)
		v1.HandleFunc(path, preflight).Methods(http.MethodOptions)
	}

	register("/ethereum/calc_addr", srv.handleCalcAddr)
	register("/sessions/count", srv.handleCount)

	register("/sessions/keygen/start", srv.handleKeygenStart)
	register("/sessions/keygen/signup", srv.handleKeygenSignup)
	register("/sessions/keygen/get", srv.handleKeygenGet)
	register("/sessions/keygen/set", srv.handleKeygenSet)
	register("/sessions/keygen/end", srv.handleKeygenEnd)
	register("/sessions/keygen/tickets_left", srv.handleKeygenTicketsLeft)
	register("/sessions/keygen/status", srv.handleKeygenStatus)
	register("/sessions/keygen/list", srv.handleKeygenList)
	register("/sessions/keygen/fail", srv.handleKeygenFail)

	register("/sessions/signing/start", srv.handleSigningStart)
	register("/sessions/signing/signup", srv.handleSigningSignup)
	register("/sessions/signing/get", srv.handleSigningGet)
	register("/sessions/signing/set", srv.handleSigningSet)
	register("/sessions/signing/end", srv.handleSigningEnd)
	register("/sessions/signing/get_ticket", srv.handleSigningGetTicket)
	register("/sessions/signing/tickets_left", srv.handleSigningTicketsLeft)
	register("/sessions/signing/status", srv.handleSigningStatus)
	register("/sessions/signing/list", srv.handleSigningList)
	register("/sessions/signing/fail", srv.handleSigningFail)

	r.Use(requestLogger(srv.Logger))
	return r
}

// requestLogger assigns each request a UUID for log correlation, the way
// the teacher correlates log lines per gRPC call with its method name.
func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func preflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST")
	h.Set("Access-Control-Allow-Headers", "x-requested-with,content-type")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAck(w http.ResponseWriter) {
	writeJSON(w, map[string]bool{"ok": true})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps a domain error to the 422 status mapping; anything not
// recognised as a DomainError is still reported as 422 with its message,
// since every error this layer can produce at the boundary is either
// admission, wrong-stage, not-found or malformed-payload.
func writeError(w http.ResponseWriter, err error) {
	var de *session.DomainError
	msg := err.Error()
	if errors.As(err, &de) {
		msg = de.Msg
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]string{"Error": msg})
}
