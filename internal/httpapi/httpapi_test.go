package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/parumu/gg18coord/internal/audit"
	"github.com/parumu/gg18coord/internal/clock"
	"github.com/parumu/gg18coord/internal/ethtx"
	"github.com/parumu/gg18coord/internal/notify"
	"github.com/parumu/gg18coord/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	store := session.New(session.Config{
		MaxSessions:   10,
		SessionTTL:    60,
		FailedTTL:     60,
		MaxSigRetries: 2,
		Network:       ethtx.Mainnet,
	}, clock.Real{}, logger, notify.New(logger), audit.NewMemoryStore())

	srv := &Server{Store: store, Network: ethtx.Mainnet, Logger: logger}
	return httptest.NewServer(NewRouter(srv))
}

func postJSON(t *testing.T, base, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	resp, err := http.Post(base+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestKeygenEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp := postJSON(t, ts.URL, "/v1/sessions/keygen/start", map[string]any{
		"session_name": "kg1",
		"num_parties":  2,
		"threshold":    1,
		"on_end_url":   "",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keygen start: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	var signup1 keygenSignupResponse
	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/signup", map[string]any{"session_name": "kg1"})
	decodeBody(t, resp, &signup1)
	if signup1.PartyID != 1 {
		t.Fatalf("expected party 1, got %d", signup1.PartyID)
	}

	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/signup", map[string]any{"session_name": "kg1"})
	var signup2 keygenSignupResponse
	decodeBody(t, resp, &signup2)
	if signup2.PartyID != 2 {
		t.Fatalf("expected party 2, got %d", signup2.PartyID)
	}

	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/set", map[string]any{
		"session_name": "kg1", "key": "round1", "value": "payload",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keygen set: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	var getResp kvGetResponse
	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/get", map[string]any{
		"session_name": "kg1", "key": "round1",
	})
	decodeBody(t, resp, &getResp)
	if getResp.Value != "payload" {
		t.Fatalf("expected payload, got %q", getResp.Value)
	}

	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/end", map[string]any{
		"session_name": "kg1", "party_id": 1, "address": "0xabc",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keygen end party 1: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/end", map[string]any{
		"session_name": "kg1", "party_id": 2, "address": "0xabc",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keygen end party 2: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL, "/v1/sessions/keygen/status", map[string]any{"session_name_key": "kg1"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for removed session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestKeygenSignupUnknownSessionReturns422(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp := postJSON(t, ts.URL, "/v1/sessions/keygen/signup", map[string]any{"session_name": "missing"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["Error"] == "" {
		t.Fatal("expected an Error field in the response body")
	}
}

func TestCalcAddrEndpoint(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	x := "4b4ece7218b90931a2d16d053b579461fab70a5d6d2137143f1026b865f45937"
	y := "b287fe8c37d4615cb9ab23868e012991acf24be87146a9740e02001e549aaed8"

	resp := postJSON(t, ts.URL, "/v1/ethereum/calc_addr", map[string]any{"public_key": "04" + x + y})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("calc_addr: status %d", resp.StatusCode)
	}
	var body calcAddrResponse
	decodeBody(t, resp, &body)
	if body.Address != "9debb5ff7c3183d441d6e6d0836cbc2df4f36b97" {
		t.Fatalf("unexpected address: %s", body.Address)
	}
}

func TestPreflightHeaders(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/sessions/count", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected CORS origin header: %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Fatalf("unexpected CORS methods header: %q", got)
	}
}

func TestSigningEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	addr := "8d900bfa2353548a4631be870f99939575551b60"
	tx := "eb80850ba43b7400825208947917bc33eea648809c285607579c9919fb864f8f8703baf82d03a00080018080"

	resp := postJSON(t, ts.URL, "/v1/sessions/signing/start", map[string]any{
		"session_name": "tx1", "address": addr, "msg": tx, "on_end_url": "",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signing start: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	var signupResp signingSignupResponse
	resp = postJSON(t, ts.URL, "/v1/sessions/signing/signup", map[string]any{
		"session_name": "tx1", "address": addr, "num_parties": 2, "threshold": 1,
	})
	decodeBody(t, resp, &signupResp)
	if signupResp.PartyID != 1 {
		t.Fatalf("expected party 1, got %d", signupResp.PartyID)
	}

	resp = postJSON(t, ts.URL, "/v1/sessions/signing/signup", map[string]any{
		"session_name": "tx1", "address": addr, "num_parties": 2, "threshold": 1,
	})
	resp.Body.Close()

	// an invalid signature keeps the session in recalculation until
	// retries are exhausted (MaxSigRetries=2 in newTestServer).
	resp = postJSON(t, ts.URL, "/v1/sessions/signing/end", map[string]any{
		"session_name_key": signupResp.SessionNameKey, "address": addr, "party_id": 1,
		"signature": "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for non-last party, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL, "/v1/sessions/signing/end", map[string]any{
		"session_name_key": signupResp.SessionNameKey, "address": addr, "party_id": 2,
		"signature": "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 (wait for recalc) on last party, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var ticketsLeft int
	resp = postJSON(t, ts.URL, "/v1/sessions/signing/tickets_left", map[string]any{
		"session_name_key": signupResp.SessionNameKey,
	})
	decodeBody(t, resp, &ticketsLeft)
	if ticketsLeft != 2 {
		t.Fatalf("expected tickets republished to 2, got %d", ticketsLeft)
	}
}
