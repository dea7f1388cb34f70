package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parumu/gg18coord/internal/audit"
	"github.com/parumu/gg18coord/internal/clock"
	"github.com/parumu/gg18coord/internal/ethtx"
	"github.com/parumu/gg18coord/internal/notify"
)

func newTestStore(t *testing.T) (*Store, *audit.MemoryStore, *clock.Fake) {
	t.Helper()
	logger := zap.NewNop()
	mem := audit.NewMemoryStore()
	fake := clock.NewFake(1000)
	cfg := Config{
		MaxSessions:    10,
		SessionTTL:     60,
		FailedTTL:      60,
		MaxSigRetries:  2,
		Network:        ethtx.Mainnet,
	}
	return New(cfg, fake, logger, notify.New(logger), mem), mem, fake
}

func TestKeygenHappyPath(t *testing.T) {
	store, mem, _ := newTestStore(t)

	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := store.StartKeygen("s1", 3, 2, srv.URL); err != nil {
		t.Fatalf("StartKeygen: %v", err)
	}

	for i := 1; i <= 3; i++ {
		partyID, n, th, err := store.SignupKeygen("s1")
		if err != nil {
			t.Fatalf("SignupKeygen party %d: %v", i, err)
		}
		if partyID != i || n != 3 || th != 2 {
			t.Fatalf("unexpected signup result: party=%d n=%d th=%d", partyID, n, th)
		}
	}

	attrs, ok := store.Status("s1")
	if !ok || attrs.Stage != StageProcessing {
		t.Fatalf("expected processing stage after 3 signups, got %+v", attrs)
	}

	for i := 1; i <= 2; i++ {
		outcome, err := store.EndKeygen(context.Background(), "s1", i, "0xabc")
		if err != nil {
			t.Fatalf("EndKeygen party %d: %v", i, err)
		}
		if outcome != KeygenEndAck {
			t.Fatalf("expected ack before last party, got %v", outcome)
		}
	}

	outcome, err := store.EndKeygen(context.Background(), "s1", 3, "0xabc")
	if err != nil {
		t.Fatalf("EndKeygen last party: %v", err)
	}
	if outcome != KeygenEndAck {
		t.Fatalf("expected ack on successful webhook delivery, got %v", outcome)
	}

	if _, ok := store.Status("s1"); ok {
		t.Fatal("session should be removed after last party ends")
	}
	if received.Value != "0xabc" || received.SessionName != "s1" {
		t.Fatalf("unexpected webhook payload: %+v", received)
	}

	records := mem.Snapshot()
	if len(records) != 1 || records[0].Outcome != "ok" {
		t.Fatalf("expected one ok audit record, got %+v", records)
	}
}

func TestKeygenSignupRejectsWrongStage(t *testing.T) {
	store, _, _ := newTestStore(t)
	if err := store.StartKeygen("s1", 2, 1, ""); err != nil {
		t.Fatalf("StartKeygen: %v", err)
	}
	if _, _, _, err := store.SignupKeygen("s1"); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, _, _, err := store.SignupKeygen("s1"); err != nil {
		t.Fatalf("second signup: %v", err)
	}
	if _, _, _, err := store.SignupKeygen("s1"); err == nil {
		t.Fatal("expected wrong-stage error once processing has started")
	}
}

func TestKeygenEndDropsKeyWhenWebhookFails(t *testing.T) {
	store, _, _ := newTestStore(t)
	if err := store.StartKeygen("s1", 1, 0, "http://127.0.0.1:1/no-listener"); err == nil {
		t.Fatalf("expected admission error for num_parties<2, got nil")
	}

	if err := store.StartKeygen("s2", 2, 1, "http://127.0.0.1:1/no-listener"); err != nil {
		t.Fatalf("StartKeygen: %v", err)
	}
	store.SignupKeygen("s2")
	store.SignupKeygen("s2")

	outcome, err := store.EndKeygen(context.Background(), "s2", 1, "0xabc")
	if err != nil {
		t.Fatalf("EndKeygen: %v", err)
	}
	if outcome != KeygenEndAck {
		t.Fatalf("expected ack for non-last party, got %v", outcome)
	}

	outcome, err = store.EndKeygen(context.Background(), "s2", 2, "0xabc")
	if err != nil {
		t.Fatalf("EndKeygen: %v", err)
	}
	if outcome != KeygenEndDropKey {
		t.Fatalf("expected drop-key outcome when webhook delivery exhausts retries, got %v", outcome)
	}
}

func TestKeygenStatusAndList(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.StartKeygen("s1", 2, 1, "")
	store.StartKeygen("s2", 3, 2, "")

	if _, ok := store.Status("missing"); ok {
		t.Fatal("expected no status for unknown session")
	}

	list := store.ListByKind(KindKeygen)
	if len(list) != 2 {
		t.Fatalf("expected 2 keygen sessions, got %d", len(list))
	}
	if store.Count() != 2 {
		t.Fatalf("expected store count 2, got %d", store.Count())
	}
}

func TestKeygenFailIsSticky(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.StartKeygen("s1", 2, 1, "")

	if err := store.FailKeygen("s1", "boom"); err != nil {
		t.Fatalf("FailKeygen: %v", err)
	}
	attrs, ok := store.Status("s1")
	if !ok || !attrs.IsFailed || attrs.ErrMsg != "boom" {
		t.Fatalf("expected failed session with message, got %+v", attrs)
	}

	if err := store.FailKeygen("s1", "different message"); err != nil {
		t.Fatalf("FailKeygen second call: %v", err)
	}
	attrs, _ = store.Status("s1")
	if attrs.ErrMsg != "boom" {
		t.Fatalf("expected sticky error message, got %q", attrs.ErrMsg)
	}
}

func TestKeygenKVRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.StartKeygen("s1", 2, 1, "")

	if _, present, err := store.KVGetKeygen("s1", "round1"); err != nil || present {
		t.Fatalf("expected absent value before set, got present=%v err=%v", present, err)
	}
	if err := store.KVSetKeygen("s1", "round1", "payload"); err != nil {
		t.Fatalf("KVSetKeygen: %v", err)
	}
	value, present, err := store.KVGetKeygen("s1", "round1")
	if err != nil || !present || value != "payload" {
		t.Fatalf("expected payload, got value=%q present=%v err=%v", value, present, err)
	}
}

func TestKeygenSweepEvictsExpiredSession(t *testing.T) {
	store, mem, fake := newTestStore(t)
	if err := store.StartKeygen("s1", 2, 1, ""); err != nil {
		t.Fatalf("StartKeygen: %v", err)
	}

	fake.Advance(61 * time.Second) // past the 60s TTL
	store.sweepOnce(context.Background())

	if _, ok := store.Status("s1"); ok {
		t.Fatal("expected session to be evicted by sweep")
	}
	records := mem.Snapshot()
	if len(records) != 1 || records[0].Outcome != "timeout" {
		t.Fatalf("expected one timeout audit record, got %+v", records)
	}
}
