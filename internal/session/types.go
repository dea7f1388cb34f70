// Package session implements the GG18 rendezvous core: the session store,
// the keygen and signing state machines layered on top of it, and the
// per-session KV broker parties use to exchange round messages.
package session

import "sync/atomic"

// Kind distinguishes the two session variants that share this store.
type Kind int

const (
	KindKeygen Kind = iota
	KindSigning
)

func (k Kind) String() string {
	if k == KindKeygen {
		return "keygen"
	}
	return "signing"
}

// Stage is the session's lifecycle phase. It only ever moves forward.
type Stage int

const (
	StageSigningUp Stage = iota
	StageProcessing
)

// Result is the tri-state outcome of a signing End call.
type Result int

const (
	ResultOk Result = iota
	ResultWait4Recalc
	ResultErr
)

// Notification is what the webhook notifier POSTs on session end or timeout.
type Notification struct {
	When        int64  `json:"when"`
	IsErr       bool   `json:"is_err"`
	SessionName string `json:"session_name"`
	Value       string `json:"value"`
}

// Session is the tagged union of a keygen and a signing session. Common
// attributes live on the embedded Attrs; Signing is non-nil only for
// KindSigning sessions.
type Session struct {
	Attrs
	Signing *SigningAttrs
}

// Attrs holds the fields shared by both session kinds.
type Attrs struct {
	Key         string // the store lookup key: session_name, or address/session_name
	SessionName string
	Kind        Kind

	StartTime int64
	TTL       int64

	NumParties int
	Threshold  int

	Joined map[int]bool
	Ended  map[int]bool

	Stage Stage

	OnEndURL string

	IsFailed bool
	ErrMsg   string

	Tickets *atomic.Uint32

	KV *kv
}

// SigningAttrs holds the fields exclusive to signing sessions.
type SigningAttrs struct {
	Address    string
	Msg        string // normalised unsigned tx, hex
	SignedMsg  *string
	RetryCount int
	MaxRetries int
}

func newAttrs(key, sessionName string, kind Kind, now, ttl int64, onEndURL string) Attrs {
	return Attrs{
		Key:         key,
		SessionName: sessionName,
		Kind:        kind,
		StartTime:   now,
		TTL:         ttl,
		Joined:      make(map[int]bool),
		Ended:       make(map[int]bool),
		Stage:       StageSigningUp,
		OnEndURL:    onEndURL,
		Tickets:     new(atomic.Uint32),
		KV:          newKV(),
	}
}

// requiredCount is the number of signups needed to leave SigningUp: all n
// parties for keygen, t+1 parties for signing.
func (a *Attrs) requiredCount() int {
	if a.Kind == KindKeygen {
		return a.NumParties
	}
	return a.Threshold + 1
}

// expired reports whether the session should be evicted by the sweeper.
func (a *Attrs) expired(now int64) bool {
	return now > a.StartTime+a.TTL-1
}
