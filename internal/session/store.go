package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parumu/gg18coord/internal/audit"
	"github.com/parumu/gg18coord/internal/clock"
	"github.com/parumu/gg18coord/internal/ethtx"
	"github.com/parumu/gg18coord/internal/notify"
)

// Config carries the admission and timing parameters the store enforces.
type Config struct {
	MaxSessions    int
	SessionTTL     int64
	FailedTTL      int64 // ttl a session is bumped to once it is marked failed
	MaxSigRetries  int
	BgTaskInterval time.Duration
	Network        ethtx.Network
}

// Store is the process-wide session map (C5): a single mutex guards
// lookup, admission and removal. Each Session's KV has its own independent
// lock so round message traffic never contends with the map lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg      Config
	clock    clock.Clock
	logger   *zap.Logger
	notifier *notify.Notifier
	audit    audit.Store
}

func New(cfg Config, clk clock.Clock, logger *zap.Logger, notifier *notify.Notifier, auditStore audit.Store) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		notifier: notifier,
		audit:    auditStore,
	}
}

// Count returns the total number of live sessions, keygen and signing
// combined.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ListByKind returns a shallow snapshot of every live session of the given
// kind, safe to read without further locking.
func (s *Store) ListByKind(kind Kind) []Attrs {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Attrs, 0)
	for _, sess := range s.sessions {
		if sess.Kind == kind {
			a := sess.Attrs
			a.Joined = make(map[int]bool, len(sess.Joined))
			for id, v := range sess.Joined {
				a.Joined[id] = v
			}
			a.Ended = make(map[int]bool, len(sess.Ended))
			for id, v := range sess.Ended {
				a.Ended[id] = v
			}
			out = append(out, a)
		}
	}
	return out
}

// Status returns a snapshot of a single session's attributes by its store
// key, if present.
func (s *Store) Status(key string) (Attrs, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Attrs{}, false
	}
	return sess.Attrs, true
}

// TicketsLeft reports the current ticket count for a session.
func (s *Store) TicketsLeft(key string) (uint32, error) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return 0, newNotFoundErr("session %q not found", key)
	}
	return sess.Tickets.Load(), nil
}

// admitLocked enforces the shared admission policy; caller must hold s.mu.
func (s *Store) admitLocked(key string, numParties, threshold int) error {
	if _, exists := s.sessions[key]; exists {
		return newAdmissionErr("session %q already exists", key)
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		return newAdmissionErr("maximum number of sessions (%d) reached", s.cfg.MaxSessions)
	}
	if err := validateNumPartiesThreshold(numParties, threshold); err != nil {
		return err
	}
	return nil
}

// Run starts the background sweeper; it blocks until ctx is cancelled, so
// callers invoke it in its own goroutine.
func (s *Store) Run(ctx context.Context) {
	interval := s.cfg.BgTaskInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// failSession marks a session failed; sticky, the first caller wins and the
// session's ttl is bumped so the failure is observable until sweep.
func (s *Store) failSession(key, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return newNotFoundErr("session %q not found", key)
	}
	if sess.IsFailed {
		return nil
	}
	sess.IsFailed = true
	sess.ErrMsg = errMsg
	sess.TTL = s.cfg.FailedTTL
	return nil
}

// kvGet reads a round message, validating the session exists, is of the
// expected kind, and is in a stage where KV access is legal.
func (s *Store) kvGet(key string, kind Kind, kvKey string) (string, bool, error) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()

	if !ok {
		return "", false, newNotFoundErr("%s session %q not found", kind, key)
	}
	if sess.Kind != kind {
		return "", false, newNotFoundErr("%s session %q not found", kind, key)
	}

	v, present := sess.KV.get(kvKey)
	return v, present, nil
}

// kvSet writes a round message under the same validation as kvGet.
func (s *Store) kvSet(key string, kind Kind, kvKey, value string) error {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()

	if !ok {
		return newNotFoundErr("%s session %q not found", kind, key)
	}
	if sess.Kind != kind {
		return newNotFoundErr("%s session %q not found", kind, key)
	}

	sess.KV.set(kvKey, value)
	return nil
}

type expiredEntry struct {
	key         string
	sessionName string
	kind        Kind
	onEndURL    string
	numParties  int
}

// sweepOnce evicts every session past its TTL, notifying webhooks and
// writing audit records outside the store lock.
func (s *Store) sweepOnce(ctx context.Context) {
	now := s.clock.Now()

	var expired []expiredEntry
	s.mu.Lock()
	for key, sess := range s.sessions {
		if sess.expired(now) {
			expired = append(expired, expiredEntry{
				key:         key,
				sessionName: sess.SessionName,
				kind:        sess.Kind,
				onEndURL:    sess.OnEndURL,
				numParties:  sess.NumParties,
			})
			delete(s.sessions, key)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		s.logger.Info("session timed out",
			zap.String("session_key", e.key),
			zap.String("kind", e.kind.String()),
		)
		s.notifier.Post(ctx, e.onEndURL, notify.Notification{
			When:        now,
			IsErr:       true,
			SessionName: e.sessionName,
			Value:       "Session timed out",
		})
		s.audit.Record(ctx, audit.Record{
			SessionKey:  e.key,
			Kind:        e.kind.String(),
			Outcome:     "timeout",
			ClosedAt:    now,
			NumParties:  e.numParties,
		})
	}
}
