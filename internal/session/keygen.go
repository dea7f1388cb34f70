package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parumu/gg18coord/internal/audit"
	"github.com/parumu/gg18coord/internal/notify"
)

const (
	keygenWebhookAttempts = 5
	keygenWebhookDelay    = time.Second
)

// StartKeygen admits a new keygen session (C6 start).
func (s *Store) StartKeygen(sessionName string, numParties, threshold int, onEndURL string) error {
	if err := validateSessionName(sessionName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admitLocked(sessionName, numParties, threshold); err != nil {
		return err
	}

	attrs := newAttrs(sessionName, sessionName, KindKeygen, s.clock.Now(), s.cfg.SessionTTL, onEndURL)
	attrs.NumParties = numParties
	attrs.Threshold = threshold
	attrs.Tickets.Store(uint32(numParties))

	s.sessions[sessionName] = &Session{Attrs: attrs}
	return nil
}

// SignupKeygen admits the next party, returning its assigned id and the
// session's (n, t).
func (s *Store) SignupKeygen(sessionName string) (partyID, numParties, threshold int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionName]
	if !ok {
		return 0, 0, 0, newNotFoundErr("keygen session %q not found", sessionName)
	}
	if sess.Stage != StageSigningUp {
		return 0, 0, 0, newWrongStageErr("keygen session %q is not accepting signups", sessionName)
	}

	partyID = len(sess.Joined) + 1
	if err := addNewPartySwitchToProcessingIfNeeded(&sess.Attrs, partyID); err != nil {
		return 0, 0, 0, err
	}
	return partyID, sess.NumParties, sess.Threshold, nil
}

// KeygenEnd is the outcome of a keygen End call.
type KeygenEnd int

const (
	KeygenEndAck KeygenEnd = iota
	KeygenEndDropKey
)

// EndKeygen records a party's completion. When the last party has reported,
// the session is removed immediately and, when an on_end_url is set, a
// webhook is attempted up to 5 times with a 1s delay; if every attempt
// fails, callers should interpret
// KeygenEndDropKey as "discard the generated key share" — the session is
// gone either way.
func (s *Store) EndKeygen(ctx context.Context, sessionName string, partyID int, address string) (KeygenEnd, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionName]
	if !ok {
		s.mu.Unlock()
		return 0, newNotFoundErr("keygen session %q not found", sessionName)
	}
	if sess.Stage != StageProcessing {
		s.mu.Unlock()
		return 0, newWrongStageErr("keygen session %q is not in processing", sessionName)
	}

	if sess.Ended[partyID] {
		s.logger.Warn("duplicate keygen end", zap.String("session_name", sessionName), zap.Int("party_id", partyID))
	}
	sess.Ended[partyID] = true

	last := len(sess.Ended) == sess.NumParties
	if !last {
		s.mu.Unlock()
		return KeygenEndAck, nil
	}

	onEndURL := sess.OnEndURL
	numParties := sess.NumParties
	delete(s.sessions, sessionName)
	s.mu.Unlock()

	delivered := true
	if onEndURL != "" {
		delivered = s.notifier.PostWithRetry(ctx, onEndURL, notify.Notification{
			When:        s.clock.Now(),
			IsErr:       false,
			SessionName: sessionName,
			Value:       address,
		}, keygenWebhookAttempts, keygenWebhookDelay)
	}

	s.audit.Record(ctx, audit.Record{
		SessionKey: sessionName,
		Kind:       KindKeygen.String(),
		Outcome:    "ok",
		Detail:     address,
		ClosedAt:   s.clock.Now(),
		NumParties: numParties,
	})

	if !delivered {
		return KeygenEndDropKey, nil
	}
	return KeygenEndAck, nil
}

// FailKeygen marks a session failed; sticky, first caller wins.
func (s *Store) FailKeygen(sessionName, errMsg string) error {
	return s.failSession(sessionName, errMsg)
}

// KVGetKeygen reads a round message for a keygen session.
func (s *Store) KVGetKeygen(sessionName, key string) (string, bool, error) {
	return s.kvGet(sessionName, KindKeygen, key)
}

// KVSetKeygen writes a round message for a keygen session.
func (s *Store) KVSetKeygen(sessionName, key, value string) error {
	return s.kvSet(sessionName, KindKeygen, key, value)
}
