package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parumu/gg18coord/internal/audit"
	"github.com/parumu/gg18coord/internal/ethtx"
	"github.com/parumu/gg18coord/internal/notify"
)

// ComposeSigningKey builds the store key for a signing session: the
// session_name namespace is scoped under the sender address so it never
// collides with a keygen session of the same name.
func ComposeSigningKey(sessionName, address string) string {
	return fmt.Sprintf("%s/%s", address, sessionName)
}

// StartSigning admits a new signing session. num_parties/threshold are not
// yet known — they arrive with the first Signup — so they're set to
// placeholders (1, 0) and tickets to 0.
func (s *Store) StartSigning(sessionName, address, msgHex, onEndURL string) error {
	if err := validateSessionName(sessionName); err != nil {
		return err
	}
	addr, err := ethtx.ParseAddress(address)
	if err != nil {
		return newMalformedErr("invalid address: %v", err)
	}

	normalized, err := ethtx.Normalize(msgHex, s.cfg.Network.ChainID(), nil)
	if err != nil {
		return newMalformedErr("%v", err)
	}

	key := ComposeSigningKey(sessionName, addr.Hex())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[key]; exists {
		return newAdmissionErr("signing session %q already exists", key)
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		return newAdmissionErr("maximum number of sessions (%d) reached", s.cfg.MaxSessions)
	}

	attrs := newAttrs(key, sessionName, KindSigning, s.clock.Now(), s.cfg.SessionTTL, onEndURL)
	attrs.NumParties = 1
	attrs.Threshold = 0
	attrs.Tickets.Store(0)

	s.sessions[key] = &Session{
		Attrs: attrs,
		Signing: &SigningAttrs{
			Address:    addr.Hex(),
			Msg:        normalized,
			MaxRetries: s.cfg.MaxSigRetries,
		},
	}
	return nil
}

// SignupSigning admits the next party. The first signup fixes (n, t) for
// the session; later signups must match exactly.
func (s *Store) SignupSigning(sessionName, address string, numParties, threshold int) (key string, partyID int, err error) {
	addr, err := ethtx.ParseAddress(address)
	if err != nil {
		return "", 0, newMalformedErr("invalid address: %v", err)
	}
	key = ComposeSigningKey(sessionName, addr.Hex())

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return "", 0, newNotFoundErr("signing session %q not found", key)
	}
	if sess.Stage != StageSigningUp {
		return "", 0, newWrongStageErr("signing session %q is not accepting signups", key)
	}

	if len(sess.Joined) == 0 {
		if err := validateNumPartiesThreshold(numParties, threshold); err != nil {
			return "", 0, err
		}
		sess.NumParties = numParties
		sess.Threshold = threshold
		sess.Tickets.Store(uint32(threshold + 1))
	} else if sess.NumParties != numParties || sess.Threshold != threshold {
		return "", 0, newAdmissionErr(
			"expected num_parties=%d, threshold=%d for %s, but got num_parties=%d, threshold=%d",
			sess.NumParties, sess.Threshold, key, numParties, threshold,
		)
	}

	partyID = len(sess.Joined) + 1
	if err := addNewPartySwitchToProcessingIfNeeded(&sess.Attrs, partyID); err != nil {
		return "", 0, err
	}
	return key, partyID, nil
}

// GetTicket acquires a recalculation-round slot: decrements tickets iff
// positive, valid only once the session is in Processing.
func (s *Store) GetTicket(key string) (bool, error) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return false, newNotFoundErr("signing session %q not found", key)
	}
	if sess.Stage != StageProcessing {
		s.mu.Unlock()
		return false, newWrongStageErr("signing session %q is not in processing", key)
	}
	s.mu.Unlock()

	for {
		cur := sess.Tickets.Load()
		if cur == 0 {
			return false, nil
		}
		if sess.Tickets.CompareAndSwap(cur, cur-1) {
			return true, nil
		}
	}
}

// EndSigning is C7's end handler. It scopes the session-map lock tightly:
// held once for the per-party bookkeeping and verification, released, and
// re-acquired only if ticket republishing or session removal is needed, so
// the lock is never held across the webhook POST.
func (s *Store) EndSigning(ctx context.Context, key string, partyID int, sigHex string) (Result, error) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return ResultErr, newNotFoundErr("signing session %q not found", key)
	}
	if sess.Stage != StageProcessing {
		s.mu.Unlock()
		return ResultErr, newWrongStageErr("signing session %q is not in processing", key)
	}

	if sess.Ended[partyID] {
		s.logger.Warn("duplicate signing end", zap.String("session_key", key), zap.Int("party_id", partyID))
	}
	firstEnder := len(sess.Ended) == 0
	sess.Ended[partyID] = true

	if firstEnder {
		if signed, err := s.verifyAndIntegrate(sess, sigHex); err == nil {
			sess.Signing.SignedMsg = &signed
		} else {
			s.logger.Info("signature verification failed", zap.String("session_key", key), zap.Error(err))
		}
	}

	required := sess.Threshold + 1
	last := len(sess.Ended) == required

	if !last {
		result := nonLastResult(sess.Signing)
		s.mu.Unlock()
		return result, nil
	}

	// Last party: decide outcome and what follow-up locking is needed.
	var (
		result       Result
		genTickets   bool
		deleteNow    bool
		webhookValue string
		webhookIsErr bool
	)

	switch {
	case sess.Signing.SignedMsg != nil:
		result = ResultOk
		deleteNow = true
		webhookValue = *sess.Signing.SignedMsg
		webhookIsErr = false

	case sess.Signing.RetryCount < sess.Signing.MaxRetries:
		sess.Signing.RetryCount++
		sess.Ended = make(map[int]bool)
		sess.KV.clear()
		result = ResultWait4Recalc
		genTickets = true

	default:
		result = ResultErr
		deleteNow = true
		webhookValue = "signing failed after exhausting retries"
		webhookIsErr = true
	}

	onEndURL := sess.OnEndURL
	sessionName := sess.SessionName
	numParties := sess.Threshold + 1
	s.mu.Unlock()

	if genTickets {
		s.mu.Lock()
		if sess, ok := s.sessions[key]; ok {
			sess.Tickets.Store(uint32(sess.Threshold + 1))
		}
		s.mu.Unlock()
		return result, nil
	}

	if deleteNow {
		s.mu.Lock()
		delete(s.sessions, key)
		s.mu.Unlock()
	}

	if onEndURL != "" {
		s.notifier.Post(ctx, onEndURL, notify.Notification{
			When:        s.clock.Now(),
			IsErr:       webhookIsErr,
			SessionName: sessionName,
			Value:       webhookValue,
		})
	}

	outcome := "ok"
	if webhookIsErr {
		outcome = "error"
	}
	s.audit.Record(ctx, audit.Record{
		SessionKey: key,
		Kind:       KindSigning.String(),
		Outcome:    outcome,
		Detail:     webhookValue,
		ClosedAt:   s.clock.Now(),
		NumParties: numParties,
	})

	return result, nil
}

func nonLastResult(sa *SigningAttrs) Result {
	if sa.SignedMsg != nil {
		return ResultOk
	}
	if sa.RetryCount < sa.MaxRetries {
		return ResultWait4Recalc
	}
	return ResultErr
}

// verifyAndIntegrate tries both recids against the stored normalised tx and
// sender address, returning the fully signed tx hex on success.
func (s *Store) verifyAndIntegrate(sess *Session, sigHex string) (string, error) {
	addr, err := ethtx.ParseAddress(sess.Signing.Address)
	if err != nil {
		return "", err
	}
	recid, err := ethtx.FindRecid(sigHex, sess.Signing.Msg, addr)
	if err != nil {
		return "", err
	}
	sig, err := ethtx.ParseSignature(sigHex)
	if err != nil {
		return "", err
	}
	return ethtx.Integrate(sess.Signing.Msg, s.cfg.Network, recid, sig)
}

// FailSigning marks a signing session failed; sticky, first caller wins.
func (s *Store) FailSigning(key, errMsg string) error {
	return s.failSession(key, errMsg)
}

func (s *Store) KVGetSigning(key, kvKey string) (string, bool, error) {
	return s.kvGet(key, KindSigning, kvKey)
}

func (s *Store) KVSetSigning(key, kvKey, value string) error {
	return s.kvSet(key, KindSigning, kvKey, value)
}
