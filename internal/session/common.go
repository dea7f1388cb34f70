package session

// validateNumPartiesThreshold enforces 1 ≤ threshold < numParties and
// numParties ≥ 2, mirroring the admission rule shared by keygen and
// signing session starts.
func validateNumPartiesThreshold(numParties, threshold int) error {
	if numParties < 2 {
		return newAdmissionErr("num_parties must be at least 2, but got %d", numParties)
	}
	if threshold < 1 {
		return newAdmissionErr("threshold must be at least 1, but got %d", threshold)
	}
	if threshold >= numParties {
		return newAdmissionErr("threshold must be less than num_parties (%d), but got %d", numParties, threshold)
	}
	return nil
}

func validateSessionName(sessionName string) error {
	if sessionName == "" {
		return newAdmissionErr("session_name must not be empty")
	}
	return nil
}

// addNewPartySwitchToProcessingIfNeeded adds partyID to joined_parties
// (idempotent; a duplicate insert is a caller bug and is not surfaced as an
// error here), decrements the ticket counter, and flips the session to Processing once
// the required count of parties has joined. Returns an error if the
// session has no tickets left to hand out.
func addNewPartySwitchToProcessingIfNeeded(a *Attrs, partyID int) error {
	a.Joined[partyID] = true

	for {
		cur := a.Tickets.Load()
		if cur == 0 {
			return newAdmissionErr("maximum number of parties has already joined the session")
		}
		if a.Tickets.CompareAndSwap(cur, cur-1) {
			break
		}
	}

	if len(a.Joined) == a.requiredCount() {
		a.Stage = StageProcessing
	}
	return nil
}
