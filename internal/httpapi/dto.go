package httpapi

import "github.com/parumu/gg18coord/internal/session"

// sessionDTO is the JSON projection of session.Attrs returned by status/list
// endpoints; it exposes counts rather than raw sets, and omits the KV and
// ticket internals.
type sessionDTO struct {
	SessionKey    string `json:"session_key"`
	SessionName   string `json:"session_name"`
	Kind          string `json:"kind"`
	Stage         string `json:"stage"`
	NumParties    int    `json:"num_parties"`
	Threshold     int    `json:"threshold"`
	JoinedCount   int    `json:"joined_count"`
	EndedCount    int    `json:"ended_count"`
	TicketsLeft   uint32 `json:"tickets_left"`
	IsFailed      bool   `json:"is_failed"`
	ErrMsg        string `json:"err_msg,omitempty"`
	StartTime     int64  `json:"start_time"`
	TTL           int64  `json:"ttl"`
}

func toDTO(a session.Attrs) sessionDTO {
	stage := "signing_up"
	if a.Stage == session.StageProcessing {
		stage = "processing"
	}
	return sessionDTO{
		SessionKey:  a.Key,
		SessionName: a.SessionName,
		Kind:        a.Kind.String(),
		Stage:       stage,
		NumParties:  a.NumParties,
		Threshold:   a.Threshold,
		JoinedCount: len(a.Joined),
		EndedCount:  len(a.Ended),
		TicketsLeft: a.Tickets.Load(),
		IsFailed:    a.IsFailed,
		ErrMsg:      a.ErrMsg,
		StartTime:   a.StartTime,
		TTL:         a.TTL,
	}
}
