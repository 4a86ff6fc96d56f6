package calls

import "time"

// Mode is the communication channel requested for a session.
type Mode string

const (
	ModeChat      Mode = "CHAT"
	ModeVoiceCall Mode = "VOICE_CALL"
	ModeVideoCall Mode = "VIDEO_CALL"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeChat, ModeVoiceCall, ModeVideoCall:
		return true
	default:
		return false
	}
}

// MissedCall is written once, when a connection request expires unanswered.
// Rows are never updated.
type MissedCall struct {
	ID            string    `json:"id" db:"id"`
	RequestID     string    `json:"request_id" db:"request_id"`
	RequesterID   string    `json:"requester_id" db:"requester_id"`
	CounterpartID string    `json:"counterpart_id" db:"counterpart_id"`
	Mode          Mode      `json:"mode" db:"mode"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
