package protocol

import "time"

// Transcript is an accepted transcript broadcast on the bus.
type Transcript struct {
	SessionID    string    `json:"session_id"`
	Sequence     int       `json:"seq"`
	Text         string    `json:"text"`
	Language     string    `json:"language,omitempty"`
	NoSpeechProb float64   `json:"no_speech_prob,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Rejection records a transcript dropped by a filtering policy.
type Rejection struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent marks the start or end of a capture session.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Device    string    `json:"device,omitempty"`
	Preset    string    `json:"preset,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptAccepted = "subtitler.transcript.accepted"
	SubjectTranscriptRejected = "subtitler.transcript.rejected"
	SubjectSessionStarted     = "subtitler.session.started"
	SubjectSessionStopped     = "subtitler.session.stopped"
)

// Event types recorded in the transcript journal.
const (
	EventSessionStarted     = "session.started"
	EventSessionStopped     = "session.stopped"
	EventTranscriptAccepted = "transcript.accepted"
	EventTranscriptRejected = "transcript.rejected"
)
