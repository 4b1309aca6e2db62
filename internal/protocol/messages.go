package protocol

import "time"

// AudioFrame represents one PCM capture slice streamed on the bus.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
}

// TranscriptUpdate carries live recognition output.
type TranscriptUpdate struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Interim    bool      `json:"interim"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LevelSample is the normalized input amplitude for UI metering.
type LevelSample struct {
	SessionID string    `json:"session_id"`
	Level     float64   `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the periodic session snapshot published while recording,
// sampled at the capture tick interval.
type SessionState struct {
	SessionID string    `json:"session_id"`
	Recording bool      `json:"recording"`
	Paused    bool      `json:"paused"`
	Duration  float64   `json:"duration"`
	Level     float64   `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCommand is how a shell asks the daemon to drive a recording session.
type SessionCommand struct {
	Action string `json:"action"` // start, toggle_pause, stop
}

// RecordingSaved announces a committed recording.
type RecordingSaved struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Duration  float64   `json:"duration"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionNotice surfaces user-facing session failures (device denied,
// recognition permission revoked).
type SessionNotice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "capture.frame"
	SubjectCaptureLevel      = "capture.level"
	SubjectTranscriptInterim = "transcript.interim"
	SubjectTranscriptFinal   = "transcript.final"
	SubjectSessionCommand    = "session.command"
	SubjectSessionState      = "session.state"
	SubjectRecordingSaved    = "recording.saved"
	SubjectSessionNotice     = "session.notice"
)

const (
	ActionStart       = "start"
	ActionTogglePause = "toggle_pause"
	ActionStop        = "stop"
)
