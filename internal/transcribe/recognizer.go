package transcribe

import (
	"context"
	"errors"
)

// ErrUnsupported means the platform has no recognition backend. This is a
// missing capability, not an error: the session degrades to an empty
// transcript.
var ErrUnsupported = errors.New("speech recognition unsupported")

// FailureKind classifies recognizer failures before they reach the session.
type FailureKind string

const (
	// FailureNoSpeech is the transient no-speech timeout; recovered by
	// auto-restart.
	FailureNoSpeech FailureKind = "no-speech"
	// FailureDenied is a fatal permission failure; never auto-restarted.
	FailureDenied FailureKind = "not-allowed"
	// FailureAborted is emitted when the stream is torn down deliberately.
	FailureAborted FailureKind = "aborted"
)

// Segment is one recognized piece of text in a result batch.
type Segment struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

type EventKind int

const (
	// EventResult carries a batch of interim and final segments.
	EventResult EventKind = iota
	// EventEnd is the natural end of the stream (recognizer stopped itself).
	EventEnd
	// EventError carries a classified failure.
	EventError
)

// Event is one recognition update delivered on a Stream.
type Event struct {
	Kind     EventKind
	Segments []Segment
	Failure  FailureKind
}

// Stream is one continuous recognition pass. The events channel closes when
// the stream terminates for any reason.
type Stream interface {
	Feed(pcm []byte) error
	Events() <-chan Event
	Stop() error
}

// Recognizer abstracts continuous, interim-enabled recognition backends.
type Recognizer interface {
	Start(ctx context.Context, locale string) (Stream, error)
}
