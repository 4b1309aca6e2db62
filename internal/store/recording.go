package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound means the requested recording has no metadata or no payload.
var ErrNotFound = errors.New("recording not found")

// StorageError wraps any failure writing or reading either storage tier. The
// operation must be treated as not applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Recording is the durable unit of output. Payload may be absent from a
// metadata view and is re-attached on demand by LoadWithPayload.
type Recording struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Transcription string    `json:"transcription"`
	Duration      float64   `json:"duration"`
	Size          int64     `json:"size"`
	SampleRate    int       `json:"sample_rate"`
	Channels      int       `json:"channels"`
	CreatedAt     time.Time `json:"created_at"`
	Payload       []byte    `json:"-"`
}

const titleRuneLimit = 50

// DeriveTitle builds a human label from the first ~50 characters of the
// transcript, falling back to a timestamp label when nothing was recognized.
func DeriveTitle(transcript string, at time.Time) string {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return "Recording " + at.Format("Jan 2, 2006 15:04")
	}
	runes := []rune(text)
	if len(runes) <= titleRuneLimit {
		return text
	}
	return strings.TrimSpace(string(runes[:titleRuneLimit])) + "..."
}
