package transcribe

import (
	"context"
	"fmt"
	"sync"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that reports how much audio it was
// fed. Useful for development without a recognition backend.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Start(ctx context.Context, locale string) (Stream, error) {
	return &mockStream{events: make(chan Event, 8)}, nil
}

type mockStream struct {
	events chan Event
	mu     sync.Mutex
	closed bool
	bytes  int
	feeds  int
}

func (s *mockStream) Feed(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.bytes += len(pcm)
	s.feeds++
	// Emit an interim update every few slices so live views have something
	// to show.
	if s.feeds%8 == 0 {
		select {
		case s.events <- Event{Kind: EventResult, Segments: []Segment{{
			Text:       fmt.Sprintf("[mock transcript %d bytes]", s.bytes),
			Final:      false,
			Confidence: 0,
		}}}:
		default:
		}
	}
	return nil
}

func (s *mockStream) Events() <-chan Event { return s.events }

func (s *mockStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
