package transcribe

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxnote-labs/voxnote-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRecognitionConfig() config.RecognitionConfig {
	cfg := config.Default().Recognition
	cfg.RestartDelayMS = 10
	cfg.ResumeDelayMS = 5
	return cfg
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (r *fakeRecognizer) Start(ctx context.Context, locale string) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	st := &fakeStream{events: make(chan Event, 8)}
	r.streams = append(r.streams, st)
	return st, nil
}

func (r *fakeRecognizer) starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *fakeRecognizer) stream(i int) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[i]
}

type fakeStream struct {
	events  chan Event
	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) Feed(pcm []byte) error { return nil }

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.events)
	}
	return nil
}

// emit delivers an event; end terminates the stream the way a real
// recognizer does after an error or a natural stop.
func (s *fakeStream) emit(ev Event) { s.events <- ev }

func (s *fakeStream) end() { s.Stop() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestSession(t *testing.T, rec Recognizer) *Session {
	t.Helper()
	s := NewSession(context.Background(), testRecognitionConfig(), rec, testLogger())
	t.Cleanup(s.Close)
	return s
}

func TestInterimAndFinalAccumulation(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := rec.stream(0)
	st.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "hel", Final: false}}})
	waitFor(t, func() bool { return s.Snapshot().InterimTranscript == "hel" })

	snap := s.Snapshot()
	if snap.Transcript != "" {
		t.Fatalf("interim update must not touch the finalized transcript, got %q", snap.Transcript)
	}

	st.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "hello", Final: true, Confidence: 0.9}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "hello" })

	snap = s.Snapshot()
	if snap.InterimTranscript != "" {
		t.Fatalf("interim must be replaced wholesale, got %q", snap.InterimTranscript)
	}
	if snap.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", snap.Confidence)
	}
}

func TestConfidenceCarriedWhenNoFinalSegment(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := rec.stream(0)
	st.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "one ", Final: true, Confidence: 0.8}}})
	waitFor(t, func() bool { return s.Snapshot().Confidence == 0.8 })

	st.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "tw", Final: false}}})
	waitFor(t, func() bool { return s.Snapshot().InterimTranscript == "tw" })
	if got := s.Snapshot().Confidence; got != 0.8 {
		t.Fatalf("confidence must carry over when nothing finalized, got %v", got)
	}

	// Max across final segments in one batch, even if lower than before.
	st.emit(Event{Kind: EventResult, Segments: []Segment{
		{Text: "two ", Final: true, Confidence: 0.4},
		{Text: "three", Final: true, Confidence: 0.6},
	}})
	waitFor(t, func() bool { return s.Snapshot().Confidence == 0.6 })
}

func TestTransientFailureRestartPreservesTranscript(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := rec.stream(0)
	st.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "hello ", Final: true, Confidence: 0.9}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "hello " })

	st.emit(Event{Kind: EventError, Failure: FailureNoSpeech})
	st.end()

	waitFor(t, func() bool { return rec.starts() == 2 })

	snap := s.Snapshot()
	if snap.Transcript != "hello " {
		t.Fatalf("restart must preserve the transcript exactly, got %q", snap.Transcript)
	}

	rec.stream(1).emit(Event{Kind: EventResult, Segments: []Segment{{Text: "world", Final: true, Confidence: 0.7}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "hello world" })
}

func TestNaturalEndRestartClearsInterim(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := rec.stream(0)
	st.emit(Event{Kind: EventResult, Segments: []Segment{
		{Text: "kept ", Final: true, Confidence: 0.5},
		{Text: "in flight", Final: false},
	}})
	waitFor(t, func() bool { return s.Snapshot().InterimTranscript == "in flight" })

	st.emit(Event{Kind: EventEnd})
	st.end()

	waitFor(t, func() bool { return rec.starts() == 2 })
	snap := s.Snapshot()
	if snap.Transcript != "kept " {
		t.Fatalf("transcript lost across natural end, got %q", snap.Transcript)
	}
	if snap.InterimTranscript != "" {
		t.Fatalf("interim must be cleared on natural end, got %q", snap.InterimTranscript)
	}
}

func TestDeliberateStopSuppressesRestart(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.Stop()
	s.Stop() // idempotent

	waitFor(t, func() bool { return !s.Snapshot().Listening })
	time.Sleep(30 * time.Millisecond)
	if rec.starts() != 1 {
		t.Fatalf("stop must suppress auto-restart, saw %d starts", rec.starts())
	}
}

func TestFatalFailureNotifiesAndNeverRestarts(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)

	fatal := make(chan error, 1)
	s.OnFatal(func(err error) { fatal <- err })

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := rec.stream(0)
	st.emit(Event{Kind: EventError, Failure: FailureDenied})
	st.end()

	select {
	case <-fatal:
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal notification")
	}

	time.Sleep(30 * time.Millisecond)
	if rec.starts() != 1 {
		t.Fatalf("fatal failure must not restart, saw %d starts", rec.starts())
	}
	if s.Snapshot().Listening {
		t.Fatal("session must not report listening after a fatal failure")
	}
}

func TestUnsupportedDegradesGracefully(t *testing.T) {
	rec := &fakeRecognizer{err: ErrUnsupported}
	s := newTestSession(t, rec)

	if err := s.Start(); err != nil {
		t.Fatalf("unsupported must not be an error, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Supported || snap.Listening {
		t.Fatalf("expected unsupported idle session, got %+v", snap)
	}
	if snap.Transcript != "" {
		t.Fatalf("transcript must stay empty, got %q", snap.Transcript)
	}
}

func TestPauseResumeKeepsTranscript(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec.stream(0).emit(Event{Kind: EventResult, Segments: []Segment{{Text: "before pause", Final: true, Confidence: 0.9}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "before pause" })

	s.Pause()
	if s.Snapshot().Listening {
		t.Fatal("paused session must not be listening")
	}
	time.Sleep(30 * time.Millisecond)
	if rec.starts() != 1 {
		t.Fatalf("pause must not trigger a restart, saw %d starts", rec.starts())
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, func() bool { return rec.starts() == 2 })
	if got := s.Snapshot().Transcript; got != "before pause" {
		t.Fatalf("resume must preserve the transcript, got %q", got)
	}
}

func TestStaleUpdateAfterStopIsDropped(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	staleGen := s.gen
	s.Stop()

	// An in-flight callback from the old stream generation must not mutate
	// state after the deliberate stop.
	s.applyResult(staleGen, []Segment{{Text: "stale", Final: true, Confidence: 1}})
	if got := s.Snapshot().Transcript; got != "" {
		t.Fatalf("stale update mutated state: %q", got)
	}
}

func TestClearResetsTextOnly(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec.stream(0).emit(Event{Kind: EventResult, Segments: []Segment{{Text: "text", Final: true, Confidence: 0.9}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "text" })

	s.Clear()
	snap := s.Snapshot()
	if snap.Transcript != "" || snap.InterimTranscript != "" || snap.Confidence != 0 {
		t.Fatalf("clear must reset text state, got %+v", snap)
	}
	if !snap.Listening {
		t.Fatal("clear must not affect the listening state")
	}
}

func TestStartAfterStopResetsText(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newTestSession(t, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec.stream(0).emit(Event{Kind: EventResult, Segments: []Segment{{Text: "hello ", Final: true, Confidence: 0.9}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "hello " })
	s.Stop()

	// A new session never inherits the previous session's text, even when
	// nobody called Clear in between.
	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	snap := s.Snapshot()
	if snap.Transcript != "" || snap.InterimTranscript != "" || snap.Confidence != 0 {
		t.Fatalf("second session inherited text state: %+v", snap)
	}

	rec.stream(1).emit(Event{Kind: EventResult, Segments: []Segment{{Text: "world", Final: true, Confidence: 0.8}}})
	waitFor(t, func() bool { return s.Snapshot().Transcript == "world" })
}
