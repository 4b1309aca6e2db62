package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxnote-labs/voxnote-core/internal/config"
)

// State is a point-in-time view of the transcription session.
type State struct {
	Listening         bool
	Supported         bool
	Transcript        string
	InterimTranscript string
	Confidence        float64
}

// Session owns exactly one continuous speech-recognition stream at a time.
// Finalized text is append-only within a session. Interim text is replaced
// wholesale on every result batch. Transient failures (no-speech timeout,
// natural end of stream) are recovered by restarting the recognizer; a
// deliberate Stop is the only transition that suppresses the restart.
type Session struct {
	cfg        config.RecognitionConfig
	recognizer Recognizer
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	mu             sync.Mutex
	gen            int
	listening      bool
	stopped        bool
	paused         bool
	fatal          bool
	supported      bool
	restartPending bool
	transcript     string
	interim        string
	confidence     float64
	stream         Stream
	restartTimer   *time.Timer

	onFatal  func(err error)
	onUpdate func(state State)
}

func NewSession(parent context.Context, cfg config.RecognitionConfig, recognizer Recognizer, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		cfg:        cfg,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "transcription-session")),
		ctx:        ctx,
		cancel:     cancel,
		supported:  true,
	}
}

// OnFatal registers the blocking-notification hook for unrecoverable
// recognition failures. Must be set before Start.
func (s *Session) OnFatal(fn func(err error)) { s.onFatal = fn }

// OnUpdate registers a callback invoked after every transcript change. Must
// be set before Start.
func (s *Session) OnUpdate(fn func(state State)) { s.onUpdate = fn }

// Start begins continuous, interim-enabled recognition in the configured
// locale. A missing recognition capability is not an error: the session
// degrades to an empty transcript and the rest of the system carries on.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.Enabled {
		s.supported = false
		s.mu.Unlock()
		s.logger.Warn("speech recognition disabled, live transcription unavailable")
		return nil
	}
	s.stopped = false
	s.paused = false
	s.fatal = false
	// A new session never inherits text from a previous one, even when the
	// previous session's recording was not committed.
	s.transcript = ""
	s.interim = ""
	s.confidence = 0
	s.mu.Unlock()

	return s.openStream()
}

// openStream starts a recognizer stream and hooks up its event loop.
func (s *Session) openStream() error {
	stream, err := s.recognizer.Start(s.ctx, s.cfg.Locale)
	if err != nil {
		if err == ErrUnsupported {
			s.mu.Lock()
			s.supported = false
			s.listening = false
			s.mu.Unlock()
			s.logger.Warn("speech recognition unsupported on this platform")
			return nil
		}
		return fmt.Errorf("start recognition: %w", err)
	}

	s.mu.Lock()
	if s.stopped || s.paused {
		// Stop or Pause raced the recognizer start. Drop the fresh stream.
		s.mu.Unlock()
		stream.Stop()
		return nil
	}
	s.gen++
	gen := s.gen
	s.stream = stream
	s.listening = true
	s.mu.Unlock()

	go s.consume(gen, stream)
	return nil
}

func (s *Session) consume(gen int, stream Stream) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case EventResult:
			s.applyResult(gen, ev.Segments)
		case EventError:
			s.handleFailure(gen, ev.Failure)
		case EventEnd:
			s.handleEnd(gen)
		}
	}
}

// applyResult folds a result batch into the session state: in-flight
// segments rebuild the interim transcript, final segments extend the
// finalized transcript and refresh the confidence score.
func (s *Session) applyResult(gen int, segments []Segment) {
	s.mu.Lock()
	if gen != s.gen || !s.listening {
		// Stale update from a stream that was already torn down.
		s.mu.Unlock()
		return
	}
	interim := ""
	confidence := s.confidence
	finalized := false
	for _, seg := range segments {
		if seg.Final {
			s.transcript += seg.Text
			if !finalized || seg.Confidence > confidence {
				confidence = seg.Confidence
			}
			finalized = true
		} else {
			interim += seg.Text
		}
	}
	s.interim = interim
	s.confidence = confidence
	state := s.stateLocked()
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

func (s *Session) handleFailure(gen int, kind FailureKind) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	switch kind {
	case FailureNoSpeech:
		if s.shouldRestartLocked() {
			s.logger.Info("no speech detected, scheduling recognition restart")
			s.scheduleRestartLocked(time.Duration(s.cfg.RestartDelayMS) * time.Millisecond)
		}
		s.mu.Unlock()
	case FailureDenied:
		s.fatal = true
		s.listening = false
		s.interim = ""
		fn := s.onFatal
		s.mu.Unlock()
		s.logger.Error("speech recognition permission denied")
		if fn != nil {
			fn(fmt.Errorf("speech recognition permission denied"))
		}
	default:
		// Aborted or unknown: no restart beyond what EventEnd arranges.
		s.mu.Unlock()
	}
}

// handleEnd reacts to the recognizer stopping on its own, e.g. a
// platform-imposed duration cap. The accumulated transcript is preserved,
// the volatile interim text is not.
func (s *Session) handleEnd(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.interim = ""
	if s.shouldRestartLocked() {
		s.scheduleRestartLocked(time.Duration(s.cfg.ResumeDelayMS) * time.Millisecond)
		return
	}
	if !s.restartPending {
		s.listening = false
	}
}

// shouldRestartLocked is the single restart predicate for both transient
// triggers. Callers must hold mu.
func (s *Session) shouldRestartLocked() bool {
	return !s.stopped && !s.paused && !s.fatal && s.supported && !s.restartPending
}

func (s *Session) scheduleRestartLocked(delay time.Duration) {
	s.restartPending = true
	s.restartTimer = time.AfterFunc(delay, s.restart)
}

func (s *Session) restart() {
	s.mu.Lock()
	s.restartPending = false
	if s.stopped || s.paused || s.fatal || !s.supported {
		s.listening = false
		s.mu.Unlock()
		return
	}
	s.listening = false
	s.mu.Unlock()

	if err := s.openStream(); err != nil {
		s.logger.Warn("recognition restart failed", slog.String("error", err.Error()))
	}
}

// Feed forwards a capture slice to the active recognition stream.
func (s *Session) Feed(pcm []byte) {
	s.mu.Lock()
	stream := s.stream
	active := s.listening && !s.paused
	s.mu.Unlock()
	if !active || stream == nil {
		return
	}
	if err := stream.Feed(pcm); err != nil {
		s.logger.Warn("failed to feed recognition stream", slog.String("error", err.Error()))
	}
}

// Pause halts recognition intake without marking the session stopped. The
// recognizer has no native pause, so the stream is stopped and a fresh one
// is started on Resume; the accumulated transcript is preserved.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.paused || s.stopped {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.interim = ""
	s.listening = false
	stream := s.detachStreamLocked()
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
}

// Resume restarts recognition after a Pause.
func (s *Session) Resume() error {
	s.mu.Lock()
	if !s.paused || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.paused = false
	supported := s.supported && s.cfg.Enabled
	s.mu.Unlock()

	if !supported {
		return nil
	}
	return s.openStream()
}

// Stop deliberately ends the session, suppressing any auto-restart.
// Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.listening = false
	s.paused = false
	s.interim = ""
	stream := s.detachStreamLocked()
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
}

// detachStreamLocked bumps the generation so in-flight events from the old
// stream are dropped, cancels any pending restart, and returns the stream
// for the caller to stop outside the lock. Callers must hold mu.
func (s *Session) detachStreamLocked() Stream {
	s.gen++
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartPending = false
	stream := s.stream
	s.stream = nil
	return stream
}

// Clear resets the accumulated text state without touching the listening
// lifecycle.
func (s *Session) Clear() {
	s.mu.Lock()
	s.transcript = ""
	s.interim = ""
	s.confidence = 0
	s.mu.Unlock()
}

// Close releases the session entirely.
func (s *Session) Close() {
	s.Stop()
	s.cancel()
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		Listening:         s.listening,
		Supported:         s.supported,
		Transcript:        s.transcript,
		InterimTranscript: s.interim,
		Confidence:        s.confidence,
	}
}
