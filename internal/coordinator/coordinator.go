// Package coordinator couples the capture and transcription sessions so both
// start and stop together, assembles a completed Recording from their
// terminal state, and commits it to the durable store. It is the only place
// user-visible messaging originates: session drivers classify failures, the
// coordinator reports them.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/voxnote-labs/voxnote-core/internal/bus"
	"github.com/voxnote-labs/voxnote-core/internal/capture"
	"github.com/voxnote-labs/voxnote-core/internal/config"
	"github.com/voxnote-labs/voxnote-core/internal/protocol"
	"github.com/voxnote-labs/voxnote-core/internal/store"
	"github.com/voxnote-labs/voxnote-core/internal/transcribe"
)

// Publisher is the slice of the bus client the coordinator publishes through.
type Publisher interface {
	PublishJSON(subject string, msg any) error
}

type Coordinator struct {
	cfg        config.CaptureConfig
	capture    *capture.Session
	transcribe *transcribe.Session
	store      *store.Store
	pub        Publisher
	logger     *slog.Logger
	clock      func() time.Time
	newID      func() string

	mu        sync.Mutex
	active    bool
	sessionID string
	sequence  int
	lastFinal string
	tickStop  chan struct{}
	sub       *nats.Subscription
}

func New(cfg config.CaptureConfig, cap *capture.Session, tr *transcribe.Session, st *store.Store, pub Publisher, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		capture:    cap,
		transcribe: tr,
		store:      st,
		pub:        pub,
		logger:     logger.With(slog.String("component", "coordinator")),
		clock:      time.Now,
		newID:      uuid.NewString,
	}

	cap.OnChunk(c.handleChunk)
	cap.OnLevel(c.handleLevel)
	tr.OnUpdate(c.handleTranscript)
	tr.OnFatal(c.handleFatal)

	return c
}

// Bind subscribes the coordinator to shell command signals on the bus.
func (c *Coordinator) Bind(client *bus.Client) error {
	sub, err := client.Conn().Subscribe(protocol.SubjectSessionCommand, c.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe session commands: %w", err)
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) handleCommand(msg *nats.Msg) {
	var cmd protocol.SessionCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		c.logger.Warn("failed to decode session command", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch cmd.Action {
	case protocol.ActionStart:
		err = c.Start(ctx)
	case protocol.ActionTogglePause:
		_, err = c.TogglePause()
	case protocol.ActionStop:
		_, err = c.Stop(ctx)
	default:
		c.logger.Warn("unknown session command", slog.String("action", cmd.Action))
		return
	}
	if err != nil {
		c.logger.Warn("session command failed",
			slog.String("action", cmd.Action),
			slog.String("error", err.Error()))
	}
}

// Start begins a coupled capture + transcription session. Device access
// failures propagate to the caller as user-facing errors.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return capture.ErrSessionActive
	}
	c.sessionID = c.newID()
	c.sequence = 0
	c.lastFinal = ""
	c.mu.Unlock()

	if err := c.capture.Start(ctx); err != nil {
		c.notify("device", err.Error())
		return err
	}
	if err := c.transcribe.Start(); err != nil {
		// Recognition trouble must not take capture down with it; the
		// session degrades to audio-only.
		c.logger.Warn("transcription unavailable for this session", slog.String("error", err.Error()))
		c.notify("recognition", err.Error())
	}

	tickStop := make(chan struct{})
	c.mu.Lock()
	c.active = true
	c.tickStop = tickStop
	c.mu.Unlock()

	go c.tickLoop(tickStop)

	c.logger.Info("recording session started", slog.String("session_id", c.sessionID))
	return nil
}

// TogglePause pauses or resumes both halves. Pausing stops recognition
// intake entirely, since the recognizer has no native pause.
func (c *Coordinator) TogglePause() (bool, error) {
	paused, err := c.capture.TogglePause()
	if err != nil {
		return false, err
	}
	if paused {
		c.transcribe.Pause()
	} else {
		if err := c.transcribe.Resume(); err != nil {
			c.logger.Warn("transcription resume failed", slog.String("error", err.Error()))
		}
	}
	return paused, nil
}

// Stop finalizes both sessions and commits the assembled Recording. The
// Recording is constructed exactly once, from the terminal values of both
// sessions.
func (c *Coordinator) Stop(ctx context.Context) (store.Recording, error) {
	clip, err := c.capture.Stop(ctx)
	if err != nil {
		return store.Recording{}, err
	}

	c.mu.Lock()
	c.active = false
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	c.transcribe.Stop()
	snap := c.transcribe.Snapshot()

	now := c.clock().UTC()
	rec := store.Recording{
		ID:            c.newID(),
		Title:         store.DeriveTitle(snap.Transcript, now),
		Transcription: snap.Transcript,
		Duration:      clip.Duration,
		Size:          int64(len(clip.PCM)),
		SampleRate:    clip.SampleRate,
		Channels:      clip.Channels,
		CreatedAt:     now,
		Payload:       clip.PCM,
	}

	if err := c.store.Save(ctx, rec); err != nil {
		c.notify("storage", err.Error())
		return store.Recording{}, err
	}

	c.transcribe.Clear()
	c.publish(protocol.SubjectRecordingSaved, protocol.RecordingSaved{
		ID:        rec.ID,
		Title:     rec.Title,
		Duration:  rec.Duration,
		Size:      rec.Size,
		CreatedAt: rec.CreatedAt,
	})

	c.logger.Info("recording session committed",
		slog.String("session_id", sessionID),
		slog.String("recording_id", rec.ID))
	return rec, nil
}

// Close detaches the command subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	c.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
}

// tickLoop publishes the session state at the capture tick interval so
// shells can render the running duration without polling.
func (c *Coordinator) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(c.cfg.TickIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		st := c.capture.State()
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		c.publish(protocol.SubjectSessionState, protocol.SessionState{
			SessionID: sessionID,
			Recording: st.Recording,
			Paused:    st.Paused,
			Duration:  st.Duration,
			Level:     st.Level,
			Timestamp: c.clock().UTC(),
		})
	}
}

func (c *Coordinator) handleChunk(pcm []byte) {
	c.transcribe.Feed(pcm)

	c.mu.Lock()
	sessionID := c.sessionID
	seq := c.sequence
	c.sequence++
	c.mu.Unlock()

	c.publish(protocol.SubjectAudioFramePrefix+"."+sessionID, protocol.AudioFrame{
		SessionID:  sessionID,
		Sequence:   seq,
		SampleRate: c.cfg.SampleRate,
		Channels:   c.cfg.Channels,
		PCM:        pcm,
	})
}

func (c *Coordinator) handleLevel(level float64) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	c.publish(protocol.SubjectCaptureLevel, protocol.LevelSample{
		SessionID: sessionID,
		Level:     level,
		Timestamp: c.clock().UTC(),
	})
}

func (c *Coordinator) handleTranscript(st transcribe.State) {
	c.mu.Lock()
	sessionID := c.sessionID
	finalChanged := st.Transcript != c.lastFinal
	c.lastFinal = st.Transcript
	c.mu.Unlock()

	now := c.clock().UTC()
	if finalChanged {
		c.publish(protocol.SubjectTranscriptFinal, protocol.TranscriptUpdate{
			SessionID:  sessionID,
			Text:       st.Transcript,
			Interim:    false,
			Confidence: st.Confidence,
			Timestamp:  now,
		})
	}
	c.publish(protocol.SubjectTranscriptInterim, protocol.TranscriptUpdate{
		SessionID: sessionID,
		Text:      st.InterimTranscript,
		Interim:   true,
		Timestamp: now,
	})
}

func (c *Coordinator) handleFatal(err error) {
	c.notify("recognition", err.Error())
}

func (c *Coordinator) notify(kind, message string) {
	c.publish(protocol.SubjectSessionNotice, protocol.SessionNotice{
		Kind:      kind,
		Message:   message,
		Timestamp: c.clock().UTC(),
	})
}

func (c *Coordinator) publish(subject string, msg any) {
	if c.pub == nil {
		return
	}
	if err := c.pub.PublishJSON(subject, msg); err != nil {
		c.logger.Warn("bus publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
