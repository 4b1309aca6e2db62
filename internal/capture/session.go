package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxnote-labs/voxnote-core/internal/config"
)

// Clip is the finished product of one capture pass.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   float64
}

// State is a point-in-time view of the session for presentation layers.
type State struct {
	Recording bool
	Paused    bool
	Duration  float64
	Level     float64
}

// Session owns exactly one active audio-capture device connection at a time
// and tracks elapsed duration and input level across pause/resume cycles.
//
// State machine: Idle -> Recording <-> Paused -> Idle. Stop is only valid
// from Recording or Paused, Start only from Idle.
type Session struct {
	cfg    config.CaptureConfig
	device Device
	logger *slog.Logger
	clock  func() time.Time

	mu          sync.Mutex
	gen         int
	active      bool
	paused      bool
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	slices      [][]byte
	level       float64
	conn        Conn
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	onChunk func(pcm []byte)
	onLevel func(level float64)
}

func NewSession(cfg config.CaptureConfig, device Device, logger *slog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		device: device,
		logger: logger.With(slog.String("component", "capture-session")),
		clock:  time.Now,
	}
}

// OnChunk registers a callback invoked for every buffered slice while the
// session is recording and unpaused. Must be set before Start.
func (s *Session) OnChunk(fn func(pcm []byte)) { s.onChunk = fn }

// OnLevel registers a callback invoked on every level meter sample. Must be
// set before Start.
func (s *Session) OnLevel(fn func(level float64)) { s.onLevel = fn }

// Start opens the input device and begins buffering audio in fixed slices.
// Device failures are classified as ErrDeviceAccess and must reach the user.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrSessionActive
	}
	gen := s.gen
	s.mu.Unlock()

	conn, err := s.device.Open(ctx, Options{
		SampleRate:       s.cfg.SampleRate,
		Channels:         s.cfg.Channels,
		SliceDurationMS:  s.cfg.SliceDurationMS,
		EchoCancellation: s.cfg.EchoCancellation,
		NoiseSuppression: s.cfg.NoiseSuppression,
		AutoGain:         s.cfg.AutoGain,
	})
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.active || gen != s.gen {
		// Lost a race with another Start or a Stop that bumped the
		// generation while the device grant was in flight.
		s.mu.Unlock()
		cancel()
		conn.Close()
		return ErrSessionActive
	}
	s.active = true
	s.paused = false
	s.startedAt = s.clock()
	s.pausedTotal = 0
	s.slices = nil
	s.level = 0
	s.conn = conn
	s.cancel = cancel
	gen = s.gen
	s.mu.Unlock()

	s.wg.Add(2)
	go s.intakeLoop(gen, conn)
	go s.meterLoop(loopCtx, gen, conn)

	s.logger.Info("capture started",
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("channels", s.cfg.Channels))
	return nil
}

// intakeLoop appends device slices to the session buffer until the
// connection closes.
func (s *Session) intakeLoop(gen int, conn Conn) {
	defer s.wg.Done()
	for pcm := range conn.Chunks() {
		s.mu.Lock()
		if gen != s.gen || !s.active {
			s.mu.Unlock()
			return
		}
		if s.paused {
			s.mu.Unlock()
			continue
		}
		s.slices = append(s.slices, pcm)
		fn := s.onChunk
		s.mu.Unlock()
		if fn != nil {
			fn(pcm)
		}
	}
}

// meterLoop samples the frequency-magnitude snapshot once per meter tick,
// standing in for the per-frame amplitude loop of an interactive shell.
func (s *Session) meterLoop(ctx context.Context, gen int, conn Conn) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.MeterIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if gen != s.gen || !s.active {
			s.mu.Unlock()
			return
		}
		level := 0.0
		if !s.paused {
			level = normalizeLevel(conn.Magnitudes(), s.cfg.LevelReference)
		}
		s.level = level
		fn := s.onLevel
		s.mu.Unlock()
		if fn != nil {
			fn(level)
		}
	}
}

// TogglePause flips between Recording and Paused. While paused the duration
// clock stops and the meter reports zero. Returns the new paused state.
func (s *Session) TogglePause() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false, ErrNoActiveSession
	}
	if s.paused {
		s.pausedTotal += s.clock().Sub(s.pausedAt)
		s.paused = false
	} else {
		s.pausedAt = s.clock()
		s.paused = true
		s.level = 0
	}
	return s.paused, nil
}

// Stop finalizes capture: concatenates the buffered slices into one payload,
// releases the device and loops, and resets the session to idle.
func (s *Session) Stop(ctx context.Context) (Clip, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return Clip{}, ErrNoActiveSession
	}

	duration := s.elapsedLocked()
	total := 0
	for _, slice := range s.slices {
		total += len(slice)
	}
	pcm := make([]byte, 0, total)
	for _, slice := range s.slices {
		pcm = append(pcm, slice...)
	}

	conn := s.conn
	cancel := s.cancel
	s.gen++
	s.active = false
	s.paused = false
	s.slices = nil
	s.level = 0
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	if err := conn.Close(); err != nil {
		s.logger.Warn("capture device close failed", slog.String("error", err.Error()))
	}
	s.wg.Wait()

	s.logger.Info("capture stopped",
		slog.Float64("duration", duration),
		slog.Int("payload_bytes", len(pcm)))

	return Clip{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Duration:   duration,
	}, nil
}

// State reports the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Recording: s.active,
		Paused:    s.paused,
		Duration:  s.elapsedLocked(),
		Level:     s.level,
	}
}

// Duration returns seconds of active (non-paused) capture so far.
func (s *Session) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

// elapsedLocked computes wall-clock time since start minus cumulative paused
// time. Callers must hold mu.
func (s *Session) elapsedLocked() float64 {
	if !s.active {
		return 0
	}
	elapsed := s.clock().Sub(s.startedAt) - s.pausedTotal
	if s.paused {
		elapsed -= s.clock().Sub(s.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Seconds()
}

// normalizeLevel averages a frequency-magnitude snapshot and normalizes it
// against the reference ceiling, clamped to [0,1].
func normalizeLevel(mags []float64, reference float64) float64 {
	if len(mags) == 0 || reference <= 0 {
		return 0
	}
	sum := 0.0
	for _, m := range mags {
		sum += m
	}
	level := sum / float64(len(mags)) / reference
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
