package capture

import (
	"context"
	"errors"
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

func testCaptureConfig() config.CaptureConfig {
	cfg := config.Default().Capture
	cfg.MeterIntervalMS = 5
	return cfg
}

// fakeClock advances only when told, so duration math is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeDevice hands out fakeConns whose chunks are pushed by the test.
type fakeDevice struct {
	openErr error
	conn    *fakeConn
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{conn: newFakeConn()}
}

func (d *fakeDevice) Open(ctx context.Context, opts Options) (Conn, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.conn, nil
}

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	chunks chan []byte
	mags   []float64
}

func newFakeConn() *fakeConn {
	return &fakeConn{chunks: make(chan []byte, 16)}
}

func (c *fakeConn) Chunks() <-chan []byte { return c.chunks }

func (c *fakeConn) Magnitudes() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mags
}

func (c *fakeConn) push(pcm []byte) { c.chunks <- pcm }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.chunks)
	}
	return nil
}

func TestStartFailsWithDeviceAccessError(t *testing.T) {
	dev := newFakeDevice()
	dev.openErr = ErrDeviceAccess
	s := NewSession(testCaptureConfig(), dev, testLogger())

	err := s.Start(context.Background())
	if !errors.Is(err, ErrDeviceAccess) {
		t.Fatalf("expected ErrDeviceAccess, got %v", err)
	}
	if s.State().Recording {
		t.Fatal("session must stay idle after a failed start")
	}
}

func TestStopWithoutSession(t *testing.T) {
	s := NewSession(testCaptureConfig(), newFakeDevice(), testLogger())

	if _, err := s.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if st := s.State(); st.Recording || st.Paused || st.Duration != 0 {
		t.Fatalf("stop on idle must not mutate state, got %+v", st)
	}
}

func TestStartWhileActiveRejected(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(testCaptureConfig(), dev, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestDurationExcludesPausedTime(t *testing.T) {
	clock := newFakeClock()
	dev := newFakeDevice()
	s := NewSession(testCaptureConfig(), dev, testLogger())
	s.clock = clock.Now

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(1 * time.Second)
	if paused, err := s.TogglePause(); err != nil || !paused {
		t.Fatalf("expected paused, got %v %v", paused, err)
	}

	// Paused time must not count.
	clock.Advance(700 * time.Millisecond)
	if got := s.Duration(); got != 1.0 {
		t.Fatalf("expected duration frozen at 1.0s while paused, got %v", got)
	}

	if paused, err := s.TogglePause(); err != nil || paused {
		t.Fatalf("expected resumed, got %v %v", paused, err)
	}
	clock.Advance(2200 * time.Millisecond)

	clip, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if clip.Duration != 3.2 {
		t.Fatalf("expected 3.2s of active capture, got %v", clip.Duration)
	}
	if st := s.State(); st.Recording || st.Duration != 0 {
		t.Fatalf("expected idle state after stop, got %+v", st)
	}
}

func TestStopConcatenatesSlices(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(testCaptureConfig(), dev, testLogger())

	var chunkCount int
	var chunkMu sync.Mutex
	s.OnChunk(func(pcm []byte) {
		chunkMu.Lock()
		chunkCount++
		chunkMu.Unlock()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dev.conn.push([]byte{1, 2})
	dev.conn.push([]byte{3, 4})
	dev.conn.push([]byte{5, 6})

	waitFor(t, func() bool {
		chunkMu.Lock()
		defer chunkMu.Unlock()
		return chunkCount == 3
	})

	clip, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	if string(clip.PCM) != string(want) {
		t.Fatalf("expected concatenated payload %v, got %v", want, clip.PCM)
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Fatalf("unexpected clip format: %d/%d", clip.SampleRate, clip.Channels)
	}
}

func TestPauseDropsChunksAndZeroesLevel(t *testing.T) {
	dev := newFakeDevice()
	dev.conn.mags = []float64{128, 128, 128, 128}
	s := NewSession(testCaptureConfig(), dev, testLogger())

	levels := make(chan float64, 64)
	s.OnLevel(func(level float64) {
		select {
		case levels <- level:
		default:
		}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool {
		select {
		case l := <-levels:
			return l == 0.5
		default:
			return false
		}
	})

	if _, err := s.TogglePause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	drainLevels(levels)
	waitFor(t, func() bool {
		select {
		case l := <-levels:
			return l == 0
		default:
			return false
		}
	})

	dev.conn.push([]byte{9, 9})
	time.Sleep(20 * time.Millisecond)

	clip, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(clip.PCM) != 0 {
		t.Fatalf("paused session must not buffer audio, got %d bytes", len(clip.PCM))
	}
}

func TestNormalizeLevel(t *testing.T) {
	cases := []struct {
		mags []float64
		ref  float64
		want float64
	}{
		{nil, 256, 0},
		{[]float64{0, 0}, 256, 0},
		{[]float64{128, 128}, 256, 0.5},
		{[]float64{512, 512}, 256, 1}, // clamped
	}
	for _, c := range cases {
		if got := normalizeLevel(c.mags, c.ref); got != c.want {
			t.Fatalf("normalizeLevel(%v, %v) = %v, want %v", c.mags, c.ref, got, c.want)
		}
	}
}

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

func drainLevels(ch chan float64) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
