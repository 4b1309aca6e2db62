package capture

import (
	"context"
	"errors"
)

var (
	// ErrDeviceAccess means the input device is unavailable or access was
	// denied. Fatal to the attempted session, recoverable by retrying start.
	ErrDeviceAccess = errors.New("capture device access denied")
	// ErrNoActiveSession is returned by operations that require a running
	// capture session.
	ErrNoActiveSession = errors.New("no active capture session")
	// ErrSessionActive is returned when start is called outside the idle state.
	ErrSessionActive = errors.New("capture session already active")
)

// Options carries input processing flags requested from the device.
type Options struct {
	SampleRate       int
	Channels         int
	SliceDurationMS  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// Conn is an open connection to an audio input device. It yields PCM slices
// of roughly SliceDurationMS each and exposes a frequency-magnitude snapshot
// for level metering.
type Conn interface {
	// Chunks delivers 16-bit little-endian PCM slices. The channel closes
	// when the connection is closed or the device fails.
	Chunks() <-chan []byte
	// Magnitudes returns the current frequency-domain magnitude snapshot.
	Magnitudes() []float64
	Close() error
}

// Device abstracts the audio input backend.
type Device interface {
	Open(ctx context.Context, opts Options) (Conn, error)
}
