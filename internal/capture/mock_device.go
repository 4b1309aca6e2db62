package capture

import (
	"context"
	"time"
)

type mockDevice struct{}

// NewMockDevice returns a device that emits silent slices at the requested
// cadence. Useful for development on machines without a capture backend.
func NewMockDevice() Device {
	return &mockDevice{}
}

func (d *mockDevice) Open(ctx context.Context, opts Options) (Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	sliceBytes := opts.SampleRate * opts.Channels * 2 * opts.SliceDurationMS / 1000
	conn := &mockConn{
		cancel: cancel,
		chunks: make(chan []byte),
	}

	go func() {
		defer close(conn.chunks)
		ticker := time.NewTicker(time.Duration(opts.SliceDurationMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case conn.chunks <- make([]byte, sliceBytes):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return conn, nil
}

type mockConn struct {
	cancel context.CancelFunc
	chunks chan []byte
}

func (c *mockConn) Chunks() <-chan []byte { return c.chunks }

func (c *mockConn) Magnitudes() []float64 { return make([]float64, 32) }

func (c *mockConn) Close() error {
	c.cancel()
	return nil
}
