package capture

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execDevice struct {
	cmd []string
}

type execFrame struct {
	PCMBase64  string    `json:"pcm_base64"`
	Magnitudes []float64 `json:"magnitudes"`
}

// NewExecDevice builds a device backed by an external capture command that
// streams JSON lines of base64 PCM plus a magnitude snapshot on stdout.
func NewExecDevice(command string) (Device, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &execDevice{cmd: args}, nil
}

func (d *execDevice) Open(ctx context.Context, opts Options) (Conn, error) {
	args := append([]string{}, d.cmd[1:]...)
	args = append(args,
		"--rate", fmt.Sprint(opts.SampleRate),
		"--channels", fmt.Sprint(opts.Channels),
		"--slice-ms", fmt.Sprint(opts.SliceDurationMS),
	)
	if opts.EchoCancellation {
		args = append(args, "--echo-cancel")
	}
	if opts.NoiseSuppression {
		args = append(args, "--noise-suppress")
	}
	if opts.AutoGain {
		args = append(args, "--auto-gain")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.cmd[0], args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrDeviceAccess, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrDeviceAccess, err)
	}

	conn := &execConn{
		cancel: cancel,
		chunks: make(chan []byte, 8),
	}

	go func() {
		defer close(conn.chunks)
		defer cmd.Wait()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var frame execFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(frame.PCMBase64)
			if err != nil {
				continue
			}
			conn.setMagnitudes(frame.Magnitudes)
			select {
			case conn.chunks <- pcm:
			case <-ctx.Done():
				return
			}
		}
	}()

	return conn, nil
}

type execConn struct {
	cancel context.CancelFunc
	chunks chan []byte

	mu   sync.Mutex
	mags []float64
}

func (c *execConn) Chunks() <-chan []byte { return c.chunks }

func (c *execConn) Magnitudes() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.mags))
	copy(out, c.mags)
	return out
}

func (c *execConn) setMagnitudes(mags []float64) {
	c.mu.Lock()
	c.mags = mags
	c.mu.Unlock()
}

func (c *execConn) Close() error {
	c.cancel()
	return nil
}
