package transcribe

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/voxnote-labs/voxnote-core/internal/config"
)

type execRecognizer struct {
	cmd []string
	cfg config.RecognitionConfig
}

type execUpdate struct {
	Segments []Segment `json:"segments"`
	Error    string    `json:"error"`
}

type execAudioLine struct {
	PCMBase64 string `json:"pcm_base64"`
}

// NewExecRecognizer builds a recognizer backed by an external command that
// reads base64 PCM JSON lines on stdin and writes segment batches on stdout.
func NewExecRecognizer(cfg config.RecognitionConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Start(ctx context.Context, locale string) (Stream, error) {
	args := append([]string{}, r.cmd[1:]...)
	if locale != "" {
		args = append(args, "--locale", locale)
	}
	if r.cfg.InterimResults {
		args = append(args, "--interim")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, r.cmd[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recognition stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recognition stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recognition command: %w", err)
	}

	stream := &execStream{
		cancel: cancel,
		stdin:  stdin,
		events: make(chan Event, 8),
	}

	go func() {
		defer close(stream.events)
		defer cmd.Wait()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var update execUpdate
			if err := json.Unmarshal(line, &update); err != nil {
				continue
			}
			ev := Event{Kind: EventResult, Segments: update.Segments}
			if update.Error != "" {
				ev = Event{Kind: EventError, Failure: FailureKind(update.Error)}
			}
			select {
			case stream.events <- ev:
			case <-ctx.Done():
				return
			}
		}
		// Process exit without an error line is the natural end of stream.
		select {
		case stream.events <- Event{Kind: EventEnd}:
		case <-ctx.Done():
		}
	}()

	return stream, nil
}

type execStream struct {
	cancel context.CancelFunc
	stdin  io.WriteCloser
	events chan Event
	mu     sync.Mutex
	closed bool
}

func (s *execStream) Feed(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	line, err := json.Marshal(execAudioLine{PCMBase64: base64.StdEncoding.EncodeToString(pcm)})
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.stdin.Write(line); err != nil {
		return fmt.Errorf("feed recognition command: %w", err)
	}
	return nil
}

func (s *execStream) Events() <-chan Event { return s.events }

func (s *execStream) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.stdin.Close()
	s.cancel()
	return nil
}
