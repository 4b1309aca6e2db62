package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ContentStore is the heavyweight tier of the durable store: a key to
// binary-blob mapping for audio payloads, keyed by recording id.
type ContentStore interface {
	Put(ctx context.Context, id string, pcm []byte, sampleRate, channels int) error
	Get(ctx context.Context, id string) ([]byte, error)
	// SourcePath resolves the on-disk file holding a payload, for callers
	// that serve the container format directly.
	SourcePath(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	Wipe(ctx context.Context) error
}

// wavContentStore keeps each payload as a WAV file named after the
// recording id, so payloads stay playable by ordinary tools.
type wavContentStore struct {
	dir string
}

// OpenContentStore initializes the payload store rooted at dir.
func OpenContentStore(dir string) (ContentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &wavContentStore{dir: dir}, nil
}

func (s *wavContentStore) path(id string) string {
	return filepath.Join(s.dir, id+".wav")
}

func (s *wavContentStore) Put(ctx context.Context, id string, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}

	file, err := os.Create(s.path(id))
	if err != nil {
		return fmt.Errorf("create payload file: %w", err)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		file.Close()
		os.Remove(s.path(id))
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		os.Remove(s.path(id))
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}

func (s *wavContentStore) Get(ctx context.Context, id string) ([]byte, error) {
	file, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open payload file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buffer, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	pcm := make([]byte, len(buffer.Data)*2)
	for i, sample := range buffer.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return pcm, nil
}

func (s *wavContentStore) SourcePath(ctx context.Context, id string) (string, error) {
	path := s.path(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat payload file: %w", err)
	}
	return path, nil
}

// Delete removes a payload. Removing a missing payload is not an error.
func (s *wavContentStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload file: %w", err)
	}
	return nil
}

func (s *wavContentStore) Wipe(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list audio dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wav" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("remove payload file: %w", err)
		}
	}
	return nil
}
