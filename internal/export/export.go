// Package export turns stored recordings into user-facing artifacts: a
// plain-text transcript file or a playable WAV. One-shot conversions, not
// part of the session core.
package export

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/voxnote-labs/voxnote-core/internal/config"
	"github.com/voxnote-labs/voxnote-core/internal/store"
)

type Exporter struct {
	cfg config.ExportConfig
	log *slog.Logger
}

func New(cfg config.ExportConfig, log *slog.Logger) *Exporter {
	return &Exporter{
		cfg: cfg,
		log: log.With(slog.String("component", "export")),
	}
}

// Transcript writes the recording's finalized text next to its title as a
// .txt file and returns the path.
func (e *Exporter) Transcript(rec store.Recording) (string, error) {
	if err := os.MkdirAll(e.cfg.Directory, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.cfg.Directory, rec.ID+".txt")
	if err := os.WriteFile(path, []byte(rec.Transcription), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	e.log.Info("transcript exported", slog.String("path", path))
	return path, nil
}

// Audio writes the recording's payload as a WAV file and returns the path.
func (e *Exporter) Audio(rec store.Recording) (string, error) {
	if len(rec.Payload)%2 != 0 {
		return "", fmt.Errorf("pcm payload not aligned")
	}
	if err := os.MkdirAll(e.cfg.Directory, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.cfg.Directory, rec.ID+".wav")

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}

	samples := make([]int, len(rec.Payload)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(rec.Payload[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: rec.Channels, SampleRate: rec.SampleRate},
		Data:   samples,
	}

	enc := wav.NewEncoder(file, rec.SampleRate, 16, rec.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("close wav encoder: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	e.log.Info("audio exported", slog.String("path", path))
	return path, nil
}
