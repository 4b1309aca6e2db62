package export

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxnote-labs/voxnote-core/internal/config"
	"github.com/voxnote-labs/voxnote-core/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTranscriptExport(t *testing.T) {
	dir := t.TempDir()
	e := New(config.ExportConfig{Directory: dir}, testLogger())

	rec := store.Recording{ID: "rec-1", Transcription: "hello world"}
	path, err := e.Transcript(rec)
	if err != nil {
		t.Fatalf("export transcript: %v", err)
	}
	if filepath.Ext(path) != ".txt" {
		t.Fatalf("expected .txt artifact, got %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected transcript content: %q", data)
	}
}

func TestAudioExport(t *testing.T) {
	dir := t.TempDir()
	e := New(config.ExportConfig{Directory: dir}, testLogger())

	rec := store.Recording{
		ID:         "rec-1",
		SampleRate: 16000,
		Channels:   1,
		Payload:    []byte{1, 0, 2, 0, 3, 0, 4, 0},
	}
	path, err := e.Audio(rec)
	if err != nil {
		t.Fatalf("export audio: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	if info.Size() <= 44 {
		t.Fatalf("wav artifact too small: %d bytes", info.Size())
	}
}

func TestAudioExportRejectsMisalignedPayload(t *testing.T) {
	e := New(config.ExportConfig{Directory: t.TempDir()}, testLogger())
	if _, err := e.Audio(store.Recording{ID: "bad", Payload: []byte{1}}); err == nil {
		t.Fatal("expected error for misaligned payload")
	}
}
