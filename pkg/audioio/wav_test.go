package audioio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWAVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	w, err := CreateWAV(path, 24000)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})
	if _, err := w.Write(pcm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != wavHeaderSize+len(pcm) {
		t.Fatalf("file size = %d, want %d", len(data), wavHeaderSize+len(pcm))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Error("bad chunk markers")
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("chunk size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 24000 {
		t.Errorf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}

	if _, err := w.Write(pcm); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestRecorderSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mic_recordings")
	r, err := NewRecorder(dir, SampleRate, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC) }

	path, err := r.Save(make([]byte, 4800))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "voice_20260301_123045") {
		t.Errorf("unexpected file name %q", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != wavHeaderSize+4800 {
		t.Errorf("size = %d, want %d", info.Size(), wavHeaderSize+4800)
	}
}
