package audioio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Recorder saves utterances as WAV files named voice_<timestamp>.wav.
type Recorder struct {
	dir        string
	sampleRate int
	now        func() time.Time
	logger     *slog.Logger
}

// NewRecorder returns a Recorder writing into dir, creating it if needed.
func NewRecorder(dir string, sampleRate int, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audioio: create recordings dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:        dir,
		sampleRate: sampleRate,
		now:        time.Now,
		logger:     logger.With("component", "audioio.recorder"),
	}, nil
}

// Save writes pcm to a new file and returns its path.
func (r *Recorder) Save(pcm []byte) (string, error) {
	ts := r.now()
	name := fmt.Sprintf("voice_%s_%03d.wav", ts.Format("20060102_150405"), ts.Nanosecond()/int(time.Millisecond))
	path := filepath.Join(r.dir, name)

	w, err := CreateWAV(path, r.sampleRate)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(pcm); err != nil {
		w.Close()
		return "", fmt.Errorf("audioio: write recording: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	r.logger.Info("saved recording",
		"path", path,
		"duration", Duration(len(pcm), r.sampleRate).Round(time.Millisecond),
	)
	return path, nil
}
