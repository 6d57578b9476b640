package relay

import (
	"time"

	"github.com/teslashibe/go-parrot/pkg/audioio"
)

// VAD defaults.
const (
	DefaultVADThreshold    = 1000
	DefaultMaxSilence      = 1500 * time.Millisecond
	DefaultMinSpeechFrames = 3
	DefaultMaxUtterance    = 30 * time.Second
)

// Segmenter groups microphone frames into utterances with an energy
// threshold. A frame is voiced when its raw RMS exceeds the threshold.
// Recording starts at the first voiced frame and ends once the trailing
// silence, measured in audio time, exceeds the maximum, or once the
// utterance reaches its maximum length. Utterances with too few voiced
// frames are discarded.
//
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	threshold       float64
	maxSilence      time.Duration
	minSpeechFrames int
	sampleRate      int
	maxBytes        int

	recording    bool
	buf          []byte
	speechFrames int
	silence      time.Duration
}

// NewSegmenter returns a Segmenter. Non-positive arguments take defaults.
func NewSegmenter(threshold float64, maxSilence time.Duration, minSpeechFrames, sampleRate int, maxUtterance time.Duration) *Segmenter {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	if maxSilence <= 0 {
		maxSilence = DefaultMaxSilence
	}
	if minSpeechFrames <= 0 {
		minSpeechFrames = DefaultMinSpeechFrames
	}
	if sampleRate <= 0 {
		sampleRate = audioio.SampleRate
	}
	if maxUtterance <= 0 {
		maxUtterance = DefaultMaxUtterance
	}
	return &Segmenter{
		threshold:       threshold,
		maxSilence:      maxSilence,
		minSpeechFrames: minSpeechFrames,
		sampleRate:      sampleRate,
		maxBytes:        int(maxUtterance.Seconds() * float64(sampleRate) * 2),
	}
}

// Voiced reports whether frame is above the energy threshold.
func (s *Segmenter) Voiced(frame []byte) bool {
	return audioio.RMS(audioio.BytesToSamples(frame)) > s.threshold
}

// Push adds one frame. It returns a complete utterance when this frame ends
// one (nil otherwise) and whether the frame itself was voiced.
func (s *Segmenter) Push(frame []byte) (utterance []byte, voiced bool) {
	voiced = s.Voiced(frame)

	switch {
	case voiced:
		s.recording = true
		s.buf = append(s.buf, frame...)
		s.speechFrames++
		s.silence = 0
	case s.recording:
		s.buf = append(s.buf, frame...)
		s.silence += audioio.Duration(len(frame), s.sampleRate)
		if s.silence > s.maxSilence {
			return s.finish(), false
		}
	}
	if s.recording && len(s.buf) >= s.maxBytes {
		return s.finish(), voiced
	}
	return nil, voiced
}

// Flush ends any utterance in progress, returning it if it qualifies.
func (s *Segmenter) Flush() []byte {
	if !s.recording {
		return nil
	}
	return s.finish()
}

// Recording reports whether an utterance is in progress.
func (s *Segmenter) Recording() bool {
	return s.recording
}

// Reset drops any buffered audio.
func (s *Segmenter) Reset() {
	s.recording = false
	s.buf = nil
	s.speechFrames = 0
	s.silence = 0
}

func (s *Segmenter) finish() []byte {
	var out []byte
	if s.speechFrames >= s.minSpeechFrames {
		out = s.buf
	}
	s.Reset()
	return out
}
