package relay

import (
	"testing"
	"time"

	"github.com/teslashibe/go-parrot/pkg/audioio"
)

// loudFrame returns n bytes of a square wave well above the VAD threshold.
func loudFrame(n int) []byte {
	samples := make([]int16, n/2)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 5000
		} else {
			samples[i] = -5000
		}
	}
	return audioio.SamplesToBytes(samples)
}

func TestSegmenterVoiced(t *testing.T) {
	s := NewSegmenter(0, 0, 0, 0, 0)

	if s.Voiced(make([]byte, 2400)) {
		t.Error("silence should not be voiced")
	}
	if !s.Voiced(loudFrame(2400)) {
		t.Error("loud frame should be voiced")
	}
	quiet := audioio.SamplesToBytes([]int16{900, -900, 900, -900})
	if s.Voiced(quiet) {
		t.Error("RMS 900 is below the default threshold")
	}
}

func TestSegmenterUtterance(t *testing.T) {
	tests := []struct {
		name       string
		voiced     int
		silent     int
		wantBytes  int
		wantOutput bool
	}{
		{"long enough", 3, 31, (3 + 31) * 2400, true},
		{"short blip discarded", 2, 31, 0, false},
		{"still inside silence window", 5, 30, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 50ms frames; 1.5s max silence ends on the 31st silent frame.
			s := NewSegmenter(1000, 1500*time.Millisecond, 3, 24000, 0)

			var out []byte
			for i := 0; i < tt.voiced; i++ {
				if u, _ := s.Push(loudFrame(2400)); u != nil {
					out = u
				}
			}
			for i := 0; i < tt.silent; i++ {
				if u, _ := s.Push(make([]byte, 2400)); u != nil {
					out = u
				}
			}

			if tt.wantOutput != (out != nil) {
				t.Fatalf("utterance emitted = %v, want %v", out != nil, tt.wantOutput)
			}
			if tt.wantOutput && len(out) != tt.wantBytes {
				t.Errorf("utterance length = %d, want %d", len(out), tt.wantBytes)
			}
		})
	}
}

func TestSegmenterIgnoresLeadingSilence(t *testing.T) {
	s := NewSegmenter(0, 0, 0, 0, 0)
	for i := 0; i < 100; i++ {
		if u, voiced := s.Push(make([]byte, 2400)); u != nil || voiced {
			t.Fatal("silence alone must not produce anything")
		}
	}
	if s.Recording() {
		t.Error("should not be recording")
	}
}

func TestSegmenterFlush(t *testing.T) {
	s := NewSegmenter(0, 0, 2, 0, 0)

	if s.Flush() != nil {
		t.Error("flush with nothing recorded should return nil")
	}

	s.Push(loudFrame(2400))
	if s.Flush() != nil {
		t.Error("one voiced frame is below the minimum")
	}
	if s.Recording() {
		t.Error("flush should reset state")
	}

	s.Push(loudFrame(2400))
	s.Push(loudFrame(2400))
	if got := s.Flush(); len(got) != 4800 {
		t.Errorf("flush length = %d, want 4800", len(got))
	}
}

func TestSegmenterCapsUtteranceLength(t *testing.T) {
	// One second cap at 24kHz; 50ms frames of continuous speech.
	s := NewSegmenter(0, 0, 0, 24000, time.Second)

	var utterances [][]byte
	for i := 0; i < 50; i++ {
		if u, _ := s.Push(loudFrame(2400)); u != nil {
			utterances = append(utterances, u)
		}
	}

	if len(utterances) != 2 {
		t.Fatalf("got %d utterances from 2.5s of speech, want 2", len(utterances))
	}
	for i, u := range utterances {
		if len(u) != 48000 {
			t.Errorf("utterance %d is %d bytes, want 48000", i, len(u))
		}
	}
	if !s.Recording() {
		t.Error("the remaining half second should still be recording")
	}
	if rest := s.Flush(); len(rest) != 24000 {
		t.Errorf("flushed %d bytes, want 24000", len(rest))
	}
}
