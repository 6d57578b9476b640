// Package relay moves audio between the hardware clients and the voice
// session. Outbound fragments are split into small chunks and fanned out to
// every speaker client; inbound microphone frames reach the session only
// while the parrot is not speaking.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parrot/internal/observe"
	"github.com/teslashibe/go-parrot/pkg/audioio"
	"github.com/teslashibe/go-parrot/pkg/hub"
	"github.com/teslashibe/go-parrot/pkg/speaking"
)

// Defaults for outbound chunking.
const (
	DefaultChunkSize  = 1024
	DefaultChunkDelay = 500 * time.Microsecond
)

// AudioSink receives microphone audio. conversation.Session satisfies it.
type AudioSink interface {
	SendAudio(audio []byte) error
	IsConnected() bool
}

// Config configures a Relay.
type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration

	// MicSampleRate is the rate of inbound microphone frames. Frames are
	// resampled to the stream rate when it differs.
	MicSampleRate int

	// ForwardUtterances sends only complete VAD utterances to the session
	// instead of every frame.
	ForwardUtterances bool

	VADThreshold    float64
	VADMaxSilence   time.Duration
	VADMinSpeech    int
	VADMaxUtterance time.Duration
	Recorder        *audioio.Recorder
	OnVoiceActivity func()
}

// Relay is the audio relay between hardware clients and the voice session.
type Relay struct {
	cfg      Config
	speakers *hub.Hub
	clock    *speaking.Clock
	logger   *slog.Logger
	metrics  *observe.Metrics

	// pause waits between chunks; replaced in tests.
	pause func(ctx context.Context, d time.Duration) error

	// playMu keeps fragments from interleaving on the wire.
	playMu sync.Mutex

	micMu     sync.Mutex
	sink      AudioSink
	segmenter *Segmenter
}

// New creates a Relay fanning out to speakers and gated by clock.
func New(cfg Config, speakers *hub.Hub, clock *speaking.Clock, logger *slog.Logger, metrics *observe.Metrics) *Relay {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if cfg.MicSampleRate <= 0 {
		cfg.MicSampleRate = audioio.SampleRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:       cfg,
		speakers:  speakers,
		clock:     clock,
		logger:    logger.With("component", "relay"),
		metrics:   metrics,
		pause:     sleepCtx,
		segmenter: NewSegmenter(cfg.VADThreshold, cfg.VADMaxSilence, cfg.VADMinSpeech, audioio.SampleRate, cfg.VADMaxUtterance),
	}
}

// SetSink sets (or clears, with nil) the session that receives mic audio.
func (r *Relay) SetSink(s AudioSink) {
	r.micMu.Lock()
	r.sink = s
	r.micMu.Unlock()
}

// Chunks splits pcm into consecutive slices of at most size bytes.
// The slices alias pcm.
func Chunks(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		out = append(out, pcm[off:end])
	}
	return out
}

// Play queues one outbound fragment on the speaking clock and streams it to
// every speaker client in order. It returns when the fragment starts
// playing, and false when there was nobody to play it to.
func (r *Relay) Play(ctx context.Context, pcm []byte) (time.Time, bool) {
	if len(pcm) == 0 || r.speakers.ClientCount() == 0 {
		return time.Time{}, false
	}

	r.playMu.Lock()
	defer r.playMu.Unlock()

	start := r.clock.ExtendBytes(len(pcm))

	for i, chunk := range Chunks(pcm, r.cfg.ChunkSize) {
		if n := r.speakers.Broadcast(hub.NewBinaryMessage(chunk)); n == 0 {
			r.logger.Debug("no speaker clients left mid-fragment", "chunk", i)
			break
		}
		r.metrics.ChunkSent(ctx, len(chunk))

		if err := r.pause(ctx, r.cfg.ChunkDelay); err != nil {
			break
		}
	}
	return start, true
}

// HandleMic processes one microphone frame.
func (r *Relay) HandleMic(ctx context.Context, frame []byte) {
	if len(frame) == 0 {
		return
	}
	frame = audioio.ResampleBytes(frame, r.cfg.MicSampleRate, audioio.SampleRate)

	if r.clock.IsSpeaking() {
		r.metrics.MicFrame(ctx, false)
		return
	}

	r.micMu.Lock()
	utterance, voiced := r.segmenter.Push(frame)
	sink := r.sink
	r.micMu.Unlock()

	if voiced && r.cfg.OnVoiceActivity != nil {
		r.cfg.OnVoiceActivity()
	}
	if utterance != nil {
		r.emitUtterance(ctx, sink, utterance)
	}

	if r.cfg.ForwardUtterances {
		return
	}
	r.forward(ctx, sink, frame)
}

// FlushUtterance ends any utterance in progress. Called when the session
// starts answering, so a half-finished recording is not held across turns.
func (r *Relay) FlushUtterance(ctx context.Context) {
	r.micMu.Lock()
	utterance := r.segmenter.Flush()
	sink := r.sink
	r.micMu.Unlock()

	if utterance != nil {
		r.emitUtterance(ctx, sink, utterance)
	}
}

func (r *Relay) emitUtterance(ctx context.Context, sink AudioSink, utterance []byte) {
	r.logger.Info("utterance captured",
		"bytes", len(utterance),
		"duration", audioio.Duration(len(utterance), audioio.SampleRate).Round(time.Millisecond),
	)
	if r.cfg.Recorder != nil {
		if _, err := r.cfg.Recorder.Save(utterance); err != nil {
			r.logger.Warn("failed to save recording", "error", err)
		}
	}
	if r.cfg.ForwardUtterances {
		r.forward(ctx, sink, utterance)
	}
}

func (r *Relay) forward(ctx context.Context, sink AudioSink, pcm []byte) {
	if sink == nil || !sink.IsConnected() {
		r.metrics.MicFrame(ctx, false)
		return
	}
	if err := sink.SendAudio(pcm); err != nil {
		r.logger.Warn("failed to forward mic audio", "error", err)
		r.metrics.MicFrame(ctx, false)
		return
	}
	r.metrics.MicFrame(ctx, true)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
