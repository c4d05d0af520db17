// Package speech provides continuous speech recognition by streaming ffmpeg
// microphone audio to a transcription provider.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/ports"
)

var ErrAlreadyListening = errors.New("speech capture already running")

const (
	minChunkSize     = 256
	defaultChunkSize = 4096
)

// Config controls capture and streaming.
type Config struct {
	Audio        ports.AudioConfig
	Streaming    ports.StreamingConfig
	ChunkSize    int
	CloseTimeout time.Duration
}

// Recognizer implements ports.SpeechRecognizer. At most one capture runs at
// a time; its pipeline is set up off the caller's goroutine.
type Recognizer struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      Config
	log      logrus.FieldLogger

	mu      sync.Mutex
	current *activeCapture
}

func NewRecognizer(audio ports.AudioCapture, provider ports.TranscriptionProvider, cfg Config, log logrus.FieldLogger) *Recognizer {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 4 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recognizer{audio: audio, provider: provider, cfg: cfg, log: log}
}

// Available reports whether both the provider and the microphone are usable.
func (r *Recognizer) Available() error {
	if err := r.provider.Ready(); err != nil {
		return fmt.Errorf("speech provider unavailable: %w", err)
	}
	if err := r.audio.Ready(); err != nil {
		return fmt.Errorf("microphone capture unavailable: %w", err)
	}
	return nil
}

// Start begins a capture. Setup failures are reported through the listener
// as an error followed by end.
func (r *Recognizer) Start(ctx context.Context, listener ports.RecognitionListener) error {
	if err := r.Available(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return ErrAlreadyListening
	}

	captureCtx, cancel := context.WithCancel(ctx)
	capture := &activeCapture{
		cancel:     cancel,
		listener:   listener,
		aggregator: newUtteranceAggregator(),
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}
	r.current = capture

	go r.run(captureCtx, capture)
	return nil
}

// Stop asks the running capture to end.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	capture := r.current
	r.mu.Unlock()
	if capture == nil || capture.markStopping() {
		return
	}

	capture.mu.Lock()
	audio := capture.audio
	capture.mu.Unlock()
	if audio != nil {
		go r.stopAudio(audio)
	}
}

func (r *Recognizer) stopAudio(audio ports.AudioSession) {
	if err := audio.Stop(); err != nil {
		r.log.WithError(err).Debug("audio capture did not stop cleanly")
	}
}

func (r *Recognizer) run(ctx context.Context, capture *activeCapture) {
	defer r.finish(capture)

	stream, err := r.provider.StartStreaming(ctx, r.cfg.Streaming)
	if err != nil {
		capture.recordErr(fmt.Errorf("failed to start speech stream: %w", err))
		return
	}

	audio, err := r.audio.Start(ctx, r.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		capture.recordErr(fmt.Errorf("failed to start microphone: %w", err))
		return
	}

	capture.mu.Lock()
	capture.audio = audio
	capture.stream = stream
	stopping := capture.stopping
	capture.mu.Unlock()

	go func() {
		defer close(capture.eventsDone)
		relayTranscripts(stream.Events(), capture.aggregator, capture.listener)
	}()
	go func() {
		defer close(capture.audioDone)
		sent, err := forwardAudio(audio, stream, r.cfg.ChunkSize)
		capture.recordErr(err)
		r.log.WithField("bytes", sent).Debug("microphone stream ended")
	}()
	if stopping {
		go r.stopAudio(audio)
	}

	<-capture.audioDone
	r.stopAudio(audio)
	_ = stream.CloseSend()
	capture.recordErr(drainStream(stream, r.cfg.CloseTimeout))
	<-capture.eventsDone

	if result, ok := capture.aggregator.Flush(); ok {
		capture.listener.OnResult(result.text, true)
	}
}

func (r *Recognizer) finish(capture *activeCapture) {
	capture.cancel()

	r.mu.Lock()
	if r.current == capture {
		r.current = nil
	}
	r.mu.Unlock()

	if err := capture.failure(); err != nil && !capture.isStopping() {
		r.log.WithError(err).Warn("speech capture failed")
		capture.listener.OnError(err)
	}
	capture.listener.OnEnd()
}
