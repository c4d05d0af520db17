package ports

import (
	"context"
	"io"
	"time"

	"formcopilot/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Ready() error
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	Endpointing    time.Duration
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	Ready() error
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// RecognitionListener receives callbacks from one capture.
// Callbacks arrive on arbitrary goroutines; Error is always followed by End.
type RecognitionListener interface {
	OnResult(text string, final bool)
	OnError(err error)
	OnEnd()
}

// SpeechRecognizer is a continuous speech capability.
type SpeechRecognizer interface {
	// Available reports why voice input cannot be used, or nil.
	Available() error
	Start(ctx context.Context, listener RecognitionListener) error
	// Stop requests the capture to end; End is delivered asynchronously.
	Stop()
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// ChatTransport exchanges one turn with the agent backend.
type ChatTransport interface {
	Send(ctx context.Context, feature domain.Feature, req domain.ChatRequest) (domain.ChatResponse, error)
}

// FormReader exposes the current values of the external form model.
type FormReader interface {
	CurrentForm(feature domain.Feature) domain.FormValues
}

// Journal persists appended conversation turns.
type Journal interface {
	Record(ctx context.Context, entry domain.JournalEntry) error
	Turns(ctx context.Context, feature domain.Feature, limit int) ([]domain.JournalEntry, error)
}

// Executor runs callbacks on the single update context.
type Executor interface {
	Post(fn func()) bool
	// AfterFunc posts fn after d. The returned func cancels it and reports
	// whether it was still pending.
	AfterFunc(d time.Duration, fn func()) func() bool
}

// EventSink emits backend state/events to the UI and the form model.
type EventSink interface {
	ConversationChanged(snapshot domain.Snapshot)
	RecognitionChanged(state domain.RecognitionState)
	FormUpdated(update domain.FormUpdate)
	FormSubmitted(feature domain.Feature)
	SessionError(code domain.ErrorCode, detail string)
}
