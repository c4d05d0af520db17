package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

func TestRecognizerStreamsResultsUntilStopped(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "hello"}
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello world", IsSpeechFinal: true}
	audio := &fakeAudioSession{chunks: [][]byte{[]byte("abc")}, block: make(chan struct{})}
	recognizer := newTestRecognizer(&fakeAudioCapture{sessions: []ports.AudioSession{audio}}, &fakeProvider{sessions: []ports.StreamingSession{stream}})
	listener := newFakeListener()

	require.NoError(t, recognizer.Start(context.Background(), listener))
	require.Eventually(t, func() bool { return len(listener.snapshotResults()) == 2 }, time.Second, 5*time.Millisecond)

	recognizer.Stop()
	listener.waitEnd(t)

	assert.Equal(t, []recognitionResult{{text: "hello"}, {text: "hello world", final: true}}, listener.snapshotResults())
	assert.Empty(t, listener.snapshotErrors())
	assert.GreaterOrEqual(t, audio.stops(), 1)
}

func TestRecognizerFlushesPendingSegmentsAtEnd(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "sorter id"}
	audio := &fakeAudioSession{block: make(chan struct{})}
	recognizer := newTestRecognizer(&fakeAudioCapture{sessions: []ports.AudioSession{audio}}, &fakeProvider{sessions: []ports.StreamingSession{stream}})
	listener := newFakeListener()

	require.NoError(t, recognizer.Start(context.Background(), listener))
	require.Eventually(t, func() bool { return len(listener.snapshotResults()) == 1 }, time.Second, 5*time.Millisecond)

	recognizer.Stop()
	listener.waitEnd(t)

	results := listener.snapshotResults()
	require.Len(t, results, 2)
	assert.Equal(t, recognitionResult{text: "sorter id", final: true}, results[1])
}

func TestRecognizerReportsStreamFailureThenEnd(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	stream.waitErr = errors.New("stream failed")
	audio := &fakeAudioSession{chunks: [][]byte{[]byte("abc")}}
	recognizer := newTestRecognizer(&fakeAudioCapture{sessions: []ports.AudioSession{audio}}, &fakeProvider{sessions: []ports.StreamingSession{stream}})
	listener := newFakeListener()

	require.NoError(t, recognizer.Start(context.Background(), listener))
	listener.waitEnd(t)

	errs := listener.snapshotErrors()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "stream failed")
}

func TestRecognizerSetupFailureIsAsynchronous(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("dial failed")}
	recognizer := newTestRecognizer(&fakeAudioCapture{}, provider)
	listener := newFakeListener()

	require.NoError(t, recognizer.Start(context.Background(), listener))
	listener.waitEnd(t)

	errs := listener.snapshotErrors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], provider.err)

	provider.setErr(nil)
	provider.mu.Lock()
	provider.sessions = []ports.StreamingSession{newFakeStreamingSession()}
	provider.mu.Unlock()
	audio := &fakeAudioSession{block: make(chan struct{})}
	recognizer.audio.(*fakeAudioCapture).sessions = []ports.AudioSession{audio}

	second := newFakeListener()
	require.NoError(t, recognizer.Start(context.Background(), second), "capture slot must be released after failure")
	recognizer.Stop()
	second.waitEnd(t)
}

func TestRecognizerRejectsConcurrentStart(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioSession{block: make(chan struct{})}
	recognizer := newTestRecognizer(
		&fakeAudioCapture{sessions: []ports.AudioSession{audio}},
		&fakeProvider{sessions: []ports.StreamingSession{newFakeStreamingSession()}},
	)
	listener := newFakeListener()

	require.NoError(t, recognizer.Start(context.Background(), listener))
	assert.ErrorIs(t, recognizer.Start(context.Background(), newFakeListener()), ErrAlreadyListening)

	recognizer.Stop()
	recognizer.Stop()
	listener.waitEnd(t)
	assert.Empty(t, listener.snapshotErrors())
}

func TestRecognizerAvailable(t *testing.T) {
	t.Parallel()

	ready := newTestRecognizer(&fakeAudioCapture{}, &fakeProvider{})
	assert.NoError(t, ready.Available())

	noKey := newTestRecognizer(&fakeAudioCapture{}, &fakeProvider{readyErr: errors.New("no key")})
	assert.ErrorContains(t, noKey.Available(), "speech provider unavailable")
	assert.Error(t, noKey.Start(context.Background(), newFakeListener()))

	noMic := newTestRecognizer(&fakeAudioCapture{readyErr: errors.New("no ffmpeg")}, &fakeProvider{})
	assert.ErrorContains(t, noMic.Available(), "microphone capture unavailable")
}

func newTestRecognizer(audio ports.AudioCapture, provider ports.TranscriptionProvider) *Recognizer {
	logger, _ := test.NewNullLogger()
	return NewRecognizer(audio, provider, Config{ChunkSize: 512, CloseTimeout: time.Second}, logger)
}

type fakeListener struct {
	mu      sync.Mutex
	results []recognitionResult
	errs    []error
	ended   chan struct{}
	endOnce sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{ended: make(chan struct{})}
}

func (l *fakeListener) OnResult(text string, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, recognitionResult{text: text, final: final})
}

func (l *fakeListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *fakeListener) OnEnd() {
	l.endOnce.Do(func() { close(l.ended) })
}

func (l *fakeListener) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-l.ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("capture did not end")
	}
}

func (l *fakeListener) snapshotResults() []recognitionResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recognitionResult(nil), l.results...)
}

func (l *fakeListener) snapshotErrors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

type fakeAudioCapture struct {
	sessions []ports.AudioSession
	readyErr error
	calls    int
}

func (f *fakeAudioCapture) Ready() error { return f.readyErr }

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// fakeAudioSession yields its chunks, then either EOF or, when block is
// set, waits until Stop.
type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	block     chan struct{}
	stopOnce  sync.Once
	stopCalls int
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return 0, io.EOF
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() {
		if f.block != nil {
			close(f.block)
		}
	})
	return nil
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []ports.StreamingSession
	err      error
	readyErr error
	calls    int
}

func (f *fakeProvider) Ready() error { return f.readyErr }

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	events  chan domain.TranscriptEvent
	waitErr error
	closed  bool
	mu      sync.Mutex
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error { return nil }

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	return f.CloseSend()
}
