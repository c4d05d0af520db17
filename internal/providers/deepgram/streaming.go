// Package deepgram streams microphone audio to Deepgram live transcription.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// UtteranceEnd asks Deepgram to report the end of an utterance after
	// this much silence, even when endpointing missed it.
	UtteranceEnd time.Duration
	// KeepAlive is the longest the socket may go without audio.
	KeepAlive time.Duration
}

var (
	ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")
	ErrSendClosed    = errors.New("audio stream is already closed")
)

const (
	messageResults      = "Results"
	messageUtteranceEnd = "UtteranceEnd"
	messageMetadata     = "Metadata"
	messageError        = "Error"
)

// Provider implements ports.TranscriptionProvider for Deepgram.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logrus.FieldLogger
}

var _ ports.TranscriptionProvider = (*Provider)(nil)

func NewProvider(cfg Config, log logrus.FieldLogger) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.UtteranceEnd == 0 {
		cfg.UtteranceEnd = time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:    log,
	}
}

// Ready reports whether streaming can be attempted.
func (p *Provider) Ready() error {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}

	wsURL, err := listenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to Deepgram websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	session := newStreamingSession(conn, p.cfg.KeepAlive, p.log)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()
	return session, nil
}

type streamingSession struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	log       logrus.FieldLogger

	events     chan domain.TranscriptEvent
	audio      chan []byte
	sendClosed chan struct{}
	readerDone chan struct{}
	done       chan struct{}

	closing atomic.Bool

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func newStreamingSession(conn *websocket.Conn, keepAlive time.Duration, log logrus.FieldLogger) *streamingSession {
	s := &streamingSession{
		conn:       conn,
		keepAlive:  keepAlive,
		log:        log,
		events:     make(chan domain.TranscriptEvent, 64),
		audio:      make(chan []byte, 32),
		sendClosed: make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		wg.Wait()
		close(s.events)
		_ = conn.Close()
		close(s.done)
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-s.sendClosed:
		return ErrSendClosed
	default:
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.sendClosed:
		return ErrSendClosed
	case <-s.readerDone:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend flushes queued audio and asks Deepgram to finish the stream.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		close(s.sendClosed)
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close tears the socket down without waiting for pending results.
func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil || s.closing.Load() {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	lastWrite := time.Now()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < s.keepAlive {
				continue
			}
			if err := s.writeControl("KeepAlive"); err != nil {
				s.setErr(fmt.Errorf("failed to send keepalive: %w", err))
				return
			}
			lastWrite = time.Now()
		case <-s.sendClosed:
			s.finishStream()
			return
		case <-s.readerDone:
			return
		}
	}
}

// finishStream sends audio still queued, then CloseStream.
func (s *streamingSession) finishStream() {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		default:
			if err := s.writeControl("CloseStream"); err != nil {
				s.setErr(fmt.Errorf("failed to close stream: %w", err))
			}
			return
		}
	}
}

func (s *streamingSession) writeControl(kind string) error {
	return s.conn.WriteJSON(map[string]string{"type": kind})
}

func (s *streamingSession) readLoop() {
	defer close(s.readerDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		msg, err := decodeMessage(payload)
		if err != nil {
			s.log.WithError(err).Debug("skipping undecodable provider message")
			continue
		}
		switch msg.Type {
		case messageError:
			s.setErr(msg.err())
			return
		case messageMetadata:
			s.log.WithField("request_id", msg.RequestID).Debug("deepgram stream opened")
			continue
		}
		if event, ok := msg.transcriptEvent(); ok {
			s.emit(event)
		}
	}
}

func (s *streamingSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
		s.log.WithField("kind", event.Kind).Warn("transcript event dropped, consumer is behind")
	}
}

type message struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	RequestID   string `json:"request_id"`
	Message     string `json:"message"`
	Description string `json:"description"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func decodeMessage(payload []byte) (message, error) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return message{}, err
	}
	if msg.Type == "" {
		msg.Type = messageResults
	}
	return msg, nil
}

func (m message) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

// transcriptEvent maps Results and UtteranceEnd messages. An empty final that
// closes the utterance is still reported so pending segments get flushed.
func (m message) transcriptEvent() (domain.TranscriptEvent, bool) {
	switch m.Type {
	case messageUtteranceEnd:
		return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}, true
	case messageResults:
		text := m.transcript()
		if !m.IsFinal && !m.SpeechFinal {
			if text == "" {
				return domain.TranscriptEvent{}, false
			}
			return domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text}, true
		}
		if text == "" && !m.SpeechFinal {
			return domain.TranscriptEvent{}, false
		}
		return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: text, IsSpeechFinal: m.SpeechFinal}, true
	default:
		return domain.TranscriptEvent{}, false
	}
}

func (m message) err() error {
	for _, text := range []string{m.Description, m.Message} {
		if text = strings.TrimSpace(text); text != "" {
			return fmt.Errorf("deepgram: %s", text)
		}
	}
	return errors.New("deepgram returned an unknown error")
}

func listenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base, err := url.Parse(strings.TrimSpace(providerCfg.APIBaseURL))
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	case "http":
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/listen"

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := url.Values{}
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	query.Set("channels", strconv.Itoa(streamCfg.Channels))
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if streamCfg.Endpointing > 0 {
		query.Set("endpointing", strconv.FormatInt(streamCfg.Endpointing.Milliseconds(), 10))
	}
	// Deepgram only emits UtteranceEnd alongside interim results.
	if streamCfg.InterimResults && providerCfg.UtteranceEnd > 0 {
		query.Set("utterance_end_ms", strconv.FormatInt(providerCfg.UtteranceEnd.Milliseconds(), 10))
	}
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}
