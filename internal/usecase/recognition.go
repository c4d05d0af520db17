package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

type recognitionEvent string

const (
	eventStart       recognitionEvent = "start"
	eventStartFailed recognitionEvent = "start_failed"
	eventStop        recognitionEvent = "stop"
	eventInterim     recognitionEvent = "interim"
	eventFinal       recognitionEvent = "final"
	eventError       recognitionEvent = "error"
	eventEnd         recognitionEvent = "end"
)

// recognitionTransitions is the complete state table. Pairs that are absent
// leave the state unchanged.
var recognitionTransitions = map[domain.RecognitionStatus]map[recognitionEvent]domain.RecognitionStatus{
	domain.RecognitionIdle: {
		eventStart:       domain.RecognitionListening,
		eventStartFailed: domain.RecognitionIdle,
		eventError:       domain.RecognitionIdle,
		eventEnd:         domain.RecognitionIdle,
	},
	domain.RecognitionListening: {
		eventStop:    domain.RecognitionStopping,
		eventInterim: domain.RecognitionListening,
		eventFinal:   domain.RecognitionListening,
		eventError:   domain.RecognitionIdle,
		eventEnd:     domain.RecognitionIdle,
	},
	domain.RecognitionStopping: {
		eventError: domain.RecognitionIdle,
		eventEnd:   domain.RecognitionIdle,
	},
}

func nextRecognitionStatus(from domain.RecognitionStatus, event recognitionEvent) domain.RecognitionStatus {
	if next, ok := recognitionTransitions[from][event]; ok {
		return next
	}
	return from
}

// voiceHost is what the recognition controller needs from the orchestrator.
type voiceHost interface {
	ActiveFeature() domain.Feature
	Sending() bool
	// ListenEligible reports sidebar open and voice allowed.
	ListenEligible() bool
	SubmitTranscript(text string)
}

// RecognitionConfig tunes the recognition controller.
type RecognitionConfig struct {
	RestartDelay time.Duration
}

// RecognitionController drives continuous listening. All methods must run on
// the event loop; capture callbacks are posted there.
type RecognitionController struct {
	recognizer ports.SpeechRecognizer
	finalizer  transcriptFinalizer
	host       voiceHost
	exec       ports.Executor
	events     ports.EventSink
	log        logrus.FieldLogger
	cfg        RecognitionConfig

	status         domain.RecognitionStatus
	shouldRestart  bool
	liveTranscript string
	lastError      string
	available      bool

	generation    uint64
	cancelRestart func() bool
}

func NewRecognitionController(
	recognizer ports.SpeechRecognizer,
	vocabulary ports.RulesEngine,
	host voiceHost,
	exec ports.Executor,
	events ports.EventSink,
	cfg RecognitionConfig,
	log logrus.FieldLogger,
) *RecognitionController {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 500 * time.Millisecond
	}
	c := &RecognitionController{
		recognizer: recognizer,
		finalizer:  newTranscriptFinalizer(vocabulary, log),
		host:       host,
		exec:       exec,
		events:     events,
		log:        log,
		cfg:        cfg,
		status:     domain.RecognitionIdle,
		available:  true,
	}
	if err := recognizer.Available(); err != nil {
		c.available = false
		c.lastError = domain.VoiceUnavailableMessage
		log.WithError(err).Info("voice input disabled")
		events.SessionError(domain.ErrorCodeVoiceUnavailable, err.Error())
	}
	return c
}

func (c *RecognitionController) State() domain.RecognitionState {
	return domain.RecognitionState{
		Status:         c.status,
		IsListening:    c.status == domain.RecognitionListening,
		ShouldRestart:  c.shouldRestart,
		LiveTranscript: c.liveTranscript,
		LastError:      c.lastError,
		Available:      c.available,
	}
}

func (c *RecognitionController) IsListening() bool {
	return c.status == domain.RecognitionListening
}

// Start begins listening unless voice is unavailable, a capture is already
// live, or a send is in flight. While a stop is still settling it only
// records the intent; the restart happens on end.
func (c *RecognitionController) Start() {
	if !c.available || c.host.Sending() {
		return
	}
	switch c.status {
	case domain.RecognitionListening:
		return
	case domain.RecognitionStopping:
		c.shouldRestart = true
		c.publish()
		return
	}

	c.cancelPendingRestart()
	c.shouldRestart = true
	c.liveTranscript = ""
	c.lastError = ""
	c.generation++

	listener := &captureListener{controller: c, generation: c.generation}
	if err := c.recognizer.Start(context.Background(), listener); err != nil {
		c.log.WithError(err).Warn("unable to start speech capture")
		c.lastError = domain.CaptureStartFailedMessage
		c.transition(eventStartFailed)
		c.events.SessionError(domain.ErrorCodeCaptureStart, err.Error())
		c.publish()
		return
	}
	c.transition(eventStart)
	c.publish()
}

// Stop ends listening and cancels any pending restart.
func (c *RecognitionController) Stop() {
	c.shouldRestart = false
	c.cancelPendingRestart()
	if c.status == domain.RecognitionListening {
		c.recognizer.Stop()
	}
	c.transition(eventStop)
	c.publish()
}

func (c *RecognitionController) handleResult(generation uint64, text string, final bool) {
	if generation != c.generation {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.lastError = ""

	if !final {
		c.liveTranscript = text
		c.transition(eventInterim)
		c.publish()
		return
	}

	normalized := c.finalizer.Finalize(text, c.host.ActiveFeature())
	c.liveTranscript = normalized
	c.transition(eventFinal)
	c.publish()
	if normalized != "" {
		c.host.SubmitTranscript(normalized)
	}
}

func (c *RecognitionController) handleError(generation uint64, err error) {
	if generation != c.generation {
		return
	}
	c.transition(eventError)
	c.lastError = domain.CaptureBlockedMessage
	c.log.WithError(err).Warn("speech capture error")
	c.events.SessionError(domain.ErrorCodeCaptureRuntime, err.Error())
	if c.restartEligible() {
		c.scheduleRestart()
	}
	c.publish()
}

func (c *RecognitionController) handleEnd(generation uint64) {
	if generation != c.generation {
		return
	}
	restart := c.restartEligible()
	c.transition(eventEnd)
	c.publish()
	if restart {
		c.Start()
	}
}

func (c *RecognitionController) restartEligible() bool {
	return c.shouldRestart && c.host.ListenEligible() && !c.host.Sending()
}

// scheduleRestart arms a single debounced restart.
func (c *RecognitionController) scheduleRestart() {
	if c.cancelRestart != nil {
		return
	}
	c.cancelRestart = c.exec.AfterFunc(c.cfg.RestartDelay, func() {
		c.cancelRestart = nil
		if c.host.ListenEligible() {
			c.Start()
		}
	})
}

func (c *RecognitionController) cancelPendingRestart() {
	if c.cancelRestart == nil {
		return
	}
	c.cancelRestart()
	c.cancelRestart = nil
}

func (c *RecognitionController) transition(event recognitionEvent) {
	next := nextRecognitionStatus(c.status, event)
	if next != c.status {
		c.log.WithFields(logrus.Fields{
			"from":  c.status,
			"to":    next,
			"event": event,
		}).Debug("recognition transition")
	}
	c.status = next
}

func (c *RecognitionController) publish() {
	c.events.RecognitionChanged(c.State())
}

// captureListener marshals recognizer callbacks of one capture onto the loop.
type captureListener struct {
	controller *RecognitionController
	generation uint64
}

func (l *captureListener) OnResult(text string, final bool) {
	l.controller.exec.Post(func() { l.controller.handleResult(l.generation, text, final) })
}

func (l *captureListener) OnError(err error) {
	l.controller.exec.Post(func() { l.controller.handleError(l.generation, err) })
}

func (l *captureListener) OnEnd() {
	l.controller.exec.Post(func() { l.controller.handleEnd(l.generation) })
}
