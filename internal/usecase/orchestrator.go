package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
	"formcopilot/internal/session"
)

var ErrVoiceToggleDisabled = errors.New("voice toggle is not allowed")

const cancelCommand = "cancel"

// OrchestratorConfig holds the voice gating flags and transport limits.
type OrchestratorConfig struct {
	AutoListen         bool
	VoiceToggleAllowed bool
	VoiceEnabled       bool
	SidebarOpen        bool
	RequestTimeout     time.Duration
}

// Orchestrator runs the conversation: it owns the session store, dispatches
// chat turns and drives the recognition controller. It must only be used
// from the event loop.
type Orchestrator struct {
	sessions  *session.Store
	transport ports.ChatTransport
	forms     ports.FormReader
	events    ports.EventSink
	journal   ports.Journal
	exec      ports.Executor
	log       logrus.FieldLogger
	cfg       OrchestratorConfig
	voice     *RecognitionController

	sending      bool
	sidebarOpen  bool
	voiceEnabled bool
}

func NewOrchestrator(
	sessions *session.Store,
	transport ports.ChatTransport,
	forms ports.FormReader,
	events ports.EventSink,
	journal ports.Journal,
	exec ports.Executor,
	cfg OrchestratorConfig,
	log logrus.FieldLogger,
) *Orchestrator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Orchestrator{
		sessions:     sessions,
		transport:    transport,
		forms:        forms,
		events:       events,
		journal:      journal,
		exec:         exec,
		log:          log,
		cfg:          cfg,
		sidebarOpen:  cfg.SidebarOpen,
		voiceEnabled: cfg.VoiceEnabled,
	}
}

// AttachRecognition connects the speech controller. Without one the
// orchestrator is text only.
func (o *Orchestrator) AttachRecognition(voice *RecognitionController) {
	o.voice = voice
}

func (o *Orchestrator) ActiveFeature() domain.Feature {
	return o.sessions.Active()
}

func (o *Orchestrator) Sending() bool {
	return o.sending
}

// CanListen reports whether voice input is currently allowed at all.
func (o *Orchestrator) CanListen() bool {
	return o.cfg.AutoListen || (o.cfg.VoiceToggleAllowed && o.voiceEnabled)
}

func (o *Orchestrator) ListenEligible() bool {
	return o.sidebarOpen && o.CanListen()
}

func (o *Orchestrator) SubmitTranscript(text string) {
	o.Submit(text)
}

// Start publishes the initial state and arms the microphone.
func (o *Orchestrator) Start() {
	o.publish()
	o.startListening()
}

func (o *Orchestrator) Shutdown() {
	o.stopListening()
}

// Submit handles one user message, typed or spoken. It reports whether the
// message was accepted.
func (o *Orchestrator) Submit(text string) bool {
	message := strings.TrimSpace(text)
	if message == "" || o.sending {
		return false
	}
	feature := o.sessions.Active()

	if strings.EqualFold(message, cancelCommand) {
		o.appendTurn(feature, domain.RoleUser, message)
		o.resetFeature(feature)
		o.appendTurn(feature, domain.RoleAssistant, domain.CancelConfirmation)
		o.publish()
		return true
	}

	o.stopListening()
	o.sending = true
	o.appendTurn(feature, domain.RoleUser, message)

	current := o.sessions.Get(feature)
	req := domain.ChatRequest{
		Message:   message,
		History:   current.History,
		Form:      o.currentForm(feature),
		SessionID: current.SessionID,
	}
	o.publish()

	o.log.WithFields(logrus.Fields{
		"feature":    feature,
		"session_id": req.SessionID,
		"turns":      len(req.History),
	}).Debug("dispatching chat turn")

	go o.dispatch(feature, req)
	return true
}

func (o *Orchestrator) dispatch(feature domain.Feature, req domain.ChatRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestTimeout)
	defer cancel()
	resp, err := o.transport.Send(ctx, feature, req)
	if !o.exec.Post(func() { o.complete(feature, resp, err) }) {
		o.log.WithField("feature", feature).Warn("chat response dropped; event loop stopped")
	}
}

func (o *Orchestrator) complete(feature domain.Feature, resp domain.ChatResponse, err error) {
	if err != nil {
		o.log.WithError(err).WithField("feature", feature).Warn("chat turn failed")
		o.appendTurn(feature, domain.RoleAssistant, domain.TransportApology)
		o.events.SessionError(domain.ErrorCodeTransport, err.Error())
	} else {
		o.applyResponse(feature, resp)
	}
	o.sending = false
	o.publish()
	o.startListening()
}

func (o *Orchestrator) applyResponse(feature domain.Feature, resp domain.ChatResponse) {
	content := resp.Message
	switch resp.Action {
	case domain.ActionSubmitRequest:
		content += domain.SubmittedSuffix
	case domain.ActionRequestConfirmation:
		content += domain.AwaitingConfirmText
	}
	o.appendTurn(feature, domain.RoleAssistant, content)

	values := resp.Form
	if values == nil || values.Feature() != feature {
		values = domain.EmptyForm(feature)
	}
	o.events.FormUpdated(domain.FormUpdate{Feature: feature, Values: values})
	if resp.Action == domain.ActionSubmitRequest {
		o.events.FormSubmitted(feature)
	}

	history := o.sessions.Get(feature).History
	if err := o.sessions.Update(feature, resp.SessionID, resp.Action, history); err != nil {
		o.log.WithError(err).Error("unable to persist session")
	}
	o.log.WithFields(logrus.Fields{
		"feature":        feature,
		"action":         resp.Action,
		"missing_fields": resp.MissingFields,
	}).Info("chat turn applied")
}

// SwitchFeature swaps the active session; neither history is cleared.
func (o *Orchestrator) SwitchFeature(feature domain.Feature) error {
	if err := o.sessions.SetActive(feature); err != nil {
		return err
	}
	o.publish()
	return nil
}

// Reset starts the active feature over. An in-flight request is not
// aborted.
func (o *Orchestrator) Reset() {
	o.resetFeature(o.sessions.Active())
	o.publish()
}

func (o *Orchestrator) resetFeature(feature domain.Feature) {
	o.stopListening()
	if err := o.sessions.Reset(feature); err != nil {
		o.log.WithError(err).Error("unable to reset session")
	}
	o.events.FormUpdated(domain.FormUpdate{Feature: feature, Values: domain.EmptyForm(feature)})
	o.startListening()
}

func (o *Orchestrator) SetSidebarOpen(open bool) {
	if o.sidebarOpen == open {
		return
	}
	o.sidebarOpen = open
	if open {
		o.startListening()
	} else {
		o.stopListening()
	}
	o.publish()
}

// SetVoiceEnabled flips the manual voice toggle.
func (o *Orchestrator) SetVoiceEnabled(enabled bool) error {
	if !o.cfg.VoiceToggleAllowed {
		return ErrVoiceToggleDisabled
	}
	o.voiceEnabled = enabled
	if o.CanListen() {
		o.startListening()
	} else {
		o.stopListening()
	}
	o.publish()
	return nil
}

func (o *Orchestrator) Snapshot() domain.Snapshot {
	snapshot := domain.Snapshot{
		Feature:      o.sessions.Active(),
		Session:      o.sessions.Current(),
		IsSending:    o.sending,
		SidebarOpen:  o.sidebarOpen,
		VoiceEnabled: o.voiceEnabled,
		CanListen:    o.CanListen(),
	}
	if o.voice != nil {
		snapshot.Recognition = o.voice.State()
	}
	return snapshot
}

func (o *Orchestrator) startListening() {
	if o.voice == nil || o.sending || !o.ListenEligible() {
		return
	}
	o.voice.Start()
}

func (o *Orchestrator) stopListening() {
	if o.voice == nil {
		return
	}
	o.voice.Stop()
}

func (o *Orchestrator) currentForm(feature domain.Feature) domain.FormValues {
	if o.forms == nil {
		return domain.EmptyForm(feature)
	}
	values := o.forms.CurrentForm(feature)
	if values == nil {
		return domain.EmptyForm(feature)
	}
	return values
}

func (o *Orchestrator) appendTurn(feature domain.Feature, role domain.Role, content string) {
	turn := domain.ChatTurn{Role: role, Content: content}
	if err := o.sessions.Append(feature, turn); err != nil {
		o.log.WithError(err).Error("unable to append turn")
		return
	}
	o.record(feature, turn)
}

func (o *Orchestrator) record(feature domain.Feature, turn domain.ChatTurn) {
	if o.journal == nil {
		return
	}
	entry := domain.JournalEntry{
		ID:        uuid.NewString(),
		Feature:   feature,
		SessionID: o.sessions.Get(feature).SessionID,
		Turn:      turn,
		CreatedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := o.journal.Record(ctx, entry); err != nil {
		o.log.WithError(err).Warn("unable to journal turn")
		o.events.SessionError(domain.ErrorCodeJournal, err.Error())
	}
}

func (o *Orchestrator) publish() {
	o.events.ConversationChanged(o.Snapshot())
}
