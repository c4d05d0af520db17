package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"formcopilot/internal/bootstrap"
	"formcopilot/internal/domain"
)

const (
	eventConversation = "formcopilot:conversation"
	eventRecognition  = "formcopilot:recognition"
	eventFormUpdate   = "formcopilot:form-update"
	eventFormSubmit   = "formcopilot:form-submit"
	eventError        = "formcopilot:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	if err := services.Start(); err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = &services
}

func (a *App) shutdown(ctx context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Close(ctx); err != nil {
		a.services.Logger.WithError(err).Warn("shutdown incomplete")
	}
}

// SendMessage submits a typed message. It returns false while a previous
// message is still in flight.
func (a *App) SendMessage(text string) (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.services.Copilot.Send(text)
}

// SwitchFeature makes another form the conversation target.
func (a *App) SwitchFeature(feature string) (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	parsed, err := domain.ParseFeature(feature)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := a.services.Copilot.SwitchFeature(parsed); err != nil {
		return domain.Snapshot{}, err
	}
	return a.services.Copilot.Snapshot()
}

// ResetSession starts the active feature over.
func (a *App) ResetSession() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	if err := a.services.Copilot.Reset(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.services.Copilot.Snapshot()
}

func (a *App) SetSidebarOpen(open bool) (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	if err := a.services.Copilot.SetSidebarOpen(open); err != nil {
		return domain.Snapshot{}, err
	}
	return a.services.Copilot.Snapshot()
}

func (a *App) SetVoiceEnabled(enabled bool) (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	if err := a.services.Copilot.SetVoiceEnabled(enabled); err != nil {
		return domain.Snapshot{}, err
	}
	return a.services.Copilot.Snapshot()
}

// GetState returns the current conversation snapshot.
func (a *App) GetState() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.services.Copilot.Snapshot()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	agent := cfg.Agent.BaseURL
	if cfg.Agent.Mode != "" {
		agent = cfg.Agent.Mode
	}
	journal := cfg.Journal.Path
	if !cfg.JournalEnabled() {
		journal = "off"
	}
	return map[string]string{
		"agent":            agent,
		"provider":         "Deepgram",
		"model":            cfg.Deepgram.Model,
		"language":         cfg.Deepgram.Language,
		"rulesFile":        cfg.Rules.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"journal":          journal,
		"httpAddr":         cfg.HTTP.Addr,
	}
}

// ServeHTTP answers asset server misses with the local API.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := a.requireReady(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	a.services.HTTP.ServeHTTP(w, r)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ConversationChanged emits the conversation snapshot to the frontend.
func (a *App) ConversationChanged(snapshot domain.Snapshot) {
	a.emit(eventConversation, snapshot)
}

// RecognitionChanged emits listening state and the live transcript.
func (a *App) RecognitionChanged(state domain.RecognitionState) {
	a.emit(eventRecognition, state)
}

func (a *App) FormUpdated(update domain.FormUpdate) {
	a.emit(eventFormUpdate, update)
}

func (a *App) FormSubmitted(feature domain.Feature) {
	a.emit(eventFormSubmit, map[string]string{"feature": string(feature)})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeVoiceUnavailable:
		return domain.VoiceUnavailableMessage
	case domain.ErrorCodeCaptureStart:
		return domain.CaptureStartFailedMessage
	case domain.ErrorCodeCaptureRuntime:
		return "Speech recognition error"
	case domain.ErrorCodeTransport:
		return "Assistant unavailable"
	case domain.ErrorCodeJournal:
		return "Conversation history could not be saved"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
