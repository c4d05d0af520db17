package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"formcopilot/internal/agentapi"
	"formcopilot/internal/audio"
	"formcopilot/internal/config"
	"formcopilot/internal/domain"
	"formcopilot/internal/eventloop"
	"formcopilot/internal/events"
	"formcopilot/internal/form"
	"formcopilot/internal/httpapi"
	"formcopilot/internal/logging"
	"formcopilot/internal/normalize"
	"formcopilot/internal/ports"
	"formcopilot/internal/providers/deepgram"
	"formcopilot/internal/session"
	"formcopilot/internal/speech"
	"formcopilot/internal/storage"
	"formcopilot/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config  config.Config
	Logger  *logrus.Logger
	Copilot *usecase.Copilot
	Forms   *form.Store
	Bus     *events.Bus
	HTTP    *echo.Echo

	loop    *eventloop.Loop
	journal *storage.SQLiteJournal
}

// Build wires all backend dependencies for the current runtime. Every sink
// receives all copilot events.
func Build(sinks ...ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return Services{}, err
	}
	if cfg.File != "" {
		logger.WithField("file", cfg.File).Debug("config file applied")
	}

	vocabulary, err := normalize.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	bus := events.NewBus()
	forms := form.NewStore(logging.Component(logger, "form"))
	if err := forms.Subscribe(bus); err != nil {
		return Services{}, err
	}
	for _, sink := range sinks {
		if err := bus.Attach(sink); err != nil {
			return Services{}, err
		}
	}

	var (
		journal     *storage.SQLiteJournal
		journalPort ports.Journal
	)
	if cfg.JournalEnabled() {
		journal, err = storage.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return Services{}, err
		}
		journalPort = journal
	}

	loop := eventloop.New(128, logging.Component(logger, "eventloop"))

	orchestrator := usecase.NewOrchestrator(
		session.NewStore(domain.FeatureUserProfile),
		agentapi.NewTransport(cfg.Agent.Mode, cfg.Agent.BaseURL, cfg.Agent.Timeout, logging.Component(logger, "agentapi")),
		forms,
		bus,
		journalPort,
		loop,
		usecase.OrchestratorConfig{
			AutoListen:         cfg.Session.AutoListen,
			VoiceToggleAllowed: cfg.Session.VoiceToggleAllowed,
			VoiceEnabled:       cfg.Session.VoiceEnabled,
			SidebarOpen:        cfg.Session.SidebarOpen,
			RequestTimeout:     cfg.Agent.Timeout,
		},
		logging.Component(logger, "orchestrator"),
	)

	recognizer := speech.NewRecognizer(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logging.Component(logger, "audio")),
		deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}, logging.Component(logger, "deepgram")),
		speech.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
				Endpointing:    cfg.Deepgram.Endpointing,
			},
			ChunkSize: cfg.Audio.ChunkSize,
		},
		logging.Component(logger, "speech"),
	)

	orchestrator.AttachRecognition(usecase.NewRecognitionController(
		recognizer,
		vocabulary,
		orchestrator,
		loop,
		bus,
		usecase.RecognitionConfig{RestartDelay: cfg.Session.RestartDelay},
		logging.Component(logger, "recognition"),
	))

	copilot := usecase.NewCopilot(loop, orchestrator)
	server := httpapi.NewServer(
		httpapi.NewHandler(copilot, forms, journalPort),
		logging.Component(logger, "http"),
	)

	return Services{
		Config:  cfg,
		Logger:  logger,
		Copilot: copilot,
		Forms:   forms,
		Bus:     bus,
		HTTP:    server,
		loop:    loop,
		journal: journal,
	}, nil
}

// Start runs the event loop, publishes the first state and, when an address
// is configured, serves the HTTP API.
func (s Services) Start() error {
	s.loop.Start()
	if err := s.Copilot.Start(); err != nil {
		return fmt.Errorf("failed to start copilot: %w", err)
	}

	if addr := s.Config.HTTP.Addr; addr != "" {
		go func() {
			s.Logger.WithField("addr", addr).Info("serving http api")
			if err := s.HTTP.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.WithError(err).Error("http api stopped")
			}
		}()
	}
	return nil
}

// Close stops listening, drains the loop and releases storage.
func (s Services) Close(ctx context.Context) error {
	var errs []error

	if err := s.Copilot.Shutdown(); err != nil && !errors.Is(err, eventloop.ErrStopped) {
		errs = append(errs, err)
	}
	s.loop.Stop()

	if s.Config.HTTP.Addr != "" {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.HTTP.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http api: %w", err))
		}
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
