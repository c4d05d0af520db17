package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
	"formcopilot/internal/session"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// fakeExecutor queues posted closures until the test runs them.
type fakeExecutor struct {
	tasks  chan func()
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{tasks: make(chan func(), 64)}
}

func (e *fakeExecutor) Post(fn func()) bool {
	e.tasks <- fn
	return true
}

func (e *fakeExecutor) AfterFunc(d time.Duration, fn func()) func() bool {
	timer := &fakeTimer{delay: d, fn: fn}
	e.mu.Lock()
	e.timers = append(e.timers, timer)
	e.mu.Unlock()
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if timer.fired || timer.cancelled {
			return false
		}
		timer.cancelled = true
		return true
	}
}

// runNext waits for one posted closure and runs it.
func (e *fakeExecutor) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-e.tasks:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatalf("no task was posted")
	}
}

// drain runs queued closures until none are left.
func (e *fakeExecutor) drain() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		default:
			return
		}
	}
}

func (e *fakeExecutor) pendingTimers() []*fakeTimer {
	e.mu.Lock()
	defer e.mu.Unlock()
	var pending []*fakeTimer
	for _, timer := range e.timers {
		if !timer.fired && !timer.cancelled {
			pending = append(pending, timer)
		}
	}
	return pending
}

// fireTimers runs every pending timer callback.
func (e *fakeExecutor) fireTimers() {
	for _, timer := range e.pendingTimers() {
		e.mu.Lock()
		timer.fired = true
		e.mu.Unlock()
		timer.fn()
	}
}

type fakeRecognizer struct {
	availableErr error
	startErr     error
	starts       int
	stops        int
	listeners    []ports.RecognitionListener
}

func (f *fakeRecognizer) Available() error { return f.availableErr }

func (f *fakeRecognizer) Start(_ context.Context, listener ports.RecognitionListener) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.listeners = append(f.listeners, listener)
	return nil
}

func (f *fakeRecognizer) Stop() { f.stops++ }

func (f *fakeRecognizer) last() ports.RecognitionListener {
	if len(f.listeners) == 0 {
		return nil
	}
	return f.listeners[len(f.listeners)-1]
}

type fakeTransport struct {
	mu       sync.Mutex
	requests []domain.ChatRequest
	features []domain.Feature
	response domain.ChatResponse
	err      error
}

func (f *fakeTransport) Send(_ context.Context, feature domain.Feature, req domain.ChatRequest) (domain.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.features = append(f.features, feature)
	return f.response, f.err
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) lastRequest() domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type sessionError struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu           sync.Mutex
	snapshots    []domain.Snapshot
	recognitions []domain.RecognitionState
	updates      []domain.FormUpdate
	submits      []domain.Feature
	errors       []sessionError
}

func (f *fakeEventSink) ConversationChanged(snapshot domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshot)
}

func (f *fakeEventSink) RecognitionChanged(state domain.RecognitionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recognitions = append(f.recognitions, state)
}

func (f *fakeEventSink) FormUpdated(update domain.FormUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeEventSink) FormSubmitted(feature domain.Feature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, feature)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, sessionError{code: code, detail: detail})
}

func (f *fakeEventSink) errorCodes() []domain.ErrorCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := make([]domain.ErrorCode, 0, len(f.errors))
	for _, e := range f.errors {
		codes = append(codes, e.code)
	}
	return codes
}

type fakeForms struct {
	values map[domain.Feature]domain.FormValues
}

func (f *fakeForms) CurrentForm(feature domain.Feature) domain.FormValues {
	return f.values[feature]
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
	err     error
}

func (f *fakeJournal) Record(_ context.Context, entry domain.JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeJournal) Turns(_ context.Context, feature domain.Feature, limit int) ([]domain.JournalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.JournalEntry
	for _, entry := range f.entries {
		if entry.Feature == feature {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(input string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return input, nil
}

var errTransport = errors.New("connection refused")

// harness wires an orchestrator and recognition controller over fakes.
type harness struct {
	exec       *fakeExecutor
	recognizer *fakeRecognizer
	transport  *fakeTransport
	events     *fakeEventSink
	forms      *fakeForms
	journal    *fakeJournal
	store      *session.Store
	orch       *Orchestrator
	voice      *RecognitionController
}

func newHarness(cfg OrchestratorConfig) *harness {
	return newHarnessWithRecognizer(cfg, &fakeRecognizer{})
}

func newHarnessWithRecognizer(cfg OrchestratorConfig, recognizer *fakeRecognizer) *harness {
	h := &harness{
		exec:       newFakeExecutor(),
		recognizer: recognizer,
		transport:  &fakeTransport{},
		events:     &fakeEventSink{},
		forms:      &fakeForms{values: map[domain.Feature]domain.FormValues{}},
		journal:    &fakeJournal{},
		store:      session.NewStore(domain.FeatureUserProfile),
	}
	h.orch = NewOrchestrator(h.store, h.transport, h.forms, h.events, h.journal, h.exec, cfg, testLogger())
	h.voice = NewRecognitionController(h.recognizer, nil, h.orch, h.exec, h.events, RecognitionConfig{RestartDelay: 500 * time.Millisecond}, testLogger())
	h.orch.AttachRecognition(h.voice)
	return h
}

func autoListenConfig() OrchestratorConfig {
	return OrchestratorConfig{AutoListen: true, SidebarOpen: true, RequestTimeout: time.Second}
}
