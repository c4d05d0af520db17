// Package form holds the editable form values the assistant fills in.
package form

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/events"
	"formcopilot/internal/ports"
)

// State is one feature's form plus its last submission time.
type State struct {
	Feature     domain.Feature    `json:"feature"`
	Values      domain.FormValues `json:"values"`
	SubmittedAt *time.Time        `json:"submittedAt,omitempty"`
}

// Store is safe for concurrent use. The orchestrator reads it from the
// event loop while the UI edits it from request goroutines.
type Store struct {
	mu        sync.RWMutex
	values    map[domain.Feature]domain.FormValues
	submitted map[domain.Feature]time.Time
	now       func() time.Time
	log       logrus.FieldLogger
}

var _ ports.FormReader = (*Store)(nil)

func NewStore(log logrus.FieldLogger) *Store {
	s := &Store{
		values:    make(map[domain.Feature]domain.FormValues, len(domain.Features())),
		submitted: make(map[domain.Feature]time.Time),
		now:       time.Now,
		log:       log,
	}
	for _, feature := range domain.Features() {
		s.values[feature] = domain.EmptyForm(feature)
	}
	return s
}

// Subscribe keeps the store in sync with assistant updates.
func (s *Store) Subscribe(bus *events.Bus) error {
	if err := bus.Subscribe(events.TopicFormUpdate, s.Apply); err != nil {
		return err
	}
	return bus.Subscribe(events.TopicFormSubmit, s.MarkSubmitted)
}

func (s *Store) CurrentForm(feature domain.Feature) domain.FormValues {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[feature]
}

func (s *Store) Get(feature domain.Feature) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.values[feature]
	if !ok {
		return State{}, fmt.Errorf("unknown feature %q", feature)
	}
	state := State{Feature: feature, Values: values}
	if at, ok := s.submitted[feature]; ok {
		state.SubmittedAt = &at
	}
	return state, nil
}

// Apply replaces the feature's values with an assistant proposal.
func (s *Store) Apply(update domain.FormUpdate) {
	values := update.Values
	if values == nil {
		values = domain.EmptyForm(update.Feature)
	}
	if values.Feature() != update.Feature {
		s.log.WithField("feature", update.Feature).Warn("ignoring form update for another feature")
		return
	}
	s.mu.Lock()
	s.values[update.Feature] = values
	s.mu.Unlock()
}

func (s *Store) MarkSubmitted(feature domain.Feature) {
	s.mu.Lock()
	s.submitted[feature] = s.now().UTC()
	s.mu.Unlock()
	s.log.WithField("feature", feature).Info("form submitted")
}

// Edit stores values typed by the user.
func (s *Store) Edit(values domain.FormValues) error {
	if values == nil {
		return fmt.Errorf("missing form values")
	}
	feature := values.Feature()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[feature]; !ok {
		return fmt.Errorf("unknown feature %q", feature)
	}
	s.values[feature] = values
	return nil
}
