// Package session keeps the conversation state of every feature with one of
// them marked active. It is owned by the event loop and is not safe for
// concurrent use.
package session

import (
	"errors"
	"fmt"

	"formcopilot/internal/domain"
)

var ErrUnknownFeature = errors.New("unknown feature")

// Store maps each feature to its session plus an active pointer.
type Store struct {
	sessions map[domain.Feature]*domain.FeatureSession
	active   domain.Feature
}

// NewStore creates a greeted session for every feature.
func NewStore(active domain.Feature) *Store {
	s := &Store{sessions: make(map[domain.Feature]*domain.FeatureSession, len(domain.Features()))}
	for _, feature := range domain.Features() {
		s.sessions[feature] = freshSession(feature)
	}
	if _, ok := s.sessions[active]; !ok {
		active = domain.FeatureUserProfile
	}
	s.active = active
	return s
}

func freshSession(feature domain.Feature) *domain.FeatureSession {
	return &domain.FeatureSession{
		History: []domain.ChatTurn{{Role: domain.RoleAssistant, Content: domain.Greeting(feature)}},
	}
}

func (s *Store) Active() domain.Feature {
	return s.active
}

// SetActive swaps the active feature without clearing either session.
func (s *Store) SetActive(feature domain.Feature) error {
	if _, ok := s.sessions[feature]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	s.active = feature
	return nil
}

// Get returns a copy of the feature's session.
func (s *Store) Get(feature domain.Feature) domain.FeatureSession {
	session, ok := s.sessions[feature]
	if !ok {
		return domain.FeatureSession{}
	}
	return session.Clone()
}

func (s *Store) Current() domain.FeatureSession {
	return s.Get(s.active)
}

func (s *Store) Append(feature domain.Feature, turn domain.ChatTurn) error {
	session, ok := s.sessions[feature]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	session.History = append(session.History, turn)
	return nil
}

// Update replaces the feature's session wholesale.
func (s *Store) Update(feature domain.Feature, sessionID string, lastAction string, history []domain.ChatTurn) error {
	if _, ok := s.sessions[feature]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	s.sessions[feature] = &domain.FeatureSession{
		SessionID:  sessionID,
		LastAction: lastAction,
		History:    append([]domain.ChatTurn(nil), history...),
	}
	return nil
}

// Reset clears the session id and action and restores the greeting.
func (s *Store) Reset(feature domain.Feature) error {
	if _, ok := s.sessions[feature]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	s.sessions[feature] = freshSession(feature)
	return nil
}
