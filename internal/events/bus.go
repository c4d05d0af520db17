// Package events fans orchestrator output out to the form store, the
// desktop shell and anything else that subscribes.
package events

import (
	"fmt"

	evbus "github.com/asaskevich/EventBus"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

const (
	TopicConversation = "copilot:conversation"
	TopicRecognition  = "copilot:recognition"
	TopicFormUpdate   = "copilot:form-update"
	TopicFormSubmit   = "copilot:form-submit"
	TopicError        = "copilot:error"
)

// Bus publishes synchronously, so subscribers observe events in the order
// they were raised.
type Bus struct {
	bus evbus.Bus
}

var _ ports.EventSink = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) ConversationChanged(snapshot domain.Snapshot) {
	b.bus.Publish(TopicConversation, snapshot)
}

func (b *Bus) RecognitionChanged(state domain.RecognitionState) {
	b.bus.Publish(TopicRecognition, state)
}

func (b *Bus) FormUpdated(update domain.FormUpdate) {
	b.bus.Publish(TopicFormUpdate, update)
}

func (b *Bus) FormSubmitted(feature domain.Feature) {
	b.bus.Publish(TopicFormSubmit, feature)
}

func (b *Bus) SessionError(code domain.ErrorCode, detail string) {
	b.bus.Publish(TopicError, code, detail)
}

// Subscribe registers fn on topic. fn must accept the topic's payload.
func (b *Bus) Subscribe(topic string, fn any) error {
	if err := b.bus.Subscribe(topic, fn); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Attach forwards every topic to sink.
func (b *Bus) Attach(sink ports.EventSink) error {
	subscriptions := []struct {
		topic string
		fn    any
	}{
		{TopicConversation, sink.ConversationChanged},
		{TopicRecognition, sink.RecognitionChanged},
		{TopicFormUpdate, sink.FormUpdated},
		{TopicFormSubmit, sink.FormSubmitted},
		{TopicError, sink.SessionError},
	}
	for _, sub := range subscriptions {
		if err := b.Subscribe(sub.topic, sub.fn); err != nil {
			return err
		}
	}
	return nil
}
