package domain

import (
	"fmt"
	"time"
)

// Feature identifies one of the form domains the assistant operates on.
type Feature string

const (
	FeatureUserProfile  Feature = "user-profile"
	FeatureSortingInput Feature = "sorting-input"
)

// Features lists every supported feature in display order.
func Features() []Feature {
	return []Feature{FeatureUserProfile, FeatureSortingInput}
}

// ParseFeature validates a feature key received from the UI.
func ParseFeature(value string) (Feature, error) {
	for _, feature := range Features() {
		if string(feature) == value {
			return feature, nil
		}
	}
	return "", fmt.Errorf("unknown feature %q", value)
}

// Role attributes a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatTurn is one message in a conversation.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FeatureSession is the conversation state kept per feature.
type FeatureSession struct {
	SessionID  string     `json:"sessionId"`
	LastAction string     `json:"lastAction"`
	History    []ChatTurn `json:"history"`
}

// Clone returns a copy that shares no history backing array.
func (s FeatureSession) Clone() FeatureSession {
	s.History = append([]ChatTurn(nil), s.History...)
	return s
}

// Actions interpreted by the assistant loop. Others are informational.
const (
	ActionRequestMoreInfo     = "request_more_info"
	ActionRequestConfirmation = "request_confirmation"
	ActionSubmitRequest       = "submit_request"
)

// Assistant texts shown in the conversation.
const (
	ProfileGreeting     = "Hello! I can help you fill out this form. Just tell me what to do."
	SortingGreeting     = "Hello! I can help you fill out this form. Just tell me what to do."
	CancelConfirmation  = "All set. I started a new session. What would you like to do next?"
	TransportApology    = "Sorry, I ran into an error. Please try again."
	SubmittedSuffix     = "\n\n✅ **[SUBMITTED]** Your request has been successfully submitted!"
	AwaitingConfirmText = "\n\n⏳ **[AWAITING CONFIRMATION]** Please confirm to proceed."
)

// Greeting returns the first assistant turn of a fresh session.
func Greeting(feature Feature) string {
	if feature == FeatureSortingInput {
		return SortingGreeting
	}
	return ProfileGreeting
}

// RecognitionStatus models the continuous listening lifecycle.
type RecognitionStatus string

const (
	RecognitionIdle      RecognitionStatus = "idle"
	RecognitionListening RecognitionStatus = "listening"
	RecognitionStopping  RecognitionStatus = "stopping"
)

// Messages recorded as the recognition error.
const (
	VoiceUnavailableMessage   = "Voice input is not supported on this device."
	CaptureStartFailedMessage = "Unable to start microphone. Check microphone permissions."
	CaptureBlockedMessage     = "Microphone access is blocked. Please enable it for this app."
)

// RecognitionState is the observable state of the speech controller.
type RecognitionState struct {
	Status         RecognitionStatus `json:"status"`
	IsListening    bool              `json:"isListening"`
	ShouldRestart  bool              `json:"shouldRestart"`
	LiveTranscript string            `json:"liveTranscript"`
	LastError      string            `json:"lastError,omitempty"`
	Available      bool              `json:"available"`
}

// Snapshot is the read model published after every orchestrator change.
type Snapshot struct {
	Feature      Feature          `json:"feature"`
	Session      FeatureSession   `json:"session"`
	IsSending    bool             `json:"isSending"`
	SidebarOpen  bool             `json:"sidebarOpen"`
	VoiceEnabled bool             `json:"voiceEnabled"`
	CanListen    bool             `json:"canListen"`
	Recognition  RecognitionState `json:"recognition"`
}

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup          ErrorCode = "startup"
	ErrorCodeVoiceUnavailable ErrorCode = "voice_unavailable"
	ErrorCodeCaptureStart     ErrorCode = "capture_start"
	ErrorCodeCaptureRuntime   ErrorCode = "capture_runtime"
	ErrorCodeTransport        ErrorCode = "transport"
	ErrorCodeJournal          ErrorCode = "journal"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// JournalEntry is one persisted conversation turn.
type JournalEntry struct {
	ID        string    `json:"id"`
	Feature   Feature   `json:"feature"`
	SessionID string    `json:"sessionId"`
	Turn      ChatTurn  `json:"turn"`
	CreatedAt time.Time `json:"createdAt"`
}
