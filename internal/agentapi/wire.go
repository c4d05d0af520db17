package agentapi

import (
	"fmt"

	"formcopilot/internal/domain"
)

type wireTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// profilePayload and sortingPayload are the snake_case forms the backend
// speaks. Absent or null fields decode to "" and false.
type profilePayload struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Bio        string `json:"bio"`
	IsComplete bool   `json:"is_complete"`
}

type sortingPayload struct {
	SorterID    string `json:"sorter_id"`
	TagSerialNo string `json:"tag_serial_no"`
	IsComplete  bool   `json:"is_complete"`
}

type profileChatRequest struct {
	Message   string         `json:"message"`
	History   []wireTurn     `json:"history"`
	Profile   profilePayload `json:"profile"`
	SessionID string         `json:"session_id,omitempty"`
}

type sortingChatRequest struct {
	Message   string         `json:"message"`
	History   []wireTurn     `json:"history"`
	Sorting   sortingPayload `json:"sorting"`
	SessionID string         `json:"session_id,omitempty"`
}

type profileChatResponse struct {
	Message       string         `json:"message"`
	Action        string         `json:"action"`
	MissingFields []string       `json:"missing_fields"`
	Profile       profilePayload `json:"profile"`
	IsComplete    bool           `json:"is_complete"`
	SessionID     string         `json:"session_id"`
}

type sortingChatResponse struct {
	Message       string         `json:"message"`
	Action        string         `json:"action"`
	MissingFields []string       `json:"missing_fields"`
	Sorting       sortingPayload `json:"sorting"`
	IsComplete    bool           `json:"is_complete"`
	SessionID     string         `json:"session_id"`
}

func toWireHistory(history []domain.ChatTurn) []wireTurn {
	turns := make([]wireTurn, 0, len(history))
	for _, turn := range history {
		turns = append(turns, wireTurn{Role: string(turn.Role), Content: turn.Content})
	}
	return turns
}

func toProfilePayload(values domain.FormValues) profilePayload {
	profile, _ := values.(domain.UserProfile)
	return profilePayload{
		FullName:   profile.FullName,
		Email:      profile.Email,
		Bio:        profile.Bio,
		IsComplete: profile.IsComplete,
	}
}

func (p profilePayload) toDomain() domain.UserProfile {
	return domain.UserProfile{
		FullName:   p.FullName,
		Email:      p.Email,
		Bio:        p.Bio,
		IsComplete: p.IsComplete,
	}
}

func toSortingPayload(values domain.FormValues) sortingPayload {
	sorting, _ := values.(domain.SortingInput)
	return sortingPayload{
		SorterID:    sorting.SorterID,
		TagSerialNo: sorting.TagSerialNo,
		IsComplete:  sorting.IsComplete,
	}
}

func (p sortingPayload) toDomain() domain.SortingInput {
	return domain.SortingInput{
		SorterID:    p.SorterID,
		TagSerialNo: p.TagSerialNo,
		IsComplete:  p.IsComplete,
	}
}

// encodeRequest maps a chat request onto the feature's wire body.
func encodeRequest(feature domain.Feature, req domain.ChatRequest) (any, error) {
	switch feature {
	case domain.FeatureUserProfile:
		return profileChatRequest{
			Message:   req.Message,
			History:   toWireHistory(req.History),
			Profile:   toProfilePayload(req.Form),
			SessionID: req.SessionID,
		}, nil
	case domain.FeatureSortingInput:
		return sortingChatRequest{
			Message:   req.Message,
			History:   toWireHistory(req.History),
			Sorting:   toSortingPayload(req.Form),
			SessionID: req.SessionID,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported feature %q", feature)
	}
}

func (r profileChatResponse) toDomain() domain.ChatResponse {
	return domain.ChatResponse{
		Message:       r.Message,
		Action:        r.Action,
		MissingFields: r.MissingFields,
		Form:          r.Profile.toDomain(),
		IsComplete:    r.IsComplete,
		SessionID:     r.SessionID,
	}
}

func (r sortingChatResponse) toDomain() domain.ChatResponse {
	return domain.ChatResponse{
		Message:       r.Message,
		Action:        r.Action,
		MissingFields: r.MissingFields,
		Form:          r.Sorting.toDomain(),
		IsComplete:    r.IsComplete,
		SessionID:     r.SessionID,
	}
}

func chatPath(feature domain.Feature) string {
	if feature == domain.FeatureSortingInput {
		return "/chat/sorting"
	}
	return "/chat/profile"
}
