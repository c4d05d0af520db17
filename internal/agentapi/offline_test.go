package agentapi

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formcopilot/internal/domain"
)

func newTestOfflineAgent() *OfflineAgent {
	logger, _ := test.NewNullLogger()
	return NewOfflineAgent(logger)
}

func TestOfflineAgentProfileConversation(t *testing.T) {
	t.Parallel()

	agent := newTestOfflineAgent()
	ctx := context.Background()

	first, err := agent.Send(ctx, domain.FeatureUserProfile, domain.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, domain.ActionRequestMoreInfo, first.Action)
	assert.Equal(t, []string{"full_name", "email", "bio"}, first.MissingFields)
	assert.Equal(t, "Hello! I can help with your profile. May I have the following details: name, email address, short bio?", first.Message)

	second, err := agent.Send(ctx, domain.FeatureUserProfile, domain.ChatRequest{
		Message:   "my name is Ann Lee",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, domain.UserProfile{FullName: "Ann Lee"}, second.Form)
	assert.Equal(t, []string{"email", "bio"}, second.MissingFields)

	third, err := agent.Send(ctx, domain.FeatureUserProfile, domain.ChatRequest{
		Message:   "email is ann@example.com",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bio"}, third.MissingFields)

	fourth, err := agent.Send(ctx, domain.FeatureUserProfile, domain.ChatRequest{
		Message:   "bio is I build sorters",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRequestConfirmation, fourth.Action)
	assert.True(t, fourth.IsComplete)
	assert.Empty(t, fourth.MissingFields)
	assert.Contains(t, fourth.Message, "• Email address: ann@example.com")
	assert.Equal(t, domain.UserProfile{FullName: "Ann Lee", Email: "ann@example.com", Bio: "I build sorters", IsComplete: true}, fourth.Form)

	fifth, err := agent.Send(ctx, domain.FeatureUserProfile, domain.ChatRequest{
		Message:   "Go ahead",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSubmitRequest, fifth.Action)
	assert.Equal(t, "Great, I will submit your request now.", fifth.Message)
}

func TestOfflineAgentMergesFormFromRequest(t *testing.T) {
	t.Parallel()

	agent := newTestOfflineAgent()
	resp, err := agent.Send(context.Background(), domain.FeatureSortingInput, domain.ChatRequest{
		Message: "tag serial no : TX99",
		Form:    domain.SortingInput{SorterID: "SR42"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ActionRequestConfirmation, resp.Action)
	assert.Equal(t, domain.SortingInput{SorterID: "SR42", TagSerialNo: "TX99", IsComplete: true}, resp.Form)
	assert.Contains(t, resp.Message, "I updated your Tag Serial No.")
}

func TestOfflineAgentAcceptsCollapsedConfirmation(t *testing.T) {
	t.Parallel()

	agent := newTestOfflineAgent()
	resp, err := agent.Send(context.Background(), domain.FeatureSortingInput, domain.ChatRequest{
		Message: "pleasesubmit",
		Form:    domain.SortingInput{SorterID: "SR42", TagSerialNo: "TX99"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSubmitRequest, resp.Action)
}

func TestOfflineAgentConfirmationRequiresCompleteForm(t *testing.T) {
	t.Parallel()

	agent := newTestOfflineAgent()
	resp, err := agent.Send(context.Background(), domain.FeatureSortingInput, domain.ChatRequest{
		Message: "yes",
		Form:    domain.SortingInput{SorterID: "SR42"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRequestMoreInfo, resp.Action)
	assert.Equal(t, []string{"tag_serial_no"}, resp.MissingFields)
	assert.False(t, resp.IsComplete)
}

func TestOfflineAgentSortingExtractors(t *testing.T) {
	t.Parallel()

	cases := map[string]domain.SortingInput{
		"sorter id is SR42":           {SorterID: "SR42"},
		"set sorter id to S-7":        {SorterID: "S-7"},
		"sorterid: AB1":               {SorterID: "AB1"},
		"tag serial number is TX-100": {TagSerialNo: "TX-100"},
		"change tag serial to Z9":     {TagSerialNo: "Z9"},
	}
	for message, want := range cases {
		fields, invalid := extractValues(sortingFields, message)
		assert.Empty(t, invalid, message)
		got := valuesToForm(domain.FeatureSortingInput, fields, false)
		assert.Equal(t, want, got, message)
	}
}

func TestOfflineAgentRejectsUnknownFeature(t *testing.T) {
	t.Parallel()

	_, err := newTestOfflineAgent().Send(context.Background(), "billing", domain.ChatRequest{Message: "hi"})
	assert.ErrorContains(t, err, "unsupported feature")
}

func TestOfflineAgentHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestOfflineAgent().Send(ctx, domain.FeatureUserProfile, domain.ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}
