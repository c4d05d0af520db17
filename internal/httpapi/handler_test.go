package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formcopilot/internal/domain"
	"formcopilot/internal/form"
	"formcopilot/internal/storage"
	"formcopilot/internal/usecase"
)

type fakeCopilot struct {
	snapshot  domain.Snapshot
	accept    bool
	sent      []string
	resets    int
	voiceErr  error
	callErr   error
	switchErr error
}

func (f *fakeCopilot) Send(text string) (bool, error) {
	if f.callErr != nil {
		return false, f.callErr
	}
	f.sent = append(f.sent, text)
	return f.accept, nil
}

func (f *fakeCopilot) SwitchFeature(feature domain.Feature) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.snapshot.Feature = feature
	return nil
}

func (f *fakeCopilot) Reset() error {
	f.resets++
	return f.callErr
}

func (f *fakeCopilot) SetSidebarOpen(open bool) error {
	f.snapshot.SidebarOpen = open
	return f.callErr
}

func (f *fakeCopilot) SetVoiceEnabled(enabled bool) error {
	if f.voiceErr != nil {
		return f.voiceErr
	}
	f.snapshot.VoiceEnabled = enabled
	return nil
}

func (f *fakeCopilot) Snapshot() (domain.Snapshot, error) {
	return f.snapshot, f.callErr
}

type testAPI struct {
	copilot *fakeCopilot
	forms   *form.Store
	journal *storage.SQLiteJournal
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger, _ := test.NewNullLogger()
	journal, err := storage.OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	api := &testAPI{
		copilot: &fakeCopilot{accept: true, snapshot: domain.Snapshot{Feature: domain.FeatureUserProfile}},
		forms:   form.NewStore(logger),
		journal: journal,
	}
	api.handler = NewServer(NewHandler(api.copilot, api.forms, journal), logger)
	return api
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := newTestAPI(t).do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPostMessage(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/messages", `{"message":"my name is Ann"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"my name is Ann"}, api.copilot.sent)
	assert.Equal(t, domain.FeatureUserProfile, decode[domain.Snapshot](t, rec).Feature)

	rec = api.do(http.MethodPost, "/api/messages", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.copilot.accept = false
	rec = api.do(http.MethodPost, "/api/messages", `{"message":"again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPostFeature(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/feature", `{"feature":"sorting-input"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.FeatureSortingInput, decode[domain.Snapshot](t, rec).Feature)

	rec = api.do(http.MethodPost, "/api/feature", `{"feature":"billing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostResetAndSidebar(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/reset", "").Code)
	assert.Equal(t, 1, api.copilot.resets)

	rec := api.do(http.MethodPost, "/api/sidebar", `{"open":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Snapshot](t, rec).SidebarOpen)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/sidebar", `{}`).Code)
}

func TestPostVoice(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/voice", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Snapshot](t, rec).VoiceEnabled)

	api.copilot.voiceErr = usecase.ErrVoiceToggleDisabled
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/api/voice", `{"enabled":false}`).Code)
}

func TestStoppedCopilotIsUnavailable(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	api.copilot.callErr = errors.New("event loop stopped")

	assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodGet, "/api/state", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodPost, "/api/messages", `{"message":"hi"}`).Code)
}

func TestFormsRoundTrip(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	rec := api.do(http.MethodPut, "/api/forms/sorting-input", `{"sorterId":"SR42","tagSerialNo":"TX99"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.SortingInput{SorterID: "SR42", TagSerialNo: "TX99"}, api.forms.CurrentForm(domain.FeatureSortingInput))

	rec = api.do(http.MethodGet, "/api/forms/sorting-input", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"feature":"sorting-input","values":{"sorterId":"SR42","tagSerialNo":"TX99","isComplete":false}}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/forms/billing", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/api/forms/user-profile", `{"fullName":`).Code)
}

func TestGetJournal(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	for i, content := range []string{"hello", "Hi there"} {
		require.NoError(t, api.journal.Record(context.Background(), domain.JournalEntry{
			ID:        string(rune('a' + i)),
			Feature:   domain.FeatureUserProfile,
			Turn:      domain.ChatTurn{Role: domain.RoleUser, Content: content},
			CreatedAt: time.Now(),
		}))
	}

	rec := api.do(http.MethodGet, "/api/journal?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Feature domain.Feature        `json:"feature"`
		Turns   []domain.JournalEntry `json:"turns"`
	}](t, rec)
	assert.Equal(t, domain.FeatureUserProfile, body.Feature)
	require.Len(t, body.Turns, 1)
	assert.Equal(t, "Hi there", body.Turns[0].Turn.Content)

	rec = api.do(http.MethodGet, "/api/journal?feature=sorting-input", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"feature":"sorting-input","turns":[]}`, rec.Body.String())
}

func TestJournalDisabled(t *testing.T) {
	t.Parallel()

	logger, _ := test.NewNullLogger()
	server := NewServer(NewHandler(&fakeCopilot{}, form.NewStore(logger), nil), logger)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
