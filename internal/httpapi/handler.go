package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"formcopilot/internal/domain"
	"formcopilot/internal/form"
	"formcopilot/internal/ports"
	"formcopilot/internal/usecase"
)

// Copilot is the conversation surface the handlers drive.
type Copilot interface {
	Send(text string) (bool, error)
	SwitchFeature(feature domain.Feature) error
	Reset() error
	SetSidebarOpen(open bool) error
	SetVoiceEnabled(enabled bool) error
	Snapshot() (domain.Snapshot, error)
}

// Forms is the editable form model.
type Forms interface {
	Get(feature domain.Feature) (form.State, error)
	Edit(values domain.FormValues) error
}

// Handler serves the frontend API. journal may be nil when persistence is
// turned off.
type Handler struct {
	copilot Copilot
	forms   Forms
	journal ports.Journal
}

func NewHandler(copilot Copilot, forms Forms, journal ports.Journal) *Handler {
	return &Handler{copilot: copilot, forms: forms, journal: journal}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.GET("/state", h.GetState)
	api.POST("/messages", h.PostMessage)
	api.POST("/feature", h.PostFeature)
	api.POST("/reset", h.PostReset)
	api.POST("/sidebar", h.PostSidebar)
	api.POST("/voice", h.PostVoice)
	api.GET("/forms/:feature", h.GetForm)
	api.PUT("/forms/:feature", h.PutForm)
	api.GET("/journal", h.GetJournal)
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetState returns the conversation snapshot.
// GET /api/state
func (h *Handler) GetState(c echo.Context) error {
	return h.respondSnapshot(c, http.StatusOK)
}

type messageRequest struct {
	Message string `json:"message"`
}

// PostMessage submits a typed message.
// POST /api/messages
func (h *Handler) PostMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "message is required")
	}
	accepted, err := h.copilot.Send(req.Message)
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	if !accepted {
		return errorJSON(c, http.StatusConflict, "a message is already being sent")
	}
	return h.respondSnapshot(c, http.StatusAccepted)
}

type featureRequest struct {
	Feature string `json:"feature"`
}

// PostFeature switches the active feature.
// POST /api/feature
func (h *Handler) PostFeature(c echo.Context) error {
	var req featureRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	feature, err := domain.ParseFeature(req.Feature)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := h.copilot.SwitchFeature(feature); err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	return h.respondSnapshot(c, http.StatusOK)
}

// PostReset starts the active feature over.
// POST /api/reset
func (h *Handler) PostReset(c echo.Context) error {
	if err := h.copilot.Reset(); err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	return h.respondSnapshot(c, http.StatusOK)
}

type sidebarRequest struct {
	Open *bool `json:"open"`
}

// PostSidebar opens or closes the sidebar.
// POST /api/sidebar
func (h *Handler) PostSidebar(c echo.Context) error {
	var req sidebarRequest
	if err := c.Bind(&req); err != nil || req.Open == nil {
		return errorJSON(c, http.StatusBadRequest, "open is required")
	}
	if err := h.copilot.SetSidebarOpen(*req.Open); err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	return h.respondSnapshot(c, http.StatusOK)
}

type voiceRequest struct {
	Enabled *bool `json:"enabled"`
}

// PostVoice flips the manual voice toggle.
// POST /api/voice
func (h *Handler) PostVoice(c echo.Context) error {
	var req voiceRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return errorJSON(c, http.StatusBadRequest, "enabled is required")
	}
	if err := h.copilot.SetVoiceEnabled(*req.Enabled); err != nil {
		if errors.Is(err, usecase.ErrVoiceToggleDisabled) {
			return errorJSON(c, http.StatusForbidden, err.Error())
		}
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	return h.respondSnapshot(c, http.StatusOK)
}

// GetForm returns a feature's form values.
// GET /api/forms/:feature
func (h *Handler) GetForm(c echo.Context) error {
	feature, err := domain.ParseFeature(c.Param("feature"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, err.Error())
	}
	state, err := h.forms.Get(feature)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// PutForm stores values edited by the user.
// PUT /api/forms/:feature
func (h *Handler) PutForm(c echo.Context) error {
	feature, err := domain.ParseFeature(c.Param("feature"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, err.Error())
	}

	var values domain.FormValues
	decoder := json.NewDecoder(c.Request().Body)
	switch feature {
	case domain.FeatureSortingInput:
		var sorting domain.SortingInput
		err = decoder.Decode(&sorting)
		values = sorting
	default:
		var profile domain.UserProfile
		err = decoder.Decode(&profile)
		values = profile
	}
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid form body")
	}
	if err := h.forms.Edit(values); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	state, err := h.forms.Get(feature)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// GetJournal lists recorded turns of a feature.
// GET /api/journal?feature=user-profile&limit=50
func (h *Handler) GetJournal(c echo.Context) error {
	if h.journal == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "journal is disabled")
	}
	featureParam := c.QueryParam("feature")
	if featureParam == "" {
		snapshot, err := h.copilot.Snapshot()
		if err != nil {
			return errorJSON(c, http.StatusServiceUnavailable, err.Error())
		}
		featureParam = string(snapshot.Feature)
	}
	feature, err := domain.ParseFeature(featureParam)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	turns, err := h.journal.Turns(c.Request().Context(), feature, limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	if turns == nil {
		turns = []domain.JournalEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"feature": feature,
		"turns":   turns,
	})
}

func (h *Handler) respondSnapshot(c echo.Context, status int) error {
	snapshot, err := h.copilot.Snapshot()
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(status, snapshot)
}
