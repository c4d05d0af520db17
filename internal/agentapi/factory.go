package agentapi

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/ports"
)

// ModeMock selects the offline agent.
const ModeMock = "MOCK"

// NewTransport returns the offline agent when mode is MOCK and the HTTP
// client otherwise.
func NewTransport(mode, baseURL string, timeout time.Duration, log logrus.FieldLogger) ports.ChatTransport {
	if strings.EqualFold(strings.TrimSpace(mode), ModeMock) {
		log.Info("FORMCOPILOT_MODE=MOCK detected, using offline agent")
		return NewOfflineAgent(log)
	}
	return NewClient(baseURL, timeout, log)
}
