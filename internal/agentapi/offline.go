package agentapi

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

// OfflineAgent is a rule-based stand-in for the agent backend. It keeps
// per-session memory, extracts field values with regular expressions and
// walks the user through confirmation and submission.
type OfflineAgent struct {
	mu       sync.Mutex
	sessions map[string]*offlineSession
	log      logrus.FieldLogger
}

var _ ports.ChatTransport = (*OfflineAgent)(nil)

type offlineSession struct {
	feature              domain.Feature
	values               map[string]string
	awaitingConfirmation bool
	history              []domain.ChatTurn
}

type fieldSpec struct {
	key         string
	prompt      string
	detail      string
	extract     []*regexp.Regexp
	fallback    *regexp.Regexp
	needsFormat *regexp.Regexp
}

const (
	emailPattern = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`
	namePattern  = `([A-Za-z][A-Za-z\s'-]{1,60})`
	codePattern  = `([A-Za-z0-9-]+)`
)

var (
	validEmail = regexp.MustCompile(`^` + emailPattern + `$`)

	profileFields = []fieldSpec{
		{
			key:    "full_name",
			prompt: "name",
			detail: "Name",
			extract: compileAll(
				`\bmy name is\s+`+namePattern,
				`\bi am\s+`+namePattern,
				`\bI'm\s+`+namePattern,
				`\b(?:full name|name)\s+is\s+`+namePattern,
				`\b(?:full name|name)\s*[:=]\s*`+namePattern,
				`\b(?:change|update|set)\s+(?:my\s+)?(?:full name|name)\s+to\s+`+namePattern,
			),
		},
		{
			key:    "email",
			prompt: "email address",
			detail: "Email address",
			extract: compileAll(
				`\bemail\s*[:=]\s*(`+emailPattern+`)`,
				`\bemail\s+is\s+(`+emailPattern+`)`,
				`\b(?:change|update|set)\s+(?:my\s+)?email\s+to\s+(`+emailPattern+`)`,
			),
			fallback:    regexp.MustCompile(`(` + emailPattern + `)`),
			needsFormat: validEmail,
		},
		{
			key:    "bio",
			prompt: "short bio",
			detail: "Short bio",
			extract: compileAll(
				`\bbio\s*[:=]\s*(.+)$`,
				`\bbio\s+is\s+(.+)$`,
				`\b(?:change|update|set)\s+(?:my\s+)?bio\s+to\s+(.+)$`,
			),
		},
	}

	sortingFields = []fieldSpec{
		{
			key:    "sorter_id",
			prompt: "Sorter ID",
			detail: "Sorter ID",
			extract: compileAll(
				`\bsorter\s*id\s*[:=]\s*`+codePattern,
				`\bsorter\s*id\s+is\s+`+codePattern,
				`\b(?:set|update|change)\s+sorter\s*id\s+to\s+`+codePattern,
			),
		},
		{
			key:    "tag_serial_no",
			prompt: "Tag Serial No.",
			detail: "Tag Serial No.",
			extract: compileAll(
				`\btag\s+serial\s*(?:no|number)?\s*[:=]\s*`+codePattern,
				`\btag\s+serial\s*(?:no|number)?\s+is\s+`+codePattern,
				`\b(?:set|update|change)\s+tag\s+serial\s*(?:no|number)?\s+to\s+`+codePattern,
			),
		},
	}

	greetings = map[string]bool{"hi": true, "hello": true, "hey": true, "hiya": true, "yo": true}

	// Keys have spaces removed; spoken input may arrive as "pleasesubmit".
	confirmations = map[string]bool{
		"yes": true, "yep": true, "yeah": true, "sure": true, "confirm": true,
		"submit": true, "submitnow": true, "pleasesubmit": true, "goahead": true,
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+pattern))
	}
	return compiled
}

func NewOfflineAgent(log logrus.FieldLogger) *OfflineAgent {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OfflineAgent{
		sessions: make(map[string]*offlineSession),
		log:      log,
	}
}

func (a *OfflineAgent) Send(ctx context.Context, feature domain.Feature, req domain.ChatRequest) (domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatResponse{}, err
	}
	fields, label, err := featureFields(feature)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	state, ok := a.sessions[sessionID]
	if !ok || state.feature != feature {
		state = &offlineSession{feature: feature, values: map[string]string{}}
		a.sessions[sessionID] = state
	}

	message := strings.TrimSpace(req.Message)
	base := mergeValues(state.values, formToValues(req.Form))
	extracted, invalid := extractValues(fields, message)
	merged := mergeValues(base, extracted)

	var updated []string
	for _, field := range fields {
		if extracted[field.key] != "" {
			updated = append(updated, field.key)
		}
	}
	missing := missingFields(fields, merged)
	complete := len(missing) == 0

	var reply, action string
	switch {
	case len(invalid) > 0:
		reply = "Thanks! That email address doesn't look quite right. Could you share a valid one (for example, name@example.com)?"
		action = domain.ActionRequestMoreInfo
		state.awaitingConfirmation = false
	case complete:
		reply = missingMessage(fields, label, missing, message, updated) + "\n\n" + formatDetails(fields, merged)
		action = domain.ActionRequestConfirmation
		state.awaitingConfirmation = true
	default:
		reply = missingMessage(fields, label, missing, message, updated)
		action = domain.ActionRequestMoreInfo
		state.awaitingConfirmation = false
	}
	if complete && isConfirmation(message) {
		reply = "Great, I will submit your request now."
		action = domain.ActionSubmitRequest
		state.awaitingConfirmation = false
	}

	state.values = merged
	state.history = append(state.history,
		domain.ChatTurn{Role: domain.RoleUser, Content: message},
		domain.ChatTurn{Role: domain.RoleAssistant, Content: reply},
	)

	a.log.WithFields(logrus.Fields{
		"feature":    feature,
		"session_id": sessionID,
		"action":     action,
		"missing":    missing,
	}).Debug("offline agent replied")

	return domain.ChatResponse{
		Message:       reply,
		Action:        action,
		MissingFields: missing,
		Form:          valuesToForm(feature, merged, complete),
		IsComplete:    complete,
		SessionID:     sessionID,
	}, nil
}

func featureFields(feature domain.Feature) ([]fieldSpec, string, error) {
	switch feature {
	case domain.FeatureUserProfile:
		return profileFields, "profile", nil
	case domain.FeatureSortingInput:
		return sortingFields, "sorting input", nil
	default:
		return nil, "", fmt.Errorf("unsupported feature %q", feature)
	}
}

// extractValues returns the values found in message plus the keys whose
// value was found but rejected.
func extractValues(fields []fieldSpec, message string) (map[string]string, []string) {
	values := make(map[string]string, len(fields))
	var invalid []string
	for _, field := range fields {
		value := extractField(field, message)
		if value == "" {
			continue
		}
		if field.needsFormat != nil && !field.needsFormat.MatchString(value) {
			invalid = append(invalid, field.key)
			continue
		}
		values[field.key] = value
	}
	return values, invalid
}

func extractField(field fieldSpec, message string) string {
	for _, re := range field.extract {
		if match := re.FindStringSubmatch(message); match != nil {
			return strings.TrimSpace(match[len(match)-1])
		}
	}
	if field.fallback != nil {
		if match := field.fallback.FindStringSubmatch(message); match != nil {
			return strings.TrimSpace(match[1])
		}
	}
	return ""
}

// mergeValues prefers non-blank updates over base values.
func mergeValues(base, updates map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(updates))
	for key, value := range base {
		if value = strings.TrimSpace(value); value != "" {
			merged[key] = value
		}
	}
	for key, value := range updates {
		if value = strings.TrimSpace(value); value != "" {
			merged[key] = value
		}
	}
	return merged
}

func missingFields(fields []fieldSpec, values map[string]string) []string {
	missing := []string{}
	for _, field := range fields {
		if values[field.key] == "" {
			missing = append(missing, field.key)
		}
	}
	return missing
}

func humanize(fields []fieldSpec, keys []string) string {
	labels := make([]string, 0, len(keys))
	for _, key := range keys {
		label := strings.ReplaceAll(key, "_", " ")
		for _, field := range fields {
			if field.key == key {
				label = field.prompt
			}
		}
		labels = append(labels, label)
	}
	return strings.Join(labels, ", ")
}

func missingMessage(fields []fieldSpec, label string, missing []string, message string, updated []string) string {
	note := ""
	if len(updated) > 0 {
		note = fmt.Sprintf("I updated your %s. ", humanize(fields, updated))
	}
	if len(missing) == 0 {
		return note + "Wonderful, everything looks complete. Would you like me to submit your request?"
	}
	ack := "Thanks for the note."
	if greetings[strings.ToLower(message)] {
		ack = "Hello!"
	}
	return fmt.Sprintf("%s %sI can help with your %s. May I have the following details: %s?",
		ack, note, label, humanize(fields, missing))
}

func formatDetails(fields []fieldSpec, values map[string]string) string {
	var lines []string
	for _, field := range fields {
		if value := values[field.key]; value != "" {
			lines = append(lines, fmt.Sprintf("• %s: %s", field.detail, value))
		}
	}
	if len(lines) == 0 {
		return "No details yet."
	}
	return strings.Join(lines, "\n")
}

func isConfirmation(message string) bool {
	key := strings.Join(strings.Fields(strings.ToLower(message)), "")
	return confirmations[key]
}

func formToValues(values domain.FormValues) map[string]string {
	switch form := values.(type) {
	case domain.UserProfile:
		return map[string]string{"full_name": form.FullName, "email": form.Email, "bio": form.Bio}
	case domain.SortingInput:
		return map[string]string{"sorter_id": form.SorterID, "tag_serial_no": form.TagSerialNo}
	default:
		return nil
	}
}

func valuesToForm(feature domain.Feature, values map[string]string, complete bool) domain.FormValues {
	if feature == domain.FeatureSortingInput {
		return domain.SortingInput{
			SorterID:    values["sorter_id"],
			TagSerialNo: values["tag_serial_no"],
			IsComplete:  complete,
		}
	}
	return domain.UserProfile{
		FullName:   values["full_name"],
		Email:      values["email"],
		Bio:        values["bio"],
		IsComplete: complete,
	}
}
