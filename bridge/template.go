package bridge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohitkumar/loanflow/model"
	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

var DefaultTemplates = map[model.EventKind]string{
	model.EVENT_TRANSITION_OCCURRED: "application {$.applicationId} moved from {$.fromStatus} to {$.toStatus} by {$.performedBy}",
	model.EVENT_SLA_BREACHED:        "application {$.applicationId} is overdue in {$.status}, escalated to {$.escalatedToRole} (level {$.escalationLevel})",
	model.EVENT_VOTE_CAST:           "{$.userId} voted {$.vote} on review {$.reviewId}",
	model.EVENT_REVIEW_DECIDED:      "review {$.reviewId} for application {$.applicationId} closed as {$.decision}",
}

// Templates renders the human readable message attached to a notification.
type Templates struct {
	templates map[model.EventKind]string
}

func NewTemplates(templates map[model.EventKind]string) *Templates {
	return &Templates{templates: templates}
}

// Render replaces every {$.path} token with the value found in payload.
// Tokens that do not resolve are left as they are.
func (t *Templates) Render(kind model.EventKind, payload map[string]any) string {
	tmpl, ok := t.templates[kind]
	if !ok {
		return string(kind)
	}
	data, err := normalize(payload)
	if err != nil {
		return tmpl
	}
	out := tmpl
	for _, token := range tokenPattern.FindAllString(tmpl, -1) {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, path)
		if err != nil || value == nil {
			continue
		}
		out = strings.ReplaceAll(out, token, fmt.Sprintf("%v", value))
	}
	return out
}

// normalize turns typed payload values into plain json values for path lookups.
func normalize(payload map[string]any) (map[string]any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
