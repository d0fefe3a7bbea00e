package webhooks

import (
	"fmt"
)

// SlackMessage represents a Slack incoming-webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// TeamsMessage represents a Microsoft Teams MessageCard
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary,omitempty"`
	Title      string         `json:"title,omitempty"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

// TeamsSection represents a section in a Teams message
type TeamsSection struct {
	Facts []TeamsFact `json:"facts,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// TeamsFact represents a fact in a Teams section
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// detailFields are the event data keys shown in chat messages, in order
var detailFields = []struct{ key, label string }{
	{"title", "Title"},
	{"name", "Document"},
	{"customer_id", "Customer"},
	{"version", "Version"},
	{"change_note", "Note"},
	{"actor", "By"},
	{"slug", "Slug"},
}

func details(event *Event) [][2]string {
	var out [][2]string
	for _, f := range detailFields {
		v, ok := event.Data[f.key]
		if !ok || v == nil || v == "" {
			continue
		}
		out = append(out, [2]string{f.label, fmt.Sprint(v)})
	}
	return out
}

// FormatSlackMessage formats an event as a Slack message
func FormatSlackMessage(event *Event) SlackMessage {
	fields := []SlackField{
		{Title: "Event", Value: string(event.Type), Short: true},
		{Title: "Time", Value: event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"), Short: true},
	}
	for _, d := range details(event) {
		fields = append(fields, SlackField{Title: d[0], Value: d[1], Short: len(d[1]) < 40})
	}

	return SlackMessage{
		Attachments: []SlackAttachment{{
			Color:  eventColor(event.Type),
			Title:  eventTitle(event.Type),
			Fields: fields,
		}},
	}
}

// FormatTeamsMessage formats an event as a Microsoft Teams message
func FormatTeamsMessage(event *Event) TeamsMessage {
	title := eventTitle(event.Type)
	facts := []TeamsFact{
		{Name: "Event", Value: string(event.Type)},
		{Name: "Time", Value: event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")},
	}
	for _, d := range details(event) {
		facts = append(facts, TeamsFact{Name: d[0], Value: d[1]})
	}

	return TeamsMessage{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    title,
		Title:      title,
		ThemeColor: eventThemeColor(event.Type),
		Sections:   []TeamsSection{{Facts: facts}},
	}
}

func eventColor(t EventType) string {
	switch t {
	case EventPostPublished, EventDocumentUploaded, EventVersionAdded:
		return "good"
	case EventVersionDeleted:
		return "danger"
	case EventPermissionsUpdated:
		return "warning"
	default:
		return "#439FE0"
	}
}

func eventThemeColor(t EventType) string {
	switch t {
	case EventPostPublished, EventDocumentUploaded, EventVersionAdded:
		return "28a745"
	case EventVersionDeleted:
		return "dc3545"
	case EventPermissionsUpdated:
		return "ffc107"
	default:
		return "007bff"
	}
}

func eventTitle(t EventType) string {
	switch t {
	case EventPostPublished:
		return "Post Published"
	case EventDocumentUploaded:
		return "Document Uploaded"
	case EventVersionAdded:
		return "New Document Version"
	case EventVersionDeleted:
		return "Document Version Deleted"
	case EventPermissionsUpdated:
		return "Document Permissions Changed"
	default:
		return string(t)
	}
}
