package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message. Fields other than role and content are kept
// in Extra and written back unchanged.
type Message struct {
	Role    string
	Content MessageContent

	Extra map[string]json.RawMessage
}

// GetContent returns the text content of the message, flattening
// multimodal content to its text parts.
func (m *Message) GetContent() string {
	return m.Content.String()
}

// SetText replaces the message content with plain text.
func (m *Message) SetText(text string) {
	m.Content = NewTextContent(text)
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	return joinFields(m.Extra, map[string]any{
		"role":    m.Role,
		"content": m.Content,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return err
	}
	var msg Message
	if err := takeField(fields, "role", &msg.Role); err != nil {
		return err
	}
	if err := takeField(fields, "content", &msg.Content); err != nil {
		return err
	}
	if len(fields) > 0 {
		msg.Extra = fields
	}
	*m = msg
	return nil
}

// LastMessageByRole scans messages from the end and returns the index of
// the most recent message with the given role. found is false when no
// message has that role.
func LastMessageByRole(messages []Message, role string) (index int, found bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return i, true
		}
	}
	return -1, false
}

// CurrentTimezoneVariable is the request variable carrying the client's timezone.
const CurrentTimezoneVariable = "{{CURRENT_TIMEZONE}}"

// InletMetadata is the metadata block of an inbound request body.
type InletMetadata struct {
	// MessageID is the exchange identity shared with the eventual response.
	MessageID string
	// Variables are host-provided template variables.
	Variables map[string]any

	Extra map[string]json.RawMessage
}

// Variable returns a string template variable, or "" when absent.
func (md *InletMetadata) Variable(name string) string {
	if md == nil || md.Variables == nil {
		return ""
	}
	s, _ := md.Variables[name].(string)
	return s
}

// MarshalJSON implements json.Marshaler.
func (md InletMetadata) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if md.MessageID != "" {
		known["message_id"] = md.MessageID
	}
	if md.Variables != nil {
		known["variables"] = md.Variables
	}
	return joinFields(md.Extra, known)
}

// UnmarshalJSON implements json.Unmarshaler.
func (md *InletMetadata) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return err
	}
	var out InletMetadata
	if err := takeField(fields, "message_id", &out.MessageID); err != nil {
		return err
	}
	if err := takeField(fields, "variables", &out.Variables); err != nil {
		return err
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*md = out
	return nil
}

// InletBody is a request on its way to the model.
type InletBody struct {
	Messages []Message
	Metadata *InletMetadata

	Extra map[string]json.RawMessage
}

// ExchangeID returns the correlation identity carried in the metadata.
func (b *InletBody) ExchangeID() string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata.MessageID
}

// Model returns the "model" field of the body, or "" when absent.
func (b *InletBody) Model() string {
	raw, ok := b.Extra["model"]
	if !ok {
		return ""
	}
	var model string
	if err := json.Unmarshal(raw, &model); err != nil {
		return ""
	}
	return model
}

// MarshalJSON implements json.Marshaler.
func (b InletBody) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if b.Messages != nil {
		known["messages"] = b.Messages
	}
	if b.Metadata != nil {
		known["metadata"] = b.Metadata
	}
	return joinFields(b.Extra, known)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *InletBody) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return err
	}
	var out InletBody
	if err := takeField(fields, "messages", &out.Messages); err != nil {
		return err
	}
	if err := takeField(fields, "metadata", &out.Metadata); err != nil {
		return err
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*b = out
	return nil
}

// OutletBody is a completed exchange on its way back to the client.
// Empty identifiers and a nil message slice mean "absent".
type OutletBody struct {
	ID             string
	SessionID      string
	ConversationID string
	Messages       []Message

	Extra map[string]json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (b OutletBody) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if b.ID != "" {
		known["id"] = b.ID
	}
	if b.SessionID != "" {
		known["session_id"] = b.SessionID
	}
	if b.ConversationID != "" {
		known["chat_id"] = b.ConversationID
	}
	if b.Messages != nil {
		known["messages"] = b.Messages
	}
	return joinFields(b.Extra, known)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *OutletBody) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return err
	}
	var out OutletBody
	if err := takeField(fields, "id", &out.ID); err != nil {
		return err
	}
	if err := takeField(fields, "session_id", &out.SessionID); err != nil {
		return err
	}
	if err := takeField(fields, "chat_id", &out.ConversationID); err != nil {
		return err
	}
	if err := takeField(fields, "messages", &out.Messages); err != nil {
		return err
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*b = out
	return nil
}

// UserValves are the per-actor settings of the time-awareness filter.
type UserValves struct {
	// Enabled defaults to true when unset.
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Actor is the authenticated user an exchange belongs to.
type Actor struct {
	ID     string      `json:"id"`
	Name   string      `json:"name,omitempty"`
	Role   string      `json:"role,omitempty"`
	Valves *UserValves `json:"valves,omitempty"`
}

// AnnotationEnabled reports whether annotation is enabled for the actor.
// A nil actor or unset flag counts as enabled.
func (a *Actor) AnnotationEnabled() bool {
	if a == nil || a.Valves == nil || a.Valves.Enabled == nil {
		return true
	}
	return *a.Valves.Enabled
}

// TimezoneOverride returns the actor's timezone valve, trimmed.
func (a *Actor) TimezoneOverride() string {
	if a == nil || a.Valves == nil {
		return ""
	}
	return strings.TrimSpace(a.Valves.Timezone)
}

// Correlation is the context captured by an inbound pass for later reuse
// by the outbound pass of the same exchange.
type Correlation struct {
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusEvent is a fire-and-forget status notification for the client.
type StatusEvent struct {
	Type string     `json:"type"`
	Data StatusData `json:"data"`
}

// StatusData is the payload of a status event.
type StatusData struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// NewStatusEvent builds a status event with the given description.
func NewStatusEvent(description string, done bool) StatusEvent {
	return StatusEvent{
		Type: "status",
		Data: StatusData{Description: description, Done: done},
	}
}
