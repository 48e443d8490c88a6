package domain

import (
	"encoding/json"
	"strings"
)

// ContentType represents the type of content in a message.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeImageURL ContentType = "image_url"
)

// ContentPart represents a single part of multimodal message content.
// Only text parts are inspected; every other part is carried as the raw
// JSON it arrived with so it can be written back untouched.
type ContentPart struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`

	raw json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	type plain ContentPart
	return json.Marshal(plain(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	type plain ContentPart
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = ContentPart(decoded)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MessageContent can be a simple string or an array of ContentParts.
// Exactly one representation is active: Parts wins when non-empty.
type MessageContent struct {
	Text  string        // Simple text content
	Parts []ContentPart // Rich multimodal content
}

// IsSimpleText returns true if the content is just plain text.
func (mc *MessageContent) IsSimpleText() bool {
	return len(mc.Parts) == 0
}

// String returns the text content. Multimodal content is flattened by
// concatenating the text parts in order with no separator; non-text parts
// contribute nothing.
func (mc *MessageContent) String() string {
	if mc.IsSimpleText() {
		return mc.Text
	}
	var b strings.Builder
	for _, part := range mc.Parts {
		if part.Type == ContentTypeText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.IsSimpleText() {
		return json.Marshal(mc.Text)
	}
	return json.Marshal(mc.Parts)
}

// UnmarshalJSON implements json.Unmarshaler.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	// Try string first
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		mc.Text = str
		mc.Parts = nil
		return nil
	}

	// Try array of content parts
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	mc.Parts = parts
	mc.Text = ""
	return nil
}

// NewTextContent creates a simple text content.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// NewMultipartContent creates multimodal content from parts.
func NewMultipartContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImageURLPart creates an OpenAI style image_url part.
func ImageURLPart(url string) ContentPart {
	raw, _ := json.Marshal(map[string]any{
		"type":      ContentTypeImageURL,
		"image_url": map[string]string{"url": url},
	})
	return ContentPart{Type: ContentTypeImageURL, raw: raw}
}
