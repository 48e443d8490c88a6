// Package marker embeds, finds, updates and strips the annotation container
// that carries filter context inside a free-form chat message.
//
// A container looks like this:
//
//	<details type="filters_context">
//	<summary>Filters context</summary>
//	<!--instructions for the model-->
//	<context id="time_awareness"><time ...>...</time></context>
//	<context_end uuid="3f0c..."/></details>
//	original user text
//
// The container is always followed by exactly one newline and then the
// user's text, byte for byte. The uuid on context_end anchors suffix
// recovery: the user text starts right after the first closing tag that
// follows the uuid in the literal message.
package marker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// ContentPlaceholder marks where entries go in a container template.
const ContentPlaceholder = "{content}"

// Instruction is the comment telling the model where the context came from.
const Instruction = "This context was added by the system to this message, not by the user. " +
	"**Important:** Never say timezone out loud, it is unnecessary information for the user. " +
	"Never say seconds, unless needed. You do not need to tell the time unless asked. " +
	"If the time is asked, tell only time. If the date is asked or related to the question, " +
	"consider the whole date and time. Times always in 24h format. Message sent on: "

// DefaultTemplate is the container every message gets.
const DefaultTemplate = `<details type="filters_context">` + "\n" +
	`<summary>Filters context</summary>` + "\n" +
	`<!--` + Instruction + `-->` + "\n" +
	ContentPlaceholder + `</details>`

const (
	entryTag     = "context"
	endMarkerTag = "context_end"
	separator    = "\n"
)

var closingTagPattern = regexp.MustCompile(`(</[A-Za-z][^<>]*>)\s*$`)

// Selector identifies the container element: a tag carrying one attribute
// with a fixed value.
type Selector struct {
	Tag   string
	Attr  string
	Value string
}

// DefaultSelector matches details[type=filters_context].
var DefaultSelector = Selector{Tag: "details", Attr: "type", Value: "filters_context"}

func (s Selector) matches(tok html.Token) bool {
	if tok.Data != s.Tag {
		return false
	}
	for _, a := range tok.Attr {
		if a.Key == s.Attr && a.Val == s.Value {
			return true
		}
	}
	return false
}

// Codec reads and writes annotation containers. It is stateless apart
// from its configuration and safe for concurrent use.
type Codec struct {
	selector   Selector
	open       string
	closingTag string
	newToken   func() string
}

// Option configures a Codec.
type Option func(*codecOptions)

type codecOptions struct {
	template string
	selector Selector
	newToken func() string
}

// WithTemplate replaces the container template. The template must contain
// ContentPlaceholder and end with the container's closing tag.
func WithTemplate(template string, sel Selector) Option {
	return func(o *codecOptions) {
		o.template = template
		o.selector = sel
	}
}

// WithTokenSource replaces the end marker token generator.
func WithTokenSource(fn func() string) Option {
	return func(o *codecOptions) {
		o.newToken = fn
	}
}

// NewCodec builds a codec, validating the container template.
func NewCodec(opts ...Option) (*Codec, error) {
	o := codecOptions{
		template: DefaultTemplate,
		selector: DefaultSelector,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := closingTagPattern.FindStringSubmatchIndex(o.template)
	if m == nil {
		return nil, ErrMissingClosingTag
	}
	closingTag := o.template[m[2]:m[3]]

	head := o.template[:m[2]]
	if strings.Count(head, ContentPlaceholder) != 1 || !strings.HasSuffix(head, ContentPlaceholder) {
		return nil, fmt.Errorf("container template must end with %s followed by the closing tag", ContentPlaceholder)
	}

	return &Codec{
		selector:   o.selector,
		open:       strings.TrimSuffix(head, ContentPlaceholder),
		closingTag: closingTag,
		newToken:   o.newToken,
	}, nil
}

// ClosingTag returns the literal closing tag of the container.
func (c *Codec) ClosingTag() string {
	return c.closingTag
}

// Encode renders a fresh container holding one entry and an end marker
// with a new random token.
func (c *Codec) Encode(value, id string) string {
	var b strings.Builder
	b.WriteString(c.open)
	b.WriteString(renderEntry(id, value))
	b.WriteString(separator)
	b.WriteString(renderEndMarker(c.newToken()))
	b.WriteString(c.closingTag)
	return b.String()
}

// Upsert writes value under id into the message's container, creating the
// container when the message has none. The user text after the container
// is carried over byte for byte.
func (c *Codec) Upsert(text, value, id string) (string, error) {
	frag, err := c.Locate(text)
	if err != nil {
		return "", err
	}
	if frag == nil {
		return c.Encode(value, id) + separator + text, nil
	}

	suffix, closeEnd, err := c.recover(text, frag)
	if err != nil {
		return "", err
	}
	body := text[frag.Start:closeEnd]

	var match *Entry
	for i := range frag.Entries {
		e := &frag.Entries[i]
		if e.ID != id {
			continue
		}
		if match != nil {
			return "", fmt.Errorf("%w: %q", ErrDuplicateIdentity, id)
		}
		match = e
	}

	entry := renderEntry(id, value)
	switch {
	case match != nil:
		start, end := match.start-frag.Start, match.end-frag.Start
		if end > len(body) {
			return "", fmt.Errorf("%w: entry %q extends past the closing tag", ErrCorruptEndMarker, id)
		}
		body = body[:start] + entry + body[end:]
	default:
		at := frag.markerStart - frag.Start
		body = body[:at] + entry + separator + body[at:]
	}

	return text[:frag.Start] + body + separator + suffix, nil
}

// Strip returns the user text with the container removed. A message
// without a container is returned unchanged.
func (c *Codec) Strip(text string) (string, error) {
	frag, err := c.Locate(text)
	if err != nil {
		return "", err
	}
	if frag == nil {
		return text, nil
	}
	return c.RecoverSuffix(text, frag)
}

// RecoverSuffix returns the literal text that follows the fragment's
// closing tag in the original message, minus the single separator the
// codec inserts.
func (c *Codec) RecoverSuffix(text string, frag *Fragment) (string, error) {
	suffix, _, err := c.recover(text, frag)
	return suffix, err
}

// Entries returns the values of the container's entries keyed by id, or
// nil when the message has no container.
func (c *Codec) Entries(text string) (map[string]string, error) {
	frag, err := c.Locate(text)
	if err != nil || frag == nil {
		return nil, err
	}
	out := make(map[string]string, len(frag.Entries))
	for _, e := range frag.Entries {
		if _, dup := out[e.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateIdentity, e.ID)
		}
		out[e.ID] = e.Value
	}
	return out, nil
}

func (c *Codec) recover(text string, frag *Fragment) (suffix string, closeEnd int, err error) {
	if frag.Token == "" {
		return "", 0, fmt.Errorf("%w: no %s uuid in container", ErrCorruptEndMarker, endMarkerTag)
	}
	at := strings.Index(text[frag.Start:], frag.Token)
	if at < 0 {
		return "", 0, fmt.Errorf("%w: uuid %q not present in message text", ErrCorruptEndMarker, frag.Token)
	}
	at += frag.Start
	closeAt := strings.Index(text[at:], c.closingTag)
	if closeAt < 0 {
		return "", 0, fmt.Errorf("%w: no %s after uuid %q", ErrCorruptEndMarker, c.closingTag, frag.Token)
	}
	closeEnd = at + closeAt + len(c.closingTag)
	return strings.TrimPrefix(text[closeEnd:], separator), closeEnd, nil
}

func renderEntry(id, value string) string {
	return `<` + entryTag + ` id="` + html.EscapeString(id) + `">` + value + `</` + entryTag + `>`
}

func renderEndMarker(token string) string {
	return `<` + endMarkerTag + ` uuid="` + html.EscapeString(token) + `"/>`
}
