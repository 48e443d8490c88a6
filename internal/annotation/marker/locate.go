package marker

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Fragment is a container found in a message. Offsets are byte offsets
// into the scanned text.
type Fragment struct {
	// Start is the offset of the container's opening tag.
	Start int
	// End is the offset just past the container's matching closing tag,
	// or the end of the text when the container is never closed.
	End int
	// Token is the uuid of the last end marker inside the container.
	Token string
	// Entries are the context entries in document order.
	Entries []Entry

	markerStart int
	closed      bool
}

// Closed reports whether the scanner saw the container's closing tag.
func (f *Fragment) Closed() bool {
	return f.closed
}

// Entry is one context entry inside a container.
type Entry struct {
	ID    string
	Value string

	start, end int
}

// Locate scans text for annotation containers. It returns nil when there
// is none and ErrMalformedFragment when there is more than one. Markup
// inside comments is not considered.
func (c *Codec) Locate(text string) (*Fragment, error) {
	s := scanner{sel: c.selector, text: text, z: html.NewTokenizer(strings.NewReader(text))}
	return s.run()
}

type scanner struct {
	sel  Selector
	text string
	z    *html.Tokenizer

	offset int
	found  int

	frag       *Fragment
	depth      int // nesting of selector.Tag while inside the container
	entryDepth int // nesting of entry tags while inside an entry
	entry      *Entry
	valueStart int
}

func (s *scanner) run() (*Fragment, error) {
	for {
		tt := s.z.Next()
		if tt == html.ErrorToken {
			break
		}
		start := s.offset
		s.offset += len(s.z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
		default:
			continue
		}
		tok := s.z.Token()

		if tt != html.EndTagToken && s.sel.matches(tok) {
			s.found++
			if s.found > 1 {
				return nil, fmt.Errorf("%w (second container at byte %d)", ErrMalformedFragment, start)
			}
			s.frag = &Fragment{Start: start, End: -1, markerStart: -1}
			if tt == html.SelfClosingTagToken {
				s.frag.End = s.offset
				s.frag.closed = true
				continue
			}
			s.depth = 1
			continue
		}

		if s.depth > 0 {
			s.inside(tt, tok, start)
		}
	}

	if s.frag != nil && !s.frag.closed {
		s.frag.End = s.offset
	}
	return s.frag, nil
}

// inside handles a tag token seen within the open container.
func (s *scanner) inside(tt html.TokenType, tok html.Token, start int) {
	switch tok.Data {
	case s.sel.Tag:
		switch tt {
		case html.StartTagToken:
			s.depth++
		case html.EndTagToken:
			s.depth--
			if s.depth == 0 {
				s.frag.End = s.offset
				s.frag.closed = true
			}
		}

	case entryTag:
		switch tt {
		case html.StartTagToken:
			if s.entryDepth == 0 {
				s.entry = &Entry{ID: attr(tok, "id"), start: start}
				s.valueStart = s.offset
			}
			s.entryDepth++
		case html.SelfClosingTagToken:
			if s.entryDepth == 0 {
				s.frag.Entries = append(s.frag.Entries, Entry{ID: attr(tok, "id"), start: start, end: s.offset})
			}
		case html.EndTagToken:
			if s.entryDepth == 0 {
				return
			}
			s.entryDepth--
			if s.entryDepth == 0 && s.entry != nil {
				s.entry.end = s.offset
				s.entry.Value = s.text[s.valueStart:start]
				s.frag.Entries = append(s.frag.Entries, *s.entry)
				s.entry = nil
			}
		}

	case endMarkerTag:
		if tt == html.EndTagToken || s.entryDepth > 0 {
			return
		}
		s.frag.Token = attr(tok, "uuid")
		s.frag.markerStart = start
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
